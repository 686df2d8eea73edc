// Package ratelimit tracks a windowed request count per (subject, module)
// pair with graduated warnings and time-bounded hard blocks.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Rate-limited modules. Each module has an independent budget and window.
const (
	ModuleChat          = "chat"
	ModuleNotifications = "notifications"
	ModuleAuth          = "auth"
)

type ModuleConfig struct {
	Budget int
	Window time.Duration
	// Soft modules report overage but never block: notification delivery
	// can carry security-relevant alerts and must always go through.
	Soft bool
	// WarnFraction of the budget at which a warning is attached.
	WarnFraction float64
	// WarnInterval suppresses repeat warnings for the same subject.
	WarnInterval time.Duration
}

func DefaultModules() map[string]ModuleConfig {
	return map[string]ModuleConfig{
		ModuleChat: {
			Budget:       10,
			Window:       time.Hour,
			WarnFraction: 0.8,
			WarnInterval: 5 * time.Minute,
		},
		ModuleNotifications: {
			Budget:       30,
			Window:       time.Minute,
			Soft:         true,
			WarnFraction: 0.8,
			WarnInterval: time.Minute,
		},
		ModuleAuth: {
			Budget:       20,
			Window:       time.Minute,
			WarnFraction: 0.8,
			WarnInterval: time.Minute,
		},
	}
}

type Warning struct {
	Module    string    `json:"module"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
	// Warning is non-nil at most once per warn interval.
	Warning *Warning
	// BlockedUntil is set on hard-module rejections and stays identical
	// for every check inside the block.
	BlockedUntil *time.Time
	// SoftExceeded reports overage on soft modules so callers can log it.
	SoftExceeded bool
}

// RetryAfter is the number of seconds until the block expires, at least 1
// while blocked.
func (r Result) RetryAfter(now time.Time) int {
	if r.BlockedUntil == nil {
		return 0
	}
	secs := int(r.BlockedUntil.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

type Limiter interface {
	Check(subjectKey, module string) Result
}

type entry struct {
	windowStart time.Time
	count       int
	lastWarned  time.Time
}

// MemoryLimiter is the single-process implementation: a mutex-guarded map
// of fixed windows. Counters are not shared across processes.
type MemoryLimiter struct {
	mu      sync.Mutex
	modules map[string]ModuleConfig
	entries map[string]*entry

	now func() time.Time
}

func NewMemoryLimiter(modules map[string]ModuleConfig) *MemoryLimiter {
	if modules == nil {
		modules = DefaultModules()
	}
	return &MemoryLimiter{
		modules: modules,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Check(subjectKey, module string) Result {
	cfg, ok := l.modules[module]
	if !ok || cfg.Budget <= 0 {
		// unknown module: unlimited
		return Result{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := subjectKey + "\x00" + module

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= cfg.Window {
		e = &entry{windowStart: now}
		l.entries[key] = e
	}

	e.count++
	return evaluate(module, cfg, e.count, e.windowStart, func() bool {
		if now.Sub(e.lastWarned) < cfg.WarnInterval {
			return false
		}
		e.lastWarned = now
		return true
	})
}

// evaluate turns a window count into a Result. shouldWarn is consulted only
// when the warning threshold is crossed; it owns the dedup state.
func evaluate(module string, cfg ModuleConfig, count int, windowStart time.Time, shouldWarn func() bool) Result {
	resetTime := windowStart.Add(cfg.Window)
	remaining := cfg.Budget - count
	if remaining < 0 {
		remaining = 0
	}

	res := Result{
		Allowed:   true,
		Remaining: remaining,
		ResetTime: resetTime,
	}

	if count > cfg.Budget {
		if cfg.Soft {
			res.SoftExceeded = true
			return res
		}

		blocked := resetTime
		res.Allowed = false
		res.BlockedUntil = &blocked
		return res
	}

	if cfg.WarnFraction > 0 && float64(count) >= cfg.WarnFraction*float64(cfg.Budget) && shouldWarn() {
		res.Warning = &Warning{
			Module:    module,
			Remaining: remaining,
			ResetTime: resetTime,
		}
	}

	return res
}

// Cleanup drops entries whose window expired long ago. Call periodically.
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, e := range l.entries {
		window := time.Hour
		if _, module, ok := strings.Cut(key, "\x00"); ok {
			if cfg, ok := l.modules[module]; ok {
				window = cfg.Window
			}
		}

		if now.Sub(e.windowStart) > 2*window {
			delete(l.entries, key)
		}
	}
}
