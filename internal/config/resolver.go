package config

import (
	"os"
	"sync"
	"time"
)

const (
	backplaneAddrEnv     = "CHATCORE_BACKPLANE_ADDR"
	backplanePasswordEnv = "CHATCORE_BACKPLANE_PASSWORD"

	// resolverTTL bounds how long a resolved backplane endpoint is reused
	// before the sources are consulted again.
	resolverTTL = 60 * time.Second
)

// BackplaneConfig is the resolved endpoint of the optional pub/sub backplane.
// An empty Addr means the backplane is disabled.
type BackplaneConfig struct {
	Addr     string
	Password string
}

// Resolver resolves the backplane endpoint with precedence
// admin override > environment > built-in default, caching the result so
// per-connection callers do not re-resolve on every handshake.
type Resolver struct {
	override string

	mu        sync.Mutex
	cached    BackplaneConfig
	fetchedAt time.Time

	// overridable in tests
	now    func() time.Time
	getenv func(string) string
}

func NewResolver(adminOverride string) *Resolver {
	return &Resolver{
		override: adminOverride,
		now:      time.Now,
		getenv:   os.Getenv,
	}
}

func (r *Resolver) Backplane() BackplaneConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.fetchedAt.IsZero() && r.now().Sub(r.fetchedAt) < resolverTTL {
		return r.cached
	}

	cfg := BackplaneConfig{
		Password: r.getenv(backplanePasswordEnv),
	}

	switch {
	case r.override != "":
		cfg.Addr = r.override
	case r.getenv(backplaneAddrEnv) != "":
		cfg.Addr = r.getenv(backplaneAddrEnv)
	default:
		// default is no backplane: single-process mode
		cfg.Addr = ""
	}

	r.cached = cfg
	r.fetchedAt = r.now()
	return cfg
}
