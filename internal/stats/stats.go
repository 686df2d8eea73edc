package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// Metric names registered by the server.
const (
	ActiveConnections     = "ActiveConnections"
	MessagesSent          = "MessagesSent"
	NotificationsSent     = "NotificationsSent"
	RateLimitRejections   = "RateLimitRejections"
	AuthFailures          = "AuthFailures"
	InactivityDisconnects = "InactivityDisconnects"
)

type Provider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type Updater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	done       chan struct{}
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *Updater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewUpdater creates a new stats updater instance.
func NewUpdater(mux *http.ServeMux) *Updater {
	su := &Updater{
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = expvar.NewMap("chatcore-stats")
	su.initializeMetrics()

	return su
}

func (su *Updater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *Updater) updateMetrics() {
	for {
		select {
		case req := <-su.updateChan:
			metric := su.vars.Get(req.name)
			if metric == nil {
				continue
			}

			metric.(*expvar.Int).Add(int64(req.value))
		case <-su.done:
			return
		}
	}
}

// Incr and Decr drop updates once Stop has been called. Client goroutines may
// still be draining during shutdown.
func (su *Updater) Incr(name string) {
	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: 1}:
	case <-su.done:
	}
}

func (su *Updater) Decr(name string) {
	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: -1}:
	case <-su.done:
	}
}

func (su *Updater) RegisterMetric(name string) {
	su.vars.Set(name, expvar.NewInt(name))
}

// Get returns the current value of a registered counter.
func (su *Updater) Get(name string) int64 {
	metric := su.vars.Get(name)
	if counter, ok := metric.(*expvar.Int); ok {
		return counter.Value()
	}
	return 0
}

func (su *Updater) Run() {
	go su.updateMetrics()
}

func (su *Updater) Stop() {
	close(su.done)
}
