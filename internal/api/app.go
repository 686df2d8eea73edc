package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"chatcore/internal/auth"
	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/ratelimit"
	"chatcore/internal/server"
)

// Stats is the slice of the stats updater the API needs: counters for auth
// failures and reads for the summary endpoint.
type Stats interface {
	Incr(name string)
	Get(name string) int64
}

type App struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	validator      auth.Validator
	limiter        ratelimit.Limiter
	stats          Stats
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository,
	validator auth.Validator, limiter ratelimit.Limiter, st Stats, cfg *config.Config) *App {
	a := &App{
		log:            logger,
		db:             db,
		cs:             cs,
		validator:      validator,
		limiter:        limiter,
		stats:          st,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.Handle("GET /ws/chat", a.authMiddleware(a.serveWs(server.NamespaceChat)))
	mux.Handle("GET /ws/notifications", a.authMiddleware(a.serveWs(server.NamespaceNotifications)))
	mux.HandleFunc("GET /api/stats", a.statsSummary)
	mux.HandleFunc("GET /api/health", a.health)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	a.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return a
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s\n", a.mux.Addr)
	return a.mux.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down server...")
	if err := a.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	a.log.Println("server shutdown complete")
	return nil
}

func (a *App) writeJson(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Println("failed to encode response:", err)
	}
}
