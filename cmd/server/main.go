package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"chatcore/internal/api"
	"chatcore/internal/auth"
	"chatcore/internal/backplane"
	"chatcore/internal/config"
	"chatcore/internal/database"
	"chatcore/internal/ratelimit"
	"chatcore/internal/server"
	"chatcore/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	authMode       string
	backplaneAddr  string
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", "", "base64 encoded signing key")
	flag.StringVar(&authMode, "auth-mode", config.AuthModeJWT, "token validation strategy (jwt or session)")
	flag.StringVar(&backplaneAddr, "backplane-addr", "", "redis address for the multi-process backplane")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatcore] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, authMode, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	var validator auth.Validator
	switch cfg.AuthMode {
	case config.AuthModeSession:
		validator = auth.NewSessionValidator(dbConn)
	default:
		validator = auth.NewJWTValidator(cfg.SigningKey)
	}

	// The backplane and the shared limiter ride the same redis. Without it
	// the process runs standalone on in-memory state.
	bpCfg := config.NewResolver(backplaneAddr).Backplane()

	var bp backplane.Backplane = backplane.Noop{}
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(nil)

	if bpCfg.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: bpCfg.Addr, Password: bpCfg.Password})
		rbp, err := backplane.NewRedisBackplane(rdb, logger)
		if err != nil {
			logger.Printf("backplane unavailable, running standalone: %s", err)
		} else {
			bp = rbp
			limiter = ratelimit.NewRedisLimiter(rdb, nil, logger)
		}
	}
	defer bp.Close()

	mux := http.NewServeMux()

	statsUpdater := stats.NewUpdater(mux)
	for _, name := range []string{
		stats.ActiveConnections,
		stats.MessagesSent,
		stats.NotificationsSent,
		stats.RateLimitRejections,
		stats.AuthFailures,
		stats.InactivityDisconnects,
	} {
		statsUpdater.RegisterMetric(name)
	}

	chatServer, err := server.NewChatServer(logger, dbConn, limiter, bp, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	app := api.NewApp(mux, logger, chatServer, dbConn, validator, limiter, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	chatServer.Shutdown()

	logger.Println("shutdown complete")
}
