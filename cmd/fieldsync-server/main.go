// Command fieldsync-server is the backend the sync clients replicate with:
// table REST writes, paged pulls, a change feed and password sign-in.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/erauner12/fieldsync/internal/auth"
	"github.com/erauner12/fieldsync/internal/db"
	"github.com/erauner12/fieldsync/internal/feedbus"
	"github.com/erauner12/fieldsync/internal/httpapi"
	"github.com/erauner12/fieldsync/internal/logging"
	"github.com/erauner12/fieldsync/internal/schema"
	"github.com/erauner12/fieldsync/internal/service/tablesvc"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	n, err := strconv.Atoi(env(k, ""))
	if err != nil {
		return def
	}
	return n
}

// parseUsers reads "email:password,email:password"
func parseUsers(s string) map[string]string {
	users := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		email, password, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && email != "" {
			users[email] = password
		}
	}
	return users
}

func main() {
	// A .env file is optional; real environment variables win
	envErr := godotenv.Load()

	closer := logging.Setup(logging.Options{
		Service: "fieldsync-server",
		Level:   env("LOG_LEVEL", "info"),
		Pretty:  env("ENV", "dev") == "dev",
		File:    env("LOG_FILE", ""),
	})
	defer closer.Close()

	if envErr == nil {
		log.Info().Msg("loaded .env")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgURL := env("DATABASE_URL", "")
	if pgURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, pgURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	sch := schema.Default()
	if err := db.Migrate(ctx, pool, sch.SyncedNames()); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	secret := env("JWT_HS256_SECRET", "dev-secret-change-in-production")
	devMode := env("ENV", "dev") == "dev" && env("ALLOW_DEBUG_SUB", "") == "true"

	users := parseUsers(env("AUTH_USERS", ""))
	if len(users) == 0 {
		log.Warn().Msg("AUTH_USERS is empty, password sign-in will reject everyone")
	}
	ttl, err := time.ParseDuration(env("ACCESS_TOKEN_TTL", "1h"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid ACCESS_TOKEN_TTL")
	}

	hub := httpapi.NewHub()
	srv := &httpapi.Server{
		Tables:     tablesvc.New(pool),
		TableNames: sch.SyncedNames(),
		Issuer:     auth.NewIssuer(secret, ttl, auth.StaticUsers(users)),
		Hub:        hub,
		RateLimitConfig: httpapi.RateLimitInfo{
			WindowSeconds: envInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxRequests:   envInt("RATE_LIMIT_MAX_REQUESTS", 600),
			Burst:         envInt("RATE_LIMIT_BURST", 120),
		},
	}

	// With several instances behind a load balancer, change events travel
	// through Redis so every instance's feed clients see every write
	if redisURL := env("REDIS_URL", ""); redisURL != "" {
		rdb, err := feedbus.Connect(ctx, redisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()

		relay := feedbus.New(rdb, env("REDIS_CHANNEL", feedbus.DefaultChannel), hub)
		srv.Publisher = relay
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error().Err(err).Msg("change event relay stopped")
			}
		}()
	}

	httpAddr := env("HTTP_ADDR", ":8081")
	httpServer := &http.Server{
		Addr:        httpAddr,
		Handler:     srv.Routes(auth.JWTCfg{HS256Secret: secret, DevMode: devMode}),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: change feed connections are long-lived
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	// Stop the relay before draining so no events arrive for closed feeds
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
