// Command lockstep-dashboard runs the operator console: session listing,
// remote commands, side challenges, bonus time, and the live websocket feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/operator"
	"github.com/lockstep-games/lockstep/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("DASHBOARD_PORT", "8081")
	storeURL := getEnv("STORE_URL", "http://localhost:8080")
	natsURL := getEnv("NATS_URL", "")
	eventSubject := getEnv("EVENT_SUBJECT", "lockstep.sessions")
	databaseURL := getEnv("DATABASE_URL", "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := operator.NewHub()
	go hub.Run(ctx.Done())

	// The live feed prefers the message bus; without one it falls back to
	// the store database's notify channel. With neither, the dashboard
	// still works but the feed stays silent.
	switch {
	case natsURL != "":
		feed, err := operator.NewNATSFeed(natsURL, eventSubject, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create NATS feed")
		}
		defer feed.Close()
		go func() {
			if err := feed.Run(ctx); err != nil {
				log.Error().Err(err).Msg("NATS feed failed")
			}
		}()
	case databaseURL != "":
		feed, err := operator.NewPGFeed(databaseURL, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pg feed")
		}
		go func() {
			if err := feed.Run(ctx); err != nil {
				log.Error().Err(err).Msg("pg feed failed")
			}
		}()
	default:
		log.Warn().Msg("no NATS_URL or DATABASE_URL configured, live feed disabled")
	}

	client := store.NewHTTPClient(storeURL)
	service := operator.NewService(client, hub)

	mux := http.NewServeMux()
	service.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     c.Handler(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", storeURL).Msg("operator dashboard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
