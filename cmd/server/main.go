package main

import (
	"context"
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

	"github.com/pongclash/server/internal/config"
	"github.com/pongclash/server/internal/events"
	"github.com/pongclash/server/internal/keyclash"
	"github.com/pongclash/server/internal/pong"
	"github.com/pongclash/server/internal/transport"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg := config.Load()

	pongTuning := pong.DefaultTuning()
	clashTuning := keyclash.DefaultTuning()
	if cfg.TuningFile != "" {
		t, err := config.LoadTuning(cfg.TuningFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.TuningFile).Msg("failed to load tuning file")
		}
		applyTuning(t, &pongTuning, &clashTuning)
		log.Info().Str("file", cfg.TuningFile).Msg("loaded tuning overrides")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Fatal().Err(err).Str("nats_url", cfg.NATSURL).Msg("failed to connect to NATS")
		}
		defer natsPub.Close()
		publisher = natsPub
	}

	log.Info().
		Str("port", cfg.Port).
		Str("nats_url", cfg.NATSURL).
		Msg("starting game server")

	service := transport.NewService(transport.Options{
		Events:      publisher,
		PongTuning:  &pongTuning,
		ClashTuning: &clashTuning,
	})

	// Setup HTTP server
	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      corsHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Live rooms are not persisted; stopping their loops is all the
	// cleanup there is.
	service.Shutdown()

	log.Info().Msg("game server shutdown complete")
}

func applyTuning(t *config.Tuning, pongTun *pong.Tuning, clashTun *keyclash.Tuning) {
	if t.Pong.MaxScore > 0 {
		pongTun.MaxScore = t.Pong.MaxScore
	}
	if t.Pong.MatchSeconds > 0 {
		pongTun.MatchDuration = t.PongMatchDuration()
	}
	if t.Pong.TickRate > 0 {
		pongTun.TickRate = t.Pong.TickRate
	}
	if t.Pong.ServeSpeedX > 0 {
		pongTun.ServeSpeedX = t.Pong.ServeSpeedX
	}
	if t.KeyClash.MatchSeconds > 0 {
		clashTun.MatchSeconds = t.KeyClash.MatchSeconds
	}
}
