package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stagetimer-server/internal/config"
	"stagetimer-server/internal/engine"
	"stagetimer-server/internal/events"
	"stagetimer-server/internal/hub"
	"stagetimer-server/internal/registry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink events.Sink = events.NopSink{}
	if cfg.NATSURL != "" {
		natsSink, err := events.NewNATSSink(cfg.NATSURL, cfg.EventSubjectPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event sink")
		}
		sink = natsSink
	}
	defer sink.Close()

	reg := registry.New()
	index := registry.NewControllerIndex()

	connections := hub.New(hub.DefaultConfig(), nil)
	eng := engine.New(reg, index, connections, sink, clockwork.NewRealClock())
	connections.SetReceiver(eng)

	go eng.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", connections.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "ok",
			"timers":           reg.Len(),
			"connectedDevices": connections.Count(),
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(mux),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("stagetimer server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
