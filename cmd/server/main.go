package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Rendezvous/internal/adapters/http"
	sigadapter "github.com/dkeye/Rendezvous/internal/adapters/signal"
	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/app/orch"
	"github.com/dkeye/Rendezvous/internal/app/turn"
	"github.com/dkeye/Rendezvous/internal/config"
	"github.com/dkeye/Rendezvous/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("CONFIG_ENV") == "" || os.Getenv("CONFIG_ENV") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	issuer, err := turn.NewIssuer(turn.Config{
		Secret:   cfg.TurnSecret,
		TTL:      cfg.TurnTTL,
		TURNURLs: cfg.TurnURLs,
		STUNURLs: cfg.STUNURLs,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init credential issuer")
	}

	var pinned []domain.RoomID
	if cfg.Global() {
		pinned = append(pinned, domain.GlobalRoom)
	}
	reg := app.NewRegistry(pinned...)
	hub := sigadapter.NewHub(sigadapter.PolicyByName(cfg.SlowConsumer))

	o := &orch.Orchestrator{
		Registry:    reg,
		Credentials: issuer,
		Transport:   hub,
		Global:      cfg.Global(),
	}
	ctl := sigadapter.NewSignalWSController(o, hub, sigadapter.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		RateWindow:     cfg.RateWindow,
	})

	r := router.SetupRouter(ctx, cfg, ctl, issuer)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router.WithCORS(r, cfg.AllowedOrigins),
	}

	go func() {
		log.Info().Str("addr", addr).Str("room_mode", cfg.RoomMode).Msg("Rendezvous signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Int("open", hub.Count()).Msg("connections left open")
	}
	log.Info().Msg("Server exited gracefully")
}
