package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/roomsync/internal/adapters/http"
	"github.com/dkeye/roomsync/internal/adapters/livekit"
	"github.com/dkeye/roomsync/internal/adapters/media"
	"github.com/dkeye/roomsync/internal/adapters/memsdk"
	"github.com/dkeye/roomsync/internal/adapters/signal"
	"github.com/dkeye/roomsync/internal/app/conference"
	"github.com/dkeye/roomsync/internal/config"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/events"
	"github.com/dkeye/roomsync/internal/util"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	connector, tokens := sdkDriver(cfg)

	bus := events.NewBus(log.Logger)
	hooks := &util.Hooks{}
	sinks := &media.SinkFactory{Dir: cfg.Media.RecordDir}
	conf := conference.New(conference.Deps{
		Connector: connector,
		Device:    media.NewDevice(media.DeviceOptions{VideoFPS: cfg.Media.VideoFPS}),
		Sinks:     sinks,
		Bus:       bus,
		Hooks:     hooks,
		Logger:    log.Logger,
	}, conference.Options{AcquireTimeout: cfg.Media.AcquireTimeout})

	bridge := signal.NewBridge(conf, sinks, tokens, signal.Options{
		SendBuffer:        cfg.Signal.SendBuffer,
		ReadLimit:         cfg.ReadLimit,
		PingPeriod:        cfg.PingPeriod,
		ConnectRateLimit:  cfg.Signal.ConnectRateLimit,
		ConnectRateWindow: cfg.Signal.ConnectRateWindow,
		Identity:          cfg.LiveKit.Identity,
	})

	r := router.SetupRouter(ctx, cfg, bridge, conf)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	serverDone := util.NewUnblockSignal()
	go func() {
		log.Info().Str("addr", addr).Str("driver", cfg.SDK.Driver).Msg("roomsync server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone.TriggerWithError(err)
			return
		}
		serverDone.Trigger()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case <-serverDone.Done():
		log.Error().Err(serverDone.Err()).Msg("server error")
	}

	// Leave the room before the UI goes away so peers see a clean disconnect.
	hooks.Fire()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	bridge.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	conf.Close()
	bus.Close()
	log.Info().Msg("server exited gracefully")
}

// sdkDriver picks the conferencing backend named by sdk.driver.
func sdkDriver(cfg *config.Config) (core.Connector, signal.TokenSource) {
	if cfg.SDK.Driver == config.DriverLiveKit {
		lk := livekit.NewConnector(livekit.Options{
			URL:       cfg.LiveKit.URL,
			APIKey:    cfg.LiveKit.APIKey,
			APISecret: cfg.LiveKit.APISecret,
		}, log.Logger)
		if cfg.LiveKit.APIKey == "" || cfg.LiveKit.APISecret == "" {
			log.Warn().Msg("livekit credentials missing, clients must bring their own tokens")
			return lk, nil
		}
		return lk, livekit.NewTokenGenerator(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL)
	}
	log.Info().Msg("using in-memory rooms with an echo participant")
	return memsdk.NewConnector(memsdk.WithEcho()), memsdk.TokenSource{}
}
