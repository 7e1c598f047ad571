// ChatRelay - real-time group-chat relay.
//
// ChatRelay serves a TCP control protocol (TCRP) for creating and joining
// named rooms and issuing per-participant session tokens, and a UDP data
// channel that fans chat messages out to every participant of a room.
// Session state is held in a single in-memory registry swept periodically
// for idle participants and host-less rooms.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatrelay-project/chatrelay/internal/api"
	"github.com/chatrelay-project/chatrelay/internal/cli"
	"github.com/chatrelay-project/chatrelay/internal/config"
	"github.com/chatrelay-project/chatrelay/internal/events"
	"github.com/chatrelay-project/chatrelay/internal/journal"
	"github.com/chatrelay-project/chatrelay/internal/network"
	"github.com/chatrelay-project/chatrelay/internal/reaper"
	"github.com/chatrelay-project/chatrelay/internal/registry"
	"github.com/chatrelay-project/chatrelay/internal/telemetry"
	"github.com/chatrelay-project/chatrelay/internal/util"
)

const (
	AppName    = "ChatRelay"
	AppVersion = "1.0.0"
	Banner     = `
   _____ _           _   _____      _
  / ____| |         | | |  __ \    | |
 | |    | |__   __ _| |_| |__) |___| | __ _ _   _
 | |    | '_ \ / _' | __|  _  // _ \ |/ _' | | | |
 | |____| | | | (_| | |_| | \ \  __/ | (_| | |_| |
  \_____|_| |_|\__,_|\__|_|  \_\___|_|\__,_|\__, |
                                             __/ |
                                            |___/  v%s
 TCRP + UDP group-chat relay
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting ChatRelay")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.ApplicationData.Logging.Level,
		Directory:  cfg.ApplicationData.Logging.Directory,
		MaxSizeMB:  cfg.ApplicationData.Logging.MaxSizeMB,
		MaxBackups: cfg.ApplicationData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core components
	eventBus := events.NewEventBus()
	reg := registry.New()

	tcrpListener := network.NewTCRPListener(cfg, eventBus, reg)
	udpRelay := network.NewUDPRelay(cfg, reg)
	sweeper := reaper.New(cfg, eventBus, reg)

	// Optional lifecycle journal
	var jnl *journal.Journal
	if cfg.ApplicationData.Journal.Enabled {
		jnl, err = journal.Open(cfg.ApplicationData.Journal.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open lifecycle journal, journaling disabled")
		} else {
			jnl.Attach(eventBus)
			defer jnl.Close()
		}
	}

	// Optional MQTT telemetry
	var mqttHandler *telemetry.MQTTHandler
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, reg)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// Optional monitoring API
	var apiServer *api.Server
	if cfg.ApplicationData.API.Enabled {
		apiServer = api.NewServer(cfg, reg, jnl)
	}

	console := cli.NewConsole(cfg, eventBus, reg)

	// ---------------------------------------------------------------
	// Launch the concurrent tasks: TCP accept loop, UDP receive loop,
	// reaper, plus the optional operator surfaces.
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting TCRP listener")
		if err := startWithRetry(ctx, "TCRP listener", tcrpListener.Start, 15); err != nil {
			log.Error().Err(err).Msg("TCRP listener failed after retries")
			errCh <- fmt.Errorf("tcrp listener: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting UDP relay")
		if err := startWithRetry(ctx, "UDP relay", udpRelay.Start, 15); err != nil {
			log.Error().Err(err).Msg("UDP relay failed after retries")
			errCh <- fmt.Errorf("udp relay: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.ApplicationData.API.Port).Msg("starting monitoring API")
			if err := startWithRetry(ctx, "monitoring API", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("monitoring API failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Start(ctx)
	}()

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(ctx context.Context, event events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("ChatRelay stopped")
}

// startWithRetry attempts to start a listener with retry on bind errors.
// A fixed 3-second interval gives the OS time to release ports after a
// previous process was killed.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().
				Err(lastErr).
				Str("component", name).
				Int("retry", i+1).
				Int("max", maxRetries).
				Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
