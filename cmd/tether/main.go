package main

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/api/ws"
	"github.com/gosuda/tether/internal/bridge"
	"github.com/gosuda/tether/internal/config"
	"github.com/gosuda/tether/internal/domain"
	tetherslack "github.com/gosuda/tether/internal/messenger/slack"
	"github.com/gosuda/tether/internal/server"
	"github.com/gosuda/tether/internal/store/memory"
	"github.com/gosuda/tether/internal/store/postgres"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		store   domain.Store
		healthy []server.Option
	)
	if cfg.Database.Enabled() {
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}

		pg, pgErr := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if pgErr != nil {
			return pgErr
		}
		defer pg.Close()

		store = pg
		healthy = append(healthy, server.WithHealthCheck("database", pg))
		log.Info().Str("host", cfg.Database.Host).Msg("using postgres store")
	} else {
		store = memory.New()
		log.Info().Msg("using in-memory store")
	}

	var broker ws.Broker
	if cfg.Redis.Enabled() {
		pubsub, redisErr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if redisErr != nil {
			return redisErr
		}
		defer pubsub.Close()

		broker = pubsub
		healthy = append(healthy, server.WithHealthCheck("redis", pubsub))
	} else {
		broker = ws.NewLocalBroker()
	}

	hub := ws.NewHub(broker,
		ws.WithSnapshotTTL(cfg.Redis.SnapshotTTL),
		ws.WithOriginPatterns(originHosts(cfg.Server.CORSOrigins)...),
	)

	runner, closeRunner, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	slackMessenger := tetherslack.NewSlackMessenger(slacklib.New(cfg.Slack.BotToken))

	b := bridge.New(ctx, bridge.Config{
		ProjectsDir:       cfg.Agent.ProjectsDir,
		DefaultWorkingDir: cfg.Agent.DefaultWorkingDir,
		Model:             cfg.Agent.Model,
		Mode:              cfg.Agent.Mode,
		ThinkingLimit:     cfg.Agent.ThinkingLimit,
		GeneratingLimit:   cfg.Agent.GeneratingLimit,
		Window:            cfg.Agent.Window,
		UpdateInterval:    cfg.Agent.UpdateInterval,
		SyncTurnDelay:     cfg.Agent.SyncTurnDelay,
		PendingReaction:   cfg.Slack.PendingReaction,
		UploadTruncated:   cfg.Slack.UploadTruncated,
	}, slackMessenger, runner, store, bridge.WithPublisher(hub))

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, store, b, hub, healthy...)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("runtime", cfg.Agent.Runtime).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	// Running queries see ctx cancelled and interrupt their agents.
	b.Wait()

	log.Info().Msg("stopped")
	return nil
}

func setupLogging(cfg config.LogConfig) {
	level, parseErr := zerolog.ParseLevel(cfg.Level)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// originHosts turns CORS origins into the host patterns the WebSocket
// handshake matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}

// newRunner builds the agent runner for the configured runtime. The returned
// func releases runtime resources.
func newRunner(cfg *config.Config) (agent.Runner, func(), error) {
	closer := func() {}

	registry := agent.NewRegistry()
	registry.Register("local", func() (agent.Runner, error) {
		return agent.NewExecRunner(cfg.Agent.Binary), nil
	})
	registry.Register("docker", func() (agent.Runner, error) {
		rt, err := agent.NewDockerRuntime(
			cfg.Docker.Host,
			cfg.Docker.Image,
			cfg.Docker.NetworkMode,
			cfg.Docker.CPULimit,
			cfg.Docker.MemLimit,
		)
		if err != nil {
			return nil, fmt.Errorf("docker runtime: %w", err)
		}
		closer = func() { _ = rt.Close() }
		return agent.NewDockerRunner(rt, cfg.Agent.Binary, cfg.Agent.ClaudeHome), nil
	})

	runner, err := registry.Create(cfg.Agent.Runtime)
	if err != nil {
		return nil, nil, err
	}
	return runner, closer, nil
}
