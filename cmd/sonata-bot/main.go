// Command sonata-bot is a Discord music bot built on the sonata node pool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/sonata/internal/bot"
	"github.com/MrWong99/sonata/internal/config"
	"github.com/MrWong99/sonata/internal/observe"
	"github.com/MrWong99/sonata/internal/resilience"
	"github.com/MrWong99/sonata/pkg/provider"
	"github.com/MrWong99/sonata/pkg/provider/applemusic"
	"github.com/MrWong99/sonata/pkg/provider/spotify"
	"github.com/MrWong99/sonata/pkg/sonata"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Secrets may come from a local .env file instead of the config.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sonata-bot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sonata-bot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("sonata-bot starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"nodes", len(cfg.Nodes),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "sonata-bot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Discord session ───────────────────────────────────────────────────────
	b, err := bot.New(ctx, bot.Config{
		Token:  cfg.Bot.Token,
		Prefix: cfg.Bot.Prefix,
		Status: cfg.Bot.Status,
	})
	if err != nil {
		slog.Error("failed to connect to Discord", "err", err)
		return 1
	}

	// ── Node pool ─────────────────────────────────────────────────────────────
	pool := sonata.New(sonata.Config{
		UserID:        b.UserID(),
		ClientName:    "sonata-bot/" + version,
		Fallback:      cfg.Pool.Fallback,
		DefaultSearch: sonata.SearchType(cfg.Pool.DefaultSearch),
		Providers:     buildProviders(cfg),
	})
	pool.OnEvent(logEvents)

	connected := 0
	for _, nc := range cfg.Nodes {
		_, err := pool.CreateNode(ctx, sonata.NodeConfig{
			Identifier: nc.Identifier,
			Host:       nc.Host,
			Port:       nc.Port,
			Password:   nc.Password,
			Secure:     nc.Secure,
		})
		if err != nil {
			slog.Warn("node connection failed", "node", nc.Identifier, "err", err)
			continue
		}
		connected++
	}
	if connected == 0 {
		slog.Error("no nodes could be reached")
		_ = b.Close()
		return 1
	}
	b.AttachPool(pool)

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(ctx, pool, logLevel, config.Diff(old, new), new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Operational HTTP server ───────────────────────────────────────────────
	var httpSrv *bot.Server
	if cfg.Server.MetricsAddr != "" {
		httpSrv = bot.NewServer(cfg.Server.MetricsAddr, pool)
		httpSrv.Start()
	}

	slog.Info("bot ready — press Ctrl+C to shut down")

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := pool.DisconnectAll(shutdownCtx); err != nil {
		slog.Warn("pool disconnect error", "err", err)
	}
	if err := b.Close(); err != nil {
		slog.Warn("discord close error", "err", err)
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads the config file and fills secrets from the environment
// when the file leaves them empty.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Bot.Token == "" {
		cfg.Bot.Token = os.Getenv("DISCORD_TOKEN")
	}
	if cfg.Providers.Spotify.ClientID == "" {
		cfg.Providers.Spotify.ClientID = os.Getenv("SPOTIFY_CLIENT_ID")
		cfg.Providers.Spotify.ClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	}
	if cfg.Providers.AppleMusic.MediaToken == "" {
		cfg.Providers.AppleMusic.MediaToken = os.Getenv("APPLE_MUSIC_MEDIA_TOKEN")
	}
	return cfg, nil
}

// buildProviders instantiates the metadata catalogs that have credentials.
// Each catalog is wrapped in a circuit breaker so a failing service degrades
// to plain node search instead of breaking every lookup.
func buildProviders(cfg *config.Config) []provider.Provider {
	var providers []provider.Provider
	if cfg.Providers.Spotify.Enabled() {
		sp := spotify.New(cfg.Providers.Spotify.ClientID, cfg.Providers.Spotify.ClientSecret)
		providers = append(providers, resilience.Guard(sp, resilience.CircuitBreakerConfig{}))
		slog.Info("provider enabled", "name", "spotify")
	}
	if cfg.Providers.AppleMusic.Enabled() {
		am := applemusic.New(cfg.Providers.AppleMusic.MediaToken)
		providers = append(providers, resilience.Guard(am, resilience.CircuitBreakerConfig{}))
		slog.Info("provider enabled", "name", "apple_music")
	}
	return providers
}

// applyConfigChange hot-applies the reloadable parts of a config change.
func applyConfigChange(ctx context.Context, pool *sonata.Pool, logLevel *slog.LevelVar, d config.ConfigDiff, cfg *config.Config) {
	if d.LogLevelChanged {
		logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if !d.NodesChanged {
		return
	}
	for _, nd := range d.NodeChanges {
		if !nd.Added {
			slog.Warn("node change requires a restart to apply", "node", nd.Identifier)
			continue
		}
		for _, nc := range cfg.Nodes {
			if nc.Identifier != nd.Identifier {
				continue
			}
			_, err := pool.CreateNode(ctx, sonata.NodeConfig{
				Identifier: nc.Identifier,
				Host:       nc.Host,
				Port:       nc.Port,
				Password:   nc.Password,
				Secure:     nc.Secure,
			})
			if err != nil {
				slog.Warn("failed to add node from reloaded config", "node", nc.Identifier, "err", err)
			}
		}
	}
}

// logEvents writes one structured log line per pool event.
func logEvents(ev sonata.Event) {
	switch e := ev.(type) {
	case sonata.NodeReadyEvent:
		slog.Info("node ready", "node", e.Node.Identifier(), "reconnect", e.Reconnect)
	case sonata.TrackStartEvent:
		slog.Info("track started", "guild", e.GuildID(), "title", e.Track.Title)
	case sonata.TrackEndEvent:
		slog.Debug("track ended", "guild", e.GuildID(), "reason", e.Reason)
	case sonata.TrackExceptionEvent:
		slog.Warn("track exception", "guild", e.GuildID(), "message", e.Message, "severity", e.Severity)
	case sonata.TrackStuckEvent:
		slog.Warn("track stuck", "guild", e.GuildID(), "threshold", e.Threshold)
	case sonata.WebSocketClosedEvent:
		slog.Warn("voice websocket closed", "guild", e.GuildID(), "code", e.Code, "by_remote", e.ByRemote)
	case sonata.PlayerDestroyedEvent:
		slog.Info("player destroyed", "guild", e.GuildID(), "reason", e.Reason)
	}
}
