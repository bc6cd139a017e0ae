// Command yuka is the chat relay entrypoint.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts background jobs: the adaptive model refresh and the Twitch
//     chat token refresher.
//   - Connects the bot to Twitch chat and answers submits via OpenRouter.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/yuka/bot"
	"github.com/onnwee/yuka/command"
	"github.com/onnwee/yuka/config"
	"github.com/onnwee/yuka/db"
	"github.com/onnwee/yuka/dispatch"
	"github.com/onnwee/yuka/history"
	"github.com/onnwee/yuka/ledger"
	"github.com/onnwee/yuka/oauth"
	"github.com/onnwee/yuka/openrouter"
	"github.com/onnwee/yuka/ratelimit"
	"github.com/onnwee/yuka/selector"
	"github.com/onnwee/yuka/server"
	"github.com/onnwee/yuka/telemetry"
	"github.com/onnwee/yuka/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateUpstream(); err != nil {
		slog.Error("upstream config invalid", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("chat config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("yuka", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; embedded SQL covers schemas created before them.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	tokens, err := db.NewTokenStore(database, cfg.EncryptionKey)
	if err != nil {
		slog.Error("token store init failed", slog.Any("err", err))
		os.Exit(1)
	}

	usage := ledger.New(database)
	conversations := history.New(database, cfg.MaxStoredResponse)

	b := &bot.Bot{
		Login:         cfg.TwitchBotUsername,
		Channel:       cfg.TwitchChannel,
		NotifyChannel: cfg.NotifyChannel,
		Parser:        command.NewParser(cfg),
		History:       conversations,
		Stats:         usage,
		Limiter:       newSubmitLimiter(ctx, cfg),
		MaxChars:      cfg.MaxOutputChars,
	}

	sel, err := selector.New(cfg.Models, usage, b)
	if err != nil {
		slog.Error("selector init failed", slog.Any("err", err))
		os.Exit(1)
	}
	b.Models = sel
	go selector.StartRefreshJob(ctx, sel, cfg.RefreshInterval)

	upstream := openrouter.New(cfg.UpstreamBaseURL, cfg.UpstreamTimeout)
	b.Engine = dispatch.New(upstream, usage, conversations, sel, dispatch.Settings{
		SystemPrompt:   cfg.SystemPrompt,
		HistoryCount:   cfg.HistoryCount,
		TrimChars:      cfg.TrimChars,
		MaxOutputChars: cfg.MaxOutputChars,
		AttemptTimeout: cfg.UpstreamTimeout,
	})

	chatToken, err := bot.ResolveToken(ctx, cfg.TwitchOAuthToken, tokens)
	if err != nil {
		slog.Error("twitch chat token unavailable", slog.Any("err", err))
		os.Exit(1)
	}
	if v, err := twitchapi.ValidateToken(ctx, nil, "", chatToken); err != nil {
		slog.Warn("twitch token validation failed", slog.Any("err", err), slog.String("component", "bot"))
	} else if !v.HasScopes("chat:read", "chat:edit") {
		slog.Warn("twitch token lacks chat scopes", slog.Any("scopes", v.Scopes), slog.String("component", "bot"))
	}

	runner := &bot.TwitchRunner{Bot: b}

	// Stored chat tokens are refreshed in the background; IRC picks up the new one on reconnect.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		refresher, err := twitchapi.NewRefresher(cfg.TwitchClientID, cfg.TwitchClientSecret)
		if err != nil {
			slog.Error("twitch refresher init failed", slog.Any("err", err))
			os.Exit(1)
		}
		oauth.StartRefresher(ctx, tokens, bot.ProviderTwitch, oauth.Options{
			OnRefresh: func(tok db.Token) { runner.UpdateToken(tok.Access) },
		}, refresher.Refresh)
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// The HTTP server and the chat connection live until shutdown; a chat failure stops the process.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, server.NewHandlers(database, sel, usage), cfg.HTTPAddr)
	})
	g.Go(func() error {
		return runner.Run(gctx, chatToken)
	})
	if err := g.Wait(); err != nil {
		slog.Error("service exited with error", slog.Any("err", err))
	}
	slog.Info("shutting down")
}

// setupLogging configures slog from LOG_LEVEL and LOG_FORMAT. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

// newSubmitLimiter shares submit windows through Redis when REDIS_ADDR is set,
// falling back to a process-local limiter.
func newSubmitLimiter(ctx context.Context, cfg *config.Config) ratelimit.Limiter {
	rl := ratelimit.Config{Limit: cfg.SubmitsPerWindow, Window: cfg.SubmitWindow}
	if cfg.RedisAddr != "" {
		r, err := ratelimit.NewRedis(ctx, cfg.RedisAddr, rl)
		if err == nil {
			go func() {
				<-ctx.Done()
				_ = r.Close()
			}()
			return r
		}
		slog.Warn("redis limiter unavailable, using in-memory limiter", slog.Any("err", err), slog.String("component", "ratelimit"))
	}
	return ratelimit.NewMemory(ctx, rl)
}
