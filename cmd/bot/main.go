// Command bot is the chat side of the link bridge. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs versioned migrations, falling back to the
//     embedded schema.
//   - Serves !link and !ping in the configured Twitch channels, whispering
//     authorization links through Helix, polling the worker for each link
//     attempt and saving the linked osu! account.
//   - Exposes /healthz and /metrics on HTTP_ADDR.
//
// Shutdown is graceful on SIGINT/SIGTERM; running link flows are abandoned and
// their results expire on the worker.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/otr-discord-bot/linkbridge/chat"
	"github.com/otr-discord-bot/linkbridge/config"
	"github.com/otr-discord-bot/linkbridge/crypto"
	"github.com/otr-discord-bot/linkbridge/db"
	"github.com/otr-discord-bot/linkbridge/link"
	"github.com/otr-discord-bot/linkbridge/osuapi"
	"github.com/otr-discord-bot/linkbridge/telemetry"
	"github.com/otr-discord-bot/linkbridge/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()
	telemetry.InitLogging(os.Stdout)

	if err := run(); err != nil {
		slog.Error("bot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.ValidateBot(); err != nil {
		return err
	}
	if err := cfg.ValidateChatReady(); err != nil {
		return err
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing("linkbridge-bot"))
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := migrate(database); err != nil {
		return err
	}

	signer, err := crypto.NewSigner(cfg.BotSecret)
	if err != nil {
		return err
	}
	accounts := &db.Accounts{DB: database}
	initiator, err := link.NewInitiator(link.Config{
		WorkerURL:    cfg.WorkerURL,
		Signer:       signer,
		Authorizer:   osuapi.New(cfg.OsuClientID, "", cfg.RedirectURI(), cfg.OsuBaseURL, nil),
		Accounts:     accounts,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		PollInterval: cfg.PollInterval,
		AttemptTTL:   cfg.AttemptTTL,
		SignState:    cfg.SignState,
	})
	if err != nil {
		return err
	}
	slog.Info("link flow configured",
		slog.String("worker", cfg.WorkerURL),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Duration("attempt_ttl", cfg.AttemptTTL),
		slog.Int("max_polls", link.MaxPolls(cfg.AttemptTTL, cfg.PollInterval)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	helix := &twitchapi.HelixClient{
		ClientID:   cfg.TwitchClientID,
		Token:      cfg.HelixToken(),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
	botUserID := cfg.TwitchBotUserID
	if botUserID == "" {
		if botUserID, err = helix.CurrentUserID(ctx); err != nil {
			return fmt.Errorf("resolve twitch bot user id (set TWITCH_BOT_USER_ID to skip): %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chat.Run(gctx, chat.Options{
			Username:  cfg.TwitchBotUsername,
			Token:     cfg.TwitchOAuthToken,
			Channels:  cfg.TwitchChannels,
			BotUserID: botUserID,
			Whisperer: helix,
			Accounts:  accounts,
		}, initiator)
	})
	g.Go(func() error {
		return serveOps(gctx, cfg.HTTPAddr, database)
	})
	err = g.Wait()
	slog.Info("shutting down")
	return err
}

// migrate applies versioned migrations, falling back to the embedded schema
// for databases that cannot track versions.
func migrate(database *sql.DB) error {
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			return fmt.Errorf("failed to migrate db (both versioned and embedded SQL failed): %w", err)
		}
	}
	return nil
}

// serveOps exposes health and metrics for the bot process.
func serveOps(ctx context.Context, addr string, database *sql.DB) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()
	slog.Info("ops server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
