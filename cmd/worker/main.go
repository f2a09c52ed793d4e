// Command worker is the OAuth edge service of the link bridge. It:
//   - Receives the osu! redirect on /callback, exchanges the code and stores
//     the result under the attempt nonce in the result store.
//   - Answers the bot's signed polls on /status, handing each result out once.
//   - Exposes /healthz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/otr-discord-bot/linkbridge/config"
	"github.com/otr-discord-bot/linkbridge/crypto"
	"github.com/otr-discord-bot/linkbridge/osuapi"
	"github.com/otr-discord-bot/linkbridge/server"
	"github.com/otr-discord-bot/linkbridge/store"
	"github.com/otr-discord-bot/linkbridge/store/memory"
	redisstore "github.com/otr-discord-bot/linkbridge/store/redis"
	"github.com/otr-discord-bot/linkbridge/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()
	telemetry.InitLogging(os.Stdout)

	if err := run(); err != nil {
		slog.Error("worker exited with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(context.Background(), cfg.Tracing("linkbridge-worker"))
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer, err := crypto.NewSigner(cfg.BotSecret)
	if err != nil {
		return err
	}
	results, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := results.Close(); err != nil {
			slog.Error("failed to close result store", slog.Any("err", err))
		}
	}()

	osu := osuapi.New(cfg.OsuClientID, cfg.OsuClientSecret, cfg.RedirectURI(), cfg.OsuBaseURL,
		&http.Client{Timeout: 15 * time.Second})
	handlers := server.NewHandlers(results, signer, osu, cfg.RequireSignedState).WithAttemptTTL(cfg.AttemptTTL)

	slog.Info("worker listening",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("redirect_uri", cfg.RedirectURI()),
		slog.String("store", cfg.StoreBackend),
		slog.Bool("require_signed_state", cfg.RequireSignedState))
	if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
		return err
	}
	slog.Info("shutting down")
	return nil
}

// openStore builds the configured result store, sealing values when an
// encryption key is set.
func openStore(ctx context.Context, cfg *config.Config) (store.ResultStore, error) {
	var base store.ResultStore
	switch cfg.StoreBackend {
	case "memory":
		slog.Warn("using in-memory result store; results are lost on restart and not shared between instances")
		base = memory.New()
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		rs, err := redisstore.Connect(connectCtx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		base = rs
	}
	if cfg.StoreEncryptionKey == "" {
		return base, nil
	}
	sealer, err := crypto.NewAESSealer(cfg.StoreEncryptionKey)
	if err != nil {
		_ = base.Close()
		return nil, fmt.Errorf("STORE_ENCRYPTION_KEY: %w", err)
	}
	slog.Info("result store values are sealed with AES-256-GCM")
	return store.WithSealer(base, sealer), nil
}
