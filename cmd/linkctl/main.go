// Command linkctl is an operator tool for the link bridge. It signs poll
// messages, creates and inspects attempt state tokens, and polls a worker's
// status endpoint the way the bot does.
//
// Secrets and URLs default to the same environment variables the services
// read (BOT_SECRET, WORKER_URL, OSU_CLIENT_ID); a .env file is honoured.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/otr-discord-bot/linkbridge/config"
	"github.com/otr-discord-bot/linkbridge/crypto"
)

var secretFlag string

var rootCmd = &cobra.Command{
	Use:           "linkctl",
	Short:         "Inspect and exercise the osu! link handoff",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&secretFlag, "secret", "", "Shared bot secret (default $BOT_SECRET)")
}

// loadConfig reads the environment, letting --secret override BOT_SECRET.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if secretFlag != "" {
		cfg.BotSecret = secretFlag
	}
	return cfg, nil
}

func newSigner() (*crypto.Signer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := crypto.NewSigner(cfg.BotSecret)
	if err != nil {
		return nil, fmt.Errorf("%w (set BOT_SECRET or --secret)", err)
	}
	return s, nil
}
