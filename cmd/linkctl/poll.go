package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/otr-discord-bot/linkbridge/link"
	"github.com/otr-discord-bot/linkbridge/osuapi"
	"github.com/otr-discord-bot/linkbridge/protocol"
)

var (
	pollWorker string
	pollWait   bool
)

var pollCmd = &cobra.Command{
	Use:   "poll [nonce]",
	Short: "Poll the worker status endpoint for nonce",
	Long: `Sends a signed status request for nonce, as the bot does. A delivered
result is consumed by the worker. With --wait, polls on the configured
interval until a result arrives or the attempt budget runs out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if pollWorker != "" {
			cfg.WorkerURL = pollWorker
		}
		signer, err := newSigner()
		if err != nil {
			return err
		}
		in, err := link.NewInitiator(link.Config{
			WorkerURL:    cfg.WorkerURL,
			Signer:       signer,
			Authorizer:   osuapi.New(cfg.OsuClientID, "", cfg.RedirectURI(), cfg.OsuBaseURL, nil),
			HTTPClient:   &http.Client{Timeout: 10 * time.Second},
			PollInterval: cfg.PollInterval,
			AttemptTTL:   cfg.AttemptTTL,
		})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		var res *protocol.LinkResult
		if pollWait {
			res, err = in.Await(ctx, args[0], "linkctl")
		} else {
			res, err = in.Poll(ctx, args[0])
		}
		out := cmd.OutOrStdout()
		var body []byte
		switch {
		case errors.Is(err, link.ErrPending), errors.Is(err, link.ErrPollExhausted):
			body, _ = json.Marshal(protocol.StatusPending{})
		case err != nil:
			return err
		default:
			body, _ = json.Marshal(protocol.StatusComplete{Result: *res})
		}
		fmt.Fprintln(out, string(body))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().StringVar(&pollWorker, "worker", "", "Worker base URL (default $WORKER_URL)")
	pollCmd.Flags().BoolVar(&pollWait, "wait", false, "Keep polling until a result arrives or the budget runs out")
}
