package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/otr-discord-bot/linkbridge/protocol"
)

var signTimestamp int64

var signCmd = &cobra.Command{
	Use:   "sign [nonce]",
	Short: "Print the poll headers for a nonce",
	Long: `Prints the X-Timestamp and X-Signature headers the bot would send when
polling the worker for nonce. The timestamp defaults to now.`,
	Example: `  linkctl sign 0b7c5a2e-3a4f-4c8e-9b51-1f6d0f1f4a52
  curl -H "$(linkctl sign abc | head -1)" -H "$(linkctl sign abc | tail -1)" ...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := newSigner()
		if err != nil {
			return err
		}
		ts := signTimestamp
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s\n", protocol.TimestampHeader, strconv.FormatInt(ts, 10))
		fmt.Fprintf(out, "%s: %s\n", protocol.SignatureHeader, signer.Sign(protocol.PollMessage(args[0], ts)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().Int64Var(&signTimestamp, "timestamp", 0, "Epoch milliseconds to sign (default now)")
}
