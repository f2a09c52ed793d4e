package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/otr-discord-bot/linkbridge/osuapi"
	"github.com/otr-discord-bot/linkbridge/protocol"
)

var (
	stateTTL    time.Duration
	stateSign   bool
	stateVerify bool
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Create or inspect attempt state tokens",
}

var stateNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a fresh attempt and print its token and authorization URL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st := protocol.NewAttemptState(time.Now(), stateTTL)
		if stateSign {
			signer, err := newSigner()
			if err != nil {
				return err
			}
			st = st.Signed(signer)
		}
		token := st.Encode()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Nonce:  ", st.Nonce)
		fmt.Fprintln(out, "Expires:", st.ExpiresAt().UTC().Format(time.RFC3339))
		fmt.Fprintln(out, "Token:  ", token)
		if cfg.OsuClientID != "" && cfg.WorkerURL != "" {
			osu := osuapi.New(cfg.OsuClientID, "", cfg.RedirectURI(), cfg.OsuBaseURL, nil)
			fmt.Fprintln(out, "URL:    ", osu.AuthorizeURL(token))
		}
		return nil
	},
}

var stateDecodeCmd = &cobra.Command{
	Use:   "decode [token]",
	Short: "Decode a state token and report whether it is still valid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := protocol.DecodeState(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		b, _ := json.MarshalIndent(st, "", "  ")
		fmt.Fprintln(out, string(b))
		fmt.Fprintln(out, "Expires:", st.ExpiresAt().UTC().Format(time.RFC3339), "expired:", st.Expired(time.Now()))
		if stateVerify {
			signer, err := newSigner()
			if err != nil {
				return err
			}
			if !st.VerifySignature(signer) {
				return fmt.Errorf("state signature is missing or invalid")
			}
			fmt.Fprintln(out, "Signature: valid")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateNewCmd, stateDecodeCmd)

	stateNewCmd.Flags().DurationVar(&stateTTL, "ttl", protocol.AttemptTTL, "Attempt lifetime")
	stateNewCmd.Flags().BoolVar(&stateSign, "sign", false, "Sign the state with the bot secret")
	stateDecodeCmd.Flags().BoolVar(&stateVerify, "verify", false, "Require a valid state signature")
}
