package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kamesh6592-cell/v0-clone/internal/auth"
)

var (
	keygenUserID   string
	keygenUserType string
)

func init() {
	keygenCmd.Flags().StringVar(&keygenUserID, "user-id", "user-1", "user id the key authenticates as")
	keygenCmd.Flags().StringVar(&keygenUserType, "user-type", "regular", "entitlement tier (guest, regular, ...)")
	rootCmd.AddCommand(keygenCmd)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen [api-key]",
	Short: "Hash an API key for config.yaml, generating one if not given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var apiKey string
		if len(args) == 1 {
			apiKey = args[0]
		} else {
			buf := make([]byte, 24)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			apiKey = "sk-studioz-" + hex.EncodeToString(buf)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "API Key: %s\n", apiKey)
		fmt.Fprintf(out, "SHA-256 Hash: %s\n", auth.HashAPIKey(apiKey))
		fmt.Fprintln(out, "\nAdd this to your config.yaml:")
		fmt.Fprintln(out, "auth:")
		fmt.Fprintln(out, "  keys:")
		fmt.Fprintf(out, "    - key_hash: %q\n", auth.HashAPIKey(apiKey))
		fmt.Fprintf(out, "      user_id: %q\n", keygenUserID)
		fmt.Fprintf(out, "      user_type: %q\n", keygenUserType)
		return nil
	},
}
