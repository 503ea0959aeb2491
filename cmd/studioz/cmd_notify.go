package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kamesh6592-cell/v0-clone/internal/config"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/notify"
)

var notifyProvider string

func init() {
	notifyTestCmd.Flags().StringVar(&notifyProvider, "provider", "v0", "provider named in the quota email")
	rootCmd.AddCommand(notifyTestCmd)
}

var notifyTestCmd = &cobra.Command{
	Use:       "notify-test {quota|alldown}",
	Short:     "Send a test operator email",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"quota", "alldown"},
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		logger := newLogger()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Notify.ResendAPIKey == "" || cfg.Notify.To == "" {
			return fmt.Errorf("notify.resend_api_key and notify.to must be set")
		}
		n := notify.NewResend(cfg.Notify.ResendAPIKey, cfg.Notify.From, cfg.Notify.To, logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Failover.NotifyTimeout)
		defer cancel()

		var res notify.Result
		switch args[0] {
		case "quota":
			p, err := domain.ParseProviderID(notifyProvider)
			if err != nil {
				return err
			}
			res = n.SendQuotaExhausted(ctx, p, "This is a test quota notification")
		case "alldown":
			res = n.SendAllProvidersDown(ctx)
		default:
			return fmt.Errorf("unknown notification %q: want quota or alldown", args[0])
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("send failed: %s", res.Error)
		}
		return nil
	},
}
