package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"orderbridge/internal/config"
	"orderbridge/internal/webhooks"
)

func signCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute dispatcher signatures, for testing callbacks by hand",
		Long: `Compute the HMAC-SHA512 hex signature the dispatcher expects.

Examples:
  orderbridge sign callback M1 1001 49.90 EUR
  orderbridge sign purchase M1 1001 49.90 EUR "Order #1001"`,
	}
	cmd.PersistentFlags().StringVar(&secret, "secret", "", "shared secret (default PROCARD_SECRET)")

	resolve := func(cmd *cobra.Command) (string, error) {
		if secret != "" {
			return secret, nil
		}
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return "", err
		}
		if cfg.Procard.Secret == "" {
			return "", errors.New("no secret: pass --secret or set PROCARD_SECRET")
		}
		return cfg.Procard.Secret, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "callback MERCHANT REFERENCE AMOUNT CURRENCY",
		Short: "Sign a payment callback",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolve(cmd)
			if err != nil {
				return err
			}
			sig, err := webhooks.Sign(key, args[0], args[1], webhooks.NormalizeAmount(args[2]), args[3])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "purchase MERCHANT ORDER AMOUNT CURRENCY DESCRIPTION",
		Short: "Sign a purchase request",
		Args:  cobra.ExactArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := resolve(cmd)
			if err != nil {
				return err
			}
			sig, err := webhooks.Sign(key, args[0], args[1], webhooks.NormalizeAmount(args[2]), args[3], args[4])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig)
			return nil
		},
	})
	return cmd
}
