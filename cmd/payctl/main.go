package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/punchamoorthee/payops/internal/app"
	"github.com/punchamoorthee/payops/internal/auth"
	"github.com/punchamoorthee/payops/internal/config"
	"github.com/punchamoorthee/payops/internal/logging"
	"github.com/punchamoorthee/payops/internal/store"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "payctl",
		Short:        "payctl - operator tool for the payment orchestration service",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(refundCmd())
	rootCmd.AddCommand(hashSecretCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SettlementTimeout+cfg.ProviderTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logging.New(cfg.Env))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != "postgres" {
				return fmt.Errorf("migrate needs STORE_DRIVER=postgres")
			}
			st, err := app.OpenStore(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			st.Close()
			fmt.Println("Schema is up to date")
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [reference]",
		Short: "Ask the provider for a payment's status and settle it",
		Long: `Verify fetches the payment's status from its provider and applies it
exactly as a webhook would. Running it on a settled or failed payment
changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				intent, outcome, err := a.Settlement.Reconcile(ctx, a.Engine, args[0])
				if err != nil {
					return fmt.Errorf("verify %s: %w", args[0], err)
				}
				return printJSON(map[string]any{
					"reference":      intent.Reference,
					"status":         intent.Status,
					"outcome":        outcome,
					"failure_reason": intent.FailureReason,
				})
			})
		},
	}
}

func refundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refund [reference] [amount]",
		Short: "Request a provider refund for a settled payment",
		Long: `Refund asks the payment's provider to return the money to the payer.
Amount is in minor units; omit it to refund in full. Wallet balances are
not adjusted.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amount int64
			if len(args) == 2 {
				n, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil || n <= 0 {
					return fmt.Errorf("amount must be a positive integer, got %q", args[1])
				}
				amount = n
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Refund(ctx, args[0], amount)
				if err != nil {
					return fmt.Errorf("refund %s: %w", args[0], err)
				}
				return printJSON(res)
			})
		},
	}
}

func hashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash to store for an API client secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token [client-id]",
		Short: "Issue a bearer token for an API client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer st.Close()

			client, err := st.GetAPIClient(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("api client %s not found", args[0])
				}
				return err
			}
			if !client.Active {
				return auth.ErrInactiveClient
			}
			if ttl == 0 {
				ttl = cfg.JWTTTL
			}
			token, expires, err := auth.NewTokenIssuer(cfg.JWTSecret, ttl).Issue(&auth.Principal{
				ClientID:    client.ID,
				MerchantID:  client.MerchantID,
				Environment: client.Environment,
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"token": token, "token_type": "Bearer", "expires_at": expires.Unix()})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to JWT_TTL)")
	return cmd
}
