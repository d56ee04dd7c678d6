package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/api/middleware"
	"github.com/ayo6706/saldo-exchange/internal/app"
	"github.com/ayo6706/saldo-exchange/internal/db"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "exchange",
		Short:         "Saldo exchange order settlement engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(checkPayoutsCmd())
	rootCmd.AddCommand(devTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmdContext(cmd), func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := app.Bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmdContext(cmd)
			pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", zap.Strings("applied", applied))
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-expired",
		Short: "Expire sell orders whose payment or proof window has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmdContext(cmd), func(ctx context.Context, a *app.App) error {
				summary, err := a.SweepOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func checkPayoutsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-payouts",
		Short: "Poll the gateway for orders still waiting on a payment or payout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmdContext(cmd), func(ctx context.Context, a *app.App) error {
				summary, err := a.PollOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func devTokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dev-token <user-id>",
		Short: "Sign a session token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			cfg, logger, err := app.Bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()
			middleware.SetJWTSecret(cfg.JWTSecret)
			middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

			token, err := middleware.IssueToken(userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", domain.RoleUser, "token role (user or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, logger, err := app.Bootstrap()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
