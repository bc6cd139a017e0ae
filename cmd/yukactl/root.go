package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/yuka/bot"
	"github.com/onnwee/yuka/config"
	"github.com/onnwee/yuka/db"
	"github.com/onnwee/yuka/ledger"
	"github.com/onnwee/yuka/selector"
	"github.com/onnwee/yuka/twitchapi"
)

// env supplies configuration and storage to the commands.
type env struct {
	loadConfig func() (*config.Config, error)
	openDB     func(ctx context.Context, cfg *config.Config) (*sql.DB, error)
}

func defaultEnv() env {
	return env{
		loadConfig: config.Load,
		openDB: func(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
			return db.Connect(ctx, cfg.DBDsn)
		},
	}
}

// withDB loads config, opens the database and runs fn.
func (e env) withDB(ctx context.Context, fn func(cfg *config.Config, database *sql.DB) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	database, err := e.openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer database.Close()
	return fn(cfg, database)
}

func newRootCmd(e env) *cobra.Command {
	root := &cobra.Command{
		Use:           "yukactl",
		Short:         "Operate the Yuka chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCommand(e), newStatsCommand(e), newOrderCommand(e), newTokenCommand(e))
	return root
}

func newMigrateCommand(e env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return e.withDB(cmd.Context(), func(_ *config.Config, database *sql.DB) error {
					if err := db.RunMigrations(database); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back one migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return e.withDB(cmd.Context(), func(_ *config.Config, database *sql.DB) error {
					if err := db.MigrateDown(database); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return e.withDB(cmd.Context(), func(_ *config.Config, database *sql.DB) error {
					v, dirty, err := db.MigrationVersion(database)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty=%t)\n", v, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

func newStatsCommand(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-model success rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withDB(cmd.Context(), func(_ *config.Config, database *sql.DB) error {
				stats, err := ledger.New(database).Stats(cmd.Context())
				if err != nil {
					return err
				}
				writeStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func writeStats(w io.Writer, stats []ledger.ModelStats) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "no model usage recorded")
		return
	}
	for _, s := range stats {
		fmt.Fprintf(w, "%-45s %s %3.0f%% (%d/%d)\n", s.Model, bot.StatsBar(s.Rate), s.Rate, s.Successes, s.Total)
	}
}

func newOrderCommand(e env) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Preview the model order the next refresh would pick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withDB(cmd.Context(), func(cfg *config.Config, database *sql.DB) error {
				rates, err := ledger.New(database).SuccessRates(cmd.Context())
				if err != nil {
					return err
				}
				writeOrder(cmd.OutOrStdout(), selector.Rank(cfg.Models, rates), rates)
				return nil
			})
		},
	}
}

func writeOrder(w io.Writer, order []string, rates map[string]float64) {
	for i, m := range order {
		rate, ok := rates[m]
		label := "no data"
		if ok {
			label = fmt.Sprintf("%.0f%%", rate)
		}
		fmt.Fprintf(w, "%d. %s (%s)\n", i+1, m, label)
	}
}

func newTokenCommand(e env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored Twitch chat token",
	}
	cmd.AddCommand(newTokenSetCommand(e), newTokenSealCommand(e))
	return cmd
}

func newTokenSetCommand(e env) *cobra.Command {
	var (
		access    string
		refresh   string
		scope     string
		expiresIn time.Duration
		validate  bool
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the bot's chat token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tok := db.Token{
				Access:  strings.TrimPrefix(access, "oauth:"),
				Refresh: refresh,
				Scope:   scope,
			}
			if expiresIn > 0 {
				tok.Expiry = time.Now().Add(expiresIn)
			}
			if validate {
				v, err := twitchapi.ValidateToken(cmd.Context(), nil, "", tok.Access)
				if err != nil {
					return err
				}
				if tok.Scope == "" {
					tok.Scope = strings.Join(v.Scopes, " ")
				}
				if tok.Expiry.IsZero() && v.ExpiresIn > 0 {
					tok.Expiry = twitchapi.ComputeExpiry(v.ExpiresIn)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token belongs to %s\n", v.Login)
			}
			return e.withDB(cmd.Context(), func(cfg *config.Config, database *sql.DB) error {
				store, err := db.NewTokenStore(database, cfg.EncryptionKey)
				if err != nil {
					return err
				}
				if err := store.Upsert(cmd.Context(), bot.ProviderTwitch, tok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s token (sealed=%t)\n", bot.ProviderTwitch, store.Sealer != nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&access, "access", "", "access token (the oauth: prefix is accepted)")
	cmd.Flags().StringVar(&refresh, "refresh", "", "refresh token, enables background refresh")
	cmd.Flags().StringVar(&scope, "scope", "", "space-separated scopes")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "remaining lifetime of the access token")
	cmd.Flags().BoolVar(&validate, "validate", false, "check the token against Twitch and fill scope and expiry")
	_ = cmd.MarkFlagRequired("access")
	return cmd
}

func newTokenSealCommand(e env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt plaintext token rows with ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withDB(cmd.Context(), func(cfg *config.Config, database *sql.DB) error {
				if cfg.EncryptionKey == "" {
					return fmt.Errorf("ENCRYPTION_KEY is required")
				}
				store, err := db.NewTokenStore(database, cfg.EncryptionKey)
				if err != nil {
					return err
				}
				providers, err := store.SealPlaintext(cmd.Context(), dryRun)
				if err != nil {
					return err
				}
				verb := "sealed"
				if dryRun {
					verb = "would seal"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d token(s): %s\n", verb, len(providers), strings.Join(providers, ", "))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be sealed without writing")
	return cmd
}
