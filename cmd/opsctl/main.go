package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/temmyjay001/payments-core/internal/auth"
	"github.com/temmyjay001/payments-core/internal/config"
	"github.com/temmyjay001/payments-core/internal/lock"
	"github.com/temmyjay001/payments-core/internal/reconciliation"
	"github.com/temmyjay001/payments-core/internal/server"
	"github.com/temmyjay001/payments-core/internal/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator commands for the payments core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(retrySweepCmd())
	rootCmd.AddCommand(reprocessCmd())
	rootCmd.AddCommand(failuresCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the wired service graph for one command run.
type env struct {
	srv     *server.Server
	closeFn func()
}

func (e *env) Close() {
	e.closeFn()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := storage.NewPostgresDB(cfg)
	if err != nil {
		return nil, err
	}

	locker, closeLocker, err := lock.Open(ctx, cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	srv, err := server.New(cfg, db, locker)
	if err != nil {
		closeLocker()
		db.Close()
		return nil, err
	}

	return &env{srv: srv, closeFn: func() {
		closeLocker()
		db.Close()
	}}, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func reconcileCmd() *cobra.Command {
	var (
		refs  []string
		from  string
		to    string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile payments by reference or over a date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := reconciliation.Filter{PaymentRefs: refs, Limit: limit}
			for _, p := range []struct {
				raw string
				dst **time.Time
			}{{from, &filter.From}, {to, &filter.To}} {
				if p.raw == "" {
					continue
				}
				t, err := time.Parse(time.RFC3339, p.raw)
				if err != nil {
					return fmt.Errorf("invalid time %q: %w", p.raw, err)
				}
				*p.dst = &t
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.srv.Reconciliation().ReconcileBatch(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}

	cmd.Flags().StringSliceVar(&refs, "ref", nil, "Payment reference (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "Window start, RFC3339")
	cmd.Flags().StringVar(&to, "to", "", "Window end, RFC3339")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum payments from the window")

	return cmd
}

func retrySweepCmd() *cobra.Command {
	var drain bool

	cmd := &cobra.Command{
		Use:   "retry-sweep",
		Short: "Run one webhook retry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			sweep := e.srv.Webhooks().SweepFailed
			if drain {
				sweep = e.srv.Webhooks().DrainFailed
			}
			stats, err := sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}

	cmd.Flags().BoolVar(&drain, "drain", false, "Sweep repeatedly until nothing is due")

	return cmd
}

func reprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess [event-id]",
		Short: "Dispatch an unprocessed webhook event once, ignoring its retry limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.srv.Webhooks().Reprocess(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func failuresCmd() *cobra.Command {
	var (
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List webhook events that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			failures, err := e.srv.Webhooks().ListPermanentFailures(cmd.Context(), all, limit)
			if err != nil {
				return err
			}
			return printJSON(failures)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include resolved failures")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum results")

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the payment or ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			token, expiresAt, err := auth.NewService(cfg).IssueToken(subject, scopes, ttl)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"token":      token,
				"expires_at": expiresAt,
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "opsctl", "Token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeOps}, "Scopes (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}
