package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/client"
	"github.com/pesio-ai/be-ap-threeway/internal/config"
	"github.com/pesio-ai/be-ap-threeway/internal/logger"
	"github.com/pesio-ai/be-ap-threeway/internal/repository"
	"github.com/pesio-ai/be-ap-threeway/internal/service"
)

type globalFlags struct {
	backend  string
	csvPath  string
	server   string
	secret   string
	actor    string
	timeout  time.Duration
	logLevel string
}

// claimReader is what the read commands need, served either by the local
// store or by a remote server over gRPC
type claimReader interface {
	GetClaim(ctx context.Context, claimNumber string) (*repository.Claim, error)
	ListClaims(ctx context.Context, query string, all bool) ([]*repository.Claim, error)
	DistinctKeys(ctx context.Context) ([]string, error)
}

type localReader struct {
	svc     *service.ClaimService
	session auth.Session
}

func (r *localReader) GetClaim(ctx context.Context, claimNumber string) (*repository.Claim, error) {
	return r.svc.GetClaim(ctx, r.session, claimNumber)
}

func (r *localReader) ListClaims(ctx context.Context, query string, all bool) ([]*repository.Claim, error) {
	return r.svc.ListClaims(ctx, r.session, service.ListRequest{IncludePrivate: all, Query: query})
}

func (r *localReader) DistinctKeys(ctx context.Context) ([]string, error) {
	return r.svc.DistinctKeys(ctx, r.session)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "claimctl",
		Short:         "Operate the three-way matching claim store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "Store backend, csv or postgres (default: STORE_BACKEND)")
	root.PersistentFlags().StringVar(&flags.csvPath, "csv-path", "", "CSV claim file (default: CSV_PATH)")
	root.PersistentFlags().StringVar(&flags.server, "server", "", "Read through a running server's gRPC address instead of the store")
	root.PersistentFlags().StringVar(&flags.secret, "secret", "", "Verifier secret presented by this CLI (default: CLAIMCTL_SECRET)")
	root.PersistentFlags().StringVar(&flags.actor, "actor", "claimctl", "Name recorded for privileged calls")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "Operation timeout")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newInitCmd(flags),
		newMigrateCmd(flags),
		newListCmd(flags),
		newShowCmd(flags),
		newKeysCmd(flags),
	)
	return root
}

func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the claim store if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			store, closeStore, err := repository.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.EnsureInitialized(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Store ready (%s, %s)\n", cfg.Store.Backend, store.Discipline())
			return nil
		},
	}
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade a legacy claim store to the current columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			store, closeStore, err := repository.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			result, err := store.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d rows, added %d columns\n", result.RowsMigrated, len(result.ColumnsAdded))
			for _, c := range result.ColumnsAdded {
				fmt.Fprintf(cmd.OutOrStdout(), "  + %s\n", c)
			}
			return nil
		},
	}
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var all bool
	var query string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claims, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, flags, func(ctx context.Context, r claimReader) error {
				claims, err := r.ListClaims(ctx, query, all)
				if err != nil {
					return err
				}
				printClaims(cmd.OutOrStdout(), claims)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include private claims (needs the verifier secret)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Only claim numbers containing this text")
	return cmd
}

func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <claim-number>",
		Short: "Print the latest version of a claim as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, flags, func(ctx context.Context, r claimReader) error {
				claim, err := r.GetClaim(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(claim)
			})
		},
	}
}

func newKeysCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every known claim number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReader(cmd, flags, func(ctx context.Context, r claimReader) error {
				keys, err := r.DistinctKeys(ctx)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}

// withReader runs fn against the remote server when --server is set and
// against the configured store otherwise
func withReader(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, claimReader) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()

	secret := flags.secret
	if secret == "" {
		secret = os.Getenv("CLAIMCTL_SECRET")
	}

	if flags.server != "" {
		c, err := client.NewClaimsGRPCClient(flags.server, secret, flags.actor)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(ctx, c)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	store, closeStore, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	log := logger.New(logger.Config{
		Level:       flags.logLevel,
		Environment: cfg.Service.Environment,
		ServiceName: "claimctl",
		Version:     cfg.Service.Version,
		Output:      cmd.ErrOrStderr(),
	})
	svc := service.NewClaimService(store, nil, log)
	session := auth.Resolve(auth.NewStaticSecret(cfg.Auth.VerifierSecret), secret, flags.actor)

	return fn(ctx, &localReader{svc: svc, session: session})
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.backend != "" {
		cfg.Store.Backend = flags.backend
	}
	if flags.csvPath != "" {
		cfg.Store.CSVPath = flags.csvPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printClaims(w io.Writer, claims []*repository.Claim) {
	if len(claims) == 0 {
		fmt.Fprintln(w, "No claims found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLAIM\tSUBMITTER\tVERDICT\tAPPROVED\tVISIBILITY\tUPDATED")
	for _, c := range claims {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			c.ClaimNumber,
			c.SubmitterName,
			c.Matching.Verdict,
			c.Status.Approved,
			c.Visibility,
			c.UpdatedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "Total: %d claims\n", len(claims))
}
