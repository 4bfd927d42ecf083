// Command floe maintains a virtual, chunk-referencing mirror of the MUR sea
// surface temperature collection: it locates newly published granules,
// stages their byte-range references on a branch, validates the staged
// state, and fast-forwards main.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"floe/internal/config"
	"floe/internal/creds"
	"floe/internal/granule"
	"floe/internal/granule/cmrsearch"
	"floe/internal/logging"
	"floe/internal/refstore"
	"floe/internal/scheduler"
	"floe/internal/server"
	"floe/internal/updater"
	"floe/internal/vds"
	"floe/internal/vds/refbuild"
)

var version = "dev"

func main() {
	settings, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "floe",
		Short: "Incremental updater for the MUR SST virtual store",
	}
	rootCmd.PersistentFlags().String("store-name", settings.StoreName, "repository name under the store prefix")
	rootCmd.PersistentFlags().String("store-prefix", settings.StorePrefix, "s3:// URL or filesystem path holding repositories")
	rootCmd.PersistentFlags().String("region", settings.Region, "object storage region")
	rootCmd.PersistentFlags().String("log-level", settings.LogLevel, "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("local-test", settings.LocalTest, "use EARTHDATA_USERNAME/EARTHDATA_PASSWORD from the environment instead of Secrets Manager")

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Run one update: locate, stage, validate, merge",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger := applyFlags(cmd, settings)
			if err := s.Validate(); err != nil {
				return err
			}

			opts := updater.RunOptions{
				RunTests:      s.RunTests,
				DryRun:        s.DryRun,
				LimitGranules: s.LimitGranules,
			}
			if cmd.Flags().Changed("run-tests") {
				opts.RunTests, _ = cmd.Flags().GetBool("run-tests")
			}
			if cmd.Flags().Changed("dry-run") {
				opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
			}
			if cmd.Flags().Changed("limit") {
				n, _ := cmd.Flags().GetInt("limit")
				opts.LimitGranules = &n
			}
			opts.BranchName, _ = cmd.Flags().GetString("branch")
			opts.Parallel, _ = cmd.Flags().GetInt("parallel")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			upd, err := buildUpdater(ctx, logger, s)
			if err != nil {
				return err
			}
			res, err := upd.Run(ctx, opts)
			if errors.Is(err, granule.ErrNoNewData) {
				fmt.Println("No new data granules available. Store is up to date.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(res.Message)
			return nil
		},
	}
	updateCmd.Flags().Bool("run-tests", true, "validate the staged branch before merging")
	updateCmd.Flags().Bool("dry-run", false, "stage and validate but do not merge into main")
	updateCmd.Flags().Int("limit", 0, "cap the number of granules appended in this run")
	updateCmd.Flags().String("branch", "", "explicit staging branch name (default: timestamp-derived)")
	updateCmd.Flags().Int("parallel", 4, "concurrent per-granule reference builds")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the repository if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger := applyFlags(cmd, settings)
			if s.StoreName == "" || s.StorePrefix == "" {
				return errors.New("store name and prefix required")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			store, err := refstore.OpenOrCreate(ctx, s.StoreTarget(), refstore.Options{
				Logger: logger,
				Region: s.Region,
			})
			if err != nil {
				return err
			}
			tip, err := store.BranchTip(ctx, refstore.MainBranch)
			if err != nil {
				return err
			}
			fmt.Printf("repository ready at %s (main @ %s)\n", s.StoreTarget(), tip)
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the update trigger endpoint, optionally on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger := applyFlags(cmd, settings)
			if err := s.Validate(); err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			cronExpr, _ := cmd.Flags().GetString("schedule")
			parallel, _ := cmd.Flags().GetInt("parallel")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return serve(ctx, logger, s, addr, cronExpr, parallel)
		},
	}
	serveCmd.Flags().String("addr", ":8350", "listen address (host:port)")
	serveCmd.Flags().String("schedule", "", "cron expression for automatic runs (e.g. \"0 22 * * *\"); empty disables")
	serveCmd.Flags().Int("parallel", 4, "concurrent per-granule reference builds")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(updateCmd, initCmd, serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags folds persistent flag overrides into the environment-derived
// settings and builds the base logger.
func applyFlags(cmd *cobra.Command, s config.Settings) (config.Settings, *slog.Logger) {
	if v, _ := cmd.Flags().GetString("store-name"); v != "" {
		s.StoreName = v
	}
	if v, _ := cmd.Flags().GetString("store-prefix"); v != "" {
		s.StorePrefix = v
	}
	if v, _ := cmd.Flags().GetString("region"); v != "" {
		s.Region = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		s.LogLevel = v
	}
	if cmd.Flags().Changed("local-test") {
		s.LocalTest, _ = cmd.Flags().GetBool("local-test")
	}

	level, err := logging.ParseLevel(s.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	return s, logger
}

// earthdataProvider resolves the Earthdata login (Secrets Manager, or the
// environment in local-test mode) and wraps it in a refreshing temporary
// credential provider for the archive's S3 buckets.
func earthdataProvider(ctx context.Context, s config.Settings) (creds.Provider, error) {
	var login creds.Login
	if s.LocalTest {
		login = creds.Login{
			Username: os.Getenv("EARTHDATA_USERNAME"),
			Password: os.Getenv("EARTHDATA_PASSWORD"),
		}
		if login.Username == "" || login.Password == "" {
			return nil, errors.New("local test mode: EARTHDATA_USERNAME and EARTHDATA_PASSWORD must be set")
		}
	} else {
		client, err := creds.NewSecretsClient(ctx, s.Region)
		if err != nil {
			return nil, err
		}
		login, err = creds.LoginFromSecret(ctx, client, s.EDLSecretARN)
		if err != nil {
			return nil, err
		}
	}
	fetcher := creds.NewEarthdataFetcher(login, creds.DefaultCredentialEndpoint)
	return creds.NewRefreshable(fetcher.Fetch), nil
}

func buildUpdater(ctx context.Context, logger *slog.Logger, s config.Settings) (*updater.Updater, error) {
	provider, err := earthdataProvider(ctx, s)
	if err != nil {
		return nil, err
	}

	store, err := refstore.OpenOrCreate(ctx, s.StoreTarget(), refstore.Options{
		Logger: logger,
		Region: s.Region,
		ChunkCreds: map[string]creds.Provider{
			"s3://": provider,
		},
	})
	if err != nil {
		return nil, err
	}

	locator := granule.NewLocator(cmrsearch.New(logger), logger)
	builder := refbuild.New(refbuild.NewS3Fetcher(provider, s.Region), logger)
	assembler := vds.NewAssembler(builder, logger)
	return updater.New(store, locator, assembler, logger), nil
}

func serve(ctx context.Context, logger *slog.Logger, s config.Settings, addr, cronExpr string, parallel int) error {
	upd, err := buildUpdater(ctx, logger, s)
	if err != nil {
		return err
	}

	srv := server.New(upd, server.Config{
		Logger:        logger,
		RunTests:      s.RunTests,
		DryRun:        s.DryRun,
		LimitGranules: s.LimitGranules,
		Parallel:      parallel,
	})

	var sched *scheduler.Scheduler
	if cronExpr != "" {
		sched, err = scheduler.New(logger)
		if err != nil {
			return err
		}
		err = sched.AddJob("update", cronExpr, func(ctx context.Context) error {
			_, err := upd.Run(ctx, updater.RunOptions{
				RunTests:      s.RunTests,
				DryRun:        s.DryRun,
				LimitGranules: s.LimitGranules,
				Parallel:      parallel,
			})
			if errors.Is(err, granule.ErrNoNewData) {
				logger.Info("no new data granules available")
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		return err
	}
	return <-errCh
}
