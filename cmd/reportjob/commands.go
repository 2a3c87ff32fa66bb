package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/service"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/storage"
	"github.com/gaborage/go-bricks/logger"
)

// errRunFailed makes the process exit 1 after the result was printed.
var errRunFailed = errors.New("report run failed")

type rootOptions struct {
	configFile string
	logLevel   string
	pretty     bool
}

func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(config.Options{File: o.configFile})
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	return cfg, logger.New(level, o.pretty || cfg.Log.Pretty), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "reportjob",
		Short:         "Generate and deliver MIS reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a YAML config file (overrides "+config.ConfigFileEnv+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "Human-readable console logs")

	cmd.AddCommand(newRunCmd(opts), newVariantsCmd(opts), newFetchCmd(opts))
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var variants []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run report variants and print the result",
		Long:  "Runs the named variants (all when none are given), prints {\"statusCode\": ...} and exits 1 unless the status is 200.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			result := runVariants(cmd.Context(), cfg, log, variants)

			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
				return err
			}
			if !result.OK() {
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&variants, "variant", nil, "Variant to run; repeat or comma-separate for several")
	return cmd
}

func runVariants(ctx context.Context, cfg *config.Config, log logger.Logger, variants []string) domain.Result {
	driver, err := service.NewFromConfig(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to wire report driver")
		return domain.Failure("An error occurred: %v", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release driver resources")
		}
	}()

	return driver.RunVariants(ctx, variants...)
}

func newVariantsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List configured report variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			for _, v := range cfg.Variants {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d report(s)\n", v.Name, len(v.Reports))
			}
			return nil
		},
	}
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		bucket string
		key    string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a delivered report from object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			if bucket == "" {
				bucket = cfg.Storage.Bucket
			}
			if out == "" {
				out = filepath.Base(key)
			}

			awsCfg, err := awsconfig.LoadDefaultConfig(cmd.Context(), awsconfig.WithRegion(cfg.Storage.Region))
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			store := storage.NewS3Store(awsCfg, cfg.Storage, log)
			if err := store.Get(cmd.Context(), bucket, key, out); err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved s3://%s/%s to %s\n", bucket, key, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "Bucket to read from (defaults to storage.bucket)")
	cmd.Flags().StringVar(&key, "key", "", "Object key, e.g. Kloo-Mis-Transaction_Report_18-10-2026.xlsx")
	cmd.Flags().StringVar(&out, "out", "", "Local destination path (defaults to the key's base name)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
