package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/tier-archiver/internal/app"
	"github.com/rowjay/tier-archiver/internal/checkpoint"
	"github.com/rowjay/tier-archiver/internal/config"
	"github.com/rowjay/tier-archiver/internal/logging"
	"github.com/rowjay/tier-archiver/internal/metastore"
	"github.com/rowjay/tier-archiver/internal/notify"
	"github.com/rowjay/tier-archiver/internal/objstore"
	"github.com/rowjay/tier-archiver/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	Bucket        string
	Prefix        string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      string
	S3PathStyle   string
	Mode          string
	MaxItems      int
	StartDate     string
	EndDate       string
	ScratchDir    string
	DestPrefix    string
	StorageClass  string
	Format        string
	SegmentBytes  int64
	EncryptionKey string
	CheckpointTo  string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:   "tiera",
		Short: "Archive S3 hot-tier objects into cold storage bundles",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.Bucket, "bucket", "", "Source bucket")
	rootCmd.PersistentFlags().StringVar(&overrides.Prefix, "prefix", "", "Source key prefix")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")

	rootCmd.PersistentFlags().StringVar(&overrides.Mode, "mode", "", "Batch mode (listing, metadata)")
	rootCmd.PersistentFlags().IntVar(&overrides.MaxItems, "max-items", 0, "Cap on enumerated objects per run")
	rootCmd.PersistentFlags().StringVar(&overrides.StartDate, "start-date", "", "Earliest modification date (inclusive)")
	rootCmd.PersistentFlags().StringVar(&overrides.EndDate, "end-date", "", "Latest modification date (inclusive)")
	rootCmd.PersistentFlags().StringVar(&overrides.ScratchDir, "scratch-dir", "", "Local scratch directory")
	rootCmd.PersistentFlags().StringVar(&overrides.DestPrefix, "dest-prefix", "", "Destination key prefix for archives")
	rootCmd.PersistentFlags().StringVar(&overrides.StorageClass, "storage-class", "", "Archive storage class (DEEP_ARCHIVE, GLACIER, ...)")
	rootCmd.PersistentFlags().StringVar(&overrides.Format, "format", "", "Archive format (zip, tar.zst)")
	rootCmd.PersistentFlags().Int64Var(&overrides.SegmentBytes, "segment-bytes", 0, "Segment byte budget")
	rootCmd.PersistentFlags().StringVar(&overrides.EncryptionKey, "encryption-key", "", "Encryption key (base64 or hex) for archives")
	rootCmd.PersistentFlags().StringVar(&overrides.CheckpointTo, "checkpoint-path", "", "Checkpoint file path")

	rootCmd.AddCommand(newRunCmd(root, overrides))
	rootCmd.AddCommand(newPlanCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newCheckpointCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Archive eligible objects segment by segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := runContext()
			defer cancel()
			appSvc, logger, err := buildApp(ctx, root, overrides)
			if err != nil {
				return err
			}
			ctx, timeoutCancel := context.WithTimeout(ctx, appSvc.Cfg.Global.OperationTimeout)
			defer timeoutCancel()

			res, err := appSvc.Run(ctx)
			if err != nil {
				return err
			}
			logger.Info().
				Int("segments", res.Segments).
				Int("objects", res.Objects).
				Int64("bytes", res.Bytes).
				Msg("archival run completed")
			return nil
		},
	}
}

func newPlanCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the segments a run would commit, without moving data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := runContext()
			defer cancel()
			appSvc, logger, err := buildApp(ctx, root, overrides)
			if err != nil {
				return err
			}
			ctx, timeoutCancel := context.WithTimeout(ctx, appSvc.Cfg.Global.OperationTimeout)
			defer timeoutCancel()

			planned, err := appSvc.Plan(ctx)
			if err != nil {
				return err
			}
			for _, seg := range planned {
				fmt.Printf("%s\t%d objects\t%d bytes\t%s .. %s\n", seg.Name, seg.Objects, seg.Bytes, seg.FirstKey, seg.LastKey)
			}
			logger.Info().Int("segments", len(planned)).Msg("plan completed")
			return nil
		},
	}
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := runContext()
			defer cancel()
			appSvc, logger, err := buildApp(ctx, root, overrides)
			if err != nil {
				return err
			}
			if err := appSvc.Validate(ctx); err != nil {
				return err
			}
			logger.Info().Msg("validation succeeded")
			return nil
		},
	}
}

func newCheckpointCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Show the last committed checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := runContext()
			defer cancel()
			appSvc, _, err := buildApp(ctx, root, overrides)
			if err != nil {
				return err
			}
			last, err := appSvc.LastCheckpoint(ctx)
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Println("no checkpoint recorded")
				return nil
			}
			fmt.Printf("%s .. %s\t%d objects\t%s\n", last.FirstID, last.LastID, last.TotalCount, last.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tiera %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func buildApp(ctx context.Context, root *rootFlags, overrides *overrideFlags) (*app.App, zerolog.Logger, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	applyOverrides(cfg, root, overrides)
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}

	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	store, err := objstore.New(cfg.Source)
	if err != nil {
		return nil, logger, err
	}
	ckpt, err := checkpoint.New(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, logger, err
	}

	var meta metastore.Store
	if cfg.Batch.Mode == "metadata" {
		meta, err = metastore.NewMongo(ctx, cfg.Batch.Mongo.URI, cfg.Batch.Mongo.Database, cfg.Batch.Mongo.Collection)
		if err != nil {
			return nil, logger, err
		}
	}

	return app.New(cfg, store, ckpt, meta, logger, notify.FromConfig(cfg.Notifications)), logger, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.Bucket != "" {
		cfg.Source.Bucket = overrides.Bucket
	}
	if overrides.Prefix != "" {
		cfg.Source.Prefix = overrides.Prefix
	}
	if overrides.S3Endpoint != "" {
		cfg.Source.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3AccessKey != "" {
		cfg.Source.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Source.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Source.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Source.S3.UseSSL = strings.EqualFold(overrides.S3UseSSL, "true") || overrides.S3UseSSL == "1"
	}
	if overrides.S3PathStyle != "" {
		cfg.Source.S3.ForcePathStyle = strings.EqualFold(overrides.S3PathStyle, "true") || overrides.S3PathStyle == "1"
	}

	if overrides.Mode != "" {
		cfg.Batch.Mode = strings.ToLower(overrides.Mode)
	}
	if overrides.MaxItems > 0 {
		cfg.Batch.MaxItems = overrides.MaxItems
	}
	if overrides.StartDate != "" {
		cfg.Batch.StartDate = overrides.StartDate
	}
	if overrides.EndDate != "" {
		cfg.Batch.EndDate = overrides.EndDate
	}
	if overrides.ScratchDir != "" {
		cfg.Fetch.ScratchDir = overrides.ScratchDir
	}
	if overrides.DestPrefix != "" {
		cfg.Archive.DestinationPrefix = overrides.DestPrefix
	}
	if overrides.StorageClass != "" {
		cfg.Archive.StorageClass = strings.ToUpper(overrides.StorageClass)
	}
	if overrides.Format != "" {
		cfg.Archive.Format = strings.ToLower(overrides.Format)
	}
	if overrides.SegmentBytes > 0 {
		cfg.Archive.SegmentBytes = overrides.SegmentBytes
	}
	if overrides.EncryptionKey != "" {
		cfg.Archive.Encryption = true
		cfg.Archive.EncryptionKey = overrides.EncryptionKey
	}
	if overrides.CheckpointTo != "" {
		cfg.Checkpoint.Path = overrides.CheckpointTo
	}

	cfg.Batch.Mode = strings.ToLower(cfg.Batch.Mode)
	cfg.Archive.Format = strings.ToLower(cfg.Archive.Format)
	cfg.Source.Backend = strings.ToLower(cfg.Source.Backend)
}
