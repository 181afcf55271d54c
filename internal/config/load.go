package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/tier-archiver/internal/cryptoutil"
)

const (
	envPrefix = "TIERA"

	// DefaultSegmentBytes is the segment budget when none is configured.
	DefaultSegmentBytes = int64(10) << 30 // 10 GiB
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("TIERA_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but TIERA_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("TIERA_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"tiera.yaml",
		"tiera.yml",
		"tiera.toml",
		"tiera.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "tiera")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"tiera.yaml.enc", "tiera.yml.enc", "tiera.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "12h")
	vp.SetDefault("source.backend", "s3")
	vp.SetDefault("batch.mode", "listing")
	vp.SetDefault("batch.size", 500)
	vp.SetDefault("batch.list_retries", 3)
	vp.SetDefault("batch.list_backoff", "5s")
	vp.SetDefault("fetch.concurrency", 10)
	vp.SetDefault("fetch.scratch_dir", "./scratch")
	vp.SetDefault("archive.storage_class", "DEEP_ARCHIVE")
	vp.SetDefault("archive.format", "zip")
	vp.SetDefault("archive.segment_bytes", DefaultSegmentBytes)
	vp.SetDefault("archive.upload_retries", 3)
	vp.SetDefault("archive.upload_backoff", "15s")
	vp.SetDefault("sweep.batch_size", 1000)
	vp.SetDefault("sweep.retry_count", 3)
	vp.SetDefault("sweep.retry_backoff", "10s")
	vp.SetDefault("checkpoint.backend", "file")
	vp.SetDefault("checkpoint.path", "./checkpoints.jsonl")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 12 * time.Hour
	}
	if cfg.Archive.SegmentBytes <= 0 {
		cfg.Archive.SegmentBytes = DefaultSegmentBytes
	}
	if cfg.Fetch.Concurrency <= 0 {
		cfg.Fetch.Concurrency = 10
	}
	if cfg.Sweep.BatchSize <= 0 || cfg.Sweep.BatchSize > 1000 {
		cfg.Sweep.BatchSize = 1000
	}
	if cfg.Sweep.RetryBackoff == 0 {
		cfg.Sweep.RetryBackoff = 10 * time.Second
	}
	if cfg.Batch.ListBackoff == 0 {
		cfg.Batch.ListBackoff = 5 * time.Second
	}
	if cfg.Archive.UploadBackoff == 0 {
		cfg.Archive.UploadBackoff = 15 * time.Second
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Source.Bucket == "" {
		return errors.New("source.bucket is required")
	}
	if c.Archive.DestinationPrefix == "" {
		return errors.New("archive.destination_prefix is required")
	}
	if c.Source.Prefix != "" && strings.HasPrefix(c.Archive.DestinationPrefix, c.Source.Prefix) {
		return fmt.Errorf("archive.destination_prefix %q must not live under source.prefix %q", c.Archive.DestinationPrefix, c.Source.Prefix)
	}
	switch c.Batch.Mode {
	case "listing":
	case "metadata":
		if c.Batch.Mongo.URI == "" {
			return errors.New("batch.mongo.uri is required in metadata mode")
		}
	default:
		return fmt.Errorf("unsupported batch.mode: %s", c.Batch.Mode)
	}
	switch c.Archive.Format {
	case "zip", "tar.zst":
	default:
		return fmt.Errorf("unsupported archive.format: %s", c.Archive.Format)
	}
	if c.Archive.Encryption && c.Archive.EncryptionKey == "" {
		return errors.New("archive.encryption is enabled but encryption_key is empty")
	}
	return nil
}

func expandEnv(cfg *Config) {
	cfg.Source.S3.AccessKey = os.ExpandEnv(cfg.Source.S3.AccessKey)
	cfg.Source.S3.SecretKey = os.ExpandEnv(cfg.Source.S3.SecretKey)
	cfg.Source.S3.SessionToken = os.ExpandEnv(cfg.Source.S3.SessionToken)
	cfg.Archive.EncryptionKey = os.ExpandEnv(cfg.Archive.EncryptionKey)
	cfg.Batch.Mongo.URI = os.ExpandEnv(cfg.Batch.Mongo.URI)
	cfg.Checkpoint.Mongo.URI = os.ExpandEnv(cfg.Checkpoint.Mongo.URI)
	for i := range cfg.Notifications.Webhooks {
		cfg.Notifications.Webhooks[i].URL = os.ExpandEnv(cfg.Notifications.Webhooks[i].URL)
	}
	for i := range cfg.Notifications.Mattermost {
		cfg.Notifications.Mattermost[i].URL = os.ExpandEnv(cfg.Notifications.Mattermost[i].URL)
	}
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
