package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Source        SourceConfig        `mapstructure:"source"`
	Batch         BatchConfig         `mapstructure:"batch"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

// SourceConfig identifies the hot tier the archiver drains.
type SourceConfig struct {
	Backend string  `mapstructure:"backend"` // s3
	Bucket  string  `mapstructure:"bucket"`
	Prefix  string  `mapstructure:"prefix"` // source root; member paths are derived against it
	S3      S3Store `mapstructure:"s3"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	SessionToken    string `mapstructure:"session_token"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

// BatchConfig selects how archival batches are derived and scoped.
type BatchConfig struct {
	Mode        string        `mapstructure:"mode"`       // listing, metadata
	MaxItems    int           `mapstructure:"max_items"`  // cap on enumerated objects per run; 0 = unlimited
	StartDate   string        `mapstructure:"start_date"` // RFC3339 or 2006-01-02, inclusive
	EndDate     string        `mapstructure:"end_date"`
	Size        int64         `mapstructure:"size"` // identifiers per metadata batch
	ListRetries int           `mapstructure:"list_retries"`
	ListBackoff time.Duration `mapstructure:"list_backoff"`
	Mongo       MongoConfig   `mapstructure:"mongo"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type FetchConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	ScratchDir  string `mapstructure:"scratch_dir"`
}

type ArchiveConfig struct {
	DestinationPrefix string        `mapstructure:"destination_prefix"`
	StorageClass      string        `mapstructure:"storage_class"` // DEEP_ARCHIVE, GLACIER, GLACIER_IR, STANDARD_IA
	Format            string        `mapstructure:"format"`        // zip, tar.zst
	SegmentBytes      int64         `mapstructure:"segment_bytes"`
	Encryption        bool          `mapstructure:"encryption"`
	EncryptionKey     string        `mapstructure:"encryption_key"`
	UploadRetries     int           `mapstructure:"upload_retries"`
	UploadBackoff     time.Duration `mapstructure:"upload_backoff"`
}

type SweepConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	RetryCount   int           `mapstructure:"retry_count"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type CheckpointConfig struct {
	Backend string      `mapstructure:"backend"` // file, mongo
	Path    string      `mapstructure:"path"`    // file backend
	Mongo   MongoConfig `mapstructure:"mongo"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}
