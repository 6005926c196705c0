package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Project   ProjectConfig   `yaml:"project"`
	Records   RecordsConfig   `yaml:"records"`
	Blobs     BlobsConfig     `yaml:"blobs"`
	Queue     QueueConfig     `yaml:"queue"`
	Auth      AuthConfig      `yaml:"auth"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Notify    NotifyConfig    `yaml:"notify"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ProjectConfig identifies the deployment. The id labels metrics and queue
// messages.
type ProjectConfig struct {
	ID string `yaml:"id"`
}

// Record store backends.
const (
	RecordsDynamoDB = "dynamodb"
	RecordsPostgres = "postgres"
	RecordsMemory   = "memory" // local development only
)

// RecordsConfig selects and configures the record store.
type RecordsConfig struct {
	Backend             string `yaml:"backend"`
	Collection          string `yaml:"collection"`
	AllowlistCollection string `yaml:"allowlist_collection"`
	Region              string `yaml:"region"`
	AWSProfile          string `yaml:"aws_profile"` // Empty string uses default credential chain
	Endpoint            string `yaml:"endpoint"`
	DatabaseURL         string `yaml:"database_url"`
	// AllowedAudiences seeds the memory backend's allow-list.
	AllowedAudiences []string `yaml:"allowed_audiences"`
}

// Blob store backends.
const (
	BlobsS3     = "s3"
	BlobsMemory = "memory"
)

// BlobsConfig configures the blob store.
type BlobsConfig struct {
	Backend      string `yaml:"backend"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	AWSProfile   string `yaml:"aws_profile"`
	Endpoint     string `yaml:"endpoint"` // S3-compatible endpoint (MinIO, R2); empty for AWS
	UploadPrefix string `yaml:"upload_prefix"`
}

// Queue backends.
const (
	QueueSQS    = "sqs"
	QueueAMQP   = "amqp"
	QueueMemory = "memory"
)

// QueueConfig selects and configures the notification transport. Topic is the
// SQS queue URL or the AMQP routing key.
type QueueConfig struct {
	Backend    string `yaml:"backend"`
	Topic      string `yaml:"topic"`
	Region     string `yaml:"region"`
	AWSProfile string `yaml:"aws_profile"`
	URL        string `yaml:"url"`      // AMQP broker URL
	Exchange   string `yaml:"exchange"` // AMQP exchange, empty for the default exchange
}

// Allow-list refresh failure policies.
const (
	PolicyFailClosed = "fail_closed"
	PolicyServeStale = "serve_stale"
)

// Scrub-files authentication modes.
const (
	ScrubAuthOptional = "optional"
	ScrubAuthRequired = "required"
)

// AuthConfig configures identity-token verification.
type AuthConfig struct {
	CacheTTLSeconds        int    `yaml:"cache_ttl_seconds"`
	AllowlistFailurePolicy string `yaml:"allowlist_failure_policy"`
	ScrubFilesAuth         string `yaml:"scrub_files_auth"`
	CertsURL               string `yaml:"certs_url"`
}

// CacheTTL returns the allow-list cache window.
func (c AuthConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// TimeoutsConfig bounds every call to an external service.
type TimeoutsConfig struct {
	RecordsSeconds int `yaml:"records_seconds"`
	BlobsSeconds   int `yaml:"blobs_seconds"`
	QueueSeconds   int `yaml:"queue_seconds"`
}

func (c TimeoutsConfig) Records() time.Duration { return time.Duration(c.RecordsSeconds) * time.Second }
func (c TimeoutsConfig) Blobs() time.Duration   { return time.Duration(c.BlobsSeconds) * time.Second }
func (c TimeoutsConfig) Queue() time.Duration   { return time.Duration(c.QueueSeconds) * time.Second }

// NotifyConfig sizes the asynchronous publish pool.
type NotifyConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// ReconcileConfig controls the republish sweep for unacknowledged uploads.
type ReconcileConfig struct {
	Enabled         bool   `yaml:"enabled"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	GraceSeconds    int    `yaml:"grace_seconds"`
	MaxAttempts     int    `yaml:"max_attempts"`
	RedisURL        string `yaml:"redis_url"`
}

// Interval returns the sweep interval as a duration
func (c ReconcileConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Grace returns how old an unacknowledged record must be before it is republished.
func (c ReconcileConfig) Grace() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 512
	}
	if cfg.Records.Backend == "" {
		cfg.Records.Backend = RecordsDynamoDB
	}
	if cfg.Records.AllowlistCollection == "" {
		cfg.Records.AllowlistCollection = "allowedClientIDs"
	}
	if cfg.Records.Region == "" {
		cfg.Records.Region = "us-east-1"
	}
	if cfg.Blobs.Backend == "" {
		cfg.Blobs.Backend = BlobsS3
	}
	if cfg.Blobs.Region == "" {
		cfg.Blobs.Region = cfg.Records.Region
	}
	if cfg.Blobs.UploadPrefix == "" {
		cfg.Blobs.UploadPrefix = "uploads/"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = QueueSQS
	}
	if cfg.Queue.Region == "" {
		cfg.Queue.Region = cfg.Records.Region
	}
	if cfg.Auth.CacheTTLSeconds == 0 {
		cfg.Auth.CacheTTLSeconds = 60
	}
	if cfg.Auth.AllowlistFailurePolicy == "" {
		cfg.Auth.AllowlistFailurePolicy = PolicyFailClosed
	}
	if cfg.Auth.ScrubFilesAuth == "" {
		cfg.Auth.ScrubFilesAuth = ScrubAuthOptional
	}
	if cfg.Auth.CertsURL == "" {
		cfg.Auth.CertsURL = "https://www.googleapis.com/oauth2/v3/certs"
	}
	if cfg.Timeouts.RecordsSeconds == 0 {
		cfg.Timeouts.RecordsSeconds = 10
	}
	if cfg.Timeouts.BlobsSeconds == 0 {
		cfg.Timeouts.BlobsSeconds = 60
	}
	if cfg.Timeouts.QueueSeconds == 0 {
		cfg.Timeouts.QueueSeconds = 10
	}
	if cfg.Notify.Workers == 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Notify.QueueSize == 0 {
		cfg.Notify.QueueSize = 256
	}
	if cfg.Reconcile.IntervalSeconds == 0 {
		cfg.Reconcile.IntervalSeconds = 120
	}
	if cfg.Reconcile.GraceSeconds == 0 {
		cfg.Reconcile.GraceSeconds = 300
	}
	if cfg.Reconcile.MaxAttempts == 0 {
		cfg.Reconcile.MaxAttempts = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so local
// secrets can live in .env and deployments use real env vars. A missing
// config file is not an error: env vars alone can configure the gateway.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	overrideString(&cfg.Project.ID, "PROJECT_ID")
	overrideString(&cfg.Records.Backend, "RECORD_BACKEND")
	overrideString(&cfg.Records.Collection, "RECORD_COLLECTION")
	overrideString(&cfg.Records.AllowlistCollection, "ALLOWLIST_COLLECTION")
	overrideString(&cfg.Records.Endpoint, "DYNAMODB_ENDPOINT")
	overrideString(&cfg.Records.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.Blobs.Backend, "BLOB_BACKEND")
	overrideString(&cfg.Blobs.Bucket, "BUCKET_NAME")
	overrideString(&cfg.Blobs.Endpoint, "S3_ENDPOINT")
	overrideString(&cfg.Queue.Backend, "QUEUE_BACKEND")
	overrideString(&cfg.Queue.Topic, "QUEUE_TOPIC")
	overrideString(&cfg.Queue.URL, "AMQP_URL")
	overrideString(&cfg.Reconcile.RedisURL, "REDIS_URL")
	overrideString(&cfg.Log.Level, "LOG_LEVEL")
	overrideString(&cfg.Auth.AllowlistFailurePolicy, "ALLOWLIST_FAILURE_POLICY")

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Records.Region = region
		cfg.Blobs.Region = region
		cfg.Queue.Region = region
	}
	cfg.Records.AWSProfile = AWSProfile(cfg.Records.AWSProfile)
	cfg.Blobs.AWSProfile = AWSProfile(cfg.Blobs.AWSProfile)
	cfg.Queue.AWSProfile = AWSProfile(cfg.Queue.AWSProfile)
	if v := os.Getenv("ALLOWED_AUDIENCES"); v != "" {
		cfg.Records.AllowedAudiences = nil
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.Records.AllowedAudiences = append(cfg.Records.AllowedAudiences, a)
			}
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}

	return cfg, nil
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// AWSProfile returns the shared-config profile to use, honoring the override
// env var. On ECS/Lambda the task role is always used.
func AWSProfile(configured string) string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return configured
}

// Validate reports every missing or inconsistent setting. The server refuses
// to start on any error.
func (cfg *Config) Validate() error {
	var errs []error
	require := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	require(cfg.Project.ID, "project.id (PROJECT_ID)")
	require(cfg.Records.Collection, "records.collection (RECORD_COLLECTION)")
	require(cfg.Blobs.Bucket, "blobs.bucket (BUCKET_NAME)")
	require(cfg.Queue.Topic, "queue.topic (QUEUE_TOPIC)")

	switch cfg.Records.Backend {
	case RecordsDynamoDB:
	case RecordsPostgres:
		require(cfg.Records.DatabaseURL, "records.database_url (DATABASE_URL)")
	case RecordsMemory:
	default:
		errs = append(errs, fmt.Errorf("records.backend %q is not one of dynamodb, postgres, memory", cfg.Records.Backend))
	}

	switch cfg.Blobs.Backend {
	case BlobsS3, BlobsMemory:
	default:
		errs = append(errs, fmt.Errorf("blobs.backend %q is not one of s3, memory", cfg.Blobs.Backend))
	}

	switch cfg.Queue.Backend {
	case QueueSQS:
		if cfg.Queue.Topic != "" && !strings.HasPrefix(cfg.Queue.Topic, "http") {
			errs = append(errs, fmt.Errorf("queue.topic must be an SQS queue URL, got %q", cfg.Queue.Topic))
		}
	case QueueAMQP:
		require(cfg.Queue.URL, "queue.url (AMQP_URL)")
	case QueueMemory:
	default:
		errs = append(errs, fmt.Errorf("queue.backend %q is not one of sqs, amqp, memory", cfg.Queue.Backend))
	}

	switch cfg.Auth.AllowlistFailurePolicy {
	case PolicyFailClosed, PolicyServeStale:
	default:
		errs = append(errs, fmt.Errorf("auth.allowlist_failure_policy %q is not one of fail_closed, serve_stale", cfg.Auth.AllowlistFailurePolicy))
	}
	switch cfg.Auth.ScrubFilesAuth {
	case ScrubAuthOptional, ScrubAuthRequired:
	default:
		errs = append(errs, fmt.Errorf("auth.scrub_files_auth %q is not one of optional, required", cfg.Auth.ScrubFilesAuth))
	}

	if cfg.Auth.CacheTTLSeconds < 0 {
		errs = append(errs, errors.New("auth.cache_ttl_seconds must not be negative"))
	}
	if cfg.Notify.Workers < 1 {
		errs = append(errs, errors.New("notify.workers must be at least 1"))
	}

	return errors.Join(errs...)
}
