package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	IngestServerAddr   string `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr    string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	MaxEventSize       int64  `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576"` // 1MB
	PIIRedactionFields string `env:"PII_REDACTION_FIELDS" envDefault:"email,password,credit_card,ssn"`

	Forwarder ForwarderConfig
	HTTP      HTTPConfig
	Syslog    SyslogConfig
	Splunk    SplunkConfig
	Azure     AzureConfig
	Elastic   ElasticConfig
	Kafka     KafkaConfig
	Source    SourceConfig
	Auth      AuthConfig
	Archive   ArchiveConfig
}

// ForwarderConfig controls buffering and flush cadence.
type ForwarderConfig struct {
	BatchSize     int           `env:"FORWARDER_BATCH_SIZE" envDefault:"100"`
	FlushInterval time.Duration `env:"FORWARDER_FLUSH_INTERVAL" envDefault:"5s"`
	ReportBuffer  int           `env:"FORWARDER_REPORT_BUFFER" envDefault:"64"`
}

// HTTPConfig is shared by the HTTP connectors.
type HTTPConfig struct {
	Timeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	RateLimitRPS float64       `env:"HTTP_RATE_LIMIT_RPS" envDefault:"0"`
}

type SyslogConfig struct {
	Enabled   bool   `env:"SYSLOG_ENABLED" envDefault:"false"`
	Host      string `env:"SYSLOG_HOST"`
	Port      int    `env:"SYSLOG_PORT" envDefault:"514"`
	Protocol  string `env:"SYSLOG_PROTOCOL" envDefault:"udp"`
	Format    string `env:"SYSLOG_FORMAT" envDefault:"syslog"`
	TLSVerify bool   `env:"SYSLOG_TLS_VERIFY" envDefault:"true"`
	Facility  int    `env:"SYSLOG_FACILITY" envDefault:"10"`
	AppName   string `env:"SYSLOG_APP_NAME" envDefault:"nexora-aed"`
}

type SplunkConfig struct {
	Enabled    bool   `env:"SPLUNK_ENABLED" envDefault:"false"`
	URL        string `env:"SPLUNK_HEC_URL"`
	Token      string `env:"SPLUNK_HEC_TOKEN"`
	Index      string `env:"SPLUNK_INDEX"`
	SourceType string `env:"SPLUNK_SOURCETYPE" envDefault:"nexora:security"`
	Gzip       bool   `env:"SPLUNK_GZIP" envDefault:"false"`
}

type AzureConfig struct {
	Enabled     bool   `env:"AZURE_ENABLED" envDefault:"false"`
	WorkspaceID string `env:"AZURE_WORKSPACE_ID"`
	SharedKey   string `env:"AZURE_SHARED_KEY"`
	LogType     string `env:"AZURE_LOG_TYPE" envDefault:"NexoraSecurityEvents"`
	// Endpoint overrides the workspace-derived ingestion URL.
	Endpoint string `env:"AZURE_ENDPOINT"`
}

type ElasticConfig struct {
	Enabled  bool   `env:"ELASTIC_ENABLED" envDefault:"false"`
	URL      string `env:"ELASTIC_URL"`
	APIKey   string `env:"ELASTIC_API_KEY"`
	Username string `env:"ELASTIC_USERNAME"`
	Password string `env:"ELASTIC_PASSWORD"`
	Index    string `env:"ELASTIC_INDEX" envDefault:"nexora-security-events"`
}

type KafkaConfig struct {
	Enabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"security-events"`
}

// SourceConfig is the optional Redis stream that other services publish to.
type SourceConfig struct {
	RedisAddr string `env:"REDIS_ADDR"`
	Stream    string `env:"REDIS_STREAM" envDefault:"security_events"`
	Group     string `env:"REDIS_GROUP" envDefault:"forwarder_group"`
}

type AuthConfig struct {
	PostgresURL    string        `env:"POSTGRES_URL"`
	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`
	JWTSecret      string        `env:"INGEST_JWT_SECRET"`
}

type ArchiveConfig struct {
	Dir         string `env:"DROP_ARCHIVE_DIR"`
	SegmentSize int64  `env:"DROP_ARCHIVE_SEGMENT_SIZE_BYTES" envDefault:"104857600"`  // 100MB
	MaxDiskSize int64  `env:"DROP_ARCHIVE_MAX_SIZE_BYTES" envDefault:"1073741824"` // 1GB
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field rules env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Forwarder.BatchSize < 1 || c.Forwarder.BatchSize > 1000 {
		errs = append(errs, fmt.Errorf("FORWARDER_BATCH_SIZE must be between 1 and 1000, got %d", c.Forwarder.BatchSize))
	}
	if c.Forwarder.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("FORWARDER_FLUSH_INTERVAL must be positive, got %s", c.Forwarder.FlushInterval))
	}
	if c.Forwarder.ReportBuffer < 0 {
		errs = append(errs, fmt.Errorf("FORWARDER_REPORT_BUFFER must not be negative"))
	}

	switch strings.ToLower(c.Syslog.Protocol) {
	case "udp", "tcp", "tls":
	default:
		errs = append(errs, fmt.Errorf("SYSLOG_PROTOCOL must be udp, tcp or tls, got %q", c.Syslog.Protocol))
	}
	switch strings.ToLower(c.Syslog.Format) {
	case "syslog", "cef", "leef":
	default:
		errs = append(errs, fmt.Errorf("SYSLOG_FORMAT must be syslog, cef or leef, got %q", c.Syslog.Format))
	}
	if c.Syslog.Facility < 0 || c.Syslog.Facility > 23 {
		errs = append(errs, fmt.Errorf("SYSLOG_FACILITY must be between 0 and 23, got %d", c.Syslog.Facility))
	}

	return errors.Join(errs...)
}

// RedactionFields splits PIIRedactionFields into trimmed, non-empty names.
func (c *Config) RedactionFields() []string {
	var fields []string
	for _, f := range strings.Split(c.PIIRedactionFields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
