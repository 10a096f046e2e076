package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Forwarder.BatchSize != 100 {
		t.Errorf("expected batch size 100, got %d", cfg.Forwarder.BatchSize)
	}
	if cfg.Forwarder.FlushInterval != 5*time.Second {
		t.Errorf("expected 5s flush interval, got %s", cfg.Forwarder.FlushInterval)
	}
	if cfg.HTTP.Timeout != 10*time.Second {
		t.Errorf("expected 10s HTTP timeout, got %s", cfg.HTTP.Timeout)
	}
	if cfg.Syslog.Port != 514 || cfg.Syslog.Facility != 10 || !cfg.Syslog.TLSVerify {
		t.Errorf("unexpected syslog defaults: %+v", cfg.Syslog)
	}
	if cfg.Syslog.Enabled || cfg.Splunk.Enabled || cfg.Azure.Enabled || cfg.Elastic.Enabled || cfg.Kafka.Enabled {
		t.Error("integrations must be disabled by default")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("FORWARDER_BATCH_SIZE", "25")
	t.Setenv("FORWARDER_FLUSH_INTERVAL", "250ms")
	t.Setenv("SYSLOG_ENABLED", "true")
	t.Setenv("SYSLOG_PROTOCOL", "tls")
	t.Setenv("SYSLOG_FORMAT", "cef")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Forwarder.BatchSize != 25 || cfg.Forwarder.FlushInterval != 250*time.Millisecond {
		t.Errorf("unexpected forwarder config: %+v", cfg.Forwarder)
	}
	if !cfg.Syslog.Enabled || cfg.Syslog.Protocol != "tls" || cfg.Syslog.Format != "cef" {
		t.Errorf("unexpected syslog config: %+v", cfg.Syslog)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Forwarder: ForwarderConfig{BatchSize: 100, FlushInterval: time.Second},
			Syslog:    SyslogConfig{Protocol: "udp", Format: "syslog", Facility: 10},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"batch size zero", func(c *Config) { c.Forwarder.BatchSize = 0 }, true},
		{"batch size above buffer cap", func(c *Config) { c.Forwarder.BatchSize = 1001 }, true},
		{"non-positive interval", func(c *Config) { c.Forwarder.FlushInterval = 0 }, true},
		{"unknown protocol", func(c *Config) { c.Syslog.Protocol = "sctp" }, true},
		{"unknown format", func(c *Config) { c.Syslog.Format = "gelf" }, true},
		{"facility out of range", func(c *Config) { c.Syslog.Facility = 24 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedactionFields(t *testing.T) {
	c := Config{PIIRedactionFields: " email, ,password ,"}
	got := c.RedactionFields()
	if len(got) != 2 || got[0] != "email" || got[1] != "password" {
		t.Errorf("unexpected fields: %v", got)
	}
}
