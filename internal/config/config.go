// Package config loads herbaltrace.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "herbaltrace.yml"

// Config models herbaltrace.yml.
type Config struct {
	Database   DatabaseConfig            `yaml:"database"`
	Ledger     LedgerConfig              `yaml:"ledger"`
	Identities map[string]IdentityConfig `yaml:"identities"`
	Outbox     OutboxConfig              `yaml:"outbox"`
	Blob       BlobConfig                `yaml:"blob"`
	Metrics    MetricsConfig             `yaml:"metrics"`
	Log        LogConfig                 `yaml:"log"`
	QR         QRConfig                  `yaml:"qr"`
}

// DatabaseConfig selects the off-chain mirror store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// LedgerConfig describes how to reach the chaincode.
type LedgerConfig struct {
	Mode            string        `yaml:"mode"` // fabric | local
	PeerEndpoint    string        `yaml:"peer_endpoint"`
	GatewayPeer     string        `yaml:"gateway_peer"`
	TLSCertPath     string        `yaml:"tls_cert_path"`
	Channel         string        `yaml:"channel"`
	Chaincode       string        `yaml:"chaincode"`
	AdminIdentity   string        `yaml:"admin_identity"`
	EvaluateTimeout time.Duration `yaml:"evaluate_timeout"`
	EndorseTimeout  time.Duration `yaml:"endorse_timeout"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout"`
	CommitTimeout   time.Duration `yaml:"commit_timeout"`
}

// IdentityConfig points at the enrolment material of one organization.
type IdentityConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// OutboxConfig tunes ledger reconciliation.
type OutboxConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorMaxLen  int           `yaml:"error_max_len"`
}

// BlobConfig selects where QR images are stored.
type BlobConfig struct {
	Driver    string `yaml:"driver"` // fs | s3
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

type QRConfig struct {
	BaseURL string `yaml:"base_url"`
	Size    int    `yaml:"size"`
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file:herbaltrace.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	if c.Ledger.Mode == "" {
		c.Ledger.Mode = "local"
	}
	if c.Ledger.Channel == "" {
		c.Ledger.Channel = "herbchannel"
	}
	if c.Ledger.Chaincode == "" {
		c.Ledger.Chaincode = "herbaltrace"
	}
	if c.Ledger.AdminIdentity == "" {
		c.Ledger.AdminIdentity = "AdminMSP"
	}
	if c.Ledger.EvaluateTimeout <= 0 {
		c.Ledger.EvaluateTimeout = 5 * time.Second
	}
	if c.Ledger.EndorseTimeout <= 0 {
		c.Ledger.EndorseTimeout = 15 * time.Second
	}
	if c.Ledger.SubmitTimeout <= 0 {
		c.Ledger.SubmitTimeout = 5 * time.Second
	}
	if c.Ledger.CommitTimeout <= 0 {
		c.Ledger.CommitTimeout = time.Minute
	}

	if c.Outbox.Workers <= 0 {
		c.Outbox.Workers = 4
	}
	if c.Outbox.QueueSize <= 0 {
		c.Outbox.QueueSize = 256
	}
	if c.Outbox.MaxAttempts <= 0 {
		c.Outbox.MaxAttempts = 1
	}
	if c.Outbox.PollInterval <= 0 {
		c.Outbox.PollInterval = 5 * time.Second
	}
	if c.Outbox.ErrorMaxLen <= 0 {
		c.Outbox.ErrorMaxLen = 500
	}

	if c.Blob.Driver == "" {
		c.Blob.Driver = "fs"
	}
	if c.Blob.Driver == "fs" && c.Blob.Dir == "" {
		c.Blob.Dir = "./blobdata"
	}
	if c.Blob.Region == "" {
		c.Blob.Region = "us-east-1"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.QR.BaseURL == "" {
		c.QR.BaseURL = "https://herbaltrace.example.org/p/"
	}
	if c.QR.Size <= 0 {
		c.QR.Size = 256
	}
}

// Validate checks the config after defaults are applied.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.Ledger.Mode {
	case "local":
	case "fabric":
		if c.Ledger.PeerEndpoint == "" {
			return fmt.Errorf("ledger.peer_endpoint is required in fabric mode")
		}
		if c.Ledger.TLSCertPath == "" {
			return fmt.Errorf("ledger.tls_cert_path is required in fabric mode")
		}
		if len(c.Identities) == 0 {
			return fmt.Errorf("identities are required in fabric mode")
		}
		for msp, id := range c.Identities {
			if id.CertPath == "" || id.KeyPath == "" {
				return fmt.Errorf("identity %s needs cert_path and key_path", msp)
			}
		}
	default:
		return fmt.Errorf("ledger.mode must be fabric or local, got %q", c.Ledger.Mode)
	}

	if c.Outbox.QueueSize < c.Outbox.Workers {
		return fmt.Errorf("outbox.queue_size (%d) must be at least outbox.workers (%d)", c.Outbox.QueueSize, c.Outbox.Workers)
	}

	switch c.Blob.Driver {
	case "fs":
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob.driver must be fs or s3, got %q", c.Blob.Driver)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// FromYAML parses, defaults and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FileName
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return FromYAML(data)
}
