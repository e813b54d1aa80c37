// Package config loads the docpilot configuration file, resolves secret
// references and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.docpilot/docpilot.yaml"
	DefaultLogDir  = "~/.docpilot/logs/"
)

// Backend types.
const (
	BackendAppwrite = "appwrite"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongodb"
)

// Storage types for issued certificates.
const (
	StorageAppwrite = "appwrite"
	StorageS3       = "s3"
)

// Config is the top-level configuration.
type Config struct {
	Version     int               `yaml:"version"`
	Backend     BackendConfig     `yaml:"backend"`
	Schema      string            `yaml:"schema,omitempty"` // declaration file, empty for the built-in one
	Provision   ProvisionConfig   `yaml:"provision,omitempty"`
	Storage     StorageConfig     `yaml:"storage,omitempty"`
	Certificate CertificateConfig `yaml:"certificate,omitempty"`
	Server      ServerConfig      `yaml:"server,omitempty"`
	Logging     LogConfig         `yaml:"logging,omitempty"`
}

// BackendConfig selects and connects the database being provisioned.
type BackendConfig struct {
	Type      string        `yaml:"type"` // appwrite, postgres, sqlite or mongodb
	Endpoint  string        `yaml:"endpoint,omitempty"`
	ProjectID string        `yaml:"project_id,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	DSN       string        `yaml:"dsn,omitempty"`
	Retries   int           `yaml:"retries,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// ProvisionConfig tunes the attribute readiness wait.
type ProvisionConfig struct {
	WaitTimeout  time.Duration `yaml:"wait_timeout,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// StorageConfig says where issued certificates are uploaded.
type StorageConfig struct {
	Type     string `yaml:"type,omitempty"` // appwrite or s3
	BucketID string `yaml:"bucket_id,omitempty"`
	S3Bucket string `yaml:"s3_bucket,omitempty"`
	S3Prefix string `yaml:"s3_prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Profile  string `yaml:"profile,omitempty"`
}

// CertificateConfig controls generated certificates.
type CertificateConfig struct {
	KeyBits  int           `yaml:"key_bits,omitempty"`
	Validity time.Duration `yaml:"validity,omitempty"`
}

// ServerConfig configures `docpilot serve`.
type ServerConfig struct {
	Addr   string `yaml:"addr,omitempty"`
	APIKey string `yaml:"api_key,omitempty"` // required in X-API-Key when set
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.docpilot/logs/
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file at path, resolves secret references,
// applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.applyDefaults()
	return cfg, nil
}

// LoadOrDefault loads path, or the default path when path is empty. A missing
// default file is not an error; a missing explicit file is.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg, err := Load("")
	if errors.Is(err, os.ErrNotExist) {
		cfg = &Config{Version: CurrentVersion}
		cfg.ApplyEnv(os.Getenv)
		cfg.applyDefaults()
		return cfg, nil
	}
	return cfg, err
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ApplyEnv overrides connection settings from the environment. Empty
// variables are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, name string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	set(&c.Backend.Endpoint, "APPWRITE_ENDPOINT")
	set(&c.Backend.ProjectID, "APPWRITE_PROJECT_ID")
	set(&c.Backend.APIKey, "APPWRITE_API_KEY")
	set(&c.Storage.BucketID, "APPWRITE_BUCKET_ID")
	set(&c.Backend.DSN, "DOCPILOT_DSN")
}

func (c *Config) applyDefaults() {
	if c.Backend.Type == "" {
		c.Backend.Type = BackendAppwrite
	}
	if c.Backend.Type == BackendAppwrite && c.Backend.Endpoint == "" {
		c.Backend.Endpoint = "https://cloud.appwrite.io/v1"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Provision.WaitTimeout == 0 {
		c.Provision.WaitTimeout = 2 * time.Minute
	}
	if c.Provision.PollInterval == 0 {
		c.Provision.PollInterval = 500 * time.Millisecond
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageAppwrite
	}
	if c.Certificate.KeyBits == 0 {
		c.Certificate.KeyBits = 4096
	}
	if c.Certificate.Validity == 0 {
		c.Certificate.Validity = 365 * 24 * time.Hour
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome(DefaultLogDir)
	}
}

// Validate checks the settings that cannot be prompted for.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendAppwrite:
	case BackendPostgres, BackendSQLite, BackendMongo:
		if c.Backend.DSN == "" {
			return fmt.Errorf("backend %s needs a dsn", c.Backend.Type)
		}
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}
	if c.Backend.Retries < 0 {
		return fmt.Errorf("backend retries must not be negative")
	}
	switch c.Storage.Type {
	case StorageAppwrite, StorageS3:
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Certificate.KeyBits < 2048 {
		return fmt.Errorf("certificate key_bits must be at least 2048, got %d", c.Certificate.KeyBits)
	}
	return nil
}

// MissingCredentials lists the Appwrite settings that are still empty.
func (c *Config) MissingCredentials() []string {
	if c.Backend.Type != BackendAppwrite {
		return nil
	}
	var missing []string
	if c.Backend.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.Backend.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if c.Backend.APIKey == "" {
		missing = append(missing, "api_key")
	}
	return missing
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	fields := []struct {
		name string
		val  *string
	}{
		{"backend endpoint", &c.Backend.Endpoint},
		{"backend project_id", &c.Backend.ProjectID},
		{"backend api_key", &c.Backend.APIKey},
		{"backend dsn", &c.Backend.DSN},
		{"storage bucket_id", &c.Storage.BucketID},
		{"server api_key", &c.Server.APIKey},
	}
	for _, f := range fields {
		v, err := ResolveValue(*f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = v
	}
	return nil
}

// ResolveValue resolves a secret reference such as ${ENV:NAME},
// ${VAULT:path#key} or ${AWS_SM:name}. Other values pass through.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
