package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
	"github.com/Aman-CERP/recyclix/internal/index"
)

// ProjectFile is the per-directory configuration file name.
const ProjectFile = ".recyclix.yaml"

// Config is the complete recyclix configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Index     IndexConfig     `yaml:"index" json:"index"`
	Commit    CommitConfig    `yaml:"commit" json:"commit"`
	Schema    SchemaConfig    `yaml:"schema" json:"schema"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// IndexConfig configures the index service.
type IndexConfig struct {
	// Path is the index directory. Empty keeps the index in memory.
	Path string `yaml:"path" json:"path"`

	BufferBytes int `yaml:"buffer_bytes" json:"buffer_bytes"`

	// EntriesBeforeRecycle is the writer recycle threshold (0 = never).
	EntriesBeforeRecycle int `yaml:"entries_before_recycle" json:"entries_before_recycle"`

	DrainTimeout string `yaml:"drain_timeout" json:"drain_timeout"`

	// ReloadPolicy is one of on_commit_with_delay, on_commit or manual.
	ReloadPolicy string `yaml:"reload_policy" json:"reload_policy"`
	ReloadDelay  string `yaml:"reload_delay" json:"reload_delay"`

	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
}

// CommitConfig configures commit retries.
type CommitConfig struct {
	Retries    int    `yaml:"retries" json:"retries"`
	RetryDelay string `yaml:"retry_delay" json:"retry_delay"`
}

// SchemaConfig declares the document schema for map records.
type SchemaConfig struct {
	Name       string         `yaml:"name" json:"name"`
	PrimaryKey string         `yaml:"primary_key" json:"primary_key"`
	Fields     []engine.Field `yaml:"fields" json:"fields"`
}

// IngestConfig configures the JSONL feeder.
type IngestConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// RateLimit caps records per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// Workers is the number of files read concurrently.
	Workers int `yaml:"workers" json:"workers"`

	// Inbox is the directory watched by `recyclix watch`.
	Inbox    string `yaml:"inbox" json:"inbox"`
	Debounce string `yaml:"debounce" json:"debounce"`
}

// TelemetryConfig configures the commit and recycle journal.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Transport is stdio or http.
	Transport    string `yaml:"transport" json:"transport"`
	Addr         string `yaml:"addr" json:"addr"`
	DefaultLimit int    `yaml:"default_limit" json:"default_limit"`
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Path:                 filepath.Join(".recyclix", "index"),
			BufferBytes:          index.DefaultBufferBytes,
			EntriesBeforeRecycle: index.DefaultEntriesBeforeRecycle,
			DrainTimeout:         "30s",
			ReloadPolicy:         engine.ReloadOnCommitWithDelay.String(),
			ReloadDelay:          "500ms",
			QueryCacheSize:       256,
		},
		Commit: CommitConfig{
			Retries:    index.DefaultCommitRetries,
			RetryDelay: "100ms",
		},
		Schema: SchemaConfig{
			Name:       "records",
			PrimaryKey: "id",
			Fields: []engine.Field{
				{Name: "id", Kind: engine.KindKeyword},
				{Name: "title", Kind: engine.KindText},
				{Name: "body", Kind: engine.KindText},
				{Name: "tags", Kind: engine.KindKeyword},
				{Name: "updated", Kind: engine.KindDateTime},
			},
		},
		Ingest: IngestConfig{
			BatchSize: 500,
			Workers:   2,
			Inbox:     filepath.Join(".recyclix", "inbox"),
			Debounce:  "200ms",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Path:    filepath.Join(".recyclix", "telemetry.db"),
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Server: ServerConfig{
			Transport:    "stdio",
			Addr:         "127.0.0.1:8765",
			DefaultLimit: 10,
		},
	}
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/recyclix/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/recyclix/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "recyclix", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "recyclix", "config.yaml")
	}
	return filepath.Join(home, ".config", "recyclix", "config.yaml")
}

// Load loads configuration for dir. It applies, in order of increasing
// precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/recyclix/config.yaml)
//  3. explicit, or .recyclix.yaml / .recyclix.yml in dir
//  4. Environment variables (RECYCLIX_*)
//
// A missing explicit file is an error; missing implicit files are not.
func Load(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	if user := GetUserConfigPath(); fileExists(user) {
		if err := cfg.loadYAML(user); err != nil {
			return nil, err
		}
	}

	if explicit != "" {
		if !fileExists(explicit) {
			return nil, ierrors.New(ierrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", explicit), nil)
		}
		if err := cfg.loadYAML(explicit); err != nil {
			return nil, err
		}
	} else if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromDir loads .recyclix.yaml, falling back to .recyclix.yml.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{ProjectFile, ".recyclix.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over the current values, so keys absent from the
// file keep their earlier value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeConfigNotFound, fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return ierrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies RECYCLIX_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("RECYCLIX_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("RECYCLIX_RELOAD_POLICY"); v != "" {
		c.Index.ReloadPolicy = v
	}
	if v := os.Getenv("RECYCLIX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RECYCLIX_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("RECYCLIX_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("RECYCLIX_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"RECYCLIX_BUFFER_BYTES", &c.Index.BufferBytes},
		{"RECYCLIX_ENTRIES_BEFORE_RECYCLE", &c.Index.EntriesBeforeRecycle},
		{"RECYCLIX_QUERY_CACHE_SIZE", &c.Index.QueryCacheSize},
		{"RECYCLIX_COMMIT_RETRIES", &c.Commit.Retries},
		{"RECYCLIX_INGEST_BATCH_SIZE", &c.Ingest.BatchSize},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return ierrors.ConfigError(fmt.Sprintf("%s must be an integer, got %q", o.env, v), err)
		}
		*o.dst = n
	}

	if v := os.Getenv("RECYCLIX_INGEST_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return ierrors.ConfigError(fmt.Sprintf("RECYCLIX_INGEST_RATE_LIMIT must be a number, got %q", v), err)
		}
		c.Ingest.RateLimit = f
	}
	return nil
}

// Validate checks the configuration. Schema problems are reported as
// ERR_103_SCHEMA_INVALID, everything else as ERR_102_CONFIG_INVALID.
func (c *Config) Validate() error {
	if _, err := c.IndexOptions(); err != nil {
		return err
	}
	if err := c.IndexSchema().Validate(); err != nil {
		return ierrors.SchemaError(err.Error(), err)
	}

	if c.Ingest.BatchSize < 1 {
		return ierrors.ConfigError(fmt.Sprintf("ingest.batch_size must be at least 1, got %d", c.Ingest.BatchSize), nil)
	}
	if c.Ingest.RateLimit < 0 {
		return ierrors.ConfigError("ingest.rate_limit must not be negative", nil)
	}
	if c.Ingest.Workers < 1 {
		return ierrors.ConfigError(fmt.Sprintf("ingest.workers must be at least 1, got %d", c.Ingest.Workers), nil)
	}
	if _, err := c.IngestDebounce(); err != nil {
		return err
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return ierrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return ierrors.ConfigError("logging.max_size_mb and logging.max_files must not be negative", nil)
	}

	validTransports := map[string]bool{"stdio": true, "http": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return ierrors.ConfigError(fmt.Sprintf("server.transport must be 'stdio' or 'http', got %s", c.Server.Transport), nil)
	}
	if c.Server.DefaultLimit < 1 {
		return ierrors.ConfigError(fmt.Sprintf("server.default_limit must be at least 1, got %d", c.Server.DefaultLimit), nil)
	}
	return nil
}

// IndexSchema returns the configured document schema.
func (c *Config) IndexSchema() engine.Schema {
	return engine.Schema{
		Name:       c.Schema.Name,
		PrimaryKey: c.Schema.PrimaryKey,
		Fields:     append([]engine.Field(nil), c.Schema.Fields...),
	}
}

// IndexOptions converts the index and commit sections to index.Options.
// Observer, Logger and Engine are left for the caller.
func (c *Config) IndexOptions() (index.Options, error) {
	opts := index.DefaultOptions()
	opts.BufferBytes = c.Index.BufferBytes
	opts.EntriesBeforeRecycle = c.Index.EntriesBeforeRecycle
	opts.QueryCacheSize = c.Index.QueryCacheSize
	opts.CommitRetries = c.Commit.Retries

	policy, err := engine.ParseReloadPolicy(c.Index.ReloadPolicy)
	if err != nil {
		return opts, ierrors.ConfigError(err.Error(), err)
	}
	opts.ReloadPolicy = policy

	if opts.ReloadDelay, err = parseDuration("index.reload_delay", c.Index.ReloadDelay); err != nil {
		return opts, err
	}
	if opts.DrainTimeout, err = parseDuration("index.drain_timeout", c.Index.DrainTimeout); err != nil {
		return opts, err
	}
	if opts.RetryDelay, err = parseDuration("commit.retry_delay", c.Commit.RetryDelay); err != nil {
		return opts, err
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// IngestDebounce returns the parsed watch debounce interval.
func (c *Config) IngestDebounce() (time.Duration, error) {
	return parseDuration("ingest.debounce", c.Ingest.Debounce)
}

// parseDuration parses a config duration. Empty means zero.
func parseDuration(key, s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, ierrors.ConfigError(fmt.Sprintf("%s is not a duration: %q", key, s), err)
	}
	if d < 0 {
		return 0, ierrors.ConfigError(fmt.Sprintf("%s must not be negative: %q", key, s), nil)
	}
	return d, nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ierrors.New(ierrors.ErrCodeDirCreate, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ResolvePath makes a relative config path absolute against dir.
func ResolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
