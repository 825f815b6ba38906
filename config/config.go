// Package config loads and persists geosync settings. The filesystem is
// abstracted so tests and embedded hosts can supply an in-memory one.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/geodbio/geosync"
	"github.com/geodbio/geosync/field"
	"github.com/geodbio/geosync/wkt"
)

// API configures the remote service connection.
type API struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	RetryAttempts  int    `json:"retry_attempts"`
}

// Data configures how feature data is processed.
type Data struct {
	CoordinatePrecision int `json:"coordinate_precision"`
	DefaultSRID         int `json:"default_srid"`
	PageSize            int `json:"page_size"`
}

// Logging configures log output.
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Field configures one model attribute.
type Field struct {
	Name     string `json:"name"`
	Remote   string `json:"remote,omitempty"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// Model configures one syncable feature model.
type Model struct {
	// Endpoint overrides the request path, relative to the base URL.
	// May reference {project}.
	Endpoint string `json:"endpoint,omitempty"`

	Fields []Field `json:"fields"`

	// ReadOnlyFields extends the built-in server-managed set.
	ReadOnlyFields []string `json:"read_only_fields,omitempty"`
}

// Config is the complete geosync configuration.
type Config struct {
	API     API              `json:"api"`
	Data    Data             `json:"data"`
	Logging Logging          `json:"logging"`
	Models  map[string]Model `json:"models"`
}

// Default returns the service defaults: 30 second timeout, 3 attempts,
// 6 decimal places, EPSG:4326.
func Default() *Config {
	return &Config{
		API: API{
			TimeoutSeconds: 30,
			RetryAttempts:  3,
		},
		Data: Data{
			CoordinatePrecision: wkt.DefaultPrecision,
			DefaultSRID:         4326,
			PageSize:            200,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Models: make(map[string]Model),
	}
}

// Load reads a config file, filling unset values with defaults.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault returns the parsed file when it exists and defaults
// otherwise.
func LoadOrDefault(fs afero.Fs, path string) (*Config, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return Default(), nil
	}
	return Load(fs, path)
}

// Save writes the config as indented JSON, creating parent directories.
func Save(fs afero.Fs, path string, cfg *Config) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	if c.API.RetryAttempts == 0 {
		c.API.RetryAttempts = def.API.RetryAttempts
	}
	if c.Data.CoordinatePrecision == 0 {
		c.Data.CoordinatePrecision = def.Data.CoordinatePrecision
	}
	if c.Data.DefaultSRID == 0 {
		c.Data.DefaultSRID = def.Data.DefaultSRID
	}
	if c.Data.PageSize == 0 {
		c.Data.PageSize = def.Data.PageSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Models == nil {
		c.Models = make(map[string]Model)
	}
}

// Validate checks the parts a sync cycle cannot run without.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	for name, model := range c.Models {
		if len(model.Fields) == 0 {
			return fmt.Errorf("model %q has no fields", name)
		}
		for _, f := range model.Fields {
			if f.Name == "" {
				return fmt.Errorf("model %q has a field without a name", name)
			}
			if !validFieldType(f.Type) {
				return fmt.Errorf("model %q field %q has unknown type %q", name, f.Name, f.Type)
			}
		}
	}
	return nil
}

// Timeout returns the API timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Schema converts one model's configuration into a field schema.
func (c *Config) Schema(model string) (field.Schema, bool) {
	m, ok := c.Models[model]
	if !ok {
		return field.Schema{}, false
	}

	defs := make([]field.Def, 0, len(m.Fields))
	for _, f := range m.Fields {
		defs = append(defs, field.Def{
			Name:     f.Name,
			Remote:   f.Remote,
			Type:     field.Type(f.Type),
			Required: f.Required,
		})
	}
	return field.Schema{
		Model:    model,
		Defs:     defs,
		ReadOnly: m.ReadOnlyFields,
	}, true
}

// Schemas converts every configured model.
func (c *Config) Schemas() map[string]field.Schema {
	schemas := make(map[string]field.Schema, len(c.Models))
	for name := range c.Models {
		schema, _ := c.Schema(name)
		schemas[name] = schema
	}
	return schemas
}

// ManagerOptions builds geosync manager options from the config.
func (c *Config) ManagerOptions() geosync.ManagerOptions {
	opts := geosync.DefaultManagerOptions()
	opts.Precision = c.Data.CoordinatePrecision
	opts.SRID = c.Data.DefaultSRID
	opts.Timeout = c.Timeout()
	opts.Retry.MaxAttempts = c.API.RetryAttempts
	opts.Schemas = c.Schemas()
	return opts
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "geosync.json"
	}
	return filepath.Join(home, ".config", "geosync", "config.json")
}

func validFieldType(t string) bool {
	switch field.Type(t) {
	case field.TypeString, field.TypeInteger, field.TypeDecimal, field.TypeBoolean,
		field.TypeDate, field.TypeDateTime, field.TypeGeometry:
		return true
	}
	return false
}
