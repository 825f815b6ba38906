package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodbio/geosync/field"
)

const sampleConfig = `{
  "api": {
    "base_url": "https://api.example.com",
    "token": "secret"
  },
  "data": {
    "coordinate_precision": 4
  },
  "models": {
    "pois": {
      "endpoint": "/v2/{project}/pois",
      "read_only_fields": ["revision"],
      "fields": [
        {"name": "name", "remote": "title", "type": "string", "required": true},
        {"name": "geom", "type": "geometry"}
      ]
    }
  }
}`

func writeConfig(t *testing.T, content string) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/geosync.json", []byte(content), 0o600))
	return fs, "/etc/geosync.json"
}

func TestLoadMergesDefaults(t *testing.T) {
	fs, path := writeConfig(t, sampleConfig)

	cfg, err := Load(fs, path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.API.TimeoutSeconds)
	assert.Equal(t, 3, cfg.API.RetryAttempts)
	assert.Equal(t, 4, cfg.Data.CoordinatePrecision)
	assert.Equal(t, 4326, cfg.Data.DefaultSRID)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing base url", `{"api": {}}`},
		{"invalid json", `{`},
		{"model without fields", `{"api": {"base_url": "x"}, "models": {"pois": {}}}`},
		{"unknown field type", `{"api": {"base_url": "x"}, "models": {"pois": {"fields": [{"name": "a", "type": "blob"}]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, path := writeConfig(t, tt.content)
			_, err := Load(fs, path)
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	fs := afero.NewMemMapFs()

	cfg, err := LoadOrDefault(fs, "/nope.json")
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.API.TimeoutSeconds)
	assert.Empty(t, cfg.API.BaseURL)
}

func TestSaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	cfg := Default()
	cfg.API.BaseURL = "https://api.example.com"
	cfg.Models["pois"] = Model{Fields: []Field{{Name: "name", Type: "string"}}}

	require.NoError(t, Save(fs, "/home/u/.config/geosync/config.json", cfg))

	loaded, err := Load(fs, "/home/u/.config/geosync/config.json")
	require.NoError(t, err)
	assert.Equal(t, cfg.API.BaseURL, loaded.API.BaseURL)
	assert.Contains(t, loaded.Models, "pois")
}

func TestSchema(t *testing.T) {
	fs, path := writeConfig(t, sampleConfig)
	cfg, err := Load(fs, path)
	require.NoError(t, err)

	schema, ok := cfg.Schema("pois")
	require.True(t, ok)
	assert.Equal(t, "pois", schema.Model)
	assert.Equal(t, []string{"revision"}, schema.ReadOnly)
	require.Len(t, schema.Defs, 2)
	assert.Equal(t, field.Def{Name: "name", Remote: "title", Type: field.TypeString, Required: true}, schema.Defs[0])

	_, ok = cfg.Schema("tracks")
	assert.False(t, ok)
}

func TestManagerOptions(t *testing.T) {
	fs, path := writeConfig(t, sampleConfig)
	cfg, err := Load(fs, path)
	require.NoError(t, err)

	opts := cfg.ManagerOptions()
	assert.Equal(t, 4, opts.Precision)
	assert.Equal(t, 4326, opts.SRID)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 3, opts.Retry.MaxAttempts)
	assert.Contains(t, opts.Schemas, "pois")
}
