package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 1, cfg.Sessions.MinMinutes)
	assert.Equal(t, 180, cfg.Sessions.MaxMinutes)
	assert.Equal(t, 2500*time.Millisecond, cfg.Notifications.AutoDismiss)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/v0", cfg.Bridge.BasePath)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("api:\n  base_url: https://api.example.test\nsessions:\n  max_minutes: 90\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test", cfg.API.BaseURL)
	assert.Equal(t, 90, cfg.Sessions.MaxMinutes)
	assert.Equal(t, 1, cfg.Sessions.MinMinutes)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidateRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"relative url":   "api:\n  base_url: /api\n",
		"min above max":  "sessions:\n  min_minutes: 30\n  max_minutes: 20\n",
		"zero min":       "sessions:\n  min_minutes: 0\n",
		"no dismiss":     "notifications:\n  auto_dismiss: 0s\n",
		"bad base path":  "bridge:\n  base_path: v0\n",
		"bad log level":  "log:\n  level: loud\n",
		"bad log format": "log:\n  format: xml\n",
		"bad yaml":       "api: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fq config init")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(Path(dir), []byte(GenerateDefault("https://api.example.test")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test", cfg.API.BaseURL)

	cfg, err = FromFile(filepath.Join(dir, "focusquest.yml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8787", cfg.Bridge.Addr)
}

func TestMarshalRoundTripsDurations(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "auto_dismiss: 2.5s")
}
