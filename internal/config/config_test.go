package config

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Empty(t, cfg.APIKey)
	assert.Empty(t, cfg.Database)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("DISTCONV_API_KEY", "env-key")
	os.Setenv("DISTCONV_PORT", "9090")

	cfg, err := Load([]string{"--api-key", "flag-key", "--database", "/tmp/d.db"})
	require.NoError(t, err)
	assert.Equal(t, "flag-key", cfg.APIKey)
	assert.Equal(t, "9090", cfg.Port, "port not overridden by a flag keeps the env value")
	assert.Equal(t, "/tmp/d.db", cfg.Database)
}

func TestLoad_UnknownFlagsAreIgnored(t *testing.T) {
	os.Clearenv()
	cfg, err := Load([]string{"--not-a-real-flag", "value", "--port", "9191", "--also-bogus"})
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.Port)
}

func TestLoad_InvalidPortErrors(t *testing.T) {
	os.Clearenv()
	_, err := Load([]string{"--port", "not-a-number"})
	require.Error(t, err)
}

func TestLoad_HelpRequested(t *testing.T) {
	os.Clearenv()
	_, err := Load([]string{"--help"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHelpRequested))
}
