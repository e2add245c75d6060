package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestParseZerologLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseZerologLevel("DEBUG"))
	require.Equal(t, zerolog.ErrorLevel, parseZerologLevel("error"))
	require.Equal(t, zerolog.WarnLevel, parseZerologLevel("nonsense"))
}

func TestLoadConfigFile(t *testing.T) {
	v := viper.New()
	v.Set("config", defaultConfigPath)
	require.NoError(t, loadConfigFile(v))

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base-url: https://chat.example.com\n"), 0o600))
	v = viper.New()
	v.Set("config", path)
	require.NoError(t, loadConfigFile(v))
	require.Equal(t, "https://chat.example.com", v.GetString("base-url"))

	v = viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, loadConfigFile(v))
}
