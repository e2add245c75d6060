package cmds

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ragchat/pkg/credentials"
)

func testViper(t *testing.T) (*viper.Viper, string) {
	t.Helper()
	dir := t.TempDir()
	credPath := filepath.Join(dir, "credentials.yaml")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("base-url", "http://localhost:8080", "")
	fs.String("credentials", credPath, "")
	fs.String("cache-db", "", "")
	v := viper.New()
	require.NoError(t, v.BindPFlags(fs))
	return v, credPath
}

func TestOpenSessionRequiresLogin(t *testing.T) {
	v, _ := testViper(t)
	_, err := openSession(v, true)
	require.Error(t, err)

	s, err := openSession(v, false)
	require.NoError(t, err)
	require.Equal(t, "", s.api.Token())
	require.Equal(t, "http://localhost:8080", s.api.BaseURL())
}

func TestOpenSessionUsesStoredToken(t *testing.T) {
	v, credPath := testViper(t)
	store, err := credentials.NewStore(credPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(credentials.Credentials{BaseURL: "https://chat.example.com", Token: "tok"}))

	s, err := openSession(v, true)
	require.NoError(t, err)
	require.Equal(t, "tok", s.api.Token())
	require.Equal(t, "https://chat.example.com", s.api.BaseURL())

	v.Set("base-url", "http://other:9000")
	_, err = openSession(v, true)
	require.Error(t, err)
	s, err = openSession(v, false)
	require.NoError(t, err)
	require.Equal(t, "", s.api.Token())
}

func TestOpenSessionIgnoresExpiredToken(t *testing.T) {
	v, credPath := testViper(t)
	store, err := credentials.NewStore(credPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(credentials.Credentials{
		BaseURL:   "http://localhost:8080",
		Token:     "old",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	_, err = openSession(v, true)
	require.Error(t, err)
}

func TestOpenMirror(t *testing.T) {
	require.Nil(t, openMirror(Settings{}))
	m := openMirror(Settings{CacheDB: filepath.Join(t.TempDir(), "sub", "cache.db")})
	require.NotNil(t, m)
	require.NoError(t, m.Close())
}
