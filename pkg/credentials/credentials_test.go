package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTripAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	s, err := NewStore(path)
	require.NoError(t, err)

	_, ok, err := s.Load()
	require.NoError(t, err)
	require.False(t, ok)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(Credentials{BaseURL: "http://localhost:8080", Token: "tok", Username: "ana", ExpiresAt: exp}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	c, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok", c.Token)
	require.Equal(t, "ana", c.Username)
	require.True(t, c.ExpiresAt.Equal(exp))

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	_, ok, err = s.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSaveRejectsEmptyToken(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "c.yaml"))
	require.NoError(t, err)
	require.Error(t, s.Save(Credentials{BaseURL: "http://x"}))
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unterminated"), 0o600))
	s, err := NewStore(path)
	require.NoError(t, err)
	_, _, err = s.Load()
	require.Error(t, err)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	require.False(t, Credentials{}.Expired(now))
	require.True(t, Credentials{ExpiresAt: now.Add(-time.Second)}.Expired(now))
	require.False(t, Credentials{ExpiresAt: now.Add(time.Hour)}.Expired(now))
}

func TestDefaultPathExpandsHome(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	require.NotContains(t, s.Path(), "~")
	require.Equal(t, "credentials.yaml", filepath.Base(s.Path()))
}
