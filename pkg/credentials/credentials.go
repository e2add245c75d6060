// Package credentials keeps the session token between CLI invocations in a small yaml file.
package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "~/.ragchat/credentials.yaml"

// Credentials is what a successful login leaves behind.
type Credentials struct {
	BaseURL   string    `yaml:"base_url"`
	Token     string    `yaml:"token"`
	Username  string    `yaml:"username,omitempty"`
	Role      string    `yaml:"role,omitempty"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

// Expired reports whether the token has a known expiry that is past at now.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type Store struct {
	path string
}

// NewStore resolves path (with ~ expansion). An empty path means DefaultPath.
func NewStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "credentials: expand %s", path)
	}
	return &Store{path: expanded}, nil
}

func (s *Store) Path() string { return s.path }

// Load returns the stored credentials. A missing file is not an error; ok is false.
func (s *Store) Load() (Credentials, bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, errors.Wrap(err, "credentials: read")
	}
	var c Credentials
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Credentials{}, false, errors.Wrapf(err, "credentials: parse %s", s.path)
	}
	if c.Token == "" {
		return Credentials{}, false, nil
	}
	return c, true, nil
}

func (s *Store) Save(c Credentials) error {
	if c.Token == "" {
		return errors.New("credentials: refusing to save an empty token")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "credentials: create directory")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "credentials: encode")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "credentials: write")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "credentials: replace")
	}
	return nil
}

// Clear removes the file. Clearing twice is fine.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "credentials: remove")
	}
	return nil
}
