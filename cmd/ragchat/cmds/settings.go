package cmds

import (
	"context"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/go-go-golems/ragchat/pkg/api"
	"github.com/go-go-golems/ragchat/pkg/credentials"
	"github.com/go-go-golems/ragchat/pkg/events"
	"github.com/go-go-golems/ragchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/ragchat/pkg/redisstream"
)

// Settings are the global flags every command shares.
type Settings struct {
	BaseURL         string
	CredentialsPath string
	CacheDB         string
	Redis           redisstream.Settings
}

func SettingsFromViper(v *viper.Viper) Settings {
	return Settings{
		BaseURL:         strings.TrimSpace(v.GetString("base-url")),
		CredentialsPath: v.GetString("credentials"),
		CacheDB:         strings.TrimSpace(v.GetString("cache-db")),
		Redis:           redisstream.FromViper(v),
	}
}

// session is what most commands start from: an api client carrying the stored token.
type session struct {
	settings Settings
	creds    *credentials.Store
	stored   credentials.Credentials
	api      *api.Client
}

// openSession builds the api client. When requireToken is set, a missing or expired token is an
// error telling the user to log in.
func openSession(v *viper.Viper, requireToken bool) (*session, error) {
	s := SettingsFromViper(v)
	store, err := credentials.NewStore(s.CredentialsPath)
	if err != nil {
		return nil, err
	}
	stored, ok, err := store.Load()
	if err != nil {
		return nil, err
	}
	baseURL := s.BaseURL
	if ok && stored.BaseURL != "" && !v.IsSet("base-url") {
		baseURL = stored.BaseURL
	}
	if ok && stored.Expired(time.Now()) {
		ok = false
	}
	if requireToken && !ok {
		return nil, errors.New("not logged in, run `ragchat login` first")
	}
	if ok && stored.BaseURL != "" && stored.BaseURL != baseURL {
		// a token for another backend is useless here
		if requireToken {
			return nil, errors.Errorf("stored token belongs to %s, log in to %s first", stored.BaseURL, baseURL)
		}
		ok = false
	}

	var opts []api.Option
	if ok {
		opts = append(opts, api.WithToken(stored.Token))
	}
	client, err := api.NewClient(baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &session{settings: s, creds: store, stored: stored, api: client}, nil
}

// saveLogin persists the token of a successful login or registration.
func (s *session) saveLogin(resp api.AuthResponse) error {
	c := credentials.Credentials{
		BaseURL:  s.api.BaseURL(),
		Token:    resp.AccessToken,
		Username: resp.Username,
		Role:     resp.Role,
	}
	if resp.ExpiresInSeconds > 0 {
		c.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresInSeconds) * time.Second).UTC()
	}
	return s.creds.Save(c)
}

// openMirror opens the local cache, or returns nil when it is disabled or unusable.
func openMirror(s Settings) chatstore.MirrorStore {
	if s.CacheDB == "" {
		return nil
	}
	path, err := homedir.Expand(s.CacheDB)
	if err != nil {
		log.Warn().Err(err).Str("path", s.CacheDB).Msg("cache disabled")
		return nil
	}
	if err := ensureParentDir(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cache disabled")
		return nil
	}
	dsn, err := chatstore.SQLiteMirrorDSNForFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cache disabled")
		return nil
	}
	m, err := chatstore.NewSQLiteMirrorStore(dsn)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cache disabled")
		return nil
	}
	return m
}

// buildNotifier wires the notification bus, on Redis Streams when enabled.
func buildNotifier(ctx context.Context, s redisstream.Settings) (*events.Notifier, error) {
	logger := events.NewZerologAdapter(log.Logger)
	pub, sub, err := redisstream.BuildPubSub(s, logger)
	if err != nil {
		return nil, err
	}
	if s.Enabled {
		for _, topic := range []string{events.TopicState, events.TopicTranscript, events.TopicConversations} {
			if err := redisstream.EnsureGroupAtTail(ctx, s.Addr, topic, s.Group); err != nil {
				_ = pub.Close()
				return nil, err
			}
		}
	}
	return events.NewNotifier(events.WithPublisher(pub), events.WithSubscriber(sub), events.WithLogger(logger)), nil
}
