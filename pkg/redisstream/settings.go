package redisstream

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings holds Redis Streams transport configuration for change notifications.
type Settings struct {
	Enabled  bool
	Addr     string
	Group    string
	Consumer string
}

func DefaultSettings() Settings {
	return Settings{Addr: "localhost:6379", Group: "ragchat-ui", Consumer: "ui-1"}
}

// AddFlags registers the redis-* flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := DefaultSettings()
	fs.Bool("redis-enabled", false, "Mirror chat notifications to Redis Streams")
	fs.String("redis-addr", d.Addr, "Redis address host:port")
	fs.String("redis-group", d.Group, "Redis consumer group")
	fs.String("redis-consumer", d.Consumer, "Redis consumer name")
}

// FromViper reads the settings bound under the redis-* keys.
func FromViper(v *viper.Viper) Settings {
	s := DefaultSettings()
	s.Enabled = v.GetBool("redis-enabled")
	if addr := strings.TrimSpace(v.GetString("redis-addr")); addr != "" {
		s.Addr = addr
	}
	if g := strings.TrimSpace(v.GetString("redis-group")); g != "" {
		s.Group = g
	}
	if c := strings.TrimSpace(v.GetString("redis-consumer")); c != "" {
		s.Consumer = c
	}
	return s
}

func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Addr == "" {
		return errors.New("redisstream: addr is required when enabled")
	}
	if s.Group == "" || s.Consumer == "" {
		return errors.New("redisstream: group and consumer are required when enabled")
	}
	return nil
}
