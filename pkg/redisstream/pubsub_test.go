package redisstream

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestBuildPubSubDisabledUsesInMemory(t *testing.T) {
	pub, sub, err := BuildPubSub(DefaultSettings(), watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := sub.Subscribe(ctx, "ragchat.state")
	require.NoError(t, err)
	require.NoError(t, pub.Publish("ragchat.state", message.NewMessage("1", []byte(`{}`))))

	select {
	case msg := <-ch:
		require.Equal(t, "1", msg.UUID)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	s.Enabled = true
	require.NoError(t, s.Validate())
	s.Addr = ""
	require.Error(t, s.Validate())
	_, _, err := BuildPubSub(s, watermill.NopLogger{})
	require.Error(t, err)
}

func TestFromViperReadsFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--redis-enabled", "--redis-addr", "redis:6380"}))
	v := viper.New()
	require.NoError(t, v.BindPFlags(fs))

	s := FromViper(v)
	require.True(t, s.Enabled)
	require.Equal(t, "redis:6380", s.Addr)
	require.Equal(t, "ragchat-ui", s.Group)
}

func TestIsBusyGroup(t *testing.T) {
	require.True(t, isBusyGroup(errors.New("BUSYGROUP Consumer Group name already exists")))
	require.False(t, isBusyGroup(errors.New("connection refused")))
	require.False(t, isBusyGroup(nil))
}
