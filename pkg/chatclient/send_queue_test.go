package chatclient

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/ragchat/pkg/protocol"
)

func sendEnv(id string) protocol.SendEnvelope {
	return protocol.NewSendEnvelope("c1", id, "text "+id, 1)
}

func TestSendQueueDrainsInOrderExactlyOnce(t *testing.T) {
	q := NewSendQueue()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Enqueue(sendEnv(id)))
	}

	var sent []string
	n, err := q.Drain(func() bool { return true }, func(e protocol.SendEnvelope) error {
		sent = append(sent, e.MessageID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []string{"a", "b", "c", "d"}, sent)
	require.Equal(t, 0, q.Len())

	n, err = q.Drain(func() bool { return true }, func(e protocol.SendEnvelope) error {
		sent = append(sent, e.MessageID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Len(t, sent, 4)
}

func TestSendQueueStopsWhenReadinessIsLost(t *testing.T) {
	q := NewSendQueue()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(sendEnv(id)))
	}

	ready := true
	var sent []string
	n, err := q.Drain(func() bool { return ready }, func(e protocol.SendEnvelope) error {
		sent = append(sent, e.MessageID)
		ready = false
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"a"}, sent)
	require.Equal(t, []string{"b", "c"}, queuedIDs(q.Snapshot()))
}

func TestSendQueueKeepsHeadOnSendError(t *testing.T) {
	q := NewSendQueue()
	require.NoError(t, q.Enqueue(sendEnv("a")))
	require.NoError(t, q.Enqueue(sendEnv("b")))

	n, err := q.Drain(nil, func(protocol.SendEnvelope) error { return errors.New("broken pipe") })
	require.Error(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, []string{"a", "b"}, queuedIDs(q.Snapshot()))
}

func TestSendQueueMaxDepth(t *testing.T) {
	q := NewSendQueue(WithMaxDepth(2))
	require.NoError(t, q.Enqueue(sendEnv("a")))
	require.NoError(t, q.Enqueue(sendEnv("b")))
	require.ErrorIs(t, q.Enqueue(sendEnv("c")), ErrQueueFull)
	require.Equal(t, 2, q.Len())
}

func TestSendQueueReset(t *testing.T) {
	q := NewSendQueue()
	require.NoError(t, q.Enqueue(sendEnv("a")))
	require.Equal(t, 1, q.Reset())
	require.Equal(t, 0, q.Len())
	require.Equal(t, 0, q.Reset())
}

func queuedIDs(envs []protocol.SendEnvelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.MessageID)
	}
	return out
}
