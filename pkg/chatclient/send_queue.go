package chatclient

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/ragchat/pkg/protocol"
)

// ErrQueueFull is returned by Enqueue when a depth cap is configured and reached.
var ErrQueueFull = errors.New("send queue: full")

type queuedSend struct {
	Envelope   protocol.SendEnvelope
	EnqueuedAt time.Time
}

// SendQueue buffers outbound envelopes until the transport is ready.
//
// Depth is unbounded unless WithMaxDepth is given. Chat traffic is low volume, but a client that
// never reaches OPEN keeps every message it was asked to send in memory.
type SendQueue struct {
	mu       sync.Mutex
	queue    []queuedSend
	maxDepth int
}

type SendQueueOption func(*SendQueue)

// WithMaxDepth caps the queue; Enqueue then rejects with ErrQueueFull instead of growing.
func WithMaxDepth(n int) SendQueueOption {
	return func(q *SendQueue) {
		if n > 0 {
			q.maxDepth = n
		}
	}
}

func NewSendQueue(opts ...SendQueueOption) *SendQueue {
	q := &SendQueue{}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends to the tail. It never blocks.
func (q *SendQueue) Enqueue(env protocol.SendEnvelope) error {
	if q == nil {
		return errors.New("send queue: nil queue")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxDepth > 0 && len(q.queue) >= q.maxDepth {
		return ErrQueueFull
	}
	q.queue = append(q.queue, queuedSend{Envelope: env, EnqueuedAt: time.Now()})
	return nil
}

// Drain hands queued envelopes to send, head first, for as long as ready reports true.
// An item is popped only after send accepted it; a send error stops the drain and leaves the
// item at the head. It returns how many items were sent.
func (q *SendQueue) Drain(ready func() bool, send func(protocol.SendEnvelope) error) (int, error) {
	if q == nil || send == nil {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	sent := 0
	for len(q.queue) > 0 {
		if ready != nil && !ready() {
			return sent, nil
		}
		head := q.queue[0]
		if err := send(head.Envelope); err != nil {
			return sent, errors.Wrapf(err, "send queue: send %s", head.Envelope.MessageID)
		}
		q.queue[0] = queuedSend{}
		q.queue = q.queue[1:]
		sent++
	}
	q.queue = nil
	return sent, nil
}

func (q *SendQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Reset discards everything queued and returns how many items were dropped.
func (q *SendQueue) Reset() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.queue)
	q.queue = nil
	return n
}

// Snapshot returns the queued envelopes in send order.
func (q *SendQueue) Snapshot() []protocol.SendEnvelope {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]protocol.SendEnvelope, 0, len(q.queue))
	for _, item := range q.queue {
		out = append(out, item.Envelope)
	}
	return out
}
