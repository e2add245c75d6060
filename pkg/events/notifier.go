// Package events publishes chat client change notifications (connection state, transcript,
// conversation list) over watermill so that renderers can subscribe instead of polling.
//
// The default transport is an in-process gochannel pubsub. pkg/redisstream can provide a Redis
// Streams publisher/subscriber pair instead.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	TopicState         = "ragchat.state"
	TopicTranscript    = "ragchat.transcript"
	TopicConversations = "ragchat.conversations"
)

// StateChanged is published on TopicState.
type StateChanged struct {
	ConversationID string `json:"conversationId"`
	State          string `json:"state"`
	Label          string `json:"label"`
}

// TranscriptChanged is published on TopicTranscript. Finalized is set when a streamed reply
// completed, in which case MessageID names it.
type TranscriptChanged struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	Finalized      bool   `json:"finalized,omitempty"`
	Count          int    `json:"count"`
}

// ConversationsChanged is published on TopicConversations.
type ConversationsChanged struct {
	ActiveID string `json:"activeId,omitempty"`
	Count    int    `json:"count"`
}

type Notifier struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter

	closeOnce sync.Once
}

type NotifierOption func(*Notifier)

func WithPublisher(p message.Publisher) NotifierOption {
	return func(n *Notifier) { n.publisher = p }
}

func WithSubscriber(s message.Subscriber) NotifierOption {
	return func(n *Notifier) { n.subscriber = s }
}

func WithLogger(l watermill.LoggerAdapter) NotifierOption {
	return func(n *Notifier) { n.logger = l }
}

// NewNotifier builds a notifier. Missing publisher or subscriber are filled with a shared
// gochannel pubsub.
func NewNotifier(opts ...NotifierOption) *Notifier {
	n := &Notifier{}
	for _, o := range opts {
		o(n)
	}
	if n.logger == nil {
		n.logger = NewZerologAdapter(log.Logger)
	}
	if n.publisher == nil || n.subscriber == nil {
		gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, n.logger)
		if n.publisher == nil {
			n.publisher = gc
		}
		if n.subscriber == nil {
			n.subscriber = gc
		}
	}
	return n
}

// Publish marshals payload as JSON and publishes it on topic.
func (n *Notifier) Publish(topic string, payload any) error {
	if n == nil {
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "events: marshal %s", topic)
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	if err := n.publisher.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "events: publish %s", topic)
	}
	return nil
}

// Notify is Publish for callers that cannot act on the error.
func (n *Notifier) Notify(topic string, payload any) {
	if err := n.Publish(topic, payload); err != nil {
		log.Warn().Err(err).Str("component", "events").Str("topic", topic).Msg("notification dropped")
	}
}

func (n *Notifier) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if n == nil {
		return nil, errors.New("events: nil notifier")
	}
	ch, err := n.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "events: subscribe %s", topic)
	}
	return ch, nil
}

// Handle subscribes to topic and calls fn with each decoded payload until ctx is done or the
// subscription closes. Messages are acked after fn returns, whatever it returned.
func Handle[T any](ctx context.Context, n *Notifier, topic string, fn func(T)) error {
	ch, err := n.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	go func() {
		for msg := range ch {
			var v T
			if err := json.Unmarshal(msg.Payload, &v); err != nil {
				log.Debug().Err(err).Str("component", "events").Str("topic", topic).Msg("bad payload")
			} else {
				fn(v)
			}
			msg.Ack()
		}
	}()
	return nil
}

func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	var err error
	n.closeOnce.Do(func() {
		perr := n.publisher.Close()
		var serr error
		if any(n.subscriber) != any(n.publisher) {
			serr = n.subscriber.Close()
		}
		if perr != nil {
			err = errors.Wrap(perr, "events: close publisher")
		} else if serr != nil {
			err = errors.Wrap(serr, "events: close subscriber")
		}
	})
	return err
}
