package chatclient

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// Label is the short status text the original web UI showed next to the composer.
func (s State) Label() string {
	switch s {
	case StateOpen:
		return "Live"
	case StateConnecting:
		return "Connecting"
	case StateError:
		return "Offline"
	case StateIdle, StateClosed:
		return "Idle"
	default:
		return "Idle"
	}
}

type TransportEventKind int

const (
	TransportOpen TransportEventKind = iota
	TransportMessage
	TransportClose
	TransportError
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportOpen:
		return "open"
	case TransportMessage:
		return "message"
	case TransportClose:
		return "close"
	case TransportError:
		return "error"
	default:
		return "unknown"
	}
}

// TransportEvent is one lifecycle or data signal from a transport.
type TransportEvent struct {
	Kind TransportEventKind
	Data []byte
	Err  error
}

// Transport is a live duplex connection. Close must be safe to call more than once.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Dialer opens transports. Dial returns as soon as the connection attempt is under way; the
// transport reports readiness, inbound frames and termination through emit, in order.
type Dialer interface {
	Dial(ctx context.Context, target Target, emit func(TransportEvent)) (Transport, error)
}

type DialerFunc func(ctx context.Context, target Target, emit func(TransportEvent)) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, target Target, emit func(TransportEvent)) (Transport, error) {
	return f(ctx, target, emit)
}

// Target is the handshake destination of one transport.
type Target struct {
	URL            string
	ConversationID string
}

// BuildTarget derives the websocket URL from the REST base URL. The token and conversation id
// travel as query parameters on the upgrade request, so this must only be used over TLS outside
// of local development.
func BuildTarget(baseURL, token, convID string) (Target, error) {
	if strings.TrimSpace(token) == "" {
		return Target{}, errors.New("chatclient: token is required")
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return Target{}, errors.Wrap(err, "chatclient: parse base url")
	}
	if u.Host == "" {
		return Target{}, errors.Errorf("chatclient: base url %q has no host", baseURL)
	}
	scheme := "ws"
	if strings.EqualFold(u.Scheme, "https") {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("token", token)
	if convID != "" {
		q.Set("convId", convID)
	}
	ws := url.URL{Scheme: scheme, Host: u.Host, Path: "/ws/chat", RawQuery: q.Encode()}
	return Target{URL: ws.String(), ConversationID: convID}, nil
}
