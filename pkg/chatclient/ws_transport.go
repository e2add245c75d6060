package chatclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var errTransportNotOpen = errors.New("websocket transport: not open")

// WebsocketDialer is the production Dialer, backed by gorilla/websocket.
type WebsocketDialer struct {
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
}

type WebsocketDialerOption func(*WebsocketDialer)

func WithHandshakeTimeout(d time.Duration) WebsocketDialerOption {
	return func(w *WebsocketDialer) {
		if d > 0 {
			dialer := *w.dialer
			dialer.HandshakeTimeout = d
			w.dialer = &dialer
		}
	}
}

func WithWriteTimeout(d time.Duration) WebsocketDialerOption {
	return func(w *WebsocketDialer) {
		w.writeTimeout = d
	}
}

// WithHeader adds headers to the upgrade request (for example an Origin).
func WithHeader(h http.Header) WebsocketDialerOption {
	return func(w *WebsocketDialer) {
		w.header = h.Clone()
	}
}

func NewWebsocketDialer(opts ...WebsocketDialerOption) *WebsocketDialer {
	dialer := *websocket.DefaultDialer
	w := &WebsocketDialer{
		dialer:       &dialer,
		writeTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

var _ Dialer = (*WebsocketDialer)(nil)

func (d *WebsocketDialer) Dial(ctx context.Context, target Target, emit func(TransportEvent)) (Transport, error) {
	if target.URL == "" {
		return nil, errors.New("websocket transport: empty target url")
	}
	if emit == nil {
		emit = func(TransportEvent) {}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	t := &wsTransport{
		convID:       target.ConversationID,
		cancel:       cancel,
		writeTimeout: d.writeTimeout,
	}
	go t.run(runCtx, d.dialer, target.URL, d.header, emit)
	return t, nil
}

type wsTransport struct {
	convID       string
	cancel       context.CancelFunc
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (t *wsTransport) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, emit func(TransportEvent)) {
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if t.isClosed() {
			emit(TransportEvent{Kind: TransportClose})
			return
		}
		log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", t.convID).Msg("websocket dial failed")
		emit(TransportEvent{Kind: TransportError, Err: err})
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		emit(TransportEvent{Kind: TransportClose})
		return
	}
	t.conn = conn
	t.mu.Unlock()

	log.Debug().Str("component", "chatclient").Str("conv_id", t.convID).Msg("websocket open")
	emit(TransportEvent{Kind: TransportOpen})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if t.isClosed() || errors.As(err, &ce) {
				emit(TransportEvent{Kind: TransportClose, Err: err})
			} else {
				log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", t.convID).Msg("websocket read failed")
				emit(TransportEvent{Kind: TransportError, Err: err})
			}
			_ = t.Close()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		emit(TransportEvent{Kind: TransportMessage, Data: data})
	}
}

func (t *wsTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()
	if conn == nil || closed {
		return errTransportNotOpen
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "websocket transport: write")
	}
	return nil
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		t.mu.Unlock()
		t.cancel()
		if conn == nil {
			return
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = conn.Close()
	})
	return err
}
