package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/protocol"
)

var ErrNoConversation = errors.New("chatclient: no active conversation")

// SessionConfig is what a session needs to open a transport.
type SessionConfig struct {
	BaseURL        string
	Token          string
	ConversationID string
}

// SessionController owns the websocket lifecycle of the active conversation.
//
// Every transport event and every user operation is handled under one mutex, so each inbound
// envelope is fully applied before the next one is looked at. Each dial gets a generation
// number; events from a superseded transport are dropped.
type SessionController struct {
	mu sync.Mutex

	dialer     Dialer
	transcript *Transcript
	queue      *SendQueue

	cfg         SessionConfig
	state       State
	gen         uint64
	transport   Transport
	queueConvID string

	onState      func(State)
	onTranscript func(ApplyResult)
	onTitle      func(convID, title string)

	now   func() time.Time
	newID func() string
}

type SessionOption func(*SessionController)

func WithStateObserver(f func(State)) SessionOption {
	return func(c *SessionController) { c.onState = f }
}

// WithTranscriptObserver is called after an inbound envelope or a local send changed the
// transcript.
func WithTranscriptObserver(f func(ApplyResult)) SessionOption {
	return func(c *SessionController) { c.onTranscript = f }
}

// WithTitlePatcher receives chat.title envelopes; empty ids or titles are filtered out before.
func WithTitlePatcher(f func(convID, title string)) SessionOption {
	return func(c *SessionController) { c.onTitle = f }
}

func WithSendQueue(q *SendQueue) SessionOption {
	return func(c *SessionController) {
		if q != nil {
			c.queue = q
		}
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(c *SessionController) {
		if now != nil {
			c.now = now
		}
	}
}

func WithIDGenerator(newID func() string) SessionOption {
	return func(c *SessionController) {
		if newID != nil {
			c.newID = newID
		}
	}
}

func NewSessionController(dialer Dialer, transcript *Transcript, opts ...SessionOption) *SessionController {
	if transcript == nil {
		transcript = NewTranscript()
	}
	c := &SessionController{
		dialer:     dialer,
		transcript: transcript,
		queue:      NewSendQueue(),
		state:      StateIdle,
		now:        time.Now,
		newID:      newMessageID,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start (re)evaluates the session. Any current transport is torn down first. A transport is
// dialed only when both a token and a conversation id are present. The queue survives a restart
// for the same conversation and is discarded when the conversation changes.
//
// ctx bounds the lifetime of the dialed transport, not just the call.
func (c *SessionController) Start(ctx context.Context, cfg SessionConfig) error {
	if c == nil {
		return errors.New("chatclient: nil session controller")
	}
	if c.dialer == nil {
		return errors.New("chatclient: session controller has no dialer")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.ConversationID = strings.TrimSpace(cfg.ConversationID)

	c.mu.Lock()
	var notes []func()
	if cfg.ConversationID != c.queueConvID {
		if dropped := c.queue.Reset(); dropped > 0 {
			log.Info().Str("component", "chatclient").
				Str("conv_id", c.queueConvID).
				Int("dropped", dropped).
				Msg("conversation changed, discarding queued sends")
		}
		c.queueConvID = cfg.ConversationID
	}
	notes = append(notes, c.teardownLocked()...)
	c.cfg = cfg

	if cfg.Token == "" || cfg.ConversationID == "" {
		notes = append(notes, c.setStateLocked(StateIdle)...)
		c.mu.Unlock()
		runNotes(notes)
		return nil
	}

	target, err := BuildTarget(cfg.BaseURL, cfg.Token, cfg.ConversationID)
	if err != nil {
		notes = append(notes, c.setStateLocked(StateError)...)
		c.mu.Unlock()
		runNotes(notes)
		return err
	}

	c.gen++
	gen := c.gen
	notes = append(notes, c.setStateLocked(StateConnecting)...)
	c.mu.Unlock()
	runNotes(notes)

	log.Debug().Str("component", "chatclient").Str("conv_id", cfg.ConversationID).Uint64("gen", gen).Msg("dialing session transport")
	tr, err := c.dialer.Dial(ctx, target, func(ev TransportEvent) { c.handle(gen, ev) })

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
		return nil
	}
	if err != nil {
		notes = c.setStateLocked(StateError)
		c.mu.Unlock()
		runNotes(notes)
		return errors.Wrap(err, "chatclient: dial")
	}
	if c.state != StateConnecting && c.state != StateOpen {
		// the transport closed or failed before Dial returned
		c.mu.Unlock()
		if tr != nil {
			_ = tr.Close()
		}
		return nil
	}
	c.transport = tr
	if c.state == StateOpen {
		// the transport reported readiness before Dial returned
		c.drainLocked()
	}
	c.mu.Unlock()
	return nil
}

// Stop tears the transport down. Queued sends are kept for the next Start of the same
// conversation.
func (c *SessionController) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	notes := c.teardownLocked()
	c.mu.Unlock()
	runNotes(notes)
}

// Send records a user message in the transcript and hands its envelope to the queue, which is
// drained right away when the transport is open.
func (c *SessionController) Send(content string) (Message, error) {
	if c == nil {
		return Message{}, errors.New("chatclient: nil session controller")
	}
	c.mu.Lock()
	convID := c.cfg.ConversationID
	if convID == "" {
		c.mu.Unlock()
		return Message{}, ErrNoConversation
	}
	id := c.newID()
	ts := c.now().UnixMilli()
	if err := c.queue.Enqueue(protocol.NewSendEnvelope(convID, id, content, ts)); err != nil {
		c.mu.Unlock()
		return Message{}, err
	}
	msg := c.transcript.AppendUser(id, content, ts)
	c.drainLocked()
	onTranscript := c.onTranscript
	c.mu.Unlock()

	if onTranscript != nil {
		onTranscript(ApplyResult{Changed: true})
	}
	return msg, nil
}

func (c *SessionController) State() State {
	if c == nil {
		return StateIdle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SessionController) ConversationID() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.ConversationID
}

// Pending is the number of sends waiting for an open transport.
func (c *SessionController) Pending() int {
	if c == nil {
		return 0
	}
	return c.queue.Len()
}

// handle is the single dispatch point for transport events.
func (c *SessionController) handle(gen uint64, ev TransportEvent) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		log.Debug().Str("component", "chatclient").Uint64("gen", gen).Str("event", ev.Kind.String()).Msg("ignoring event from superseded transport")
		return
	}

	var notes []func()
	switch ev.Kind {
	case TransportOpen:
		if c.state != StateConnecting {
			break
		}
		notes = c.setStateLocked(StateOpen)
		c.drainLocked()

	case TransportMessage:
		if c.state != StateOpen {
			break
		}
		notes = c.applyLocked(ev.Data)

	case TransportClose:
		if c.state == StateOpen || c.state == StateConnecting {
			notes = c.setStateLocked(StateClosed)
		}
		c.closeTransportLocked()

	case TransportError:
		if c.state == StateOpen || c.state == StateConnecting {
			log.Warn().Err(ev.Err).Str("component", "chatclient").Str("conv_id", c.cfg.ConversationID).Msg("session transport error")
			notes = c.setStateLocked(StateError)
		}
		c.closeTransportLocked()
	}
	c.mu.Unlock()
	runNotes(notes)
}

func (c *SessionController) applyLocked(data []byte) []func() {
	in, err := protocol.Decode(data)
	if err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Str("conv_id", c.cfg.ConversationID).Msg("dropping undecodable frame")
		return nil
	}
	if title, ok := in.(*protocol.TitleEnvelope); ok {
		convID, text := title.ConversationID.String(), title.Content
		if convID == "" || text == "" || c.onTitle == nil {
			return nil
		}
		onTitle := c.onTitle
		return []func(){func() { onTitle(convID, text) }}
	}
	res := c.transcript.Apply(in)
	if !res.Changed || c.onTranscript == nil {
		return nil
	}
	onTranscript := c.onTranscript
	return []func(){func() { onTranscript(res) }}
}

func (c *SessionController) readyLocked() bool {
	return c.state == StateOpen && c.transport != nil
}

func (c *SessionController) drainLocked() {
	if !c.readyLocked() {
		return
	}
	tr := c.transport
	n, err := c.queue.Drain(c.readyLocked, func(env protocol.SendEnvelope) error {
		b, err := protocol.Encode(env)
		if err != nil {
			return err
		}
		return tr.Send(b)
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", c.cfg.ConversationID).Int("pending", c.queue.Len()).Msg("send queue drain stopped")
	}
	if n > 0 {
		log.Debug().Str("component", "chatclient").Str("conv_id", c.cfg.ConversationID).Int("sent", n).Msg("drained send queue")
	}
}

// teardownLocked supersedes the current transport and closes it.
func (c *SessionController) teardownLocked() []func() {
	c.gen++
	hadTransport := c.transport != nil || c.state == StateConnecting || c.state == StateOpen
	c.closeTransportLocked()
	if hadTransport {
		return c.setStateLocked(StateClosed)
	}
	return nil
}

func (c *SessionController) closeTransportLocked() {
	if c.transport == nil {
		return
	}
	tr := c.transport
	c.transport = nil
	if err := tr.Close(); err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Str("conv_id", c.cfg.ConversationID).Msg("transport close failed")
	}
}

func (c *SessionController) setStateLocked(s State) []func() {
	if c.state == s {
		return nil
	}
	prev := c.state
	c.state = s
	log.Debug().Str("component", "chatclient").Str("conv_id", c.cfg.ConversationID).Str("from", string(prev)).Str("to", string(s)).Msg("session state")
	if c.onState == nil {
		return nil
	}
	onState := c.onState
	return []func(){func() { onState(s) }}
}

func runNotes(notes []func()) {
	for _, n := range notes {
		n()
	}
}
