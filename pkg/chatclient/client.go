package chatclient

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/api"
	"github.com/go-go-golems/ragchat/pkg/events"
	"github.com/go-go-golems/ragchat/pkg/persistence/chatstore"
)

var ErrNotAuthenticated = errors.New("chatclient: not authenticated")

// RESTClient is the part of api.Client the chat client needs.
type RESTClient interface {
	BaseURL() string
	Token() string
	SetToken(token string)
	Login(ctx context.Context, req api.LoginRequest) (api.AuthResponse, error)
	Register(ctx context.Context, req api.RegisterRequest) (api.AuthResponse, error)
	Me(ctx context.Context) (api.AuthResponse, error)
	Logout(ctx context.Context) error
	ListConversations(ctx context.Context) ([]api.Conversation, error)
	CreateConversation(ctx context.Context, title string) (api.Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (api.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, convID string) ([]api.MessageRecord, error)
}

var _ RESTClient = (*api.Client)(nil)

// Client ties the REST side, the conversation store, the transcript and the live session
// together the way an interactive front end uses them.
type Client struct {
	rest       RESTClient
	store      *ConversationStore
	transcript *Transcript
	session    *SessionController

	notifier     *events.Notifier
	ownsNotifier bool
	mirror       chatstore.MirrorStore

	// lifetime of dialed transports
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	selectEpoch uint64
}

type clientOptions struct {
	notifier    *events.Notifier
	mirror      chatstore.MirrorStore
	sessionOpts []SessionOption
}

type ClientOption func(*clientOptions)

// WithNotifier publishes change notifications on n. Without it the client creates an in-memory
// notifier and closes it on Close.
func WithNotifier(n *events.Notifier) ClientOption {
	return func(o *clientOptions) { o.notifier = n }
}

// WithMirror records conversations and finalized transcripts into m.
func WithMirror(m chatstore.MirrorStore) ClientOption {
	return func(o *clientOptions) { o.mirror = m }
}

// WithSessionOptions passes extra options to the session controller (queue depth, clock, ids).
// Observers set here are replaced by the client's own.
func WithSessionOptions(opts ...SessionOption) ClientOption {
	return func(o *clientOptions) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

func NewClient(rest RESTClient, dialer Dialer, opts ...ClientOption) (*Client, error) {
	if rest == nil {
		return nil, errors.New("chatclient: rest client is required")
	}
	if dialer == nil {
		return nil, errors.New("chatclient: dialer is required")
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		rest:       rest,
		transcript: NewTranscript(),
		notifier:   o.notifier,
		mirror:     o.mirror,
		ctx:        ctx,
		cancel:     cancel,
	}
	if c.notifier == nil {
		c.notifier = events.NewNotifier()
		c.ownsNotifier = true
	}
	c.store = NewConversationStore(restBackend{rest: rest}, WithConversationsObserver(c.conversationsChanged))

	sessionOpts := append([]SessionOption{}, o.sessionOpts...)
	sessionOpts = append(sessionOpts,
		WithStateObserver(c.stateChanged),
		WithTranscriptObserver(c.transcriptChanged),
		WithTitlePatcher(c.patchTitle),
	)
	c.session = NewSessionController(dialer, c.transcript, sessionOpts...)
	return c, nil
}

// SetToken switches the session token. Any change drops the previous user's state: the
// conversation list, active conversation and transcript are cleared and the current transport is
// closed, leaving the session idle. With a non-empty token, callers reload with LoadConversations
// and Select.
func (c *Client) SetToken(token string) {
	token = strings.TrimSpace(token)
	prev := c.rest.Token()
	c.rest.SetToken(token)
	if token != "" && token == prev {
		return
	}
	c.mu.Lock()
	c.selectEpoch++
	c.mu.Unlock()

	if err := c.session.Start(c.ctx, SessionConfig{BaseURL: c.rest.BaseURL()}); err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Msg("session reset failed")
	}
	c.store.Reset()
	c.transcript.Clear()
	c.notifyTranscript(ApplyResult{Changed: true})
}

func (c *Client) Login(ctx context.Context, req api.LoginRequest) (api.AuthResponse, error) {
	resp, err := c.rest.Login(ctx, req)
	if err != nil {
		return api.AuthResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (api.AuthResponse, error) {
	resp, err := c.rest.Register(ctx, req)
	if err != nil {
		return api.AuthResponse{}, err
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) Me(ctx context.Context) (api.AuthResponse, error) {
	return c.rest.Me(ctx)
}

// Logout tells the backend and clears local state whether or not that call succeeded.
func (c *Client) Logout(ctx context.Context) error {
	err := c.rest.Logout(ctx)
	c.SetToken("")
	return err
}

// LoadConversations refreshes the conversation list.
func (c *Client) LoadConversations(ctx context.Context) error {
	if c.rest.Token() == "" {
		return ErrNotAuthenticated
	}
	if err := c.store.Load(ctx); err != nil {
		return err
	}
	for _, conv := range c.store.List() {
		c.mirrorConversation(ctx, conv)
	}
	return nil
}

// Select makes id the active conversation. The previous transport is closed first, then the
// transcript is fetched over REST and a session is started for it. A fetch that completes after
// another Select, or after the token changed, is discarded.
func (c *Client) Select(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	token := c.rest.Token()
	if token == "" {
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	c.selectEpoch++
	epoch := c.selectEpoch
	c.mu.Unlock()

	// Close the previous transport before the new conversation owns the transcript. Without a
	// token the session parks in IDLE, so sends made during the fetch queue up for id.
	if err := c.session.Start(c.ctx, SessionConfig{BaseURL: c.rest.BaseURL(), ConversationID: id}); err != nil {
		return err
	}
	c.store.SetActive(id)
	c.transcript.Replace(id, nil)
	c.notifyTranscript(ApplyResult{Changed: true})
	if id == "" {
		return nil
	}

	records, fetchErr := c.rest.ListMessages(ctx, id)
	if !c.stillSelected(epoch, id, token) {
		log.Debug().Str("component", "chatclient").Str("conv_id", id).Msg("discarding stale transcript fetch")
		return nil
	}
	if fetchErr != nil {
		log.Warn().Err(fetchErr).Str("component", "chatclient").Str("conv_id", id).Msg("transcript fetch failed")
	} else {
		msgs := messagesFromRecords(records)
		c.transcript.Backfill(id, msgs)
		c.notifyTranscript(ApplyResult{Changed: true})
		c.mirrorTranscript(ctx, id, msgs)
	}

	if err := c.session.Start(c.ctx, SessionConfig{BaseURL: c.rest.BaseURL(), Token: token, ConversationID: id}); err != nil {
		return err
	}
	if fetchErr != nil {
		return errors.Wrapf(fetchErr, "chatclient: load transcript %s", id)
	}
	return nil
}

func (c *Client) stillSelected(epoch uint64, id, token string) bool {
	c.mu.Lock()
	current := c.selectEpoch
	c.mu.Unlock()
	return current == epoch && c.store.Active() == id && c.rest.Token() == token
}

// SendMessage sends trimmed text in the active conversation. Whitespace-only text is ignored and
// returns a zero Message. Without an active conversation a new one titled "New Chat" is created
// and selected first.
func (c *Client) SendMessage(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, nil
	}
	if c.rest.Token() == "" {
		return Message{}, ErrNotAuthenticated
	}
	if c.store.Active() == "" {
		conv, err := c.store.Create(ctx, DefaultConversationTitle)
		if err != nil {
			return Message{}, err
		}
		c.mirrorConversation(ctx, conv)
		if err := c.Select(ctx, conv.ID); err != nil {
			log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", conv.ID).Msg("selecting new conversation failed")
		}
	}
	return c.session.Send(text)
}

// Rename applies a new title. Failures are logged and leave the list unchanged.
func (c *Client) Rename(ctx context.Context, id, title string) {
	conv, err := c.store.Rename(ctx, id, title)
	if err != nil {
		log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", id).Msg("rename failed")
		return
	}
	c.mirrorConversation(ctx, conv)
}

// Delete removes a conversation. Deleting the active one clears the transcript and idles the
// session. Failures are logged and leave everything unchanged.
func (c *Client) Delete(ctx context.Context, id string) {
	wasActive, err := c.store.Remove(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("component", "chatclient").Str("conv_id", id).Msg("delete failed")
		return
	}
	if c.mirror != nil {
		if err := c.mirror.DeleteConversation(ctx, id); err != nil {
			log.Debug().Err(err).Str("component", "chatclient").Str("conv_id", id).Msg("mirror delete failed")
		}
	}
	if !wasActive {
		return
	}
	c.mu.Lock()
	c.selectEpoch++
	c.mu.Unlock()
	c.transcript.Clear()
	c.notifyTranscript(ApplyResult{Changed: true})
	if err := c.session.Start(c.ctx, SessionConfig{BaseURL: c.rest.BaseURL(), Token: c.rest.Token()}); err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Msg("session reset failed")
	}
}

// Close stops the session. The mirror is left to its owner.
func (c *Client) Close() error {
	c.session.Stop()
	c.cancel()
	if c.ownsNotifier {
		return c.notifier.Close()
	}
	return nil
}

func (c *Client) Conversations() []Conversation { return c.store.List() }
func (c *Client) ActiveConversationID() string  { return c.store.Active() }
func (c *Client) Messages() []Message           { return c.transcript.Messages() }
func (c *Client) State() State                  { return c.session.State() }
func (c *Client) Pending() int                  { return c.session.Pending() }
func (c *Client) Notifier() *events.Notifier    { return c.notifier }

func (c *Client) stateChanged(s State) {
	c.notifier.Notify(events.TopicState, events.StateChanged{
		ConversationID: c.session.ConversationID(),
		State:          string(s),
		Label:          s.Label(),
	})
}

func (c *Client) transcriptChanged(res ApplyResult) {
	c.notifyTranscript(res)
	if res.Finalized == nil {
		return
	}
	convID := c.transcript.ConversationID()
	if convID == "" {
		return
	}
	c.mirrorTranscript(c.ctx, convID, c.transcript.Messages())
}

func (c *Client) notifyTranscript(res ApplyResult) {
	ev := events.TranscriptChanged{
		ConversationID: c.transcript.ConversationID(),
		Count:          c.transcript.Len(),
	}
	if res.Finalized != nil {
		ev.MessageID = res.Finalized.ID
		ev.Finalized = true
	}
	c.notifier.Notify(events.TopicTranscript, ev)
}

func (c *Client) patchTitle(convID, title string) {
	if !c.store.PatchTitle(convID, title) {
		return
	}
	if conv, ok := c.store.Get(convID); ok {
		c.mirrorConversation(c.ctx, conv)
	}
}

func (c *Client) conversationsChanged() {
	c.notifier.Notify(events.TopicConversations, events.ConversationsChanged{
		ActiveID: c.store.Active(),
		Count:    len(c.store.List()),
	})
}

func (c *Client) mirrorConversation(ctx context.Context, conv Conversation) {
	if c.mirror == nil || conv.ID == "" {
		return
	}
	rec := chatstore.ConversationRecord{ConvID: conv.ID, Title: conv.Title}
	if !conv.CreatedTime.IsZero() {
		rec.CreatedAtMs = conv.CreatedTime.UnixMilli()
	}
	if err := c.mirror.UpsertConversation(ctx, rec); err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Str("conv_id", conv.ID).Msg("mirror conversation failed")
	}
}

// mirrorTranscript records what the backend persisted: user and assistant messages that are not
// streaming. System entries are local only.
func (c *Client) mirrorTranscript(ctx context.Context, convID string, msgs []Message) {
	if c.mirror == nil {
		return
	}
	records := make([]chatstore.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem || m.Streaming {
			continue
		}
		records = append(records, chatstore.MessageRecord{
			MessageID: m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			TsMs:      m.Timestamp,
		})
	}
	if _, err := c.mirror.ReplaceTranscript(ctx, convID, records); err != nil {
		log.Debug().Err(err).Str("component", "chatclient").Str("conv_id", convID).Msg("mirror transcript failed")
	}
}

func messagesFromRecords(records []api.MessageRecord) []Message {
	out := make([]Message, 0, len(records))
	for _, r := range records {
		m := Message{
			ID:      r.ID.String(),
			Role:    Role(strings.ToUpper(r.Role)),
			Content: r.Content,
		}
		if !r.CreatedTime.IsZero() {
			m.Timestamp = r.CreatedTime.UnixMilli()
		}
		out = append(out, m)
	}
	return out
}

// restBackend adapts the REST DTOs to the store's types.
type restBackend struct {
	rest RESTClient
}

func (b restBackend) ListConversations(ctx context.Context) ([]Conversation, error) {
	convs, err := b.rest.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationFromAPI(c))
	}
	return out, nil
}

func (b restBackend) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	conv, err := b.rest.CreateConversation(ctx, title)
	if err != nil {
		return Conversation{}, err
	}
	return conversationFromAPI(conv), nil
}

func (b restBackend) RenameConversation(ctx context.Context, id, title string) (Conversation, error) {
	conv, err := b.rest.RenameConversation(ctx, id, title)
	if err != nil {
		return Conversation{}, err
	}
	return conversationFromAPI(conv), nil
}

func (b restBackend) DeleteConversation(ctx context.Context, id string) error {
	return b.rest.DeleteConversation(ctx, id)
}

func conversationFromAPI(c api.Conversation) Conversation {
	return Conversation{ID: c.ID.String(), Title: c.Title, CreatedTime: c.CreatedTime.Time}
}
