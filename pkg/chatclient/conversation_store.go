package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultConversationTitle is used when a conversation is created implicitly by a first send.
const DefaultConversationTitle = "New Chat"

// Conversation is conversation metadata; transcript content lives in Transcript.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedTime time.Time `json:"createdTime"`
}

// ConversationBackend persists conversations. api.Client provides the REST implementation.
type ConversationBackend interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	CreateConversation(ctx context.Context, title string) (Conversation, error)
	RenameConversation(ctx context.Context, id, title string) (Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// ConversationStore holds the ordered (newest first) conversation list and the active id.
type ConversationStore struct {
	backend ConversationBackend

	mu       sync.Mutex
	convs    []Conversation
	activeID string
	epoch    uint64

	onChange func()
}

type ConversationStoreOption func(*ConversationStore)

func WithConversationsObserver(f func()) ConversationStoreOption {
	return func(s *ConversationStore) { s.onChange = f }
}

func NewConversationStore(backend ConversationBackend, opts ...ConversationStoreOption) *ConversationStore {
	s := &ConversationStore{backend: backend}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load replaces the list with the backend's. A result that arrives after Reset was called is
// discarded.
func (s *ConversationStore) Load(ctx context.Context) error {
	if s == nil || s.backend == nil {
		return errors.New("conversation store: no backend")
	}
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	convs, err := s.backend.ListConversations(ctx)
	if err != nil {
		return errors.Wrap(err, "conversation store: list")
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		log.Debug().Str("component", "chatclient").Msg("discarding stale conversation list")
		return nil
	}
	s.convs = append([]Conversation(nil), convs...)
	s.mu.Unlock()
	s.changed()
	return nil
}

// Create persists a new conversation, prepends it and makes it active.
func (s *ConversationStore) Create(ctx context.Context, title string) (Conversation, error) {
	if s == nil || s.backend == nil {
		return Conversation{}, errors.New("conversation store: no backend")
	}
	conv, err := s.backend.CreateConversation(ctx, title)
	if err != nil {
		return Conversation{}, errors.Wrap(err, "conversation store: create")
	}
	if conv.ID == "" {
		return Conversation{}, errors.New("conversation store: backend returned a conversation without id")
	}
	s.mu.Lock()
	s.convs = append([]Conversation{conv}, s.removeLocked(conv.ID)...)
	s.activeID = conv.ID
	s.mu.Unlock()
	s.changed()
	return conv, nil
}

// Rename persists a new title and applies the title the backend returned.
func (s *ConversationStore) Rename(ctx context.Context, id, title string) (Conversation, error) {
	if s == nil || s.backend == nil {
		return Conversation{}, errors.New("conversation store: no backend")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Conversation{}, errors.New("conversation store: title is empty")
	}
	updated, err := s.backend.RenameConversation(ctx, id, title)
	if err != nil {
		return Conversation{}, errors.Wrapf(err, "conversation store: rename %s", id)
	}
	if updated.Title == "" {
		updated.Title = title
	}
	s.mu.Lock()
	var out Conversation
	for i := range s.convs {
		if s.convs[i].ID == id {
			s.convs[i].Title = updated.Title
			out = s.convs[i]
		}
	}
	s.mu.Unlock()
	if out.ID == "" {
		out = updated
	}
	s.changed()
	return out, nil
}

// Remove deletes the conversation and reports whether it was the active one, in which case the
// active id has been cleared.
func (s *ConversationStore) Remove(ctx context.Context, id string) (bool, error) {
	if s == nil || s.backend == nil {
		return false, errors.New("conversation store: no backend")
	}
	if err := s.backend.DeleteConversation(ctx, id); err != nil {
		return false, errors.Wrapf(err, "conversation store: delete %s", id)
	}
	s.mu.Lock()
	s.convs = s.removeLocked(id)
	wasActive := s.activeID == id
	if wasActive {
		s.activeID = ""
	}
	s.mu.Unlock()
	s.changed()
	return wasActive, nil
}

// PatchTitle applies a server-suggested title without a round trip. Empty ids or titles and
// unknown conversations are ignored.
func (s *ConversationStore) PatchTitle(id, title string) bool {
	if s == nil || id == "" || title == "" {
		return false
	}
	s.mu.Lock()
	patched := false
	for i := range s.convs {
		if s.convs[i].ID == id {
			s.convs[i].Title = title
			patched = true
		}
	}
	s.mu.Unlock()
	if patched {
		s.changed()
	}
	return patched
}

func (s *ConversationStore) SetActive(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	changed := s.activeID != id
	s.activeID = id
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

func (s *ConversationStore) Active() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *ConversationStore) Get(id string) (Conversation, bool) {
	if s == nil {
		return Conversation{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}

func (s *ConversationStore) List() []Conversation {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conversation(nil), s.convs...)
}

// Reset forgets every conversation and the active id, and invalidates in-flight loads.
func (s *ConversationStore) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.epoch++
	s.convs = nil
	s.activeID = ""
	s.mu.Unlock()
	s.changed()
}

func (s *ConversationStore) removeLocked(id string) []Conversation {
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func (s *ConversationStore) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
