package chatclient

import (
	"fmt"
	"sync"

	"github.com/go-go-golems/ragchat/pkg/protocol"
)

// Reduce applies one inbound envelope to a transcript and returns the new transcript.
// The input slice is never modified. newID is used for error entries that carry no message id.
//
//   - chat.stream appends the fragment to the open assistant message with that id, creating it
//     when absent. Empty fragments are valid keep-alives.
//   - chat.done closes the assistant message; unknown or already closed ids are a no-op.
//   - chat.title does not touch the transcript.
//   - error appends a SYSTEM entry and never mutates existing entries.
func Reduce(state []Message, in protocol.Inbound, newID func() string) []Message {
	next, _ := reduce(state, in, newID)
	return next
}

func reduce(state []Message, in protocol.Inbound, newID func() string) ([]Message, bool) {
	switch ev := in.(type) {
	case *protocol.StreamEnvelope:
		id := ev.MessageID.String()
		if id == "" {
			return state, false
		}
		idx := findAssistant(state, id)
		if idx < 0 {
			return appendMessage(state, Message{
				ID:        id,
				Role:      RoleAssistant,
				Content:   ev.Content,
				Timestamp: int64(ev.Ts),
				Streaming: true,
			}), true
		}
		if ev.Content == "" && state[idx].Streaming {
			return state, false
		}
		next := cloneMessages(state)
		next[idx].Content += ev.Content
		next[idx].Streaming = true
		return next, true

	case *protocol.DoneEnvelope:
		idx := findAssistant(state, ev.MessageID.String())
		if idx < 0 || !state[idx].Streaming {
			return state, false
		}
		next := cloneMessages(state)
		next[idx].Streaming = false
		return next, true

	case *protocol.TitleEnvelope:
		return state, false

	case *protocol.ErrorEnvelope:
		base := ev.MessageID.String()
		if base == "" {
			if newID == nil {
				newID = newMessageID
			}
			base = newID()
		}
		code, msg := "", "unexpected"
		if ev.Code != nil {
			code = ev.Code.Code
			if ev.Code.Message != "" {
				msg = ev.Code.Message
			}
		}
		return appendMessage(state, Message{
			ID:        systemID(state, base),
			Role:      RoleSystem,
			Content:   fmt.Sprintf("Error %s: %s", code, msg),
			Timestamp: int64(ev.Ts),
		}), true

	default:
		return state, false
	}
}

// systemID derives the id of a SYSTEM entry from the message it reports on, suffixed with a
// counter when earlier errors for the same message already used it.
func systemID(state []Message, base string) string {
	id := base + "_sys"
	for n := 2; hasID(state, id); n++ {
		id = fmt.Sprintf("%s_sys_%d", base, n)
	}
	return id
}

func hasID(state []Message, id string) bool {
	for i := range state {
		if state[i].ID == id {
			return true
		}
	}
	return false
}

func findAssistant(state []Message, id string) int {
	if id == "" {
		return -1
	}
	for i := range state {
		if state[i].ID == id && state[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

func cloneMessages(state []Message) []Message {
	out := make([]Message, len(state))
	copy(out, state)
	return out
}

func appendMessage(state []Message, m Message) []Message {
	out := make([]Message, len(state), len(state)+1)
	copy(out, state)
	return append(out, m)
}

// ApplyResult describes what a single Apply did.
type ApplyResult struct {
	Changed bool
	// Finalized is set when the envelope closed a streaming assistant message.
	Finalized *Message
}

// Transcript holds the ordered messages of the active conversation.
type Transcript struct {
	mu       sync.Mutex
	convID   string
	messages []Message
	newID    func() string
}

func NewTranscript() *Transcript {
	return &Transcript{newID: newMessageID}
}

// Apply reduces one inbound envelope into the transcript.
func (t *Transcript) Apply(in protocol.Inbound) ApplyResult {
	if t == nil || in == nil {
		return ApplyResult{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, changed := reduce(t.messages, in, t.newID)
	if !changed {
		return ApplyResult{}
	}
	t.messages = next
	res := ApplyResult{Changed: true}
	if done, ok := in.(*protocol.DoneEnvelope); ok {
		if idx := findAssistant(next, done.MessageID.String()); idx >= 0 {
			m := next[idx]
			res.Finalized = &m
		}
	}
	return res
}

// AppendUser records a locally originated user message.
func (t *Transcript) AppendUser(id, content string, ts int64) Message {
	m := Message{ID: id, Role: RoleUser, Content: content, Timestamp: ts}
	if t == nil {
		return m
	}
	t.mu.Lock()
	t.messages = appendMessage(t.messages, m)
	t.mu.Unlock()
	return m
}

// Replace swaps in a freshly fetched transcript for convID.
func (t *Transcript) Replace(convID string, msgs []Message) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.convID = convID
	t.messages = cloneMessages(msgs)
	t.mu.Unlock()
}

// Backfill puts fetched history for convID in front of whatever was recorded locally since the
// transcript was cleared for it. Local entries whose id the history already has are dropped.
// When the transcript belongs to another conversation it is replaced outright.
func (t *Transcript) Backfill(convID string, history []Message) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next := cloneMessages(history)
	if t.convID == convID {
		known := make(map[string]bool, len(history))
		for _, m := range history {
			known[string(m.Role)+"/"+m.ID] = true
		}
		for _, m := range t.messages {
			if !known[string(m.Role)+"/"+m.ID] {
				next = append(next, m)
			}
		}
	}
	t.convID = convID
	t.messages = next
}

func (t *Transcript) Clear() {
	t.Replace("", nil)
}

// ConversationID is the conversation the current contents were loaded for.
func (t *Transcript) ConversationID() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.convID
}

func (t *Transcript) Messages() []Message {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMessages(t.messages)
}

func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
