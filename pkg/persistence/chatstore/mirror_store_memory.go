package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemoryMirrorStore is a MirrorStore for tests and for runs without a cache file. It mirrors
// the ordering semantics of the SQLite store.
type InMemoryMirrorStore struct {
	mu            sync.Mutex
	conversations map[string]ConversationRecord
	transcripts   map[string][]MessageRecord
}

var _ MirrorStore = &InMemoryMirrorStore{}

func NewInMemoryMirrorStore() *InMemoryMirrorStore {
	return &InMemoryMirrorStore{
		conversations: map[string]ConversationRecord{},
		transcripts:   map[string][]MessageRecord{},
	}
}

func (s *InMemoryMirrorStore) Close() error { return nil }

func (s *InMemoryMirrorStore) UpsertConversation(_ context.Context, record ConversationRecord) error {
	if s == nil {
		return errors.New("in-memory mirror store: nil store")
	}
	now := time.Now().UnixMilli()
	record = normalizeConversationRecord(record, now)
	if record.ConvID == "" {
		return errors.New("in-memory mirror store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[record.ConvID] = mergeConversationRecord(s.conversations[record.ConvID], record, now)
	return nil
}

func (s *InMemoryMirrorStore) DeleteConversation(_ context.Context, convID string) error {
	if s == nil {
		return errors.New("in-memory mirror store: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("in-memory mirror store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, convID)
	delete(s.transcripts, convID)
	return nil
}

func (s *InMemoryMirrorStore) GetConversation(_ context.Context, convID string) (ConversationRecord, bool, error) {
	if s == nil {
		return ConversationRecord{}, false, errors.New("in-memory mirror store: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("in-memory mirror store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.conversations[convID]
	return record, ok, nil
}

func (s *InMemoryMirrorStore) ListConversations(_ context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory mirror store: nil store")
	}
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	out := make([]ConversationRecord, 0, len(s.conversations))
	for _, record := range s.conversations {
		if sinceMs > 0 && record.LastActivityMs < sinceMs {
			continue
		}
		out = append(out, record)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivityMs == out[j].LastActivityMs {
			return out[i].ConvID < out[j].ConvID
		}
		return out[i].LastActivityMs > out[j].LastActivityMs
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryMirrorStore) ReplaceTranscript(_ context.Context, convID string, msgs []MessageRecord) (bool, error) {
	if s == nil {
		return false, errors.New("in-memory mirror store: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return false, errors.New("in-memory mirror store: convID is empty")
	}
	msgs = normalizeMessages(convID, msgs)
	hash, err := ComputeTranscriptHash(msgs)
	if err != nil {
		return false, errors.Wrap(err, "in-memory mirror store: hash transcript")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.conversations[convID]
	if existing.TranscriptHash == hash {
		return false, nil
	}
	now := time.Now().UnixMilli()
	s.conversations[convID] = mergeConversationRecord(existing, ConversationRecord{
		ConvID:         convID,
		LastActivityMs: lastActivity(msgs),
		MessageCount:   len(msgs),
		TranscriptHash: hash,
	}, now)
	s.transcripts[convID] = msgs
	return true, nil
}

func (s *InMemoryMirrorStore) GetTranscript(_ context.Context, convID string) ([]MessageRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory mirror store: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("in-memory mirror store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MessageRecord(nil), s.transcripts[convID]...), nil
}
