package chatstore

import (
	"context"
	"strings"
)

// ConversationRecord is the locally mirrored metadata of a backend conversation.
type ConversationRecord struct {
	ConvID         string `json:"conv_id"`
	Title          string `json:"title"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms"`
	MessageCount   int    `json:"message_count"`
	TranscriptHash string `json:"transcript_hash,omitempty"`
}

// MessageRecord is one mirrored transcript entry. Seq is its position in the transcript.
type MessageRecord struct {
	ConvID    string `json:"conv_id"`
	MessageID string `json:"message_id"`
	Seq       int    `json:"seq"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	TsMs      int64  `json:"ts_ms"`
}

// MirrorStore caches conversations and finalized transcripts the backend already persisted, so
// the CLI can browse history offline. It is never the source of truth.
type MirrorStore interface {
	UpsertConversation(ctx context.Context, record ConversationRecord) error
	DeleteConversation(ctx context.Context, convID string) error
	GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error)
	ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error)
	// ReplaceTranscript stores msgs as the full transcript of convID. It reports false when the
	// stored transcript already had the same content.
	ReplaceTranscript(ctx context.Context, convID string, msgs []MessageRecord) (bool, error)
	GetTranscript(ctx context.Context, convID string) ([]MessageRecord, error)
	Close() error
}

func normalizeConversationRecord(record ConversationRecord, now int64) ConversationRecord {
	record.ConvID = strings.TrimSpace(record.ConvID)
	record.Title = strings.TrimSpace(record.Title)
	if record.CreatedAtMs <= 0 {
		record.CreatedAtMs = now
	}
	if record.LastActivityMs <= 0 {
		record.LastActivityMs = record.CreatedAtMs
	}
	return record
}

func mergeConversationRecord(existing, incoming ConversationRecord, now int64) ConversationRecord {
	incoming = normalizeConversationRecord(incoming, now)
	if existing.ConvID == "" {
		return incoming
	}
	if existing.CreatedAtMs > 0 && existing.CreatedAtMs < incoming.CreatedAtMs {
		incoming.CreatedAtMs = existing.CreatedAtMs
	}
	if incoming.LastActivityMs < existing.LastActivityMs {
		incoming.LastActivityMs = existing.LastActivityMs
	}
	if incoming.Title == "" {
		incoming.Title = existing.Title
	}
	if incoming.TranscriptHash == "" {
		incoming.TranscriptHash = existing.TranscriptHash
		incoming.MessageCount = existing.MessageCount
	}
	return incoming
}

func normalizeMessages(convID string, msgs []MessageRecord) []MessageRecord {
	out := make([]MessageRecord, 0, len(msgs))
	for i, m := range msgs {
		m.ConvID = convID
		m.Seq = i
		m.Role = strings.ToUpper(strings.TrimSpace(m.Role))
		out = append(out, m)
	}
	return out
}

func lastActivity(msgs []MessageRecord) int64 {
	var last int64
	for _, m := range msgs {
		if m.TsMs > last {
			last = m.TsMs
		}
	}
	return last
}
