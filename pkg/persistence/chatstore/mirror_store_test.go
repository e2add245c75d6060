package chatstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSQLiteMirror(t *testing.T) *SQLiteMirrorStore {
	t.Helper()
	dsn, err := SQLiteMirrorDSNForFile(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	s, err := NewSQLiteMirrorStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mirrorStores(t *testing.T) map[string]MirrorStore {
	return map[string]MirrorStore{
		"sqlite": newSQLiteMirror(t),
		"memory": NewInMemoryMirrorStore(),
	}
}

func TestMirrorStore_ConversationUpsertMerges(t *testing.T) {
	for name, s := range mirrorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.Error(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "  "}))

			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "1", Title: "New Chat", CreatedAtMs: 100, LastActivityMs: 500}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "1", Title: "", CreatedAtMs: 300, LastActivityMs: 200}))

			rec, ok, err := s.GetConversation(ctx, "1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "New Chat", rec.Title)
			require.Equal(t, int64(100), rec.CreatedAtMs)
			require.Equal(t, int64(500), rec.LastActivityMs)

			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "1", Title: "Taxes"}))
			rec, _, err = s.GetConversation(ctx, "1")
			require.NoError(t, err)
			require.Equal(t, "Taxes", rec.Title)

			_, ok, err = s.GetConversation(ctx, "missing")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestMirrorStore_ListOrdersByActivity(t *testing.T) {
	for name, s := range mirrorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "a", CreatedAtMs: 10, LastActivityMs: 10}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "b", CreatedAtMs: 10, LastActivityMs: 30}))
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "c", CreatedAtMs: 10, LastActivityMs: 20}))

			list, err := s.ListConversations(ctx, 0, 0)
			require.NoError(t, err)
			require.Equal(t, []string{"b", "c", "a"}, convIDs(list))

			list, err = s.ListConversations(ctx, 1, 0)
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, convIDs(list))

			list, err = s.ListConversations(ctx, 10, 20)
			require.NoError(t, err)
			require.Equal(t, []string{"b", "c"}, convIDs(list))
		})
	}
}

func TestMirrorStore_ReplaceTranscript(t *testing.T) {
	for name, s := range mirrorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.UpsertConversation(ctx, ConversationRecord{ConvID: "7", Title: "Hello", CreatedAtMs: 50}))

			msgs := []MessageRecord{
				{MessageID: "u1", Role: "user", Content: "Hi", TsMs: 1000},
				{MessageID: "a1", Role: "ASSISTANT", Content: "Hello there", TsMs: 1200},
			}
			changed, err := s.ReplaceTranscript(ctx, "7", msgs)
			require.NoError(t, err)
			require.True(t, changed)

			changed, err = s.ReplaceTranscript(ctx, "7", msgs)
			require.NoError(t, err)
			require.False(t, changed)

			got, err := s.GetTranscript(ctx, "7")
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "USER", got[0].Role)
			require.Equal(t, 1, got[1].Seq)
			require.Equal(t, "7", got[1].ConvID)
			require.Equal(t, "Hello there", got[1].Content)

			rec, ok, err := s.GetConversation(ctx, "7")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "Hello", rec.Title)
			require.Equal(t, 2, rec.MessageCount)
			require.Equal(t, int64(1200), rec.LastActivityMs)
			require.Equal(t, int64(50), rec.CreatedAtMs)
			require.NotEmpty(t, rec.TranscriptHash)

			changed, err = s.ReplaceTranscript(ctx, "7", msgs[:1])
			require.NoError(t, err)
			require.True(t, changed)
			got, err = s.GetTranscript(ctx, "7")
			require.NoError(t, err)
			require.Len(t, got, 1)
		})
	}
}

func TestMirrorStore_DeleteConversationDropsTranscript(t *testing.T) {
	for name, s := range mirrorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.ReplaceTranscript(ctx, "9", []MessageRecord{{MessageID: "m", Role: "USER", Content: "x", TsMs: 1}})
			require.NoError(t, err)
			require.NoError(t, s.DeleteConversation(ctx, "9"))

			_, ok, err := s.GetConversation(ctx, "9")
			require.NoError(t, err)
			require.False(t, ok)
			got, err := s.GetTranscript(ctx, "9")
			require.NoError(t, err)
			require.Empty(t, got)
		})
	}
}

func TestSQLiteMirrorStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	dsn, err := SQLiteMirrorDSNForFile(path)
	require.NoError(t, err)

	s, err := NewSQLiteMirrorStore(dsn)
	require.NoError(t, err)
	_, err = s.ReplaceTranscript(context.Background(), "1", []MessageRecord{{MessageID: "m", Role: "USER", Content: "kept", TsMs: 5}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteMirrorStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.GetTranscript(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "kept", got[0].Content)

	_, err = SQLiteMirrorDSNForFile("")
	require.Error(t, err)
	_, err = NewSQLiteMirrorStore("")
	require.Error(t, err)
}

func TestComputeTranscriptHashIgnoresTimestamps(t *testing.T) {
	a, err := ComputeTranscriptHash([]MessageRecord{{MessageID: "1", Role: "user", Content: "x", TsMs: 1}})
	require.NoError(t, err)
	b, err := ComputeTranscriptHash([]MessageRecord{{MessageID: "1", Role: "USER", Content: "x", TsMs: 99}})
	require.NoError(t, err)
	c, err := ComputeTranscriptHash([]MessageRecord{{MessageID: "1", Role: "USER", Content: "y"}})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func convIDs(records []ConversationRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ConvID)
	}
	return out
}
