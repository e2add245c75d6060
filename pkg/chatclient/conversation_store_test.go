package chatclient

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	convs     []Conversation
	nextID    int
	failWith  error
	deleted   []string
	listHook  func()
	renameErr error
}

func (b *fakeBackend) ListConversations(context.Context) ([]Conversation, error) {
	if b.listHook != nil {
		b.listHook()
	}
	if b.failWith != nil {
		return nil, b.failWith
	}
	return append([]Conversation(nil), b.convs...), nil
}

func (b *fakeBackend) CreateConversation(_ context.Context, title string) (Conversation, error) {
	if b.failWith != nil {
		return Conversation{}, b.failWith
	}
	b.nextID++
	c := Conversation{ID: strconv.Itoa(100 + b.nextID), Title: title, CreatedTime: time.UnixMilli(int64(b.nextID))}
	b.convs = append([]Conversation{c}, b.convs...)
	return c, nil
}

func (b *fakeBackend) RenameConversation(_ context.Context, id, title string) (Conversation, error) {
	if b.renameErr != nil {
		return Conversation{}, b.renameErr
	}
	return Conversation{ID: id, Title: title}, nil
}

func (b *fakeBackend) DeleteConversation(_ context.Context, id string) error {
	if b.failWith != nil {
		return b.failWith
	}
	b.deleted = append(b.deleted, id)
	return nil
}

func TestConversationStoreLoadAndCreate(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{{ID: "2", Title: "b"}, {ID: "1", Title: "a"}}}
	changes := 0
	s := NewConversationStore(backend, WithConversationsObserver(func() { changes++ }))

	require.NoError(t, s.Load(context.Background()))
	require.Len(t, s.List(), 2)

	conv, err := s.Create(context.Background(), "fresh")
	require.NoError(t, err)
	require.Equal(t, conv.ID, s.Active())
	list := s.List()
	require.Equal(t, []string{conv.ID, "2", "1"}, []string{list[0].ID, list[1].ID, list[2].ID})
	require.Equal(t, 2, changes)
}

func TestConversationStoreRemoveActiveClearsActive(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{{ID: "1"}, {ID: "2"}}}
	s := NewConversationStore(backend)
	require.NoError(t, s.Load(context.Background()))
	s.SetActive("2")

	wasActive, err := s.Remove(context.Background(), "1")
	require.NoError(t, err)
	require.False(t, wasActive)
	require.Equal(t, "2", s.Active())

	wasActive, err = s.Remove(context.Background(), "2")
	require.NoError(t, err)
	require.True(t, wasActive)
	require.Equal(t, "", s.Active())
	require.Empty(t, s.List())
	require.Equal(t, []string{"1", "2"}, backend.deleted)
}

func TestConversationStoreFailuresLeaveStateAlone(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{{ID: "1", Title: "keep"}}}
	s := NewConversationStore(backend)
	require.NoError(t, s.Load(context.Background()))
	s.SetActive("1")

	backend.failWith = errors.New("boom")
	backend.renameErr = errors.New("boom")
	_, err := s.Remove(context.Background(), "1")
	require.Error(t, err)
	_, err = s.Rename(context.Background(), "1", "new")
	require.Error(t, err)
	_, err = s.Create(context.Background(), "x")
	require.Error(t, err)

	require.Equal(t, "1", s.Active())
	c, ok := s.Get("1")
	require.True(t, ok)
	require.Equal(t, "keep", c.Title)
}

func TestConversationStoreRename(t *testing.T) {
	s := NewConversationStore(&fakeBackend{convs: []Conversation{{ID: "1", Title: "old"}}})
	require.NoError(t, s.Load(context.Background()))

	_, err := s.Rename(context.Background(), "1", "   ")
	require.Error(t, err)

	c, err := s.Rename(context.Background(), "1", "  new  ")
	require.NoError(t, err)
	require.Equal(t, "new", c.Title)
}

func TestConversationStorePatchTitle(t *testing.T) {
	s := NewConversationStore(&fakeBackend{convs: []Conversation{{ID: "1", Title: "New Chat"}}})
	require.NoError(t, s.Load(context.Background()))

	require.False(t, s.PatchTitle("", "x"))
	require.False(t, s.PatchTitle("1", ""))
	require.False(t, s.PatchTitle("9", "x"))
	require.True(t, s.PatchTitle("1", "Tax questions"))
	c, _ := s.Get("1")
	require.Equal(t, "Tax questions", c.Title)
}

func TestConversationStoreDiscardsLoadAfterReset(t *testing.T) {
	backend := &fakeBackend{convs: []Conversation{{ID: "1"}}}
	s := NewConversationStore(backend)
	backend.listHook = func() { s.Reset() }

	require.NoError(t, s.Load(context.Background()))
	require.Empty(t, s.List())
}
