package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/ragchat/pkg/protocol"
)

type Conversation struct {
	ID          protocol.ID `json:"id"`
	Title       string      `json:"title"`
	CreatedTime Timestamp   `json:"createdTime"`
}

type MessageRecord struct {
	ID          protocol.ID `json:"id"`
	Role        string      `json:"role"`
	Content     string      `json:"content"`
	CreatedTime Timestamp   `json:"createdTime"`
}

// Timestamp accepts RFC3339, zone-less ISO local date-times (read as UTC) and epoch millis.
type Timestamp struct {
	time.Time
}

var localLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return errors.Errorf("invalid timestamp %s", string(b))
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return errors.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	var out Conversation
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/create", body, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (c *Client) RenameConversation(ctx context.Context, id, title string) (Conversation, error) {
	var out Conversation
	body := map[string]string{"title": title}
	if err := c.do(ctx, http.MethodPut, "/api/conversations/"+url.PathEscape(id), body, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

// ListMessages returns the full persisted transcript, oldest first.
func (c *Client) ListMessages(ctx context.Context, convID string) ([]MessageRecord, error) {
	var out []MessageRecord
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(convID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
