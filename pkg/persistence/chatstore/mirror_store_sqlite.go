package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteMirrorStore struct {
	db *sql.DB
}

var _ MirrorStore = &SQLiteMirrorStore{}

func NewSQLiteMirrorStore(dsn string) (*SQLiteMirrorStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite mirror store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteMirrorStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMirrorStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteMirrorStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite mirror store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mirror_conversations (
		  conv_id TEXT PRIMARY KEY,
		  title TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  message_count INTEGER NOT NULL DEFAULT 0,
		  transcript_hash TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS mirror_conversations_by_last_activity
		  ON mirror_conversations(last_activity_ms DESC, conv_id ASC);`,
		`CREATE TABLE IF NOT EXISTS mirror_messages (
		  conv_id TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  message_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  ts_ms INTEGER NOT NULL,
		  PRIMARY KEY (conv_id, seq),
		  FOREIGN KEY (conv_id) REFERENCES mirror_conversations(conv_id) ON DELETE CASCADE
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite mirror store: migrate")
		}
	}
	return nil
}

func (s *SQLiteMirrorStore) UpsertConversation(ctx context.Context, record ConversationRecord) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite mirror store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	record = normalizeConversationRecord(record, time.Now().UnixMilli())
	if record.ConvID == "" {
		return errors.New("sqlite mirror store: convID is empty")
	}
	if err := upsertConversation(ctx, s.db, record); err != nil {
		return errors.Wrap(err, "sqlite mirror store: upsert conversation")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertConversation(ctx context.Context, db execer, record ConversationRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO mirror_conversations (
			conv_id, title, created_at_ms, last_activity_ms, message_count, transcript_hash
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			title = CASE
				WHEN excluded.title <> '' THEN excluded.title
				ELSE mirror_conversations.title
			END,
			created_at_ms = CASE
				WHEN mirror_conversations.created_at_ms > 0 AND mirror_conversations.created_at_ms < excluded.created_at_ms
					THEN mirror_conversations.created_at_ms
				ELSE excluded.created_at_ms
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > mirror_conversations.last_activity_ms THEN excluded.last_activity_ms
				ELSE mirror_conversations.last_activity_ms
			END,
			message_count = CASE
				WHEN excluded.transcript_hash <> '' THEN excluded.message_count
				ELSE mirror_conversations.message_count
			END,
			transcript_hash = CASE
				WHEN excluded.transcript_hash <> '' THEN excluded.transcript_hash
				ELSE mirror_conversations.transcript_hash
			END
	`, record.ConvID, record.Title, record.CreatedAtMs, record.LastActivityMs, record.MessageCount, record.TranscriptHash)
	return err
}

func (s *SQLiteMirrorStore) DeleteConversation(ctx context.Context, convID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite mirror store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("sqlite mirror store: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM mirror_messages WHERE conv_id = ?`, convID); err != nil {
		return errors.Wrap(err, "sqlite mirror store: delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mirror_conversations WHERE conv_id = ?`, convID); err != nil {
		return errors.Wrap(err, "sqlite mirror store: delete conversation")
	}
	return tx.Commit()
}

func (s *SQLiteMirrorStore) GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error) {
	if s == nil || s.db == nil {
		return ConversationRecord{}, false, errors.New("sqlite mirror store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("sqlite mirror store: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var record ConversationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT conv_id, title, created_at_ms, last_activity_ms, message_count, transcript_hash
		FROM mirror_conversations
		WHERE conv_id = ?
	`, convID).Scan(
		&record.ConvID,
		&record.Title,
		&record.CreatedAtMs,
		&record.LastActivityMs,
		&record.MessageCount,
		&record.TranscriptHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationRecord{}, false, nil
	}
	if err != nil {
		return ConversationRecord{}, false, errors.Wrap(err, "sqlite mirror store: get conversation")
	}
	return record, true, nil
}

func (s *SQLiteMirrorStore) ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite mirror store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT conv_id, title, created_at_ms, last_activity_ms, message_count, transcript_hash
		FROM mirror_conversations
	`
	args := make([]any, 0, 2)
	if sinceMs > 0 {
		query += ` WHERE last_activity_ms >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY last_activity_ms DESC, conv_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite mirror store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	records := make([]ConversationRecord, 0, 16)
	for rows.Next() {
		var record ConversationRecord
		if err := rows.Scan(
			&record.ConvID,
			&record.Title,
			&record.CreatedAtMs,
			&record.LastActivityMs,
			&record.MessageCount,
			&record.TranscriptHash,
		); err != nil {
			return nil, errors.Wrap(err, "sqlite mirror store: scan conversation")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite mirror store: iterate conversations")
	}
	return records, nil
}

func (s *SQLiteMirrorStore) ReplaceTranscript(ctx context.Context, convID string, msgs []MessageRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("sqlite mirror store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return false, errors.New("sqlite mirror store: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	msgs = normalizeMessages(convID, msgs)
	hash, err := ComputeTranscriptHash(msgs)
	if err != nil {
		return false, errors.Wrap(err, "sqlite mirror store: hash transcript")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT transcript_hash FROM mirror_conversations WHERE conv_id = ?`, convID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrap(err, "sqlite mirror store: read transcript hash")
	}
	if current == hash {
		return false, nil
	}

	now := time.Now().UnixMilli()
	record := normalizeConversationRecord(ConversationRecord{
		ConvID:         convID,
		LastActivityMs: lastActivity(msgs),
		MessageCount:   len(msgs),
		TranscriptHash: hash,
	}, now)
	if err := upsertConversation(ctx, tx, record); err != nil {
		return false, errors.Wrap(err, "sqlite mirror store: upsert conversation")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mirror_messages WHERE conv_id = ?`, convID); err != nil {
		return false, errors.Wrap(err, "sqlite mirror store: clear transcript")
	}
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mirror_messages(conv_id, seq, message_id, role, content, ts_ms)
			VALUES(?, ?, ?, ?, ?, ?)
		`, convID, m.Seq, m.MessageID, m.Role, m.Content, m.TsMs); err != nil {
			return false, errors.Wrap(err, "sqlite mirror store: insert message")
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteMirrorStore) GetTranscript(ctx context.Context, convID string) ([]MessageRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite mirror store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("sqlite mirror store: convID is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conv_id, seq, message_id, role, content, ts_ms
		FROM mirror_messages
		WHERE conv_id = ?
		ORDER BY seq ASC
	`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite mirror store: query transcript")
	}
	defer func() { _ = rows.Close() }()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ConvID, &m.Seq, &m.MessageID, &m.Role, &m.Content, &m.TsMs); err != nil {
			return nil, errors.Wrap(err, "sqlite mirror store: scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite mirror store: iterate messages")
	}
	return out, nil
}

// SQLiteMirrorDSNForFile returns a go-sqlite3 DSN for a file-backed mirror.
func SQLiteMirrorDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite mirror store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
