package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vovakirdan/jobchat/internal/store"
)

const messageSelect = `
	SELECT m.id, m.job_id, m.sender_id, COALESCE(m.text, ''), COALESCE(m.attachment_ref, ''),
	       COALESCE(m.client_token, ''), m.created_at,
	       COALESCE(u.display_name, ''), COALESCE(u.avatar_url, '')
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id
`

// InsertMessage stores a message with a ULID id and a created_at strictly
// greater than every earlier message of the job. When the job already holds a
// message with the same client token from the same sender, that message is
// returned and created is false; a token used by another sender is a conflict.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m store.NewMessage) (*store.Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin insert message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if m.ClientToken != "" {
		row := tx.QueryRowContext(ctx, messageSelect+` WHERE m.job_id = ? AND m.client_token = ?`, m.JobID, m.ClientToken)
		existing, err := scanMessage(row)
		switch {
		case err == nil && existing.SenderID != m.SenderID:
			return nil, false, fmt.Errorf("client token taken by another sender: %w", store.ErrConflict)
		case err == nil:
			return existing, false, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, false, fmt.Errorf("lookup client token: %w", err)
		}
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE job_id = ?`, m.JobID).Scan(&last); err != nil {
		return nil, false, fmt.Errorf("query last timestamp: %w", err)
	}
	createdAt := s.now().UnixMicro()
	if last.Valid && createdAt <= last.Int64 {
		createdAt = last.Int64 + 1
	}

	id := ulid.Make().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, job_id, sender_id, text, attachment_ref, client_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, m.JobID, m.SenderID, nullString(m.Text), nullString(m.AttachmentRef), nullString(m.ClientToken), createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, fmt.Errorf("insert message: %w", store.ErrConflict)
		}
		return nil, false, fmt.Errorf("insert message: %w", err)
	}

	row := tx.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, false, fmt.Errorf("reload message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit insert message: %w", err)
	}
	return msg, true, nil
}

// GetMessage retrieves one message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages returns one page of a job's messages ordered by (created_at, id).
func (s *SQLiteStore) ListMessages(ctx context.Context, jobID string, r store.Range) ([]store.Message, error) {
	limit := r.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		query   string
		args    = []any{jobID}
		reverse bool
	)
	switch {
	case r.After != nil:
		at := r.After.CreatedAt.UnixMicro()
		query = messageSelect + `
			WHERE m.job_id = ? AND (m.created_at > ? OR (m.created_at = ? AND m.id > ?))
			ORDER BY m.created_at ASC, m.id ASC LIMIT ?`
		args = append(args, at, at, r.After.ID, limit)
	case r.Before != nil:
		at := r.Before.CreatedAt.UnixMicro()
		query = messageSelect + `
			WHERE m.job_id = ? AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))
			ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
		args = append(args, at, at, r.Before.ID, limit)
		reverse = true
	default:
		query = messageSelect + `
			WHERE m.job_id = ?
			ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
		args = append(args, limit)
		reverse = true
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]store.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if reverse {
		slices.Reverse(msgs)
	}
	return msgs, nil
}

// AttachmentReferenced reports whether any message points at ref.
func (s *SQLiteStore) AttachmentReferenced(ctx context.Context, ref string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE attachment_ref = ? LIMIT 1`, ref).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query attachment: %w", err)
	}
	return true, nil
}

func scanMessage(row scanner) (*store.Message, error) {
	var (
		msg    store.Message
		micros int64
	)
	err := row.Scan(&msg.ID, &msg.JobID, &msg.SenderID, &msg.Text, &msg.AttachmentRef, &msg.ClientToken, &micros, &msg.SenderName, &msg.SenderAvatarURL)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = time.UnixMicro(micros).UTC()
	return &msg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
