package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailstore/internal/model"
)

// InsertMessage inserts a fully formed cached message, including flags and
// tags, as a single statement so an observer never sees a message without
// its filter-derived state. A duplicate (folder, UID) or per-account
// Message-Id surfaces as a conflict error.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	from, err := marshalJSON(m.From)
	if err != nil {
		return model.Message{}, err
	}
	to, err := marshalJSON(m.To)
	if err != nil {
		return model.Message{}, err
	}
	cc, err := marshalJSON(m.Cc)
	if err != nil {
		return model.Message{}, err
	}
	tags, err := marshalJSON(m.Tags)
	if err != nil {
		return model.Message{}, err
	}

	_, err = s.exec(ctx, `
		INSERT INTO messages (
			id, account_id, folder_id, uid, message_id,
			subject, from_addr, to_addrs, cc_addrs, date,
			body_text, body_html, read, starred, deleted,
			tags, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountID, m.FolderID, m.UID, m.MessageID,
		m.Subject, from, to, cc, m.Date,
		m.BodyText, m.BodyHTML,
		boolToInt(m.Flags.Read), boolToInt(m.Flags.Starred), boolToInt(m.Flags.Deleted),
		tags, m.CreatedAt,
	)
	if err != nil {
		return model.Message{}, wrapErr("insert message", err)
	}
	return m, nil
}

// GetMessage retrieves a cached message by its (folder, UID) key.
func (s *SQLiteStore) GetMessage(ctx context.Context, folderID string, uid uint32) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT * FROM messages WHERE folder_id = ? AND uid = ?", folderID, uid,
	)
	m, err := scanMessageRow(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get message %s/%d", folderID, uid), err)
	}
	return &m, nil
}

// GetMessageByID retrieves a cached message by its row ID.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM messages WHERE id = ?", id)
	m, err := scanMessageRow(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get message %s", id), err)
	}
	return &m, nil
}

// ListMessages retrieves messages in a folder, newest date first, with
// optional paging. limit <= 0 means no limit.
func (s *SQLiteStore) ListMessages(ctx context.Context, folderID string, limit, offset int) ([]model.Message, error) {
	query := "SELECT * FROM messages WHERE folder_id = ? ORDER BY date DESC, uid DESC"
	args := []any{folderID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, wrapErr("scan message row", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SetFlags replaces the flag bits of a message.
func (s *SQLiteStore) SetFlags(ctx context.Context, id string, flags model.Flags) error {
	result, err := s.exec(ctx,
		"UPDATE messages SET read = ?, starred = ?, deleted = ? WHERE id = ?",
		boolToInt(flags.Read), boolToInt(flags.Starred), boolToInt(flags.Deleted), id,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("set flags %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("set flags %s", id))
	}
	return nil
}

// SetTags replaces the tag set of a message. Callers are responsible for
// deduplication.
func (s *SQLiteStore) SetTags(ctx context.Context, id string, tags []string) error {
	encoded, err := marshalJSON(tags)
	if err != nil {
		return err
	}
	result, err := s.exec(ctx, "UPDATE messages SET tags = ? WHERE id = ?", encoded, id)
	if err != nil {
		return wrapErr(fmt.Sprintf("set tags %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("set tags %s", id))
	}
	return nil
}

// MoveMessage reassigns a message to another folder of the same account.
func (s *SQLiteStore) MoveMessage(ctx context.Context, id, folderID string) error {
	result, err := s.exec(ctx,
		"UPDATE messages SET folder_id = ? WHERE id = ?", folderID, id,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("move message %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("move message %s", id))
	}
	return nil
}

// DeleteMessage removes a cached message row outright. Rule-driven deletes
// go through SetFlags (soft delete); this is the user-initiated purge path.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return wrapErr(fmt.Sprintf("delete message %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("delete message %s", id))
	}
	return nil
}

// PurgeDeleted removes soft-deleted messages cached before cutoff.
// Returns the number of rows removed.
func (s *SQLiteStore) PurgeDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.exec(ctx,
		"DELETE FROM messages WHERE deleted = 1 AND created_at < ?", cutoff.UTC(),
	)
	if err != nil {
		return 0, wrapErr("purge deleted messages", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// MaxUID returns the highest cached server UID in a folder, 0 when the
// folder holds no messages.
func (s *SQLiteStore) MaxUID(ctx context.Context, folderID string) (uint32, error) {
	var max uint32
	err := s.db.GetContext(ctx, &max,
		"SELECT COALESCE(MAX(uid), 0) FROM messages WHERE folder_id = ?", folderID,
	)
	if err != nil {
		return 0, wrapErr("max uid", err)
	}
	return max, nil
}

// scanMessageRow scans a full message row.
func scanMessageRow(row rowScanner) (model.Message, error) {
	var (
		m                     model.Message
		from, to, cc, tags    string
		read, starred, deleted int
	)

	err := row.Scan(
		&m.ID, &m.AccountID, &m.FolderID, &m.UID, &m.MessageID,
		&m.Subject, &from, &to, &cc, &m.Date,
		&m.BodyText, &m.BodyHTML, &read, &starred, &deleted,
		&tags, &m.CreatedAt,
	)
	if err != nil {
		return model.Message{}, err
	}

	m.Flags = model.Flags{Read: read != 0, Starred: starred != 0, Deleted: deleted != 0}
	if err := unmarshalJSON(from, &m.From); err != nil {
		return model.Message{}, err
	}
	if err := unmarshalJSON(to, &m.To); err != nil {
		return model.Message{}, err
	}
	if err := unmarshalJSON(cc, &m.Cc); err != nil {
		return model.Message{}, err
	}
	if err := unmarshalJSON(tags, &m.Tags); err != nil {
		return model.Message{}, err
	}
	return m, nil
}
