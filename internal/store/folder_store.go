package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailstore/internal/model"
)

// UpsertFolder inserts a folder or, when (account, server path) already
// exists, updates its name and type and clears any missing marker.
// The resulting folder row is returned.
func (s *SQLiteStore) UpsertFolder(ctx context.Context, f model.Folder) (model.Folder, error) {
	if strings.TrimSpace(f.ServerPath) == "" {
		return model.Folder{}, fmt.Errorf("folder server path must not be empty")
	}
	if f.Name == "" {
		f.Name = f.ServerPath
	}
	if f.Type == "" {
		f.Type = model.FolderCustom
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	f.CreatedAt = time.Now().UTC()

	_, err := s.exec(ctx, `
		INSERT INTO folders (id, account_id, name, server_path, type, missing_since, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(account_id, server_path) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			missing_since = NULL`,
		f.ID, f.AccountID, f.Name, f.ServerPath, string(f.Type), f.CreatedAt,
	)
	if err != nil {
		return model.Folder{}, wrapErr("upsert folder", err)
	}

	// The insert may have been turned into an update; read back the row
	// that actually owns (account, path).
	got, err := s.GetFolderByPath(ctx, f.AccountID, f.ServerPath)
	if err != nil {
		return model.Folder{}, err
	}
	return *got, nil
}

// GetFolder retrieves a folder by ID, including its computed unread count.
func (s *SQLiteStore) GetFolder(ctx context.Context, id string) (*model.Folder, error) {
	row := s.db.QueryRowxContext(ctx, folderSelect+" WHERE f.id = ?", id)
	f, err := scanFolderRow(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get folder %s", id), err)
	}
	return &f, nil
}

// GetFolderByPath retrieves a folder by its (account, server path) key.
func (s *SQLiteStore) GetFolderByPath(ctx context.Context, accountID, serverPath string) (*model.Folder, error) {
	row := s.db.QueryRowxContext(ctx,
		folderSelect+" WHERE f.account_id = ? AND f.server_path = ?",
		accountID, serverPath,
	)
	f, err := scanFolderRow(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get folder %s/%s", accountID, serverPath), err)
	}
	return &f, nil
}

// ListFolders retrieves all folders of an account with unread counts,
// ordered by server path.
func (s *SQLiteStore) ListFolders(ctx context.Context, accountID string) ([]model.Folder, error) {
	rows, err := s.db.QueryxContext(ctx,
		folderSelect+" WHERE f.account_id = ? ORDER BY f.server_path",
		accountID,
	)
	if err != nil {
		return nil, wrapErr("list folders", err)
	}
	defer rows.Close()

	var folders []model.Folder
	for rows.Next() {
		f, err := scanFolderRow(rows)
		if err != nil {
			return nil, wrapErr("scan folder row", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// MarkFolderMissing records that a folder disappeared from the server.
// Cached messages are kept until PurgeMissingFolders runs past the grace
// period. Folders already marked keep their original timestamp.
func (s *SQLiteStore) MarkFolderMissing(ctx context.Context, id string, at time.Time) error {
	_, err := s.exec(ctx,
		"UPDATE folders SET missing_since = ? WHERE id = ? AND missing_since IS NULL",
		at.UTC(), id,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("mark folder %s missing", id), err)
	}
	return nil
}

// PurgeMissingFolders deletes folders (and cascades their messages) that
// have been missing from the server since before cutoff. Returns the
// number of folders removed.
func (s *SQLiteStore) PurgeMissingFolders(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.exec(ctx,
		"DELETE FROM folders WHERE missing_since IS NOT NULL AND missing_since < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, wrapErr("purge missing folders", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// DeleteFolder removes a folder and, via cascade, its cached messages.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return wrapErr(fmt.Sprintf("delete folder %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("delete folder %s", id))
	}
	return nil
}

// folderSelect joins the live unread count into every folder read so the
// count can never drift from the cached messages.
const folderSelect = `
	SELECT f.id, f.account_id, f.name, f.server_path, f.type, f.missing_since, f.created_at,
		(SELECT COUNT(*) FROM messages m WHERE m.folder_id = f.id AND m.read = 0 AND m.deleted = 0) AS unread
	FROM folders f`

// scanFolderRow scans a folder row produced by folderSelect.
func scanFolderRow(row rowScanner) (model.Folder, error) {
	var (
		f            model.Folder
		ftype        string
		missingSince *time.Time
	)

	err := row.Scan(
		&f.ID, &f.AccountID, &f.Name, &f.ServerPath, &ftype,
		&missingSince, &f.CreatedAt, &f.UnreadCount,
	)
	if err != nil {
		return model.Folder{}, err
	}

	f.Type = model.FolderType(ftype)
	f.MissingSince = missingSince
	return f, nil
}
