package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pyrelay/internal/apperror"
	"github.com/sakif/pyrelay/internal/model"
	"github.com/sakif/pyrelay/internal/repository"
)

// compile-time check that *DB implements repository.ScriptRepository
var _ repository.ScriptRepository = (*DB)(nil)

// Create inserts a new script owned by script.OwnerID.
//
// The ID and both timestamps are assigned here and written back into the
// caller's struct, so the handler can return the stored record as-is.
func (db *DB) Create(ctx context.Context, script *model.Script) error {
	script.ID = xid.New().String()

	now := time.Now().UTC()
	script.CreatedAt = now
	script.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO scripts (id, owner_id, title, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		script.ID,
		script.OwnerID,
		script.Title,
		script.Content,
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating script: %w", err)
	}

	return nil
}

// GetByID returns one script.
//
// OWNER SCOPING:
// The owner_id sits in the WHERE clause rather than being checked after the
// read. A script that exists but belongs to another user therefore produces
// sql.ErrNoRows, which becomes the same 404 as a script that never existed.
// Callers learn nothing about other users' IDs.
func (db *DB) GetByID(ctx context.Context, ownerID, id string) (*model.Script, error) {
	var s model.Script

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, owner_id, title, content, created_at, updated_at
		 FROM scripts
		 WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	).Scan(
		&s.ID,
		&s.OwnerID,
		&s.Title,
		&s.Content,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("script", id)
		}
		return nil, fmt.Errorf("sqlite: getting script %s: %w", id, err)
	}

	return &s, nil
}

// List returns the owner's scripts, most recently updated first.
// A zero Limit means "no limit".
func (db *DB) List(ctx context.Context, ownerID string, opts repository.ListOptions) ([]model.Script, error) {
	limit := opts.Limit
	if limit <= 0 {
		// SQLite treats a negative LIMIT as unbounded.
		limit = -1
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, owner_id, title, content, created_at, updated_at
		 FROM scripts
		 WHERE owner_id = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		ownerID, limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scripts: %w", err)
	}
	defer rows.Close()

	// Start from an empty slice, not nil, so the JSON body is [] for a user
	// with no scripts.
	scripts := []model.Script{}
	for rows.Next() {
		var s model.Script
		if err := rows.Scan(
			&s.ID,
			&s.OwnerID,
			&s.Title,
			&s.Content,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning script row: %w", err)
		}
		scripts = append(scripts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating script rows: %w", err)
	}

	return scripts, nil
}

// Update overwrites title and content of an existing script and refreshes
// UpdatedAt. CreatedAt is re-read so the caller's struct is complete.
func (db *DB) Update(ctx context.Context, script *model.Script) error {
	script.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE scripts SET title = ?, content = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		script.Title,
		script.Content,
		script.UpdatedAt,
		script.ID,
		script.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating script %s: %w", script.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NotFound("script", script.ID)
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT created_at FROM scripts WHERE id = ?`, script.ID,
	).Scan(&script.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reloading script %s: %w", script.ID, err)
	}

	return nil
}

// Delete removes a script. Deleting a missing (or foreign) script is NotFound.
func (db *DB) Delete(ctx context.Context, ownerID, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM scripts WHERE id = ? AND owner_id = ?`, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting script %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NotFound("script", id)
	}

	return nil
}
