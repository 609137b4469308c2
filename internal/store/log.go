package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/codesync/internal/doc"
	"github.com/roach88/codesync/internal/model"
)

// Entry is one stored update.
type Entry struct {
	Workspace string
	Seq       int64
	Origin    string
	Digest    string
	Payload   []byte
}

// AppendUpdate stores an encoded update at the end of the workspace log.
// Appending a payload already in the log is a no-op: the existing entry's
// seq is returned with appended=false.
func (s *Store) AppendUpdate(ctx context.Context, workspace, origin string, payload []byte) (seq int64, appended bool, err error) {
	digest := model.HashWithDomain(model.DomainUpdate, payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("append update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, created_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, workspace, time.Now().Unix()); err != nil {
		return 0, false, fmt.Errorf("append update: register workspace: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO updates (workspace, seq, origin, digest, payload)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
		FROM updates WHERE workspace = ?
		ON CONFLICT DO NOTHING
	`, workspace, origin, digest, payload, workspace)
	if err != nil {
		return 0, false, fmt.Errorf("append update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("append update: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT seq FROM updates WHERE workspace = ? AND digest = ?
	`, workspace, digest).Scan(&seq)
	if err != nil {
		return 0, false, fmt.Errorf("append update: read seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("append update: commit: %w", err)
	}
	return seq, n > 0, nil
}

// ReadUpdates returns the entries of workspace with seq > after, ordered by
// seq. Returns an empty slice (not nil) when there are none.
func (s *Store) ReadUpdates(ctx context.Context, workspace string, after int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace, seq, origin, digest, payload
		FROM updates
		WHERE workspace = ? AND seq > ?
		ORDER BY seq ASC
	`, workspace, after)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Workspace, &e.Seq, &e.Origin, &e.Digest, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}
	return entries, nil
}

// Workspaces returns the ids of every workspace with a log, sorted.
func (s *Store) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workspaces ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return ids, nil
}

// LastSeq returns the highest seq stored for workspace, 0 if none.
func (s *Store) LastSeq(ctx context.Context, workspace string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM updates WHERE workspace = ?`, workspace).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Replay decodes every stored update of workspace and applies it to d.
// Returns the number of entries applied.
func (s *Store) Replay(ctx context.Context, workspace string, d *doc.Doc) (int, error) {
	entries, err := s.ReadUpdates(ctx, workspace, 0)
	if err != nil {
		return 0, fmt.Errorf("replay %s: %w", workspace, err)
	}
	for _, e := range entries {
		u, err := doc.DecodeUpdate(e.Payload)
		if err != nil {
			return 0, fmt.Errorf("replay %s: seq %d: %w", workspace, e.Seq, err)
		}
		if err := d.ApplyUpdate(u); err != nil {
			return 0, fmt.Errorf("replay %s: seq %d: %w", workspace, e.Seq, err)
		}
	}
	return len(entries), nil
}
