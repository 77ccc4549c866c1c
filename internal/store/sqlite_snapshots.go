package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joescharf/echotab/internal/models"
)

const snapshotColumns = `id, tab_id, url, image, content_type, width, height, source, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*models.Snapshot, error) {
	snap := &models.Snapshot{}
	var source string
	err := row.Scan(&snap.ID, &snap.TabID, &snap.URL, &snap.Image, &snap.ContentType,
		&snap.Width, &snap.Height, &source, &snap.CreatedAt)
	snap.Source = models.SnapshotSource(source)
	return snap, err
}

// SaveTempSnapshot stages a snapshot for a tab, replacing any staged one.
func (s *SQLiteStore) SaveTempSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if snap.TabID == "" {
		return fmt.Errorf("save temp snapshot: tab id is required")
	}
	if snap.ID == "" {
		snap.ID = newULID()
	}
	if snap.ContentType == "" {
		snap.ContentType = "image/jpeg"
	}
	snap.CreatedAt = time.Now().UTC()
	snap.Temporary = true

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots_temp (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.TabID, snap.URL, snap.Image, snap.ContentType,
		snap.Width, snap.Height, string(snap.Source), snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save temp snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTempSnapshot(ctx context.Context, tabID string) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots_temp WHERE tab_id = ?`, tabID))
	if err == sql.ErrNoRows {
		return nil, notFound("staged snapshot", tabID)
	}
	if err != nil {
		return nil, fmt.Errorf("get temp snapshot: %w", err)
	}
	snap.Temporary = true
	return snap, nil
}

// CommitSnapshot moves the staged snapshot for tabID into the permanent store.
// The previous permanent snapshot for the same URL or tab is replaced.
func (s *SQLiteStore) CommitSnapshot(ctx context.Context, tabID string) (*models.Snapshot, error) {
	var snap *models.Snapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		snap, err = scanSnapshot(tx.QueryRowContext(ctx,
			`SELECT `+snapshotColumns+` FROM snapshots_temp WHERE tab_id = ?`, tabID))
		if err == sql.ErrNoRows {
			return notFound("staged snapshot", tabID)
		}
		if err != nil {
			return fmt.Errorf("load staged snapshot: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE url = ? OR tab_id = ?", snap.URL, snap.TabID); err != nil {
			return fmt.Errorf("replace snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (`+snapshotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, snap.TabID, snap.URL, snap.Image, snap.ContentType,
			snap.Width, snap.Height, string(snap.Source), snap.CreatedAt,
		); err != nil {
			return fmt.Errorf("commit snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots_temp WHERE tab_id = ?", tabID); err != nil {
			return fmt.Errorf("clear staged snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap.Temporary = false
	return snap, nil
}

func (s *SQLiteStore) DiscardTempSnapshot(ctx context.Context, tabID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots_temp WHERE tab_id = ?", tabID)
	if err != nil {
		return fmt.Errorf("discard temp snapshot: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("staged snapshot", tabID)
	}
	return nil
}

func (s *SQLiteStore) GetSnapshotByURL(ctx context.Context, url string) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE url = ?`, url))
	if err == sql.ErrNoRows {
		return nil, notFound("snapshot", url)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot by url: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) GetSnapshotByTabID(ctx context.Context, tabID string) (*models.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE tab_id = ? ORDER BY created_at DESC LIMIT 1`, tabID))
	if err == sql.ErrNoRows {
		return nil, notFound("snapshot for tab", tabID)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot by tab: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("snapshot", id)
	}
	return nil
}

// PurgeTempSnapshots removes staged snapshots created before olderThan.
func (s *SQLiteStore) PurgeTempSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM snapshots_temp WHERE created_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge temp snapshots: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
