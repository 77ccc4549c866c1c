package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joescharf/echotab/internal/models"
)

const listColumns = `id, user_id, title, description, public, view_count, import_count, created_at, updated_at`

func scanList(row interface{ Scan(...any) error }) (*models.List, error) {
	l := &models.List{}
	err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.Description, &l.Public, &l.ViewCount, &l.ImportCount, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// CreateList stores a new list and its links. The owner's list count is
// checked inside the same transaction so concurrent creates cannot overshoot
// the quota.
func (s *SQLiteStore) CreateList(ctx context.Context, list *models.List) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owned int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM lists WHERE user_id = ?", list.UserID).Scan(&owned); err != nil {
			return fmt.Errorf("count user lists: %w", err)
		}
		if owned >= s.maxLists {
			return fmt.Errorf("user %s owns %d lists: %w", list.UserID, owned, ErrQuotaExceeded)
		}

		if list.ID == "" {
			list.ID = newULID()
		}
		now := time.Now().UTC()
		list.CreatedAt = now
		list.UpdatedAt = now
		list.ViewCount = 0
		list.ImportCount = 0

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lists (id, user_id, title, description, public, view_count, import_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
			list.ID, list.UserID, list.Title, list.Description, boolToInt(list.Public), list.CreatedAt, list.UpdatedAt,
		); err != nil {
			return fmt.Errorf("create list: %w", err)
		}

		return replaceListLinks(ctx, tx, list)
	})
}

// upsertLink inserts a link or refreshes the existing row with the same URL,
// filling link.ID with the stored id.
func upsertLink(ctx context.Context, tx *sql.Tx, link *models.Link) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO links (id, url, title, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE links.title END,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE links.description END,
			updated_at = excluded.updated_at`,
		newULID(), link.URL, link.Title, link.Description, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert link %s: %w", link.URL, err)
	}
	err = tx.QueryRowContext(ctx,
		`SELECT id, title, description, created_at, updated_at FROM links WHERE url = ?`, link.URL,
	).Scan(&link.ID, &link.Title, &link.Description, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("reload link %s: %w", link.URL, err)
	}
	return nil
}

// replaceListLinks rewrites the list's link membership in slice order.
// Duplicate URLs keep their first position.
func replaceListLinks(ctx context.Context, tx *sql.Tx, list *models.List) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM lists_links WHERE list_id = ?", list.ID); err != nil {
		return fmt.Errorf("clear list links: %w", err)
	}

	seen := make(map[string]bool, len(list.Links))
	links := make([]models.Link, 0, len(list.Links))
	for _, link := range list.Links {
		if link.URL == "" || seen[link.URL] {
			continue
		}
		seen[link.URL] = true
		if err := upsertLink(ctx, tx, &link); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO lists_links (list_id, link_id, position) VALUES (?, ?, ?)",
			list.ID, link.ID, len(links),
		); err != nil {
			return fmt.Errorf("attach link: %w", err)
		}
		links = append(links, link)
	}
	list.Links = links
	return nil
}

func listLinks(ctx context.Context, q queryer, listID string) ([]models.Link, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT links.id, links.url, links.title, links.description, links.created_at, links.updated_at
		FROM lists_links JOIN links ON links.id = lists_links.link_id
		WHERE lists_links.list_id = ? ORDER BY lists_links.position`, listID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	links := []models.Link{}
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.ID, &l.URL, &l.Title, &l.Description, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (s *SQLiteStore) GetList(ctx context.Context, id string) (*models.List, error) {
	l, err := scanList(s.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM lists WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("list", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}

	if l.Links, err = listLinks(ctx, s.db, l.ID); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLiteStore) ListUserLists(ctx context.Context, userID string) ([]*models.List, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listColumns+` FROM lists WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user lists: %w", err)
	}

	var lists []*models.List
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, l)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, l := range lists {
		if l.Links, err = listLinks(ctx, s.db, l.ID); err != nil {
			return nil, err
		}
	}
	return lists, nil
}

// ownedList loads the owner of a list inside tx and checks it against userID.
func ownedList(ctx context.Context, tx *sql.Tx, userID, listID string) error {
	var owner string
	err := tx.QueryRowContext(ctx, "SELECT user_id FROM lists WHERE id = ?", listID).Scan(&owner)
	if err == sql.ErrNoRows {
		return notFound("list", listID)
	}
	if err != nil {
		return fmt.Errorf("get list owner: %w", err)
	}
	if owner != userID {
		return fmt.Errorf("list %s: %w", listID, ErrForbidden)
	}
	return nil
}

// UpdateList replaces title, description, and public flag. A nil Links slice
// leaves membership untouched; an empty non-nil slice clears it.
func (s *SQLiteStore) UpdateList(ctx context.Context, userID string, list *models.List) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ownedList(ctx, tx, userID, list.ID); err != nil {
			return err
		}

		list.UserID = userID
		list.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE lists SET title=?, description=?, public=?, updated_at=? WHERE id=?`,
			list.Title, list.Description, boolToInt(list.Public), list.UpdatedAt, list.ID,
		); err != nil {
			return fmt.Errorf("update list: %w", err)
		}

		if list.Links != nil {
			if err := replaceListLinks(ctx, tx, list); err != nil {
				return err
			}
		}

		err := tx.QueryRowContext(ctx,
			"SELECT view_count, import_count, created_at FROM lists WHERE id = ?", list.ID,
		).Scan(&list.ViewCount, &list.ImportCount, &list.CreatedAt)
		if err != nil {
			return fmt.Errorf("reload list: %w", err)
		}
		if list.Links == nil {
			list.Links, err = listLinks(ctx, tx, list.ID)
		}
		return err
	})
}

func (s *SQLiteStore) DeleteList(ctx context.Context, userID, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ownedList(ctx, tx, userID, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM lists WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete list: %w", err)
		}
		return nil
	})
}

// ReorderListLinks stores a new link order. linkIDs must be a permutation of
// the list's current links.
func (s *SQLiteStore) ReorderListLinks(ctx context.Context, userID, listID string, linkIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ownedList(ctx, tx, userID, listID); err != nil {
			return err
		}

		current, err := listLinks(ctx, tx, listID)
		if err != nil {
			return err
		}
		if len(current) != len(linkIDs) {
			return fmt.Errorf("reorder list links: got %d ids, list has %d links", len(linkIDs), len(current))
		}
		member := make(map[string]bool, len(current))
		for _, l := range current {
			member[l.ID] = true
		}

		for pos, id := range linkIDs {
			if !member[id] {
				return fmt.Errorf("reorder list links: link %s is not in list %s", id, listID)
			}
			delete(member, id)
			if _, err := tx.ExecContext(ctx,
				"UPDATE lists_links SET position = ? WHERE list_id = ? AND link_id = ?", pos, listID, id,
			); err != nil {
				return fmt.Errorf("reorder list links: %w", err)
			}
		}
		return nil
	})
}

// incrementCounter bumps a counter column on a public list and returns the new value.
func (s *SQLiteStore) incrementCounter(ctx context.Context, id, column string) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE lists SET `+column+` = `+column+` + 1 WHERE id = ? AND public = 1`, id)
		if err != nil {
			return fmt.Errorf("increment %s: %w", column, err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return notFound("public list", id)
		}
		return tx.QueryRowContext(ctx, `SELECT `+column+` FROM lists WHERE id = ?`, id).Scan(&n)
	})
	return n, err
}

func (s *SQLiteStore) IncrementListViews(ctx context.Context, id string) (int64, error) {
	return s.incrementCounter(ctx, id, "view_count")
}

func (s *SQLiteStore) IncrementListImports(ctx context.Context, id string) (int64, error) {
	return s.incrementCounter(ctx, id, "import_count")
}

// UnpublishUserLists makes every list owned by userID private.
func (s *SQLiteStore) UnpublishUserLists(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE lists SET public = 0, updated_at = ? WHERE user_id = ? AND public = 1",
		time.Now().UTC(), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("unpublish user lists: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
