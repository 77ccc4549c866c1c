package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/echotab/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db       *sql.DB
	maxLists int
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all DB access through Go's connection pool, so transactions
	// must never touch s.db while they are open.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(p), err)
		}
	}

	return &SQLiteStore{db: db, maxLists: MaxListsPerUser}, nil
}

// SetListQuota overrides the per-user list limit. Values below 1 restore the default.
func (s *SQLiteStore) SetListQuota(n int) {
	if n < 1 {
		n = MaxListsPerUser
	}
	s.maxLists = n
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// notFound wraps ErrNotFound with the kind of record and the key that missed.
func notFound(kind, key string) error {
	return fmt.Errorf("%s not found: %s: %w", kind, key, ErrNotFound)
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tags ---

func (s *SQLiteStore) CreateTag(ctx context.Context, tag *models.Tag) error {
	if tag.ID == "" {
		tag.ID = newULID()
	}
	now := time.Now().UTC()
	tag.CreatedAt = now
	tag.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, name, color, favorite, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tag.ID, tag.Name, tag.Color, boolToInt(tag.Favorite), tag.CreatedAt, tag.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTag(ctx context.Context, id string) (*models.Tag, error) {
	t := &models.Tag{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, color, favorite, created_at, updated_at FROM tags WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Color, &t.Favorite, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("tag", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]*models.Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color, favorite, created_at, updated_at FROM tags ORDER BY favorite DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []*models.Tag
	for rows.Next() {
		t := &models.Tag{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.Favorite, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) UpdateTag(ctx context.Context, tag *models.Tag) error {
	tag.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE tags SET name=?, color=?, favorite=?, updated_at=? WHERE id=?`,
		tag.Name, tag.Color, boolToInt(tag.Favorite), tag.UpdatedAt, tag.ID,
	)
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("tag", tag.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteTag(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("tag", id)
	}
	return nil
}

// --- Tabs ---

// SaveTab inserts a tab, or refreshes the existing tab with the same URL.
// Tag ids on the incoming tab are merged into the stored assignment.
func (s *SQLiteStore) SaveTab(ctx context.Context, tab *models.Tab) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var existingID string
		var savedAt time.Time
		err := tx.QueryRowContext(ctx, `SELECT id, saved_at FROM tabs WHERE url = ?`, tab.URL).Scan(&existingID, &savedAt)
		switch {
		case err == sql.ErrNoRows:
			if tab.ID == "" {
				tab.ID = newULID()
			}
			tab.SavedAt = now
			tab.UpdatedAt = now
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tabs (id, url, title, fav_icon_url, saved_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
				tab.ID, tab.URL, tab.Title, tab.FavIconURL, tab.SavedAt, tab.UpdatedAt,
			); err != nil {
				return fmt.Errorf("create tab: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup tab: %w", err)
		default:
			tab.ID = existingID
			tab.SavedAt = savedAt
			tab.UpdatedAt = now
			if _, err := tx.ExecContext(ctx,
				`UPDATE tabs SET
					title = CASE WHEN ? != '' THEN ? ELSE title END,
					fav_icon_url = CASE WHEN ? != '' THEN ? ELSE fav_icon_url END,
					updated_at = ?
				WHERE id = ?`,
				tab.Title, tab.Title, tab.FavIconURL, tab.FavIconURL, tab.UpdatedAt, tab.ID,
			); err != nil {
				return fmt.Errorf("update tab: %w", err)
			}
		}

		for _, tagID := range tab.TagIDs {
			if err := tagTabTx(ctx, tx, tab.ID, tagID); err != nil {
				return err
			}
		}

		ids, err := tabTagIDs(ctx, tx, tab.ID)
		if err != nil {
			return err
		}
		tab.TagIDs = ids
		return nil
	})
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func tagTabTx(ctx context.Context, q queryer, tabID, tagID string) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO tab_tags (tab_id, tag_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM tab_tags WHERE tag_id = ?))`,
		tabID, tagID, tagID,
	)
	if err != nil {
		return fmt.Errorf("tag tab: %w", err)
	}
	return nil
}

func tabTagIDs(ctx context.Context, q queryer, tabID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT tab_tags.tag_id FROM tab_tags JOIN tags ON tags.id = tab_tags.tag_id
		WHERE tab_tags.tab_id = ? ORDER BY tags.name`, tabID)
	if err != nil {
		return nil, fmt.Errorf("get tab tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tab tag: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) GetTab(ctx context.Context, id string) (*models.Tab, error) {
	t := &models.Tab{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, url, title, fav_icon_url, saved_at, updated_at FROM tabs WHERE id = ?`, id,
	).Scan(&t.ID, &t.URL, &t.Title, &t.FavIconURL, &t.SavedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("tab", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tab: %w", err)
	}

	t.TagIDs, err = tabTagIDs(ctx, s.db, t.ID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) ListTabs(ctx context.Context, filter TabListFilter) ([]*models.Tab, error) {
	query := `SELECT tabs.id, tabs.url, tabs.title, tabs.fav_icon_url, tabs.saved_at, tabs.updated_at FROM tabs`
	var conditions []string
	var args []any
	order := ` ORDER BY tabs.saved_at DESC`

	if filter.TagID != "" {
		query += ` JOIN tab_tags ON tab_tags.tab_id = tabs.id`
		conditions = append(conditions, "tab_tags.tag_id = ?")
		args = append(args, filter.TagID)
		order = ` ORDER BY tab_tags.position, tabs.saved_at DESC`
	}
	if filter.Query != "" {
		conditions = append(conditions, "(tabs.title LIKE ? OR tabs.url LIKE ?)")
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += order

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}

	var tabs []*models.Tab
	for rows.Next() {
		t := &models.Tab{}
		if err := rows.Scan(&t.ID, &t.URL, &t.Title, &t.FavIconURL, &t.SavedAt, &t.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		tabs = append(tabs, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Release the single connection before loading tag ids.
	_ = rows.Close()

	for _, t := range tabs {
		if t.TagIDs, err = tabTagIDs(ctx, s.db, t.ID); err != nil {
			return nil, err
		}
	}
	return tabs, nil
}

func (s *SQLiteStore) DeleteTab(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tabs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete tab: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("tab", id)
	}
	return nil
}

func (s *SQLiteStore) TagTab(ctx context.Context, tabID, tagID string) error {
	if _, err := s.GetTab(ctx, tabID); err != nil {
		return err
	}
	if _, err := s.GetTag(ctx, tagID); err != nil {
		return err
	}
	return tagTabTx(ctx, s.db, tabID, tagID)
}

func (s *SQLiteStore) UntagTab(ctx context.Context, tabID, tagID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM tab_tags WHERE tab_id = ? AND tag_id = ?", tabID, tagID)
	if err != nil {
		return fmt.Errorf("untag tab: %w", err)
	}
	return nil
}

// TagBoard returns one column per tag (ordered like ListTags) followed by the
// untagged column. Tabs inside a column are in their stored position order.
func (s *SQLiteStore) TagBoard(ctx context.Context) ([]TagColumn, error) {
	tags, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}

	columns := make([]TagColumn, 0, len(tags)+1)
	index := make(map[string]int, len(tags))
	for _, t := range tags {
		index[t.ID] = len(columns)
		columns = append(columns, TagColumn{TagID: t.ID, TabIDs: []string{}})
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tag_id, tab_id FROM tab_tags ORDER BY tag_id, position`)
	if err != nil {
		return nil, fmt.Errorf("load tag board: %w", err)
	}
	for rows.Next() {
		var tagID, tabID string
		if err := rows.Scan(&tagID, &tabID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan tag board: %w", err)
		}
		if i, ok := index[tagID]; ok {
			columns[i].TabIDs = append(columns[i].TabIDs, tabID)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	untagged := TagColumn{TagID: UntaggedColumn, TabIDs: []string{}}
	rows, err = s.db.QueryContext(ctx,
		`SELECT id FROM tabs WHERE id NOT IN (SELECT tab_id FROM tab_tags) ORDER BY saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("load untagged tabs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan untagged tab: %w", err)
		}
		untagged.TabIDs = append(untagged.TabIDs, id)
	}
	columns = append(columns, untagged)
	return columns, rows.Err()
}

// ApplyTagBoard rewrites membership and positions for every given tag column.
// The untagged column is derived and ignored here.
func (s *SQLiteStore) ApplyTagBoard(ctx context.Context, columns []TagColumn) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, col := range columns {
			if col.TagID == UntaggedColumn {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM tab_tags WHERE tag_id = ?", col.TagID); err != nil {
				return fmt.Errorf("clear tag column %s: %w", col.TagID, err)
			}
			for pos, tabID := range col.TabIDs {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO tab_tags (tab_id, tag_id, position) VALUES (?, ?, ?)",
					tabID, col.TagID, pos,
				); err != nil {
					return fmt.Errorf("place tab %s in %s: %w", tabID, col.TagID, err)
				}
			}
		}
		return nil
	})
}
