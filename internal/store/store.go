package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/echotab/internal/models"
)

// MaxListsPerUser is the default number of lists a single user may own.
const MaxListsPerUser = 10

// UntaggedColumn is the board column holding tabs that carry no tag.
const UntaggedColumn = "untagged"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQuotaExceeded is returned when a user already owns the maximum number of lists.
	ErrQuotaExceeded = errors.New("list quota exceeded")
	// ErrForbidden is returned when a user modifies a list they do not own.
	ErrForbidden = errors.New("forbidden")
)

// TabListFilter specifies filters for listing tabs.
type TabListFilter struct {
	TagID string
	Query string // substring match on title or URL
}

// TagColumn is one column of the tag board: a tag and its tabs in display order.
type TagColumn struct {
	TagID  string   `json:"tagId"`
	TabIDs []string `json:"tabIds"`
}

// Store defines the persistence interface for echotab.
type Store interface {
	// Tags
	CreateTag(ctx context.Context, tag *models.Tag) error
	GetTag(ctx context.Context, id string) (*models.Tag, error)
	ListTags(ctx context.Context) ([]*models.Tag, error)
	UpdateTag(ctx context.Context, tag *models.Tag) error
	DeleteTag(ctx context.Context, id string) error

	// Tabs
	SaveTab(ctx context.Context, tab *models.Tab) error
	GetTab(ctx context.Context, id string) (*models.Tab, error)
	ListTabs(ctx context.Context, filter TabListFilter) ([]*models.Tab, error)
	DeleteTab(ctx context.Context, id string) error
	TagTab(ctx context.Context, tabID, tagID string) error
	UntagTab(ctx context.Context, tabID, tagID string) error
	TagBoard(ctx context.Context) ([]TagColumn, error)
	ApplyTagBoard(ctx context.Context, columns []TagColumn) error

	// Lists
	CreateList(ctx context.Context, list *models.List) error
	GetList(ctx context.Context, id string) (*models.List, error)
	ListUserLists(ctx context.Context, userID string) ([]*models.List, error)
	UpdateList(ctx context.Context, userID string, list *models.List) error
	DeleteList(ctx context.Context, userID, id string) error
	ReorderListLinks(ctx context.Context, userID, listID string, linkIDs []string) error
	IncrementListViews(ctx context.Context, id string) (int64, error)
	IncrementListImports(ctx context.Context, id string) (int64, error)
	UnpublishUserLists(ctx context.Context, userID string) (int64, error)

	// Snapshots
	SaveTempSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetTempSnapshot(ctx context.Context, tabID string) (*models.Snapshot, error)
	CommitSnapshot(ctx context.Context, tabID string) (*models.Snapshot, error)
	DiscardTempSnapshot(ctx context.Context, tabID string) error
	GetSnapshotByURL(ctx context.Context, url string) (*models.Snapshot, error)
	GetSnapshotByTabID(ctx context.Context, tabID string) (*models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	PurgeTempSnapshots(ctx context.Context, olderThan time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
