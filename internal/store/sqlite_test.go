package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/echotab/internal/models"
)

const (
	alice = "8d0f8a55-3f7e-4f53-9c43-2f1f4f5a0a01"
	bob   = "1b6a2c0e-7d7f-4f0c-8e0a-53b1f3d0c0b2"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

// --- Tags ---

func TestTagCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tag := &models.Tag{Name: "reading", Color: "#ff0000"}
	require.NoError(t, s.CreateTag(ctx, tag))
	assert.NotEmpty(t, tag.ID)

	got, err := s.GetTag(ctx, tag.ID)
	require.NoError(t, err)
	assert.Equal(t, "reading", got.Name)
	assert.False(t, got.Favorite)

	got.Favorite = true
	got.Name = "to-read"
	require.NoError(t, s.UpdateTag(ctx, got))

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "to-read", tags[0].Name)
	assert.True(t, tags[0].Favorite)

	require.NoError(t, s.DeleteTag(ctx, tag.ID))
	_, err = s.GetTag(ctx, tag.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTag(ctx, tag.ID), ErrNotFound)
}

func TestTagUniqueName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTag(ctx, &models.Tag{Name: "dup"}))
	assert.Error(t, s.CreateTag(ctx, &models.Tag{Name: "dup"}))
}

// --- Tabs ---

func TestSaveTab_UpsertsByURL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	work := &models.Tag{Name: "work"}
	require.NoError(t, s.CreateTag(ctx, work))
	fun := &models.Tag{Name: "fun"}
	require.NoError(t, s.CreateTag(ctx, fun))

	tab := &models.Tab{URL: "https://go.dev", Title: "Go", TagIDs: []string{work.ID}}
	require.NoError(t, s.SaveTab(ctx, tab))
	firstID := tab.ID

	again := &models.Tab{URL: "https://go.dev", TagIDs: []string{fun.ID}}
	require.NoError(t, s.SaveTab(ctx, again))
	assert.Equal(t, firstID, again.ID, "same URL keeps the same tab")
	assert.ElementsMatch(t, []string{work.ID, fun.ID}, again.TagIDs)

	got, err := s.GetTab(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Title, "empty title does not overwrite")

	tabs, err := s.ListTabs(ctx, TabListFilter{})
	require.NoError(t, err)
	assert.Len(t, tabs, 1)
}

func TestListTabs_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tag := &models.Tag{Name: "docs"}
	require.NoError(t, s.CreateTag(ctx, tag))

	require.NoError(t, s.SaveTab(ctx, &models.Tab{URL: "https://pkg.go.dev", Title: "Packages", TagIDs: []string{tag.ID}}))
	require.NoError(t, s.SaveTab(ctx, &models.Tab{URL: "https://example.com", Title: "Example"}))

	tabs, err := s.ListTabs(ctx, TabListFilter{TagID: tag.ID})
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	assert.Equal(t, "Packages", tabs[0].Title)

	tabs, err = s.ListTabs(ctx, TabListFilter{Query: "example"})
	require.NoError(t, err)
	require.Len(t, tabs, 1)
	assert.Equal(t, "https://example.com", tabs[0].URL)
}

func TestTagUntagAndDeleteTab(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tag := &models.Tag{Name: "later"}
	require.NoError(t, s.CreateTag(ctx, tag))
	tab := &models.Tab{URL: "https://a.test"}
	require.NoError(t, s.SaveTab(ctx, tab))

	require.NoError(t, s.TagTab(ctx, tab.ID, tag.ID))
	got, err := s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.True(t, got.HasTag(tag.ID))

	require.NoError(t, s.UntagTab(ctx, tab.ID, tag.ID))
	got, err = s.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TagIDs)

	assert.ErrorIs(t, s.TagTab(ctx, tab.ID, "missing"), ErrNotFound)

	require.NoError(t, s.DeleteTab(ctx, tab.ID))
	_, err = s.GetTab(ctx, tab.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTagBoard_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &models.Tag{Name: "a"}
	b := &models.Tag{Name: "b"}
	require.NoError(t, s.CreateTag(ctx, a))
	require.NoError(t, s.CreateTag(ctx, b))

	t1 := &models.Tab{URL: "https://1.test", TagIDs: []string{a.ID}}
	t2 := &models.Tab{URL: "https://2.test", TagIDs: []string{a.ID}}
	t3 := &models.Tab{URL: "https://3.test"}
	for _, tab := range []*models.Tab{t1, t2, t3} {
		require.NoError(t, s.SaveTab(ctx, tab))
	}

	board, err := s.TagBoard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, []string{t1.ID, t2.ID}, board[0].TabIDs)
	assert.Empty(t, board[1].TabIDs)
	assert.Equal(t, UntaggedColumn, board[2].TagID)
	assert.Equal(t, []string{t3.ID}, board[2].TabIDs)

	// Move t1 into b and t3 to the top of a.
	require.NoError(t, s.ApplyTagBoard(ctx, []TagColumn{
		{TagID: a.ID, TabIDs: []string{t3.ID, t2.ID}},
		{TagID: b.ID, TabIDs: []string{t1.ID}},
	}))

	board, err = s.TagBoard(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{t3.ID, t2.ID}, board[0].TabIDs)
	assert.Equal(t, []string{t1.ID}, board[1].TabIDs)
	assert.Empty(t, board[2].TabIDs)
}

// --- Lists ---

func newList(userID, title string, public bool, urls ...string) *models.List {
	l := &models.List{UserID: userID, Title: title, Public: public}
	for _, u := range urls {
		l.Links = append(l.Links, models.Link{URL: u, Title: u})
	}
	return l
}

func TestListCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := newList(alice, "Go reading", true, "https://go.dev", "https://gobyexample.com", "https://go.dev")
	require.NoError(t, s.CreateList(ctx, l))
	assert.NotEmpty(t, l.ID)
	assert.Len(t, l.Links, 2, "duplicate URLs collapse")

	got, err := s.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go reading", got.Title)
	assert.True(t, got.Public)
	require.Len(t, got.Links, 2)
	assert.Equal(t, "https://go.dev", got.Links[0].URL)

	lists, err := s.ListUserLists(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, lists, 1)

	lists, err = s.ListUserLists(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, lists)

	update := &models.List{ID: l.ID, Title: "Go", Description: "**best**", Public: false}
	require.NoError(t, s.UpdateList(ctx, alice, update))
	assert.Len(t, update.Links, 2, "nil links keeps membership")

	got, err = s.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go", got.Title)
	assert.False(t, got.Public)

	require.NoError(t, s.DeleteList(ctx, alice, l.ID))
	_, err = s.GetList(ctx, l.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateList_QuotaRejectsEleventh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < MaxListsPerUser; i++ {
		require.NoError(t, s.CreateList(ctx, newList(alice, fmt.Sprintf("list %d", i), true)))
	}

	err := s.CreateList(ctx, newList(alice, "one too many", true))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	lists, err := s.ListUserLists(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, lists, MaxListsPerUser)

	// Other users are unaffected.
	assert.NoError(t, s.CreateList(ctx, newList(bob, "bob's", true)))
}

func TestSetListQuota(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.SetListQuota(1)

	require.NoError(t, s.CreateList(ctx, newList(alice, "only", false)))
	assert.ErrorIs(t, s.CreateList(ctx, newList(alice, "second", false)), ErrQuotaExceeded)
}

func TestUpdateDeleteList_Ownership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := newList(alice, "mine", true)
	require.NoError(t, s.CreateList(ctx, l))

	err := s.UpdateList(ctx, bob, &models.List{ID: l.ID, Title: "stolen"})
	assert.ErrorIs(t, err, ErrForbidden)

	assert.ErrorIs(t, s.DeleteList(ctx, bob, l.ID), ErrForbidden)
	assert.ErrorIs(t, s.DeleteList(ctx, alice, "missing"), ErrNotFound)
}

func TestCounters_OnlyIncrease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := newList(alice, "popular", true)
	require.NoError(t, s.CreateList(ctx, l))

	var last int64
	for i := 0; i < 3; i++ {
		n, err := s.IncrementListViews(ctx, l.ID)
		require.NoError(t, err)
		assert.Greater(t, n, last)
		last = n
	}
	assert.Equal(t, int64(3), last)

	n, err := s.IncrementListImports(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Updating the list never rewinds counters.
	update := &models.List{ID: l.ID, Title: "renamed", Public: true}
	require.NoError(t, s.UpdateList(ctx, alice, update))
	assert.Equal(t, int64(3), update.ViewCount)
	assert.Equal(t, int64(1), update.ImportCount)
}

func TestCounters_PrivateListNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := newList(alice, "secret", false)
	require.NoError(t, s.CreateList(ctx, l))

	_, err := s.IncrementListViews(ctx, l.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnpublishUserLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateList(ctx, newList(alice, "a", true)))
	require.NoError(t, s.CreateList(ctx, newList(alice, "b", true)))
	require.NoError(t, s.CreateList(ctx, newList(alice, "c", false)))
	bobs := newList(bob, "d", true)
	require.NoError(t, s.CreateList(ctx, bobs))

	n, err := s.UnpublishUserLists(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	lists, err := s.ListUserLists(ctx, alice)
	require.NoError(t, err)
	for _, l := range lists {
		assert.False(t, l.Public)
	}

	got, err := s.GetList(ctx, bobs.ID)
	require.NoError(t, err)
	assert.True(t, got.Public)
}

func TestReorderListLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := newList(alice, "ordered", true, "https://1.test", "https://2.test", "https://3.test")
	require.NoError(t, s.CreateList(ctx, l))
	ids := l.LinkIDs()

	require.NoError(t, s.ReorderListLinks(ctx, alice, l.ID, []string{ids[2], ids[0], ids[1]}))
	got, err := s.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[2], ids[0], ids[1]}, got.LinkIDs())

	assert.Error(t, s.ReorderListLinks(ctx, alice, l.ID, ids[:2]))
	assert.ErrorIs(t, s.ReorderListLinks(ctx, bob, l.ID, ids), ErrForbidden)
}

// --- Snapshots ---

func TestSnapshot_StageCommitDiscard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap := &models.Snapshot{TabID: "tab-1", URL: "https://go.dev", Image: []byte{1, 2, 3}, Width: 640, Height: 360, Source: models.SnapshotSourceNative}
	require.NoError(t, s.SaveTempSnapshot(ctx, snap))

	_, err := s.GetSnapshotByURL(ctx, "https://go.dev")
	assert.ErrorIs(t, err, ErrNotFound, "staged snapshots are not visible in the permanent store")

	staged, err := s.GetTempSnapshot(ctx, "tab-1")
	require.NoError(t, err)
	assert.True(t, staged.Temporary)

	committed, err := s.CommitSnapshot(ctx, "tab-1")
	require.NoError(t, err)
	assert.False(t, committed.Temporary)

	byURL, err := s.GetSnapshotByURL(ctx, "https://go.dev")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, byURL.Image)
	assert.Equal(t, models.SnapshotSourceNative, byURL.Source)

	byTab, err := s.GetSnapshotByTabID(ctx, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, byURL.ID, byTab.ID)

	_, err = s.CommitSnapshot(ctx, "tab-1")
	assert.ErrorIs(t, err, ErrNotFound, "nothing left to commit")

	// A new commit for the same URL replaces the previous one.
	require.NoError(t, s.SaveTempSnapshot(ctx, &models.Snapshot{TabID: "tab-1", URL: "https://go.dev", Image: []byte{9}}))
	_, err = s.CommitSnapshot(ctx, "tab-1")
	require.NoError(t, err)
	byURL, err = s.GetSnapshotByURL(ctx, "https://go.dev")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, byURL.Image)

	require.NoError(t, s.SaveTempSnapshot(ctx, &models.Snapshot{TabID: "tab-2", URL: "https://x.test", Image: []byte{4}}))
	require.NoError(t, s.DiscardTempSnapshot(ctx, "tab-2"))
	assert.ErrorIs(t, s.DiscardTempSnapshot(ctx, "tab-2"), ErrNotFound)

	require.NoError(t, s.DeleteSnapshot(ctx, byURL.ID))
	_, err = s.GetSnapshotByURL(ctx, "https://go.dev")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPurgeTempSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTempSnapshot(ctx, &models.Snapshot{TabID: "old", URL: "https://old.test", Image: []byte{1}}))

	n, err := s.PurgeTempSnapshots(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "recent snapshots survive")

	n, err = s.PurgeTempSnapshots(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
