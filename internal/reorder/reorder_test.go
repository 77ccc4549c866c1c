package reorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBoard() Board {
	return Board{
		{ID: "a", Items: []string{"1", "2", "3", "4"}},
		{ID: "b", Items: []string{"5", "6"}},
		{ID: "c", Items: []string{}},
	}
}

func TestMove_WithinContainerDownward(t *testing.T) {
	out, err := Move(testBoard(), MoveRequest{Active: []string{"1"}, Over: "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "1", "4"}, out[0].Items)
}

func TestMove_WithinContainerUpward(t *testing.T) {
	out, err := Move(testBoard(), MoveRequest{Active: []string{"4"}, Over: "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4", "2", "3"}, out[0].Items)
}

func TestMove_AcrossContainersInsertsBeforeHovered(t *testing.T) {
	out, err := Move(testBoard(), MoveRequest{Active: []string{"2"}, Over: "6"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, out[0].Items)
	assert.Equal(t, []string{"5", "2", "6"}, out[1].Items)
}

func TestMove_EmptyContainerInsertsAtEnd(t *testing.T) {
	out, err := Move(testBoard(), MoveRequest{Active: []string{"5"}, OverContainer: "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"6"}, out[1].Items)
	assert.Equal(t, []string{"5"}, out[2].Items)
}

func TestMove_HoveringContainerItselfAppends(t *testing.T) {
	out, err := Move(testBoard(), MoveRequest{Active: []string{"1"}, Over: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "6", "1"}, out[1].Items)
}

func TestMove_MultiSelectSplicesAfterAnchor(t *testing.T) {
	// Anchor 3 with 1 and 5 selected; they follow the anchor in selection order.
	out, err := Move(testBoard(), MoveRequest{Active: []string{"3", "1", "5"}, Over: "6"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4"}, out[0].Items)
	assert.Equal(t, []string{"3", "1", "5", "6"}, out[1].Items)
}

func TestMove_MultiSelectDownwardSameContainer(t *testing.T) {
	out, err := Move(testBoard(), MoveRequest{Active: []string{"1", "2"}, Over: "4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4", "1", "2"}, out[0].Items)
}

func TestMove_DoesNotMutateInput(t *testing.T) {
	b := testBoard()
	_, err := Move(b, MoveRequest{Active: []string{"1"}, OverContainer: "c"})
	require.NoError(t, err)
	assert.Equal(t, testBoard(), b)
}

func TestMove_DropOnSelectionIsNoop(t *testing.T) {
	out, err := Move(testBoard(), MoveRequest{Active: []string{"1", "2"}, Over: "2"})
	require.NoError(t, err)
	assert.Equal(t, testBoard(), out)

	out, err = Move(testBoard(), MoveRequest{Active: []string{"1", "2"}, Over: "2", OverContainer: "a"})
	require.NoError(t, err)
	assert.Equal(t, testBoard(), out)

	over, overContainer := Droppable{ID: "2", Container: "a"}.Target()
	out, err = Move(testBoard(), MoveRequest{Active: []string{"1", "2"}, Over: over, OverContainer: overContainer})
	require.NoError(t, err)
	assert.Equal(t, testBoard(), out)
}

func TestMove_Errors(t *testing.T) {
	_, err := Move(testBoard(), MoveRequest{})
	assert.Error(t, err)

	_, err = Move(testBoard(), MoveRequest{Active: []string{"nope"}, OverContainer: "a"})
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = Move(testBoard(), MoveRequest{Active: []string{"1"}, Over: "nope"})
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = Move(testBoard(), MoveRequest{Active: []string{"1"}, OverContainer: "zzz"})
	assert.ErrorIs(t, err, ErrUnknownContainer)
}

func TestReorder(t *testing.T) {
	out, err := Reorder([]string{"a", "b", "c"}, []string{"c"}, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, out)

	out, err = Reorder([]string{"a", "b", "c"}, []string{"a"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, out)
}

func TestDetectCollision_PointerBeatsIntersection(t *testing.T) {
	droppables := []Droppable{
		{ID: "big-overlap", Container: "a", Rect: Rect{Left: 0, Top: 0, Width: 100, Height: 100}},
		{ID: "under-pointer", Container: "a", Rect: Rect{Left: 200, Top: 0, Width: 50, Height: 50}},
	}
	active := Rect{Left: 10, Top: 10, Width: 80, Height: 80}
	pointer := &Point{X: 210, Y: 10}

	hit, ok := DetectCollision(pointer, active, droppables)
	require.True(t, ok)
	assert.Equal(t, "under-pointer", hit.ID)
}

func TestDetectCollision_SmallestPointerHitWins(t *testing.T) {
	droppables := []Droppable{
		{ID: "col", Container: "col", Rect: Rect{Width: 300, Height: 600}},
		{ID: "item", Container: "col", Rect: Rect{Left: 10, Top: 10, Width: 280, Height: 40}},
	}
	hit, ok := DetectCollision(&Point{X: 20, Y: 20}, Rect{}, droppables)
	require.True(t, ok)
	assert.Equal(t, "item", hit.ID)

	over, container := hit.Target()
	assert.Equal(t, "item", over)
	assert.Equal(t, "col", container)
}

func TestDetectCollision_FallsBackToIntersection(t *testing.T) {
	droppables := []Droppable{
		{ID: "x", Container: "x", Rect: Rect{Left: 0, Top: 0, Width: 50, Height: 50}},
		{ID: "y", Container: "y", Rect: Rect{Left: 40, Top: 0, Width: 50, Height: 50}},
	}
	active := Rect{Left: 35, Top: 0, Width: 30, Height: 30}
	hit, ok := DetectCollision(&Point{X: 1000, Y: 1000}, active, droppables)
	require.True(t, ok)
	assert.Equal(t, "y", hit.ID)

	over, container := hit.Target()
	assert.Empty(t, over)
	assert.Equal(t, "y", container)

	_, ok = DetectCollision(nil, Rect{Left: 500, Top: 500, Width: 1, Height: 1}, droppables)
	assert.False(t, ok)
}

func TestMove_ActiveContainerKeepsOtherMemberships(t *testing.T) {
	// Tab "t1" carries both tags: moving it out of "go" leaves "news" alone.
	board := Board{
		{ID: "go", Items: []string{"t1", "t2"}},
		{ID: "news", Items: []string{"t3", "t1"}},
		{ID: "rust", Items: []string{"t4"}},
	}
	out, err := Move(board, MoveRequest{Active: []string{"t1"}, ActiveContainer: "go", OverContainer: "rust"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, out[0].Items)
	assert.Equal(t, []string{"t3", "t1"}, out[1].Items)
	assert.Equal(t, []string{"t4", "t1"}, out[2].Items)
}

func TestMove_ActiveContainerDeduplicatesDestination(t *testing.T) {
	board := Board{
		{ID: "go", Items: []string{"t1", "t2"}},
		{ID: "news", Items: []string{"t3", "t1"}},
	}
	out, err := Move(board, MoveRequest{Active: []string{"t1"}, ActiveContainer: "go", Over: "t3", OverContainer: "news"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, out[0].Items)
	assert.Equal(t, []string{"t1", "t3"}, out[1].Items)

	_, err = Move(board, MoveRequest{Active: []string{"t3"}, ActiveContainer: "go", OverContainer: "news"})
	assert.ErrorIs(t, err, ErrUnknownItem)
	_, err = Move(board, MoveRequest{Active: []string{"t1"}, ActiveContainer: "zzz", OverContainer: "news"})
	assert.ErrorIs(t, err, ErrUnknownContainer)
}
