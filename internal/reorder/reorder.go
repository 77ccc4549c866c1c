// Package reorder implements drag-and-drop reordering over containers of
// ordered item ids: collision resolution for a drop point and the move
// itself, including multi-select drags.
package reorder

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnknownItem      = errors.New("unknown item")
	ErrUnknownContainer = errors.New("unknown container")
)

// Container is an ordered group of item ids.
type Container struct {
	ID    string   `json:"id"`
	Items []string `json:"items"`
}

// Board is a set of containers. An item may sit in several containers only
// when moves name their ActiveContainer.
type Board []Container

// Clone returns a deep copy of b.
func (b Board) Clone() Board {
	out := make(Board, len(b))
	for i, c := range b {
		out[i] = Container{ID: c.ID, Items: slices.Clone(c.Items)}
	}
	return out
}

// find returns the container index and item index of id, or -1, -1.
func (b Board) find(id string) (int, int) {
	for ci, c := range b {
		if ii := slices.Index(c.Items, id); ii >= 0 {
			return ci, ii
		}
	}
	return -1, -1
}

func (b Board) container(id string) int {
	return slices.IndexFunc(b, func(c Container) bool { return c.ID == id })
}

// MoveRequest describes a drop. Active lists the dragged items with the
// anchor (the item under the pointer) first. Over is the item hovered at drop
// time; when it is empty, or names a container, the drop targets OverContainer.
//
// ActiveContainer names the container the drag started in. It is required
// when an item can appear in several containers, and limits the move to that
// container and the destination.
type MoveRequest struct {
	Active          []string `json:"active"`
	ActiveContainer string   `json:"activeContainer,omitempty"`
	Over            string   `json:"over"`
	OverContainer   string   `json:"overContainer"`
}

// Move applies req to board and returns the new board. The input is not modified.
//
// The anchor lands at the hovered item's index (after it when dragged
// downward within its own container), or at the end of an empty or directly
// hovered container. The other selected items follow the anchor in their
// original relative order.
func Move(board Board, req MoveRequest) (Board, error) {
	if len(req.Active) == 0 {
		return nil, fmt.Errorf("move: no active item")
	}
	anchor := req.Active[0]

	srcC, srcI := -1, -1
	if req.ActiveContainer != "" {
		if srcC = board.container(req.ActiveContainer); srcC < 0 {
			return nil, fmt.Errorf("move: container %s: %w", req.ActiveContainer, ErrUnknownContainer)
		}
		srcI = slices.Index(board[srcC].Items, anchor)
	} else {
		srcC, srcI = board.find(anchor)
	}
	if srcI < 0 {
		return nil, fmt.Errorf("move: anchor %s: %w", anchor, ErrUnknownItem)
	}

	// Dropped onto itself or another selected item: nothing moves.
	if req.Over != "" && slices.Contains(req.Active, req.Over) {
		return board.Clone(), nil
	}

	// Resolve the destination before removing anything.
	dstC := -1
	overIdx := -1
	if req.Over != "" {
		if c := board.container(req.OverContainer); c >= 0 && slices.Contains(board[c].Items, req.Over) {
			dstC, overIdx = c, slices.Index(board[c].Items, req.Over)
		} else if c, i := board.find(req.Over); c >= 0 {
			dstC, overIdx = c, i
		} else if c := board.container(req.Over); c >= 0 {
			dstC = c
		} else {
			return nil, fmt.Errorf("move: over %s: %w", req.Over, ErrUnknownItem)
		}
	}
	if dstC < 0 {
		if req.OverContainer == "" {
			return nil, fmt.Errorf("move: no drop target")
		}
		if dstC = board.container(req.OverContainer); dstC < 0 {
			return nil, fmt.Errorf("move: container %s: %w", req.OverContainer, ErrUnknownContainer)
		}
	}

	// Dragging downward within a container places the anchor after the hovered item.
	after := overIdx >= 0 && dstC == srcC && overIdx > srcI

	out := board.Clone()

	// Containers the selection is taken from.
	scope := func(ci int) bool { return true }
	if req.ActiveContainer != "" {
		scope = func(ci int) bool { return ci == srcC || ci == dstC }
	}

	// Collect the selection in anchor-first order, skipping unknown ids.
	moving := make([]string, 0, len(req.Active))
	for _, id := range req.Active {
		if slices.Contains(moving, id) {
			continue
		}
		if req.ActiveContainer != "" {
			if slices.Contains(out[srcC].Items, id) {
				moving = append(moving, id)
			}
		} else if c, _ := out.find(id); c >= 0 {
			moving = append(moving, id)
		}
	}
	for ci := range out {
		if !scope(ci) {
			continue
		}
		out[ci].Items = slices.DeleteFunc(out[ci].Items, func(id string) bool {
			return slices.Contains(moving, id)
		})
	}

	items := out[dstC].Items
	insertAt := len(items)
	if overIdx >= 0 {
		insertAt = slices.Index(items, req.Over)
		if after {
			insertAt++
		}
	}
	out[dstC].Items = slices.Insert(items, insertAt, moving...)
	return out, nil
}

// Reorder is the single-container form of Move used by flat lists and grids.
func Reorder(items []string, active []string, over string) ([]string, error) {
	const only = "items"
	board := Board{{ID: only, Items: items}}
	req := MoveRequest{Active: active, Over: over}
	if over == "" {
		req.OverContainer = only
	}
	out, err := Move(board, req)
	if err != nil {
		return nil, err
	}
	return out[0].Items, nil
}
