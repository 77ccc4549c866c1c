package reorder

// Point is a pointer position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) right() float64  { return r.Left + r.Width }
func (r Rect) bottom() float64 { return r.Top + r.Height }

// Area returns the rectangle's area.
func (r Rect) Area() float64 { return r.Width * r.Height }

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X <= r.right() && p.Y >= r.Top && p.Y <= r.bottom()
}

// Intersection returns the overlapping area of r and o.
func (r Rect) Intersection(o Rect) float64 {
	w := min(r.right(), o.right()) - max(r.Left, o.Left)
	h := min(r.bottom(), o.bottom()) - max(r.Top, o.Top)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Droppable is a drop target: an item (Container set to its parent) or a
// container itself (ID equal to Container).
type Droppable struct {
	ID        string `json:"id"`
	Container string `json:"container"`
	Rect      Rect   `json:"rect"`
}

// DetectCollision picks the drop target for a drag. Targets containing the
// pointer win, the smallest such target first so an item beats the container
// around it. Without a pointer hit, the target overlapping the dragged
// rectangle the most wins. ok is false when nothing is hit.
func DetectCollision(pointer *Point, active Rect, droppables []Droppable) (Droppable, bool) {
	if pointer != nil {
		best := -1
		for i, d := range droppables {
			if !d.Rect.Contains(*pointer) {
				continue
			}
			if best < 0 || d.Rect.Area() < droppables[best].Rect.Area() {
				best = i
			}
		}
		if best >= 0 {
			return droppables[best], true
		}
	}

	best, bestArea := -1, 0.0
	for i, d := range droppables {
		if a := active.Intersection(d.Rect); a > bestArea {
			best, bestArea = i, a
		}
	}
	if best < 0 {
		return Droppable{}, false
	}
	return droppables[best], true
}

// Target converts a collision into the Over/OverContainer pair of a MoveRequest.
func (d Droppable) Target() (over, overContainer string) {
	if d.ID == d.Container {
		return "", d.Container
	}
	return d.ID, d.Container
}
