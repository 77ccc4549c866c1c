package models

import "time"

// Tab is a saved browser tab. URL is unique across all tabs.
type Tab struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	FavIconURL string    `json:"favIconUrl"`
	TagIDs     []string  `json:"tagIds"`
	SavedAt    time.Time `json:"savedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HasTag reports whether the tab carries the given tag.
func (t *Tab) HasTag(tagID string) bool {
	for _, id := range t.TagIDs {
		if id == tagID {
			return true
		}
	}
	return false
}
