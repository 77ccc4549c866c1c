package models

import "time"

// Link is a URL that can appear in any number of lists.
type Link struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// List is a curated collection of links owned by a user. Public lists are
// reachable through the share page and count views and imports.
type List struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description"` // markdown
	Public      bool      `json:"public"`
	ViewCount   int64     `json:"viewCount"`
	ImportCount int64     `json:"importCount"`
	Links       []Link    `json:"links"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LinkIDs returns the ids of the list's links in display order.
func (l *List) LinkIDs() []string {
	ids := make([]string, len(l.Links))
	for i, link := range l.Links {
		ids[i] = link.ID
	}
	return ids
}
