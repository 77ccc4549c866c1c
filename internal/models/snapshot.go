package models

import "time"

// SnapshotSource records which capture strategy produced a snapshot.
type SnapshotSource string

const (
	SnapshotSourceContentScript SnapshotSource = "content_script"
	SnapshotSourceNative        SnapshotSource = "native"
	SnapshotSourceUpload        SnapshotSource = "upload"
)

// Snapshot is a resized preview image of a tab's rendered page.
type Snapshot struct {
	ID          string         `json:"id"`
	TabID       string         `json:"tabId"`
	URL         string         `json:"url"`
	Image       []byte         `json:"-"`
	ContentType string         `json:"contentType"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Source      SnapshotSource `json:"source"`
	Temporary   bool           `json:"temporary"`
	CreatedAt   time.Time      `json:"createdAt"`
}
