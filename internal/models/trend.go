package models

import "time"

// FolderDownloadCount aggregates whole-folder download events for the
// popularity signal. The download_events table belongs to the download
// subsystem; we only read it.
type FolderDownloadCount struct {
	FolderPath string `db:"folder_path"`
	Downloads  int64  `db:"downloads"`
}

// FileUpdate is one recently touched catalog file for the freshness signal.
// track_metadata is owned by the catalog indexer.
type FileUpdate struct {
	Path      string    `db:"path"`
	UpdatedAt time.Time `db:"updated_at"`
}
