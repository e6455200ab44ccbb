package models

import "time"

// ZipArtifactTier ranks retention: hot artifacts live longer and are evicted
// last.
type ZipArtifactTier string

const (
	TierHot  ZipArtifactTier = "hot"
	TierWarm ZipArtifactTier = "warm"
)

// ZipArtifactStatus tracks the build state machine: building -> ready|failed.
type ZipArtifactStatus string

const (
	StatusBuilding ZipArtifactStatus = "building"
	StatusReady    ZipArtifactStatus = "ready"
	StatusFailed   ZipArtifactStatus = "failed"
)

// ZipArtifact is one cached whole-folder zip, keyed by the folder path plus a
// content fingerprint. A folder can own several rows at once, one per
// fingerprint.
type ZipArtifact struct {
	ID                   int64             `db:"id" json:"id"`
	FolderPathNormalized string            `db:"folder_path_normalized" json:"folderPath"`
	VersionKey           string            `db:"version_key" json:"versionKey"`
	ZipName              string            `db:"zip_name" json:"zipName"`
	ZipSizeBytes         int64             `db:"zip_size_bytes" json:"zipSizeBytes"`
	SourceSizeBytes      int64             `db:"source_size_bytes" json:"sourceSizeBytes"`
	Tier                 ZipArtifactTier   `db:"tier" json:"tier"`
	Status               ZipArtifactStatus `db:"status" json:"status"`
	HitCount             int64             `db:"hit_count" json:"hitCount"`
	LastAccessedAt       time.Time         `db:"last_accessed_at" json:"lastAccessedAt"`
	ExpiresAt            time.Time         `db:"expires_at" json:"expiresAt"`
	LastError            *string           `db:"last_error" json:"lastError,omitempty"`
	CreatedAt            time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updatedAt"`
}

// IsReady reports whether the artifact can be served as of now.
func (a *ZipArtifact) IsReady(now time.Time) bool {
	return a != nil && a.Status == StatusReady && a.ExpiresAt.After(now)
}

// CleanupSweepResult tallies one cleanup pass (expiry + eviction).
type CleanupSweepResult struct {
	LockAcquired        bool  `json:"lockAcquired"`
	ExpiredRows         int   `json:"expiredRows"`
	ExpiredDeletedRows  int   `json:"expiredDeletedRows"`
	ExpiredDeletedFiles int   `json:"expiredDeletedFiles"`
	ExpiredMissingFiles int   `json:"expiredMissingFiles"`
	ExpiredErrors       int   `json:"expiredErrors"`
	EvictedRows         int   `json:"evictedRows"`
	EvictedFiles        int   `json:"evictedFiles"`
	EvictionErrors      int   `json:"evictionErrors"`
	DiskBudgetBytes     int64 `json:"diskBudgetBytes"`
	DiskUsedBytes       int64 `json:"diskUsedBytes"`
}

// PrewarmSweepResult tallies one prewarm pass.
type PrewarmSweepResult struct {
	LockAcquired    bool `json:"lockAcquired"`
	Candidates      int  `json:"candidates"`
	Attempted       int  `json:"attempted"`
	Built           int  `json:"built"`
	SkippedReady    int  `json:"skippedReady"`
	SkippedMissing  int  `json:"skippedMissingFolder"`
	SkippedBuilding int  `json:"skippedBuilding"`
	Failed          int  `json:"failed"`
}

// PrewarmCandidate is a folder scored for speculative cache population.
type PrewarmCandidate struct {
	FolderPathNormalized string
	Score                int64
}
