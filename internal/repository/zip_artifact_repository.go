package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/media-catalog-api/internal/models"
)

const maxLastErrorLen = 2048

const zipArtifactColumns = `id, folder_path_normalized, version_key, zip_name, zip_size_bytes,
       source_size_bytes, tier, status, hit_count, last_accessed_at, expires_at, last_error,
       created_at, updated_at`

// UpsertZipArtifactParams identifies and describes a row for the optimistic
// upsert operations. ZipSizeBytes is ignored by MarkBuilding and MarkFailed.
type UpsertZipArtifactParams struct {
	FolderPathNormalized string
	VersionKey           string
	ZipName              string
	ZipSizeBytes         int64
	SourceSizeBytes      int64
	Tier                 models.ZipArtifactTier
}

// ExpiredArtifact is the projection the cleanup expiry phase works on.
type ExpiredArtifact struct {
	ID                   int64  `db:"id"`
	FolderPathNormalized string `db:"folder_path_normalized"`
	ZipName              string `db:"zip_name"`
}

// EvictionCandidate is the projection the LRU eviction phase works on.
type EvictionCandidate struct {
	ID                   int64  `db:"id"`
	FolderPathNormalized string `db:"folder_path_normalized"`
	ZipName              string `db:"zip_name"`
	ZipSizeBytes         int64  `db:"zip_size_bytes"`
}

// ZipArtifactRepository owns the zip_artifacts registry table. Row creation
// races are absorbed by the unique (folder_path_normalized, version_key)
// constraint plus ON CONFLICT upserts, so callers never take a lock just to
// register an artifact.
type ZipArtifactRepository struct {
	db      *sqlx.DB
	hotTTL  time.Duration
	warmTTL time.Duration
}

// NewZipArtifactRepository constructs the repository with per-tier TTLs.
func NewZipArtifactRepository(db *sqlx.DB, hotTTL, warmTTL time.Duration) *ZipArtifactRepository {
	if hotTTL <= 0 {
		hotTTL = 90 * 24 * time.Hour
	}
	if warmTTL <= 0 {
		warmTTL = 14 * 24 * time.Hour
	}
	return &ZipArtifactRepository{db: db, hotTTL: hotTTL, warmTTL: warmTTL}
}

// TTLFor returns the sliding-expiration window for a tier.
func (r *ZipArtifactRepository) TTLFor(tier models.ZipArtifactTier) time.Duration {
	if tier == models.TierHot {
		return r.hotTTL
	}
	return r.warmTTL
}

// FindReady returns an unexpired ready row for the exact fingerprint, or nil.
func (r *ZipArtifactRepository) FindReady(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error) {
	query := `SELECT ` + zipArtifactColumns + `
		FROM zip_artifacts
		WHERE folder_path_normalized = $1 AND version_key = $2 AND status = 'ready' AND expires_at > $3
		ORDER BY updated_at DESC
		LIMIT 1`
	var artifact models.ZipArtifact
	err := r.db.GetContext(ctx, &artifact, query, folderPath, versionKey, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ready artifact: %w", err)
	}
	return &artifact, nil
}

// FindReadyByID applies the same readiness predicate keyed by row id, for
// callers holding a previously issued download reference.
func (r *ZipArtifactRepository) FindReadyByID(ctx context.Context, id int64) (*models.ZipArtifact, error) {
	query := `SELECT ` + zipArtifactColumns + `
		FROM zip_artifacts
		WHERE id = $1 AND status = 'ready' AND expires_at > $2`
	var artifact models.ZipArtifact
	err := r.db.GetContext(ctx, &artifact, query, id, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ready artifact by id: %w", err)
	}
	return &artifact, nil
}

// FindBuilding returns a building row for the exact fingerprint, or nil.
func (r *ZipArtifactRepository) FindBuilding(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error) {
	query := `SELECT ` + zipArtifactColumns + `
		FROM zip_artifacts
		WHERE folder_path_normalized = $1 AND version_key = $2 AND status = 'building'
		ORDER BY updated_at DESC
		LIMIT 1`
	var artifact models.ZipArtifact
	err := r.db.GetContext(ctx, &artifact, query, folderPath, versionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find building artifact: %w", err)
	}
	return &artifact, nil
}

// TouchAccess records a cache hit: bumps hit_count, refreshes
// last_accessed_at, and slides expires_at to now + TTL(tier). Returns nil when
// the row vanished in the meantime; callers treat that as a miss.
func (r *ZipArtifactRepository) TouchAccess(ctx context.Context, id int64) (*models.ZipArtifact, error) {
	var current models.ZipArtifact
	err := r.db.GetContext(ctx, &current, `SELECT `+zipArtifactColumns+` FROM zip_artifacts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact for touch: %w", err)
	}

	now := time.Now().UTC()
	query := `UPDATE zip_artifacts
		SET hit_count = hit_count + 1, last_accessed_at = $2, expires_at = $3, updated_at = $2
		WHERE id = $1
		RETURNING ` + zipArtifactColumns
	var artifact models.ZipArtifact
	err = r.db.GetContext(ctx, &artifact, query, id, now, now.Add(r.TTLFor(current.Tier)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("touch artifact access: %w", err)
	}
	return &artifact, nil
}

// MarkBuilding registers (or re-arms) a building row for the fingerprint.
func (r *ZipArtifactRepository) MarkBuilding(ctx context.Context, p UpsertZipArtifactParams) (*models.ZipArtifact, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(r.TTLFor(p.Tier))
	query := `INSERT INTO zip_artifacts
		(folder_path_normalized, version_key, zip_name, zip_size_bytes, source_size_bytes, tier, status,
		 hit_count, last_accessed_at, expires_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, 'building', 0, $6, $7, NULL, $6, $6)
		ON CONFLICT (folder_path_normalized, version_key) DO UPDATE SET
			zip_name = EXCLUDED.zip_name,
			source_size_bytes = EXCLUDED.source_size_bytes,
			tier = EXCLUDED.tier,
			status = 'building',
			expires_at = EXCLUDED.expires_at,
			last_error = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + zipArtifactColumns
	var artifact models.ZipArtifact
	err := r.db.GetContext(ctx, &artifact, query,
		p.FolderPathNormalized, p.VersionKey, p.ZipName, nonNegative(p.SourceSizeBytes), p.Tier, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("mark artifact building: %w", err)
	}
	return &artifact, nil
}

// UpsertReady finalizes a successful build and stamps a fresh expiry.
func (r *ZipArtifactRepository) UpsertReady(ctx context.Context, p UpsertZipArtifactParams) (*models.ZipArtifact, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(r.TTLFor(p.Tier))
	query := `INSERT INTO zip_artifacts
		(folder_path_normalized, version_key, zip_name, zip_size_bytes, source_size_bytes, tier, status,
		 hit_count, last_accessed_at, expires_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'ready', 0, $7, $8, NULL, $7, $7)
		ON CONFLICT (folder_path_normalized, version_key) DO UPDATE SET
			zip_name = EXCLUDED.zip_name,
			zip_size_bytes = EXCLUDED.zip_size_bytes,
			source_size_bytes = EXCLUDED.source_size_bytes,
			tier = EXCLUDED.tier,
			status = 'ready',
			last_accessed_at = EXCLUDED.last_accessed_at,
			expires_at = EXCLUDED.expires_at,
			last_error = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + zipArtifactColumns
	var artifact models.ZipArtifact
	err := r.db.GetContext(ctx, &artifact, query,
		p.FolderPathNormalized, p.VersionKey, p.ZipName,
		nonNegative(p.ZipSizeBytes), nonNegative(p.SourceSizeBytes), p.Tier, now, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("upsert ready artifact: %w", err)
	}
	return &artifact, nil
}

// MarkFailed records a build failure with a truncated diagnostic. Failed rows
// still get an expiry so the cleanup sweep retires them like any other.
func (r *ZipArtifactRepository) MarkFailed(ctx context.Context, p UpsertZipArtifactParams, buildErr string) (*models.ZipArtifact, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(r.TTLFor(p.Tier))
	if len(buildErr) > maxLastErrorLen {
		buildErr = buildErr[:maxLastErrorLen]
	}
	query := `INSERT INTO zip_artifacts
		(folder_path_normalized, version_key, zip_name, zip_size_bytes, source_size_bytes, tier, status,
		 hit_count, last_accessed_at, expires_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, 'failed', 0, $6, $7, $8, $6, $6)
		ON CONFLICT (folder_path_normalized, version_key) DO UPDATE SET
			zip_name = EXCLUDED.zip_name,
			source_size_bytes = EXCLUDED.source_size_bytes,
			tier = EXCLUDED.tier,
			status = 'failed',
			expires_at = EXCLUDED.expires_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + zipArtifactColumns
	var artifact models.ZipArtifact
	err := r.db.GetContext(ctx, &artifact, query,
		p.FolderPathNormalized, p.VersionKey, p.ZipName, nonNegative(p.SourceSizeBytes), p.Tier, now, expiresAt, buildErr)
	if err != nil {
		return nil, fmt.Errorf("mark artifact failed: %w", err)
	}
	return &artifact, nil
}

// ListExpired returns ready/failed rows whose expiry has passed, soonest
// expired first, capped to limit.
func (r *ZipArtifactRepository) ListExpired(ctx context.Context, limit int) ([]ExpiredArtifact, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `SELECT id, folder_path_normalized, zip_name FROM zip_artifacts
		WHERE status IN ('ready', 'failed') AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2`
	var rows []ExpiredArtifact
	if err := r.db.SelectContext(ctx, &rows, query, time.Now().UTC(), limit); err != nil {
		return nil, fmt.Errorf("list expired artifacts: %w", err)
	}
	return rows, nil
}

// ListEvictionCandidates returns ready rows of one tier in strict LRU order.
func (r *ZipArtifactRepository) ListEvictionCandidates(ctx context.Context, tier models.ZipArtifactTier, limit int) ([]EvictionCandidate, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, folder_path_normalized, zip_name, zip_size_bytes FROM zip_artifacts
		WHERE status = 'ready' AND tier = $1
		ORDER BY last_accessed_at ASC, id ASC
		LIMIT $2`
	var rows []EvictionCandidate
	if err := r.db.SelectContext(ctx, &rows, query, tier, limit); err != nil {
		return nil, fmt.Errorf("list eviction candidates: %w", err)
	}
	return rows, nil
}

// ListAll returns registry rows in stable folder/version order, capped to
// limit. Feeds the operator inventory export.
func (r *ZipArtifactRepository) ListAll(ctx context.Context, limit int) ([]models.ZipArtifact, error) {
	if limit <= 0 {
		limit = 10000
	}
	query := `SELECT ` + zipArtifactColumns + ` FROM zip_artifacts
		ORDER BY folder_path_normalized ASC, version_key ASC
		LIMIT $1`
	var rows []models.ZipArtifact
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return rows, nil
}

// SumReadyZipBytes reports current disk usage attributed to ready artifacts.
func (r *ZipArtifactRepository) SumReadyZipBytes(ctx context.Context) (int64, error) {
	var total int64
	query := `SELECT COALESCE(SUM(zip_size_bytes), 0) FROM zip_artifacts WHERE status = 'ready'`
	if err := r.db.GetContext(ctx, &total, query); err != nil {
		return 0, fmt.Errorf("sum ready artifact bytes: %w", err)
	}
	return total, nil
}

// DeleteByID removes a registry row. Missing rows are not an error; the file
// may have been swept by a concurrent pass.
func (r *ZipArtifactRepository) DeleteByID(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM zip_artifacts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete artifact row: %w", err)
	}
	return nil
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
