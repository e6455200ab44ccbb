package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/media-catalog-api/internal/models"
	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
)

const memoKeyPrefix = "zipartifact:lookup:"

type memoStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService memoizes positive artifact lookups in Redis for a short window.
// It is strictly an accelerator: every error degrades to a database lookup and
// is never surfaced to callers.
type CacheService struct {
	store   memoStore
	metrics *MetricsService
	logger  *zap.Logger
	ttl     time.Duration
}

// NewCacheService constructs the lookup memo. A nil store disables it.
func NewCacheService(store memoStore, metrics *MetricsService, logger *zap.Logger, ttl time.Duration) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CacheService{store: store, metrics: metrics, logger: logger, ttl: ttl}
}

// GetArtifact returns a memoized ready artifact for the fingerprint, or false.
func (s *CacheService) GetArtifact(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, bool) {
	if s == nil || s.store == nil {
		return nil, false
	}

	start := time.Now()
	var artifact models.ZipArtifact
	err := s.store.Get(ctx, memoKey(folderPath, versionKey), &artifact)
	hit := err == nil
	s.metrics.RecordCacheOperation(hit, time.Since(start))

	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Sugar().Debugw("lookup memo read failed", "folder", folderPath, "error", err)
		}
		return nil, false
	}
	return &artifact, true
}

// SetArtifact memoizes a ready artifact under its fingerprint.
func (s *CacheService) SetArtifact(ctx context.Context, artifact *models.ZipArtifact) {
	if s == nil || s.store == nil || artifact == nil {
		return
	}

	start := time.Now()
	err := s.store.Set(ctx, memoKey(artifact.FolderPathNormalized, artifact.VersionKey), artifact, s.ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Sugar().Debugw("lookup memo write failed", "folder", artifact.FolderPathNormalized, "error", err)
	}
}

// InvalidateFolder drops all memoized fingerprints for a folder, e.g. after an
// eviction or a failed rebuild.
func (s *CacheService) InvalidateFolder(ctx context.Context, folderPath string) {
	if s == nil || s.store == nil {
		return
	}
	pattern := memoKeyPrefix + NormalizeCatalogFolderPath(folderPath) + ":*"
	if err := s.store.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Sugar().Debugw("lookup memo invalidation failed", "folder", folderPath, "error", err)
	}
}

func memoKey(folderPath, versionKey string) string {
	return fmt.Sprintf("%s%s:%s", memoKeyPrefix, NormalizeCatalogFolderPath(folderPath), versionKey)
}
