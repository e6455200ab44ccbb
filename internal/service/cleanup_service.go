package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/media-catalog-api/internal/models"
	"github.com/noah-isme/media-catalog-api/internal/repository"
	"github.com/noah-isme/media-catalog-api/pkg/storage"
)

const (
	cleanupLockName   = "zip_artifact_cleanup_v1"
	expiryBatchSize   = 1000
	evictionBatchSize = 100
)

type lockCoordinator interface {
	WithLock(ctx context.Context, name string, task func(context.Context) error) (bool, error)
}

type cleanupRegistry interface {
	ListExpired(ctx context.Context, limit int) ([]repository.ExpiredArtifact, error)
	ListEvictionCandidates(ctx context.Context, tier models.ZipArtifactTier, limit int) ([]repository.EvictionCandidate, error)
	SumReadyZipBytes(ctx context.Context) (int64, error)
	DeleteByID(ctx context.Context, id int64) error
}

type sweepStore interface {
	Remove(zipName string) (storage.RemoveResult, error)
	CapacityBytes() (uint64, error)
}

// CleanupService retires expired artifacts and enforces the shared disk
// budget. Sweeps run fleet-wide under an advisory lock; at most one process
// works at a time and the rest skip silently.
type CleanupService struct {
	locks    lockCoordinator
	registry cleanupRegistry
	store    sweepStore
	memo     *CacheService
	logger   *zap.Logger
	metrics  *MetricsService

	diskFraction float64
	interval     time.Duration
}

// NewCleanupService constructs the sweeper.
func NewCleanupService(
	locks lockCoordinator,
	registry cleanupRegistry,
	store sweepStore,
	memo *CacheService,
	logger *zap.Logger,
	metrics *MetricsService,
	diskFraction float64,
	interval time.Duration,
) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if diskFraction <= 0 || diskFraction > 1 {
		diskFraction = 0.25
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CleanupService{
		locks:        locks,
		registry:     registry,
		store:        store,
		memo:         memo,
		logger:       logger,
		metrics:      metrics,
		diskFraction: diskFraction,
		interval:     interval,
	}
}

// RunSweep executes one expiry-then-eviction pass. An unacquired lock yields a
// zero result with LockAcquired=false and no error.
func (s *CleanupService) RunSweep(ctx context.Context) (models.CleanupSweepResult, error) {
	var result models.CleanupSweepResult
	start := time.Now()

	acquired, err := s.locks.WithLock(ctx, cleanupLockName, func(ctx context.Context) error {
		if err := s.sweepExpired(ctx, &result); err != nil {
			return err
		}
		return s.enforceDiskBudget(ctx, &result)
	})
	result.LockAcquired = acquired
	if !acquired || err != nil {
		return result, err
	}

	s.metrics.RecordCleanupSweep(result, time.Since(start))
	s.logger.Sugar().Infow("cleanup sweep finished",
		"expired_rows", result.ExpiredDeletedRows,
		"expired_files", result.ExpiredDeletedFiles,
		"expired_missing", result.ExpiredMissingFiles,
		"expired_errors", result.ExpiredErrors,
		"evicted_rows", result.EvictedRows,
		"eviction_errors", result.EvictionErrors,
		"disk_used_bytes", result.DiskUsedBytes,
		"disk_budget_bytes", result.DiskBudgetBytes)
	return result, nil
}

// sweepExpired retires ready/failed rows past their expiry in batches, file
// first then row. A hard file error keeps the row so a later sweep retries.
func (s *CleanupService) sweepExpired(ctx context.Context, result *models.CleanupSweepResult) error {
	for {
		batch, err := s.registry.ListExpired(ctx, expiryBatchSize)
		if err != nil {
			return err
		}
		result.ExpiredRows += len(batch)

		progressed := 0
		for _, row := range batch {
			removed, err := s.store.Remove(row.ZipName)
			if err != nil {
				result.ExpiredErrors++
				s.logger.Sugar().Warnw("expired artifact file not removed", "zip", row.ZipName, "error", err)
				continue
			}
			if removed.Removed {
				result.ExpiredDeletedFiles++
			}
			if removed.Missing {
				result.ExpiredMissingFiles++
			}

			if err := s.registry.DeleteByID(ctx, row.ID); err != nil {
				result.ExpiredErrors++
				s.logger.Sugar().Warnw("expired artifact row not deleted", "id", row.ID, "error", err)
				continue
			}
			s.memo.InvalidateFolder(ctx, row.FolderPathNormalized)
			result.ExpiredDeletedRows++
			progressed++
		}

		// Stop when the table is drained, or when a full batch made no
		// progress; retrying the same stuck rows forever helps nobody.
		if len(batch) < expiryBatchSize || progressed == 0 {
			return nil
		}
	}
}

// enforceDiskBudget evicts least-recently-accessed ready artifacts until usage
// fits inside the configured fraction of the filesystem. The warm tier drains
// completely before the hot tier loses anything.
func (s *CleanupService) enforceDiskBudget(ctx context.Context, result *models.CleanupSweepResult) error {
	used, err := s.registry.SumReadyZipBytes(ctx)
	if err != nil {
		return err
	}
	capacity, err := s.store.CapacityBytes()
	if err != nil {
		return err
	}
	budget := int64(float64(capacity) * s.diskFraction)
	result.DiskBudgetBytes = budget
	result.DiskUsedBytes = used

	if used <= budget {
		return nil
	}

	for _, tier := range []models.ZipArtifactTier{models.TierWarm, models.TierHot} {
		evictedInTier := 0
		for used > budget {
			batch, err := s.registry.ListEvictionCandidates(ctx, tier, evictionBatchSize)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}

			progressed := 0
			for _, candidate := range batch {
				if used <= budget {
					break
				}
				removed, err := s.store.Remove(candidate.ZipName)
				if err != nil {
					result.EvictionErrors++
					s.logger.Sugar().Warnw("eviction file removal failed", "zip", candidate.ZipName, "error", err)
					continue
				}
				if err := s.registry.DeleteByID(ctx, candidate.ID); err != nil {
					result.EvictionErrors++
					s.logger.Sugar().Warnw("eviction row removal failed", "id", candidate.ID, "error", err)
					continue
				}
				s.memo.InvalidateFolder(ctx, candidate.FolderPathNormalized)
				used -= candidate.ZipSizeBytes
				if used < 0 {
					used = 0
				}
				result.EvictedRows++
				evictedInTier++
				progressed++
				if removed.Removed {
					result.EvictedFiles++
				}
			}

			if progressed == 0 {
				break
			}
		}
		s.metrics.RecordEviction(tier, evictedInTier)
		if used <= budget {
			break
		}
	}

	result.DiskUsedBytes = used
	return nil
}

// StartScheduler runs sweeps on a fixed interval until the context ends. The
// first sweep fires after one full interval so startup stays cheap.
func (s *CleanupService) StartScheduler(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunSweep(ctx); err != nil {
					s.logger.Sugar().Errorw("cleanup sweep failed", "error", err)
				}
			}
		}
	}()
}
