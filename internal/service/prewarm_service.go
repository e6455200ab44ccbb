package service

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/media-catalog-api/internal/models"
	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
)

const (
	prewarmLockName  = "zip_artifact_prewarm_v1"
	popularityLimit  = 200
	freshnessLimit   = 4000
	candidateCap     = 300
	popularityWeight = 100
	maxPrewarmJobs   = 4
)

type prewarmTrendSource interface {
	TopFolderDownloads(ctx context.Context, since time.Time, limit int) ([]models.FolderDownloadCount, error)
	RecentFileUpdates(ctx context.Context, since time.Time, limit int) ([]models.FileUpdate, error)
}

type prewarmBuilder interface {
	BuildAndPublish(ctx context.Context, folderPath, label string) (*models.ZipArtifact, BuildOutcome, error)
}

// PrewarmService speculatively builds artifacts for folders likely to be
// downloaded soon, scored by recent popularity and content freshness. Sweeps
// run fleet-wide under an advisory lock.
type PrewarmService struct {
	locks   lockCoordinator
	trends  prewarmTrendSource
	builder prewarmBuilder
	logger  *zap.Logger
	metrics *MetricsService

	topWindow   time.Duration
	newWindow   time.Duration
	concurrency int
	interval    time.Duration
}

// NewPrewarmService constructs the sweeper. Concurrency is clamped to 1..4 so
// a misconfigured fleet cannot saturate the catalog disk.
func NewPrewarmService(
	locks lockCoordinator,
	trends prewarmTrendSource,
	builder prewarmBuilder,
	logger *zap.Logger,
	metrics *MetricsService,
	topWindowDays, newWindowDays, concurrency int,
	interval time.Duration,
) *PrewarmService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxPrewarmJobs {
		concurrency = maxPrewarmJobs
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &PrewarmService{
		locks:       locks,
		trends:      trends,
		builder:     builder,
		logger:      logger,
		metrics:     metrics,
		topWindow:   time.Duration(topWindowDays) * 24 * time.Hour,
		newWindow:   time.Duration(newWindowDays) * 24 * time.Hour,
		concurrency: concurrency,
		interval:    interval,
	}
}

// RunSweep executes one prewarm pass. An unacquired lock yields a zero result
// with LockAcquired=false and no error.
func (s *PrewarmService) RunSweep(ctx context.Context) (models.PrewarmSweepResult, error) {
	var result models.PrewarmSweepResult
	start := time.Now()

	acquired, err := s.locks.WithLock(ctx, prewarmLockName, func(ctx context.Context) error {
		candidates, err := s.GatherCandidates(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		result.Candidates = len(candidates)
		s.buildCandidates(ctx, candidates, &result)
		return nil
	})
	result.LockAcquired = acquired
	if !acquired || err != nil {
		return result, err
	}

	s.metrics.RecordPrewarmSweep(result, time.Since(start))
	s.logger.Sugar().Infow("prewarm sweep finished",
		"candidates", result.Candidates,
		"attempted", result.Attempted,
		"built", result.Built,
		"skipped_ready", result.SkippedReady,
		"skipped_missing", result.SkippedMissing,
		"skipped_building", result.SkippedBuilding,
		"failed", result.Failed)
	return result, nil
}

// GatherCandidates merges the popularity and freshness signals into one scored,
// deterministically ordered candidate list. The catalog root never qualifies.
func (s *PrewarmService) GatherCandidates(ctx context.Context, now time.Time) ([]models.PrewarmCandidate, error) {
	scores := make(map[string]int64)

	popular, err := s.trends.TopFolderDownloads(ctx, now.Add(-s.topWindow), popularityLimit)
	if err != nil {
		return nil, err
	}
	for _, row := range popular {
		folder := NormalizeCatalogFolderPath(row.FolderPath)
		if folder == "/" {
			continue
		}
		scores[folder] += row.Downloads * popularityWeight
	}

	updates, err := s.trends.RecentFileUpdates(ctx, now.Add(-s.newWindow), freshnessLimit)
	if err != nil {
		return nil, err
	}
	newWindowDays := int64(s.newWindow / (24 * time.Hour))
	for _, update := range updates {
		folder := path.Dir(NormalizeCatalogFolderPath(update.Path))
		if folder == "/" || folder == "." {
			continue
		}
		ageDays := int64(now.Sub(update.UpdatedAt).Hours() / 24)
		score := newWindowDays - ageDays
		if score < 1 {
			score = 1
		}
		scores[folder] += score
	}

	candidates := make([]models.PrewarmCandidate, 0, len(scores))
	for folder, score := range scores {
		candidates = append(candidates, models.PrewarmCandidate{FolderPathNormalized: folder, Score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].FolderPathNormalized < candidates[j].FolderPathNormalized
	})
	if len(candidates) > candidateCap {
		candidates = candidates[:candidateCap]
	}
	return candidates, nil
}

// buildCandidates fans candidates out over a bounded worker group. Individual
// build failures are tallied, never fatal to the sweep.
func (s *PrewarmService) buildCandidates(ctx context.Context, candidates []models.PrewarmCandidate, result *models.PrewarmSweepResult) {
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)

	for _, candidate := range candidates {
		candidate := candidate
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			_, outcome, err := s.builder.BuildAndPublish(groupCtx, candidate.FolderPathNormalized, "prewarm")

			mu.Lock()
			defer mu.Unlock()
			result.Attempted++
			switch outcome {
			case OutcomeBuilt:
				result.Built++
			case OutcomeAlreadyReady:
				result.SkippedReady++
			case OutcomeSourceMissing:
				result.SkippedMissing++
			case OutcomeInProgress:
				result.SkippedBuilding++
			default:
				result.Failed++
				if err != nil && !errors.Is(err, appErrors.ErrBuildInProgress) {
					s.logger.Sugar().Warnw("prewarm build failed",
						"folder", candidate.FolderPathNormalized, "error", err)
				}
			}
			return nil
		})
	}
	_ = group.Wait()
}

// StartScheduler runs sweeps on a fixed interval until the context ends.
func (s *PrewarmService) StartScheduler(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunSweep(ctx); err != nil {
					s.logger.Sugar().Errorw("prewarm sweep failed", "error", err)
				}
			}
		}
	}()
}
