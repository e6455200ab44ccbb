package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"github.com/noah-isme/media-catalog-api/internal/models"
	"github.com/noah-isme/media-catalog-api/internal/repository"
	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
	"github.com/noah-isme/media-catalog-api/pkg/storage"
)

// BuildOutcome classifies one build attempt for tallies and metrics.
type BuildOutcome string

const (
	OutcomeBuilt         BuildOutcome = "built"
	OutcomeAlreadyReady  BuildOutcome = "already_ready"
	OutcomeInProgress    BuildOutcome = "in_progress"
	OutcomeSourceMissing BuildOutcome = "source_missing"
	OutcomeFailed        BuildOutcome = "failed"
)

// FolderState is a point-in-time fingerprint of a catalog folder. It is only
// valid for the build attempt it was computed for; callers re-stat rather than
// reuse one.
type FolderState struct {
	Normalized      string
	SourceDir       string
	SourceSizeBytes int64
	DirMtimeMs      int64
	VersionKey      string
	ZipName         string
}

type buildRegistry interface {
	FindReady(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error)
	FindBuilding(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error)
	TouchAccess(ctx context.Context, id int64) (*models.ZipArtifact, error)
	MarkBuilding(ctx context.Context, p repository.UpsertZipArtifactParams) (*models.ZipArtifact, error)
	UpsertReady(ctx context.Context, p repository.UpsertZipArtifactParams) (*models.ZipArtifact, error)
	MarkFailed(ctx context.Context, p repository.UpsertZipArtifactParams, buildErr string) (*models.ZipArtifact, error)
}

type tierSource interface {
	CountFolderDownloads(ctx context.Context, variants []string, since time.Time) (int64, error)
	HasRecentFileUnder(ctx context.Context, prefixes []string, since time.Time) (bool, error)
}

// BuildService produces shared zip artifacts from catalog folders. All disk
// writes stage through temp files in the shared root; a servable name only
// ever points at a complete zip.
type BuildService struct {
	registry buildRegistry
	trends   tierSource
	store    *storage.ArtifactStore
	memo     *CacheService
	logger   *zap.Logger
	metrics  *MetricsService

	catalogRoot      string
	compressionLevel int
	topWindow        time.Duration
	newWindow        time.Duration
}

// NewBuildService constructs the builder.
func NewBuildService(
	registry buildRegistry,
	trends tierSource,
	store *storage.ArtifactStore,
	memo *CacheService,
	logger *zap.Logger,
	metrics *MetricsService,
	catalogRoot string,
	compressionLevel int,
	topWindowDays, newWindowDays int,
) *BuildService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BuildService{
		registry:         registry,
		trends:           trends,
		store:            store,
		memo:             memo,
		logger:           logger,
		metrics:          metrics,
		catalogRoot:      catalogRoot,
		compressionLevel: compressionLevel,
		topWindow:        time.Duration(topWindowDays) * 24 * time.Hour,
		newWindow:        time.Duration(newWindowDays) * 24 * time.Hour,
	}
}

// Fingerprint stats the folder right now and derives its cache identity. The
// catalog root itself is never archived. A missing or non-directory source
// returns ErrFolderMissing without touching the registry.
func (s *BuildService) Fingerprint(folderPath string) (*FolderState, error) {
	normalized := NormalizeCatalogFolderPath(folderPath)
	if normalized == "/" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "catalog root cannot be archived")
	}

	sourceDir, err := storage.ResolveWithinRoot(s.catalogRoot, StripLeadingSlash(normalized))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid folder path")
	}

	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return nil, appErrors.ErrFolderMissing
	}

	size, err := directorySize(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("measure folder %s: %w", normalized, err)
	}

	mtimeMs := info.ModTime().UnixMilli()
	versionKey := BuildVersionKey(normalized, size, mtimeMs)

	return &FolderState{
		Normalized:      normalized,
		SourceDir:       sourceDir,
		SourceSizeBytes: size,
		DirMtimeMs:      mtimeMs,
		VersionKey:      versionKey,
		ZipName:         BuildArtifactZipName(normalized, versionKey),
	}, nil
}

// BuildAndPublish runs the full pipeline for one folder: fingerprint, ready
// short-circuit, building check, zip, atomic publish, registry finalize. The
// label tags temp files so concurrent builders never collide.
func (s *BuildService) BuildAndPublish(ctx context.Context, folderPath, label string) (*models.ZipArtifact, BuildOutcome, error) {
	artifact, outcome, err := s.buildAndPublish(ctx, folderPath, label)
	s.metrics.RecordBuildOutcome(string(outcome))
	return artifact, outcome, err
}

func (s *BuildService) buildAndPublish(ctx context.Context, folderPath, label string) (*models.ZipArtifact, BuildOutcome, error) {
	state, err := s.Fingerprint(folderPath)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrFolderMissing.Code {
			return nil, OutcomeSourceMissing, err
		}
		return nil, OutcomeFailed, err
	}

	// Someone may have finished this exact folder state already.
	if existing, err := s.registry.FindReady(ctx, state.Normalized, state.VersionKey); err != nil {
		return nil, OutcomeFailed, err
	} else if existing != nil && s.store.FileExists(existing.ZipName) {
		return s.reuseReady(ctx, existing, state), OutcomeAlreadyReady, nil
	}

	// An unexpired building row means another worker owns this fingerprint;
	// never start a second builder beside it. Only a row left behind past its
	// expiry (a crashed writer) is reclaimed.
	if building, err := s.registry.FindBuilding(ctx, state.Normalized, state.VersionKey); err != nil {
		return nil, OutcomeFailed, err
	} else if building != nil && time.Now().UTC().Before(building.ExpiresAt) {
		return nil, OutcomeInProgress, appErrors.ErrBuildInProgress
	}

	tier := s.resolveTier(ctx, state.Normalized)
	params := repository.UpsertZipArtifactParams{
		FolderPathNormalized: state.Normalized,
		VersionKey:           state.VersionKey,
		ZipName:              state.ZipName,
		SourceSizeBytes:      state.SourceSizeBytes,
		Tier:                 tier,
	}

	if _, err := s.registry.MarkBuilding(ctx, params); err != nil {
		return nil, OutcomeFailed, err
	}

	finalPath, err := s.store.ResolveZipPath(state.ZipName)
	if err != nil {
		return nil, OutcomeFailed, s.failBuild(ctx, params, err)
	}

	tempPath := s.store.TempPath(finalPath, label)
	if err := s.writeZip(ctx, state.SourceDir, tempPath); err != nil {
		_ = os.Remove(tempPath)
		return nil, OutcomeFailed, s.failBuild(ctx, params, err)
	}

	if err := s.store.Publish(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return nil, OutcomeFailed, s.failBuild(ctx, params, err)
	}

	zipSize, err := s.store.FileSize(state.ZipName)
	if err != nil {
		return nil, OutcomeFailed, s.failBuild(ctx, params, err)
	}
	params.ZipSizeBytes = zipSize

	artifact, err := s.registry.UpsertReady(ctx, params)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	s.logger.Sugar().Infow("zip artifact built",
		"folder", state.Normalized, "zip", state.ZipName, "tier", tier,
		"zip_bytes", zipSize, "source_bytes", state.SourceSizeBytes)
	return artifact, OutcomeBuilt, nil
}

// PublishExternalZip adopts a zip built outside the shared root (a per-user
// build) for the folder's current state, so the next requester hits the cache.
func (s *BuildService) PublishExternalZip(ctx context.Context, folderPath, sourceZipPath string) (*models.ZipArtifact, error) {
	state, err := s.Fingerprint(folderPath)
	if err != nil {
		return nil, err
	}

	if existing, err := s.registry.FindReady(ctx, state.Normalized, state.VersionKey); err != nil {
		return nil, err
	} else if existing != nil && s.store.FileExists(existing.ZipName) {
		return s.reuseReady(ctx, existing, state), nil
	}

	if _, err := s.store.PromoteFile(sourceZipPath, state.ZipName); err != nil {
		return nil, fmt.Errorf("promote external zip for %s: %w", state.Normalized, err)
	}

	zipSize, err := s.store.FileSize(state.ZipName)
	if err != nil {
		return nil, err
	}

	artifact, err := s.registry.UpsertReady(ctx, repository.UpsertZipArtifactParams{
		FolderPathNormalized: state.Normalized,
		VersionKey:           state.VersionKey,
		ZipName:              state.ZipName,
		ZipSizeBytes:         zipSize,
		SourceSizeBytes:      state.SourceSizeBytes,
		Tier:                 s.resolveTier(ctx, state.Normalized),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Sugar().Infow("external zip promoted", "folder", state.Normalized, "zip", state.ZipName)
	return artifact, nil
}

// reuseReady records the hit and promotes a warm row to hot when the folder
// now qualifies.
func (s *BuildService) reuseReady(ctx context.Context, existing *models.ZipArtifact, state *FolderState) *models.ZipArtifact {
	touched, err := s.registry.TouchAccess(ctx, existing.ID)
	if err != nil || touched == nil {
		return existing
	}

	if touched.Tier == models.TierWarm && s.resolveTier(ctx, state.Normalized) == models.TierHot {
		promoted, err := s.registry.UpsertReady(ctx, repository.UpsertZipArtifactParams{
			FolderPathNormalized: touched.FolderPathNormalized,
			VersionKey:           touched.VersionKey,
			ZipName:              touched.ZipName,
			ZipSizeBytes:         touched.ZipSizeBytes,
			SourceSizeBytes:      touched.SourceSizeBytes,
			Tier:                 models.TierHot,
		})
		if err == nil {
			return promoted
		}
		s.logger.Sugar().Warnw("hot promotion failed", "folder", touched.FolderPathNormalized, "error", err)
	}
	return touched
}

// resolveTier decides hot vs warm from download popularity and content
// freshness. Signal failures default to warm; the tier only changes retention.
func (s *BuildService) resolveTier(ctx context.Context, normalized string) models.ZipArtifactTier {
	if s.trends == nil {
		return models.TierWarm
	}
	now := time.Now().UTC()
	variants := []string{normalized, StripLeadingSlash(normalized)}

	// Any download inside the popularity window makes the folder hot.
	downloads, err := s.trends.CountFolderDownloads(ctx, variants, now.Add(-s.topWindow))
	if err != nil {
		s.logger.Sugar().Debugw("tier popularity check failed", "folder", normalized, "error", err)
	} else if downloads > 0 {
		return models.TierHot
	}

	prefixes := []string{normalized + "/", StripLeadingSlash(normalized) + "/"}
	fresh, err := s.trends.HasRecentFileUnder(ctx, prefixes, now.Add(-s.newWindow))
	if err != nil {
		s.logger.Sugar().Debugw("tier freshness check failed", "folder", normalized, "error", err)
		return models.TierWarm
	}
	if fresh {
		return models.TierHot
	}
	return models.TierWarm
}

func (s *BuildService) failBuild(ctx context.Context, params repository.UpsertZipArtifactParams, cause error) error {
	if _, err := s.registry.MarkFailed(ctx, params, cause.Error()); err != nil {
		s.logger.Sugar().Errorw("mark failed did not stick", "folder", params.FolderPathNormalized, "error", err)
	}
	// A memoized ready artifact for this folder now points at a row that went
	// back through building and failed.
	s.memo.InvalidateFolder(ctx, params.FolderPathNormalized)
	return fmt.Errorf("build artifact for %s: %w", params.FolderPathNormalized, cause)
}

// writeZip streams the folder tree into a deflate zip at tempPath. Only
// regular files are archived; entry names are slash-separated paths relative
// to the folder.
func (s *BuildService) writeZip(ctx context.Context, sourceDir, tempPath string) error {
	out, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp zip: %w", err)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, s.compressionLevel)
	})

	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, file)
		_ = file.Close()
		return err
	})

	if walkErr != nil {
		_ = zw.Close()
		_ = out.Close()
		return fmt.Errorf("archive folder: %w", walkErr)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("finalize zip: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("flush zip: %w", err)
	}
	return nil
}

func directorySize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
