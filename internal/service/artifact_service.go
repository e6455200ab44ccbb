package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/media-catalog-api/internal/models"
	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
	"github.com/noah-isme/media-catalog-api/pkg/jobs"
)

// JobTypeZipBuild tags opportunistic shared builds on the background queue.
const JobTypeZipBuild = "zip_artifact_build"

type lookupRegistry interface {
	FindReady(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error)
	FindReadyByID(ctx context.Context, id int64) (*models.ZipArtifact, error)
	FindBuilding(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error)
	TouchAccess(ctx context.Context, id int64) (*models.ZipArtifact, error)
	ListAll(ctx context.Context, limit int) ([]models.ZipArtifact, error)
}

type fingerprinter interface {
	Fingerprint(folderPath string) (*FolderState, error)
}

type downloadStore interface {
	FileExists(zipName string) bool
	ResolveZipPath(zipName string) (string, error)
}

type buildEnqueuer interface {
	Enqueue(ctx context.Context, folderPath string) error
}

// ArtifactDownload is a servable cache hit: the registry row plus where the
// bytes live and the link clients can fetch them from.
type ArtifactDownload struct {
	Artifact    *models.ZipArtifact
	FilePath    string
	DownloadURL string
}

// ArtifactService is the download-facing surface of the shared cache. A hit
// touches the row and hands back the file; a miss records why and kicks off an
// opportunistic background build.
type ArtifactService struct {
	registry   lookupRegistry
	builder    fingerprinter
	store      downloadStore
	memo       *CacheService
	enqueuer   buildEnqueuer
	logger     *zap.Logger
	metrics    *MetricsService
	backendURL string
	apiPrefix  string
}

// NewArtifactService constructs the lookup surface. The enqueuer may be nil;
// misses then simply wait for prewarm.
func NewArtifactService(
	registry lookupRegistry,
	builder fingerprinter,
	store downloadStore,
	memo *CacheService,
	enqueuer buildEnqueuer,
	logger *zap.Logger,
	metrics *MetricsService,
	backendURL, apiPrefix string,
) *ArtifactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactService{
		registry:   registry,
		builder:    builder,
		store:      store,
		memo:       memo,
		enqueuer:   enqueuer,
		logger:     logger,
		metrics:    metrics,
		backendURL: backendURL,
		apiPrefix:  apiPrefix,
	}
}

// Lookup resolves the folder's current state to a servable artifact. On a miss
// it returns ErrBuildInProgress when a builder already owns the fingerprint,
// ErrArtifactNotReady otherwise, after scheduling a background build.
func (s *ArtifactService) Lookup(ctx context.Context, folderPath string) (*ArtifactDownload, error) {
	state, err := s.builder.Fingerprint(folderPath)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrFolderMissing.Code {
			s.metrics.RecordArtifactLookup(false)
		}
		return nil, err
	}

	if memoized, ok := s.memo.GetArtifact(ctx, state.Normalized, state.VersionKey); ok {
		if download, ok := s.serve(ctx, memoized, false); ok {
			return download, nil
		}
	}

	artifact, err := s.registry.FindReady(ctx, state.Normalized, state.VersionKey)
	if err != nil {
		return nil, err
	}
	if artifact != nil {
		if download, ok := s.serve(ctx, artifact, true); ok {
			return download, nil
		}
	}

	return nil, s.miss(ctx, state)
}

// DownloadByID resolves a previously issued artifact reference, re-checking
// readiness and file presence before handing out the path.
func (s *ArtifactService) DownloadByID(ctx context.Context, id int64) (*ArtifactDownload, error) {
	artifact, err := s.registry.FindReadyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, appErrors.ErrArtifactNotReady
	}
	if download, ok := s.serve(ctx, artifact, false); ok {
		return download, nil
	}
	return nil, appErrors.ErrArtifactNotReady
}

// serve validates the file on disk, records the hit, and memoizes the row. The
// file is authoritative: a ready row with no file is a miss, not an error.
func (s *ArtifactService) serve(ctx context.Context, artifact *models.ZipArtifact, memoize bool) (*ArtifactDownload, bool) {
	if !s.store.FileExists(artifact.ZipName) {
		return nil, false
	}

	touched, err := s.registry.TouchAccess(ctx, artifact.ID)
	if err != nil {
		s.logger.Sugar().Warnw("artifact touch failed", "id", artifact.ID, "error", err)
		touched = artifact
	}
	if touched == nil {
		return nil, false
	}

	filePath, err := s.store.ResolveZipPath(touched.ZipName)
	if err != nil {
		return nil, false
	}

	if memoize {
		s.memo.SetArtifact(ctx, touched)
	}
	s.metrics.RecordArtifactLookup(true)

	return &ArtifactDownload{
		Artifact:    touched,
		FilePath:    filePath,
		DownloadURL: s.downloadURL(touched.ID),
	}, true
}

func (s *ArtifactService) miss(ctx context.Context, state *FolderState) error {
	s.metrics.RecordArtifactLookup(false)

	building, err := s.registry.FindBuilding(ctx, state.Normalized, state.VersionKey)
	if err == nil && building != nil {
		return appErrors.ErrBuildInProgress
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, state.Normalized); err != nil {
			s.logger.Sugar().Warnw("build enqueue failed", "folder", state.Normalized, "error", err)
		}
	}
	return appErrors.ErrArtifactNotReady
}

// Inventory lists registry rows for the operator CSV export. Reads only; no
// touch, no memo.
func (s *ArtifactService) Inventory(ctx context.Context, limit int) ([]models.ZipArtifact, error) {
	return s.registry.ListAll(ctx, limit)
}

func (s *ArtifactService) downloadURL(id int64) string {
	return fmt.Sprintf("%s%s/artifacts/%d/download", s.backendURL, s.apiPrefix, id)
}

// BuildQueueEnqueuer submits opportunistic builds to the background queue.
type BuildQueueEnqueuer struct {
	queue *jobs.Queue
}

// NewBuildQueueEnqueuer wraps a started queue. A nil queue disables enqueues.
func NewBuildQueueEnqueuer(queue *jobs.Queue) *BuildQueueEnqueuer {
	return &BuildQueueEnqueuer{queue: queue}
}

// Enqueue submits one folder for a background shared build.
func (e *BuildQueueEnqueuer) Enqueue(_ context.Context, folderPath string) error {
	if e == nil || e.queue == nil {
		return nil
	}
	return e.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    JobTypeZipBuild,
		Payload: folderPath,
	})
}
