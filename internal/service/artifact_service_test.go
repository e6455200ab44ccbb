package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/media-catalog-api/internal/models"
	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
)

type lookupRegistryStub struct {
	ready    *models.ZipArtifact
	byID     *models.ZipArtifact
	building *models.ZipArtifact
	touched  []int64
}

func (r *lookupRegistryStub) FindReady(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error) {
	return r.ready, nil
}

func (r *lookupRegistryStub) FindReadyByID(ctx context.Context, id int64) (*models.ZipArtifact, error) {
	return r.byID, nil
}

func (r *lookupRegistryStub) FindBuilding(ctx context.Context, folderPath, versionKey string) (*models.ZipArtifact, error) {
	return r.building, nil
}

func (r *lookupRegistryStub) ListAll(ctx context.Context, limit int) ([]models.ZipArtifact, error) {
	if r.ready != nil {
		return []models.ZipArtifact{*r.ready}, nil
	}
	return nil, nil
}

func (r *lookupRegistryStub) TouchAccess(ctx context.Context, id int64) (*models.ZipArtifact, error) {
	r.touched = append(r.touched, id)
	if r.ready != nil && r.ready.ID == id {
		copy := *r.ready
		copy.HitCount++
		return &copy, nil
	}
	if r.byID != nil && r.byID.ID == id {
		copy := *r.byID
		copy.HitCount++
		return &copy, nil
	}
	return nil, nil
}

type fingerprintStub struct {
	state *FolderState
	err   error
}

func (f fingerprintStub) Fingerprint(folderPath string) (*FolderState, error) {
	return f.state, f.err
}

type downloadStoreStub struct {
	existing map[string]bool
}

func (s downloadStoreStub) FileExists(zipName string) bool {
	return s.existing[zipName]
}

func (s downloadStoreStub) ResolveZipPath(zipName string) (string, error) {
	return "/shared/" + zipName, nil
}

type enqueuerStub struct {
	folders []string
}

func (e *enqueuerStub) Enqueue(ctx context.Context, folderPath string) error {
	e.folders = append(e.folders, folderPath)
	return nil
}

func readyArtifact() *models.ZipArtifact {
	return &models.ZipArtifact{
		ID:                   7,
		FolderPathNormalized: "/Artists/Album",
		VersionKey:           "abc",
		ZipName:              "Album-abc.zip",
		Status:               models.StatusReady,
		Tier:                 models.TierWarm,
		ExpiresAt:            time.Now().Add(time.Hour),
	}
}

func albumState() *FolderState {
	return &FolderState{
		Normalized: "/Artists/Album",
		VersionKey: "abc",
		ZipName:    "Album-abc.zip",
	}
}

func newArtifactService(reg lookupRegistry, fp fingerprinter, store downloadStore, enq buildEnqueuer) *ArtifactService {
	return NewArtifactService(reg, fp, store, nil, enq, zap.NewNop(), nil,
		"http://localhost:8080", "/api/v1")
}

func TestArtifactLookupHit(t *testing.T) {
	reg := &lookupRegistryStub{ready: readyArtifact()}
	store := downloadStoreStub{existing: map[string]bool{"Album-abc.zip": true}}
	enq := &enqueuerStub{}
	svc := newArtifactService(reg, fingerprintStub{state: albumState()}, store, enq)

	download, err := svc.Lookup(context.Background(), "/Artists/Album")
	require.NoError(t, err)
	assert.Equal(t, int64(7), download.Artifact.ID)
	assert.Equal(t, int64(1), download.Artifact.HitCount)
	assert.Equal(t, "/shared/Album-abc.zip", download.FilePath)
	assert.Equal(t, "http://localhost:8080/api/v1/artifacts/7/download", download.DownloadURL)
	assert.Equal(t, []int64{7}, reg.touched)
	assert.Empty(t, enq.folders, "a hit must not schedule a build")
}

func TestArtifactLookupMissSchedulesBuild(t *testing.T) {
	reg := &lookupRegistryStub{}
	enq := &enqueuerStub{}
	svc := newArtifactService(reg, fingerprintStub{state: albumState()}, downloadStoreStub{}, enq)

	_, err := svc.Lookup(context.Background(), "/Artists/Album")
	assert.ErrorIs(t, err, appErrors.ErrArtifactNotReady)
	assert.Equal(t, []string{"/Artists/Album"}, enq.folders)
}

func TestArtifactLookupReadyRowMissingFileIsMiss(t *testing.T) {
	reg := &lookupRegistryStub{ready: readyArtifact()}
	enq := &enqueuerStub{}
	// Registry says ready, disk disagrees; disk wins.
	svc := newArtifactService(reg, fingerprintStub{state: albumState()}, downloadStoreStub{}, enq)

	_, err := svc.Lookup(context.Background(), "/Artists/Album")
	assert.ErrorIs(t, err, appErrors.ErrArtifactNotReady)
	assert.Equal(t, []string{"/Artists/Album"}, enq.folders)
}

func TestArtifactLookupBuildInProgress(t *testing.T) {
	reg := &lookupRegistryStub{building: &models.ZipArtifact{Status: models.StatusBuilding}}
	enq := &enqueuerStub{}
	svc := newArtifactService(reg, fingerprintStub{state: albumState()}, downloadStoreStub{}, enq)

	_, err := svc.Lookup(context.Background(), "/Artists/Album")
	assert.ErrorIs(t, err, appErrors.ErrBuildInProgress)
	assert.Empty(t, enq.folders, "an owned fingerprint must not be re-enqueued")
}

func TestArtifactLookupMissingFolder(t *testing.T) {
	enq := &enqueuerStub{}
	svc := newArtifactService(&lookupRegistryStub{}, fingerprintStub{err: appErrors.ErrFolderMissing}, downloadStoreStub{}, enq)

	_, err := svc.Lookup(context.Background(), "/Artists/Nope")
	assert.ErrorIs(t, err, appErrors.ErrFolderMissing)
	assert.Empty(t, enq.folders)
}

func TestArtifactDownloadByID(t *testing.T) {
	reg := &lookupRegistryStub{byID: readyArtifact()}
	store := downloadStoreStub{existing: map[string]bool{"Album-abc.zip": true}}
	svc := newArtifactService(reg, fingerprintStub{}, store, nil)

	download, err := svc.DownloadByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "/shared/Album-abc.zip", download.FilePath)
	assert.Equal(t, []int64{7}, reg.touched)
}

func TestArtifactDownloadByIDNotReady(t *testing.T) {
	svc := newArtifactService(&lookupRegistryStub{}, fingerprintStub{}, downloadStoreStub{}, nil)

	_, err := svc.DownloadByID(context.Background(), 404)
	assert.ErrorIs(t, err, appErrors.ErrArtifactNotReady)
}
