package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/media-catalog-api/internal/service"
	appErrors "github.com/noah-isme/media-catalog-api/pkg/errors"
	"github.com/noah-isme/media-catalog-api/pkg/response"
)

// ArtifactHandler exposes the shared zip cache over HTTP: metadata lookup and
// the actual file downloads.
type ArtifactHandler struct {
	artifacts *service.ArtifactService
}

// NewArtifactHandler constructs the handler.
func NewArtifactHandler(artifacts *service.ArtifactService) *ArtifactHandler {
	return &ArtifactHandler{artifacts: artifacts}
}

// Lookup resolves a folder to its current artifact. A miss is a 404 carrying a
// cacheStatus hint so clients can fall back to a per-user build or retry.
//
// GET /artifacts/lookup?folder=/Artists/Album
func (h *ArtifactHandler) Lookup(c *gin.Context) {
	folder := c.Query("folder")
	if folder == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "folder query parameter is required"))
		return
	}

	download, err := h.artifacts.Lookup(c.Request.Context(), folder)
	if err != nil {
		h.renderMiss(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"artifact":    download.Artifact,
		"downloadUrl": download.DownloadURL,
	}, map[string]interface{}{"cacheStatus": "hit"})
}

// Download streams the zip for a folder's current state.
//
// GET /artifacts/download?folder=/Artists/Album
func (h *ArtifactHandler) Download(c *gin.Context) {
	folder := c.Query("folder")
	if folder == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "folder query parameter is required"))
		return
	}

	download, err := h.artifacts.Lookup(c.Request.Context(), folder)
	if err != nil {
		h.renderMiss(c, err)
		return
	}

	c.FileAttachment(download.FilePath, download.Artifact.ZipName)
}

// DownloadByID streams a previously issued artifact reference.
//
// GET /artifacts/:id/download
func (h *ArtifactHandler) DownloadByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid artifact id"))
		return
	}

	download, err := h.artifacts.DownloadByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.FileAttachment(download.FilePath, download.Artifact.ZipName)
}

// renderMiss maps cache-miss shapes onto the response envelope with a
// cacheStatus hint: "building" when a builder owns the fingerprint, "missing"
// when the source folder is gone, "miss" otherwise.
func (h *ArtifactHandler) renderMiss(c *gin.Context, err error) {
	switch {
	case errors.Is(err, appErrors.ErrBuildInProgress):
		response.ErrorWithMeta(c, err, map[string]interface{}{"cacheStatus": "building"})
	case errors.Is(err, appErrors.ErrFolderMissing):
		response.ErrorWithMeta(c, err, map[string]interface{}{"cacheStatus": "missing"})
	case errors.Is(err, appErrors.ErrArtifactNotReady):
		response.ErrorWithMeta(c, err, map[string]interface{}{"cacheStatus": "miss"})
	default:
		response.Error(c, err)
	}
}
