package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/media-catalog-api/internal/service"
	"github.com/noah-isme/media-catalog-api/pkg/export"
	"github.com/noah-isme/media-catalog-api/pkg/response"
)

// AdminHandler exposes on-demand cache maintenance for operators. Both sweeps
// are the same code paths the schedulers run; triggering one while a peer
// holds the lock returns lockAcquired=false.
type AdminHandler struct {
	cleanup   *service.CleanupService
	prewarm   *service.PrewarmService
	artifacts *service.ArtifactService
}

// NewAdminHandler constructs the handler.
func NewAdminHandler(cleanup *service.CleanupService, prewarm *service.PrewarmService, artifacts *service.ArtifactService) *AdminHandler {
	return &AdminHandler{cleanup: cleanup, prewarm: prewarm, artifacts: artifacts}
}

// TriggerCleanup runs one cleanup sweep synchronously.
//
// POST /admin/zip-cache/cleanup
func (h *AdminHandler) TriggerCleanup(c *gin.Context) {
	result, err := h.cleanup.RunSweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// TriggerPrewarm runs one prewarm sweep synchronously.
//
// POST /admin/zip-cache/prewarm
func (h *AdminHandler) TriggerPrewarm(c *gin.Context) {
	result, err := h.prewarm.RunSweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// ExportInventory streams the artifact registry as CSV.
//
// GET /admin/zip-cache/artifacts.csv?limit=5000
func (h *AdminHandler) ExportInventory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	artifacts, err := h.artifacts.Inventory(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	headers := []string{"id", "folder", "versionKey", "zipName", "tier", "status",
		"zipSizeBytes", "hitCount", "lastAccessedAt", "expiresAt"}
	rows := make([]map[string]string, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, map[string]string{
			"id":             strconv.FormatInt(a.ID, 10),
			"folder":         a.FolderPathNormalized,
			"versionKey":     a.VersionKey,
			"zipName":        a.ZipName,
			"tier":           string(a.Tier),
			"status":         string(a.Status),
			"zipSizeBytes":   strconv.FormatInt(a.ZipSizeBytes, 10),
			"hitCount":       strconv.FormatInt(a.HitCount, 10),
			"lastAccessedAt": a.LastAccessedAt.UTC().Format(time.RFC3339),
			"expiresAt":      a.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}

	payload, err := export.NewCSVExporter().Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := export.AttachmentName("zip-artifacts", time.Now())
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "text/csv", payload)
}
