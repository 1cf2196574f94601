package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/batchmigrate/internal/api/middleware"
	"github.com/timmy/batchmigrate/internal/console"
	"github.com/timmy/batchmigrate/internal/domain"
	"github.com/timmy/batchmigrate/internal/ingest"
)

// AssetHandler handles upload and asset endpoints.
type AssetHandler struct {
	console *console.Console
	// maxBytes bounds how much of a request body is read; admission
	// rejects anything longer.
	maxBytes int64
}

// NewAssetHandler creates a new asset handler.
// Parameters:
//   - c: console facade.
//   - maxBytes: admission size limit, zero for unlimited.
// Returns:
//   - *AssetHandler: initialized handler.
func NewAssetHandler(c *console.Console, maxBytes int64) *AssetHandler {
	return &AssetHandler{console: c, maxBytes: maxBytes}
}

// Upload handles POST /api/v1/assets. The file comes either as the multipart
// field "file" or as the raw request body with its name in ?name=.
func (h *AssetHandler) Upload(c *gin.Context) {
	var (
		name, contentType string
		body              io.Reader
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "multipart field \"file\" is required")
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(c, fmt.Errorf("failed to open upload: %w", err))
			return
		}
		defer f.Close()
		name, contentType, body = fh.Filename, fh.Header.Get("Content-Type"), f
	} else {
		name, contentType, body = c.Query("name"), c.ContentType(), c.Request.Body
	}
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	if h.maxBytes > 0 {
		// one byte over the limit is enough for admission to reject it
		body = io.LimitReader(body, h.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		badRequest(c, "failed to read upload: "+err.Error())
		return
	}

	metadata := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if strings.HasPrefix(key, "meta.") && len(values) > 0 {
			metadata[strings.TrimPrefix(key, "meta.")] = values[0]
		}
	}

	asset, err := h.console.UploadAsset(c.Request.Context(), ingest.Upload{
		OwnerID:      middleware.OwnerID(c),
		Data:         data,
		DeclaredName: name,
		DeclaredType: contentType,
		Metadata:     metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, asset)
}

// ListAssets handles GET /api/v1/assets.
func (h *AssetHandler) ListAssets(c *gin.Context) {
	filter := domain.AssetFilter{
		OwnerID:          c.Query("owner_id"),
		ProcessingStatus: domain.ProcessingStatus(c.Query("processing_status")),
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	assets, err := h.console.ListAssets(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assets": assets,
		"count":  len(assets),
	})
}

// GetAsset handles GET /api/v1/assets/:id.
func (h *AssetHandler) GetAsset(c *gin.Context) {
	asset, err := h.console.GetAsset(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

// Download handles GET /api/v1/assets/:id/download. It answers with the
// signed handle, or redirects to it with ?redirect=true.
func (h *AssetHandler) Download(c *gin.Context) {
	handle, err := h.console.DownloadHandle(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if redirect, _ := strconv.ParseBool(c.Query("redirect")); redirect {
		c.Redirect(http.StatusFound, handle.URL)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// DeleteAsset handles DELETE /api/v1/assets/:id.
func (h *AssetHandler) DeleteAsset(c *gin.Context) {
	if err := h.console.DeleteAsset(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
