package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	"github.com/pcheng/pixsearch/internal/service"
)

// ImageHandler handles indexed-image metadata endpoints.
type ImageHandler struct {
	searchService *service.SearchService
}

// NewImageHandler creates a new image handler.
// Parameters:
//   - searchService: search orchestrator (owns metadata lookup).
// Returns:
//   - *ImageHandler: initialized handler.
func NewImageHandler(searchService *service.SearchService) *ImageHandler {
	return &ImageHandler{searchService: searchService}
}

// imageResponse is the JSON shape for one indexed image.
type imageResponse struct {
	ID           string   `json:"id"`
	Filename     string   `json:"filename"`
	SourceURL    string   `json:"source_url"`
	SourceDomain string   `json:"source_domain"`
	FileSize     int64    `json:"file_size"`
	Dimensions   string   `json:"dimensions"`
	Tags         []string `json:"tags"`
	CreatedAt    string   `json:"created_at"`
	IndexedAt    string   `json:"indexed_at"`
}

// GetImage handles GET /api/v1/images/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ImageHandler) GetImage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(c, apperr.Validation("invalid image id %q", id))
		return
	}

	meta, err := h.searchService.GetImage(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toImageResponse(meta))
}

func toImageResponse(meta *domain.ImageMetadata) imageResponse {
	return imageResponse{
		ID:           meta.UUID,
		Filename:     meta.Filename,
		SourceURL:    meta.SourceURL,
		SourceDomain: meta.SourceDomain,
		FileSize:     meta.FileSize,
		Dimensions:   meta.Dimensions,
		Tags:         meta.TagNames(),
		CreatedAt:    meta.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		IndexedAt:    meta.IndexedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}
