package handler

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	"github.com/pcheng/pixsearch/internal/service"
	_ "golang.org/x/image/webp"
)

// maxUploadBytes caps the query image size accepted by the search
// endpoint.
const maxUploadBytes = 10 << 20

// SearchHandler handles similarity search endpoints.
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchService: search orchestrator.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// searchResponse is the JSON response for both search endpoints.
type searchResponse struct {
	Results []domain.SimilarImage `json:"results"`
	Total   int                   `json:"total"`
}

// ImageSearch handles POST /api/v1/search. It expects a multipart form
// with an image file and an optional limit field.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) ImageSearch(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, apperr.Validation("multipart field 'file' is required"))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		writeError(c, apperr.Validation("file exceeds %d bytes", maxUploadBytes))
		return
	}
	if ct := fileHeader.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		writeError(c, apperr.Validation("unsupported content type %q", ct))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, apperr.Wrap(err, apperr.KindInternal, "failed to open upload"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(c, apperr.Wrap(err, apperr.KindInternal, "failed to read upload"))
		return
	}
	if len(data) > maxUploadBytes {
		writeError(c, apperr.Validation("file exceeds %d bytes", maxUploadBytes))
		return
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		writeError(c, apperr.Wrap(err, apperr.KindValidation, "failed to decode image"))
		return
	}

	limit := parseLimit(c.PostForm("limit"))
	results, err := h.searchService.Search(c.Request.Context(), img, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, searchResponse{Results: results, Total: len(results)})
}

// textSearchRequest is the JSON body for POST /api/v1/search/text.
type textSearchRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit"`
}

// TextSearch handles POST /api/v1/search/text.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) TextSearch(c *gin.Context) {
	var req textSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(err, apperr.KindValidation, "invalid request body"))
		return
	}

	results, err := h.searchService.SearchByText(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, searchResponse{Results: results, Total: len(results)})
}

// parseLimit parses an optional form limit; malformed or absent values
// fall back to the service default.
func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
