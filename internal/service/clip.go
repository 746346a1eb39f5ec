package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	"github.com/pcheng/pixsearch/internal/logger"
)

// ClipService wraps a CLIP model-serving sidecar. It owns the model's
// load/unload lifecycle and gates every inference call through a bounded
// worker pool so that accelerator-bound extraction never starves the
// request-handling path.
type ClipService struct {
	client *resty.Client
	model  string
	pool   chan struct{}
	loaded atomic.Bool
}

// ClipConfig holds configuration for the CLIP service.
type ClipConfig struct {
	BaseURL string
	Model   string
	Workers int
	Timeout time.Duration
}

// ExtractResult is the tagged per-slot outcome of a batch extraction.
type ExtractResult struct {
	Embedding domain.Embedding
	Err       error
}

// NewClipService creates a new CLIP service. The model starts unloaded;
// call Load before extracting.
// Parameters:
//   - cfg: sidecar endpoint, model name, worker pool size, HTTP timeout.
// Returns:
//   - *ClipService: initialized service.
func NewClipService(cfg *ClipConfig) *ClipService {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &ClipService{
		client: client,
		model:  cfg.Model,
		pool:   make(chan struct{}, workers),
	}
}

// Sidecar request/response structures.
type embedRequest struct {
	Model  string   `json:"model"`
	Images []string `json:"images,omitempty"` // base64-encoded JPEG
	Texts  []string `json:"texts,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

type modelRequest struct {
	Model string `json:"model"`
}

// Load asks the sidecar to load the model and marks the service ready.
// Extraction calls made before Load completes fail fast instead of
// surfacing deep inference errors.
func (s *ClipService) Load(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(modelRequest{Model: s.model}).
		Post("/v1/model/load")
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "failed to load model %s", s.model)
	}
	if resp.StatusCode() != 200 {
		return apperr.New(apperr.KindUnavailable, "model load returned status %d", resp.StatusCode())
	}
	s.loaded.Store(true)
	logger.CtxInfo(ctx, "CLIP model loaded: model=%s", s.model)
	return nil
}

// Unload marks the service not ready and asks the sidecar to release the
// model. In-flight extractions finish; new ones fail fast.
func (s *ClipService) Unload(ctx context.Context) error {
	s.loaded.Store(false)
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(modelRequest{Model: s.model}).
		Post("/v1/model/unload")
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "failed to unload model %s", s.model)
	}
	if resp.StatusCode() != 200 {
		return apperr.New(apperr.KindUnavailable, "model unload returned status %d", resp.StatusCode())
	}
	return nil
}

// Ready reports whether the model is loaded.
func (s *ClipService) Ready() bool {
	return s.loaded.Load()
}

// acquire takes a worker pool slot, respecting ctx cancellation.
func (s *ClipService) acquire(ctx context.Context) error {
	select {
	case s.pool <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperr.Wrap(ctx.Err(), apperr.KindTimeout, "timed out waiting for extraction worker")
	}
}

func (s *ClipService) release() {
	<-s.pool
}

// ExtractImage produces the L2-normalized embedding for one image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - img: decoded image; color mode is converted during preprocessing.
// Returns:
//   - domain.Embedding: unit-length vector of EmbeddingDim elements.
//   - error: extraction kind when the model is not loaded or
//     preprocessing/inference fails.
func (s *ClipService) ExtractImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	if !s.Ready() {
		return nil, apperr.Extraction("model %s is not loaded", s.model)
	}

	encoded, err := preprocessImage(img)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindExtraction, "image preprocessing failed")
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	embeddings, err := s.embed(ctx, &embedRequest{Model: s.model, Images: []string{encoded}}, "/v1/embeddings/image", 1)
	if err != nil {
		return nil, err
	}
	return normalize(embeddings[0]), nil
}

// ExtractText produces the L2-normalized embedding for a text query.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - text: UTF-8 query text; empty input is an extraction error.
// Returns:
//   - domain.Embedding: unit-length vector.
//   - error: extraction kind on empty input or model/inference failure.
func (s *ClipService) ExtractText(ctx context.Context, text string) (domain.Embedding, error) {
	if !s.Ready() {
		return nil, apperr.Extraction("model %s is not loaded", s.model)
	}
	if text == "" {
		return nil, apperr.Extraction("text input is empty")
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	embeddings, err := s.embed(ctx, &embedRequest{Model: s.model, Texts: []string{text}}, "/v1/embeddings/text", 1)
	if err != nil {
		return nil, err
	}
	return normalize(embeddings[0]), nil
}

// ExtractBatch processes images in fixed-size chunks, in input order. Each
// image is handled independently: a preprocessing failure marks only its
// own slot, and a failed chunk request marks only that chunk's slots;
// remaining chunks are still processed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - imgs: decoded images.
//   - batchSize: chunk size; values < 1 default to 32.
// Returns:
//   - []ExtractResult: one tagged result per input image, input order.
func (s *ClipService) ExtractBatch(ctx context.Context, imgs []image.Image, batchSize int) []ExtractResult {
	results := make([]ExtractResult, len(imgs))

	if !s.Ready() {
		err := apperr.Extraction("model %s is not loaded", s.model)
		for i := range results {
			results[i] = ExtractResult{Err: err}
		}
		return results
	}

	if batchSize < 1 {
		batchSize = 32
	}

	for start := 0; start < len(imgs); start += batchSize {
		end := start + batchSize
		if end > len(imgs) {
			end = len(imgs)
		}
		s.extractChunk(ctx, imgs[start:end], results[start:end])
	}
	return results
}

// extractChunk processes one chunk, writing into the aligned results
// window. Preprocessing failures are recorded per slot before the sidecar
// call; the call itself carries only the survivors.
func (s *ClipService) extractChunk(ctx context.Context, imgs []image.Image, results []ExtractResult) {
	encoded := make([]string, 0, len(imgs))
	srcIdx := make([]int, 0, len(imgs))

	for i, img := range imgs {
		enc, err := preprocessImage(img)
		if err != nil {
			results[i] = ExtractResult{Err: apperr.Wrap(err, apperr.KindExtraction, "image preprocessing failed")}
			continue
		}
		encoded = append(encoded, enc)
		srcIdx = append(srcIdx, i)
	}
	if len(encoded) == 0 {
		return
	}

	if err := s.acquire(ctx); err != nil {
		for _, i := range srcIdx {
			results[i] = ExtractResult{Err: err}
		}
		return
	}
	embeddings, err := s.embed(ctx, &embedRequest{Model: s.model, Images: encoded}, "/v1/embeddings/image", len(encoded))
	s.release()

	if err != nil {
		for _, i := range srcIdx {
			results[i] = ExtractResult{Err: err}
		}
		return
	}
	for j, i := range srcIdx {
		results[i] = ExtractResult{Embedding: normalize(embeddings[j])}
	}
}

// embed posts an embedding request and returns vectors ordered by the
// response index field.
func (s *ClipService) embed(ctx context.Context, req *embedRequest, path string, want int) ([]domain.Embedding, error) {
	var resp embedResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindExtraction, "failed to call embedding sidecar")
	}
	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, apperr.Extraction("embedding sidecar error: %s", resp.Detail)
		}
		return nil, apperr.Extraction("embedding sidecar error: status %d", httpResp.StatusCode())
	}
	if len(resp.Data) != want {
		return nil, apperr.Extraction("unexpected number of embeddings: got %d, expected %d", len(resp.Data), want)
	}

	embeddings := make([]domain.Embedding, want)
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= want {
			return nil, apperr.Extraction("embedding index %d out of range", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	for i, e := range embeddings {
		if err := validateDim(e); err != nil {
			return nil, apperr.Wrap(err, apperr.KindExtraction, "embedding %d malformed", i)
		}
	}
	return embeddings, nil
}

func validateDim(e domain.Embedding) error {
	if len(e) != domain.EmbeddingDim {
		return fmt.Errorf("got %d dimensions, expected %d", len(e), domain.EmbeddingDim)
	}
	return nil
}

// preprocessImage converts any color mode to RGB by drawing onto an RGBA
// canvas, then JPEG-encodes and base64s the result for transport.
func preprocessImage(img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("image is nil")
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return "", fmt.Errorf("image has empty bounds")
	}

	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 90}); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// normalize scales a vector to unit L2 length. Zero vectors are returned
// unchanged rather than divided by zero.
func normalize(e domain.Embedding) domain.Embedding {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return e
	}
	norm := float32(math.Sqrt(sum))
	out := make(domain.Embedding, len(e))
	for i, v := range e {
		out[i] = v / norm
	}
	return out
}
