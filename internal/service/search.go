package service

import (
	"context"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	"github.com/pcheng/pixsearch/internal/logger"
)

// Embedder produces embeddings from images and text.
type Embedder interface {
	ExtractImage(ctx context.Context, img image.Image) (domain.Embedding, error)
	ExtractText(ctx context.Context, text string) (domain.Embedding, error)
}

// VectorIndex answers nearest-neighbor queries.
type VectorIndex interface {
	QuerySimilar(ctx context.Context, embedding domain.Embedding, limit int) ([]domain.QueryHit, error)
}

// MetadataStore fetches relational image metadata by identifier.
type MetadataStore interface {
	Get(ctx context.Context, id string) (*domain.ImageMetadata, error)
	BatchGet(ctx context.Context, ids []string) ([]domain.ImageMetadata, error)
}

// SearchConfig holds configuration for the search service.
type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int

	// IncludePartial controls the consistency-window policy: a vector hit
	// whose metadata row is missing is returned with Partial set when
	// true, and dropped (with a logged inconsistency) when false.
	IncludePartial bool

	// Per-stage deadlines. Zero disables the stage deadline.
	ExtractTimeout  time.Duration
	QueryTimeout    time.Duration
	MetadataTimeout time.Duration
}

// SearchService composes extraction, vector query, and metadata lookup
// into the retrieval pipeline. The vector index and the relational store
// are independently consistent; results from the two are correlated by
// identifier, never by position.
type SearchService struct {
	embedder Embedder
	index    VectorIndex
	metadata MetadataStore
	cfg      SearchConfig
}

// NewSearchService creates a new search service.
// Parameters:
//   - embedder: embedding provider.
//   - index: vector index repository.
//   - metadata: relational metadata repository.
//   - cfg: search configuration; nil uses defaults.
// Returns:
//   - *SearchService: initialized orchestrator.
func NewSearchService(embedder Embedder, index VectorIndex, metadata MetadataStore, cfg *SearchConfig) *SearchService {
	c := SearchConfig{DefaultLimit: 20, MaxLimit: 100}
	if cfg != nil {
		c = *cfg
		if c.DefaultLimit <= 0 {
			c.DefaultLimit = 20
		}
		if c.MaxLimit <= 0 {
			c.MaxLimit = 100
		}
	}
	return &SearchService{
		embedder: embedder,
		index:    index,
		metadata: metadata,
		cfg:      c,
	}
}

// Search finds the images most similar to img, enriched with relational
// metadata, in ascending cosine distance order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - img: decoded query image.
//   - limit: maximum results; clamped to [1, MaxLimit], 0 means default.
// Returns:
//   - []domain.SimilarImage: ranked results.
//   - error: taxonomy error naming the failed stage.
func (s *SearchService) Search(ctx context.Context, img image.Image, limit int) ([]domain.SimilarImage, error) {
	ctx = logger.SetSearchID(ctx, uuid.New().String())
	limit = s.clampLimit(limit)

	embedding, err := s.extractImage(ctx, img)
	if err != nil {
		return nil, err
	}
	return s.searchByEmbedding(ctx, embedding, limit)
}

// SearchByText runs the same pipeline from a text query embedding.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: text query.
//   - limit: maximum results; clamped as in Search.
// Returns:
//   - []domain.SimilarImage: ranked results.
//   - error: taxonomy error naming the failed stage.
func (s *SearchService) SearchByText(ctx context.Context, query string, limit int) ([]domain.SimilarImage, error) {
	ctx = logger.SetSearchID(ctx, uuid.New().String())
	limit = s.clampLimit(limit)

	extractCtx, cancel := s.stageContext(ctx, s.cfg.ExtractTimeout)
	embedding, err := s.embedder.ExtractText(extractCtx, query)
	cancel()
	if err != nil {
		return nil, s.stageError(extractCtx, err, "text extraction")
	}
	return s.searchByEmbedding(ctx, embedding, limit)
}

func (s *SearchService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}

func (s *SearchService) stageContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// stageError converts a stage deadline expiry into a timeout-kind error;
// everything else passes through unchanged.
func (s *SearchService) stageError(ctx context.Context, err error, stage string) error {
	if ctx.Err() != nil {
		return apperr.Wrap(err, apperr.KindTimeout, "%s timed out", stage)
	}
	return err
}

func (s *SearchService) extractImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	extractCtx, cancel := s.stageContext(ctx, s.cfg.ExtractTimeout)
	defer cancel()
	embedding, err := s.embedder.ExtractImage(extractCtx, img)
	if err != nil {
		return nil, s.stageError(extractCtx, err, "image extraction")
	}
	return embedding, nil
}

// searchByEmbedding runs the query → fetch → correlate stages.
func (s *SearchService) searchByEmbedding(ctx context.Context, embedding domain.Embedding, limit int) ([]domain.SimilarImage, error) {
	queryCtx, cancel := s.stageContext(ctx, s.cfg.QueryTimeout)
	hits, err := s.index.QuerySimilar(queryCtx, embedding, limit)
	cancel()
	if err != nil {
		return nil, s.stageError(queryCtx, err, "vector query")
	}
	if len(hits) == 0 {
		return nil, apperr.NotFound("no similar images indexed")
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}

	metaCtx, cancel := s.stageContext(ctx, s.cfg.MetadataTimeout)
	records, err := s.metadata.BatchGet(metaCtx, ids)
	cancel()
	if err != nil {
		return nil, s.stageError(metaCtx, err, "metadata fetch")
	}

	return s.correlate(ctx, hits, records), nil
}

// correlate joins hits and metadata by identifier, preserving the hit
// order. BatchGet may return fewer rows than hits, in any order, so
// positional pairing would silently mis-attribute metadata; the join goes
// through a map keyed by identifier instead.
//
// A hit with no metadata row is in the consistency window between the two
// stores. Policy: dropped with a logged inconsistency warning, or kept as
// a Partial result when IncludePartial is set.
func (s *SearchService) correlate(ctx context.Context, hits []domain.QueryHit, records []domain.ImageMetadata) []domain.SimilarImage {
	byID := make(map[string]*domain.ImageMetadata, len(records))
	for i := range records {
		byID[records[i].UUID] = &records[i]
	}

	results := make([]domain.SimilarImage, 0, len(hits))
	for _, hit := range hits {
		meta, ok := byID[hit.ID]
		if !ok {
			if !s.cfg.IncludePartial {
				logger.CtxWarn(ctx, "Dropping hit with missing metadata: image_id=%s, similarity=%f", hit.ID, hit.Similarity)
				continue
			}
			logger.CtxWarn(ctx, "Returning partial hit with missing metadata: image_id=%s", hit.ID)
			results = append(results, domain.SimilarImage{
				ID:           hit.ID,
				Similarity:   hit.Similarity,
				SourceDomain: hit.Tags[domain.TagSourceDomain],
				Partial:      true,
			})
			continue
		}
		results = append(results, domain.SimilarImage{
			ID:           hit.ID,
			Similarity:   hit.Similarity,
			SourceURL:    meta.SourceURL,
			SourceDomain: meta.SourceDomain,
			Filename:     meta.Filename,
			FileSize:     meta.FileSize,
			Dimensions:   meta.Dimensions,
			Tags:         meta.TagNames(),
		})
	}
	return results
}

// GetImage retrieves metadata for one indexed image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: image UUID.
// Returns:
//   - *domain.ImageMetadata: record with ordered tags.
//   - error: not_found kind when absent.
func (s *SearchService) GetImage(ctx context.Context, id string) (*domain.ImageMetadata, error) {
	return s.metadata.Get(ctx, id)
}
