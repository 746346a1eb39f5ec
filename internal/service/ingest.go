package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pcheng/pixsearch/internal/domain"
	"github.com/pcheng/pixsearch/internal/logger"
	"github.com/pcheng/pixsearch/internal/repository"
	"github.com/pcheng/pixsearch/internal/source"
	"github.com/pcheng/pixsearch/internal/storage"
	_ "golang.org/x/image/webp"
)

// VectorWriter writes entries into the similarity index.
type VectorWriter interface {
	BatchUpsert(ctx context.Context, entries []*domain.VectorEntry) ([]repository.UpsertResult, error)
}

// MetadataWriter persists relational image metadata.
type MetadataWriter interface {
	BatchInsert(ctx context.Context, models []*domain.ImageMetadata) error
}

// IngestService indexes images from a data source: decode, upload the
// original to object storage, extract an embedding, then write the two
// stores as two independent steps. The relational record is written first
// so that a vector hit whose metadata has not landed yet stays the rarer
// case; readers tolerate the window either way.
type IngestService struct {
	imageRepo  MetadataWriter
	vectorRepo VectorWriter
	storage    storage.ObjectStorage
	clip       *ClipService
	workers    int
	batchSize  int
	domainName string
}

// IngestConfig holds configuration for the ingest service.
type IngestConfig struct {
	Workers   int
	BatchSize int
	// Domain recorded as source_domain on every ingested image.
	Domain string
}

// NewIngestService creates a new ingest service.
// Parameters:
//   - imageRepo: relational metadata writer.
//   - vectorRepo: vector index writer.
//   - objectStorage: object storage for original image bytes.
//   - clip: embedding service.
//   - cfg: worker count, flush batch size, source domain tag.
// Returns:
//   - *IngestService: initialized service.
func NewIngestService(
	imageRepo MetadataWriter,
	vectorRepo VectorWriter,
	objectStorage storage.ObjectStorage,
	clip *ClipService,
	cfg *IngestConfig,
) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	return &IngestService{
		imageRepo:  imageRepo,
		vectorRepo: vectorRepo,
		storage:    objectStorage,
		clip:       clip,
		workers:    workers,
		batchSize:  batchSize,
		domainName: cfg.Domain,
	}
}

// IngestStats holds statistics for an ingestion run.
type IngestStats struct {
	TotalItems     int64
	ProcessedItems int64
	FailedItems    int64
	StartTime      time.Time
	EndTime        time.Time
}

// processed carries one fully prepared image through to the store writers.
type processed struct {
	meta     *domain.ImageMetadata
	entry    *domain.VectorEntry
	sourceID string
	err      error
}

// IngestFromSource indexes up to limit images from the given source.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - src: image source.
//   - limit: maximum number of items to ingest.
// Returns:
//   - *IngestStats: run statistics.
//   - error: non-nil only when the run cannot start.
func (s *IngestService) IngestFromSource(ctx context.Context, src source.Source, limit int) (*IngestStats, error) {
	stats := &IngestStats{StartTime: time.Now()}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldComponent: "ingest",
		logger.FieldSource:    src.GetSourceID(),
	})
	logger.CtxInfo(ctx, "Starting ingestion: limit=%d, workers=%d", limit, s.workers)

	itemsChan := make(chan source.ImageItem, s.workers*2)
	resultsChan := make(chan *processed, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range itemsChan {
				resultsChan <- s.processItem(ctx, item)
			}
		}()
	}

	// Collector: accumulate successes and flush both stores per batch.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buffer := make([]*processed, 0, s.batchSize)
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			if result.err != nil {
				atomic.AddInt64(&stats.FailedItems, 1)
				logger.CtxError(ctx, "Failed to process item: source_id=%s, error=%v", result.sourceID, result.err)
				continue
			}
			buffer = append(buffer, result)
			if len(buffer) >= s.batchSize {
				s.flush(ctx, buffer, stats)
				buffer = buffer[:0]
			}
		}
		if len(buffer) > 0 {
			s.flush(ctx, buffer, stats)
		}
	}()

	cursor := ""
	totalFetched := 0
	for {
		if ctx.Err() != nil {
			break
		}
		remaining := limit - totalFetched
		if remaining <= 0 {
			break
		}
		fetchLimit := s.batchSize
		if fetchLimit > remaining {
			fetchLimit = remaining
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, fetchLimit)
		if err != nil {
			logger.CtxError(ctx, "Failed to fetch batch: error=%v", err)
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		totalFetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	logger.CtxInfo(ctx, "Ingestion finished: total=%d, processed=%d, failed=%d, duration=%s",
		stats.TotalItems, stats.ProcessedItems, stats.FailedItems, stats.EndTime.Sub(stats.StartTime))
	return stats, nil
}

// processItem decodes one image, uploads the original, extracts its
// embedding, and builds the records for both stores.
func (s *IngestService) processItem(ctx context.Context, item source.ImageItem) *processed {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return &processed{sourceID: item.SourceID, err: fmt.Errorf("failed to read file: %w", err)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return &processed{sourceID: item.SourceID, err: fmt.Errorf("failed to decode image: %w", err)}
	}

	id := uuid.New().String()
	now := time.Now()
	key := fmt.Sprintf("%s/%s.%s", s.domainName, id, item.Format)

	if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/"+item.Format); err != nil {
		return &processed{sourceID: item.SourceID, err: fmt.Errorf("failed to upload original: %w", err)}
	}

	embedding, err := s.clip.ExtractImage(ctx, img)
	if err != nil {
		return &processed{sourceID: item.SourceID, err: fmt.Errorf("failed to extract embedding: %w", err)}
	}

	bounds := img.Bounds()
	meta := &domain.ImageMetadata{
		UUID:         id,
		Filename:     item.SourceID,
		SourceURL:    s.storage.GetURL(key),
		SourceDomain: s.domainName,
		FileSize:     int64(len(data)),
		Dimensions:   fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
		CreatedAt:    now,
		IndexedAt:    now,
	}
	entry := &domain.VectorEntry{
		ID:        id,
		Embedding: embedding,
		Tags: map[string]string{
			domain.TagSourceDomain: s.domainName,
			domain.TagIndexedAt:    strconv.FormatInt(now.Unix(), 10),
		},
	}
	return &processed{meta: meta, entry: entry, sourceID: item.SourceID}
}

// flush writes one accumulated batch to both stores. The relational
// insert is all-or-nothing; the vector upsert tolerates per-entry
// failures. There is no cross-store transaction: a partial failure leaves
// a consistency window that readers handle.
func (s *IngestService) flush(ctx context.Context, batch []*processed, stats *IngestStats) {
	models := make([]*domain.ImageMetadata, len(batch))
	entries := make([]*domain.VectorEntry, len(batch))
	for i, p := range batch {
		models[i] = p.meta
		entries[i] = p.entry
	}

	if err := s.imageRepo.BatchInsert(ctx, models); err != nil {
		atomic.AddInt64(&stats.FailedItems, int64(len(batch)))
		logger.CtxError(ctx, "Failed to insert metadata batch: count=%d, error=%v", len(batch), err)
		return
	}

	results, err := s.vectorRepo.BatchUpsert(ctx, entries)
	if err != nil {
		atomic.AddInt64(&stats.FailedItems, int64(len(batch)))
		logger.CtxError(ctx, "Failed to upsert vector batch: count=%d, error=%v", len(batch), err)
		return
	}
	for i, res := range results {
		if res.Err != nil {
			atomic.AddInt64(&stats.FailedItems, 1)
			logger.CtxWarn(ctx, "Vector upsert failed for entry: image_id=%s, error=%v", entries[i].ID, res.Err)
		}
	}
}
