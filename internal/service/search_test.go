package service

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"testing"

	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
)

type fakeEmbedder struct {
	embedding domain.Embedding
	err       error
	lastText  string
}

func (f *fakeEmbedder) ExtractImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	return f.embedding, f.err
}

func (f *fakeEmbedder) ExtractText(ctx context.Context, text string) (domain.Embedding, error) {
	f.lastText = text
	return f.embedding, f.err
}

type fakeIndex struct {
	hits      []domain.QueryHit
	err       error
	lastLimit int
}

func (f *fakeIndex) QuerySimilar(ctx context.Context, embedding domain.Embedding, limit int) ([]domain.QueryHit, error) {
	f.lastLimit = limit
	return f.hits, f.err
}

type fakeMetadata struct {
	mu      sync.Mutex
	records []domain.ImageMetadata
	err     error
	lastIDs []string
}

func (f *fakeMetadata) Get(ctx context.Context, id string) (*domain.ImageMetadata, error) {
	for i := range f.records {
		if f.records[i].UUID == id {
			return &f.records[i], nil
		}
	}
	return nil, apperr.NotFound("no image with id %s", id)
}

func (f *fakeMetadata) BatchGet(ctx context.Context, ids []string) ([]domain.ImageMetadata, error) {
	f.mu.Lock()
	f.lastIDs = ids
	f.mu.Unlock()
	return f.records, f.err
}

func metaFor(id string) domain.ImageMetadata {
	return domain.ImageMetadata{
		UUID:         id,
		Filename:     id + ".jpg",
		SourceURL:    "http://storage.local/" + id + ".jpg",
		SourceDomain: "test.local",
		FileSize:     1024,
		Dimensions:   "100x100",
	}
}

func hitFor(id string, distance float32) domain.QueryHit {
	return domain.QueryHit{
		ID:         id,
		Similarity: distance,
		Tags:       map[string]string{domain.TagSourceDomain: "test.local"},
	}
}

func newFakeSearch(idx *fakeIndex, meta *fakeMetadata, cfg *SearchConfig) *SearchService {
	return NewSearchService(&fakeEmbedder{embedding: make(domain.Embedding, domain.EmbeddingDim)}, idx, meta, cfg)
}

func TestSearchCorrelatesByIdentifier(t *testing.T) {
	idx := &fakeIndex{hits: []domain.QueryHit{
		hitFor("a", 0.1),
		hitFor("b", 0.2),
		hitFor("c", 0.3),
	}}
	// Metadata comes back reordered and without "b": correlation must go
	// through identifiers, not positions.
	meta := &fakeMetadata{records: []domain.ImageMetadata{
		metaFor("c"),
		metaFor("a"),
	}}

	svc := newFakeSearch(idx, meta, nil)
	results, err := svc.SearchByText(context.Background(), "red cat", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "c" {
		t.Errorf("hit order not preserved: %s, %s", results[0].ID, results[1].ID)
	}
	if results[0].Filename != "a.jpg" || results[1].Filename != "c.jpg" {
		t.Errorf("metadata mis-attributed: %s, %s", results[0].Filename, results[1].Filename)
	}
	for i, r := range results {
		if r.Partial {
			t.Errorf("result %d unexpectedly partial", i)
		}
	}
}

func TestSearchIncludePartial(t *testing.T) {
	idx := &fakeIndex{hits: []domain.QueryHit{
		hitFor("a", 0.1),
		hitFor("orphan", 0.2),
	}}
	meta := &fakeMetadata{records: []domain.ImageMetadata{metaFor("a")}}

	svc := newFakeSearch(idx, meta, &SearchConfig{IncludePartial: true})
	results, err := svc.SearchByText(context.Background(), "red cat", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].ID != "orphan" || !results[1].Partial {
		t.Errorf("expected partial orphan result, got %+v", results[1])
	}
	if results[1].SourceDomain != "test.local" {
		t.Errorf("partial result should carry index tags, got %q", results[1].SourceDomain)
	}
	if results[0].Partial {
		t.Error("fully joined result marked partial")
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	svc := newFakeSearch(&fakeIndex{}, &fakeMetadata{}, nil)

	_, err := svc.SearchByText(context.Background(), "anything", 10)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not_found kind, got %v", err)
	}
}

func TestSearchLimitClamping(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "zero uses default", limit: 0, want: 20},
		{name: "negative uses default", limit: -5, want: 20},
		{name: "in range passes through", limit: 7, want: 7},
		{name: "over max clamps", limit: 5000, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndex{hits: []domain.QueryHit{hitFor("a", 0.1)}}
			meta := &fakeMetadata{records: []domain.ImageMetadata{metaFor("a")}}
			svc := newFakeSearch(idx, meta, nil)

			if _, err := svc.SearchByText(context.Background(), "q", tt.limit); err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if idx.lastLimit != tt.want {
				t.Errorf("index queried with limit %d, want %d", idx.lastLimit, tt.want)
			}
		})
	}
}

func TestSearchPropagatesStageErrors(t *testing.T) {
	t.Run("extraction", func(t *testing.T) {
		embedder := &fakeEmbedder{err: apperr.Extraction("model is not loaded")}
		svc := NewSearchService(embedder, &fakeIndex{}, &fakeMetadata{}, nil)

		_, err := svc.SearchByText(context.Background(), "q", 5)
		if !apperr.IsKind(err, apperr.KindExtraction) {
			t.Errorf("expected extraction kind, got %v", err)
		}
	})

	t.Run("vector query", func(t *testing.T) {
		idx := &fakeIndex{err: apperr.New(apperr.KindUnavailable, "index down")}
		svc := newFakeSearch(idx, &fakeMetadata{}, nil)

		_, err := svc.SearchByText(context.Background(), "q", 5)
		if !apperr.IsKind(err, apperr.KindUnavailable) {
			t.Errorf("expected unavailable kind, got %v", err)
		}
	})

	t.Run("metadata fetch", func(t *testing.T) {
		idx := &fakeIndex{hits: []domain.QueryHit{hitFor("a", 0.1)}}
		meta := &fakeMetadata{err: apperr.New(apperr.KindUnavailable, "database down")}
		svc := newFakeSearch(idx, meta, nil)

		_, err := svc.SearchByText(context.Background(), "q", 5)
		if !apperr.IsKind(err, apperr.KindUnavailable) {
			t.Errorf("expected unavailable kind, got %v", err)
		}
	})
}

func TestSearchQueriesAllHitIDs(t *testing.T) {
	idx := &fakeIndex{hits: []domain.QueryHit{
		hitFor("a", 0.1),
		hitFor("b", 0.2),
	}}
	meta := &fakeMetadata{records: []domain.ImageMetadata{metaFor("a"), metaFor("b")}}
	svc := newFakeSearch(idx, meta, nil)

	if _, err := svc.SearchByText(context.Background(), "q", 5); err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if len(meta.lastIDs) != 2 || meta.lastIDs[0] != "a" || meta.lastIDs[1] != "b" {
		t.Errorf("metadata queried with %v, want [a b]", meta.lastIDs)
	}
}

// echoEmbedder encodes the query text into the embedding so a paired
// index can answer per query.
type echoEmbedder struct{}

func (echoEmbedder) ExtractImage(ctx context.Context, img image.Image) (domain.Embedding, error) {
	return make(domain.Embedding, domain.EmbeddingDim), nil
}

func (echoEmbedder) ExtractText(ctx context.Context, text string) (domain.Embedding, error) {
	e := make(domain.Embedding, domain.EmbeddingDim)
	e[0] = float32(len(text))
	return e, nil
}

// echoIndex answers with a hit whose id is derived from the query
// embedding, exposing any cross-request state leakage.
type echoIndex struct{}

func (echoIndex) QuerySimilar(ctx context.Context, embedding domain.Embedding, limit int) ([]domain.QueryHit, error) {
	id := fmt.Sprintf("img-%d", int(embedding[0]))
	return []domain.QueryHit{hitFor(id, 0.1)}, nil
}

func TestSearchConcurrentIsolation(t *testing.T) {
	const n = 16

	records := make([]domain.ImageMetadata, n)
	for i := 0; i < n; i++ {
		records[i] = metaFor(fmt.Sprintf("img-%d", i+1))
	}
	svc := NewSearchService(echoEmbedder{}, echoIndex{}, &fakeMetadata{records: records}, nil)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			query := strings.Repeat("q", i+1)
			want := fmt.Sprintf("img-%d", i+1)

			results, err := svc.SearchByText(context.Background(), query, 5)
			if err != nil {
				errs[i] = err
				return
			}
			if len(results) != 1 || results[0].ID != want {
				errs[i] = fmt.Errorf("query %d got %+v, want id %s", i, results, want)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}

func TestGetImagePassthrough(t *testing.T) {
	meta := &fakeMetadata{records: []domain.ImageMetadata{metaFor("a")}}
	svc := newFakeSearch(&fakeIndex{}, meta, nil)

	got, err := svc.GetImage(context.Background(), "a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.UUID != "a" {
		t.Errorf("wrong record: %+v", got)
	}

	_, err = svc.GetImage(context.Background(), "missing")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not_found kind, got %v", err)
	}
}
