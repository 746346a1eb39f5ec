package repository

import (
	"strconv"
	"testing"

	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	pb "github.com/qdrant/go-client/qdrant"
)

func validEmbedding() domain.Embedding {
	emb := make(domain.Embedding, domain.EmbeddingDim)
	for i := range emb {
		emb[i] = float32(i) / float32(domain.EmbeddingDim)
	}
	return emb
}

func validVectorEntry(id string) *domain.VectorEntry {
	return &domain.VectorEntry{
		ID:        id,
		Embedding: validEmbedding(),
		Tags: map[string]string{
			domain.TagSourceDomain: "test.local",
			domain.TagIndexedAt:    "1700000000",
		},
	}
}

func TestValidateEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		dim     int
		wantErr bool
	}{
		{name: "exact dimension", dim: domain.EmbeddingDim, wantErr: false},
		{name: "empty", dim: 0, wantErr: true},
		{name: "one short", dim: domain.EmbeddingDim - 1, wantErr: true},
		{name: "one long", dim: domain.EmbeddingDim + 1, wantErr: true},
		{name: "tiny", dim: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEmbedding(make(domain.Embedding, tt.dim))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for dim %d", tt.dim)
				}
				if !apperr.IsKind(err, apperr.KindValidation) {
					t.Errorf("expected validation kind, got %s", apperr.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateEntry(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.VectorEntry) *domain.VectorEntry
	}{
		{
			name:   "nil entry",
			mutate: func(e *domain.VectorEntry) *domain.VectorEntry { return nil },
		},
		{
			name: "missing id",
			mutate: func(e *domain.VectorEntry) *domain.VectorEntry {
				e.ID = ""
				return e
			},
		},
		{
			name: "wrong dimension",
			mutate: func(e *domain.VectorEntry) *domain.VectorEntry {
				e.Embedding = e.Embedding[:10]
				return e
			},
		},
		{
			name: "missing source_domain tag",
			mutate: func(e *domain.VectorEntry) *domain.VectorEntry {
				delete(e.Tags, domain.TagSourceDomain)
				return e
			},
		},
		{
			name: "missing indexed_at tag",
			mutate: func(e *domain.VectorEntry) *domain.VectorEntry {
				delete(e.Tags, domain.TagIndexedAt)
				return e
			},
		},
		{
			name: "nil tags",
			mutate: func(e *domain.VectorEntry) *domain.VectorEntry {
				e.Tags = nil
				return e
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEntry(tt.mutate(validVectorEntry("a1")))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !apperr.IsKind(err, apperr.KindValidation) {
				t.Errorf("expected validation kind, got %s", apperr.KindOf(err))
			}
		})
	}

	if err := validateEntry(validVectorEntry("a1")); err != nil {
		t.Errorf("valid entry rejected: %v", err)
	}
}

func TestPartitionEntries(t *testing.T) {
	bad := validVectorEntry("bad")
	bad.Embedding = bad.Embedding[:4]

	entries := []*domain.VectorEntry{
		validVectorEntry("a"),
		bad,
		validVectorEntry("b"),
		nil,
		validVectorEntry("c"),
	}

	valid, errs := partitionEntries(entries)

	if len(valid) != 3 {
		t.Fatalf("expected 3 valid entries, got %d", len(valid))
	}
	// Relative input order must survive partitioning.
	for i, want := range []string{"a", "b", "c"} {
		if valid[i].ID != want {
			t.Errorf("valid[%d] = %s, want %s", i, valid[i].ID, want)
		}
	}

	if len(errs) != 2 {
		t.Fatalf("expected 2 slot errors, got %d", len(errs))
	}
	for _, slot := range []int{1, 3} {
		if errs[slot] == nil {
			t.Errorf("expected error at slot %d", slot)
		}
	}
}

func TestBuildPointsPreservesOrder(t *testing.T) {
	entries := make([]*domain.VectorEntry, 5)
	for i := range entries {
		entries[i] = validVectorEntry("id-" + strconv.Itoa(i))
	}

	points := buildPoints(entries)
	if len(points) != len(entries) {
		t.Fatalf("expected %d points, got %d", len(entries), len(points))
	}
	for i, p := range points {
		if got := p.GetId().GetUuid(); got != entries[i].ID {
			t.Errorf("points[%d] id = %s, want %s", i, got, entries[i].ID)
		}
		if got := len(p.GetVectors().GetVector().GetData()); got != domain.EmbeddingDim {
			t.Errorf("points[%d] vector length = %d, want %d", i, got, domain.EmbeddingDim)
		}
		if got := p.GetPayload()[domain.TagSourceDomain].GetStringValue(); got != "test.local" {
			t.Errorf("points[%d] source_domain payload = %q", i, got)
		}
	}
}

func TestHitsFromScoredPoints(t *testing.T) {
	scored := []*pb.ScoredPoint{
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "first"}},
			Score: 0.95,
			Payload: map[string]*pb.Value{
				domain.TagSourceDomain: {Kind: &pb.Value_StringValue{StringValue: "test.local"}},
			},
		},
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "second"}},
			Score: 0.80,
		},
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "third"}},
			Score: 0.20,
		},
	}

	hits := hitsFromScoredPoints(scored)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}

	// Score is a similarity; hits carry cosine distance (1 - score), so
	// the index's best-first order becomes ascending distance.
	wantDistances := []float32{0.05, 0.20, 0.80}
	for i, want := range wantDistances {
		diff := hits[i].Similarity - want
		if diff < -1e-6 || diff > 1e-6 {
			t.Errorf("hits[%d].Similarity = %f, want %f", i, hits[i].Similarity, want)
		}
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity < hits[i-1].Similarity {
			t.Errorf("distances not ascending at %d: %f < %f", i, hits[i].Similarity, hits[i-1].Similarity)
		}
	}

	if hits[0].Tags[domain.TagSourceDomain] != "test.local" {
		t.Errorf("payload tag not carried over: %v", hits[0].Tags)
	}
	if hits[1].Tags == nil {
		t.Error("expected empty tag map for payload-less point, got nil")
	}
}
