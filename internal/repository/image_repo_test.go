package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.ImageMetadata{}, &domain.ImageTag{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testImage(id string) *domain.ImageMetadata {
	now := time.Now()
	return &domain.ImageMetadata{
		UUID:         id,
		Filename:     id + ".jpg",
		SourceURL:    "http://storage.local/images/" + id + ".jpg",
		SourceDomain: "test.local",
		FileSize:     2048,
		Dimensions:   "640x480",
		CreatedAt:    now,
		IndexedAt:    now,
	}
}

func TestImageRepositoryInsertAndGet(t *testing.T) {
	repo := NewImageRepository(newTestDB(t))
	ctx := context.Background()

	img := testImage("11111111-1111-1111-1111-111111111111")
	img.Tags = []domain.ImageTag{
		{Tag: "animal", Confidence: 0.41},
		{Tag: "cat", Confidence: 0.97},
		{Tag: "pet", Confidence: 0.83},
	}

	if err := repo.Insert(ctx, img); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := repo.Get(ctx, img.UUID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Filename != img.Filename || got.SourceDomain != "test.local" {
		t.Errorf("metadata mismatch: %+v", got)
	}

	// Tags come back ordered by confidence descending.
	wantOrder := []string{"cat", "pet", "animal"}
	names := got.TagNames()
	if len(names) != len(wantOrder) {
		t.Fatalf("expected %d tags, got %d", len(wantOrder), len(names))
	}
	for i, want := range wantOrder {
		if names[i] != want {
			t.Errorf("tag[%d] = %s, want %s", i, names[i], want)
		}
	}
}

func TestImageRepositoryGetNotFound(t *testing.T) {
	repo := NewImageRepository(newTestDB(t))

	_, err := repo.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not_found kind, got %s", apperr.KindOf(err))
	}
}

func TestImageRepositoryInsertMissingUUID(t *testing.T) {
	repo := NewImageRepository(newTestDB(t))

	img := testImage("")
	err := repo.Insert(context.Background(), img)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Errorf("expected validation kind, got %v", err)
	}
}

func TestImageRepositoryBatchInsertAtomicity(t *testing.T) {
	repo := NewImageRepository(newTestDB(t))
	ctx := context.Background()

	dup := "22222222-2222-2222-2222-222222222222"
	if err := repo.Insert(ctx, testImage(dup)); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	// Batch contains a duplicate primary key; the whole batch must roll
	// back, including the valid first record.
	batch := []*domain.ImageMetadata{
		testImage("33333333-3333-3333-3333-333333333333"),
		testImage(dup),
	}
	if err := repo.BatchInsert(ctx, batch); err == nil {
		t.Fatal("expected batch insert to fail on duplicate uuid")
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after rollback, got %d", count)
	}
}

func TestImageRepositoryBatchGet(t *testing.T) {
	repo := NewImageRepository(newTestDB(t))
	ctx := context.Background()

	ids := []string{
		"44444444-4444-4444-4444-444444444444",
		"55555555-5555-5555-5555-555555555555",
	}
	for _, id := range ids {
		if err := repo.Insert(ctx, testImage(id)); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	// Request includes an id with no row: the result is simply shorter,
	// not padded and not an error.
	got, err := repo.BatchGet(ctx, append(ids, "66666666-6666-6666-6666-666666666666"))
	if err != nil {
		t.Fatalf("batch get failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	found := map[string]bool{}
	for _, m := range got {
		found[m.UUID] = true
	}
	for _, id := range ids {
		if !found[id] {
			t.Errorf("missing record %s", id)
		}
	}
}

func TestImageRepositoryBatchGetEmpty(t *testing.T) {
	repo := NewImageRepository(newTestDB(t))

	got, err := repo.BatchGet(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d records", len(got))
	}
}
