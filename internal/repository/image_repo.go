package repository

import (
	"context"
	"errors"

	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	"gorm.io/gorm"
)

// ImageRepository owns create/read access to relational image metadata and
// its one-to-many tag rows. Tags are always materialized ordered by
// descending confidence; ties keep insertion order.
//
// The relational store and the vector index are never written in one
// transaction. Readers must correlate the two by identifier and tolerate
// an identifier existing in only one of them.
type ImageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new ImageRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *ImageRepository: repository instance bound to db.
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// tagOrder applies the canonical tag ordering to a preload query.
func tagOrder(db *gorm.DB) *gorm.DB {
	return db.Order("confidence DESC, id ASC")
}

// Insert writes the image row and all its tag rows as one atomic unit.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - model: image metadata with its tags.
// Returns:
//   - error: non-nil if the transaction fails; nothing is committed then.
func (r *ImageRepository) Insert(ctx context.Context, model *domain.ImageMetadata) error {
	if model.UUID == "" {
		return apperr.Validation("image metadata is missing uuid")
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "failed to insert image %s", model.UUID)
	}
	return nil
}

// BatchInsert writes all models and their tags in a single transaction.
// Any failure rolls back the entire batch: the schema enforces referential
// integrity that partial commits would violate, unlike the vector index's
// per-entry tolerance.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - models: image metadata records to persist.
// Returns:
//   - error: non-nil if any insert fails; no rows are committed then.
func (r *ImageRepository) BatchInsert(ctx context.Context, models []*domain.ImageMetadata) error {
	if len(models) == 0 {
		return nil
	}
	for _, m := range models {
		if m.UUID == "" {
			return apperr.Validation("image metadata is missing uuid")
		}
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range models {
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "failed to batch insert %d images", len(models))
	}
	return nil
}

// Get retrieves the metadata and confidence-ordered tags for one image.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: image UUID.
// Returns:
//   - *domain.ImageMetadata: record with tags ordered by confidence DESC.
//   - error: not_found kind when no row exists for id.
func (r *ImageRepository) Get(ctx context.Context, id string) (*domain.ImageMetadata, error) {
	var model domain.ImageMetadata
	err := r.db.WithContext(ctx).
		Preload("Tags", tagOrder).
		First(&model, "uuid = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(err, apperr.KindNotFound, "no image with id %s", id)
		}
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to get image %s", id)
	}
	return &model, nil
}

// BatchGet fetches metadata for the given ids in one round trip.
//
// The returned slice is NOT guaranteed to match ids in length or order:
// identifiers with no matching row are simply absent. Callers must
// correlate by identifier, never by position.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: image UUIDs to fetch.
// Returns:
//   - []domain.ImageMetadata: records found, tags ordered by confidence.
//   - error: non-nil if the query fails.
func (r *ImageRepository) BatchGet(ctx context.Context, ids []string) ([]domain.ImageMetadata, error) {
	if len(ids) == 0 {
		return []domain.ImageMetadata{}, nil
	}
	var models []domain.ImageMetadata
	err := r.db.WithContext(ctx).
		Preload("Tags", tagOrder).
		Where("uuid IN ?", ids).
		Find(&models).Error
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "failed to batch get %d images", len(ids))
	}
	return models, nil
}

// Count returns the number of indexed images.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: number of image rows.
//   - error: non-nil if the query fails.
func (r *ImageRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ImageMetadata{}).Count(&count).Error; err != nil {
		return 0, apperr.Wrap(err, apperr.KindUnavailable, "failed to count images")
	}
	return count, nil
}

// Ping verifies database connectivity for health checks.
func (r *ImageRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
