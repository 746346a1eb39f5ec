package domain

import "time"

// ImageMetadata represents one indexed image in the relational store.
// Rows are written once at ingestion time and never updated by this
// pipeline; deletion is an external administrative concern.
type ImageMetadata struct {
	UUID         string     `gorm:"type:text;primaryKey" json:"id"`
	Filename     string     `gorm:"type:varchar(255);not null" json:"filename"`
	SourceURL    string     `gorm:"type:text" json:"source_url"`
	SourceDomain string     `gorm:"type:text;index:idx_images_source_domain" json:"source_domain"`
	FileSize     int64      `json:"file_size"`
	Dimensions   string     `gorm:"type:varchar(20)" json:"dimensions"`
	CreatedAt    time.Time  `json:"created_at"`
	IndexedAt    time.Time  `json:"indexed_at"`
	Tags         []ImageTag `gorm:"foreignKey:ImageUUID;references:UUID" json:"tags"`
}

// TableName returns the database table name for ImageMetadata.
func (ImageMetadata) TableName() string {
	return "images"
}

// TagNames returns the tag labels in their stored order.
func (m *ImageMetadata) TagNames() []string {
	names := make([]string, len(m.Tags))
	for i, t := range m.Tags {
		names[i] = t.Tag
	}
	return names
}

// ImageTag is a single classifier tag attached to an image. An image has
// many tags; retrieval orders them by descending confidence.
type ImageTag struct {
	ID         uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ImageUUID  string  `gorm:"type:text;not null;index:idx_image_tags_image" json:"image_uuid"`
	Tag        string  `gorm:"type:text;not null;index:idx_image_tags_tag" json:"tag"`
	Confidence float64 `gorm:"not null" json:"confidence"`
}

// TableName returns the database table name for ImageTag.
func (ImageTag) TableName() string {
	return "image_tags"
}
