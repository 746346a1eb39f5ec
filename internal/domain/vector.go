package domain

// EmbeddingDim is the fixed dimensionality of every embedding produced and
// stored by this system. Any other length is a validation error.
const EmbeddingDim = 512

// Tag keys required on every vector entry.
const (
	TagSourceDomain = "source_domain"
	TagIndexedAt    = "indexed_at"
)

// Embedding is an L2-normalized feature vector of EmbeddingDim elements.
type Embedding []float32

// VectorEntry is one point in the similarity index. The ID is shared with
// the relational record for the same image, but the two stores are written
// independently; there is no cross-store transaction.
type VectorEntry struct {
	ID        string            `json:"id"`
	Embedding Embedding         `json:"embedding"`
	Tags      map[string]string `json:"tags"`
}

// QueryHit is a single nearest-neighbor match. Similarity is the cosine
// distance reported by the index: smaller means more similar. It is not a
// confidence score; callers wanting one must invert it themselves.
type QueryHit struct {
	ID         string            `json:"id"`
	Tags       map[string]string `json:"tags"`
	Similarity float32           `json:"similarity"`
}

// SimilarImage is the correlated join of a QueryHit and its relational
// metadata, returned to API clients in similarity order.
type SimilarImage struct {
	ID           string   `json:"id"`
	Similarity   float32  `json:"similarity"`
	SourceURL    string   `json:"source_url"`
	SourceDomain string   `json:"source_domain"`
	Filename     string   `json:"filename"`
	FileSize     int64    `json:"file_size"`
	Dimensions   string   `json:"dimensions"`
	Tags         []string `json:"tags"`
	Partial      bool     `json:"partial,omitempty"`
}
