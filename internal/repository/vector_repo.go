package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pcheng/pixsearch/internal/apperr"
	"github.com/pcheng/pixsearch/internal/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	// maxStoreRetries bounds the retry loop on transport failures before
	// the error is surfaced as unavailable.
	maxStoreRetries = 3
)

// VectorConnectionConfig holds configuration for the Qdrant connection.
type VectorConnectionConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string // Qdrant Cloud API key (enables TLS automatically)
	UseTLS     bool   // Explicitly enable TLS without API key
}

// apiKeyInterceptor creates a unary interceptor that adds the API key to
// outgoing metadata.
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// VectorRepository owns upsert/query against the Qdrant similarity index.
//
// Every entry and query embedding is validated locally before any network
// call: the index is never reached with malformed input. Writes are
// verified by an existence re-read because the index's write ack alone is
// not treated as proof of durability here.
type VectorRepository struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	collection    string
}

// UpsertResult is the tagged per-slot outcome of a batch upsert. Exactly
// one of ID or Err is meaningful: a non-nil Err means the entry failed
// validation or the write was not visible on re-read.
type UpsertResult struct {
	ID  string
	Err error
}

// NewVectorRepository creates a VectorRepository. Supports both local
// Qdrant (insecure) and Qdrant Cloud (TLS + API key).
// Parameters:
//   - cfg: connection settings.
// Returns:
//   - *VectorRepository: repository bound to the collection.
//   - error: non-nil if the gRPC client cannot be constructed.
func NewVectorRepository(cfg *VectorConnectionConfig) (*VectorRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &VectorRepository{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
		collection:    cfg.Collection,
	}, nil
}

// Close closes the gRPC connection.
func (r *VectorRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist and verifies
// the vector size when it does.
func (r *VectorRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(domain.EmbeddingDim) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collection, size, domain.EmbeddingDim)
			}
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(domain.EmbeddingDim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	config := info.GetConfig()
	if config == nil {
		return 0, false
	}
	params := config.GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// validateEntry checks a VectorEntry before it may touch the network.
func validateEntry(entry *domain.VectorEntry) error {
	if entry == nil {
		return apperr.Validation("entry is nil")
	}
	if entry.ID == "" {
		return apperr.Validation("entry is missing id")
	}
	if err := validateEmbedding(entry.Embedding); err != nil {
		return err
	}
	if entry.Tags[domain.TagSourceDomain] == "" {
		return apperr.Validation("entry %s is missing required tag %q", entry.ID, domain.TagSourceDomain)
	}
	if entry.Tags[domain.TagIndexedAt] == "" {
		return apperr.Validation("entry %s is missing required tag %q", entry.ID, domain.TagIndexedAt)
	}
	return nil
}

// validateEmbedding enforces the fixed dimension on any vector headed for
// the index, for writes and queries alike.
func validateEmbedding(embedding domain.Embedding) error {
	if len(embedding) == 0 {
		return apperr.Validation("embedding is empty")
	}
	if len(embedding) != domain.EmbeddingDim {
		return apperr.Validation("embedding has %d dimensions, expected %d", len(embedding), domain.EmbeddingDim)
	}
	return nil
}

// partitionEntries splits entries into valid ones and a per-input-slot
// error map. Relative order of valid entries matches the input.
func partitionEntries(entries []*domain.VectorEntry) (valid []*domain.VectorEntry, errs map[int]error) {
	errs = make(map[int]error)
	for i, entry := range entries {
		if err := validateEntry(entry); err != nil {
			errs[i] = err
			continue
		}
		valid = append(valid, entry)
	}
	return valid, errs
}

// buildPoints converts validated entries into Qdrant point structs,
// preserving input order. Only call with validated entries.
func buildPoints(entries []*domain.VectorEntry) []*pb.PointStruct {
	points := make([]*pb.PointStruct, len(entries))
	for i, entry := range entries {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: entry.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: entry.Embedding},
				},
			},
			Payload: tagsToPayload(entry.Tags),
		}
	}
	return points
}

func tagsToPayload(tags map[string]string) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(tags))
	for k, v := range tags {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return payload
}

func payloadToTags(payload map[string]*pb.Value) map[string]string {
	tags := make(map[string]string, len(payload))
	for k, v := range payload {
		tags[k] = v.GetStringValue()
	}
	return tags
}

// hitsFromScoredPoints converts Qdrant scored points into QueryHits. The
// Qdrant cosine score is a similarity (higher is closer); hits carry the
// cosine distance instead, so ascending distance keeps the index's
// best-first order.
func hitsFromScoredPoints(points []*pb.ScoredPoint) []domain.QueryHit {
	hits := make([]domain.QueryHit, len(points))
	for i, scored := range points {
		hits[i] = domain.QueryHit{
			ID:         scored.GetId().GetUuid(),
			Tags:       payloadToTags(scored.GetPayload()),
			Similarity: 1 - scored.GetScore(),
		}
	}
	return hits
}

// withRetry runs op with bounded exponential backoff, then wraps the final
// failure as an unavailable-kind error.
func withRetry(ctx context.Context, msg string, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxStoreRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "%s", msg)
	}
	return nil
}

// Upsert writes a single entry and confirms the write by re-reading the
// point. Returns the identifier when it is retrievable afterwards, or an
// empty string when the acked write did not take.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - entry: validated-on-entry vector entry.
// Returns:
//   - string: the entry ID, or "" if not visible after the write.
//   - error: validation or unavailable kind.
func (r *VectorRepository) Upsert(ctx context.Context, entry *domain.VectorEntry) (string, error) {
	if err := validateEntry(entry); err != nil {
		return "", err
	}

	points := buildPoints([]*domain.VectorEntry{entry})
	err := withRetry(ctx, "failed to upsert point", func() error {
		_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: r.collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	existing, err := r.existingIDs(ctx, []string{entry.ID})
	if err != nil {
		return "", err
	}
	if !existing[entry.ID] {
		return "", nil
	}
	return entry.ID, nil
}

// BatchUpsert validates each entry individually, writes all valid entries
// in one underlying call, and reports a tagged result per input slot in
// input order. One invalid entry never fails the batch.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - entries: entries to write.
// Returns:
//   - []UpsertResult: one result per input entry, same order as input.
//   - error: non-nil only when the batched write or re-read fails as a whole.
func (r *VectorRepository) BatchUpsert(ctx context.Context, entries []*domain.VectorEntry) ([]UpsertResult, error) {
	results := make([]UpsertResult, len(entries))
	valid, errs := partitionEntries(entries)
	for i, err := range errs {
		results[i] = UpsertResult{Err: err}
	}
	if len(valid) == 0 {
		return results, nil
	}

	points := buildPoints(valid)
	err := withRetry(ctx, "failed to batch upsert points", func() error {
		_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: r.collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(valid))
	for i, entry := range valid {
		ids[i] = entry.ID
	}
	existing, err := r.existingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Fill valid slots in input order; slots already holding a validation
	// error keep it.
	vi := 0
	for i := range entries {
		if _, bad := errs[i]; bad {
			continue
		}
		id := valid[vi].ID
		vi++
		if existing[id] {
			results[i] = UpsertResult{ID: id}
		} else {
			results[i] = UpsertResult{Err: apperr.New(apperr.KindUnavailable, "point %s not visible after upsert", id)}
		}
	}
	return results, nil
}

// QuerySimilar finds the closest points to the given embedding, most
// similar first (ascending cosine distance). A result shorter than limit
// is not an error; the index may simply hold fewer points.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - embedding: query vector, validated before any network call.
//   - limit: maximum number of hits.
// Returns:
//   - []domain.QueryHit: hits ordered by ascending distance, length <= limit.
//   - error: validation or unavailable kind.
func (r *VectorRepository) QuerySimilar(ctx context.Context, embedding domain.Embedding, limit int) ([]domain.QueryHit, error) {
	if err := validateEmbedding(embedding); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, apperr.Validation("limit must be positive, got %d", limit)
	}

	var resp *pb.SearchResponse
	err := withRetry(ctx, "failed to query similar points", func() error {
		var err error
		resp, err = r.pointsClient.Search(ctx, r.searchRequest(embedding, limit))
		return err
	})
	if err != nil {
		return nil, err
	}

	return hitsFromScoredPoints(resp.GetResult()), nil
}

// BatchQuerySimilar runs one similarity query per embedding in a single
// batched call, returning one hit list per input in input order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - embeddings: query vectors; all validated before the network call.
//   - limit: maximum hits per query.
// Returns:
//   - [][]domain.QueryHit: hit lists aligned with embeddings by index.
//   - error: validation or unavailable kind.
func (r *VectorRepository) BatchQuerySimilar(ctx context.Context, embeddings []domain.Embedding, limit int) ([][]domain.QueryHit, error) {
	if limit <= 0 {
		return nil, apperr.Validation("limit must be positive, got %d", limit)
	}
	for i, embedding := range embeddings {
		if err := validateEmbedding(embedding); err != nil {
			return nil, apperr.Wrap(err, apperr.KindValidation, "embedding %d invalid", i)
		}
	}
	if len(embeddings) == 0 {
		return [][]domain.QueryHit{}, nil
	}

	searches := make([]*pb.SearchPoints, len(embeddings))
	for i, embedding := range embeddings {
		searches[i] = r.searchRequest(embedding, limit)
	}

	var resp *pb.SearchBatchResponse
	err := withRetry(ctx, "failed to batch query similar points", func() error {
		var err error
		resp, err = r.pointsClient.SearchBatch(ctx, &pb.SearchBatchPoints{
			CollectionName: r.collection,
			SearchPoints:   searches,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	batches := make([][]domain.QueryHit, len(embeddings))
	for i, result := range resp.GetResult() {
		if i >= len(batches) {
			break
		}
		batches[i] = hitsFromScoredPoints(result.GetResult())
	}
	return batches, nil
}

func (r *VectorRepository) searchRequest(embedding domain.Embedding, limit int) *pb.SearchPoints {
	return &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
}

// existingIDs re-reads the given point ids and reports which are
// retrievable. This is the read-after-write durability check.
func (r *VectorRepository) existingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	var resp *pb.GetResponse
	err := withRetry(ctx, "failed to verify upserted points", func() error {
		var err error
		resp, err = r.pointsClient.Get(ctx, &pb.GetPoints{
			CollectionName: r.collection,
			Ids:            pointIDs,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		existing[point.GetId().GetUuid()] = true
	}
	return existing, nil
}

// Ping verifies the collection is reachable, for health checks.
func (r *VectorRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	return err
}
