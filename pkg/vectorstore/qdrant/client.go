// Package qdrant implements the vectorstore.Store interface over the
// Qdrant gRPC API with named dense+sparse vectors and RRF fusion.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/docsage/docsage/pkg/types"
	"github.com/docsage/docsage/pkg/vectorstore"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	// Upsert batch size.
	insertBatchSize = 64
)

// Config holds Qdrant connection configuration.
type Config struct {
	// Host is the Qdrant host (required)
	Host string

	// GRPCPort is the gRPC port (default: 6334)
	GRPCPort int

	// Collection is the collection name (default: documents)
	Collection string

	// APIKey is sent as gRPC metadata when set
	APIKey string

	// UseTLS enables TLS for the connection
	UseTLS bool

	// Timeout bounds individual RPCs
	Timeout time.Duration
}

// Client implements vectorstore.Store for Qdrant.
type Client struct {
	cfg         Config
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// NewClient creates a new Qdrant store client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required: %w", vectorstore.ErrUnavailable)
	}
	if cfg.GRPCPort <= 0 {
		cfg.GRPCPort = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var opts []grpc.DialOption
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.GRPCPort)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, vectorstore.ErrUnavailable)
	}

	return &Client{
		cfg:         cfg,
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// EnsureCollection idempotently creates the collection with a 384-dim
// COSINE dense vector, a sparse vector, and INT8 scalar quantization.
func (c *Client) EnsureCollection(ctx context.Context) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	info, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: c.cfg.Collection,
	})
	if err == nil && info.GetResult() != nil {
		return nil
	}

	quantile := float32(0.99)
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: c.cfg.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{
					Map: map[string]*pb.VectorParams{
						denseVectorName: {
							Size:     uint64(types.DenseDimension),
							Distance: pb.Distance_Cosine,
						},
					},
				},
			},
		},
		SparseVectorsConfig: pb.NewSparseVectorsConfig(map[string]*pb.SparseVectorParams{
			sparseVectorName: {},
		}),
		QuantizationConfig: &pb.QuantizationConfig{
			Quantization: &pb.QuantizationConfig_Scalar{
				Scalar: &pb.ScalarQuantization{
					Type:     pb.QuantizationType_Int8,
					Quantile: &quantile,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("collection create failed: %w", vectorstore.ErrUnavailable)
	}
	return nil
}

// Query performs hybrid RRF fusion search over dense and sparse
// prefetches.
func (c *Client) Query(ctx context.Context, vector types.HybridVector, limit int, filter types.FilterContext) ([]types.ScoredPoint, error) {
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	prefetchLimit := uint64(limit)
	qdrantFilter := buildFilter(filter)

	denseName := denseVectorName
	sparseName := sparseVectorName

	req := &pb.QueryPoints{
		CollectionName: c.cfg.Collection,
		Prefetch: []*pb.PrefetchQuery{
			{
				Query:  pb.NewQueryDense(vector.Dense),
				Using:  &denseName,
				Limit:  &prefetchLimit,
				Filter: qdrantFilter,
			},
			{
				Query: &pb.Query{
					Variant: &pb.Query_Nearest{
						Nearest: &pb.VectorInput{
							Variant: &pb.VectorInput_Sparse{
								Sparse: &pb.SparseVector{
									Values:  vector.Sparse.Values,
									Indices: vector.Sparse.Indices,
								},
							},
						},
					},
				},
				Using:  &sparseName,
				Limit:  &prefetchLimit,
				Filter: qdrantFilter,
			},
		},
		Query:       pb.NewQueryFusion(pb.Fusion_RRF),
		Limit:       &prefetchLimit,
		WithPayload: pb.NewWithPayload(true),
	}

	resp, err := c.points.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("hybrid query failed: %w", err)
	}

	results := make([]types.ScoredPoint, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		sp := types.ScoredPoint{Score: point.GetScore()}
		sp.ID = pointIDString(point.GetId())
		sp.Payload = payloadToChunk(point.GetPayload())
		results = append(results, sp)
	}
	return results, nil
}

// Retrieve fetches points by ID with payload and vectors. Missing IDs
// are silently omitted.
func (c *Client) Retrieve(ctx context.Context, ids []string) ([]types.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	resp, err := c.points.Get(ctx, &pb.GetPoints{
		CollectionName: c.cfg.Collection,
		Ids:            pointIDs,
		WithPayload:    pb.NewWithPayload(true),
		WithVectors:    pb.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve failed: %w", err)
	}

	points := make([]types.Point, 0, len(resp.GetResult()))
	for _, rp := range resp.GetResult() {
		p := types.Point{
			ID:      pointIDString(rp.GetId()),
			Payload: payloadToChunk(rp.GetPayload()),
			Vector:  vectorsToHybrid(rp.GetVectors()),
		}
		points = append(points, p)
	}
	return points, nil
}

// Insert upserts points in batches of 64.
func (c *Client) Insert(ctx context.Context, points []types.Point) error {
	wait := true

	for start := 0; start < len(points); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(points) {
			end = len(points)
		}

		batch := make([]*pb.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			batch = append(batch, &pb.PointStruct{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
				Vectors: pb.NewVectorsMap(map[string]*pb.Vector{
					denseVectorName: pb.NewVectorDense(p.Vector.Dense),
					sparseVectorName: {
						Data:    p.Vector.Sparse.Values,
						Indices: &pb.SparseIndices{Data: p.Vector.Sparse.Indices},
					},
				}),
				Payload: chunkToPayload(p.Payload),
			})
		}

		batchCtx, cancel := c.callContext(ctx)
		_, err := c.points.Upsert(batchCtx, &pb.UpsertPoints{
			CollectionName: c.cfg.Collection,
			Points:         batch,
			Wait:           &wait,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("upsert failed: %w", vectorstore.ErrWriteFailed)
		}
	}
	return nil
}

// DeleteOld removes all points where source matches and ingested_at is
// older than the timestamp.
func (c *Client) DeleteOld(ctx context.Context, source string, timestamp int64) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	wait := true
	lt := float64(timestamp)

	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: c.cfg.Collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						keywordCondition("source", source),
						{
							ConditionOneOf: &pb.Condition_Field{
								Field: &pb.FieldCondition{
									Key:   "ingested_at",
									Range: &pb.Range{Lt: &lt},
								},
							},
						},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete old points failed: %w", vectorstore.ErrWriteFailed)
	}
	return nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// callContext applies the configured timeout and API key metadata.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.APIKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", c.cfg.APIKey)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// buildFilter converts a FilterContext to a Qdrant filter. Returns nil
// when no filter is set.
func buildFilter(filter types.FilterContext) *pb.Filter {
	if filter.IsZero() {
		return nil
	}

	var conditions []*pb.Condition
	if filter.Domain != "" {
		conditions = append(conditions, keywordCondition("domain", filter.Domain))
	}
	if filter.Topic != "" {
		conditions = append(conditions, keywordCondition("topic", filter.Topic))
	}

	return &pb.Filter{Must: conditions}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// pointIDString extracts the string form of a point ID.
func pointIDString(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *pb.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	case *pb.PointId_Uuid:
		return v.Uuid
	}
	return ""
}

// chunkToPayload converts chunk metadata to a Qdrant payload.
func chunkToPayload(c types.Chunk) map[string]*pb.Value {
	return map[string]*pb.Value{
		"text":        {Kind: &pb.Value_StringValue{StringValue: c.Text}},
		"source":      {Kind: &pb.Value_StringValue{StringValue: c.Source}},
		"domain":      {Kind: &pb.Value_StringValue{StringValue: c.Domain}},
		"topic":       {Kind: &pb.Value_StringValue{StringValue: c.Topic}},
		"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.ChunkIndex)}},
		"ingested_at": {Kind: &pb.Value_IntegerValue{IntegerValue: c.IngestedAt}},
	}
}

// payloadToChunk converts a Qdrant payload back to chunk metadata.
func payloadToChunk(payload map[string]*pb.Value) types.Chunk {
	var c types.Chunk
	if payload == nil {
		return c
	}

	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["source"]; ok {
		c.Source = v.GetStringValue()
	}
	if v, ok := payload["domain"]; ok {
		c.Domain = v.GetStringValue()
	}
	if v, ok := payload["topic"]; ok {
		c.Topic = v.GetStringValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		c.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["ingested_at"]; ok {
		c.IngestedAt = v.GetIntegerValue()
	}
	return c
}

// vectorsToHybrid extracts named dense and sparse vectors from a
// retrieved point.
func vectorsToHybrid(out *pb.VectorsOutput) types.HybridVector {
	var hv types.HybridVector
	if out == nil {
		return hv
	}

	named := out.GetVectors()
	if named == nil {
		return hv
	}

	if dense, ok := named.GetVectors()[denseVectorName]; ok {
		hv.Dense = dense.GetData()
	}
	if sparse, ok := named.GetVectors()[sparseVectorName]; ok {
		hv.Sparse = types.SparseVector{
			Values:  sparse.GetData(),
			Indices: sparse.GetIndices().GetData(),
		}
	}
	return hv
}
