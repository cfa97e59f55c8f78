package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/brunobiangulo/papergraph/store"
)

// QdrantConfig configures the Qdrant vector sink.
type QdrantConfig struct {
	Addr       string `json:"addr" yaml:"addr" mapstructure:"addr"` // gRPC host:port
	Collection string `json:"collection" yaml:"collection" mapstructure:"collection"`
	Dimension  int    `json:"dimension" yaml:"dimension" mapstructure:"dimension"`
}

// pointNamespace derives stable point IDs from paper IDs.
var pointNamespace = uuid.MustParse("6f1c9a52-3d0e-4c57-9a8e-2b7d41e0c6a3")

// PointID returns the Qdrant point ID for a paper.
func PointID(paperID int64) string {
	return uuid.NewSHA1(pointNamespace, []byte(strconv.FormatInt(paperID, 10))).String()
}

// VectorSink stores abstract embeddings in a Qdrant collection. It
// implements store.VectorIndex for backends without native vectors.
type VectorSink struct {
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	cfg         QdrantConfig
}

var _ store.VectorIndex = (*VectorSink)(nil)

// NewVectorSink dials Qdrant and creates the collection when missing.
func NewVectorSink(ctx context.Context, cfg QdrantConfig) (*VectorSink, error) {
	if cfg.Collection == "" {
		cfg.Collection = "papers"
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant: embedding dimension must be positive")
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dialing qdrant at %s: %w", cfg.Addr, err)
	}
	v := &VectorSink{
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		cfg:         cfg,
	}
	if err := v.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return v, nil
}

// Close closes the gRPC connection.
func (v *VectorSink) Close() error {
	return v.conn.Close()
}

func (v *VectorSink) ensureCollection(ctx context.Context) error {
	resp, err := v.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: v.cfg.Collection})
	if err != nil {
		return fmt.Errorf("checking qdrant collection: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	_, err = v.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: v.cfg.Collection,
		VectorsConfig: &qdrant.VectorsConfig{Config: &qdrant.VectorsConfig_Params{
			Params: &qdrant.VectorParams{Size: uint64(v.cfg.Dimension), Distance: qdrant.Distance_Cosine},
		}},
	})
	if err != nil {
		return fmt.Errorf("creating qdrant collection %s: %w", v.cfg.Collection, err)
	}
	slog.Info("publish: created qdrant collection", "collection", v.cfg.Collection, "dimension", v.cfg.Dimension)
	return nil
}

// UpsertPapers stores one embedding per paper with its metadata as payload.
func (v *VectorSink) UpsertPapers(ctx context.Context, papers []store.Paper, embeddings [][]float32) error {
	if len(papers) != len(embeddings) {
		return fmt.Errorf("qdrant: %d papers but %d embeddings", len(papers), len(embeddings))
	}
	if len(papers) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(papers))
	for i, p := range papers {
		if len(embeddings[i]) != v.cfg.Dimension {
			return fmt.Errorf("qdrant: paper %d embedding has dimension %d, want %d", p.ID, len(embeddings[i]), v.cfg.Dimension)
		}
		points = append(points, paperPoint(p, embeddings[i]))
	}
	wait := true
	if _, err := v.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: v.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upserting %d qdrant points: %w", len(points), err)
	}
	return nil
}

// InsertPaperEmbedding stores a single embedding with only the paper ID as
// payload.
func (v *VectorSink) InsertPaperEmbedding(ctx context.Context, paperID int64, embedding []float32) error {
	return v.UpsertPapers(ctx, []store.Paper{{ID: paperID}}, [][]float32{embedding})
}

// SimilarToVector returns the k nearest papers. Only fields kept in the
// payload are set on each result's Paper.
func (v *VectorSink) SimilarToVector(ctx context.Context, embedding []float32, k int) ([]store.SearchResult, error) {
	return v.search(ctx, embedding, k, 0)
}

// SimilarPapers returns the k nearest neighbours of a stored paper,
// excluding the paper itself.
func (v *VectorSink) SimilarPapers(ctx context.Context, paperID int64, k int) ([]store.SearchResult, error) {
	resp, err := v.points.Get(ctx, &qdrant.GetPoints{
		CollectionName: v.cfg.Collection,
		Ids:            []*qdrant.PointId{pointID(paperID)},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("loading qdrant point for paper %d: %w", paperID, err)
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("paper %d has no embedding: %w", paperID, store.ErrNotFound)
	}
	vec := resp.GetResult()[0].GetVectors().GetVector().GetData()
	return v.search(ctx, vec, k, paperID)
}

func (v *VectorSink) search(ctx context.Context, vec []float32, k int, exclude int64) ([]store.SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	limit := uint64(k)
	if exclude != 0 {
		limit++
	}
	resp, err := v.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: v.cfg.Collection,
		Vector:         vec,
		Limit:          limit,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	var out []store.SearchResult
	for _, pt := range resp.GetResult() {
		res, ok := resultFromPayload(pt.GetPayload(), pt.GetScore())
		if !ok || res.Paper.ID == exclude {
			continue
		}
		out = append(out, res)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func pointID(paperID int64) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(paperID)}}
}

func paperPoint(p store.Paper, embedding []float32) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		"paper_id": {Kind: &qdrant.Value_IntegerValue{IntegerValue: p.ID}},
	}
	if p.ArxivID != "" {
		payload["arxiv_id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.ArxivID}}
	}
	if p.Title != "" {
		payload["title"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.Title}}
	}
	if p.PublishedDate != "" {
		payload["published"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.PublishedDate}}
	}
	return &qdrant.PointStruct{
		Id:      pointID(p.ID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: embedding}}},
		Payload: payload,
	}
}

func resultFromPayload(payload map[string]*qdrant.Value, score float32) (store.SearchResult, bool) {
	idVal, ok := payload["paper_id"]
	if !ok {
		return store.SearchResult{}, false
	}
	return store.SearchResult{
		Paper: store.Paper{
			ID:            idVal.GetIntegerValue(),
			ArxivID:       payload["arxiv_id"].GetStringValue(),
			Title:         payload["title"].GetStringValue(),
			PublishedDate: payload["published"].GetStringValue(),
		},
		Score: float64(score),
	}, true
}
