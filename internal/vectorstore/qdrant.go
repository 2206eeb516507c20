// Package vectorstore provides the Qdrant backend for the semantic archive.
package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nidhogg/mnemosyne/internal/archive"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already
// exist, configured for cosine distance at the given dimension.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert inserts or updates a single point in the given collection.
func (c *Client) Upsert(ctx context.Context, collection, id string, vector []float32) error {
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
			},
		},
	})
	return err
}

// Search performs a nearest-neighbor search and returns the top-K hits.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]archive.Hit, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	hits := make([]archive.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, archive.Hit{
			ID:    r.Id.GetUuid(),
			Score: float64(r.Score),
		})
	}
	return hits, nil
}

// Delete removes a single point from the given collection.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete point %s: %w", id, err)
	}
	return nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// CollectionIndex binds a Client to one collection so it satisfies the
// archive's Index interface.
type CollectionIndex struct {
	client     *Client
	collection string
}

// NewCollectionIndex wraps the client for a single collection.
func NewCollectionIndex(client *Client, collection string) *CollectionIndex {
	return &CollectionIndex{client: client, collection: collection}
}

func (ci *CollectionIndex) Upsert(ctx context.Context, id string, vector []float32) error {
	return ci.client.Upsert(ctx, ci.collection, id, vector)
}

func (ci *CollectionIndex) Search(ctx context.Context, vector []float32, topK int) ([]archive.Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	return ci.client.Search(ctx, ci.collection, vector, uint64(topK))
}

func (ci *CollectionIndex) Delete(ctx context.Context, id string) error {
	return ci.client.Delete(ctx, ci.collection, id)
}
