// Package qdrant implements the index store on Qdrant over gRPC.
//
// Each collection is a Qdrant collection of the same name using Euclidean
// distance. Point ids are the vector fingerprints. Upserts wait for the write
// to be applied, so inserted vectors are searchable on return and Flush has
// nothing left to do.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/efebarandurmaz/vectordb/internal/retry"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

const storeName = "qdrant"

// Config holds connection settings.
type Config struct {
	Host         string
	Port         int
	Retry        retry.Policy
	ConnectRetry retry.Policy
}

// Store is an IndexStore backed by Qdrant.
type Store struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	health      pb.QdrantClient
	retrier     *retry.Retrier
	logger      *slog.Logger
}

// Open dials Qdrant and waits for it to report healthy. An index that stays
// unreachable for the whole connect budget is an error the caller should
// treat as fatal.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	s := newStore(pb.NewCollectionsClient(conn), pb.NewPointsClient(conn), pb.NewQdrantClient(conn),
		retry.New(storeName, cfg.Retry, IsTransient, logger), logger)
	s.conn = conn

	connect := retry.New(storeName, cfg.ConnectRetry, IsTransient, logger)
	if err := connect.Exec(ctx, "connect", s.healthCheck); err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdrant %s: %w", addr, err)
	}
	logger.Info("connected to index store", "backend", storeName, "addr", addr)
	return s, nil
}

func newStore(collections pb.CollectionsClient, points pb.PointsClient, health pb.QdrantClient, retrier *retry.Retrier, logger *slog.Logger) *Store {
	return &Store{
		collections: collections,
		points:      points,
		health:      health,
		retrier:     retrier,
		logger:      logger,
	}
}

func (s *Store) healthCheck(ctx context.Context) error {
	_, err := s.health.HealthCheck(ctx, &pb.HealthCheckRequest{})
	return err
}

func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	return retry.Do(ctx, s.retrier, "table_exists", func(ctx context.Context) (bool, error) {
		resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
		if err != nil {
			return false, err
		}
		return resp.GetResult().GetExists(), nil
	})
}

// hnswConfig maps an index kind onto Qdrant's only index type. Qdrant has no
// inverted-file indexes.
func hnswConfig(kind store.IndexKind) (*pb.HnswConfigDiff, error) {
	switch kind {
	case store.IndexFlat:
		// m=0 disables the graph; searches scan every point.
		return &pb.HnswConfigDiff{M: ptr(uint64(0))}, nil
	case store.IndexHNSW:
		return nil, nil
	case store.IndexIVFFlat, store.IndexIVFSQ8, store.IndexIVFPQ:
		return nil, fmt.Errorf("%w: index kind %q is not supported by %s", store.ErrArgument, kind, storeName)
	}
	return nil, fmt.Errorf("%w: unknown index kind %q", store.ErrArgument, kind)
}

func (s *Store) CreateTable(ctx context.Context, name string, dims int, kind store.IndexKind) error {
	if dims <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", store.ErrArgument, dims)
	}
	hnsw, err := hnswConfig(kind)
	if err != nil {
		return err
	}
	req := &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Euclid},
		}},
		HnswConfig: hnsw,
	}
	return s.retrier.Exec(ctx, "create_table", func(ctx context.Context) error {
		_, err := s.collections.Create(ctx, req)
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("index table %q: %w", name, store.ErrAlreadyExists)
		}
		return err
	})
}

func (s *Store) DeleteTable(ctx context.Context, name string) error {
	return s.retrier.Exec(ctx, "delete_table", func(ctx context.Context) error {
		_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	})
}

func (s *Store) Insert(ctx context.Context, name string, vectors [][]float32, ids []uint64) ([]uint64, error) {
	if len(vectors) != len(ids) {
		return nil, fmt.Errorf("%w: %d vectors, %d ids", store.ErrArgument, len(vectors), len(ids))
	}
	points := make([]*pb.PointStruct, len(vectors))
	for i, v := range vectors {
		points[i] = &pb.PointStruct{
			Id:      pointID(ids[i]),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: v}}},
		}
	}
	req := &pb.UpsertPoints{
		CollectionName: name,
		Wait:           ptr(true),
		Points:         points,
	}
	err := s.retrier.Exec(ctx, "insert", func(ctx context.Context) error {
		_, err := s.points.Upsert(ctx, req)
		return notFound(name, err)
	})
	if err != nil {
		return nil, err
	}
	return append([]uint64(nil), ids...), nil
}

func (s *Store) Search(ctx context.Context, name string, queries [][]float32, k int) ([][]store.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", store.ErrArgument, k)
	}
	if len(queries) == 0 {
		return [][]store.Hit{}, nil
	}
	batch := make([]*pb.SearchPoints, len(queries))
	for i, q := range queries {
		batch[i] = &pb.SearchPoints{
			CollectionName: name,
			Vector:         q,
			Limit:          uint64(k),
		}
	}
	resp, err := retry.Do(ctx, s.retrier, "search", func(ctx context.Context) (*pb.SearchBatchResponse, error) {
		resp, err := s.points.SearchBatch(ctx, &pb.SearchBatchPoints{CollectionName: name, SearchPoints: batch})
		return resp, notFound(name, err)
	})
	if err != nil {
		return nil, err
	}
	results := resp.GetResult()
	if len(results) != len(queries) {
		return nil, fmt.Errorf("qdrant search %s: %d results for %d queries", name, len(results), len(queries))
	}
	out := make([][]store.Hit, len(results))
	for i, r := range results {
		hits := make([]store.Hit, len(r.GetResult()))
		for j, p := range r.GetResult() {
			// Euclid scores are distances, smallest first.
			hits[j] = store.Hit{ID: p.GetId().GetNum(), Distance: p.GetScore()}
		}
		out[i] = hits
	}
	return out, nil
}

func (s *Store) DescribeTable(ctx context.Context, name string) (store.IndexInfo, error) {
	resp, err := retry.Do(ctx, s.retrier, "describe", func(ctx context.Context) (*pb.GetCollectionInfoResponse, error) {
		resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
		return resp, notFound(name, err)
	})
	if err != nil {
		return store.IndexInfo{}, err
	}
	return describe(resp.GetResult()), nil
}

func describe(info *pb.CollectionInfo) store.IndexInfo {
	cfg := info.GetConfig()
	params := cfg.GetParams().GetVectorsConfig().GetParams()
	hnsw := cfg.GetHnswConfig()

	kind := store.IndexHNSW
	if hnsw.GetM() == 0 {
		kind = store.IndexFlat
	}
	return store.IndexInfo{
		Dims:     int(params.GetSize()),
		Metric:   params.GetDistance().String(),
		RowCount: int64(info.GetPointsCount()),
		Kind:     kind,
		Params: map[string]string{
			"m":            strconv.FormatUint(hnsw.GetM(), 10),
			"ef_construct": strconv.FormatUint(hnsw.GetEfConstruct(), 10),
			"status":       info.GetStatus().String(),
		},
	}
}

// Flush is a no-op: upserts already wait for the write to be applied.
func (s *Store) Flush(context.Context, string) error { return nil }

func (s *Store) GetVectorByID(ctx context.Context, name string, id uint64) ([]float32, error) {
	resp, err := retry.Do(ctx, s.retrier, "get_vector", func(ctx context.Context) (*pb.GetResponse, error) {
		resp, err := s.points.Get(ctx, &pb.GetPoints{
			CollectionName: name,
			Ids:            []*pb.PointId{pointID(id)},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		return resp, notFound(name, err)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetResult()) == 0 {
		return nil, fmt.Errorf("point %d in %q: %w", id, name, store.ErrNotFound)
	}
	return resp.GetResult()[0].GetVectors().GetVector().GetData(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.healthCheck(ctx)
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func pointID(id uint64) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: id}}
}

func notFound(name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return store.NotFound(name)
	}
	return err
}

func ptr[T any](v T) *T { return &v }

// IsTransient reports whether a gRPC error is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		return true
	}
	return false
}

var _ store.IndexStore = (*Store)(nil)
