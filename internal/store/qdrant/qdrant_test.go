package qdrant

import (
	"context"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/efebarandurmaz/vectordb/internal/retry"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

type fakeCollections struct {
	pb.CollectionsClient
	created   []*pb.CreateCollection
	createErr error
	deleteErr error
	info      *pb.CollectionInfo
	getErr    error
	exists    bool
}

func (f *fakeCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = append(f.created, in)
	return &pb.CollectionOperationResponse{Result: true}, f.createErr
}

func (f *fakeCollections) Delete(context.Context, *pb.DeleteCollection, ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return &pb.CollectionOperationResponse{Result: f.deleteErr == nil}, f.deleteErr
}

func (f *fakeCollections) Get(context.Context, *pb.GetCollectionInfoRequest, ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &pb.GetCollectionInfoResponse{Result: f.info}, nil
}

func (f *fakeCollections) CollectionExists(context.Context, *pb.CollectionExistsRequest, ...grpc.CallOption) (*pb.CollectionExistsResponse, error) {
	return &pb.CollectionExistsResponse{Result: &pb.CollectionExists{Exists: f.exists}}, nil
}

type fakePoints struct {
	pb.PointsClient
	upserts     []*pb.UpsertPoints
	upsertErrs  []error
	searchResp  *pb.SearchBatchResponse
	searchCalls int
	getResp     *pb.GetResponse
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, in)
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		return nil, err
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) SearchBatch(context.Context, *pb.SearchBatchPoints, ...grpc.CallOption) (*pb.SearchBatchResponse, error) {
	f.searchCalls++
	return f.searchResp, nil
}

func (f *fakePoints) Get(context.Context, *pb.GetPoints, ...grpc.CallOption) (*pb.GetResponse, error) {
	return f.getResp, nil
}

type fakeHealth struct {
	pb.QdrantClient
	err error
}

func (f *fakeHealth) HealthCheck(context.Context, *pb.HealthCheckRequest, ...grpc.CallOption) (*pb.HealthCheckReply, error) {
	return &pb.HealthCheckReply{Title: "qdrant"}, f.err
}

func newTestStore(c *fakeCollections, p *fakePoints) *Store {
	r := retry.New(storeName, retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}, IsTransient, nil)
	return newStore(c, p, &fakeHealth{}, r, nil)
}

func TestHnswConfig(t *testing.T) {
	flat, err := hnswConfig(store.IndexFlat)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), flat.GetM())

	hnsw, err := hnswConfig(store.IndexHNSW)
	require.NoError(t, err)
	assert.Nil(t, hnsw)

	for _, kind := range []store.IndexKind{store.IndexIVFFlat, store.IndexIVFSQ8, store.IndexIVFPQ, "bogus"} {
		_, err := hnswConfig(kind)
		assert.ErrorIs(t, err, store.ErrArgument, string(kind))
	}
}

func TestCreateTable(t *testing.T) {
	c := &fakeCollections{}
	s := newTestStore(c, &fakePoints{})

	require.NoError(t, s.CreateTable(context.Background(), "faces", 128, store.IndexFlat))
	require.Len(t, c.created, 1)
	params := c.created[0].GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(128), params.GetSize())
	assert.Equal(t, pb.Distance_Euclid, params.GetDistance())

	err := s.CreateTable(context.Background(), "ivf", 4, store.IndexIVFPQ)
	assert.ErrorIs(t, err, store.ErrArgument)
	assert.Len(t, c.created, 1, "unsupported kinds never reach the server")
}

func TestCreateTable_AlreadyExists(t *testing.T) {
	c := &fakeCollections{createErr: status.Error(codes.AlreadyExists, "exists")}
	err := newTestStore(c, &fakePoints{}).CreateTable(context.Background(), "faces", 4, store.IndexHNSW)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestDeleteTable_AbsentIsNotAnError(t *testing.T) {
	c := &fakeCollections{deleteErr: status.Error(codes.NotFound, "missing")}
	assert.NoError(t, newTestStore(c, &fakePoints{}).DeleteTable(context.Background(), "faces"))
}

func TestInsert_WaitsAndUsesNumericIDs(t *testing.T) {
	p := &fakePoints{}
	s := newTestStore(&fakeCollections{}, p)

	ids, err := s.Insert(context.Background(), "faces", [][]float32{{1, 2}, {3, 4}}, []uint64{7, 9})
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 9}, ids)

	require.Len(t, p.upserts, 1)
	req := p.upserts[0]
	assert.True(t, req.GetWait())
	require.Len(t, req.GetPoints(), 2)
	assert.Equal(t, uint64(9), req.GetPoints()[1].GetId().GetNum())
}

func TestInsert_RetriesUnavailable(t *testing.T) {
	p := &fakePoints{upsertErrs: []error{status.Error(codes.Unavailable, "connection refused")}}
	s := newTestStore(&fakeCollections{}, p)

	_, err := s.Insert(context.Background(), "faces", [][]float32{{1}}, []uint64{1})
	require.NoError(t, err)
	assert.Len(t, p.upserts, 2)
}

func TestInsert_ExhaustsBudget(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "connection refused")
	p := &fakePoints{upsertErrs: []error{unavailable, unavailable, unavailable}}
	s := newTestStore(&fakeCollections{}, p)

	_, err := s.Insert(context.Background(), "faces", [][]float32{{1}}, []uint64{1})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Len(t, p.upserts, 3)
}

func TestInsert_MissingCollection(t *testing.T) {
	p := &fakePoints{upsertErrs: []error{status.Error(codes.NotFound, "no collection")}}
	_, err := newTestStore(&fakeCollections{}, p).Insert(context.Background(), "faces", [][]float32{{1}}, []uint64{1})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, p.upserts, 1)
}

func TestSearch_OneBatchCall(t *testing.T) {
	p := &fakePoints{searchResp: &pb.SearchBatchResponse{Result: []*pb.BatchResult{
		{Result: []*pb.ScoredPoint{
			{Id: pointID(3), Score: 0.1},
			{Id: pointID(5), Score: 0.7},
		}},
		{Result: []*pb.ScoredPoint{}},
	}}}
	s := newTestStore(&fakeCollections{}, p)

	hits, err := s.Search(context.Background(), "faces", [][]float32{{0, 0}, {1, 1}}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, p.searchCalls)
	require.Len(t, hits, 2)
	assert.Equal(t, []store.Hit{{ID: 3, Distance: 0.1}, {ID: 5, Distance: 0.7}}, hits[0])
	assert.Empty(t, hits[1])

	_, err = s.Search(context.Background(), "faces", [][]float32{{0, 0}}, 0)
	assert.ErrorIs(t, err, store.ErrArgument)
}

func TestDescribeTable(t *testing.T) {
	c := &fakeCollections{info: &pb.CollectionInfo{
		Status:      pb.CollectionStatus_Green,
		PointsCount: ptr(uint64(3)),
		Config: &pb.CollectionConfig{
			Params: &pb.CollectionParams{VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: 4, Distance: pb.Distance_Euclid},
			}}},
			HnswConfig: &pb.HnswConfigDiff{M: ptr(uint64(0)), EfConstruct: ptr(uint64(100))},
		},
	}}
	info, err := newTestStore(c, &fakePoints{}).DescribeTable(context.Background(), "faces")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Dims)
	assert.Equal(t, "Euclid", info.Metric)
	assert.Equal(t, int64(3), info.RowCount)
	assert.Equal(t, store.IndexFlat, info.Kind)
	assert.Equal(t, "100", info.Params["ef_construct"])
}

func TestDescribeTable_NotFound(t *testing.T) {
	c := &fakeCollections{getErr: status.Error(codes.NotFound, "missing")}
	_, err := newTestStore(c, &fakePoints{}).DescribeTable(context.Background(), "faces")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetVectorByID_Missing(t *testing.T) {
	p := &fakePoints{getResp: &pb.GetResponse{}}
	_, err := newTestStore(&fakeCollections{}, p).GetVectorByID(context.Background(), "faces", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTableExists(t *testing.T) {
	ok, err := newTestStore(&fakeCollections{exists: true}, &fakePoints{}).TableExists(context.Background(), "faces")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(status.Error(codes.Unavailable, "")))
	assert.True(t, IsTransient(status.Error(codes.ResourceExhausted, "")))
	assert.False(t, IsTransient(status.Error(codes.InvalidArgument, "")))
	assert.False(t, IsTransient(store.NotFound("faces")))
}
