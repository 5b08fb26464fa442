package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/efebarandurmaz/vectordb/internal/coordinator"
	"github.com/efebarandurmaz/vectordb/internal/store"
)

const defaultSampleCount = 10

type createCollectionRequest struct {
	Name       string          `json:"name"`
	Dimensions int             `json:"dimensions"`
	IndexKind  store.IndexKind `json:"index_kind"`
}

type point struct {
	AssetID string    `json:"asset_id"`
	Vector  []float32 `json:"vector"`
}

type insertRequest struct {
	Points []point `json:"points"`
}

type insertResponse struct {
	IDs []string `json:"ids"`
}

type lookupRequest struct {
	Vectors [][]float32 `json:"vectors"`
	K       int         `json:"k"`
	Exact   bool        `json:"exact"`
}

type lookupResponse struct {
	Results []coordinator.QueryResult `json:"results"`
}

type collectionsResponse struct {
	Collections []coordinator.Collection `json:"collections"`
}

type samplesResponse struct {
	Points []store.Sample `json:"points"`
}

type partialDeleteResponse struct {
	Error  string                    `json:"error"`
	Result *coordinator.DeleteResult `json:"result"`
}

// handleCreateCollection handles POST /collections
func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	col, err := s.coord.CreateCollection(r.Context(), req.Name, req.Dimensions, req.IndexKind)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, col)
}

// handleListCollections handles GET /collections
func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.coord.ListCollections(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, collectionsResponse{Collections: cols})
}

// handleDescribeCollection handles GET /collections/{name}
func (s *Server) handleDescribeCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.coord.DescribeCollection(r.Context(), r.PathValue("name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, col)
}

// handleDeleteCollection handles DELETE /collections/{name}. A partial
// delete answers 500 with the per-store outcome.
func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.DeleteCollection(r.Context(), r.PathValue("name"))
	var partial *store.PartialDeleteError
	if errors.As(err, &partial) {
		s.logger.ErrorContext(r.Context(), "partial delete", "error", err, "request_id", RequestID(r.Context()))
		respondJSON(w, http.StatusInternalServerError, partialDeleteResponse{Error: err.Error(), Result: res})
		return
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleInsert handles PUT /collections/{name}/points
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	vectors := make([][]float32, len(req.Points))
	assets := make([]string, len(req.Points))
	for i, p := range req.Points {
		vectors[i] = p.Vector
		assets[i] = p.AssetID
	}

	fps, err := s.coord.Insert(r.Context(), r.PathValue("name"), vectors, assets)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	ids := make([]string, len(fps))
	for i, fp := range fps {
		ids[i] = strconv.FormatUint(fp, 10)
	}
	respondJSON(w, http.StatusOK, insertResponse{IDs: ids})
}

// handleGetPoint handles GET /collections/{name}/points/{id}
func (s *Server) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, r, &badRequestError{msg: "point id must be a decimal fingerprint"})
		return
	}
	p, err := s.coord.GetPoint(r.Context(), r.PathValue("name"), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handlePointsWithAsset handles GET /collections/{name}/assets/{asset}/points
func (s *Server) handlePointsWithAsset(w http.ResponseWriter, r *http.Request) {
	samples, err := s.coord.PointsWithAsset(r.Context(), r.PathValue("name"), r.PathValue("asset"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, samplesResponse{Points: orEmpty(samples)})
}

// handleLookup handles POST /collections/{name}/lookup
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	results, err := s.coord.Lookup(r.Context(), r.PathValue("name"), req.Vectors, req.K, req.Exact)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lookupResponse{Results: results})
}

// handleSample handles GET /collections/{name}/sample?count=&offset=
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", defaultSampleCount)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	samples, err := s.coord.Sample(r.Context(), r.PathValue("name"), count, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, samplesResponse{Points: orEmpty(samples)})
}

// handleIntegrity handles GET /integrity
func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.checker.Check(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.OK {
		status = http.StatusConflict
	}
	respondJSON(w, status, report)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &badRequestError{msg: key + " must be an integer"}
	}
	return n, nil
}

func orEmpty(samples []store.Sample) []store.Sample {
	if samples == nil {
		return []store.Sample{}
	}
	return samples
}
