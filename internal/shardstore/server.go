package shardstore

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/vderr"
	"github.com/dreamware/vectorshard/internal/wire"
)

// Server exposes a Node over the HTTP wire protocol internal/shardclient
// speaks. Endpoints are dispatched with plain mux.HandleFunc registration
// and manual path parsing, rather than Go 1.22 pattern routing, for
// consistency with the rest of this codebase.
type Server struct {
	node   *Node
	logger *zap.SugaredLogger
	mux    *http.ServeMux
}

// NewServer builds the HTTP handler for node.
func NewServer(node *Node, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{node: node, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.mux.HandleFunc("/databases", s.handleDatabases)
	s.mux.HandleFunc("/databases/", s.handleDatabaseScoped)
}

// handleDatabases handles POST (create) and GET (list) on /databases.
func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Dimension int    `json:"dimension"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := s.node.CreateDatabase(req.ID, req.Name, req.Dimension); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		writeJSON(w, s.node.ListDatabases())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDatabaseScoped dispatches every /databases/{databaseId}/... route.
// The path is split manually rather than matched with a router library.
func (s *Server) handleDatabaseScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/databases/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	databaseID, op := parts[0], parts[1]

	switch {
	case op == "drop" && r.Method == http.MethodPost:
		s.handleDropDatabase(w, databaseID)
	case op == "vectors" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleAddVector(w, r, databaseID)
	case op == "vectors" && len(parts) == 4 && parts[2] == "batch" && parts[3] == "delete" && r.Method == http.MethodPost:
		s.handleDeleteBatch(w, r, databaseID)
	case op == "vectors" && len(parts) == 3 && parts[2] == "batch" && r.Method == http.MethodPost:
		s.handlePutBatch(w, r, databaseID)
	case op == "vectors" && len(parts) == 4 && parts[3] == "delete" && r.Method == http.MethodPost:
		s.handleDeleteVector(w, databaseID, parts[2])
	case op == "vectors" && len(parts) == 3 && r.Method == http.MethodGet:
		s.handleGetVector(w, databaseID, parts[2])
	case op == "search" && r.Method == http.MethodPost:
		s.handleSearch(w, r, databaseID)
	case op == "scan" && r.Method == http.MethodPost:
		s.handleScanRange(w, r, databaseID)
	case op == "replicas" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleAddReplica(w, r, databaseID)
	case op == "replicas" && len(parts) == 3 && parts[2] == "search" && r.Method == http.MethodPost:
		s.handleSearchReplicas(w, r, databaseID)
	case op == "replicas" && len(parts) == 5 && parts[4] == "delete" && r.Method == http.MethodPost:
		s.handleDeleteReplica(w, databaseID, parts[2], parts[3])
	case op == "replicas" && len(parts) == 4 && r.Method == http.MethodGet:
		s.handleGetReplica(w, databaseID, parts[2], parts[3])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleDropDatabase(w http.ResponseWriter, databaseID string) {
	if err := s.node.DropDatabase(databaseID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddVector(w http.ResponseWriter, r *http.Request, databaseID string) {
	var req struct {
		Vector model.VectorRecord `json:"vector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if req.Vector.CreatedAt.IsZero() {
		req.Vector.CreatedAt = time.Now()
	}
	if err := coll.AddVector(req.Vector); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]int64{"id": req.Vector.ID})
}

func (s *Server) handleGetVector(w http.ResponseWriter, databaseID, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, err := coll.GetVector(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleDeleteVector(w http.ResponseWriter, databaseID, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := coll.DeleteVector(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, databaseID string) {
	var req struct {
		Probe []float32 `json:"probe"`
		K     int       `json:"k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	results, err := coll.Search(req.Probe, req.K)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSearchResults(w, r, results)
}

func (s *Server) handleScanRange(w http.ResponseWriter, r *http.Request, databaseID string) {
	var req struct {
		FromExclusive int64 `json:"fromExclusive"`
		ToInclusive   int64 `json:"toInclusive"`
		Limit         int   `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, coll.ScanRange(req.FromExclusive, req.ToInclusive, req.Limit))
}

func (s *Server) handlePutBatch(w http.ResponseWriter, r *http.Request, databaseID string) {
	var recs []model.VectorRecord
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	coll.PutBatch(recs)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request, databaseID string) {
	var ids []int64
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	coll.DeleteBatch(ids)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddReplica(w http.ResponseWriter, r *http.Request, databaseID string) {
	var req struct {
		Vector        model.VectorRecord `json:"vector"`
		SourceShardID string             `json:"sourceShardId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	coll.AddReplica(req.Vector, req.SourceShardID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReplica(w http.ResponseWriter, databaseID, sourceShardID, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, err := coll.GetReplica(id, sourceShardID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleDeleteReplica(w http.ResponseWriter, databaseID, sourceShardID, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := coll.DeleteReplica(id, sourceShardID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchReplicas(w http.ResponseWriter, r *http.Request, databaseID string) {
	var req struct {
		Probe         []float32 `json:"probe"`
		K             int       `json:"k"`
		SourceShardID string    `json:"sourceShardId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	coll, err := s.node.Collection(databaseID)
	if err != nil {
		writeErr(w, err)
		return
	}
	results, err := coll.SearchReplicas(req.Probe, req.K, req.SourceShardID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeSearchResults(w, r, results)
}

// writeSearchResults negotiates the binary wire format via Accept,
// falling back to plain JSON for clients that don't ask for it.
func writeSearchResults(w http.ResponseWriter, r *http.Request, results []wire.Result) {
	if r.Header.Get("Accept") == wire.ContentType {
		w.Header().Set("Content-Type", wire.ContentType)
		if err := wire.EncodeResults(w, results); err != nil {
			http.Error(w, fmt.Sprintf("encode results: %v", err), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, results)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	switch vderr.KindOf(err) {
	case vderr.NotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case vderr.Conflict:
		http.Error(w, err.Error(), http.StatusConflict)
	case vderr.DimensionMismatch:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
