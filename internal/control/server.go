// Package control implements the operator-facing HTTP surface for
// reading and replacing the cluster config. A PUT that grows the shard
// set triggers the resharding engine in the background; the request
// itself returns as soon as the new config is durably written — there
// is no distributed commit, migration progress is observed separately
// rather than by blocking the request until it completes.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dreamware/vectorshard/internal/model"
)

// ConfigStore is the subset of clusterconfig.Store the control surface
// needs. Accepting an interface keeps Server testable without a live
// ZooKeeper session.
type ConfigStore interface {
	Current() model.ClusterConfig
	Update(ctx context.Context, cfg model.ClusterConfig) error
}

// Resharder runs the add-shard migration workflow. *reshard.Engine
// satisfies this; tests can supply a fake to assert it was invoked with
// the right before/after configs without running real migrations.
type Resharder interface {
	Run(ctx context.Context, oldCfg, newCfg model.ClusterConfig, databases []model.DatabaseDescriptor) error
}

// DatabaseLister supplies the known-database list a resharding run needs
// for its create_database / scan_range steps.
type DatabaseLister func(ctx context.Context) ([]model.DatabaseDescriptor, error)

// Server is the control-surface HTTP handler.
type Server struct {
	store     ConfigStore
	reshard   Resharder
	databases DatabaseLister
	logger    *zap.SugaredLogger
	mux       *http.ServeMux
}

// Options configures a Server.
type Options struct {
	Logger *zap.SugaredLogger
}

// New builds the control surface over store, triggering reshard on
// every config update that grows the shard set. databases is consulted
// after every successful update, before the resharding engine checks
// whether any shard was added.
func New(store ConfigStore, reshard Resharder, databases DatabaseLister, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{store: store, reshard: reshard, databases: databases, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/config", s.handleConfig)
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetConfig(w)
	case http.MethodPut:
		s.handlePutConfig(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter) {
	cfg := s.store.Current()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var newCfg model.ClusterConfig
	if err := json.NewDecoder(r.Body).Decode(&newCfg); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := validate(newCfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	oldCfg := s.store.Current()
	if err := s.store.Update(r.Context(), newCfg); err != nil {
		http.Error(w, fmt.Sprintf("update failed: %v", err), http.StatusInternalServerError)
		return
	}

	go s.triggerReshard(oldCfg, newCfg)

	w.WriteHeader(http.StatusNoContent)
}

// triggerReshard runs off the request's context: a migration can take
// far longer than any one HTTP call should be held open for, and the
// operator learns progress through vector_count growth, not through
// this response.
func (s *Server) triggerReshard(oldCfg, newCfg model.ClusterConfig) {
	ctx := context.Background()
	dbs, err := s.databases(ctx)
	if err != nil {
		s.logger.Warnw("control: could not list databases, skipping reshard trigger", "error", err)
		return
	}
	if err := s.reshard.Run(ctx, oldCfg, newCfg, dbs); err != nil {
		s.logger.Warnw("control: reshard run returned an error", "error", err)
	}
}

func validate(cfg model.ClusterConfig) error {
	seenID := make(map[string]bool, len(cfg.Shards))
	seenHash := make(map[uint64]bool, len(cfg.Shards))
	for _, sd := range cfg.Shards {
		if sd.ShardID == "" || sd.BaseURL == "" {
			return fmt.Errorf("shard missing id or base_url")
		}
		if seenID[sd.ShardID] {
			return fmt.Errorf("duplicate shard id %q", sd.ShardID)
		}
		if seenHash[sd.HashKey] {
			return fmt.Errorf("duplicate hash key %d (shard %q)", sd.HashKey, sd.ShardID)
		}
		seenID[sd.ShardID] = true
		seenHash[sd.HashKey] = true
	}
	return nil
}
