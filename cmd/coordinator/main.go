// Package main implements the vectorshard coordinator: the process
// clients and operators talk to. It exposes the add/get/delete/search
// client surface (package coordinator) and the operator control
// surface (package control) on one HTTP server, backed by a ZooKeeper
// cluster config store and the online resharding engine.
//
// Configuration (environment variables):
//   - COORDINATOR_ADDR: listen address (default ":8080")
//   - COORDINATOR_METRICS_ADDR: Prometheus /metrics listen address,
//     empty disables metrics (default ":8081")
//   - ZK_ENDPOINTS: comma-separated ZooKeeper endpoints (required)
//   - ZK_BASE_PATH: base znode path for cluster state (default "/vectorshard")
//   - HEALTH_CHECK_INTERVAL: shard health probe interval (default "5s")
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/vectorshard/internal/clusterconfig"
	"github.com/dreamware/vectorshard/internal/control"
	"github.com/dreamware/vectorshard/internal/coordinator"
	"github.com/dreamware/vectorshard/internal/health"
	"github.com/dreamware/vectorshard/internal/idgen"
	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/obs"
	"github.com/dreamware/vectorshard/internal/reshard"
	"github.com/dreamware/vectorshard/internal/shardclient"
	"github.com/dreamware/vectorshard/internal/vderr"
)

func main() {
	addr := getenv("COORDINATOR_ADDR", ":8080")
	metricsAddr := getenv("COORDINATOR_METRICS_ADDR", ":8081")
	zkEndpoints := strings.Split(getenv("ZK_ENDPOINTS", ""), ",")
	zkBase := getenv("ZK_BASE_PATH", "/vectorshard")

	logger, err := obs.NewLogger(getenv("ENV", "production") != "production")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	if zkEndpoints[0] == "" {
		logger.Fatal("ZK_ENDPOINTS is required")
	}

	healthInterval := 5 * time.Second
	if v := os.Getenv("HEALTH_CHECK_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			healthInterval = parsed
		} else {
			logger.Warnw("invalid HEALTH_CHECK_INTERVAL, using default", "value", v, "error", err)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := clusterconfig.Open(ctx, zkEndpoints, zkBase, clusterconfig.Options{Logger: logger})
	if err != nil {
		logger.Fatalw("failed to open cluster config store", "error", err)
	}
	defer store.Close()

	clients := shardclient.NewPool(metrics)
	healthMonitor := health.New(healthInterval, logger)
	go healthMonitor.Start(ctx, func() []model.ShardDescriptor { return store.Shards() })

	coord := coordinator.New(store, clients, healthMonitor, idgen.New(), coordinator.Options{Logger: logger, Metrics: metrics})
	reshardEngine := reshard.New(clients, reshard.Options{Logger: logger, Metrics: metrics})
	controlSrv := control.New(store, reshardEngine, coord.ListDatabases, control.Options{Logger: logger})

	srv := &server{coord: coord, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/v1/config", controlSrv)
	mux.HandleFunc("/v1/databases", srv.handleDatabases)
	mux.HandleFunc("/v1/databases/", srv.handleDatabaseScoped)

	httpSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	var metricsSrv *http.Server
	if metricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Infow("coordinator listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("stopping health monitor")
	healthMonitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("http server shutdown error", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("coordinator stopped")
}

// server holds the client-facing data-plane HTTP handlers, parsed
// manually rather than via ServeMux patterns, matching
// internal/shardstore's routing style for consistency across the tree.
type server struct {
	coord  *coordinator.Coordinator
	logger *zap.SugaredLogger
}

// handleDatabases handles POST (create) and GET (list) on /v1/databases.
func (s *server) handleDatabases(w http.ResponseWriter, r *http.Request) {
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
		if err := s.coord.CreateDatabase(r.Context(), req.ID, req.Name, req.Dimension); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		dbs, err := s.coord.ListDatabases(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, dbs)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDatabaseScoped dispatches /v1/databases/{databaseId}/... routes:
// dropping a database and the add/get/delete/search vector operations.
func (s *server) handleDatabaseScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/databases/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	databaseID := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.coord.DropDatabase(r.Context(), databaseID); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if len(parts) < 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	op := parts[1]

	switch {
	case op == "vectors" && len(parts) == 2 && r.Method == http.MethodPost:
		s.handleAddVector(w, r, databaseID)
	case op == "vectors" && len(parts) == 3 && r.Method == http.MethodGet:
		s.handleGetVector(w, r, databaseID, parts[2])
	case op == "vectors" && len(parts) == 3 && r.Method == http.MethodDelete:
		s.handleDeleteVector(w, r, databaseID, parts[2])
	case op == "search" && r.Method == http.MethodPost:
		s.handleSearch(w, r, databaseID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *server) handleAddVector(w http.ResponseWriter, r *http.Request, databaseID string) {
	var rec model.VectorRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	rec.DatabaseID = databaseID
	id, err := s.coord.AddVector(r.Context(), rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

func (s *server) handleGetVector(w http.ResponseWriter, r *http.Request, databaseID, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	rec, err := s.coord.GetVector(r.Context(), databaseID, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *server) handleDeleteVector(w http.ResponseWriter, r *http.Request, databaseID, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	deleted, err := s.coord.DeleteVector(r.Context(), databaseID, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !deleted {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request, databaseID string) {
	var req struct {
		Probe []float32 `json:"probe"`
		K     int       `json:"k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	results, err := s.coord.Search(r.Context(), databaseID, req.Probe, req.K)
	if err != nil {
		writeErr(w, err)
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
	case vderr.Unavailable:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case vderr.Timeout:
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
