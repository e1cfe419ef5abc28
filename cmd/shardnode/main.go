// Package main implements a storage node: the collaborator the
// coordinator's shardclient speaks to over HTTP. See
// internal/shardstore for the in-memory collections and wire handlers;
// this file only wires configuration, logging, metrics, and graceful
// shutdown, following the same shape as the coordinator's entrypoint.
//
// Configuration (environment variables):
//   - SHARDNODE_ID: this shard's id, must match its entry in the
//     coordinator's cluster config (required)
//   - SHARDNODE_LISTEN: listen address (default ":9090")
//   - SHARDNODE_METRICS_LISTEN: Prometheus /metrics listen address,
//     empty disables metrics (default ":9091")
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamware/vectorshard/internal/obs"
	"github.com/dreamware/vectorshard/internal/shardstore"
)

func main() {
	shardID := os.Getenv("SHARDNODE_ID")
	if shardID == "" {
		log.Fatal("SHARDNODE_ID is required")
	}
	listen := getenv("SHARDNODE_LISTEN", ":9090")
	metricsListen := getenv("SHARDNODE_METRICS_LISTEN", ":9091")

	logger, err := obs.NewLogger(getenv("ENV", "production") != "production")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	_ = obs.NewMetrics(reg) // registered for scrape; shardstore itself doesn't emit shard-call metrics, the coordinator's shardclient does

	node := shardstore.NewNode(shardID)
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           shardstore.NewServer(node, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsSrv *http.Server
	if metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	go func() {
		logger.Infow("shard node listening", "shard_id", shardID, "addr", listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Errorw("shutdown error", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	logger.Info("shard node stopped")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
