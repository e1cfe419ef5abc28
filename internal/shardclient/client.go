// Package shardclient implements one logical client per shard, speaking
// the storage node wire protocol. Construction is lazy and idempotent
// — see Pool.
package shardclient

import (
	"context"
	"fmt"
	"time"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/obs"
	"github.com/dreamware/vectorshard/internal/wire"
)

// Client talks to one shard's HTTP surface. All methods are safe for
// concurrent use; the underlying transport is a shared, pooled
// *http.Client.
type Client struct {
	ShardID string
	BaseURL string
	metrics *obs.Metrics
}

// New constructs a client for one shard. Construction never dials —
// the first RPC establishes the connection lazily, paying no cost
// until first use.
func New(shardID, baseURL string, metrics *obs.Metrics) *Client {
	return &Client{ShardID: shardID, BaseURL: baseURL, metrics: metrics}
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ObserveShardCall(operation, c.ShardID, outcome, time.Since(start).Seconds())
}

// addVectorRequest/addVectorResponse and friends mirror the JSON shapes
// the storage node exposes; they live here rather than in package model
// since they are wire-only, never persisted.

type addVectorRequest struct {
	Vector model.VectorRecord `json:"vector"`
}

type addVectorResponse struct {
	ID int64 `json:"id"`
}

// AddVector issues add_vector to the primary. The record's ID must
// already be populated by the caller (coordinator resolves it from
// idgen before calling).
func (c *Client) AddVector(ctx context.Context, rec model.VectorRecord) (int64, error) {
	start := time.Now()
	var resp addVectorResponse
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/vectors", rec.DatabaseID)), addVectorRequest{Vector: rec}, &resp)
	c.observe("add_vector", start, err)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// GetVector issues get_vector for id within databaseID.
func (c *Client) GetVector(ctx context.Context, databaseID string, id int64) (model.VectorRecord, error) {
	start := time.Now()
	var rec model.VectorRecord
	err := getJSON(ctx, c.url(fmt.Sprintf("/databases/%s/vectors/%d", databaseID, id)), &rec)
	c.observe("get_vector", start, err)
	return rec, err
}

// DeleteVector issues delete_vector for id within databaseID.
func (c *Client) DeleteVector(ctx context.Context, databaseID string, id int64) error {
	start := time.Now()
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/vectors/%d/delete", databaseID, id)), struct{}{}, nil)
	c.observe("delete_vector", start, err)
	return err
}

type searchRequest struct {
	Probe      []float32 `json:"probe"`
	K          int       `json:"k"`
	DatabaseID string    `json:"databaseId"`
}

// Search issues search(probe, k) against databaseID on this shard.
func (c *Client) Search(ctx context.Context, databaseID string, probe []float32, k int) ([]wire.Result, error) {
	start := time.Now()
	results, err := postSearch(ctx, c.url(fmt.Sprintf("/databases/%s/search", databaseID)), searchRequest{Probe: probe, K: k, DatabaseID: databaseID})
	c.observe("search", start, err)
	return results, err
}

type createDatabaseRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
}

// CreateDatabase issues create_database. An AlreadyExists response from
// the shard is reported as vderr.Conflict; callers in the resharding
// engine treat that as success (a target shard that already has the
// database from a prior partial attempt doesn't need it recreated).
func (c *Client) CreateDatabase(ctx context.Context, id, name string, dimension int) error {
	start := time.Now()
	err := postJSON(ctx, c.url("/databases"), createDatabaseRequest{ID: id, Name: name, Dimension: dimension}, nil)
	c.observe("create_database", start, err)
	return err
}

// DropDatabase issues drop_database.
func (c *Client) DropDatabase(ctx context.Context, databaseID string) error {
	start := time.Now()
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/drop", databaseID)), struct{}{}, nil)
	c.observe("drop_database", start, err)
	return err
}

// ListDatabases issues list_databases.
func (c *Client) ListDatabases(ctx context.Context) ([]model.DatabaseDescriptor, error) {
	start := time.Now()
	var out []model.DatabaseDescriptor
	err := getJSON(ctx, c.url("/databases"), &out)
	c.observe("list_databases", start, err)
	return out, err
}

type scanRangeRequest struct {
	FromExclusive int64 `json:"fromExclusive"`
	ToInclusive   int64 `json:"toInclusive"`
	Limit         int   `json:"limit"`
}

// ScanRange issues scan_range(from_exclusive, to_inclusive, limit) for
// databaseID. An empty result means the walk has reached ToInclusive.
func (c *Client) ScanRange(ctx context.Context, databaseID string, fromExclusive, toInclusive int64, limit int) ([]model.VectorRecord, error) {
	start := time.Now()
	var out []model.VectorRecord
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/scan", databaseID)),
		scanRangeRequest{FromExclusive: fromExclusive, ToInclusive: toInclusive, Limit: limit}, &out)
	c.observe("scan_range", start, err)
	return out, err
}

// PutBatch issues put_batch: an upsert of the given records on this
// shard, used by the resharding engine's migration writes.
func (c *Client) PutBatch(ctx context.Context, databaseID string, records []model.VectorRecord) error {
	start := time.Now()
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/vectors/batch", databaseID)), records, nil)
	c.observe("put_batch", start, err)
	return err
}

// DeleteBatch issues delete_batch for the given ids.
func (c *Client) DeleteBatch(ctx context.Context, databaseID string, ids []int64) error {
	start := time.Now()
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/vectors/batch/delete", databaseID)), ids, nil)
	c.observe("delete_batch", start, err)
	return err
}

type replicaRequest struct {
	Vector        model.VectorRecord `json:"vector"`
	SourceShardID string             `json:"sourceShardId"`
}

// AddVectorReplica tags rec with sourceShardID and stores it as a
// replica copy, distinct from the primary-owned record at the same id.
func (c *Client) AddVectorReplica(ctx context.Context, rec model.VectorRecord, sourceShardID string) error {
	start := time.Now()
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/replicas", rec.DatabaseID)),
		replicaRequest{Vector: rec, SourceShardID: sourceShardID}, nil)
	c.observe("add_vector_replica", start, err)
	return err
}

// GetVectorReplica fetches the replica copy of id tagged with
// sourceShardID.
func (c *Client) GetVectorReplica(ctx context.Context, databaseID string, id int64, sourceShardID string) (model.VectorRecord, error) {
	start := time.Now()
	var rec model.VectorRecord
	err := getJSON(ctx, c.url(fmt.Sprintf("/databases/%s/replicas/%s/%d", databaseID, sourceShardID, id)), &rec)
	c.observe("get_vector_replica", start, err)
	return rec, err
}

// DeleteVectorReplica deletes the replica copy of id tagged with
// sourceShardID.
func (c *Client) DeleteVectorReplica(ctx context.Context, databaseID string, id int64, sourceShardID string) error {
	start := time.Now()
	err := postJSON(ctx, c.url(fmt.Sprintf("/databases/%s/replicas/%s/%d/delete", databaseID, sourceShardID, id)), struct{}{}, nil)
	c.observe("delete_vector_replica", start, err)
	return err
}

type searchReplicasRequest struct {
	Probe         []float32 `json:"probe"`
	K             int       `json:"k"`
	SourceShardID string    `json:"sourceShardId"`
}

// SearchReplicas issues search_replicas(query, source_shard_id) against
// this shard, used when the expected primary for sourceShardID is
// unavailable and its replica must serve reads instead.
func (c *Client) SearchReplicas(ctx context.Context, databaseID string, probe []float32, k int, sourceShardID string) ([]wire.Result, error) {
	start := time.Now()
	results, err := postSearch(ctx, c.url(fmt.Sprintf("/databases/%s/replicas/search", databaseID)),
		searchReplicasRequest{Probe: probe, K: k, SourceShardID: sourceShardID})
	c.observe("search_replicas", start, err)
	return results, err
}
