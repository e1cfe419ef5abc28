package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vectorshard/internal/model"
)

type fakeStore struct {
	mu  sync.Mutex
	cfg model.ClusterConfig
}

func (f *fakeStore) Current() model.ClusterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Clone()
}

func (f *fakeStore) Update(_ context.Context, cfg model.ClusterConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg.Clone()
	return nil
}

type fakeResharder struct {
	mu      sync.Mutex
	invoked bool
	oldCfg  model.ClusterConfig
	newCfg  model.ClusterConfig
}

func (f *fakeResharder) Run(_ context.Context, oldCfg, newCfg model.ClusterConfig, _ []model.DatabaseDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = true
	f.oldCfg = oldCfg
	f.newCfg = newCfg
	return nil
}

func (f *fakeResharder) wasInvoked() (bool, model.ClusterConfig, model.ClusterConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoked, f.oldCfg, f.newCfg
}

func TestGetConfigReturnsCurrent(t *testing.T) {
	store := &fakeStore{cfg: model.ClusterConfig{Shards: []model.ShardDescriptor{
		{ShardID: "s1", BaseURL: "http://s1", HashKey: 10, Status: model.ShardStatusActive},
	}}}
	srv := httptest.NewServer(New(store, &fakeResharder{}, nil, Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.ClusterConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Shards, 1)
	assert.Equal(t, "s1", got.Shards[0].ShardID)
}

func TestPutConfigPersistsAndTriggersReshard(t *testing.T) {
	store := &fakeStore{cfg: model.ClusterConfig{Shards: []model.ShardDescriptor{
		{ShardID: "s1", BaseURL: "http://s1", HashKey: ^uint64(0), Status: model.ShardStatusActive},
	}}}
	resharder := &fakeResharder{}
	databases := func(context.Context) ([]model.DatabaseDescriptor, error) {
		return []model.DatabaseDescriptor{{ID: "db1"}}, nil
	}

	srv := httptest.NewServer(New(store, resharder, databases, Options{}))
	defer srv.Close()

	newCfg := model.ClusterConfig{Shards: []model.ShardDescriptor{
		{ShardID: "s1", BaseURL: "http://s1", HashKey: ^uint64(0), Status: model.ShardStatusActive},
		{ShardID: "s2", BaseURL: "http://s2", HashKey: ^uint64(0) / 2, Status: model.ShardStatusActive},
	}}
	body, err := json.Marshal(newCfg)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/config", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, newCfg, store.Current())

	require.Eventually(t, func() bool {
		invoked, _, _ := resharder.wasInvoked()
		return invoked
	}, time.Second, 10*time.Millisecond)

	invoked, oldCfg, gotNewCfg := resharder.wasInvoked()
	require.True(t, invoked)
	assert.Len(t, oldCfg.Shards, 1)
	assert.Len(t, gotNewCfg.Shards, 2)
}

func TestPutConfigRejectsDuplicateShardID(t *testing.T) {
	store := &fakeStore{}
	srv := httptest.NewServer(New(store, &fakeResharder{}, nil, Options{}))
	defer srv.Close()

	cfg := model.ClusterConfig{Shards: []model.ShardDescriptor{
		{ShardID: "s1", BaseURL: "http://s1", HashKey: 1},
		{ShardID: "s1", BaseURL: "http://s1b", HashKey: 2},
	}}
	body, _ := json.Marshal(cfg)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/config", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
