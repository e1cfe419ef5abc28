package shardstore

import (
	"sync"
	"time"

	"github.com/dreamware/vectorshard/internal/model"
	"github.com/dreamware/vectorshard/internal/vderr"
)

// Node holds every database this shard process serves. One Node backs
// one cmd/shardnode process; it is the storage-node analog of
// coordinator.Coordinator, holding its collections behind one mutex.
type Node struct {
	ShardID string

	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewNode creates an empty node for shardID.
func NewNode(shardID string) *Node {
	return &Node{ShardID: shardID, collections: make(map[string]*Collection)}
}

// CreateDatabase registers a new database, or reports vderr.Conflict if
// id is already registered — callers (notably the resharding engine)
// treat that as success per the create_database contract.
func (n *Node) CreateDatabase(id, name string, dimension int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.collections[id]; exists {
		return vderr.New("shardstore.Node.CreateDatabase", vderr.Conflict)
	}
	now := time.Now()
	n.collections[id] = newCollection(model.DatabaseDescriptor{
		ID: id, DisplayName: name, Dimension: dimension, CreatedAt: now, UpdatedAt: now,
	})
	return nil
}

// DropDatabase removes a database and all of its data.
func (n *Node) DropDatabase(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.collections[id]; !exists {
		return vderr.New("shardstore.Node.DropDatabase", vderr.NotFound)
	}
	delete(n.collections, id)
	return nil
}

// ListDatabases returns every registered database's descriptor, with
// VectorCount populated from its current primary store size.
func (n *Node) ListDatabases() []model.DatabaseDescriptor {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]model.DatabaseDescriptor, 0, len(n.collections))
	for _, c := range n.collections {
		desc := c.Descriptor
		desc.VectorCount = int64(c.primary.Count())
		out = append(out, desc)
	}
	return out
}

// Collection returns the named database's collection, or NotFound.
func (n *Node) Collection(databaseID string) (*Collection, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	c, ok := n.collections[databaseID]
	if !ok {
		return nil, vderr.New("shardstore.Node.Collection", vderr.NotFound)
	}
	return c, nil
}
