package storage

import (
	"sort"
	"sync"
	"time"
)

// StorageNode is one peer device the replication pipeline can target,
// mirroring the original Rust implementation's storage_nodes registry
// (bey-storage/src/bey_storage.rs's StorageNode: device_id, address,
// available_space, online, weight) that the distilled spec.md dropped.
// BeyStorageManager kept this registry in lock-step with device-discovery
// events rather than hardcoding peer identities, which is the behavior
// nodeRegistry.Update/Remove reproduce here.
type StorageNode struct {
	DeviceID       string
	Address        string
	AvailableSpace uint64
	Online         bool
	Weight         float64
	LastHeartbeat  time.Time
}

// nodeRegistry tracks known peer storage nodes for replica placement. It is
// updated from discovery device events (see engine.go's node-tracking
// subscription) rather than by storage.Engine dialing peers itself.
type nodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*StorageNode
}

func newNodeRegistry() *nodeRegistry {
	return &nodeRegistry{nodes: make(map[string]*StorageNode)}
}

// Update inserts or refreshes a node's advertised capacity/liveness.
func (r *nodeRegistry) Update(n StorageNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.DeviceID] = &n
}

// Remove drops a node, e.g. once discovery reports it gone.
func (r *nodeRegistry) Remove(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, deviceID)
}

// SelectReplicaTargets picks up to n online nodes, favoring the most
// available_space and weight, per the original StorageNode.weight-based
// load-balancing the distilled spec.md left out.
func (r *nodeRegistry) SelectReplicaTargets(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]*StorageNode, 0, len(r.nodes))
	for _, node := range r.nodes {
		if node.Online {
			candidates = append(candidates, node)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		si := float64(candidates[i].AvailableSpace) * candidates[i].Weight
		sj := float64(candidates[j].AvailableSpace) * candidates[j].Weight
		return si > sj
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candidates[i].DeviceID)
	}
	return out
}

// Len reports how many nodes are currently tracked, online or not.
func (r *nodeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
