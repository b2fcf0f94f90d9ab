package discovery

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// cache is the device cache consulted by query_service before any
// network round-trip, per spec.md §4.C.
type cache struct {
	mu      sync.RWMutex
	devices map[string]*Device // instanceName -> device
	limit   int
}

func newCache(limit int) *cache {
	if limit <= 0 {
		limit = 1000
	}
	return &cache{devices: make(map[string]*Device), limit: limit}
}

func (c *cache) put(d *Device) (isNew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.devices[d.InstanceName]
	c.devices[d.InstanceName] = d
	if len(c.devices) > c.limit {
		c.evictOldestLocked()
	}
	return !exists
}

func (c *cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, d := range c.devices {
		if first || d.LastSeen.Before(oldestTime) {
			oldestKey, oldestTime, first = k, d.LastSeen, false
		}
	}
	if oldestKey != "" {
		delete(c.devices, oldestKey)
	}
}

func (c *cache) remove(instanceName string) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[instanceName]
	if ok {
		delete(c.devices, instanceName)
	}
	return d, ok
}

func (c *cache) all() []*Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	return out
}

// sweepExpired removes devices whose records aged past timeout, returning
// the removed devices so the caller can publish DeviceRemoved events.
func (c *cache) sweepExpired(timeout time.Duration) []*Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []*Device
	for k, d := range c.devices {
		if d.expired(timeout) {
			removed = append(removed, d)
			delete(c.devices, k)
		}
	}
	return removed
}

// lookup implements the query_service resolution order of spec.md §4.C:
// exact match, then prefix, then substring, then service-type match,
// then retrying the same stages with ".local" appended to query. Hits
// sort by (priority asc, weight asc).
func (c *cache) lookup(query string) []*Device {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if hits := c.matchStages(query); len(hits) > 0 {
		return sortedByPriorityWeight(hits)
	}
	if !strings.HasSuffix(query, ".local") {
		if hits := c.matchStages(query + ".local"); len(hits) > 0 {
			return sortedByPriorityWeight(hits)
		}
	}
	return nil
}

func (c *cache) matchStages(query string) []*Device {
	var exact, prefix, substr, byType []*Device
	for _, d := range c.devices {
		switch {
		case d.InstanceName == query:
			exact = append(exact, d)
		case strings.HasPrefix(d.InstanceName, query):
			prefix = append(prefix, d)
		case strings.Contains(d.InstanceName, query):
			substr = append(substr, d)
		case d.ServiceType == query:
			byType = append(byType, d)
		}
	}
	for _, group := range [][]*Device{exact, prefix, substr, byType} {
		if len(group) > 0 {
			return group
		}
	}
	return nil
}

func sortedByPriorityWeight(devices []*Device) []*Device {
	out := append([]*Device(nil), devices...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Weight < out[j].Weight
	})
	return out
}
