package policy

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/ratelimit"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// defaultEvaluationsPerSecond caps fresh (cache-miss) rule evaluations so a
// burst of policy checks cannot monopolize the engine ahead of other
// subsystems sharing the process.
const defaultEvaluationsPerSecond = 1000

// Stats tracks evaluation counters atomically (spec.md §4.F "Statistics").
type Stats struct {
	TotalEvaluations int64
	CacheHits        int64
	CacheMisses      int64
	SlowEvaluations  int64 // evaluations that exceeded maxEvaluationTime
	minNanos         int64
	maxNanos         int64
	sumNanos         int64
}

func (s *Stats) record(d time.Duration) {
	atomic.AddInt64(&s.TotalEvaluations, 1)
	n := d.Nanoseconds()
	atomic.AddInt64(&s.sumNanos, n)
	for {
		cur := atomic.LoadInt64(&s.minNanos)
		if cur != 0 && cur <= n {
			break
		}
		if atomic.CompareAndSwapInt64(&s.minNanos, cur, n) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&s.maxNanos)
		if cur >= n {
			break
		}
		if atomic.CompareAndSwapInt64(&s.maxNanos, cur, n) {
			break
		}
	}
}

// Mean returns the mean evaluation time observed so far.
func (s *Stats) Mean() time.Duration {
	total := atomic.LoadInt64(&s.TotalEvaluations)
	if total == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&s.sumNanos) / total)
}

// Min and Max return the fastest/slowest evaluation observed.
func (s *Stats) Min() time.Duration { return time.Duration(atomic.LoadInt64(&s.minNanos)) }
func (s *Stats) Max() time.Duration { return time.Duration(atomic.LoadInt64(&s.maxNanos)) }

type cacheEntry struct {
	key      string
	setID    string
	decision Decision
	elem     *list.Element
}

// Engine owns a set of named policy sets, an LRU decision cache, and
// evaluation statistics, per spec.md §4.F.
type Engine struct {
	mu    sync.RWMutex
	sets  map[string]*Set
	stats Stats

	cacheMu       sync.Mutex
	cacheTTL      time.Duration
	maxCacheEntries int
	cacheOrder    *list.List // front = most recently used
	cache         map[string]*cacheEntry
	cacheExpiry   map[string]time.Time

	maxEvaluationTime time.Duration
	limiter           ratelimit.Limiter
}

// NewEngine creates an Engine with the given cache TTL and capacity
// (defaults: 300s TTL, 10000 entries, per spec.md §4.F/§5).
func NewEngine(cacheTTL time.Duration, maxCacheEntries int) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = 300 * time.Second
	}
	if maxCacheEntries <= 0 {
		maxCacheEntries = 10000
	}
	return &Engine{
		sets:            make(map[string]*Set),
		cacheTTL:        cacheTTL,
		maxCacheEntries: maxCacheEntries,
		cacheOrder:      list.New(),
		cache:           make(map[string]*cacheEntry),
		cacheExpiry:     make(map[string]time.Time),
		maxEvaluationTime: 10 * time.Second,
		limiter:           ratelimit.New(defaultEvaluationsPerSecond),
	}
}

// AddSet registers or replaces a policy set and invalidates its cache entries.
func (e *Engine) AddSet(set *Set) {
	e.mu.Lock()
	e.sets[set.ID] = set
	e.mu.Unlock()
	e.invalidateSet(set.ID)
}

// RemoveSet deletes a policy set and invalidates its cache entries.
func (e *Engine) RemoveSet(setID string) {
	e.mu.Lock()
	delete(e.sets, setID)
	e.mu.Unlock()
	e.invalidateSet(setID)
}

// SetEnabled toggles a policy set's Enabled flag and invalidates its cache.
func (e *Engine) SetEnabled(setID string, enabled bool) {
	e.mu.Lock()
	if s, ok := e.sets[setID]; ok {
		s.Enabled = enabled
	}
	e.mu.Unlock()
	e.invalidateSet(setID)
}

// Evaluate evaluates ctx against setID, consulting and populating the cache.
func (e *Engine) Evaluate(setID string, ctx Context) (Decision, error) {
	e.mu.RLock()
	set, ok := e.sets[setID]
	e.mu.RUnlock()
	if !ok {
		return Decision{}, beyerr.Validation(beyerr.CodePolicyBase, "unknown policy set "+setID)
	}
	if !set.Enabled {
		return Decision{Action: ActionDeny}, nil
	}

	key := cacheKey(setID, ctx)
	if d, ok := e.cacheGet(key); ok {
		atomic.AddInt64(&e.stats.CacheHits, 1)
		d.FromCache = true
		return d, nil
	}
	atomic.AddInt64(&e.stats.CacheMisses, 1)

	e.limiter.Take()
	start := time.Now()
	decision := Evaluate(set, ctx)
	elapsed := time.Since(start)
	e.stats.record(elapsed)
	if elapsed > e.maxEvaluationTime {
		atomic.AddInt64(&e.stats.SlowEvaluations, 1)
	}

	e.cachePut(setID, key, decision)
	return decision, nil
}

// Stats returns a snapshot of the engine's evaluation statistics.
func (e *Engine) Stats() *Stats { return &e.stats }

func cacheKey(setID string, ctx Context) string {
	payload, _ := json.Marshal(struct {
		Data      map[string]interface{} `json:"data"`
		Requester string                  `json:"requester_id"`
		Resource  string                  `json:"resource"`
		Operation string                  `json:"operation"`
	}{ctx.Data, ctx.RequesterID, ctx.Resource, ctx.Operation})
	sum := sha256.Sum256(append([]byte(setID+"|"), payload...))
	return hex.EncodeToString(sum[:])
}

func (e *Engine) cacheGet(key string) (Decision, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	entry, ok := e.cache[key]
	if !ok {
		return Decision{}, false
	}
	if time.Now().After(e.cacheExpiry[key]) {
		e.removeLocked(key)
		return Decision{}, false
	}
	e.cacheOrder.MoveToFront(entry.elem)
	return entry.decision, true
}

func (e *Engine) cachePut(setID, key string, decision Decision) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if entry, ok := e.cache[key]; ok {
		entry.decision = decision
		e.cacheOrder.MoveToFront(entry.elem)
		e.cacheExpiry[key] = time.Now().Add(e.cacheTTL)
		return
	}

	for len(e.cache) >= e.maxCacheEntries {
		back := e.cacheOrder.Back()
		if back == nil {
			break
		}
		e.removeLocked(back.Value.(string))
	}

	elem := e.cacheOrder.PushFront(key)
	e.cache[key] = &cacheEntry{key: key, setID: setID, decision: decision, elem: elem}
	e.cacheExpiry[key] = time.Now().Add(e.cacheTTL)
}

func (e *Engine) removeLocked(key string) {
	if entry, ok := e.cache[key]; ok {
		e.cacheOrder.Remove(entry.elem)
		delete(e.cache, key)
		delete(e.cacheExpiry, key)
	}
}

// invalidateSet drops every cache entry produced for setID.
func (e *Engine) invalidateSet(setID string) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	for key, entry := range e.cache {
		if entry.setID == setID {
			e.removeLocked(key)
		}
	}
}
