package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/ratelimit"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
	"github.com/nostalgiatan/bey-sub000/pkg/transport"
)

const (
	maxRTT         = 10 * time.Second
	maxLostPackets = 100

	// defaultDialRateLimit caps fresh dials per second so a burst of
	// Acquire calls for unseen addresses cannot open a connection storm.
	defaultDialRateLimit = 500
)

// Pool is the advanced connection pool of spec.md §4.D, multiplexing
// transport connections per remote address behind a selection strategy.
type Pool struct {
	cfg    *config.PoolConfig
	dial   Dialer
	log    logger.Logger

	mu        sync.Mutex
	groups    map[string][]*entry
	total     int
	rrCounter map[string]int

	queue  *requestQueue
	stopCh chan struct{}
	wg     sync.WaitGroup

	dialLimiter ratelimit.Limiter
}

// New constructs a Pool. dial is invoked to create a fresh connection when
// no pooled connection for an address can be reused.
func New(cfg *config.PoolConfig, dial Dialer, log logger.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		dial:      dial,
		log:       log,
		groups:    make(map[string][]*entry),
		rrCounter: make(map[string]int),
		queue:     newRequestQueue(cfg.MaxRequestQueue),
		stopCh:    make(chan struct{}),
		dialLimiter: ratelimit.New(defaultDialRateLimit),
	}
}

// Start launches the background health check loop.
func (p *Pool) Start() {
	p.wg.Add(1)
	go p.healthLoop()
}

// Stop halts the health check loop.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Acquire returns a connection to addr, reusing a healthy pooled one that
// is not currently checked out (picked by the selection strategy), dialing a fresh one when
// under max_connections_per_addr and max_connections, or else enqueuing
// with priority (0 = lowest) until one becomes available or ctx expires.
func (p *Pool) Acquire(ctx context.Context, addr string, priority byte) (*entryHandle, error) {
	if e := p.tryAcquireExisting(addr); e != nil {
		return &entryHandle{pool: p, entry: e}, nil
	}

	if e, err := p.tryDial(ctx, addr); err != nil {
		return nil, err
	} else if e != nil {
		return &entryHandle{pool: p, entry: e}, nil
	}

	req, err := p.queue.enqueue(addr, priority)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-req.result:
		if res.err != nil {
			return nil, res.err
		}
		return &entryHandle{pool: p, entry: res.conn}, nil
	case <-ctx.Done():
		p.queue.cancel(req)
		return nil, beyerr.Network(beyerr.CodePoolBase+2, "acquire cancelled", ctx.Err())
	}
}

func (p *Pool) tryAcquireExisting(addr string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	group := p.groups[addr]
	var healthy []*entry
	for _, e := range group {
		if e.health != HealthUnhealthy && e.activeRequests == 0 {
			healthy = append(healthy, e)
		}
	}
	if len(healthy) == 0 {
		return nil
	}
	counter := p.rrCounter[addr]
	chosen := selectEntry(p.cfg.LoadBalanceStrategy, addr, healthy, &counter)
	p.rrCounter[addr] = counter
	chosen.activeRequests++
	return chosen
}

func (p *Pool) tryDial(ctx context.Context, addr string) (*entry, error) {
	p.mu.Lock()
	group := p.groups[addr]
	canAddToGroup := len(group) < p.cfg.MaxConnectionsPerAddr
	canAddTotal := p.total < p.cfg.MaxConnections
	p.mu.Unlock()

	if !canAddToGroup || !canAddTotal {
		return nil, nil
	}

	p.dialLimiter.Take()
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, beyerr.Network(beyerr.CodePoolBase+3, "dial "+addr, err)
	}

	e := &entry{conn: conn, addr: addr, health: HealthHealthy, activeRequests: 1, qualityScore: 1, createdAt: time.Now()}
	p.mu.Lock()
	p.groups[addr] = append(p.groups[addr], e)
	p.total++
	p.mu.Unlock()
	return e, nil
}

// Release returns a connection to the pool for reuse, handing it to the
// next queued request for the same address if one is waiting.
func (p *Pool) release(e *entry) {
	p.mu.Lock()
	if e.activeRequests > 0 {
		e.activeRequests--
	}
	p.mu.Unlock()

	if next := p.queue.dequeueFor(e.addr); next != nil {
		p.mu.Lock()
		e.activeRequests++
		p.mu.Unlock()
		next.result <- acquireResult{conn: e}
		return
	}
}

// entryHandle is the caller-facing handle returned by Acquire; Release
// must be called exactly once when the caller is done with the connection.
type entryHandle struct {
	pool  *Pool
	entry *entry
}

// Conn exposes the underlying transport connection.
func (h *entryHandle) Conn() *transport.Connection { return h.entry.conn }

// Release returns the connection to the pool.
func (h *entryHandle) Release() { h.pool.release(h.entry) }

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runHealthCheck()
		}
	}
}

func (p *Pool) runHealthCheck() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, group := range p.groups {
		kept := group[:0]
		for _, e := range group {
			stats := e.conn.Stats()
			e.avgResponse = stats.RTT

			switch {
			case stats.RTT > maxRTT || stats.LostPackets > maxLostPackets:
				if e.health == HealthHealthy {
					e.health = HealthWarning
				} else {
					e.health = HealthUnhealthy
				}
			default:
				e.health = HealthHealthy
			}

			evict := e.health == HealthUnhealthy || stats.IdleFor > p.cfg.IdleTimeout
			if evict {
				_ = e.conn.Close()
				p.total--
				continue
			}
			kept = append(kept, e)
		}
		p.groups[addr] = kept
	}
}

// AdaptiveSuggestion reports a non-binding grow/shrink/steady signal based
// on current utilisation, per spec.md §4.D "flags (not forces) grow/shrink
// suggestions when utilisation leaves [0.3, 0.9]".
func (p *Pool) AdaptiveSuggestion() SizingSuggestion {
	if !p.cfg.EnableAdaptiveSizing || p.cfg.MaxConnections == 0 {
		return SuggestSteady
	}
	p.mu.Lock()
	utilisation := float64(p.total) / float64(p.cfg.MaxConnections)
	p.mu.Unlock()

	switch {
	case utilisation > 0.9:
		return SuggestGrow
	case utilisation < 0.3:
		return SuggestShrink
	default:
		return SuggestSteady
	}
}

// Stats returns {total connections, queue length} for observability.
func (p *Pool) Stats() (total, queued int) {
	p.mu.Lock()
	total = p.total
	p.mu.Unlock()
	return total, p.queue.len()
}
