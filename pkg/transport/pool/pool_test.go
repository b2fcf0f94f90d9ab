package pool

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/token"
	"github.com/nostalgiatan/bey-sub000/pkg/transport"
)

func testPoolConfig() *config.PoolConfig {
	return &config.PoolConfig{
		MaxConnections:        2,
		MaxConnectionsPerAddr: 1,
		IdleTimeout:           time.Hour,
		LoadBalanceStrategy:   config.StrategyRoundRobin,
		HealthCheckInterval:   time.Hour,
		EnableAdaptiveSizing:  true,
		MaxRequestQueue:       4,
	}
}

func fakeConn(addr string) *transport.Connection {
	return &transport.Connection{RemoteAddr: addr, Machine: token.NewMachine()}
}

func countingDialer(calls *int32) Dialer {
	return func(ctx context.Context, addr string) (*transport.Connection, error) {
		atomic.AddInt32(calls, 1)
		return fakeConn(addr), nil
	}
}

func TestPool_AcquireReusesHealthyConnection(t *testing.T) {
	var calls int32
	p := New(testPoolConfig(), countingDialer(&calls), logger.NewLogger(io.Discard, logger.FatalLevel))

	h1, err := p.Acquire(context.Background(), "dev-a", 0)
	require.NoError(t, err)
	h1.Release()

	h2, err := p.Acquire(context.Background(), "dev-a", 0)
	require.NoError(t, err)
	h2.Release()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second acquire should reuse the pooled connection, not redial")
}

func TestPool_AcquireRespectsMaxConnectionsPerAddr(t *testing.T) {
	var calls int32
	cfg := testPoolConfig()
	cfg.MaxConnectionsPerAddr = 1
	cfg.MaxConnections = 5
	p := New(cfg, countingDialer(&calls), logger.NewLogger(io.Discard, logger.FatalLevel))

	h1, err := p.Acquire(context.Background(), "dev-a", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "dev-a", 0)
	assert.Error(t, err, "group at capacity and entry still checked out, acquire should block then time out")

	h1.Release()
}

func TestPool_ReleaseWakesQueuedRequest(t *testing.T) {
	var calls int32
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	cfg.MaxConnectionsPerAddr = 1
	p := New(cfg, countingDialer(&calls), logger.NewLogger(io.Discard, logger.FatalLevel))

	h1, err := p.Acquire(context.Background(), "dev-a", 0)
	require.NoError(t, err)

	waiterDone := make(chan *entryHandle, 1)
	waiterErr := make(chan error, 1)
	go func() {
		h, err := p.Acquire(context.Background(), "dev-a", 5)
		waiterErr <- err
		waiterDone <- h
	}()

	time.Sleep(20 * time.Millisecond)
	h1.Release()

	select {
	case h := <-waiterDone:
		require.NoError(t, <-waiterErr)
		require.NotNil(t, h)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	case <-time.After(time.Second):
		t.Fatal("queued acquire was never woken by release")
	}
}

func TestPool_AcquireErrorsWhenQueueFull(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 1
	cfg.MaxConnectionsPerAddr = 1
	cfg.MaxRequestQueue = 0
	var calls int32
	p := New(cfg, countingDialer(&calls), logger.NewLogger(io.Discard, logger.FatalLevel))

	h1, err := p.Acquire(context.Background(), "dev-a", 0)
	require.NoError(t, err)
	defer h1.Release()

	_, err = p.Acquire(context.Background(), "dev-a", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestPool_DialErrorPropagates(t *testing.T) {
	wantErr := errors.New("dial refused")
	p := New(testPoolConfig(), func(ctx context.Context, addr string) (*transport.Connection, error) {
		return nil, wantErr
	}, logger.NewLogger(io.Discard, logger.FatalLevel))

	_, err := p.Acquire(context.Background(), "dev-a", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestPool_AdaptiveSuggestion(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxConnections = 10
	cfg.MaxConnectionsPerAddr = 10
	cfg.EnableAdaptiveSizing = true
	var calls int32
	p := New(cfg, countingDialer(&calls), logger.NewLogger(io.Discard, logger.FatalLevel))

	assert.Equal(t, SuggestShrink, p.AdaptiveSuggestion(), "idle pool should suggest shrinking")

	for i := 0; i < 10; i++ {
		h, err := p.Acquire(context.Background(), "dev-a", 0)
		require.NoError(t, err)
		_ = h
	}
	assert.Equal(t, SuggestGrow, p.AdaptiveSuggestion(), "utilisation above 90% should suggest growing")
}

func TestPool_AdaptiveSuggestionDisabledIsSteady(t *testing.T) {
	cfg := testPoolConfig()
	cfg.EnableAdaptiveSizing = false
	p := New(cfg, countingDialer(new(int32)), logger.NewLogger(io.Discard, logger.FatalLevel))
	assert.Equal(t, SuggestSteady, p.AdaptiveSuggestion())
}

func TestSelectEntry_RoundRobinCycles(t *testing.T) {
	group := []*entry{{addr: "a"}, {addr: "a"}, {addr: "a"}}
	counter := 0
	first := selectEntry(config.StrategyRoundRobin, "a", group, &counter)
	second := selectEntry(config.StrategyRoundRobin, "a", group, &counter)
	third := selectEntry(config.StrategyRoundRobin, "a", group, &counter)
	fourth := selectEntry(config.StrategyRoundRobin, "a", group, &counter)
	assert.Same(t, group[0], first)
	assert.Same(t, group[1], second)
	assert.Same(t, group[2], third)
	assert.Same(t, group[0], fourth)
}

func TestSelectEntry_LeastConnections(t *testing.T) {
	group := []*entry{
		{activeRequests: 5},
		{activeRequests: 1},
		{activeRequests: 3},
	}
	counter := 0
	chosen := selectEntry(config.StrategyLeastConnections, "a", group, &counter)
	assert.Same(t, group[1], chosen)
}

func TestSelectEntry_ResponseTimeWeighted(t *testing.T) {
	group := []*entry{
		{avgResponse: 100 * time.Millisecond},
		{avgResponse: 10 * time.Millisecond},
	}
	counter := 0
	chosen := selectEntry(config.StrategyResponseTimeWeighted, "a", group, &counter)
	assert.Same(t, group[1], chosen)
}

func TestSelectEntry_WeightedRoundRobinPicksHighestQuality(t *testing.T) {
	group := []*entry{
		{qualityScore: 0.4},
		{qualityScore: 0.9},
	}
	counter := 0
	chosen := selectEntry(config.StrategyWeightedRoundRobin, "a", group, &counter)
	assert.Same(t, group[1], chosen)
}

func TestSelectEntry_ConsistentHashIsStable(t *testing.T) {
	group := []*entry{{addr: "x"}, {addr: "x"}, {addr: "x"}, {addr: "x"}}
	counter := 0
	first := selectEntry(config.StrategyConsistentHash, "device-42", group, &counter)
	second := selectEntry(config.StrategyConsistentHash, "device-42", group, &counter)
	assert.Same(t, first, second, "same address must hash to the same entry every call")
}

func TestRequestQueue_PriorityDescendingThenFIFO(t *testing.T) {
	q := newRequestQueue(10)
	low1, err := q.enqueue("a", 1)
	require.NoError(t, err)
	high, err := q.enqueue("a", 5)
	require.NoError(t, err)
	low2, err := q.enqueue("a", 1)
	require.NoError(t, err)

	assert.Same(t, high, q.dequeueFor("a"))
	assert.Same(t, low1, q.dequeueFor("a"))
	assert.Same(t, low2, q.dequeueFor("a"))
	assert.Nil(t, q.dequeueFor("a"))
}

func TestRequestQueue_OverflowReturnsError(t *testing.T) {
	q := newRequestQueue(1)
	_, err := q.enqueue("a", 0)
	require.NoError(t, err)
	_, err = q.enqueue("a", 0)
	require.Error(t, err)
}

func TestRequestQueue_DequeueForIgnoresOtherAddresses(t *testing.T) {
	q := newRequestQueue(10)
	reqB, err := q.enqueue("b", 0)
	require.NoError(t, err)
	assert.Nil(t, q.dequeueFor("a"))
	assert.Same(t, reqB, q.dequeueFor("b"))
}
