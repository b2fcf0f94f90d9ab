// Package transport implements BEY's secure peer-to-peer channel: one QUIC
// endpoint per device, mTLS-gated connect/listen, and a policy-gated
// send_message/receive_message pair carrying JSON token envelopes
// (spec.md §4.D).
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/nostalgiatan/bey-sub000/pkg/token"
)

// Connection wraps a live QUIC connection with the state machine and
// bookkeeping the rest of BEY addresses it by.
type Connection struct {
	RemoteAddr string
	DeviceID   string

	raw     *quic.Conn
	Machine *token.Machine

	establishedAt time.Time

	statsMu     sync.RWMutex
	rtt         time.Duration
	lostPackets int64
	lastUsed    time.Time
}

// Stats is a point-in-time snapshot of a connection's health counters, used
// by the connection pool's health check.
type Stats struct {
	RTT         time.Duration
	LostPackets int64
	IdleFor     time.Duration
}

// Stats returns a snapshot of this connection's health counters.
func (c *Connection) Stats() Stats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return Stats{RTT: c.rtt, LostPackets: c.lostPackets, IdleFor: time.Since(c.lastUsed)}
}

func (c *Connection) touch() {
	c.statsMu.Lock()
	c.lastUsed = time.Now()
	c.statsMu.Unlock()
}

// Close closes the underlying QUIC connection and fires the disconnect
// transition on the state machine.
func (c *Connection) Close() error {
	_ = c.Machine.Fire(token.EventDisconnect)
	return c.raw.CloseWithError(0, "closed")
}

func remoteAddrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
