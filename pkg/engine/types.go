// Package engine wires every BEY subsystem (identity, discovery, transport,
// the connection pool, policy, permissions, vault, storage, transfer) behind
// the single facade described in spec.md §6: device discovery/connection,
// token send/receive, file operations, permission checks, and a stats
// snapshot.
package engine

import "time"

// ReceiveMode selects how ReceiveToken/ReceiveTokenFromAny wait for a
// message, per spec.md §6 ("receive_token(mode)").
type ReceiveMode int

const (
	// ModeBlocking waits indefinitely (bounded only by the caller's ctx).
	ModeBlocking ReceiveMode = iota
	// ModeNonBlocking returns immediately if no message is already available.
	ModeNonBlocking
	// ModeTimeout waits up to the duration passed alongside this mode.
	ModeTimeout
)

// nonBlockingPoll is the (effectively zero) wait ReceiveToken uses to
// implement ModeNonBlocking on top of ReceiveMessage's blocking Accept.
const nonBlockingPoll = time.Millisecond

// Stats is the aggregate snapshot returned by Engine.Stats, covering the
// counters spec.md's scenarios reference directly (active connections,
// queued/total transfers, discovered devices, audit trail size).
type Stats struct {
	DevicesDiscovered int
	ActiveConnections int
	PoolConnections   int
	PoolQueued        int
	TransfersQueued   int
	TransfersTotal    int
	AuditEntries      int
	PolicyEvaluations int64
	PolicyCacheHits   int64
}
