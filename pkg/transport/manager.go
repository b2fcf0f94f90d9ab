package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/internal/metrics"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
	"github.com/nostalgiatan/bey-sub000/pkg/identity"
	"github.com/nostalgiatan/bey-sub000/pkg/policy"
	"github.com/nostalgiatan/bey-sub000/pkg/token"
)

const (
	policySetID       = "transport"
	maxMessageSize    = 1 << 20 // 1 MiB, spec.md §4.D "receive_message ... reads ≤ 1 MiB"
	connectTimeout    = 10 * time.Second
)

// Manager is the transport subsystem the Engine facade owns: one QUIC
// endpoint, its mTLS configs, and the table of live connections.
type Manager struct {
	cfg  *config.TransportConfig
	self *identity.Certificate
	root *identity.Certificate

	pol    *policy.Engine
	router *token.Router
	bus    *events.Bus
	log    logger.Logger
	mtr    *metrics.Registry

	masterKey  [32]byte
	encryption bool

	serverTLS *tls.Config
	clientTLS *tls.Config

	listener *quic.Listener

	mu    sync.RWMutex
	conns map[string]*Connection // remote addr -> connection
}

// New constructs a Manager. self is this device's own certificate (private
// key included); root is the CA's certificate used to validate peers.
func New(cfg *config.TransportConfig, self, root *identity.Certificate, pol *policy.Engine, router *token.Router, bus *events.Bus, log logger.Logger, mtr *metrics.Registry) (*Manager, error) {
	serverTLS, err := buildServerTLSConfig(self, root)
	if err != nil {
		return nil, err
	}
	clientTLS, err := buildClientTLSConfig(self, root)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg: cfg, self: self, root: root,
		pol: pol, router: router, bus: bus, log: log, mtr: mtr,
		encryption: cfg.EnableEncryption,
		serverTLS:  serverTLS,
		clientTLS:  clientTLS,
		conns:      make(map[string]*Connection),
	}
	m.masterKey = token.DeriveMasterKey(self.CertPEM, self.SubjectDeviceID)
	return m, nil
}

func (m *Manager) checkPolicy(operation, resource, requesterID string, fields map[string]interface{}) error {
	if m.pol == nil {
		return nil
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["operation"] = operation
	fields["resource"] = resource
	decision, err := m.pol.Evaluate(policySetID, policy.Context{
		Operation:   operation,
		Resource:    resource,
		RequesterID: requesterID,
		Data:        fields,
	})
	if err != nil {
		// No policy set registered for transport is not itself a denial.
		return nil
	}
	if decision.Action == policy.ActionDeny {
		return beyerr.Authorization(beyerr.CodeTransportBase+10, "policy denied "+operation+" on "+resource)
	}
	return nil
}

// Listen binds the QUIC endpoint on cfg.Port and starts the accept loop.
func (m *Manager) Listen() error {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: m.cfg.Port})
	if err != nil {
		return beyerr.Network(beyerr.CodeTransportBase+19, "bind QUIC UDP socket", err)
	}
	ln, err := quic.Listen(udpConn, m.serverTLS, quicConfig(m.cfg))
	if err != nil {
		return beyerr.Network(beyerr.CodeTransportBase+20, "listen QUIC endpoint", err)
	}
	m.listener = ln
	go m.acceptLoop()
	return nil
}

// quicConfig translates the transport config's keep-alive/idle settings
// into quic-go's connection-level knobs.
func quicConfig(cfg *config.TransportConfig) *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: cfg.KeepAliveInterval,
		MaxIdleTimeout:  cfg.IdleTimeout,
	}
}

func (m *Manager) acceptLoop() {
	for {
		conn, err := m.listener.Accept(context.Background())
		if err != nil {
			return
		}
		remote := remoteAddrString(conn.RemoteAddr())
		if err := m.checkPolicy("accept", remote, "", nil); err != nil {
			// spec.md §4.D: "failures are discarded silently".
			_ = conn.CloseWithError(0, "policy denied")
			continue
		}
		c := m.registerConnection(conn, remote)
		m.publish(events.KindClientConnected, map[string]interface{}{"remote_addr": remote})
		_ = c.Machine.Fire(token.EventConnected)
	}
}

// Connect dials addr, gated by the policy engine's connect operation.
func (m *Manager) Connect(ctx context.Context, addr string) (*Connection, error) {
	if err := m.checkPolicy("connect", "remote-connection:"+addr, "self", nil); err != nil {
		return nil, err
	}

	m.publish(events.KindConnecting, map[string]interface{}{"addr": addr})
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	raw, err := quic.DialAddr(dialCtx, addr, m.clientTLS, quicConfig(m.cfg))
	if err != nil {
		m.publish(events.KindConnectionFailed, map[string]interface{}{"addr": addr, "error": err.Error()})
		if m.mtr != nil {
			m.mtr.ConnectionFailures.Inc()
		}
		return nil, beyerr.Network(beyerr.CodeTransportBase+21, "dial "+addr, err)
	}

	c := m.registerConnection(raw, addr)
	_ = c.Machine.Fire(token.EventConnected)
	m.publish(events.KindConnected, map[string]interface{}{"addr": addr})
	return c, nil
}

func (m *Manager) registerConnection(raw *quic.Conn, remote string) *Connection {
	c := &Connection{
		RemoteAddr:    remote,
		raw:           raw,
		Machine:       token.NewMachine(),
		establishedAt: time.Now(),
		lastUsed:      time.Now(),
	}
	_ = c.Machine.Fire(token.EventConnect)

	m.mu.Lock()
	m.conns[remote] = c
	m.mu.Unlock()

	if m.mtr != nil {
		m.mtr.ConnectionsTotal.Inc()
		m.mtr.ConnectionsActive.Inc()
	}
	return c
}

// Connection looks up a live connection by remote address.
func (m *Manager) Connection(addr string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[addr]
	return c, ok
}

// Disconnect closes and forgets the connection to addr.
func (m *Manager) Disconnect(addr string) error {
	m.mu.Lock()
	c, ok := m.conns[addr]
	delete(m.conns, addr)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if m.mtr != nil {
		m.mtr.ConnectionsActive.Dec()
	}
	err := c.Close()
	m.publish(events.KindDisconnected, map[string]interface{}{"addr": addr})
	return err
}

// SendMessage serializes tok and writes it on a fresh unidirectional stream,
// per spec.md §4.D "Sending".
func (m *Manager) SendMessage(ctx context.Context, c *Connection, tok *token.Token) error {
	if err := c.Machine.RequireSendReceive(); err != nil {
		return err
	}
	if err := m.checkPolicy("send", "token:"+tok.Meta.ID, tok.Meta.SenderID, map[string]interface{}{
		"message_type": tok.Meta.TokenType,
		"receiver_id":  tok.Meta.ReceiverID,
		"sender_id":    tok.Meta.SenderID,
	}); err != nil {
		return err
	}

	if m.encryption {
		if err := token.EncryptToken(tok, m.masterKey); err != nil {
			return err
		}
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return beyerr.Parse(beyerr.CodeTransportBase+30, "marshal token", err)
	}

	stream, err := c.raw.OpenUniStreamSync(ctx)
	if err != nil {
		return beyerr.Network(beyerr.CodeTransportBase+31, "open uni stream", err)
	}
	if _, err := stream.Write(data); err != nil {
		return beyerr.Network(beyerr.CodeTransportBase+32, "write stream", err)
	}
	if err := stream.Close(); err != nil {
		return beyerr.Network(beyerr.CodeTransportBase+33, "close stream", err)
	}
	c.touch()
	if m.mtr != nil {
		m.mtr.TokensSent.Inc()
	}
	return nil
}

// ReceiveMessage accepts one unidirectional stream and returns its decoded
// token, per spec.md §4.D "Receiving".
func (m *Manager) ReceiveMessage(ctx context.Context, c *Connection) (*token.Token, error) {
	if err := c.Machine.RequireSendReceive(); err != nil {
		return nil, err
	}

	stream, err := c.raw.AcceptUniStream(ctx)
	if err != nil {
		return nil, beyerr.Network(beyerr.CodeTransportBase+40, "accept uni stream", err)
	}
	return m.decodeToken(c, stream)
}

// ReceiveFromAny fans the accept call out across every live connection and
// returns the first message received from any of them, per spec.md §9
// ("receive_message_from_any: de-multiplex accepted streams across all
// active connections onto a single receiver"). Callers that need to read
// from one specific peer should use ReceiveMessage instead.
func (m *Manager) ReceiveFromAny(ctx context.Context) (*Connection, *token.Token, error) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	if len(conns) == 0 {
		return nil, nil, beyerr.Network(beyerr.CodeTransportBase+44, "receive from any: no active connections", nil)
	}

	fanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type anyResult struct {
		conn   *Connection
		stream io.Reader
		err    error
	}
	results := make(chan anyResult, len(conns))
	for _, c := range conns {
		c := c
		go func() {
			stream, err := c.raw.AcceptUniStream(fanCtx)
			results <- anyResult{conn: c, stream: stream, err: err}
		}()
	}

	for i := 0; i < len(conns); i++ {
		select {
		case res := <-results:
			if res.err != nil {
				continue
			}
			cancel()
			tok, err := m.decodeToken(res.conn, res.stream)
			return res.conn, tok, err
		case <-ctx.Done():
			return nil, nil, beyerr.Network(beyerr.CodeTransportBase+45, "receive from any cancelled", ctx.Err())
		}
	}
	return nil, nil, beyerr.Network(beyerr.CodeTransportBase+46, "receive from any: all connections closed without a message", nil)
}

// decodeToken reads, decrypts, policy-checks, and dispatches one token read
// from stream on behalf of c, shared by ReceiveMessage and ReceiveFromAny.
func (m *Manager) decodeToken(c *Connection, stream io.Reader) (*token.Token, error) {
	data, err := io.ReadAll(io.LimitReader(stream, maxMessageSize+1))
	if err != nil {
		return nil, beyerr.Network(beyerr.CodeTransportBase+41, "read stream", err)
	}
	if len(data) > maxMessageSize {
		return nil, beyerr.Validation(beyerr.CodeTransportBase+42, "message exceeds 1 MiB limit")
	}

	var tok token.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		if m.mtr != nil {
			m.mtr.TokenErrors.Inc()
		}
		return nil, beyerr.Parse(beyerr.CodeTransportBase+43, "unmarshal token", err)
	}

	if tok.Meta.Encrypted {
		if err := token.DecryptToken(&tok, m.masterKey); err != nil {
			if m.mtr != nil {
				m.mtr.TokenErrors.Inc()
			}
			return nil, err
		}
	}

	if err := m.checkPolicy("receive", "token:"+tok.Meta.ID, tok.Meta.ReceiverID, map[string]interface{}{
		"message_type": tok.Meta.TokenType,
		"receiver_id":  tok.Meta.ReceiverID,
		"sender_id":    tok.Meta.SenderID,
	}); err != nil {
		return nil, err
	}

	c.touch()
	if m.mtr != nil {
		m.mtr.TokensReceived.Inc()
	}
	if m.router != nil {
		_, _ = m.router.Dispatch(&tok)
	}
	return &tok, nil
}

// Connections returns a snapshot of every live connection, keyed by nothing
// in particular; order is unspecified.
func (m *Manager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

func (m *Manager) publish(kind events.Kind, fields map[string]interface{}) {
	if m.bus != nil {
		m.bus.Publish(events.New(kind, "transport", fields))
	}
}

// Close shuts down the listener and every tracked connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}
