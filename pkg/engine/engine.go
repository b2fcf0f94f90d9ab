package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/internal/metrics"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
	"github.com/nostalgiatan/bey-sub000/pkg/discovery"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
	"github.com/nostalgiatan/bey-sub000/pkg/identity"
	"github.com/nostalgiatan/bey-sub000/pkg/permissions"
	"github.com/nostalgiatan/bey-sub000/pkg/policy"
	"github.com/nostalgiatan/bey-sub000/pkg/storage"
	"github.com/nostalgiatan/bey-sub000/pkg/token"
	"github.com/nostalgiatan/bey-sub000/pkg/transfer"
	"github.com/nostalgiatan/bey-sub000/pkg/transport"
	"github.com/nostalgiatan/bey-sub000/pkg/transport/pool"
	"github.com/nostalgiatan/bey-sub000/pkg/vault"
)

// Engine is the facade of spec.md §6: one device's identity, its discovery
// and transport subsystems, and the storage/transfer/permission layers
// built on top of them.
type Engine struct {
	cfg      *config.Config
	deviceID string
	log      logger.Logger
	bus      *events.Bus
	mtr      *metrics.Registry

	identity    *identity.Manager
	self        *identity.Certificate
	policyEng   *policy.Engine
	permissions *permissions.Manager
	vault       *vault.Vault
	router      *token.Router
	transport   *transport.Manager
	pool        *pool.Pool
	discovery   *discovery.Manager
	storage     *storage.Engine
	transfer    *transfer.Manager

	nodeTrackerStop chan struct{}
}

// New wires every subsystem from cfg but does not start any background
// loop; call Start for that. deviceID identifies this device to the CA,
// discovery, and storage layers; hostname is what discovery advertises.
func New(cfg *config.Config, deviceID, hostname string, log logger.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, beyerr.Configuration(beyerr.CodeNetworkEngine+1, "engine requires a non-nil config", nil)
	}

	bus := events.NewBus()
	mtr := metrics.NewRegistry("bey")

	idMgr, err := identity.NewManager(cfg.Transport.CertificatesDir, cfg.Identity, log)
	if err != nil {
		return nil, err
	}
	self, err := idMgr.IssueDevice(deviceID)
	if err != nil {
		return nil, err
	}
	root := idMgr.RootCertificate()

	polEng := policy.NewEngine(time.Duration(cfg.Identity.CacheTTLSeconds)*time.Second, 10000)
	permMgr := permissions.NewManager(10000, 90)

	v, err := vault.Open("bey-"+deviceID, filepath.Join(cfg.Storage.StorageRoot, "vault"), log)
	if err != nil {
		return nil, err
	}

	router := token.NewRouter()

	transportMgr, err := transport.New(cfg.Transport, self, root, polEng, router, bus, log, mtr)
	if err != nil {
		return nil, err
	}

	connPool := pool.New(cfg.Pool, transportMgr.Connect, log)

	transferMgr := transfer.New(cfg.Transfer, bus, log)

	storageEngine, err := storage.New(cfg.Storage, deviceID, v, polEng, transferMgr, bus, log)
	if err != nil {
		return nil, err
	}

	caps := map[string]string{"version": "1", "encryption": fmt.Sprintf("%t", cfg.Transport.EnableEncryption)}
	discoveryMgr := discovery.New(cfg.Discovery, deviceID, hostname, uint16(cfg.Transport.Port), caps, bus, log)

	return &Engine{
		cfg:             cfg,
		deviceID:        deviceID,
		log:             log,
		bus:             bus,
		mtr:             mtr,
		identity:        idMgr,
		self:            self,
		policyEng:       polEng,
		permissions:     permMgr,
		vault:           v,
		router:          router,
		transport:       transportMgr,
		pool:            connPool,
		discovery:       discoveryMgr,
		storage:         storageEngine,
		transfer:        transferMgr,
		nodeTrackerStop: make(chan struct{}),
	}, nil
}

// Start brings up every background loop: the QUIC listener, the pool's
// health checker, the transfer worker pool, and mDNS discovery. Subsystems
// with no interdependency at startup come up concurrently via errgroup so
// one slow bind doesn't serialize behind another.
func (e *Engine) Start() error {
	nodeSub := e.bus.Subscribe()
	go e.trackStorageNodes(nodeSub, e.nodeTrackerStop)

	var g errgroup.Group
	g.Go(e.transport.Listen)
	g.Go(e.discovery.Start)
	if err := g.Wait(); err != nil {
		return err
	}

	e.pool.Start()
	e.transfer.Start()
	if err := e.discovery.PublishService(); err != nil {
		return err
	}
	e.publishEvents(events.KindEngineStarted, map[string]interface{}{"device_id": e.deviceID})
	return nil
}

// Stop tears down every subsystem Start brought up: the storage-node
// tracker, discovery, the transfer workers, the pool, then the transport.
func (e *Engine) Stop() error {
	e.publishEvents(events.KindEngineStopped, map[string]interface{}{"device_id": e.deviceID})
	close(e.nodeTrackerStop)
	_ = e.discovery.Stop()
	e.transfer.Stop()
	e.pool.Stop()
	err := e.transport.Close()
	e.bus.Close()
	return err
}

// Self returns this device's own certificate.
func (e *Engine) Self() *identity.Certificate { return e.self }

// Bus exposes the shared event bus for subscribers outside the facade
// (e.g. the websocket events endpoint in events_ws.go).
func (e *Engine) Bus() *events.Bus { return e.bus }

// ListDevices returns every device discovery currently has cached.
func (e *Engine) ListDevices() []*discovery.Device {
	return e.discovery.Devices()
}

// findDevice resolves a human-facing name (instance name or device id)
// against the discovery cache.
func (e *Engine) findDevice(name string) (*discovery.Device, bool) {
	for _, d := range e.discovery.Devices() {
		if d.InstanceName == name || d.DeviceID == name {
			return d, true
		}
	}
	return nil, false
}

// ConnectToDevice resolves name via discovery and connects to it, per
// spec.md §6 "connect_to_device(name)".
func (e *Engine) ConnectToDevice(ctx context.Context, name string, priority byte) (*transport.Connection, func(), error) {
	d, ok := e.findDevice(name)
	if !ok {
		return nil, nil, beyerr.Validation(beyerr.CodeNetworkEngine+2, "unknown device "+name)
	}
	return e.Connect(ctx, fmt.Sprintf("%s:%d", d.Hostname, d.Port), priority)
}

// Connect dials (or reuses a pooled connection to) addr directly, per
// spec.md §6 "connect(addr)". The returned func releases the connection
// back to the pool and must be called exactly once when done with it.
func (e *Engine) Connect(ctx context.Context, addr string, priority byte) (*transport.Connection, func(), error) {
	h, err := e.pool.Acquire(ctx, addr, priority)
	if err != nil {
		return nil, nil, err
	}
	return h.Conn(), h.Release, nil
}

// SendToken writes tok on conn, per spec.md §6 "send_token(token)".
func (e *Engine) SendToken(ctx context.Context, conn *transport.Connection, tok *token.Token) error {
	return e.transport.SendMessage(ctx, conn, tok)
}

// ReceiveToken reads the next token on conn according to mode, per
// spec.md §6 "receive_token(mode)".
func (e *Engine) ReceiveToken(ctx context.Context, conn *transport.Connection, mode ReceiveMode, timeout time.Duration) (*token.Token, error) {
	waitCtx, cancel := e.receiveContext(ctx, mode, timeout)
	defer cancel()
	return e.transport.ReceiveMessage(waitCtx, conn)
}

// ReceiveTokenFromAny reads the next token across every live connection,
// per spec.md §9's receive_message_from_any design note.
func (e *Engine) ReceiveTokenFromAny(ctx context.Context, mode ReceiveMode, timeout time.Duration) (*transport.Connection, *token.Token, error) {
	waitCtx, cancel := e.receiveContext(ctx, mode, timeout)
	defer cancel()
	return e.transport.ReceiveFromAny(waitCtx)
}

func (e *Engine) receiveContext(ctx context.Context, mode ReceiveMode, timeout time.Duration) (context.Context, context.CancelFunc) {
	switch mode {
	case ModeNonBlocking:
		return context.WithTimeout(ctx, nonBlockingPoll)
	case ModeTimeout:
		return context.WithTimeout(ctx, timeout)
	default:
		return context.WithCancel(ctx)
	}
}

// RegisterHandler registers handler for tokens of the given type, per
// spec.md §6 "register_handler(handler)".
func (e *Engine) RegisterHandler(tokenType string, handler token.Handler) {
	e.router.Register(tokenType, handler)
}

// StoreFile writes data to the object store, per spec.md §6 "store_file".
func (e *Engine) StoreFile(virtualPath string, data []byte, opts storage.StoreOptions) (*storage.Object, error) {
	return e.storage.Store(virtualPath, data, opts)
}

// ReadFile reads an object back out, per spec.md §6 "read_file".
func (e *Engine) ReadFile(virtualPath string, opts storage.ReadOptions) ([]byte, *storage.Object, error) {
	return e.storage.Read(virtualPath, opts)
}

// DeleteFile removes an object, per spec.md §6 "delete_file".
func (e *Engine) DeleteFile(virtualPath string, opts storage.DeleteOptions) (bool, error) {
	return e.storage.Delete(virtualPath, opts)
}

// ListDirectory lists objects under dir, per spec.md §6 "list_directory".
func (e *Engine) ListDirectory(dir string, recursive bool) []storage.Object {
	return e.storage.List(dir, recursive)
}

// SearchFiles runs a filtered search over the object store.
func (e *Engine) SearchFiles(query string, filters storage.SearchFilters) []storage.SearchResult {
	return e.storage.Search(query, filters)
}

// CheckPermission reports whether userID holds p, per spec.md §6
// "check_permission(user, permission)".
func (e *Engine) CheckPermission(operator, userID string, p permissions.Permission) bool {
	return e.permissions.CheckPermission(operator, userID, p)
}

// Permissions exposes the RBAC manager for role/assignment administration
// beyond the single check_permission op spec.md §6 names directly.
func (e *Engine) Permissions() *permissions.Manager { return e.permissions }

// Vault exposes the key vault for credential management callers outside
// the token/transfer path (e.g. provisioning a peer's shared secret).
func (e *Engine) Vault() *vault.Vault { return e.vault }

// EnqueueTransfer creates and submits a chunked transfer task.
func (e *Engine) EnqueueTransfer(sourcePath, targetPath, fileHash string, metadata map[string]interface{}) (*transfer.Task, error) {
	t, err := e.transfer.Create(sourcePath, targetPath, fileHash, metadata)
	if err != nil {
		return nil, err
	}
	e.transfer.Enqueue(t)
	return t, nil
}

// Transfer looks up a transfer task by id.
func (e *Engine) Transfer(id string) (*transfer.Task, bool) {
	return e.transfer.Task(id)
}

// PauseTransfer, ResumeTransfer, CancelTransfer control a queued or running
// transfer task by id.
func (e *Engine) PauseTransfer(id string) error  { return e.transfer.Pause(id) }
func (e *Engine) ResumeTransfer(id string) error { return e.transfer.Resume(id) }
func (e *Engine) CancelTransfer(id string) error { return e.transfer.Cancel(id) }

// Stats aggregates counters across every subsystem, per spec.md §6
// "stats()" and the scenario checks in §8/§12.
func (e *Engine) Stats() Stats {
	poolTotal, poolQueued := e.pool.Stats()
	transferQueued, transferTotal := e.transfer.Stats()
	polStats := e.policyEng.Stats()
	return Stats{
		DevicesDiscovered: len(e.discovery.Devices()),
		ActiveConnections: len(e.transport.Connections()),
		PoolConnections:   poolTotal,
		PoolQueued:        poolQueued,
		TransfersQueued:   transferQueued,
		TransfersTotal:    transferTotal,
		AuditEntries:      len(e.permissions.AuditEntries()),
		PolicyEvaluations: polStats.TotalEvaluations,
		PolicyCacheHits:   polStats.CacheHits,
	}
}
