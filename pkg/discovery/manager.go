package discovery

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/nostalgiatan/bey-sub000/config"
	"github.com/nostalgiatan/bey-sub000/internal/logger"
	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
)

const (
	mdnsPort    = 5353
	mdnsIPv4Addr = "224.0.0.251"
	mdnsIPv6Addr = "ff02::fb"
	defaultTTL  = 120 * time.Second
	queryTimeout = 5 * time.Second
)

// Manager is the discovery subsystem the Engine facade owns: it
// publishes this device's service record, answers/issues mDNS queries,
// and runs the liveness sweep, per spec.md §4.C.
type Manager struct {
	cfg      *config.DiscoveryConfig
	deviceID string
	hostname string
	port     uint16
	caps     map[string]string

	conn4 *ipv4.PacketConn
	conn6 *ipv6.PacketConn
	sock  *net.UDPConn

	cache *cache
	bus   *events.Bus
	log   logger.Logger

	pendingMu sync.Mutex
	pending   map[uint16]chan *Message

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Manager bound to the configured multicast group(s).
// The socket is not opened until Start.
func New(cfg *config.DiscoveryConfig, deviceID, hostname string, port uint16, caps map[string]string, bus *events.Bus, log logger.Logger) *Manager {
	return &Manager{
		cfg: cfg, deviceID: deviceID, hostname: hostname, port: port, caps: caps,
		cache:   newCache(cfg.CacheSizeLimit),
		bus:     bus,
		log:     log,
		pending: make(map[uint16]chan *Message),
		stopCh:  make(chan struct{}),
	}
}

// Start binds the multicast UDP socket, announces the local service, and
// launches the receive and liveness loops.
func (m *Manager) Start() error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: mdnsPort}
	sock, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return beyerr.Network(beyerr.CodeDiscoveryBase+20, "bind mDNS socket", err)
	}
	m.sock = sock
	m.conn4 = ipv4.NewPacketConn(sock)

	group := net.UDPAddr{IP: net.ParseIP(mdnsIPv4Addr)}
	ifaces, _ := net.Interfaces()
	joined := false
	for i := range ifaces {
		if err := m.conn4.JoinGroup(&ifaces[i], &group); err == nil {
			joined = true
		}
	}
	if !joined {
		m.publishEvent(events.KindServicePublishFailed, map[string]interface{}{"error": "failed to join multicast group on any interface"})
	}

	m.wg.Add(2)
	go m.receiveLoop()
	go m.livenessLoop()

	return m.PublishService()
}

// Stop sends a TTL-0 deletion record and closes the socket.
func (m *Manager) Stop() error {
	close(m.stopCh)
	_ = m.sendAnnouncement(0)
	m.wg.Wait()
	if m.sock != nil {
		return m.sock.Close()
	}
	return nil
}

func (m *Manager) instanceName() string {
	return fmt.Sprintf("%s.%s.%s", m.deviceID, m.cfg.ServiceType, m.cfg.Domain)
}

// PublishService (re-)sends the PTR/SRV/TXT announcement for this device.
func (m *Manager) PublishService() error {
	if err := m.sendAnnouncement(defaultTTL); err != nil {
		m.publishEvent(events.KindServicePublishFailed, map[string]interface{}{"error": err.Error()})
		return err
	}
	m.publishEvent(events.KindServicePublished, map[string]interface{}{"instance": m.instanceName()})
	return nil
}

func (m *Manager) sendAnnouncement(ttl time.Duration) error {
	instance := m.instanceName()

	srvRData, err := EncodeSRV(SRVData{Priority: 0, Weight: 0, Port: m.port, Target: m.hostname})
	if err != nil {
		return err
	}
	txtRData, err := EncodeTXT(m.caps)
	if err != nil {
		return err
	}
	ptrRData, err := encodeName(instance)
	if err != nil {
		return err
	}

	seconds := uint32(ttl / time.Second)
	msg := &Message{
		ID:       uint16(rand.Intn(1 << 16)),
		Response: true,
		Answers: []ResourceRecord{
			{Name: m.cfg.ServiceType + "." + m.cfg.Domain, Type: TypePTR, Class: classIN, TTL: seconds, RData: ptrRData},
			{Name: instance, Type: TypeSRV, Class: classIN, TTL: seconds, RData: srvRData},
			{Name: instance, Type: TypeTXT, Class: classIN, TTL: seconds, RData: txtRData},
		},
	}

	data, err := msg.Encode()
	if err != nil {
		return beyerr.Parse(beyerr.CodeDiscoveryBase+21, "encode announcement", err)
	}
	return m.send(data)
}

func (m *Manager) send(data []byte) error {
	dst := &net.UDPAddr{IP: net.ParseIP(mdnsIPv4Addr), Port: mdnsPort}
	_, err := m.sock.WriteToUDP(data, dst)
	if err != nil {
		return beyerr.Network(beyerr.CodeDiscoveryBase+22, "send mDNS datagram", err)
	}
	return nil
}

// QueryService issues a PTR/SRV/TXT query for serviceType (optionally
// narrowed to instance), consulting the local cache first per spec.md
// §4.C's multi-stage lookup, then falling back to a live query awaiting
// responses for up to 5s.
func (m *Manager) QueryService(serviceType, instance string) ([]*Device, error) {
	query := serviceType
	if instance != "" {
		query = instance + "." + serviceType
	}

	if hits := m.cache.lookup(query); len(hits) > 0 {
		m.publishEvent(events.KindCacheHit, map[string]interface{}{"query": query, "hits": len(hits)})
		return hits, nil
	}

	id := uint16(rand.Intn(1 << 16))
	respCh := make(chan *Message, 8)
	m.pendingMu.Lock()
	m.pending[id] = respCh
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
	}()

	q := &Message{ID: id, Questions: []Question{
		{Name: query + "." + m.cfg.Domain, Type: TypePTR, Class: classIN},
	}}
	data, err := q.Encode()
	if err != nil {
		return nil, beyerr.Parse(beyerr.CodeDiscoveryBase+23, "encode query", err)
	}
	if err := m.send(data); err != nil {
		m.publishEvent(events.KindQueryFailed, map[string]interface{}{"query": query, "error": err.Error()})
		return nil, err
	}

	deadline := time.After(queryTimeout)
	var collected []*Device
	for {
		select {
		case <-deadline:
			m.publishEvent(events.KindQueryCompleted, map[string]interface{}{"query": query, "hits": len(collected)})
			return sortedByPriorityWeight(collected), nil
		case resp := <-respCh:
			collected = append(collected, m.devicesFromAnswers(resp.Answers)...)
		}
	}
}

func (m *Manager) devicesFromAnswers(answers []ResourceRecord) []*Device {
	var out []*Device
	var srv *SRVData
	txt := make(map[string]string)
	var instanceName string

	for _, rr := range answers {
		switch rr.Type {
		case TypeSRV:
			// rr.RData is decoded standalone: target names we emit never use
			// compression pointers, so offsets are relative to RData alone.
			target, _, err := decodeName(rr.RData, 6)
			if err == nil {
				priority := uint16(rr.RData[0])<<8 | uint16(rr.RData[1])
				weight := uint16(rr.RData[2])<<8 | uint16(rr.RData[3])
				port := uint16(rr.RData[4])<<8 | uint16(rr.RData[5])
				srv = &SRVData{Priority: priority, Weight: weight, Port: port, Target: target}
			}
			instanceName = rr.Name
		case TypeTXT:
			txt = DecodeTXT(rr.RData)
			instanceName = rr.Name
		}
	}

	if srv != nil {
		d := &Device{
			DeviceID:     txt["device_id"],
			InstanceName: instanceName,
			Hostname:     srv.Target,
			Port:         srv.Port,
			Priority:     srv.Priority,
			Weight:       srv.Weight,
			Capabilities: txt,
			FirstSeen:    time.Now(),
			LastSeen:     time.Now(),
		}
		isNew := m.cache.put(d)
		if isNew {
			m.publishEvent(events.KindDeviceDiscovered, map[string]interface{}{"device_id": d.DeviceID, "instance": d.InstanceName})
		} else {
			m.publishEvent(events.KindDeviceUpdated, map[string]interface{}{"device_id": d.DeviceID, "instance": d.InstanceName})
		}
		out = append(out, d)
	}
	return out
}

func (m *Manager) receiveLoop() {
	defer m.wg.Done()
	buf := make([]byte, 9000)
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}
		_ = m.sock.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := m.sock.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			continue
		}
		if !msg.Response {
			continue
		}
		m.pendingMu.Lock()
		ch, ok := m.pending[msg.ID]
		m.pendingMu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		} else {
			m.devicesFromAnswers(msg.Answers)
		}
	}
}

func (m *Manager) livenessLoop() {
	defer m.wg.Done()
	interval := m.cfg.QueryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := m.cfg.DeviceTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			for _, removed := range m.cache.sweepExpired(timeout) {
				m.publishEvent(events.KindDeviceRemoved, map[string]interface{}{"device_id": removed.DeviceID, "instance": removed.InstanceName})
			}
		}
	}
}

func (m *Manager) publishEvent(kind events.Kind, fields map[string]interface{}) {
	if m.bus != nil {
		m.bus.Publish(events.New(kind, "discovery", fields))
	}
}

// Devices returns every device currently in the cache.
func (m *Manager) Devices() []*Device { return m.cache.all() }
