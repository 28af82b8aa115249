package meshnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/logger"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 9090
	DefaultReconnectInterval = 5 * time.Second

	dialTimeout = 10 * time.Second
)

// Config configures the peer-mesh transport.
type Config struct {
	// NodeID identifies this node on the mesh. Defaults to a fresh UUID.
	NodeID string

	// Host and Port select the listen address (default 0.0.0.0:9090).
	Host string
	Port int

	// Peers lists host:port addresses to dial. Only configured addresses
	// are ever reconnected.
	Peers []string

	// ReconnectInterval is the fixed delay before redialing a configured
	// peer after a dial error or connection loss (default 5s).
	ReconnectInterval time.Duration

	// LogLevel is one of silent, error, info, debug (default info).
	LogLevel string
}

// Transport is the peer-mesh transport. Each remote node is surfaced locally
// as one synthetic Hub client with id "mesh:<nodeId>"; at most one live
// connection exists per remote node.
type Transport struct {
	nodeID string
	cfg    Config
	log    *logger.Logger
	hub    realtime.Hub

	mu         sync.Mutex
	running    bool
	stopped    bool
	ln         net.Listener
	peers      map[string]*peerConn // ready connections by remote nodeID
	conns      map[*peerConn]struct{}
	dialing    map[string]bool // addresses with a dial in flight
	reconnects map[string]*time.Timer
	configured map[string]bool
}

// New creates the transport with defaults applied.
func New(cfg Config) *Transport {
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}

	configured := make(map[string]bool, len(cfg.Peers))
	for _, addr := range cfg.Peers {
		configured[addr] = true
	}
	return &Transport{
		nodeID:     cfg.NodeID,
		cfg:        cfg,
		log:        logger.New(logger.ParseLevel(cfg.LogLevel), "mesh"),
		peers:      make(map[string]*peerConn),
		conns:      make(map[*peerConn]struct{}),
		dialing:    make(map[string]bool),
		reconnects: make(map[string]*time.Timer),
		configured: configured,
	}
}

// Name implements realtime.Transport.
func (t *Transport) Name() string {
	return realtime.TransportMesh
}

// NodeID returns this node's mesh identity.
func (t *Transport) NodeID() string {
	return t.nodeID
}

// Start opens the TCP listener and initiates a dial to every configured
// peer. Listen failures propagate to the caller.
func (t *Transport) Start(ctx context.Context, hub realtime.Hub) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("mesh transport already started")
	}
	t.hub = hub

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.ln = ln
	t.running = true
	t.mu.Unlock()

	go t.acceptLoop()
	for _, peer := range t.cfg.Peers {
		go t.dial(peer)
	}

	t.log.Infof("node %s listening on %s, %d configured peer(s)", t.nodeID, addr, len(t.cfg.Peers))
	return nil
}

// Stop closes the listener, cancels pending reconnects and closes every
// connection, which unregisters each ready peer from the Hub.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.running || t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	ln := t.ln
	for _, timer := range t.reconnects {
		timer.Stop()
	}
	t.reconnects = make(map[string]*time.Timer)
	conns := make([]*peerConn, 0, len(t.conns))
	for p := range t.conns {
		conns = append(conns, p)
	}
	t.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, p := range conns {
		p.close("transport stopped")
	}
	return nil
}

// Broadcast forwards a message to every ready peer.
func (t *Transport) Broadcast(msg *realtime.Message) {
	t.mu.Lock()
	peers := make([]*peerConn, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()

	for _, p := range peers {
		if err := p.sendMessage(msg); err != nil {
			t.log.Errorf("broadcast to %s failed: %v", p.nodeID, err)
		}
	}
}

// Addr returns the bound listener address, useful when Port 0 was requested.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			if !stopped {
				t.log.Errorf("accept failed: %v", err)
			}
			return
		}

		p := newPeerConn(t, conn, "", false)
		t.track(p)
		go p.readLoop()
	}
}

// dial connects to a configured peer. It is a no-op while another dial to the
// same address is pending or a ready connection bound to it exists.
func (t *Transport) dial(addr string) {
	t.mu.Lock()
	if t.stopped || t.dialing[addr] || t.addrActiveLocked(addr) {
		t.mu.Unlock()
		return
	}
	t.dialing[addr] = true
	t.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)

	t.mu.Lock()
	delete(t.dialing, addr)
	stopped := t.stopped
	t.mu.Unlock()

	if err != nil {
		if !stopped {
			t.log.Debugf("dial %s failed: %v", addr, err)
			t.scheduleReconnect(addr)
		}
		return
	}
	if stopped {
		conn.Close()
		return
	}

	p := newPeerConn(t, conn, addr, true)
	t.track(p)
	// The dialer sends its hello immediately upon connect.
	if err := p.sendHello(); err != nil {
		p.close("hello write failed")
		return
	}
	go p.readLoop()
}

// addrActiveLocked reports whether a ready connection is bound to addr.
// Callers must hold t.mu.
func (t *Transport) addrActiveLocked(addr string) bool {
	for _, p := range t.peers {
		if p.addr == addr {
			return true
		}
	}
	return false
}

func (t *Transport) track(p *peerConn) {
	t.mu.Lock()
	t.conns[p] = struct{}{}
	t.mu.Unlock()
}

// handleHello completes the handshake for one connection. If another active
// connection to the same node exists, the new one is discarded immediately
// without a hello reply; otherwise the peer becomes ready and, on the
// acceptor side, replies with its own hello.
func (t *Transport) handleHello(p *peerConn, remoteNodeID string) {
	if remoteNodeID == "" || remoteNodeID == t.nodeID {
		t.log.Debugf("rejecting hello with node id %q", remoteNodeID)
		p.close("invalid hello")
		return
	}

	t.mu.Lock()
	if p.nodeID != "" {
		// repeated hello on the same connection
		t.mu.Unlock()
		return
	}
	p.nodeID = remoteNodeID

	if existing, ok := t.peers[remoteNodeID]; ok {
		// Duplicate connection to a known node: the new one loses. If the
		// loser carried a configured dial address and the survivor has
		// none, the survivor adopts it so reconnect coverage is kept.
		if existing.addr == "" && p.addr != "" {
			existing.addr = p.addr
			existing.dialed = true
		}
		p.discard = true
		t.mu.Unlock()
		t.log.Debugf("duplicate connection for node %s, discarding", remoteNodeID)
		p.close("duplicate connection")
		return
	}

	p.ready = true
	t.peers[remoteNodeID] = p
	inbound := !p.dialed
	t.mu.Unlock()

	if inbound {
		if err := p.sendHello(); err != nil {
			p.close("hello write failed")
			return
		}
	}

	t.hub.RegisterClient(&realtime.ClientContext{
		ID:          p.clientID(),
		Transport:   realtime.TransportMesh,
		Metadata:    map[string]any{"nodeId": remoteNodeID},
		ConnectedAt: time.Now().UnixMilli(),
		SendFunc:    p.sendMessage,
		CloseFunc: func(reason string) error {
			p.close(reason)
			return nil
		},
	})
	t.log.Infof("peer ready node=%s addr=%s", remoteNodeID, p.conn.RemoteAddr())
}

// handleClose finishes a connection's lifecycle: the ready registration is
// torn down and configured addresses are scheduled for reconnect. Discarded
// duplicates are never reconnected.
func (t *Transport) handleClose(p *peerConn, reason string) {
	t.mu.Lock()
	delete(t.conns, p)
	wasReady := p.ready
	if wasReady && t.peers[p.nodeID] == p {
		delete(t.peers, p.nodeID)
	}
	reconnect := p.dialed && p.addr != "" && !p.discard && !t.stopped && t.configured[p.addr]
	t.mu.Unlock()

	if wasReady {
		t.hub.UnregisterClient(p.clientID(), reason)
	}
	if reconnect {
		t.scheduleReconnect(p.addr)
	}
}

// scheduleReconnect arms one reconnect timer per address. Addresses that were
// not explicitly configured are never redialed.
func (t *Transport) scheduleReconnect(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || !t.configured[addr] {
		return
	}
	if _, pending := t.reconnects[addr]; pending {
		return
	}
	t.reconnects[addr] = time.AfterFunc(t.cfg.ReconnectInterval, func() {
		t.mu.Lock()
		delete(t.reconnects, addr)
		t.mu.Unlock()
		t.dial(addr)
	})
}
