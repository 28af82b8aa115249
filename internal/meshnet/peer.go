package meshnet

import (
	"bufio"
	"errors"
	"net"
	"sync"

	"github.com/someonegg/gox/syncx"

	realtime "github.com/NemoZon/real-time-framework"
)

// maxLineSize caps one envelope line at 1MB.
const maxLineSize = 1024 * 1024

// peerConn is one mesh connection, inbound or outbound. It becomes ready once
// the hello exchange completes and the duplicate check passes; only then is
// the synthetic client registered with the Hub.
type peerConn struct {
	t       *Transport
	conn    net.Conn
	addr    string // configured dial address, "" for inbound connections
	dialed  bool
	nodeID  string // remote node, known after hello
	ready   bool
	discard bool // lost duplicate resolution; never reconnected

	writeMu   sync.Mutex
	closeOnce sync.Once
	stopD     syncx.DoneChan
}

func newPeerConn(t *Transport, conn net.Conn, addr string, dialed bool) *peerConn {
	return &peerConn{
		t:      t,
		conn:   conn,
		addr:   addr,
		dialed: dialed,
		stopD:  syncx.NewDoneChan(),
	}
}

// clientID is the synthetic Hub client id for this peer.
func (p *peerConn) clientID() string {
	return "mesh:" + p.nodeID
}

// sendHello writes this node's hello envelope. The dialer sends it
// immediately on connect; the acceptor replies upon receiving the remote
// hello.
func (p *peerConn) sendHello() error {
	return p.writeEnvelope(envelope{Kind: kindHello, NodeID: p.t.nodeID})
}

// sendMessage forwards an outbound message to the remote node.
func (p *peerConn) sendMessage(msg *realtime.Message) error {
	if !p.ready || p.stopD.R().Done() {
		return errors.New(realtime.ErrConnectionClosed)
	}
	return p.writeEnvelope(envelope{Kind: kindMessage, Message: msg})
}

func (p *peerConn) writeEnvelope(env envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.conn.Write(data)
	return err
}

// readLoop splits the inbound byte stream at newlines and handles one
// envelope per line. Empty lines are ignored.
func (p *peerConn) readLoop() {
	defer p.close("connection closed")

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		env, err := decodeEnvelope(line)
		if err != nil {
			p.t.log.Errorf("dropping malformed envelope from %s: %v", p.conn.RemoteAddr(), err)
			continue
		}

		switch env.Kind {
		case kindHello:
			p.t.handleHello(p, env.NodeID)
		case kindMessage:
			if p.ready && env.Message != nil {
				p.t.hub.Receive(env.Message, p.clientID())
			}
		default:
			p.t.log.Debugf("ignoring envelope kind=%q from %s", env.Kind, p.conn.RemoteAddr())
		}
	}
}

// close releases the socket, the Hub registration and (for configured
// addresses) schedules a reconnect. Runs at most once.
func (p *peerConn) close(reason string) {
	p.closeOnce.Do(func() {
		p.stopD.SetDone()
		p.conn.Close()
		p.t.handleClose(p, reason)
	})
}
