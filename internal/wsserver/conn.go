package wsserver

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/codec"
	"github.com/NemoZon/real-time-framework/internal/logger"
)

const sendBufferSize = 256

// conn is one accepted WebSocket connection. The read loop owns the inbound
// buffer; all writes are serialized through the write pump.
type conn struct {
	id      string
	srv     *Server
	netConn net.Conn
	br      *bufio.Reader
	log     *logger.Logger

	sendCh  chan []byte
	done    chan struct{}
	alive   atomic.Bool
	limiter *rate.Limiter

	closeOnce sync.Once
}

func newConn(srv *Server, netConn net.Conn, br *bufio.Reader, id string, limiter *rate.Limiter) *conn {
	c := &conn{
		id:      id,
		srv:     srv,
		netConn: netConn,
		br:      br,
		log:     srv.log.Named("conn"),
		sendCh:  make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: limiter,
	}
	c.alive.Store(true)
	return c
}

// send encodes a message as a text frame and queues it for the write pump.
func (c *conn) send(msg *realtime.Message) error {
	data, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(EncodeFrame(OpcodeText, data))
}

func (c *conn) enqueue(frame []byte) error {
	select {
	case c.sendCh <- frame:
		return nil
	case <-c.done:
		return errors.New(realtime.ErrConnectionClosed)
	}
}

// readLoop decodes frames until the socket errors or closes. Any inbound
// frame marks the connection alive for the heartbeat.
func (c *conn) readLoop() {
	defer c.close("read loop ended")

	for {
		opcode, payload, err := ReadFrame(c.br)
		if err != nil {
			return
		}
		c.alive.Store(true)

		switch opcode {
		case OpcodeText:
			if c.limiter != nil && !c.limiter.Allow() {
				c.log.Errorf("rate limit exceeded id=%s", c.id)
				c.close("rate limit exceeded")
				return
			}
			msg, err := codec.Decode(payload)
			if err != nil {
				// Protocol violation: drop the message, keep the connection.
				c.log.Errorf("dropping inbound payload id=%s: %v", c.id, err)
				continue
			}
			c.srv.hub.Receive(msg, c.id)
		case OpcodeClose:
			c.close("client close")
			return
		case OpcodePing:
			if err := c.enqueue(EncodeFrame(OpcodePong, payload)); err != nil {
				return
			}
		case OpcodePong:
			// alive flag already set above
		default:
			// unsupported opcodes are ignored
		}
	}
}

// writePump serializes all socket writes and drives the heartbeat: on each
// tick a connection that produced no data since the last tick is closed,
// otherwise the alive flag is cleared and an empty ping is sent.
func (c *conn) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.sendCh:
			if _, err := c.netConn.Write(frame); err != nil {
				c.close("write error")
				return
			}
		case <-ticker.C:
			if !c.alive.Load() {
				c.close("heartbeat timeout")
				return
			}
			c.alive.Store(false)
			if _, err := c.netConn.Write(EncodeFrame(OpcodePing, nil)); err != nil {
				c.close("write error")
				return
			}
		case <-c.done:
			return
		}
	}
}

// close releases the socket and the Hub registration exactly once, on any
// exit path.
func (c *conn) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.netConn.Close()
		c.srv.removeConn(c.id)
		c.srv.hub.UnregisterClient(c.id, reason)
	})
}
