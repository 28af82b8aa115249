// Package kernel implements the dispatch kernel: the handler registry, the
// single dispatch worker and the per-invocation handler toolkit.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/someonegg/gox/syncx"

	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/hub"
	"github.com/NemoZon/real-time-framework/internal/logger"
)

// placeholderRe matches one bracketed placeholder in an event template.
var placeholderRe = regexp.MustCompile(`\[[^\[\]]+\]`)

const inboxSize = 256

type inbound struct {
	msg    *realtime.Message
	client *realtime.ClientContext
}

// Kernel routes inbound messages to registered handlers.
//
// Inbound messages flow through one inbox channel drained by a single worker
// goroutine, so handlers for one message run sequentially and per-client FIFO
// order (preserved by each transport reading its socket sequentially) is kept
// through dispatch.
type Kernel struct {
	log *logger.Logger
	hub *hub.Hub

	mu         sync.Mutex
	typed      map[string][]realtime.Handler
	wildcard   []realtime.Handler
	transports []realtime.Transport
	started    bool

	inbox     chan inbound
	runCtx    context.Context
	runCancel context.CancelFunc
	workerD   syncx.DoneChan
}

// New allocates a Kernel with its own Hub.
func New(log *logger.Logger) *Kernel {
	k := &Kernel{
		log:   log.Named("kernel"),
		hub:   hub.New(log),
		typed: make(map[string][]realtime.Handler),
		inbox: make(chan inbound, inboxSize),
	}
	k.hub.OnMessage(k.enqueue)
	k.hub.OnClientConnected(func(c *realtime.ClientContext) {
		k.log.Debugf("client registered id=%s transport=%s", c.ID, c.Transport)
	})
	k.hub.OnClientDisconnected(func(c *realtime.ClientContext, reason string) {
		k.log.Debugf("client gone id=%s reason=%q", c.ID, reason)
	})
	return k
}

// Hub returns the kernel's hub. Transports are started against it.
func (k *Kernel) Hub() *hub.Hub {
	return k.hub
}

// UseTransport adds a transport. If the kernel is already started the
// transport is started immediately.
func (k *Kernel) UseTransport(t realtime.Transport) error {
	if t == nil {
		return errors.New(realtime.ErrTransportRequired)
	}

	k.mu.Lock()
	k.transports = append(k.transports, t)
	started := k.started
	ctx := k.runCtx
	k.mu.Unlock()

	if started {
		return t.Start(ctx, k.hub)
	}
	return nil
}

// On registers a handler for a message type. "*" targets the wildcard bucket,
// which runs after the typed handlers for every message. Reserved "system:"
// types cannot be registered.
func (k *Kernel) On(eventType string, h realtime.Handler) error {
	if h == nil {
		return errors.New(realtime.ErrNilHandler)
	}
	if eventType == "" {
		return errors.New(realtime.ErrMissingType)
	}
	if strings.HasPrefix(eventType, realtime.SystemPrefix) {
		return errors.New(realtime.ErrReservedType)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if eventType == realtime.Wildcard {
		k.wildcard = append(k.wildcard, h)
	} else {
		k.typed[eventType] = append(k.typed[eventType], h)
	}
	return nil
}

// OnTemplate registers a handler for an event template with bracketed
// placeholders, e.g. OnTemplate("chat:join:[roomId]", []string{"lobby"}, h)
// registers "chat:join:lobby". The parameter count must match the placeholder
// count.
func (k *Kernel) OnTemplate(template string, params []string, h realtime.Handler) error {
	placeholders := placeholderRe.FindAllStringIndex(template, -1)
	if len(placeholders) != len(params) {
		return fmt.Errorf("%s: template %q has %d placeholders, got %d params",
			realtime.ErrTemplateParams, template, len(placeholders), len(params))
	}

	i := 0
	event := placeholderRe.ReplaceAllStringFunc(template, func(string) string {
		p := params[i]
		i++
		return p
	})
	return k.On(event, h)
}

// Start starts the dispatch worker and every transport in parallel. It is
// idempotent: starting a started kernel is a no-op.
func (k *Kernel) Start(ctx context.Context) error {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return nil
	}
	k.started = true
	k.runCtx, k.runCancel = context.WithCancel(context.Background())
	k.workerD = syncx.NewDoneChan()
	transports := make([]realtime.Transport, len(k.transports))
	copy(transports, k.transports)
	k.mu.Unlock()

	go k.run()

	if err := k.eachTransport(transports, func(t realtime.Transport) error {
		return t.Start(ctx, k.hub)
	}); err != nil {
		k.teardownWorker()
		k.mu.Lock()
		k.started = false
		k.mu.Unlock()
		return err
	}

	k.log.Infof("started with %d transport(s)", len(transports))
	return nil
}

// Stop stops every transport in parallel, then the dispatch worker. The
// kernel is stopped only once all transports have stopped.
func (k *Kernel) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return nil
	}
	k.started = false
	transports := make([]realtime.Transport, len(k.transports))
	copy(transports, k.transports)
	k.mu.Unlock()

	err := k.eachTransport(transports, func(t realtime.Transport) error {
		return t.Stop(ctx)
	})
	k.teardownWorker()
	k.log.Infof("stopped")
	return err
}

// Presence exposes a read-only presence view.
func (k *Kernel) Presence() realtime.PresenceView {
	return k.hub.Presence()
}

// Rooms exposes a read-only room view.
func (k *Kernel) Rooms() realtime.RoomView {
	return k.hub.Rooms()
}

// eachTransport applies fn to every transport in parallel and returns the
// first error observed.
func (k *Kernel) eachTransport(transports []realtime.Transport, fn func(realtime.Transport) error) error {
	errCh := make(chan error, len(transports))
	var wg sync.WaitGroup
	for _, t := range transports {
		wg.Add(1)
		go func(t realtime.Transport) {
			defer wg.Done()
			errCh <- fn(t)
		}(t)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) teardownWorker() {
	k.mu.Lock()
	cancel := k.runCancel
	workerD := k.workerD
	k.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if workerD != nil {
		<-workerD
	}
}

// enqueue is the hub's message event consumer. It hands the message off to
// the dispatch worker, preserving arrival order.
func (k *Kernel) enqueue(msg *realtime.Message, c *realtime.ClientContext) {
	k.mu.Lock()
	started := k.started
	ctx := k.runCtx
	k.mu.Unlock()
	if !started {
		k.log.Debugf("dropping message type=%s: %s", msg.Type, realtime.ErrKernelNotStarted)
		return
	}

	select {
	case k.inbox <- inbound{msg: msg, client: c}:
	case <-ctx.Done():
	}
}

func (k *Kernel) run() {
	defer k.workerD.SetDone()
	for {
		select {
		case <-k.runCtx.Done():
			return
		case it := <-k.inbox:
			k.dispatch(it.msg, it.client)
		}
	}
}

// dispatch routes one inbound message: typed handlers first, wildcard after,
// each invoked sequentially with errors isolated, then the ack reply.
func (k *Kernel) dispatch(msg *realtime.Message, c *realtime.ClientContext) {
	k.mu.Lock()
	handlers := make([]realtime.Handler, 0, len(k.typed[msg.Type])+len(k.wildcard))
	handlers = append(handlers, k.typed[msg.Type]...)
	handlers = append(handlers, k.wildcard...)
	k.mu.Unlock()

	if len(handlers) == 0 {
		k.log.Debugf("no handlers for type=%s", msg.Type)
		if msg.Ack != nil {
			k.sendAck(c.ID, msg.Ack)
		}
		return
	}

	// Snapshot may be gone if the client disconnected between receive and
	// dispatch; abort silently in that case.
	snap, ok := k.hub.Presence().Get(c.ID)
	if !ok {
		return
	}

	tk := newToolkit(k, snap, msg)
	for _, h := range handlers {
		if err := k.invoke(h, msg, tk); err != nil {
			k.log.Errorf("handler error type=%s client=%s: %v", msg.Type, c.ID, err)
			k.hub.Send(c.ID, &realtime.Message{
				Type: realtime.SystemError,
				Payload: map[string]any{
					"message": realtime.ErrInternalHandler,
					"details": err.Error(),
				},
			})
		}
	}

	if msg.Ack != nil {
		k.sendAck(c.ID, msg.Ack)
	}
}

// invoke runs one handler, converting panics into errors so a misbehaving
// handler cannot take down the dispatch worker.
func (k *Kernel) invoke(h realtime.Handler, msg *realtime.Message, tk realtime.Toolkit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}
	}()
	return h(k.runCtx, msg, tk)
}

func (k *Kernel) sendAck(clientID string, token any) {
	k.hub.Send(clientID, &realtime.Message{
		Type:    realtime.SystemAck,
		Payload: map[string]any{"ack": token},
	})
}
