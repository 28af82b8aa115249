package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/logger"
)

// recorder is a fake client capturing everything sent to it.
type recorder struct {
	ch chan *realtime.Message
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan *realtime.Message, 32)}
}

func (r *recorder) send(msg *realtime.Message) error {
	r.ch <- msg
	return nil
}

// next waits for one delivered message.
func (r *recorder) next(t *testing.T) *realtime.Message {
	t.Helper()
	select {
	case msg := <-r.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// none asserts nothing is delivered within the window.
func (r *recorder) none(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case msg := <-r.ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(window):
	}
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	k := New(logger.New(logger.LevelSilent, "test"))
	if err := k.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { k.Stop(context.Background()) })
	return k
}

func connect(k *Kernel, id string) *recorder {
	r := newRecorder()
	k.Hub().RegisterClient(&realtime.ClientContext{
		ID:        id,
		Transport: "test",
		SendFunc:  r.send,
	})
	return r
}

// TestAckAfterHandlers tests that system:ack arrives strictly after every
// handler has completed
func TestAckAfterHandlers(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("greet", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.ReplyText("hello")
		return nil
	})
	k.On("greet", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.ReplyText("again")
		return nil
	})

	r := connect(k, "c1")
	k.Hub().Receive(&realtime.Message{Type: "greet", Ack: "t1"}, "c1")

	first := r.next(t)
	if first.Type != realtime.SystemReply {
		t.Fatalf("first message type = %s, want %s", first.Type, realtime.SystemReply)
	}
	second := r.next(t)
	if second.Type != realtime.SystemReply {
		t.Fatalf("second message type = %s, want %s", second.Type, realtime.SystemReply)
	}
	ack := r.next(t)
	if ack.Type != realtime.SystemAck {
		t.Fatalf("third message type = %s, want %s", ack.Type, realtime.SystemAck)
	}
	payload := ack.Payload.(map[string]any)
	if payload["ack"] != "t1" {
		t.Errorf("ack token = %v, want t1", payload["ack"])
	}
}

// TestUnknownEventWithAck tests that an unhandled message still gets exactly
// one system:ack and no error
func TestUnknownEventWithAck(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	r := connect(k, "c1")

	k.Hub().Receive(&realtime.Message{Type: "nope", Ack: "z"}, "c1")

	ack := r.next(t)
	if ack.Type != realtime.SystemAck {
		t.Fatalf("got %s, want %s", ack.Type, realtime.SystemAck)
	}
	r.none(t, 150*time.Millisecond)
}

// TestNoAckWithoutToken tests that messages without ack get no system:ack
func TestNoAckWithoutToken(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("quiet", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		return nil
	})
	r := connect(k, "c1")

	k.Hub().Receive(&realtime.Message{Type: "quiet"}, "c1")
	r.none(t, 150*time.Millisecond)
}

// TestHandlerErrorIsolation tests that a failing handler reports
// system:error and does not stop the remaining handlers or the ack
func TestHandlerErrorIsolation(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("boom", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		return errors.New("kaput")
	})
	k.On("boom", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.ReplyText("survived")
		return nil
	})

	r := connect(k, "c1")
	k.Hub().Receive(&realtime.Message{Type: "boom", Ack: "b1"}, "c1")

	errMsg := r.next(t)
	if errMsg.Type != realtime.SystemError {
		t.Fatalf("first message type = %s, want %s", errMsg.Type, realtime.SystemError)
	}
	payload := errMsg.Payload.(map[string]any)
	if payload["message"] != realtime.ErrInternalHandler {
		t.Errorf("error message = %v", payload["message"])
	}
	if payload["details"] != "kaput" {
		t.Errorf("error details = %v", payload["details"])
	}

	if got := r.next(t); got.Type != realtime.SystemReply {
		t.Fatalf("second handler did not run, got %s", got.Type)
	}
	if got := r.next(t); got.Type != realtime.SystemAck {
		t.Fatalf("ack missing after handler failure, got %s", got.Type)
	}

	// subsequent invocations still dispatch
	k.Hub().Receive(&realtime.Message{Type: "boom"}, "c1")
	if got := r.next(t); got.Type != realtime.SystemError {
		t.Fatalf("got %s, want %s", got.Type, realtime.SystemError)
	}
}

// TestHandlerPanicIsolation tests that a panicking handler is contained
func TestHandlerPanicIsolation(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("explode", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		panic("blew up")
	})

	r := connect(k, "c1")
	k.Hub().Receive(&realtime.Message{Type: "explode", Ack: "p"}, "c1")

	if got := r.next(t); got.Type != realtime.SystemError {
		t.Fatalf("got %s, want %s", got.Type, realtime.SystemError)
	}
	if got := r.next(t); got.Type != realtime.SystemAck {
		t.Fatalf("got %s, want %s", got.Type, realtime.SystemAck)
	}
}

// TestWildcardOrdering tests typed handlers run before wildcard handlers
func TestWildcardOrdering(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("*", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.ReplyText("wildcard")
		return nil
	})
	k.On("typed", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.ReplyText("typed")
		return nil
	})

	r := connect(k, "c1")
	k.Hub().Receive(&realtime.Message{Type: "typed"}, "c1")

	first := r.next(t).Payload.(map[string]any)
	if first["message"] != "typed" {
		t.Errorf("first handler = %v, want typed", first["message"])
	}
	second := r.next(t).Payload.(map[string]any)
	if second["message"] != "wildcard" {
		t.Errorf("second handler = %v, want wildcard", second["message"])
	}
}

// TestReservedRegistration tests that system events cannot be registered
func TestReservedRegistration(t *testing.T) {
	t.Parallel()

	k := New(logger.New(logger.LevelSilent, "test"))
	noop := func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error { return nil }

	for _, event := range []string{realtime.SystemAck, realtime.SystemError, realtime.SystemReply} {
		if err := k.On(event, noop); err == nil {
			t.Errorf("On(%s) accepted a reserved type", event)
		}
	}
	if err := k.On("", noop); err == nil {
		t.Error("On(\"\") accepted an empty type")
	}
	if err := k.On("x", nil); err == nil {
		t.Error("On accepted a nil handler")
	}
}

// TestTemplateRegistration tests placeholder substitution and arity checks
func TestTemplateRegistration(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	err := k.OnTemplate("chat:join:[roomId]", []string{"lobby"}, func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.ReplyText("joined")
		return nil
	})
	if err != nil {
		t.Fatalf("OnTemplate() error = %v", err)
	}

	if err := k.OnTemplate("a:[x]:[y]", []string{"only-one"}, nil); err == nil {
		t.Error("OnTemplate accepted mismatched parameter count")
	}

	r := connect(k, "c1")
	k.Hub().Receive(&realtime.Message{Type: "chat:join:lobby"}, "c1")
	if got := r.next(t); got.Type != realtime.SystemReply {
		t.Fatalf("substituted handler did not fire, got %s", got.Type)
	}
}

// TestRoomBroadcast tests ExceptSelf scoping and the no-room no-op
func TestRoomBroadcast(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("chat:message", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.Rooms().Broadcast("", msg, realtime.RoomBroadcastOptions{ExceptSelf: true})
		return nil
	})

	a := connect(k, "a")
	b := connect(k, "b")
	k.Hub().JoinRoom("a", "lobby")
	k.Hub().JoinRoom("b", "lobby")

	// room resolves from the triggering message
	k.Hub().Receive(&realtime.Message{Type: "chat:message", Room: "lobby"}, "b")
	got := a.next(t)
	if got.Type != "chat:message" || got.Timestamp == 0 {
		t.Errorf("unexpected broadcast: %+v", got)
	}
	b.none(t, 150*time.Millisecond)

	// no room anywhere: silent no-op
	k.Hub().Receive(&realtime.Message{Type: "chat:message"}, "b")
	a.none(t, 150*time.Millisecond)
	b.none(t, 150*time.Millisecond)
}

// TestToolkitPresenceUpdate tests the originator-bound presence update
func TestToolkitPresenceUpdate(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("presence:update", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		if fields, ok := msg.Payload.(map[string]any); ok {
			tk.Presence().Update(fields)
		}
		return nil
	})

	r := connect(k, "c1")
	k.Hub().Receive(&realtime.Message{
		Type:    "presence:update",
		Payload: map[string]any{"name": "x"},
		Ack:     "p1",
	}, "c1")

	if got := r.next(t); got.Type != realtime.SystemAck {
		t.Fatalf("got %s, want %s", got.Type, realtime.SystemAck)
	}

	snap, ok := k.Presence().Get("c1")
	if !ok {
		t.Fatal("presence entry missing")
	}
	if snap.Metadata["name"] != "x" {
		t.Errorf("metadata = %v, want name=x", snap.Metadata)
	}
}

// TestToolkitFilteredBroadcast tests the presence-filtered broadcast path
func TestToolkitFilteredBroadcast(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t)
	k.On("notify", func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		tk.Broadcast(&realtime.Message{Type: "notified"}, func(s realtime.Snapshot) bool {
			return s.ID != tk.Client().ID
		})
		return nil
	})

	a := connect(k, "a")
	b := connect(k, "b")

	k.Hub().Receive(&realtime.Message{Type: "notify"}, "a")
	if got := b.next(t); got.Type != "notified" {
		t.Errorf("got %s, want notified", got.Type)
	}
	a.none(t, 150*time.Millisecond)
}

// TestStartIdempotent tests repeated Start and Stop calls
func TestStartIdempotent(t *testing.T) {
	t.Parallel()

	k := New(logger.New(logger.LevelSilent, "test"))
	ctx := context.Background()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := k.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := k.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := k.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
