package webrtc

import (
	"context"
	"testing"

	realtime "github.com/NemoZon/real-time-framework"
)

// fakeKernel records handler registrations.
type fakeKernel struct {
	handlers map[string]realtime.Handler
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{handlers: make(map[string]realtime.Handler)}
}

func (k *fakeKernel) UseTransport(t realtime.Transport) error { return nil }

func (k *fakeKernel) On(eventType string, h realtime.Handler) error {
	k.handlers[eventType] = h
	return nil
}

func (k *fakeKernel) OnTemplate(template string, params []string, h realtime.Handler) error {
	return nil
}

func (k *fakeKernel) Start(ctx context.Context) error    { return nil }
func (k *fakeKernel) Stop(ctx context.Context) error     { return nil }
func (k *fakeKernel) Presence() realtime.PresenceView    { return nil }
func (k *fakeKernel) Rooms() realtime.RoomView           { return nil }

// fakeToolkit records everything a handler does with it.
type fakeToolkit struct {
	clientID string

	replies    []*realtime.Message
	sent       map[string]*realtime.Message
	joined     []string
	broadcasts []roomBroadcast
}

type roomBroadcast struct {
	room string
	msg  *realtime.Message
	opts realtime.RoomBroadcastOptions
}

func newFakeToolkit(clientID string) *fakeToolkit {
	return &fakeToolkit{clientID: clientID, sent: make(map[string]*realtime.Message)}
}

func (tk *fakeToolkit) Client() realtime.Snapshot {
	return realtime.Snapshot{ID: tk.clientID}
}

func (tk *fakeToolkit) Reply(msg *realtime.Message) {
	tk.replies = append(tk.replies, msg)
}

func (tk *fakeToolkit) ReplyText(text string) {
	tk.Reply(&realtime.Message{Type: realtime.SystemReply, Payload: map[string]any{"message": text}})
}

func (tk *fakeToolkit) Send(targetID string, msg *realtime.Message) bool {
	tk.sent[targetID] = msg
	return true
}

func (tk *fakeToolkit) Broadcast(msg *realtime.Message, filter func(realtime.Snapshot) bool) {}

func (tk *fakeToolkit) Rooms() realtime.RoomActions         { return fakeRooms{tk} }
func (tk *fakeToolkit) Presence() realtime.PresenceActions  { return nil }
func (tk *fakeToolkit) Log(args ...any)                     {}

type fakeRooms struct{ tk *fakeToolkit }

func (r fakeRooms) Join(room string)  { r.tk.joined = append(r.tk.joined, room) }
func (r fakeRooms) Leave(room string) {}
func (r fakeRooms) List(room string) []string {
	return nil
}
func (r fakeRooms) Broadcast(room string, msg *realtime.Message, opts realtime.RoomBroadcastOptions) {
	r.tk.broadcasts = append(r.tk.broadcasts, roomBroadcast{room: room, msg: msg, opts: opts})
}

func attach(t *testing.T, cfg Config) *fakeKernel {
	t.Helper()
	k := newFakeKernel()
	if err := New(cfg).Attach(k); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return k
}

func dispatch(t *testing.T, k *fakeKernel, tk *fakeToolkit, msg *realtime.Message) {
	t.Helper()
	h, ok := k.handlers[msg.Type]
	if !ok {
		t.Fatalf("no handler registered for %s", msg.Type)
	}
	if err := h(context.Background(), msg, tk); err != nil {
		t.Fatalf("handler error = %v", err)
	}
}

// TestAttachRegistersChannels tests the four derived channels
func TestAttachRegistersChannels(t *testing.T) {
	t.Parallel()

	k := attach(t, Config{})
	for _, event := range []string{"webrtc:offer", "webrtc:answer", "webrtc:candidate", "webrtc:bye"} {
		if _, ok := k.handlers[event]; !ok {
			t.Errorf("channel %s not registered", event)
		}
	}

	custom := attach(t, Config{Namespace: "rtc"})
	if _, ok := custom.handlers["rtc:offer"]; !ok {
		t.Error("custom namespace channel missing")
	}
}

// TestValidation tests required fields per channel
func TestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     *realtime.Message
		reason  string
	}{
		{
			name:   "offer without description",
			msg:    &realtime.Message{Type: "webrtc:offer", Payload: map[string]any{"target": "x"}},
			reason: ReasonInvalidOffer,
		},
		{
			name:   "answer without description",
			msg:    &realtime.Message{Type: "webrtc:answer", Payload: map[string]any{"target": "x"}},
			reason: ReasonInvalidAnswer,
		},
		{
			name:   "candidate without candidate",
			msg:    &realtime.Message{Type: "webrtc:candidate", Payload: map[string]any{"target": "x"}},
			reason: ReasonInvalidCandidate,
		},
		{
			name:   "offer without target or room",
			msg:    &realtime.Message{Type: "webrtc:offer", Payload: map[string]any{"description": map[string]any{"sdp": "v=0"}}},
			reason: ReasonTargetOrRoomRequired,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			k := attach(t, Config{})
			tk := newFakeToolkit("sender")
			dispatch(t, k, tk, tt.msg)

			if len(tk.replies) != 1 {
				t.Fatalf("got %d replies, want 1", len(tk.replies))
			}
			reply := tk.replies[0]
			if reply.Type != "webrtc:error" {
				t.Errorf("reply type = %s, want webrtc:error", reply.Type)
			}
			payload := reply.Payload.(map[string]any)
			if payload["reason"] != tt.reason {
				t.Errorf("reason = %v, want %s", payload["reason"], tt.reason)
			}
			if len(tk.sent) != 0 || len(tk.broadcasts) != 0 {
				t.Error("invalid signal was still forwarded")
			}
		})
	}
}

// TestTargetedForward tests unicast routing and the envelope shape
func TestTargetedForward(t *testing.T) {
	t.Parallel()

	k := attach(t, Config{})
	tk := newFakeToolkit("sender")

	dispatch(t, k, tk, &realtime.Message{
		Type: "webrtc:offer",
		Payload: map[string]any{
			"target":      "peer-1",
			"description": map[string]any{"type": "offer", "sdp": "v=0"},
			"metadata":    map[string]any{"camera": true},
		},
	})

	env, ok := tk.sent["peer-1"]
	if !ok {
		t.Fatal("offer was not forwarded to the target")
	}
	if env.Type != "webrtc:offer" {
		t.Errorf("envelope type = %s", env.Type)
	}
	payload := env.Payload.(map[string]any)
	if payload["from"] != "sender" {
		t.Errorf("from = %v, want sender", payload["from"])
	}
	if payload["description"] == nil {
		t.Error("description lost in forwarding")
	}
	if metadata, ok := payload["metadata"].(map[string]any); !ok || metadata["camera"] != true {
		t.Errorf("metadata = %v", payload["metadata"])
	}
	if len(tk.replies) != 0 {
		t.Errorf("unexpected replies: %v", tk.replies)
	}
}

// TestOfferAlias tests the legacy "offer" payload key
func TestOfferAlias(t *testing.T) {
	t.Parallel()

	k := attach(t, Config{})
	tk := newFakeToolkit("sender")

	dispatch(t, k, tk, &realtime.Message{
		Type: "webrtc:offer",
		Payload: map[string]any{
			"target": "peer-1",
			"offer":  map[string]any{"sdp": "v=0"},
		},
	})

	env, ok := tk.sent["peer-1"]
	if !ok {
		t.Fatal("aliased offer was not forwarded")
	}
	if env.Payload.(map[string]any)["description"] == nil {
		t.Error("alias was not normalized into description")
	}
}

// TestRoomForward tests room routing excludes the sender
func TestRoomForward(t *testing.T) {
	t.Parallel()

	k := attach(t, Config{})
	tk := newFakeToolkit("sender")

	dispatch(t, k, tk, &realtime.Message{
		Type: "webrtc:candidate",
		Payload: map[string]any{
			"room":      "call-1",
			"candidate": map[string]any{"candidate": "candidate:0"},
		},
	})

	if len(tk.broadcasts) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(tk.broadcasts))
	}
	bc := tk.broadcasts[0]
	if bc.room != "call-1" {
		t.Errorf("room = %s, want call-1", bc.room)
	}
	if !bc.opts.ExceptSelf {
		t.Error("room forward must exclude the sender")
	}
}

// TestBye tests that bye needs no payload fields but still needs a route
func TestBye(t *testing.T) {
	t.Parallel()

	k := attach(t, Config{})
	tk := newFakeToolkit("sender")

	dispatch(t, k, tk, &realtime.Message{
		Type:    "webrtc:bye",
		Payload: map[string]any{"room": "call-1"},
	})

	if len(tk.replies) != 0 {
		t.Errorf("bye with a room replied an error: %v", tk.replies)
	}
	if len(tk.broadcasts) != 1 {
		t.Errorf("bye was not forwarded to the room")
	}

	// no route at all
	tk2 := newFakeToolkit("sender")
	dispatch(t, k, tk2, &realtime.Message{Type: "webrtc:bye"})
	if len(tk2.replies) != 1 {
		t.Fatalf("routeless bye got %d replies, want 1", len(tk2.replies))
	}
	if tk2.replies[0].Payload.(map[string]any)["reason"] != ReasonTargetOrRoomRequired {
		t.Error("routeless bye missing TARGET_OR_ROOM_REQUIRED")
	}
}

// TestAutoJoinRooms tests the opt-in join on offers
func TestAutoJoinRooms(t *testing.T) {
	t.Parallel()

	k := attach(t, Config{AutoJoinRooms: true})
	tk := newFakeToolkit("sender")

	dispatch(t, k, tk, &realtime.Message{
		Type: "webrtc:offer",
		Payload: map[string]any{
			"room":        "call-1",
			"description": map[string]any{"sdp": "v=0"},
		},
	})

	if len(tk.joined) != 1 || tk.joined[0] != "call-1" {
		t.Errorf("joined = %v, want [call-1]", tk.joined)
	}

	// candidates never auto-join
	tk2 := newFakeToolkit("sender")
	dispatch(t, k, tk2, &realtime.Message{
		Type: "webrtc:candidate",
		Payload: map[string]any{
			"room":      "call-1",
			"candidate": map[string]any{"candidate": "candidate:0"},
		},
	})
	if len(tk2.joined) != 0 {
		t.Errorf("candidate auto-joined: %v", tk2.joined)
	}
}
