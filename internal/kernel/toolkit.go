package kernel

import (
	realtime "github.com/NemoZon/real-time-framework"
)

// toolkit is the per-invocation capability bundle handed to handlers. It is a
// small value object holding a back-pointer to the kernel and the snapshot of
// the originating client, so handler signatures stay uniform and testable.
type toolkit struct {
	k    *Kernel
	snap realtime.Snapshot
	msg  *realtime.Message
}

func newToolkit(k *Kernel, snap realtime.Snapshot, msg *realtime.Message) *toolkit {
	return &toolkit{k: k, snap: snap, msg: msg}
}

func (t *toolkit) Client() realtime.Snapshot {
	return t.snap
}

func (t *toolkit) Reply(msg *realtime.Message) {
	t.k.hub.Send(t.snap.ID, msg)
}

func (t *toolkit) ReplyText(text string) {
	t.Reply(&realtime.Message{
		Type:    realtime.SystemReply,
		Payload: map[string]any{"message": text},
	})
}

func (t *toolkit) Send(targetID string, msg *realtime.Message) bool {
	return t.k.hub.Send(targetID, msg)
}

func (t *toolkit) Broadcast(msg *realtime.Message, filter func(realtime.Snapshot) bool) {
	if filter == nil {
		t.k.hub.Broadcast(msg, realtime.BroadcastOptions{})
		return
	}
	for _, snap := range t.k.hub.Presence().List() {
		if filter(snap) {
			t.k.hub.Send(snap.ID, msg)
		}
	}
}

func (t *toolkit) Rooms() realtime.RoomActions {
	return roomActions{t}
}

func (t *toolkit) Presence() realtime.PresenceActions {
	return presenceActions{t}
}

func (t *toolkit) Log(args ...any) {
	t.k.log.Debug(append([]any{"client=" + t.snap.ID + " "}, args...)...)
}

type roomActions struct{ t *toolkit }

func (r roomActions) Join(room string) {
	r.t.k.hub.JoinRoom(r.t.snap.ID, room)
}

func (r roomActions) Leave(room string) {
	r.t.k.hub.LeaveRoom(r.t.snap.ID, room)
}

func (r roomActions) List(room string) []string {
	return r.t.k.hub.Rooms().List(room)
}

// Broadcast sends to a room, defaulting to the triggering message's room.
// When no room resolves the call is a silent no-op.
func (r roomActions) Broadcast(room string, msg *realtime.Message, opts realtime.RoomBroadcastOptions) {
	if room == "" {
		room = r.t.msg.Room
	}
	if room == "" {
		return
	}

	except := make([]string, 0, len(opts.Except)+1)
	except = append(except, opts.Except...)
	if opts.ExceptSelf {
		except = append(except, r.t.snap.ID)
	}
	r.t.k.hub.Broadcast(msg, realtime.BroadcastOptions{Room: room, Except: except})
}

type presenceActions struct{ t *toolkit }

func (p presenceActions) List() []realtime.Snapshot {
	return p.t.k.hub.Presence().List()
}

func (p presenceActions) Get(id string) (realtime.Snapshot, bool) {
	return p.t.k.hub.Presence().Get(id)
}

func (p presenceActions) Update(metadata map[string]any) {
	p.t.k.hub.Presence().Update(p.t.snap.ID, metadata)
}
