// Package webrtc implements the signaling bridge: it validates
// offer/answer/candidate/bye payloads and forwards them to a target client or
// a room through the kernel's handler toolkit. SDP descriptions and ICE
// candidates are opaque to the bridge.
package webrtc

import (
	"context"
	"fmt"

	realtime "github.com/NemoZon/real-time-framework"
)

// DefaultNamespace prefixes the four signal channels.
const DefaultNamespace = "webrtc"

// Validation failure reason codes sent back on the "<ns>:error" channel.
const (
	ReasonInvalidOffer         = "INVALID_OFFER"
	ReasonInvalidAnswer        = "INVALID_ANSWER"
	ReasonInvalidCandidate     = "INVALID_CANDIDATE"
	ReasonTargetOrRoomRequired = "TARGET_OR_ROOM_REQUIRED"
)

// The signal channels derived from the namespace.
const (
	channelOffer     = "offer"
	channelAnswer    = "answer"
	channelCandidate = "candidate"
	channelBye       = "bye"
)

// Config configures a Bridge.
type Config struct {
	// Namespace derives the four channels: "<ns>:offer", "<ns>:answer",
	// "<ns>:candidate", "<ns>:bye". Default "webrtc".
	Namespace string

	// AutoJoinRooms joins the originator to the room carried by an offer
	// before forwarding it.
	AutoJoinRooms bool
}

// Bridge routes WebRTC signaling payloads between participants.
type Bridge struct {
	cfg Config
}

// signal is the normalized form of an inbound signaling payload. The
// description may arrive under the alias "offer".
type signal struct {
	target      string
	room        string
	description any
	candidate   any
	metadata    map[string]any
}

// New creates a Bridge with defaults applied.
func New(cfg Config) *Bridge {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	return &Bridge{cfg: cfg}
}

// Attach registers the four channel handlers on the kernel.
func (b *Bridge) Attach(k realtime.Kernel) error {
	for _, channel := range []string{channelOffer, channelAnswer, channelCandidate, channelBye} {
		if err := k.On(b.event(channel), b.handler(channel)); err != nil {
			return fmt.Errorf("attach %s: %w", channel, err)
		}
	}
	return nil
}

func (b *Bridge) event(channel string) string {
	return b.cfg.Namespace + ":" + channel
}

func (b *Bridge) handler(channel string) realtime.Handler {
	return func(ctx context.Context, msg *realtime.Message, tk realtime.Toolkit) error {
		sig := normalize(msg.Payload)

		if reason, ok := b.validate(channel, sig); !ok {
			b.replyError(tk, reason)
			return nil
		}

		if b.cfg.AutoJoinRooms && channel == channelOffer && sig.room != "" {
			tk.Rooms().Join(sig.room)
		}

		env := &realtime.Message{
			Type: b.event(channel),
			Payload: map[string]any{
				"from":        tk.Client().ID,
				"room":        sig.room,
				"target":      sig.target,
				"description": sig.description,
				"candidate":   sig.candidate,
				"metadata":    sig.metadata,
			},
		}

		switch {
		case sig.target != "":
			tk.Send(sig.target, env)
		case sig.room != "":
			tk.Rooms().Broadcast(sig.room, env, realtime.RoomBroadcastOptions{ExceptSelf: true})
		default:
			b.replyError(tk, ReasonTargetOrRoomRequired)
		}
		return nil
	}
}

// validate enforces the per-channel required fields: offer/answer need a
// description, candidate needs a candidate, bye has no required field.
func (b *Bridge) validate(channel string, sig signal) (reason string, ok bool) {
	switch channel {
	case channelOffer:
		if sig.description == nil {
			return ReasonInvalidOffer, false
		}
	case channelAnswer:
		if sig.description == nil {
			return ReasonInvalidAnswer, false
		}
	case channelCandidate:
		if sig.candidate == nil {
			return ReasonInvalidCandidate, false
		}
	}
	return "", true
}

func (b *Bridge) replyError(tk realtime.Toolkit, reason string) {
	tk.Reply(&realtime.Message{
		Type:    b.cfg.Namespace + ":error",
		Payload: map[string]any{"reason": reason},
	})
}

// normalize extracts the signal fields from an arbitrary payload value.
func normalize(payload any) signal {
	fields, _ := payload.(map[string]any)
	sig := signal{
		target: stringField(fields, "target"),
		room:   stringField(fields, "room"),
	}
	if v, ok := fields["description"]; ok && v != nil {
		sig.description = v
	} else if v, ok := fields["offer"]; ok && v != nil {
		// legacy alias
		sig.description = v
	}
	if v, ok := fields["candidate"]; ok && v != nil {
		sig.candidate = v
	}
	if m, ok := fields["metadata"].(map[string]any); ok {
		sig.metadata = m
	}
	return sig
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
