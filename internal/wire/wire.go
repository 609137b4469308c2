// Package wire defines the frames exchanged between sessions and the relay.
// Frames and their payloads use the protobuf wire format:
//
//	message Frame     { uint32 type = 1; string workspace = 2; bytes payload = 3; }
//	message Hello     { string session = 1; string token = 2; }
//	message Awareness { string session = 1; uint64 clock = 2; string name = 3; string color = 4; }
//
// An Update frame's payload is an encoded doc.Update. An AwarenessRemove
// frame's payload is the bare session id.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/codesync/internal/presence"
)

// ErrMalformedFrame is returned for bytes that do not decode as a frame.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// FrameType tags a frame.
type FrameType uint8

const (
	// FrameHello is the first frame a session sends after connecting.
	FrameHello FrameType = iota + 1
	// FrameUpdate carries document ops.
	FrameUpdate
	// FrameSyncDone marks the end of the relay's initial replay.
	FrameSyncDone
	// FrameAwareness carries one session's presence.
	FrameAwareness
	// FrameAwarenessRemove announces that a session disconnected.
	FrameAwarenessRemove
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameUpdate:
		return "update"
	case FrameSyncDone:
		return "sync_done"
	case FrameAwareness:
		return "awareness"
	case FrameAwarenessRemove:
		return "awareness_remove"
	default:
		return fmt.Sprintf("frame(%d)", uint8(t))
	}
}

// Frame is one message on a connection.
type Frame struct {
	Type      FrameType
	Workspace string
	Payload   []byte
}

// Hello identifies a session to the relay.
type Hello struct {
	Session string
	Token   string
}

// Encode serializes f.
func (f Frame) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if f.Workspace != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, f.Workspace)
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

// Decode parses a frame. Frames of unknown type are rejected.
func Decode(b []byte) (Frame, error) {
	var f Frame
	err := fields(b, func(num protowire.Number, v []byte, x uint64) {
		switch num {
		case 1:
			f.Type = FrameType(x)
		case 2:
			f.Workspace = string(v)
		case 3:
			f.Payload = append([]byte(nil), v...)
		}
	})
	if err != nil {
		return Frame{}, err
	}
	if f.Type < FrameHello || f.Type > FrameAwarenessRemove {
		return Frame{}, fmt.Errorf("%w: unknown type %d", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// EncodeHello serializes h.
func EncodeHello(h Hello) []byte {
	var b []byte
	b = appendString(b, 1, h.Session)
	b = appendString(b, 2, h.Token)
	return b
}

// DecodeHello parses a Hello payload.
func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	err := fields(b, func(num protowire.Number, v []byte, _ uint64) {
		switch num {
		case 1:
			h.Session = string(v)
		case 2:
			h.Token = string(v)
		}
	})
	return h, err
}

// EncodeAwareness serializes a presence state.
func EncodeAwareness(st presence.State) []byte {
	var b []byte
	b = appendString(b, 1, st.Session)
	if st.Clock != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, st.Clock)
	}
	b = appendString(b, 3, st.Name)
	b = appendString(b, 4, st.Color)
	return b
}

// DecodeAwareness parses an Awareness payload.
func DecodeAwareness(b []byte) (presence.State, error) {
	var st presence.State
	err := fields(b, func(num protowire.Number, v []byte, x uint64) {
		switch num {
		case 1:
			st.Session = string(v)
		case 2:
			st.Clock = x
		case 3:
			st.Name = string(v)
		case 4:
			st.Color = string(v)
		}
	})
	if err == nil && st.Session == "" {
		err = fmt.Errorf("%w: awareness without session", ErrMalformedFrame)
	}
	return st, err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// fields walks b, passing bytes fields as v and varints as x. Fields of
// other wire types are skipped.
func fields(b []byte, fn func(num protowire.Number, v []byte, x uint64)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(m))
			}
			fn(num, v, 0)
			n = m
		case protowire.VarintType:
			x, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(m))
			}
			fn(num, nil, x)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}
