package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/codesync/internal/presence"
)

func TestFrame_EncodeDecode(t *testing.T) {
	f := Frame{Type: FrameUpdate, Workspace: "ws", Payload: []byte{0x0a, 0x01, 'a'}}
	got, err := Decode(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestFrame_EmptyPayload(t *testing.T) {
	got, err := Decode(Frame{Type: FrameSyncDone, Workspace: "ws"}.Encode())
	require.NoError(t, err)
	assert.Equal(t, FrameSyncDone, got.Type)
	assert.Nil(t, got.Payload)
}

func TestFrame_RejectsUnknownType(t *testing.T) {
	_, err := Decode(Frame{Type: FrameType(77)}.Encode())
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFrame_RejectsTruncated(t *testing.T) {
	b := Frame{Type: FrameUpdate, Payload: []byte("payload")}.Encode()
	_, err := Decode(b[:len(b)-3])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFrame_SkipsUnknownFields(t *testing.T) {
	b := Frame{Type: FrameHello}.Encode()
	b = protowire.AppendTag(b, 15, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, FrameHello, got.Type)
}

func TestHello(t *testing.T) {
	h := Hello{Session: "s1", Token: "tok"}
	got, err := DecodeHello(EncodeHello(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestAwareness(t *testing.T) {
	st := presence.State{Session: "s1", Clock: 4, Identity: presence.Identity{Name: "AlanTuring", Color: "#ffbc42"}}
	got, err := DecodeAwareness(EncodeAwareness(st))
	require.NoError(t, err)
	assert.Equal(t, st, got)

	_, err = DecodeAwareness(EncodeAwareness(presence.State{Clock: 1}))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFrameType_String(t *testing.T) {
	assert.Equal(t, "awareness_remove", FrameAwarenessRemove.String())
	assert.Equal(t, "frame(9)", FrameType(9).String())
}
