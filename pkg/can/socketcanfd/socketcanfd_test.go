//go:build linux

package socketcanfd

import (
	"testing"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	"github.com/stretchr/testify/assert"
)

func TestEncodeDecode(t *testing.T) {
	t.Run("classic", func(t *testing.T) {
		frame := canwrap.NewFrame(0x123, canwrap.Classic, false, []byte{1, 2, 3, 4})
		raw := encodeFrame(frame)
		assert.Len(t, raw, CanFrameSize)
		decoded, err := decodeFrame(raw)
		assert.Nil(t, err)
		assert.Equal(t, frame, decoded)
	})
	t.Run("fd with brs", func(t *testing.T) {
		frame := canwrap.NewFrame(0x1FFFFFFF, canwrap.FDBRS, true, make([]byte, 64))
		frame.Data[63] = 0xAA
		raw := encodeFrame(frame)
		assert.Len(t, raw, CanFDFrameSize)
		decoded, err := decodeFrame(raw)
		assert.Nil(t, err)
		assert.Equal(t, frame, decoded)
	})
	t.Run("fd without brs", func(t *testing.T) {
		frame := canwrap.NewFrame(0x10, canwrap.FD, false, make([]byte, 12))
		decoded, err := decodeFrame(encodeFrame(frame))
		assert.Nil(t, err)
		assert.Equal(t, canwrap.FD, decoded.Type)
	})
	t.Run("error frame", func(t *testing.T) {
		frame := canwrap.Frame{ID: can.CanErrBusOff, Type: canwrap.ErrorFrame, DLC: 8}
		raw := encodeFrame(frame)
		raw[3] |= 0x20 // CAN_ERR_FLAG in native little endian
		decoded, err := decodeFrame(raw)
		assert.Nil(t, err)
		assert.Equal(t, canwrap.ErrorFrame, decoded.Type)
	})
	t.Run("bad size", func(t *testing.T) {
		_, err := decodeFrame(make([]byte, 10))
		assert.NotNil(t, err)
	})
}

func TestUnknownInterface(t *testing.T) {
	_, err := NewSocketCanFDBus("doesnotexist42")
	assert.NotNil(t, err)
}
