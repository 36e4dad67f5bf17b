package virtual

import (
	"sync"
	"testing"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	"github.com/stretchr/testify/assert"
)

type FrameReceiver struct {
	mu     sync.Mutex
	frames []canwrap.Frame
}

func (frameReceiver *FrameReceiver) Handle(frame canwrap.Frame) {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	frameReceiver.frames = append(frameReceiver.frames, frame)
}

func (frameReceiver *FrameReceiver) Frames() []canwrap.Frame {
	frameReceiver.mu.Lock()
	defer frameReceiver.mu.Unlock()
	return append([]canwrap.Frame{}, frameReceiver.frames...)
}

func newVirtual(t *testing.T, channel string) (*Bus, *FrameReceiver) {
	t.Helper()
	bus, err := NewVirtualBus(channel)
	assert.Nil(t, err)
	vbus := bus.(*Bus)
	receiver := &FrameReceiver{}
	assert.Nil(t, vbus.Subscribe(receiver))
	assert.Nil(t, vbus.Connect())
	t.Cleanup(func() { _ = vbus.Disconnect() })
	return vbus, receiver
}

func TestSendAndSubscribe(t *testing.T) {
	vcan1, _ := newVirtual(t, "sendsub.0")
	_, rx2 := newVirtual(t, "sendsub.1")
	frame := canwrap.NewFrame(0x111, canwrap.Classic, false, []byte{0, 1, 2, 3, 4, 5, 6, 7})
	for i := 0; i < 10; i++ {
		frame.Data[0] = uint8(i)
		assert.Nil(t, vcan1.Send(frame))
	}
	frames := rx2.Frames()
	assert.Len(t, frames, 10)
	for i, f := range frames {
		assert.EqualValues(t, 0x111, f.ID)
		assert.EqualValues(t, uint8(i), f.Data[0])
		assert.False(t, f.Transmitted)
	}
}

func TestNetworksAreIsolated(t *testing.T) {
	vcan1, _ := newVirtual(t, "neta.0")
	_, rx2 := newVirtual(t, "netb.0")
	assert.Nil(t, vcan1.Send(canwrap.NewFrame(0x1, canwrap.Classic, false, nil)))
	assert.Len(t, rx2.Frames(), 0)
}

func TestReceiveOwn(t *testing.T) {
	vcan1, rx1 := newVirtual(t, "own.0")
	frame := canwrap.NewFrame(0x111, canwrap.Classic, false, []byte{1})
	assert.Nil(t, vcan1.Send(frame))
	assert.Len(t, rx1.Frames(), 0)

	assert.Nil(t, vcan1.SetReceiveOwn(true))
	assert.Nil(t, vcan1.Send(frame))
	frames := rx1.Frames()
	assert.Len(t, frames, 1)
	assert.True(t, frames[0].Transmitted)
}

func TestModes(t *testing.T) {
	vcan1, rx1 := newVirtual(t, "modes.0")
	_, rx2 := newVirtual(t, "modes.1")
	frame := canwrap.NewFrame(0x10, canwrap.Classic, false, []byte{1})

	t.Run("listen only", func(t *testing.T) {
		assert.Nil(t, vcan1.SetMode(canwrap.OpenCAN, canwrap.ModeListenOnly))
		assert.ErrorIs(t, vcan1.Send(frame), canwrap.ErrListenOnly)
	})
	t.Run("loopback", func(t *testing.T) {
		assert.Nil(t, vcan1.SetMode(canwrap.OpenCAN, canwrap.ModeLoopback))
		assert.Nil(t, vcan1.Send(frame))
		assert.Len(t, rx1.Frames(), 1)
		assert.Len(t, rx2.Frames(), 0)
	})
	t.Run("fd on classic channel", func(t *testing.T) {
		assert.Nil(t, vcan1.SetMode(canwrap.OpenCAN, canwrap.ModeNormal))
		fd := canwrap.NewFrame(0x10, canwrap.FD, false, make([]byte, 12))
		assert.ErrorIs(t, vcan1.Send(fd), canwrap.ErrInvalidFrame)
	})
}

func TestBitrateMismatch(t *testing.T) {
	vcan1, rx1 := newVirtual(t, "mismatch.0")
	vcan2, rx2 := newVirtual(t, "mismatch.1")
	assert.Nil(t, vcan1.SetBitrate(500_000, 0))
	assert.Nil(t, vcan2.SetBitrate(250_000, 0))
	assert.Nil(t, vcan1.Send(canwrap.NewFrame(0x10, canwrap.Classic, false, nil)))
	assert.Len(t, rx2.Frames(), 0)
	frames := rx1.Frames()
	assert.Len(t, frames, 1)
	assert.Equal(t, canwrap.ErrorFrame, frames[0].Type)
	assert.EqualValues(t, can.CanErrProt, frames[0].ID)

	// No report when disabled
	assert.Nil(t, vcan1.SetBusErrorReport(false))
	assert.Nil(t, vcan1.Send(canwrap.NewFrame(0x10, canwrap.Classic, false, nil)))
	assert.Len(t, rx1.Frames(), 1)
}

func TestBusyAndBlink(t *testing.T) {
	vcan1, _ := newVirtual(t, "busy.0")
	vcan1.SetBusy(1)
	frame := canwrap.NewFrame(0x10, canwrap.Classic, false, nil)
	assert.ErrorIs(t, vcan1.Send(frame), canwrap.ErrTxBusy)
	assert.Nil(t, vcan1.Send(frame))

	assert.Nil(t, vcan1.Blink(true))
	assert.True(t, vcan1.Blinking())
	assert.Nil(t, vcan1.Disconnect())
	assert.False(t, vcan1.Blinking())
	assert.ErrorIs(t, vcan1.Blink(true), canwrap.ErrNotOpen)
}

func TestDiscover(t *testing.T) {
	SetChannelCount(3)
	defer SetChannelCount(2)
	channels, err := Discover()
	assert.Nil(t, err)
	assert.Len(t, channels, 3)
	assert.Equal(t, "virtual.2", channels[2].Name)
	assert.Equal(t, 2, channels[2].Index)
}
