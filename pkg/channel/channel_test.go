package channel

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/can/virtual"
	"github.com/samsamfire/gocanwrap/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChannel(t *testing.T, name string, options Options) *Channel {
	t.Helper()
	bus, err := virtual.NewVirtualBus(name)
	require.Nil(t, err)
	ch, err := New(canwrap.ChannelInfo{Interface: "virtual", Name: name}, bus, options)
	require.Nil(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

// Two channels on the same virtual network
func newPair(t *testing.T, network string) (*Channel, *Channel) {
	return newChannel(t, network+".0", Options{}), newChannel(t, network+".1", Options{})
}

func openBoth(t *testing.T, a, b *Channel, openType canwrap.OpenType) {
	require.Nil(t, a.Open(openType, canwrap.ModeNormal))
	require.Nil(t, b.Open(openType, canwrap.ModeNormal))
}

func TestOpenClose(t *testing.T) {
	ch := newChannel(t, "openclose.0", Options{})
	assert.Equal(t, StateAcquired, ch.State())
	assert.Equal(t, "openclose.0", ch.Name())

	_, err := ch.GetMessage(0)
	assert.ErrorIs(t, err, canwrap.ErrNotOpen)
	assert.ErrorIs(t, ch.Close(), canwrap.ErrNotOpen)
	assert.ErrorIs(t, ch.Open(canwrap.OpenType(7), canwrap.ModeNormal), canwrap.ErrIllegalArgument)
	assert.ErrorIs(t, ch.Open(canwrap.OpenCAN, canwrap.OpenMode(3)), canwrap.ErrIllegalArgument)

	assert.Nil(t, ch.Open(canwrap.OpenCAN, canwrap.ModeNormal))
	assert.Equal(t, StateOpen, ch.State())
	assert.ErrorIs(t, ch.Open(canwrap.OpenCAN, canwrap.ModeNormal), canwrap.ErrAlreadyOpen)
	assert.Nil(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())

	// Reopen after close
	assert.Nil(t, ch.Open(canwrap.OpenFDBRS, canwrap.ModeNormal))
	openType, mode := ch.OpenType()
	assert.Equal(t, canwrap.OpenFDBRS, openType)
	assert.Equal(t, canwrap.ModeNormal, mode)
}

func TestSendReceive(t *testing.T) {
	a, b := newPair(t, "sendrecv")
	openBoth(t, a, b, canwrap.OpenFD)

	frame := canwrap.NewFrame(0x123, canwrap.Classic, false, []byte{0xDE, 0xAD})
	assert.Nil(t, a.SetMessage(frame, 0))
	fd := canwrap.NewFrame(0x18FF0001, canwrap.FDBRS, true, make([]byte, 64))
	assert.Nil(t, a.SetMessage(fd, 0))

	count, err := b.MessageCount()
	assert.Nil(t, err)
	assert.Equal(t, 2, count)

	received, err := b.GetMessage(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 0x123, received.ID)
	assert.Equal(t, frame.Payload(), received.Payload())
	assert.False(t, received.Transmitted)

	received, err = b.GetMessage(10)
	assert.Nil(t, err)
	assert.Equal(t, canwrap.FDBRS, received.Type)
	assert.True(t, received.Extended)
	assert.EqualValues(t, 64, received.DLC)

	_, err = b.GetMessage(0)
	assert.ErrorIs(t, err, canwrap.ErrNoMessage)
	assert.EqualValues(t, 2, a.Stats().Tx)
	assert.EqualValues(t, 2, b.Stats().Rx)
}

func TestInvalidFrames(t *testing.T) {
	a, b := newPair(t, "invalid")
	openBoth(t, a, b, canwrap.OpenCAN)

	fd := canwrap.NewFrame(0x1, canwrap.FD, false, make([]byte, 12))
	assert.ErrorIs(t, a.SetMessage(fd, 0), canwrap.ErrInvalidFrame)
	assert.ErrorIs(t, a.SetMessage(canwrap.NewFrame(0x800, canwrap.Classic, false, nil), 0), canwrap.ErrInvalidFrame)
	assert.ErrorIs(t, a.SetMessage(canwrap.NewFrame(0x1, canwrap.Classic, false, make([]byte, 9)), 0), canwrap.ErrInvalidFrame)
	assert.ErrorIs(t, a.SetMessage(canwrap.Frame{Type: canwrap.ErrorFrame}, 0), canwrap.ErrInvalidFrame)
}

func TestReceiveTimeouts(t *testing.T) {
	a, b := newPair(t, "timeouts")
	openBoth(t, a, b, canwrap.OpenCAN)

	t.Run("positive timeout expires", func(t *testing.T) {
		start := time.Now()
		_, err := b.GetMessage(20)
		assert.ErrorIs(t, err, canwrap.ErrTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})
	t.Run("negative timeout waits", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = a.SetMessage(canwrap.NewFrame(0x55, canwrap.Classic, false, nil), 0)
		}()
		frame, err := b.GetMessage(-1)
		assert.Nil(t, err)
		assert.EqualValues(t, 0x55, frame.ID)
	})
	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := b.Receive(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
	t.Run("close wakes waiters", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		var err error
		go func() {
			defer wg.Done()
			_, err = b.GetMessage(-1)
		}()
		time.Sleep(20 * time.Millisecond)
		assert.Nil(t, b.Close())
		wg.Wait()
		assert.ErrorIs(t, err, canwrap.ErrClosed)
	})
}

func TestGetMessages(t *testing.T) {
	a, b := newPair(t, "getmessages")
	openBoth(t, a, b, canwrap.OpenCAN)
	send := func(n int) {
		for i := 0; i < n; i++ {
			assert.Nil(t, a.SetMessage(canwrap.NewFrame(uint32(i), canwrap.Classic, false, []byte{byte(i)}), 0))
		}
	}

	t.Run("zero items", func(t *testing.T) {
		frames, err := b.GetMessages(0, 0)
		assert.Nil(t, err)
		assert.Len(t, frames, 0)
	})
	t.Run("poll returns what is available", func(t *testing.T) {
		send(3)
		frames, err := b.GetMessages(10, 0)
		assert.Nil(t, err)
		assert.Len(t, frames, 3)
		for i, f := range frames {
			assert.EqualValues(t, i, f.ID)
		}
	})
	t.Run("bounded by items", func(t *testing.T) {
		send(5)
		frames, err := b.GetMessages(2, 0)
		assert.Nil(t, err)
		assert.Len(t, frames, 2)
		frames, err = b.GetMessages(-1, 0)
		assert.Nil(t, err)
		assert.Len(t, frames, 3)
	})
	t.Run("timeout returns partial", func(t *testing.T) {
		send(2)
		frames, err := b.GetMessages(5, 20)
		assert.ErrorIs(t, err, canwrap.ErrTimeout)
		assert.Len(t, frames, 2)
	})
	t.Run("negative items waits for one", func(t *testing.T) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			send(1)
		}()
		frames, err := b.GetMessages(-1, 1000)
		assert.Nil(t, err)
		assert.Len(t, frames, 1)
	})
	t.Run("waits for all items", func(t *testing.T) {
		go func() {
			for i := 0; i < 3; i++ {
				time.Sleep(5 * time.Millisecond)
				send(1)
			}
		}()
		frames, err := b.GetMessages(3, -1)
		assert.Nil(t, err)
		assert.Len(t, frames, 3)
	})
}

func TestOverflow(t *testing.T) {
	a := newChannel(t, "overflow.0", Options{})
	b := newChannel(t, "overflow.1", Options{RxQueueSize: 2})
	openBoth(t, a, b, canwrap.OpenCAN)
	for i := 0; i < 4; i++ {
		assert.Nil(t, a.SetMessage(canwrap.NewFrame(uint32(i), canwrap.Classic, false, nil), 0))
	}
	assert.EqualValues(t, 2, b.Stats().Overflow)
	// Oldest frames are kept
	frame, err := b.GetMessage(0)
	assert.ErrorIs(t, err, canwrap.ErrRxOverflow)
	assert.True(t, canwrap.IsWarning(err))
	assert.EqualValues(t, 0, frame.ID)
	frame, err = b.GetMessage(0)
	assert.Nil(t, err)
	assert.EqualValues(t, 1, frame.ID)
}

func TestListenOnlyAndLoopback(t *testing.T) {
	a, b := newPair(t, "modes")
	require.Nil(t, a.Open(canwrap.OpenCAN, canwrap.ModeListenOnly))
	require.Nil(t, b.Open(canwrap.OpenCAN, canwrap.ModeNormal))
	frame := canwrap.NewFrame(0x10, canwrap.Classic, false, []byte{1})

	assert.ErrorIs(t, a.SetMessage(frame, 0), canwrap.ErrListenOnly)
	// Listen only still receives
	assert.Nil(t, b.SetMessage(frame, 0))
	count, _ := a.MessageCount()
	assert.Equal(t, 1, count)

	assert.Nil(t, a.Close())
	require.Nil(t, a.Open(canwrap.OpenCAN, canwrap.ModeLoopback))
	_, _ = a.GetMessages(-1, 0)
	_, _ = b.GetMessages(-1, 0)
	assert.Nil(t, a.SetMessage(frame, 0))
	own, err := a.GetMessage(0)
	assert.Nil(t, err)
	assert.True(t, own.Transmitted)
	count, _ = b.MessageCount()
	assert.Equal(t, 0, count)
}

func TestEcho(t *testing.T) {
	a, b := newPair(t, "echo")
	openBoth(t, a, b, canwrap.OpenCAN)
	assert.True(t, a.EchoSupported())
	assert.Nil(t, a.SetEcho(true))
	assert.True(t, a.EchoEnabled())
	// Not applied yet
	assert.Nil(t, a.SetMessage(canwrap.NewFrame(0x1, canwrap.Classic, false, nil), 0))
	count, _ := a.MessageCount()
	assert.Equal(t, 0, count)

	assert.Nil(t, a.ApplySettings(true))
	assert.Nil(t, a.SetMessage(canwrap.NewFrame(0x2, canwrap.Classic, false, nil), 0))
	own, err := a.GetMessage(0)
	assert.Nil(t, err)
	assert.True(t, own.Transmitted)
	assert.EqualValues(t, 0x2, own.ID)
}

func TestBusErrorReport(t *testing.T) {
	ch := newChannel(t, "buserr.0", Options{})
	require.Nil(t, ch.Open(canwrap.OpenCAN, canwrap.ModeNormal))
	vbus := ch.Bus().(*virtual.Bus)
	assert.True(t, ch.BusErrorReport())

	vbus.InjectBusError(0x40)
	frame, err := ch.GetMessage(0)
	assert.Nil(t, err)
	assert.Equal(t, canwrap.ErrorFrame, frame.Type)

	assert.Nil(t, ch.SetBusErrorReport(false))
	assert.Nil(t, ch.ApplySettings(true))
	vbus.InjectBusError(0x40)
	// Channel filters them too
	ch.Handle(canwrap.Frame{Type: canwrap.ErrorFrame, ID: 0x40})
	_, err = ch.GetMessage(0)
	assert.ErrorIs(t, err, canwrap.ErrNoMessage)
	assert.EqualValues(t, 2, ch.Stats().BusErrors)
	assert.EqualValues(t, 1, ch.Stats().Dropped)
}

func TestSettings(t *testing.T) {
	store, err := config.NewStore(filepath.Join(t.TempDir(), "settings.ini"))
	require.Nil(t, err)
	bus, _ := virtual.NewVirtualBus("settings.0")
	ch, err := New(canwrap.ChannelInfo{Name: "settings.0"}, bus, Options{Store: store})
	require.Nil(t, err)
	defer ch.Close()

	t.Run("illegal values", func(t *testing.T) {
		assert.ErrorIs(t, ch.SetBaudRate(0), canwrap.ErrIllegalBaudrate)
		assert.ErrorIs(t, ch.SetFdBaudRate(0), canwrap.ErrIllegalBaudrate)
		assert.ErrorIs(t, ch.SetTxMode(canwrap.TxMode(5)), canwrap.ErrIllegalArgument)
		assert.ErrorIs(t, ch.SetTxTiming(0x20000000, 1), canwrap.ErrIllegalArgument)
		assert.ErrorIs(t, ch.SetTxTiming(0x1, -1), canwrap.ErrIllegalArgument)
	})
	t.Run("getters return pending", func(t *testing.T) {
		assert.Nil(t, ch.SetBaudRate(250_000))
		assert.EqualValues(t, 250_000, ch.BaudRate())
		assert.EqualValues(t, config.DefaultBitrate, ch.CurrentSettings().Bitrate)
		assert.Nil(t, ch.SetFdBaudRate(0x00800F00A0032E33))
		assert.EqualValues(t, uint64(0x00800F00A0032E33), ch.FdBaudRate())
		assert.Equal(t, "250000,0x800F00A0032E33", ch.CustomBaudRate())
	})
	t.Run("termination", func(t *testing.T) {
		assert.True(t, ch.TerminationSupported())
		assert.Nil(t, ch.SetTermination(true))
		enabled, err := ch.TerminationEnabled()
		assert.Nil(t, err)
		assert.True(t, enabled)
		assert.False(t, bus.(*virtual.Bus).Termination())
	})
	t.Run("apply on open", func(t *testing.T) {
		require.Nil(t, ch.Open(canwrap.OpenFD, canwrap.ModeNormal))
		nominal, data := bus.(*virtual.Bus).Bitrate()
		assert.EqualValues(t, 250_000, nominal)
		assert.EqualValues(t, 2_000_000, data)
		assert.True(t, bus.(*virtual.Bus).Termination())
		// Temporary : nothing stored
		assert.Len(t, store.Channels(), 0)
	})
	t.Run("apply persists", func(t *testing.T) {
		assert.Nil(t, ch.SetCustomBaudRate("1M,5M"))
		assert.Nil(t, ch.ApplySettings(false))
		stored, found, err := store.Load("settings.0")
		assert.Nil(t, err)
		assert.True(t, found)
		assert.Equal(t, "1M,5M", stored.CustomBitrate)
		assert.EqualValues(t, 250_000, stored.Bitrate)
	})
	t.Run("stored settings are loaded", func(t *testing.T) {
		other, err := New(canwrap.ChannelInfo{Name: "settings.0"}, bus, Options{Store: store})
		assert.Nil(t, err)
		assert.Equal(t, "1M,5M", other.CustomBaudRate())
	})
	t.Run("custom bitrate too long", func(t *testing.T) {
		long := make([]byte, canwrap.MaxBitrateLen+1)
		assert.ErrorIs(t, ch.SetCustomBaudRate(string(long)), canwrap.ErrIllegalArgument)
	})
	t.Run("pending settings on close", func(t *testing.T) {
		assert.Nil(t, ch.SetBaudRate(125_000))
		assert.ErrorIs(t, ch.Close(), canwrap.ErrPendingSettings)
	})
}

func TestBlink(t *testing.T) {
	ch := newChannel(t, "blink.0", Options{})
	assert.True(t, ch.BlinkSupported())
	assert.ErrorIs(t, ch.Blink(true), canwrap.ErrNotOpen)
	require.Nil(t, ch.Open(canwrap.OpenCAN, canwrap.ModeNormal))
	assert.Nil(t, ch.Blink(true))
	blinking, err := ch.Blinking()
	assert.Nil(t, err)
	assert.True(t, blinking)
	assert.Nil(t, ch.Close())
	blinking, _ = ch.Blinking()
	assert.False(t, blinking)
}

type idListener struct {
	mu     sync.Mutex
	frames []canwrap.Frame
}

func (l *idListener) Handle(frame canwrap.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, frame)
}

func TestSubscribe(t *testing.T) {
	a, b := newPair(t, "subscribe")
	openBoth(t, a, b, canwrap.OpenCAN)
	listener := &idListener{}
	assert.Nil(t, b.Subscribe(0x20, false, listener))
	assert.Nil(t, a.SetMessage(canwrap.NewFrame(0x10, canwrap.Classic, false, nil), 0))
	assert.Nil(t, a.SetMessage(canwrap.NewFrame(0x20, canwrap.Classic, false, nil), 0))
	listener.mu.Lock()
	assert.Len(t, listener.frames, 1)
	listener.mu.Unlock()
	b.Unsubscribe(listener)
	assert.Nil(t, a.SetMessage(canwrap.NewFrame(0x20, canwrap.Classic, false, nil), 0))
	listener.mu.Lock()
	assert.Len(t, listener.frames, 1)
	listener.mu.Unlock()
	count, _ := b.MessageCount()
	assert.Equal(t, 3, count)
}
