package wrapper

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/config"
	"github.com/samsamfire/gocanwrap/pkg/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWrapper(t *testing.T) *Wrapper {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SettingsFile = filepath.Join(t.TempDir(), "settings.ini")
	m, err := manager.New(cfg)
	require.Nil(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return New(m)
}

// Acquire & open two channels of the default virtual network
func openPair(t *testing.T, w *Wrapper, typ int32) (Handle, Handle) {
	t.Helper()
	var a, b Handle
	require.EqualValues(t, 0, w.GetChannel(&a, "virtual.0", 0))
	require.EqualValues(t, 0, w.GetChannel(&b, "virtual.1", 0))
	require.EqualValues(t, 0, w.OpenChannel(a, typ, 0))
	require.EqualValues(t, 0, w.OpenChannel(b, typ, 0))
	return a, b
}

func TestFindAllChannels(t *testing.T) {
	w := newWrapper(t)
	var list string
	var count int32
	assert.EqualValues(t, 0, w.FindAllChannels(&list, &count))
	assert.GreaterOrEqual(t, count, int32(2))
	assert.Contains(t, strings.Split(list, "\t"), "virtual.0")
	assert.EqualValues(t, -1, w.FindAllChannels(nil, &count))
}

func TestGetLastError(t *testing.T) {
	w := newWrapper(t)
	var description string
	var code int32

	assert.EqualValues(t, 0, w.GetLastError(&description, &code))
	assert.EqualValues(t, 0, code)

	var handle Handle
	assert.EqualValues(t, -3, w.GetChannel(&handle, "unknown", 0))
	assert.EqualValues(t, 0, w.GetLastError(&description, &code))
	assert.EqualValues(t, -3, code)
	assert.Contains(t, description, "unknown")
	assert.LessOrEqual(t, len(description), canwrap.MaxErrorLen)

	// Describe a given code
	code = -7
	assert.EqualValues(t, 0, w.GetLastError(&description, &code))
	assert.EqualValues(t, -7, code)
	assert.Equal(t, canwrap.Describe(-7), description)
}

func TestChannelLifecycle(t *testing.T) {
	w := newWrapper(t)
	var handle Handle
	assert.EqualValues(t, 0, w.GetChannel(&handle, "virtual.0", 0))
	var again Handle
	assert.EqualValues(t, 3, w.GetChannel(&again, "virtual.0", 0))
	assert.Equal(t, handle, again)

	var name string
	assert.EqualValues(t, 0, w.GetChannelName(handle, &name))
	assert.Equal(t, "virtual.0", name)

	assert.EqualValues(t, -1, w.OpenChannel(handle, 9, 0))
	assert.EqualValues(t, -1, w.OpenChannel(handle, -1, 0))
	assert.EqualValues(t, 0, w.OpenChannel(handle, 2, 0))
	assert.EqualValues(t, -5, w.OpenChannel(handle, 2, 0))
	assert.EqualValues(t, 0, w.CloseChannel(handle))
	assert.EqualValues(t, -2, w.CloseChannel(handle))
	assert.EqualValues(t, -2, w.GetChannelName(handle, &name))
}

func TestBaudRates(t *testing.T) {
	w := newWrapper(t)
	var handle Handle
	require.EqualValues(t, 0, w.GetChannel(&handle, "virtual.0", 0))

	var rate uint64
	assert.EqualValues(t, 0, w.GetBaudRate(handle, &rate))
	assert.EqualValues(t, 500_000, rate)
	assert.EqualValues(t, -14, w.SetBaudRate(handle, 0))
	assert.EqualValues(t, 0, w.SetBaudRate(handle, 1_000_000))
	assert.EqualValues(t, 0, w.GetBaudRate(handle, &rate))
	assert.EqualValues(t, 1_000_000, rate)

	assert.EqualValues(t, -14, w.SetFdBaudRate(handle, 0))
	assert.EqualValues(t, 0, w.SetFdBaudRate(handle, 5_000_000))
	assert.EqualValues(t, 0, w.GetFdBaudRate(handle, &rate))
	assert.EqualValues(t, 5_000_000, rate)

	var custom string
	assert.EqualValues(t, 0, w.SetCustomBaudRate(handle, "250k,2M"))
	assert.EqualValues(t, 0, w.GetCustomBaudRate(handle, &custom))
	assert.Equal(t, "250k,2M", custom)
	assert.EqualValues(t, -1, w.GetCustomBaudRate(handle, nil))
}

func TestSetGetMessage(t *testing.T) {
	w := newWrapper(t)
	a, b := openPair(t, w, 2)

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	assert.EqualValues(t, 0, w.SetMessage(a, 0x12345, uint8(canwrap.FDBRS), 1, payload, 12, 0))
	var count int32
	assert.EqualValues(t, 0, w.GetMessageCount(b, &count))
	assert.EqualValues(t, 1, count)

	var id uint32
	var typ, extended, transmitted, length uint8
	var timestamp uint64
	data := make([]byte, 64)
	assert.EqualValues(t, 0, w.GetMessage(b, &id, &typ, &extended, &transmitted, &timestamp, data, &length, 100))
	assert.EqualValues(t, 0x12345, id)
	assert.EqualValues(t, canwrap.FDBRS, typ)
	assert.EqualValues(t, 1, extended)
	assert.EqualValues(t, 0, transmitted)
	assert.EqualValues(t, 12, length)
	assert.Equal(t, payload, data[:length])

	assert.EqualValues(t, -8, w.GetMessage(b, &id, &typ, &extended, &transmitted, &timestamp, data, &length, 0))
	assert.EqualValues(t, -7, w.GetMessage(b, &id, &typ, &extended, &transmitted, &timestamp, data, &length, 10))
	// FD channel needs room for 64 bytes
	assert.EqualValues(t, -11, w.GetMessage(b, &id, &typ, &extended, &transmitted, &timestamp, data[:8], &length, 0))

	// Invalid arguments
	assert.EqualValues(t, -1, w.SetMessage(a, 0x1, 3, 0, payload, 1, 0))
	assert.EqualValues(t, -1, w.SetMessage(a, 0x1, 0, 0, payload[:2], 4, 0))
	assert.EqualValues(t, -15, w.SetMessage(a, 0x1, 0, 0, payload, 12, 0))
}

func TestSetGetMessages(t *testing.T) {
	w := newWrapper(t)
	a, b := openPair(t, w, 0)

	ids := []uint32{0x1, 0x2, 0x3}
	types := []uint8{0, 0, 1}
	extended := []uint8{0, 1, 0}
	lengths := []uint8{2, 3, 0}
	data := []byte{0xA, 0xB, 0xC, 0xD, 0xE}
	items := uint32(3)
	assert.EqualValues(t, 0, w.SetMessages(a, ids, types, extended, data, lengths, &items, 0))
	assert.EqualValues(t, 3, items)

	capacity := 4
	rxIds := make([]uint32, capacity)
	rxTypes := make([]uint8, capacity)
	rxExtended := make([]uint8, capacity)
	rxTransmitted := make([]uint8, capacity)
	rxTimestamps := make([]uint64, capacity)
	rxData := make([]byte, capacity*8)
	rxLengths := make([]uint8, capacity)

	rxItems := int32(3)
	assert.EqualValues(t, 0, w.GetMessages(b, rxIds, rxTypes, rxExtended, rxTransmitted, rxTimestamps, rxData, rxLengths, &rxItems, 100))
	assert.EqualValues(t, 3, rxItems)
	assert.Equal(t, ids, rxIds[:3])
	assert.Equal(t, types, rxTypes[:3])
	assert.Equal(t, extended, rxExtended[:3])
	assert.Equal(t, lengths, rxLengths[:3])
	assert.Equal(t, data, rxData[:5])

	// Nothing left, poll returns no frames
	rxItems = -1
	assert.EqualValues(t, 0, w.GetMessages(b, rxIds, rxTypes, rxExtended, rxTransmitted, rxTimestamps, rxData, rxLengths, &rxItems, 0))
	assert.EqualValues(t, 0, rxItems)

	// More items than the arrays hold
	rxItems = 5
	assert.EqualValues(t, -11, w.GetMessages(b, rxIds, rxTypes, rxExtended, rxTransmitted, rxTimestamps, rxData, rxLengths, &rxItems, 0))
	assert.EqualValues(t, 0, rxItems)

	// Stops at the first invalid frame
	ids = []uint32{0x4, 0x800, 0x5}
	lengths = []uint8{0, 0, 0}
	types = []uint8{0, 0, 0}
	extended = []uint8{0, 0, 0}
	items = 3
	assert.EqualValues(t, -15, w.SetMessages(a, ids, types, extended, nil, lengths, &items, 0))
	assert.EqualValues(t, 1, items)
}

func TestGetMessagesAvailable(t *testing.T) {
	w := newWrapper(t)
	a, b := openPair(t, w, 0)

	capacity := 4
	rxIds := make([]uint32, capacity)
	rxTypes := make([]uint8, capacity)
	rxExtended := make([]uint8, capacity)
	rxTransmitted := make([]uint8, capacity)
	rxTimestamps := make([]uint64, capacity)
	rxData := make([]byte, capacity*8)
	rxLengths := make([]uint8, capacity)

	// Returns as soon as one frame is there, does not wait to fill the arrays
	require.EqualValues(t, 0, w.SetMessage(a, 0x10, 0, 0, []byte{1}, 1, 0))
	rxItems := int32(-1)
	start := time.Now()
	assert.EqualValues(t, 0, w.GetMessages(b, rxIds, rxTypes, rxExtended, rxTransmitted, rxTimestamps, rxData, rxLengths, &rxItems, 500))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.EqualValues(t, 1, rxItems)
	assert.EqualValues(t, 0x10, rxIds[0])

	// Negative timeout waits for the first frame only
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = w.SetMessage(a, 0x11, 0, 0, []byte{2}, 1, 0)
	}()
	rxItems = -1
	assert.EqualValues(t, 0, w.GetMessages(b, rxIds, rxTypes, rxExtended, rxTransmitted, rxTimestamps, rxData, rxLengths, &rxItems, -1))
	assert.EqualValues(t, 1, rxItems)
	assert.EqualValues(t, 0x11, rxIds[0])

	// Bounded by the array capacity, the rest stays queued
	for i := 0; i < capacity+1; i++ {
		require.EqualValues(t, 0, w.SetMessage(a, uint32(0x20+i), 0, 0, nil, 0, 0))
	}
	assert.Eventually(t, func() bool {
		var count int32
		return w.GetMessageCount(b, &count) == 0 && count == int32(capacity+1)
	}, time.Second, 5*time.Millisecond)
	rxItems = -1
	assert.EqualValues(t, 0, w.GetMessages(b, rxIds, rxTypes, rxExtended, rxTransmitted, rxTimestamps, rxData, rxLengths, &rxItems, 500))
	assert.EqualValues(t, capacity, rxItems)
	rxItems = -1
	assert.EqualValues(t, 0, w.GetMessages(b, rxIds, rxTypes, rxExtended, rxTransmitted, rxTimestamps, rxData, rxLengths, &rxItems, 500))
	assert.EqualValues(t, 1, rxItems)
	assert.EqualValues(t, 0x20+capacity, rxIds[0])
}

func TestFeatures(t *testing.T) {
	w := newWrapper(t)
	var handle Handle
	require.EqualValues(t, 0, w.GetChannel(&handle, "virtual.0", 0))
	var flag uint8

	assert.EqualValues(t, 0, w.IsTerminationSupported(handle, &flag))
	assert.EqualValues(t, 1, flag)
	assert.EqualValues(t, 0, w.SetTermination(handle, 1))
	assert.EqualValues(t, 0, w.IsTerminationEnabled(handle, &flag))
	assert.EqualValues(t, 1, flag)

	assert.EqualValues(t, 0, w.IsEchoMessageSupported(handle, &flag))
	assert.EqualValues(t, 1, flag)
	assert.EqualValues(t, 0, w.SetEchoMessage(handle, 1))
	assert.EqualValues(t, 0, w.IsEchoMessageEnabled(handle, &flag))
	assert.EqualValues(t, 1, flag)
	assert.EqualValues(t, 0, w.SetBusErrorReport(handle, 0))

	assert.EqualValues(t, 0, w.IsTxModeSupported(handle, 2, &flag))
	assert.EqualValues(t, 1, flag)
	assert.EqualValues(t, -1, w.IsTxModeSupported(handle, 3, &flag))
	assert.EqualValues(t, -1, w.SetTxMode(handle, 3))
	assert.EqualValues(t, 0, w.SetTxMode(handle, 1))
	assert.EqualValues(t, 0, w.SetTxTiming(handle, 0x100, 50))
	assert.EqualValues(t, -1, w.SetTxTiming(handle, 0x100, -1))
	assert.EqualValues(t, 0, w.ApplySettings(handle, 1))

	assert.EqualValues(t, 0, w.IsBlinkSupported(handle, &flag))
	assert.EqualValues(t, 1, flag)
	assert.EqualValues(t, -4, w.BlinkChannel(handle, 1))
	require.EqualValues(t, 0, w.OpenChannel(handle, 0, 0))
	assert.EqualValues(t, 0, w.BlinkChannel(handle, 1))
	assert.EqualValues(t, 0, w.IsChannelBlinking(handle, &flag))
	assert.EqualValues(t, 1, flag)
}

func TestEchoThroughWrapper(t *testing.T) {
	w := newWrapper(t)
	a, _ := openPair(t, w, 0)
	require.EqualValues(t, 0, w.SetEchoMessage(a, 1))
	require.EqualValues(t, 0, w.ApplySettings(a, 1))
	require.EqualValues(t, 0, w.SetMessage(a, 0x10, 0, 0, []byte{1}, 1, 0))

	var id uint32
	var typ, extended, transmitted, length uint8
	var timestamp uint64
	data := make([]byte, 8)
	assert.EqualValues(t, 0, w.GetMessage(a, &id, &typ, &extended, &transmitted, &timestamp, data, &length, 100))
	assert.EqualValues(t, 1, transmitted)
	assert.EqualValues(t, 0x10, id)
}
