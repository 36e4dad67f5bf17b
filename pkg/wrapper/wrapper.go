// Package wrapper exposes the channel manager with the flat calling
// convention of the canwrapper C header : every function returns an
// int32 status (0 success, negative error, positive warning), results
// are written through pointers, and multi-frame calls use parallel
// arrays with one flat data array.
//
// Every non-zero status is recorded and can be read back with
// [Wrapper.GetLastError].
package wrapper

import (
	"fmt"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/channel"
	"github.com/samsamfire/gocanwrap/pkg/manager"
)

type Handle = manager.Handle

type Wrapper struct {
	m *manager.Manager
}

func New(m *manager.Manager) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) Manager() *manager.Manager {
	return w.m
}

func (w *Wrapper) status(err error) int32 {
	return canwrap.Code(w.m.Record(err))
}

func illegal(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{canwrap.ErrIllegalArgument}, args...)...)
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// FindAllChannels writes the tab separated channel names (at most
// [canwrap.MaxChannelsLen] bytes) and the total number of channels
func (w *Wrapper) FindAllChannels(str *string, chnCount *int32) int32 {
	if str == nil || chnCount == nil {
		return w.status(illegal("nil output"))
	}
	*chnCount = int32(len(w.m.FindAllChannels()))
	list, err := w.m.ChannelList()
	*str = list
	return w.status(err)
}

// GetLastError writes the last error description and code.
// If *eventNum is non-zero on entry, the description of that code is
// written instead and *eventNum is left untouched.
func (w *Wrapper) GetLastError(description *string, eventNum *int32) int32 {
	if description == nil || eventNum == nil {
		return canwrap.Code(canwrap.ErrIllegalArgument)
	}
	if *eventNum != 0 {
		*description = manager.Describe(*eventNum)
		return 0
	}
	*eventNum, *description = w.m.LastError()
	return 0
}

// GetChannel acquires the channel identified by device (channel name,
// device name or serial number) and chnIndex
func (w *Wrapper) GetChannel(channel *Handle, device string, chnIndex int32) int32 {
	if channel == nil {
		return w.status(illegal("nil output"))
	}
	handle, err := w.m.GetChannel(device, int(chnIndex))
	*channel = handle
	return w.status(err)
}

func (w *Wrapper) channel(handle Handle) (*channel.Channel, error) {
	return w.m.Channel(handle)
}

func (w *Wrapper) OpenChannel(handle Handle, typ int32, mode int32) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if typ < 0 || typ > 0xFF || mode < 0 || mode > 0xFF {
		return w.status(illegal("open type %d, mode %d", typ, mode))
	}
	return w.status(ch.Open(canwrap.OpenType(typ), canwrap.OpenMode(mode)))
}

// CloseChannel closes the channel and releases its handle
func (w *Wrapper) CloseChannel(handle Handle) int32 {
	return w.status(w.m.CloseChannel(handle))
}

func (w *Wrapper) GetChannelName(handle Handle, name *string) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if name == nil {
		return w.status(illegal("nil output"))
	}
	*name = ch.Name()
	return 0
}

func (w *Wrapper) SetBaudRate(handle Handle, baudRate uint64) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetBaudRate(baudRate))
}

func (w *Wrapper) GetBaudRate(handle Handle, baudRate *uint64) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if baudRate == nil {
		return w.status(illegal("nil output"))
	}
	*baudRate = ch.BaudRate()
	return 0
}

func (w *Wrapper) SetFdBaudRate(handle Handle, baudRate uint64) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetFdBaudRate(baudRate))
}

func (w *Wrapper) GetFdBaudRate(handle Handle, baudRate *uint64) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if baudRate == nil {
		return w.status(illegal("nil output"))
	}
	*baudRate = ch.FdBaudRate()
	return 0
}

func (w *Wrapper) SetCustomBaudRate(handle Handle, baudRate string) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetCustomBaudRate(baudRate))
}

// GetCustomBaudRate writes at most [canwrap.MaxBitrateLen] bytes
func (w *Wrapper) GetCustomBaudRate(handle Handle, baudRate *string) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if baudRate == nil {
		return w.status(illegal("nil output"))
	}
	custom := ch.CustomBaudRate()
	if len(custom) > canwrap.MaxBitrateLen {
		*baudRate = custom[:canwrap.MaxBitrateLen]
		return w.status(canwrap.ErrTruncated)
	}
	*baudRate = custom
	return 0
}

func buildFrame(id uint32, typ uint8, extended uint8, data []byte, dataLength uint8) (canwrap.Frame, error) {
	if int(dataLength) > len(data) {
		return canwrap.Frame{}, illegal("data length %d but only %d bytes given", dataLength, len(data))
	}
	if int(dataLength) > canwrap.MaxFDDataLen {
		return canwrap.Frame{}, fmt.Errorf("%w: data length %d", canwrap.ErrInvalidFrame, dataLength)
	}
	messageType := canwrap.MessageType(typ)
	if !messageType.Valid() || messageType == canwrap.ErrorFrame {
		return canwrap.Frame{}, illegal("frame type %d", typ)
	}
	return canwrap.NewFrame(id, messageType, extended != 0, data[:dataLength]), nil
}

// SetMessage sends one frame, or stores / queues it depending on the tx mode
func (w *Wrapper) SetMessage(handle Handle, id uint32, typ uint8, extended uint8, data []byte, dataLength uint8, timeout int32) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	frame, err := buildFrame(id, typ, extended, data, dataLength)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetMessage(frame, timeout))
}

// SetMessages sends *items frames. data holds the payloads one after
// the other, dataLength gives the length of each one.
// On return *items is the number of frames accepted.
func (w *Wrapper) SetMessages(handle Handle, id []uint32, typ []uint8, extended []uint8, data []byte, dataLength []uint8, items *uint32, timeout int32) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if items == nil {
		return w.status(illegal("nil items"))
	}
	count := int(*items)
	if len(id) < count || len(typ) < count || len(extended) < count || len(dataLength) < count {
		*items = 0
		return w.status(illegal("%d items but arrays are shorter", count))
	}
	frames := make([]canwrap.Frame, 0, count)
	offset := 0
	for i := 0; i < count; i++ {
		end := offset + int(dataLength[i])
		if end > len(data) {
			*items = 0
			return w.status(illegal("data array too short for frame %d", i))
		}
		frame, err := buildFrame(id[i], typ[i], extended[i], data[offset:end], dataLength[i])
		if err != nil {
			*items = 0
			return w.status(err)
		}
		frames = append(frames, frame)
		offset = end
	}
	sent, err := ch.SetMessages(frames, timeout)
	*items = uint32(sent)
	return w.status(err)
}

func (w *Wrapper) GetMessageCount(handle Handle, count *int32) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if count == nil {
		return w.status(illegal("nil output"))
	}
	n, err := ch.MessageCount()
	*count = int32(n)
	return w.status(err)
}

// Largest payload a channel can receive
func maxPayload(ch *channel.Channel) int {
	openType, _ := ch.OpenType()
	if openType.IsFD() {
		return canwrap.MaxFDDataLen
	}
	return canwrap.MaxDataLen
}

// GetMessage receives one frame, data must hold the largest payload
// of the channel (8 bytes, 64 for CAN FD)
func (w *Wrapper) GetMessage(handle Handle, id *uint32, typ *uint8, extended *uint8, transmitted *uint8, timestamp *uint64, data []byte, dataLength *uint8, timeout int32) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if id == nil || typ == nil || extended == nil || transmitted == nil || timestamp == nil || dataLength == nil {
		return w.status(illegal("nil output"))
	}
	if ch.IsOpen() && len(data) < maxPayload(ch) {
		return w.status(canwrap.ErrBufferTooSmall)
	}
	frame, err := ch.GetMessage(timeout)
	if err != nil && !canwrap.IsWarning(err) {
		return w.status(err)
	}
	*id = frame.ID
	*typ = uint8(frame.Type)
	*extended = boolToUint8(frame.Extended)
	*transmitted = boolToUint8(frame.Transmitted)
	*timestamp = frame.Timestamp
	*dataLength = uint8(copy(data, frame.Payload()))
	return w.status(err)
}

// GetMessages receives up to *items frames into the arrays, all that fit
// if *items is negative. data receives the payloads one after the other
// and must hold the largest payload of the channel for every frame.
// On return *items is the number of frames received.
func (w *Wrapper) GetMessages(handle Handle, id []uint32, typ []uint8, extended []uint8, transmitted []uint8, timestamp []uint64, data []byte, dataLength []uint8, items *int32, timeout int32) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if items == nil {
		return w.status(illegal("nil items"))
	}
	capacity := min(len(id), len(typ), len(extended), len(transmitted), len(timestamp), len(dataLength))
	requested := int(*items)
	*items = 0
	if requested > capacity {
		return w.status(canwrap.ErrBufferTooSmall)
	}
	limit := requested
	if requested < 0 {
		limit = capacity
	}
	if ch.IsOpen() && len(data) < limit*maxPayload(ch) {
		return w.status(canwrap.ErrBufferTooSmall)
	}
	var frames []canwrap.Frame
	if requested < 0 {
		frames, err = ch.GetAvailable(limit, timeout)
	} else {
		frames, err = ch.GetMessages(requested, timeout)
	}
	offset := 0
	for i, frame := range frames {
		id[i] = frame.ID
		typ[i] = uint8(frame.Type)
		extended[i] = boolToUint8(frame.Extended)
		transmitted[i] = boolToUint8(frame.Transmitted)
		timestamp[i] = frame.Timestamp
		n := copy(data[offset:], frame.Payload())
		dataLength[i] = uint8(n)
		offset += n
	}
	*items = int32(len(frames))
	return w.status(err)
}

func (w *Wrapper) IsTerminationSupported(handle Handle, supported *uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if supported == nil {
		return w.status(illegal("nil output"))
	}
	*supported = boolToUint8(ch.TerminationSupported())
	return 0
}

func (w *Wrapper) SetTermination(handle Handle, enabled uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetTermination(enabled != 0))
}

func (w *Wrapper) IsTerminationEnabled(handle Handle, enabled *uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if enabled == nil {
		return w.status(illegal("nil output"))
	}
	on, err := ch.TerminationEnabled()
	*enabled = boolToUint8(on)
	return w.status(err)
}

func (w *Wrapper) IsEchoMessageSupported(handle Handle, supported *uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if supported == nil {
		return w.status(illegal("nil output"))
	}
	*supported = boolToUint8(ch.EchoSupported())
	return 0
}

func (w *Wrapper) SetEchoMessage(handle Handle, echo uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetEcho(echo != 0))
}

func (w *Wrapper) IsEchoMessageEnabled(handle Handle, echo *uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if echo == nil {
		return w.status(illegal("nil output"))
	}
	*echo = boolToUint8(ch.EchoEnabled())
	return 0
}

func (w *Wrapper) SetBusErrorReport(handle Handle, enabled uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetBusErrorReport(enabled != 0))
}

// ApplySettings commits pending settings, they are stored unless temporary
func (w *Wrapper) ApplySettings(handle Handle, temporary uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.ApplySettings(temporary != 0))
}

func (w *Wrapper) IsTxModeSupported(handle Handle, mode uint8, supported *uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if supported == nil {
		return w.status(illegal("nil output"))
	}
	if !canwrap.TxMode(mode).Valid() {
		*supported = 0
		return w.status(illegal("tx mode %d", mode))
	}
	*supported = boolToUint8(ch.TxModeSupported(canwrap.TxMode(mode)))
	return 0
}

func (w *Wrapper) SetTxMode(handle Handle, mode uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetTxMode(canwrap.TxMode(mode)))
}

// SetTxTiming sets the auto send period or queue delay of an id in ms
func (w *Wrapper) SetTxTiming(handle Handle, id uint32, time int32) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.SetTxTiming(id, time))
}

func (w *Wrapper) IsBlinkSupported(handle Handle, supported *uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if supported == nil {
		return w.status(illegal("nil output"))
	}
	*supported = boolToUint8(ch.BlinkSupported())
	return 0
}

func (w *Wrapper) BlinkChannel(handle Handle, blink uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	return w.status(ch.Blink(blink != 0))
}

func (w *Wrapper) IsChannelBlinking(handle Handle, blinking *uint8) int32 {
	ch, err := w.channel(handle)
	if err != nil {
		return w.status(err)
	}
	if blinking == nil {
		return w.status(illegal("nil output"))
	}
	on, err := ch.Blinking()
	*blinking = boolToUint8(on)
	return w.status(err)
}
