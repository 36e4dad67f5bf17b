package canwrap

import "fmt"

// How a channel is opened
type OpenType int32

const (
	OpenCAN      OpenType = 0
	OpenFD       OpenType = 1
	OpenFDBRS    OpenType = 2
	OpenFDNonISO OpenType = 3
)

func (t OpenType) String() string {
	switch t {
	case OpenCAN:
		return "can"
	case OpenFD:
		return "canfd"
	case OpenFDBRS:
		return "canfd-brs"
	case OpenFDNonISO:
		return "canfd-non-iso"
	}
	return fmt.Sprintf("open-type(%d)", int32(t))
}

// IsFD returns true if frames of FD type may be used
func (t OpenType) IsFD() bool {
	return t == OpenFD || t == OpenFDBRS || t == OpenFDNonISO
}

func (t OpenType) Valid() bool {
	return t >= OpenCAN && t <= OpenFDNonISO
}

// Controller mode of a channel
type OpenMode int32

const (
	ModeNormal     OpenMode = 0
	ModeListenOnly OpenMode = 1
	ModeLoopback   OpenMode = 2
)

func (m OpenMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeListenOnly:
		return "listen-only"
	case ModeLoopback:
		return "loopback"
	}
	return fmt.Sprintf("mode(%d)", int32(m))
}

func (m OpenMode) Valid() bool {
	return m >= ModeNormal && m <= ModeLoopback
}

// Transmit mode of a channel
type TxMode uint8

const (
	TxNormal   TxMode = 0 // Frames are sent immediately
	TxAutoSend TxMode = 1 // Frames are stored per id and sent periodically
	TxQueue    TxMode = 2 // Frames are queued and sent with a per id delay
)

func (m TxMode) String() string {
	switch m {
	case TxNormal:
		return "normal"
	case TxAutoSend:
		return "auto-send"
	case TxQueue:
		return "queue"
	}
	return fmt.Sprintf("tx-mode(%d)", uint8(m))
}

func (m TxMode) Valid() bool {
	return m <= TxQueue
}

// Description of a channel that can be acquired
type ChannelInfo struct {
	Interface   string // Backend used for this channel e.g. socketcan, virtual
	Device      string // Device name
	Serial      string // Serial number if known
	Index       int    // Channel index inside of device
	Name        string // Unique channel name
	Description string
}

func (c ChannelInfo) String() string {
	return fmt.Sprintf("%s (%s, device %q, index %d)", c.Name, c.Interface, c.Device, c.Index)
}

// Interface for handling a received CAN frame
type FrameListener interface {
	Handle(frame Frame)
}

// A CAN Bus interface, implemented by each backend
type Bus interface {
	Connect() error                         // Connect to the CAN bus
	Disconnect() error                      // Disconnect from CAN bus
	Send(frame Frame) error                 // Send a frame on the bus
	Subscribe(callback FrameListener) error // Subscribe to all received CAN frames
}

// Optional backend capabilities. They are checked with a type assertion
// and a backend that does not implement one reports it as not supported.

// Numeric nominal & data bitrates
type BitrateConfigurer interface {
	SetBitrate(nominal uint64, data uint64) error
}

// Device specific bitrate strings
type CustomBitrateConfigurer interface {
	SetCustomBitrate(bitrate string) error
}

// Frame type & controller mode
type ModeConfigurer interface {
	SetMode(openType OpenType, mode OpenMode) error
}

// FD support. Backends that don't implement it are classic CAN only
type FDCapable interface {
	FDSupported() bool
}

type TerminationController interface {
	SetTermination(enabled bool) error
}

// Native reception of own frames
type EchoController interface {
	SetReceiveOwn(enabled bool) error
}

type BusErrorReporter interface {
	SetBusErrorReport(enabled bool) error
}

type Blinker interface {
	Blink(enabled bool) error
	Blinking() bool
}
