package socketcan

import (
	"fmt"
	"net"
	"sync"

	sockcan "github.com/brutella/can"
	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Basic wrapper for socketcan it uses the implementation
// that can be found here : https://github.com/brutella/can
// Only classic CAN frames are supported. Interfaces are not discovered,
// discovery of CAN interfaces belongs to socketcanfd. They are addressed
// directly e.g. "socketcan:can0".

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

// Open the brutella bus of an interface, replaced in tests
var openBus = sockcan.NewBusForInterfaceWithName

// A new socket is opened on every Connect, a closed socket can't be reused
type SocketcanBus struct {
	mu         sync.Mutex
	name       string
	bus        *sockcan.Bus
	rxCallback canwrap.FrameListener
}

// "Connect" implementation of Bus interface
func (socketcan *SocketcanBus) Connect() error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	if socketcan.bus != nil {
		return nil
	}
	bus, err := openBus(socketcan.name)
	if err != nil {
		return canwrap.BackendError(err)
	}
	// brutella/can defines a "Handle" interface for handling received CAN frames
	bus.Subscribe(socketcan)
	socketcan.bus = bus
	go func() {
		err := bus.ConnectAndPublish()
		socketcan.mu.Lock()
		disconnected := socketcan.bus != bus
		socketcan.mu.Unlock()
		if err != nil && !disconnected {
			log.Warnf("[SOCKETCAN][%v] reception stopped : %v", socketcan.name, err)
		}
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (socketcan *SocketcanBus) Disconnect() error {
	socketcan.mu.Lock()
	bus := socketcan.bus
	socketcan.bus = nil
	socketcan.mu.Unlock()
	if bus == nil {
		return nil
	}
	return canwrap.BackendError(bus.Disconnect())
}

// "Send" implementation of Bus interface
func (socketcan *SocketcanBus) Send(frame canwrap.Frame) error {
	brFrame, err := toBrutella(frame)
	if err != nil {
		return err
	}
	socketcan.mu.Lock()
	bus := socketcan.bus
	socketcan.mu.Unlock()
	if bus == nil {
		return canwrap.ErrNotOpen
	}
	return canwrap.BackendError(bus.Publish(brFrame))
}

// "Subscribe" implementation of Bus interface
func (socketcan *SocketcanBus) Subscribe(rxCallback canwrap.FrameListener) error {
	socketcan.mu.Lock()
	defer socketcan.mu.Unlock()
	socketcan.rxCallback = rxCallback
	return nil
}

// brutella/can specific "Handle" implementation
func (socketcan *SocketcanBus) Handle(frame sockcan.Frame) {
	socketcan.mu.Lock()
	callback := socketcan.rxCallback
	socketcan.mu.Unlock()
	if callback == nil {
		return
	}
	callback.Handle(fromBrutella(frame))
}

func toBrutella(frame canwrap.Frame) (sockcan.Frame, error) {
	if frame.Type.IsFD() || frame.DLC > canwrap.MaxDataLen {
		return sockcan.Frame{}, canwrap.ErrNotSupported
	}
	brFrame := sockcan.Frame{
		ID:     can.JoinID(frame.ID, frame.Extended, frame.Type == canwrap.Remote),
		Length: frame.DLC,
	}
	copy(brFrame.Data[:], frame.Data[:canwrap.MaxDataLen])
	return brFrame, nil
}

func fromBrutella(brFrame sockcan.Frame) canwrap.Frame {
	id, extended, remote, isErr := can.SplitID(brFrame.ID)
	frame := canwrap.Frame{ID: id, Extended: extended, DLC: brFrame.Length}
	switch {
	case isErr:
		frame.Type = canwrap.ErrorFrame
		frame.Extended = false
	case remote:
		frame.Type = canwrap.Remote
	}
	if frame.DLC > canwrap.MaxDataLen {
		frame.DLC = canwrap.MaxDataLen
	}
	copy(frame.Data[:], brFrame.Data[:])
	return frame
}

func NewSocketCanBus(name string) (canwrap.Bus, error) {
	if _, err := net.InterfaceByName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", canwrap.ErrChannelNotFound, err)
	}
	return &SocketcanBus{name: name}, nil
}
