package canwrap

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Bus manager is a wrapper around the CAN bus interface
// Used by channels to dispatch received frames to listeners
// registered for a specific ID or for all frames.
type BusManager struct {
	mu             sync.Mutex
	bus            Bus // Bus interface that can be adapted
	frameListeners map[uint32][]FrameListener
	allListeners   []FrameListener
	busErrors      uint32
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.Lock()
	if frame.Type == ErrorFrame {
		bm.busErrors++
	}
	listeners := bm.frameListeners[listenerKey(frame.ID, frame.Extended)]
	all := bm.allListeners
	bm.mu.Unlock()

	for _, listener := range all {
		listener.Handle(frame)
	}
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}

// Set bus
func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame Frame) error {
	bus := bm.Bus()
	if bus == nil {
		return ErrNotOpen
	}
	err := bus.Send(frame)
	if err != nil {
		log.Warnf("[CAN] %v", err)
	}
	return err
}

func listenerKey(ident uint32, extended bool) uint32 {
	if extended {
		return (ident & MaxExtID) | 0x80000000
	}
	return ident & MaxStdID
}

// Subscribe to a specific CAN ID
func (bm *BusManager) Subscribe(ident uint32, extended bool, callback FrameListener) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	key := listenerKey(ident, extended)
	// Iterate over all callbacks and verify that we are not adding the same one twice
	for _, cb := range bm.frameListeners[key] {
		if cb == callback {
			log.Warnf("[CAN] callback for frame id %x already added", ident)
			return nil
		}
	}
	listeners := bm.frameListeners[key]
	bm.frameListeners[key] = append(listeners[:len(listeners):len(listeners)], callback)
	return nil
}

// Subscribe to every received frame
func (bm *BusManager) SubscribeAll(callback FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.allListeners = append(bm.allListeners[:len(bm.allListeners):len(bm.allListeners)], callback)
}

// Remove a listener from all subscriptions.
// Listener slices are never modified in place, Handle iterates them unlocked.
func (bm *BusManager) Unsubscribe(callback FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	for key, listeners := range bm.frameListeners {
		kept := without(listeners, callback)
		if len(kept) == 0 {
			delete(bm.frameListeners, key)
		} else {
			bm.frameListeners[key] = kept
		}
	}
	bm.allListeners = without(bm.allListeners, callback)
}

func without(listeners []FrameListener, callback FrameListener) []FrameListener {
	kept := make([]FrameListener, 0, len(listeners))
	for _, l := range listeners {
		if l != callback {
			kept = append(kept, l)
		}
	}
	return kept
}

// Number of bus error frames seen
func (bm *BusManager) BusErrors() uint32 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.busErrors
}

func NewBusManager(bus Bus) *BusManager {
	return &BusManager{
		bus:            bus,
		frameListeners: make(map[uint32][]FrameListener),
	}
}
