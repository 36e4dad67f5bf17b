package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/internal/fifo"
	"github.com/samsamfire/gocanwrap/pkg/config"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultRxQueueSize = config.DefaultRxQueueSize
	DefaultTxQueueSize = config.DefaultTxQueueSize
)

type State uint8

const (
	StateAcquired State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAcquired:
		return "ACQUIRED"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

type Options struct {
	RxQueueSize int
	TxQueueSize int
	Store       *config.Store // Optional, settings are kept in memory without it
}

// Channel counters
type Stats struct {
	Rx        uint64 // Frames queued for reception
	Tx        uint64 // Frames transmitted
	TxErrors  uint64 // Failed transmissions
	Dropped   uint64 // Error frames dropped because bus error reporting is off
	Overflow  uint64 // Frames lost because the receive queue was full
	BusErrors uint64 // Error frames seen
}

type counters struct {
	rx, tx, txErrors, dropped, overflow, busErrors atomic.Uint64
}

// Fields read on the transmit & receive paths
type link struct {
	open         bool
	openType     canwrap.OpenType
	mode         canwrap.OpenMode
	softwareEcho bool
	busErrReport bool
	txMode       canwrap.TxMode
	openedAt     time.Time
}

// A Channel is a session on one CAN channel : it is opened with
// a frame type & a mode, holds pending settings until they are
// applied, and buffers received frames.
// A Channel is safe for concurrent use.
type Channel struct {
	info    canwrap.ChannelInfo
	bus     canwrap.Bus
	bm      *canwrap.BusManager
	store   *config.Store
	options Options

	mu         sync.Mutex
	state      State
	pending    config.Settings
	current    config.Settings
	subscribed bool
	scheduler  *scheduler

	linkMu sync.RWMutex
	link   link

	rxMu     sync.Mutex
	rx       *fifo.Fifo[canwrap.Frame]
	overflow bool
	notify   chan struct{}
	done     chan struct{}

	stats counters
}

// Create a new channel on top of a backend. Stored settings of the
// channel are loaded as the initial pending & current settings.
func New(info canwrap.ChannelInfo, bus canwrap.Bus, options Options) (*Channel, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", canwrap.ErrIllegalArgument)
	}
	if options.RxQueueSize <= 0 {
		options.RxQueueSize = DefaultRxQueueSize
	}
	if options.TxQueueSize <= 0 {
		options.TxQueueSize = DefaultTxQueueSize
	}
	settings := config.DefaultSettings()
	if options.Store != nil {
		stored, found, err := options.Store.Load(info.Name)
		if err != nil {
			log.Warnf("[CHANNEL][%v] ignoring stored settings : %v", info.Name, err)
		} else if found {
			log.Debugf("[CHANNEL][%v] loaded stored settings %v", info.Name, stored)
			settings = stored
		}
	}
	done := make(chan struct{})
	close(done)
	ch := &Channel{
		info:    info,
		bus:     bus,
		bm:      canwrap.NewBusManager(bus),
		store:   options.Store,
		options: options,
		state:   StateAcquired,
		pending: settings.Clone(),
		current: settings.Clone(),
		rx:      fifo.NewFifo[canwrap.Frame](options.RxQueueSize),
		notify:  make(chan struct{}),
		done:    done,
	}
	ch.scheduler = newScheduler(ch, options.TxQueueSize)
	ch.link.busErrReport = settings.BusErrorReport
	return ch, nil
}

func (ch *Channel) Info() canwrap.ChannelInfo {
	return ch.info
}

// Name of the channel, at most [canwrap.MaxNameLen] bytes
func (ch *Channel) Name() string {
	name := ch.info.Name
	if len(name) > canwrap.MaxNameLen {
		name = name[:canwrap.MaxNameLen]
	}
	return name
}

// Underlying backend
func (ch *Channel) Bus() canwrap.Bus {
	return ch.bus
}

func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) IsOpen() bool {
	ch.linkMu.RLock()
	defer ch.linkMu.RUnlock()
	return ch.link.open
}

// Frame type & mode the channel was opened with
func (ch *Channel) OpenType() (canwrap.OpenType, canwrap.OpenMode) {
	ch.linkMu.RLock()
	defer ch.linkMu.RUnlock()
	return ch.link.openType, ch.link.mode
}

func (ch *Channel) Stats() Stats {
	return Stats{
		Rx:        ch.stats.rx.Load(),
		Tx:        ch.stats.tx.Load(),
		TxErrors:  ch.stats.txErrors.Load(),
		Dropped:   ch.stats.dropped.Load(),
		Overflow:  ch.stats.overflow.Load(),
		BusErrors: ch.stats.busErrors.Load(),
	}
}

// Open the channel. Pending settings are applied to the backend
// before connecting.
func (ch *Channel) Open(openType canwrap.OpenType, mode canwrap.OpenMode) error {
	if !openType.Valid() || !mode.Valid() {
		return fmt.Errorf("%w: open type %v, mode %v", canwrap.ErrIllegalArgument, openType, mode)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == StateOpen {
		return canwrap.ErrAlreadyOpen
	}
	if openType.IsFD() {
		fdCapable, ok := ch.bus.(canwrap.FDCapable)
		if !ok || !fdCapable.FDSupported() {
			return fmt.Errorf("%w: %v does not support CAN FD", canwrap.ErrNotSupported, ch.info.Name)
		}
	}
	if configurer, ok := ch.bus.(canwrap.ModeConfigurer); ok {
		if err := configurer.SetMode(openType, mode); err != nil {
			return canwrap.BackendError(err)
		}
	}
	ch.linkMu.Lock()
	ch.link.openType = openType
	ch.link.mode = mode
	ch.linkMu.Unlock()
	settings := ch.pending.Clone()
	softwareEcho, err := ch.push(settings, true)
	if err != nil {
		return err
	}
	if err := ch.bus.Connect(); err != nil {
		return canwrap.BackendError(err)
	}
	if err := ch.bus.Subscribe(ch.bm); err != nil {
		_ = ch.bus.Disconnect()
		return canwrap.BackendError(err)
	}
	if !ch.subscribed {
		ch.bm.SubscribeAll(ch)
		ch.subscribed = true
	}
	ch.current = settings

	ch.rxMu.Lock()
	ch.rx.Reset()
	ch.overflow = false
	ch.done = make(chan struct{})
	ch.rxMu.Unlock()

	ch.linkMu.Lock()
	ch.link = link{
		open:         true,
		openType:     openType,
		mode:         mode,
		softwareEcho: softwareEcho,
		busErrReport: settings.BusErrorReport,
		txMode:       settings.TxMode,
		openedAt:     time.Now(),
	}
	ch.linkMu.Unlock()

	ch.scheduler.start(settings.TxMode, settings.TxTiming)
	ch.state = StateOpen
	log.Infof("[CHANNEL][%v] opened as %v in %v mode (%v)", ch.info.Name, openType, mode, settings)
	return nil
}

// Close the channel. Blocked receivers return [canwrap.ErrClosed].
// Returns the [canwrap.ErrPendingSettings] warning if settings were
// changed and never applied.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state != StateOpen {
		return canwrap.ErrNotOpen
	}
	ch.scheduler.stop()

	ch.linkMu.Lock()
	ch.link.open = false
	ch.linkMu.Unlock()

	ch.rxMu.Lock()
	close(ch.done)
	ch.rxMu.Unlock()

	if blinker, ok := ch.bus.(canwrap.Blinker); ok && blinker.Blinking() {
		_ = blinker.Blink(false)
	}
	ch.state = StateClosed
	err := ch.bus.Disconnect()
	if err != nil {
		log.Warnf("[CHANNEL][%v] error on disconnect : %v", ch.info.Name, err)
		return canwrap.BackendError(err)
	}
	log.Infof("[CHANNEL][%v] closed", ch.info.Name)
	if !ch.pending.Equal(ch.current) {
		return canwrap.ErrPendingSettings
	}
	return nil
}

// Subscribe to received frames of a specific id, in addition to the receive queue
func (ch *Channel) Subscribe(ident uint32, extended bool, listener canwrap.FrameListener) error {
	return ch.bm.Subscribe(ident, extended, listener)
}

// Subscribe to every received frame, in addition to the receive queue
func (ch *Channel) SubscribeAll(listener canwrap.FrameListener) {
	ch.bm.SubscribeAll(listener)
}

func (ch *Channel) Unsubscribe(listener canwrap.FrameListener) {
	ch.bm.Unsubscribe(listener)
}

func (ch *Channel) BlinkSupported() bool {
	_, ok := ch.bus.(canwrap.Blinker)
	return ok
}

// Blink the channel led for identification, takes effect immediately
func (ch *Channel) Blink(enabled bool) error {
	blinker, ok := ch.bus.(canwrap.Blinker)
	if !ok {
		return canwrap.ErrNotSupported
	}
	if !ch.IsOpen() {
		return canwrap.ErrNotOpen
	}
	return canwrap.BackendError(blinker.Blink(enabled))
}

func (ch *Channel) Blinking() (bool, error) {
	blinker, ok := ch.bus.(canwrap.Blinker)
	if !ok {
		return false, canwrap.ErrNotSupported
	}
	return blinker.Blinking(), nil
}
