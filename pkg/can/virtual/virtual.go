package virtual

import (
	"fmt"
	"strings"
	"sync"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	log "github.com/sirupsen/logrus"
)

// In-process virtual CAN bus, mainly used for testing without hardware.
// Channels are named "<network>.<index>" and every connected channel
// of the same network hears the frames sent by the others.

func init() {
	can.RegisterInterface("virtual", NewVirtualBus)
	can.RegisterDiscovery("virtual", Discover)
}

const DefaultNetwork = "virtual"

var (
	networksMu   sync.Mutex
	networks     = make(map[string]*network)
	channelCount = 2
)

type network struct {
	mu    sync.Mutex
	buses map[*Bus]struct{}
}

func getNetwork(name string) *network {
	networksMu.Lock()
	defer networksMu.Unlock()
	n, ok := networks[name]
	if !ok {
		n = &network{buses: make(map[*Bus]struct{})}
		networks[name] = n
	}
	return n
}

func (n *network) peers(sender *Bus) []*Bus {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]*Bus, 0, len(n.buses))
	for b := range n.buses {
		if b != sender {
			peers = append(peers, b)
		}
	}
	return peers
}

// Set the number of channels reported by discovery
func SetChannelCount(count int) {
	networksMu.Lock()
	defer networksMu.Unlock()
	if count < 0 {
		count = 0
	}
	channelCount = count
}

// Discover lists virtual.0 ... virtual.N-1
func Discover() ([]canwrap.ChannelInfo, error) {
	networksMu.Lock()
	count := channelCount
	networksMu.Unlock()
	channels := make([]canwrap.ChannelInfo, 0, count)
	for i := 0; i < count; i++ {
		channels = append(channels, canwrap.ChannelInfo{
			Interface:   "virtual",
			Device:      DefaultNetwork,
			Serial:      fmt.Sprintf("VIRT%04d", i),
			Index:       i,
			Name:        fmt.Sprintf("%s.%d", DefaultNetwork, i),
			Description: "in-memory virtual CAN FD channel",
		})
	}
	return channels, nil
}

type Bus struct {
	mu           sync.Mutex
	channel      string
	network      *network
	connected    bool
	handler      canwrap.FrameListener
	openType     canwrap.OpenType
	mode         canwrap.OpenMode
	nominal      uint64
	data         uint64
	custom       string
	receiveOwn   bool
	termination  bool
	busErrReport bool
	blinking     bool
	busy         int
}

func NewVirtualBus(channel string) (canwrap.Bus, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: empty virtual channel name", canwrap.ErrIllegalArgument)
	}
	networkName := channel
	if i := strings.LastIndex(channel, "."); i > 0 {
		networkName = channel[:i]
	}
	return &Bus{
		channel:      channel,
		network:      getNetwork(networkName),
		busErrReport: true,
	}, nil
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.network.mu.Lock()
	b.network.buses[b] = struct{}{}
	b.network.mu.Unlock()
	b.connected = true
	log.Debugf("[VIRTUAL][%v] connected", b.channel)
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.network.mu.Lock()
	delete(b.network.buses, b)
	b.network.mu.Unlock()
	b.connected = false
	b.blinking = false
	return nil
}

func (b *Bus) Subscribe(callback canwrap.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = callback
	return nil
}

// Send delivers the frame synchronously to every peer of the network
func (b *Bus) Send(frame canwrap.Frame) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return canwrap.ErrNotOpen
	}
	if b.busy > 0 {
		b.busy--
		b.mu.Unlock()
		return canwrap.ErrTxBusy
	}
	if b.mode == canwrap.ModeListenOnly {
		b.mu.Unlock()
		return canwrap.ErrListenOnly
	}
	if frame.Type.IsFD() && !b.openType.IsFD() {
		b.mu.Unlock()
		return fmt.Errorf("%w: channel %v not opened for CAN FD", canwrap.ErrInvalidFrame, b.channel)
	}
	nominal := b.nominal
	mode := b.mode
	receiveOwn := b.receiveOwn
	self := b.handler
	b.mu.Unlock()

	if mode == canwrap.ModeLoopback {
		if self != nil {
			echo := frame
			echo.Transmitted = true
			self.Handle(echo)
		}
		return nil
	}

	mismatch := false
	for _, peer := range b.network.peers(b) {
		if !peer.accepts(frame, nominal) {
			mismatch = true
			continue
		}
		peer.deliver(frame)
	}
	if mismatch {
		b.InjectBusError(can.CanErrProt)
	}
	if receiveOwn && self != nil {
		echo := frame
		echo.Transmitted = true
		self.Handle(echo)
	}
	return nil
}

func (b *Bus) accepts(frame canwrap.Frame, nominal uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nominal != 0 && nominal != 0 && b.nominal != nominal {
		return false
	}
	if frame.Type.IsFD() && !b.openType.IsFD() {
		return false
	}
	return true
}

func (b *Bus) deliver(frame canwrap.Frame) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler.Handle(frame)
	}
}

// Simulate a bus error seen by this channel, the error class is
// carried in the identifier of the error frame
func (b *Bus) InjectBusError(class uint32) {
	b.mu.Lock()
	report := b.busErrReport
	handler := b.handler
	b.mu.Unlock()
	if !report || handler == nil {
		return
	}
	frame := canwrap.Frame{ID: class & can.CanErrMask, Type: canwrap.ErrorFrame, DLC: 8}
	handler.Handle(frame)
}

// Make the next n sends fail with a busy error
func (b *Bus) SetBusy(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busy = n
}

func (b *Bus) SetBitrate(nominal uint64, data uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nominal = nominal
	b.data = data
	return nil
}

func (b *Bus) SetCustomBitrate(bitrate string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.custom = bitrate
	return nil
}

func (b *Bus) SetMode(openType canwrap.OpenType, mode canwrap.OpenMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openType = openType
	b.mode = mode
	return nil
}

func (b *Bus) FDSupported() bool {
	return true
}

func (b *Bus) SetTermination(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.termination = enabled
	return nil
}

func (b *Bus) Termination() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.termination
}

func (b *Bus) SetReceiveOwn(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = enabled
	return nil
}

func (b *Bus) SetBusErrorReport(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.busErrReport = enabled
	return nil
}

func (b *Bus) Blink(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return canwrap.ErrNotOpen
	}
	b.blinking = enabled
	log.Infof("[VIRTUAL][%v] blink %v", b.channel, enabled)
	return nil
}

func (b *Bus) Blinking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blinking
}

// Bitrates currently configured
func (b *Bus) Bitrate() (nominal uint64, data uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nominal, b.data
}
