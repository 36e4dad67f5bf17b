package gateway

import (
	"errors"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/channel"
	"github.com/samsamfire/gocanwrap/pkg/manager"
	log "github.com/sirupsen/logrus"
)

// BaseGateway implements the channel operations that are exposed by
// the gateways. Channels are addressed by name and acquired on first use.
// Each gateway maps its own parsing logic to this base gateway.
type BaseGateway struct {
	manager *manager.Manager
}

func NewBaseGateway(m *manager.Manager) *BaseGateway {
	return &BaseGateway{manager: m}
}

type GatewayVersion struct {
	ProtocolVersion string
	Interfaces      []string
}

// Get gateway version information
func (gw *BaseGateway) GetVersion(interfaces []string) GatewayVersion {
	return GatewayVersion{ProtocolVersion: "1.0", Interfaces: interfaces}
}

// Channels that can be acquired
func (gw *BaseGateway) Channels() []canwrap.ChannelInfo {
	return gw.manager.FindAllChannels()
}

// Get an acquired channel by name, or acquire it
func (gw *BaseGateway) Channel(name string) (*channel.Channel, error) {
	handle, ok := gw.manager.Lookup(name)
	if !ok {
		var err error
		handle, err = gw.manager.GetChannel(name, 0)
		if err != nil && !canwrap.IsWarning(err) {
			return nil, err
		}
		log.Debugf("[GATEWAY] acquired %v", name)
	}
	return gw.manager.Channel(handle)
}

// Open a channel, acquiring it if needed
func (gw *BaseGateway) Open(name string, openType canwrap.OpenType, mode canwrap.OpenMode) error {
	ch, err := gw.Channel(name)
	if err != nil {
		return err
	}
	return ch.Open(openType, mode)
}

// Close a channel and release it
func (gw *BaseGateway) Close(name string) error {
	handle, ok := gw.manager.Lookup(name)
	if !ok {
		return canwrap.ErrNotOpen
	}
	return gw.manager.CloseChannel(handle)
}

// Send frames, returns the number of frames accepted
func (gw *BaseGateway) Send(name string, frames []canwrap.Frame, timeout int32) (int, error) {
	ch, err := gw.Channel(name)
	if err != nil {
		return 0, err
	}
	return ch.SetMessages(frames, timeout)
}

// Receive frames with the same semantics as [channel.Channel.GetMessages].
// A timeout with partial results is not reported as an error.
func (gw *BaseGateway) Receive(name string, items int, timeout int32) ([]canwrap.Frame, error) {
	ch, err := gw.Channel(name)
	if err != nil {
		return nil, err
	}
	frames, err := ch.GetMessages(items, timeout)
	if errors.Is(err, canwrap.ErrTimeout) && len(frames) > 0 {
		err = nil
	}
	return frames, err
}

// Replace the pending settings of a channel
func (gw *BaseGateway) UpdateSettings(name string, update func(ch *channel.Channel) error) error {
	ch, err := gw.Channel(name)
	if err != nil {
		return err
	}
	return update(ch)
}

// Apply pending settings
func (gw *BaseGateway) Apply(name string, temporary bool) error {
	ch, err := gw.Channel(name)
	if err != nil {
		return err
	}
	return ch.ApplySettings(temporary)
}

func (gw *BaseGateway) Blink(name string, enabled bool) error {
	ch, err := gw.Channel(name)
	if err != nil {
		return err
	}
	return ch.Blink(enabled)
}

// Close every channel
func (gw *BaseGateway) Disconnect() {
	if err := gw.manager.Close(); err != nil {
		log.Warnf("[GATEWAY] error closing channels : %v", err)
	}
}
