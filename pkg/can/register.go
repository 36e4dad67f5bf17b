package can

import (
	"fmt"
	"sort"
	"sync"

	canwrap "github.com/samsamfire/gocanwrap"
	log "github.com/sirupsen/logrus"
)

// Create a new backend for the given channel e.g. "can0", "/dev/ttyUSB0"
type NewInterfaceFunc func(channel string) (canwrap.Bus, error)

// List the channels a backend can currently reach
type DiscoverFunc func() ([]canwrap.ChannelInfo, error)

var (
	registryMu        sync.RWMutex
	interfaceRegistry = make(map[string]NewInterfaceFunc)
	discoveryRegistry = make(map[string]DiscoverFunc)
)

// Register a new CAN bus interface type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	interfaceRegistry[interfaceType] = newInterface
}

// Register a channel enumerator for an interface type
// This should be called inside an init() function of plugin
func RegisterDiscovery(interfaceType string, discover DiscoverFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	discoveryRegistry[interfaceType] = discover
}

// Create a new CAN bus with given interface
func NewBus(canInterface string, channel string) (canwrap.Bus, error) {
	registryMu.RLock()
	createInterface, ok := interfaceRegistry[canInterface]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported interface : %v", canwrap.ErrNotSupported, canInterface)
	}
	bus, err := createInterface(channel)
	if err != nil {
		return nil, canwrap.BackendError(err)
	}
	return bus, nil
}

// Names of all registered interfaces, sorted
func Interfaces() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(interfaceRegistry))
	for name := range interfaceRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discover channels of every registered interface.
// An enumerator that fails is logged and skipped.
func Discover() []canwrap.ChannelInfo {
	registryMu.RLock()
	discoverers := make(map[string]DiscoverFunc, len(discoveryRegistry))
	for name, discover := range discoveryRegistry {
		discoverers[name] = discover
	}
	registryMu.RUnlock()

	channels := make([]canwrap.ChannelInfo, 0)
	for name, discover := range discoverers {
		found, err := discover()
		if err != nil {
			log.Warnf("[CAN] discovery of %v channels failed : %v", name, err)
			continue
		}
		for _, info := range found {
			if info.Interface == "" {
				info.Interface = name
			}
			channels = append(channels, info)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		return channels[i].Name < channels[j].Name
	})
	return channels
}
