// Package manager keeps the registry of acquired channels.
// Channels are discovered through the registered backends, acquired
// with [Manager.GetChannel] and then referenced by an opaque [Handle].
package manager

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	"github.com/samsamfire/gocanwrap/pkg/can/virtual"
	"github.com/samsamfire/gocanwrap/pkg/channel"
	"github.com/samsamfire/gocanwrap/pkg/config"
	log "github.com/sirupsen/logrus"
)

// Opaque channel handle, 0 is never a valid handle
type Handle uint32

type entry struct {
	handle  Handle
	key     string
	channel *channel.Channel
}

// A Manager is the main object of this package.
// It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	config     config.Config
	store      *config.Store
	channels   map[Handle]*entry
	byKey      map[string]Handle
	nextHandle Handle

	errMu   sync.Mutex
	lastErr error
}

// Create a new manager from a configuration
func New(cfg config.Config) (*Manager, error) {
	store, err := config.NewStore(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}
	virtual.SetChannelCount(cfg.VirtualChannels)
	log.Debugf("[MANAGER] created, interfaces %v, settings file %q", can.Interfaces(), cfg.SettingsFile)
	return &Manager{
		config:     cfg,
		store:      store,
		channels:   make(map[Handle]*entry),
		byKey:      make(map[string]Handle),
		nextHandle: 1,
	}, nil
}

// Settings store shared by all channels
func (m *Manager) Store() *config.Store {
	return m.store
}

// Record err as the last error, nil is ignored. Returns err.
func (m *Manager) Record(err error) error {
	if err == nil {
		return nil
	}
	m.errMu.Lock()
	m.lastErr = err
	m.errMu.Unlock()
	if canwrap.IsWarning(err) {
		log.Debugf("[MANAGER] warning : %v", err)
	} else {
		log.Debugf("[MANAGER] error : %v", err)
	}
	return err
}

// Code & description of the last recorded error, the description is
// at most [canwrap.MaxErrorLen] bytes
func (m *Manager) LastError() (int32, string) {
	m.errMu.Lock()
	err := m.lastErr
	m.errMu.Unlock()
	if err == nil {
		return 0, truncate(canwrap.Describe(0), canwrap.MaxErrorLen)
	}
	return canwrap.Code(err), truncate(err.Error(), canwrap.MaxErrorLen)
}

// Description of any status code, at most [canwrap.MaxErrorLen] bytes
func Describe(code int32) string {
	return truncate(canwrap.Describe(code), canwrap.MaxErrorLen)
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// FindAllChannels lists every channel reachable through the registered backends
func (m *Manager) FindAllChannels() []canwrap.ChannelInfo {
	return can.Discover()
}

// ChannelList renders the channel names separated by tabs.
// The list is cut at [canwrap.MaxChannelsLen] bytes, on a name boundary,
// and [canwrap.ErrTruncated] is returned with it.
func (m *Manager) ChannelList() (string, error) {
	var b strings.Builder
	for _, info := range m.FindAllChannels() {
		extra := len(info.Name)
		if b.Len() > 0 {
			extra++
		}
		if b.Len()+extra > canwrap.MaxChannelsLen {
			return b.String(), m.Record(canwrap.ErrTruncated)
		}
		if b.Len() > 0 {
			b.WriteByte('\t')
		}
		b.WriteString(info.Name)
	}
	return b.String(), nil
}

// Resolve a device string & index to a channel.
// "<interface>:<channel>" addresses a backend channel directly,
// otherwise device is matched against channel names (index ignored),
// then against device names & serial numbers together with index.
func (m *Manager) resolve(device string, index int) (canwrap.ChannelInfo, error) {
	if device == "" {
		return canwrap.ChannelInfo{}, fmt.Errorf("%w: empty device", canwrap.ErrIllegalArgument)
	}
	if iface, name, ok := strings.Cut(device, ":"); ok && isInterface(iface) && name != "" {
		return canwrap.ChannelInfo{
			Interface:   iface,
			Device:      name,
			Index:       index,
			Name:        name,
			Description: "manually addressed channel",
		}, nil
	}
	channels := m.FindAllChannels()
	for _, info := range channels {
		if info.Name == device {
			return info, nil
		}
	}
	for _, info := range channels {
		if (info.Device == device || (info.Serial != "" && info.Serial == device)) && info.Index == index {
			return info, nil
		}
	}
	return canwrap.ChannelInfo{}, fmt.Errorf("%w: %v (index %d)", canwrap.ErrChannelNotFound, device, index)
}

func isInterface(name string) bool {
	for _, iface := range can.Interfaces() {
		if iface == name {
			return true
		}
	}
	return false
}

// GetChannel acquires a channel and returns its handle.
// If the channel is already acquired, the existing handle is
// returned together with [canwrap.ErrAlreadyAcquired].
func (m *Manager) GetChannel(device string, index int) (Handle, error) {
	info, err := m.resolve(device, index)
	if err != nil {
		return 0, m.Record(err)
	}
	key := info.Interface + ":" + info.Name

	m.mu.Lock()
	defer m.mu.Unlock()
	if handle, ok := m.byKey[key]; ok {
		return handle, m.Record(canwrap.ErrAlreadyAcquired)
	}
	bus, err := can.NewBus(info.Interface, info.Name)
	if err != nil {
		return 0, m.Record(err)
	}
	ch, err := channel.New(info, bus, channel.Options{
		RxQueueSize: m.config.RxQueueSize,
		TxQueueSize: m.config.TxQueueSize,
		Store:       m.store,
	})
	if err != nil {
		return 0, m.Record(err)
	}
	handle := m.nextHandle
	m.nextHandle++
	m.channels[handle] = &entry{handle: handle, key: key, channel: ch}
	m.byKey[key] = handle
	log.Infof("[MANAGER] acquired %v as handle %d", info, handle)
	return handle, nil
}

// Channel returns the session of a handle
func (m *Manager) Channel(handle Handle) (*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.channels[handle]
	if !ok {
		return nil, m.Record(fmt.Errorf("%w: %d", canwrap.ErrInvalidHandle, handle))
	}
	return e.channel, nil
}

// Handles of all acquired channels
func (m *Manager) Handles() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	handles := make([]Handle, 0, len(m.channels))
	for handle := range m.channels {
		handles = append(handles, handle)
	}
	return handles
}

// Find the handle of an acquired channel by its name
func (m *Manager) Lookup(name string) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for handle, e := range m.channels {
		if e.channel.Name() == name {
			return handle, true
		}
	}
	return 0, false
}

// CloseChannel closes the session if open and releases the handle.
// Warnings from closing (e.g. unapplied settings) are returned.
func (m *Manager) CloseChannel(handle Handle) error {
	m.mu.Lock()
	e, ok := m.channels[handle]
	if ok {
		delete(m.channels, handle)
		delete(m.byKey, e.key)
	}
	m.mu.Unlock()
	if !ok {
		return m.Record(fmt.Errorf("%w: %d", canwrap.ErrInvalidHandle, handle))
	}
	err := e.channel.Close()
	if errors.Is(err, canwrap.ErrNotOpen) {
		err = nil
	}
	log.Infof("[MANAGER] released handle %d (%v)", handle, e.channel.Name())
	return m.Record(err)
}

// Close all acquired channels
func (m *Manager) Close() error {
	var errs []error
	for _, handle := range m.Handles() {
		if err := m.CloseChannel(handle); err != nil && !canwrap.IsWarning(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
