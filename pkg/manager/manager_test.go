package manager

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/can/virtual"
	"github.com/samsamfire/gocanwrap/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SettingsFile = filepath.Join(t.TempDir(), "settings.ini")
	m, err := New(cfg)
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = m.Close()
		virtual.SetChannelCount(config.DefaultVirtualChannels)
	})
	return m
}

func TestFindAllChannels(t *testing.T) {
	m := newManager(t)
	names := make([]string, 0)
	for _, info := range m.FindAllChannels() {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "virtual.0")
	assert.Contains(t, names, "virtual.1")

	list, err := m.ChannelList()
	assert.Nil(t, err)
	assert.Contains(t, strings.Split(list, "\t"), "virtual.1")
}

func TestChannelListTruncated(t *testing.T) {
	m := newManager(t)
	virtual.SetChannelCount(500)
	list, err := m.ChannelList()
	assert.ErrorIs(t, err, canwrap.ErrTruncated)
	assert.LessOrEqual(t, len(list), canwrap.MaxChannelsLen)
	// Cut on a name boundary
	for _, name := range strings.Split(list, "\t") {
		assert.NotEmpty(t, name)
	}
	code, _ := m.LastError()
	assert.EqualValues(t, 2, code)
}

func TestGetChannel(t *testing.T) {
	m := newManager(t)

	t.Run("by name", func(t *testing.T) {
		handle, err := m.GetChannel("virtual.0", 42)
		assert.Nil(t, err)
		assert.NotZero(t, handle)
		ch, err := m.Channel(handle)
		assert.Nil(t, err)
		assert.Equal(t, "virtual.0", ch.Name())

		again, err := m.GetChannel("virtual.0", 0)
		assert.ErrorIs(t, err, canwrap.ErrAlreadyAcquired)
		assert.Equal(t, handle, again)
		assert.Nil(t, m.CloseChannel(handle))
	})
	t.Run("by device & index", func(t *testing.T) {
		handle, err := m.GetChannel(virtual.DefaultNetwork, 1)
		assert.Nil(t, err)
		ch, _ := m.Channel(handle)
		assert.Equal(t, "virtual.1", ch.Name())
		assert.Nil(t, m.CloseChannel(handle))
	})
	t.Run("by serial", func(t *testing.T) {
		handle, err := m.GetChannel("VIRT0001", 1)
		assert.Nil(t, err)
		ch, _ := m.Channel(handle)
		assert.Equal(t, "virtual.1", ch.Name())
		assert.Nil(t, m.CloseChannel(handle))
	})
	t.Run("by interface & channel", func(t *testing.T) {
		handle, err := m.GetChannel("virtual:manual.3", 0)
		assert.Nil(t, err)
		ch, _ := m.Channel(handle)
		assert.Equal(t, "manual.3", ch.Name())
		assert.Equal(t, "virtual", ch.Info().Interface)
		found, ok := m.Lookup("manual.3")
		assert.True(t, ok)
		assert.Equal(t, handle, found)
	})
	t.Run("not found", func(t *testing.T) {
		_, err := m.GetChannel("nothing", 0)
		assert.ErrorIs(t, err, canwrap.ErrChannelNotFound)
		_, err = m.GetChannel(virtual.DefaultNetwork, 99)
		assert.ErrorIs(t, err, canwrap.ErrChannelNotFound)
		_, err = m.GetChannel("socketcan:doesnotexist42", 0)
		assert.ErrorIs(t, err, canwrap.ErrChannelNotFound)
		_, err = m.GetChannel("", 0)
		assert.ErrorIs(t, err, canwrap.ErrIllegalArgument)
		code, desc := m.LastError()
		assert.EqualValues(t, -1, code)
		assert.NotEmpty(t, desc)
	})
	t.Run("invalid handle", func(t *testing.T) {
		_, err := m.Channel(1234)
		assert.ErrorIs(t, err, canwrap.ErrInvalidHandle)
		assert.ErrorIs(t, m.CloseChannel(1234), canwrap.ErrInvalidHandle)
	})
}

func TestChannelsCommunicate(t *testing.T) {
	m := newManager(t)
	h0, err := m.GetChannel("virtual.0", 0)
	require.Nil(t, err)
	h1, err := m.GetChannel("virtual.1", 0)
	require.Nil(t, err)
	assert.NotEqual(t, h0, h1)
	ch0, _ := m.Channel(h0)
	ch1, _ := m.Channel(h1)
	require.Nil(t, ch0.Open(canwrap.OpenFD, canwrap.ModeNormal))
	require.Nil(t, ch1.Open(canwrap.OpenFD, canwrap.ModeNormal))

	frame := canwrap.NewFrame(0x7FF, canwrap.FD, false, make([]byte, 64))
	assert.Nil(t, ch0.SetMessage(frame, 0))
	received, err := ch1.GetMessage(100)
	assert.Nil(t, err)
	assert.EqualValues(t, 64, received.DLC)

	// Closing the manager closes every channel
	assert.Nil(t, m.Close())
	assert.False(t, ch0.IsOpen())
	assert.False(t, ch1.IsOpen())
	assert.Len(t, m.Handles(), 0)
}

func TestCloseChannelPendingSettings(t *testing.T) {
	m := newManager(t)
	handle, err := m.GetChannel("virtual.0", 0)
	require.Nil(t, err)
	ch, _ := m.Channel(handle)
	require.Nil(t, ch.Open(canwrap.OpenCAN, canwrap.ModeNormal))
	require.Nil(t, ch.SetBaudRate(250_000))
	err = m.CloseChannel(handle)
	assert.ErrorIs(t, err, canwrap.ErrPendingSettings)
	assert.True(t, canwrap.IsWarning(err))

	// Handle is released, a new one is given
	again, err := m.GetChannel("virtual.0", 0)
	assert.Nil(t, err)
	assert.NotEqual(t, handle, again)
}

func TestStoredSettings(t *testing.T) {
	m := newManager(t)
	handle, err := m.GetChannel("virtual.0", 0)
	require.Nil(t, err)
	ch, _ := m.Channel(handle)
	require.Nil(t, ch.SetBaudRate(125_000))
	require.Nil(t, ch.ApplySettings(false))
	require.Nil(t, m.CloseChannel(handle))

	handle, err = m.GetChannel("virtual.0", 0)
	require.Nil(t, err)
	ch, _ = m.Channel(handle)
	assert.EqualValues(t, 125_000, ch.BaudRate())
	assert.Equal(t, []string{"virtual.0"}, m.Store().Channels())
}

func TestDescribe(t *testing.T) {
	for code := int32(-16); code <= 4; code++ {
		desc := Describe(code)
		assert.NotEmpty(t, desc, fmt.Sprint(code))
		assert.LessOrEqual(t, len(desc), canwrap.MaxErrorLen)
	}
	m := newManager(t)
	code, desc := m.LastError()
	assert.EqualValues(t, 0, code)
	assert.Equal(t, canwrap.Describe(0), desc)
}
