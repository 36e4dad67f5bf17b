package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/config"
	"github.com/samsamfire/gocanwrap/pkg/manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDump(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SettingsFile = filepath.Join(t.TempDir(), "settings.ini")
	m, err := manager.New(cfg)
	require.Nil(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ha, err := m.GetChannel("virtual.0", 0)
	require.Nil(t, err)
	hb, err := m.GetChannel("virtual.1", 0)
	require.Nil(t, err)
	a, _ := m.Channel(ha)
	b, _ := m.Channel(hb)
	require.Nil(t, a.Open(canwrap.OpenCAN, canwrap.ModeNormal))
	require.Nil(t, b.Open(canwrap.OpenCAN, canwrap.ModeNormal))

	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- dump(ctx, b, out, 10*time.Millisecond)
	}()
	require.Nil(t, a.SetMessage(canwrap.NewFrame(0x123, canwrap.Classic, false, []byte{0xAB}), 0))
	assert.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "123") && strings.Contains(s, "AB") && strings.Contains(s, "# rx=1")
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("dump did not stop")
	}
}

func TestDumpClosedChannel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SettingsFile = filepath.Join(t.TempDir(), "settings.ini")
	m, err := manager.New(cfg)
	require.Nil(t, err)
	t.Cleanup(func() { _ = m.Close() })

	h, err := m.GetChannel("virtual.0", 0)
	require.Nil(t, err)
	ch, _ := m.Channel(h)
	require.Nil(t, ch.Open(canwrap.OpenCAN, canwrap.ModeNormal))

	done := make(chan error)
	go func() {
		done <- dump(context.Background(), ch, &syncBuffer{}, time.Hour)
	}()
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, ch.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, canwrap.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("dump did not stop on close")
	}
}
