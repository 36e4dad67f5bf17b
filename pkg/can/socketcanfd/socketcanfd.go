//go:build linux

package socketcanfd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Raw SocketCAN bus with CAN FD support.
// This expects the CAN channel to be up, bitrates are configured
// outside of this library (e.g. "ip link set can0 type can bitrate 500000").

const (
	CanFrameSize   = 16
	CanFDFrameSize = 72
	rcvTimeout     = 100 * time.Millisecond
)

// canfd_frame flags
const (
	canFDBrs = 0x01
	canFDEsi = 0x02
)

func init() {
	can.RegisterInterface("socketcanfd", NewSocketCanFDBus)
	can.RegisterDiscovery("socketcanfd", Discover)
}

// Discover lists network interfaces that look like CAN interfaces
func Discover() ([]canwrap.ChannelInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	channels := make([]canwrap.ChannelInfo, 0)
	for _, iface := range ifaces {
		if !strings.Contains(iface.Name, "can") {
			continue
		}
		channels = append(channels, canwrap.ChannelInfo{
			Interface:   "socketcanfd",
			Device:      iface.Name,
			Index:       0,
			Name:        iface.Name,
			Description: fmt.Sprintf("SocketCAN interface %v (index %d)", iface.Name, iface.Index),
		})
	}
	return channels, nil
}

type SocketcanFDBus struct {
	mu         sync.Mutex
	channel    string
	ifindex    int
	fd         int
	fdFrames   bool
	rxCallback canwrap.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	receiveOwn bool
	errReport  bool
}

// Create a new SocketCAN FD bus. This expects the CAN channel to exist.
// e.g. running "ip a" should show can0 or something similar.
func NewSocketCanFDBus(channel string) (canwrap.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	return &SocketcanFDBus{channel: channel, ifindex: iface.Index, fd: -1, errReport: true}, nil
}

// "Connect" implementation of Bus interface
func (s *SocketcanFDBus) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd >= 0 {
		return nil
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("%w: failed to create CAN socket : %v", canwrap.ErrBackend, err)
	}
	tv := unix.NsecToTimeval(rcvTimeout.Nanoseconds())
	err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("%w: failed to set read timeout %v", canwrap.ErrBackend, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: s.ifindex}); err != nil {
		unix.Close(fd)
		return canwrap.BackendError(err)
	}
	s.fd = fd
	if err := s.applyOptions(); err != nil {
		unix.Close(fd)
		s.fd = -1
		return err
	}
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processIncoming(ctx, fd)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (s *SocketcanFDBus) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	err := unix.Close(s.fd)
	s.fd = -1
	return canwrap.BackendError(err)
}

func encodeFrame(frame canwrap.Frame) []byte {
	id := can.JoinID(frame.ID, frame.Extended, frame.Type == canwrap.Remote)
	if frame.Type.IsFD() {
		raw := make([]byte, CanFDFrameSize)
		binary.NativeEndian.PutUint32(raw[0:4], id)
		raw[4] = frame.DLC
		if frame.Type == canwrap.FDBRS {
			raw[5] = canFDBrs
		}
		copy(raw[8:], frame.Payload())
		return raw
	}
	raw := make([]byte, CanFrameSize)
	binary.NativeEndian.PutUint32(raw[0:4], id)
	raw[4] = frame.DLC
	copy(raw[8:], frame.Payload())
	return raw
}

func decodeFrame(raw []byte) (canwrap.Frame, error) {
	if len(raw) != CanFrameSize && len(raw) != CanFDFrameSize {
		return canwrap.Frame{}, fmt.Errorf("unexpected frame size %d", len(raw))
	}
	id, extended, remote, isErr := can.SplitID(binary.NativeEndian.Uint32(raw[0:4]))
	frame := canwrap.Frame{ID: id, Extended: extended, DLC: raw[4]}
	maxLen := canwrap.MaxDataLen
	switch {
	case isErr:
		frame.Type = canwrap.ErrorFrame
		frame.Extended = false
	case len(raw) == CanFDFrameSize && raw[5]&canFDBrs != 0:
		frame.Type = canwrap.FDBRS
		maxLen = canwrap.MaxFDDataLen
	case len(raw) == CanFDFrameSize:
		frame.Type = canwrap.FD
		maxLen = canwrap.MaxFDDataLen
	case remote:
		frame.Type = canwrap.Remote
	}
	if int(frame.DLC) > maxLen {
		frame.DLC = uint8(maxLen)
	}
	copy(frame.Data[:], raw[8:8+int(frame.DLC)])
	return frame, nil
}

// "Send" implementation of Bus interface
func (s *SocketcanFDBus) Send(frame canwrap.Frame) error {
	s.mu.Lock()
	fd := s.fd
	fdFrames := s.fdFrames
	s.mu.Unlock()
	if fd < 0 {
		return canwrap.ErrNotOpen
	}
	if frame.Type.IsFD() && !fdFrames {
		return fmt.Errorf("%w: CAN FD frames not enabled on %v", canwrap.ErrInvalidFrame, s.channel)
	}
	raw := encodeFrame(frame)
	n, err := unix.Write(fd, raw)
	if errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) {
		return canwrap.ErrTxBusy
	}
	if err != nil {
		return canwrap.BackendError(err)
	}
	if n != len(raw) {
		return fmt.Errorf("%w: short write %d/%d", canwrap.ErrBackend, n, len(raw))
	}
	return nil
}

// process incoming frames. This is meant to be run inside of a goroutine
func (s *SocketcanFDBus) processIncoming(ctx context.Context, fd int) {
	rxFrame := make([]byte, CanFDFrameSize)
	for {
		select {
		case <-ctx.Done():
			log.Debugf("[SOCKETCANFD][%v] exiting CAN bus reception, closed", s.channel)
			return
		default:
		}
		n, _, recvflags, _, err := unix.Recvmsg(fd, rxFrame, nil, 0)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			log.Warnf("[SOCKETCANFD][%v] exiting CAN bus reception : %v", s.channel, err)
			return
		}
		frame, err := decodeFrame(rxFrame[:n])
		if err != nil {
			log.Warnf("[SOCKETCANFD][%v] %v", s.channel, err)
			continue
		}
		if frame.Type == canwrap.ErrorFrame {
			log.Debugf("[SOCKETCANFD][%v] bus error : %v", s.channel, can.DescribeErrorFrame(frame))
		}
		// Own messages are flagged with MSG_CONFIRM
		frame.Transmitted = recvflags&unix.MSG_CONFIRM != 0
		s.mu.Lock()
		callback := s.rxCallback
		s.mu.Unlock()
		if callback != nil {
			callback.Handle(frame)
		}
	}
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanFDBus) Subscribe(rxCallback canwrap.FrameListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rxCallback = rxCallback
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Push socket options, lock must be held
func (s *SocketcanFDBus) applyOptions() error {
	if s.fd < 0 {
		return nil
	}
	log.Debugf("[SOCKETCANFD][%v] fd frames %v, receive own %v, error report %v", s.channel, s.fdFrames, s.receiveOwn, s.errReport)
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, boolToInt(s.fdFrames)); err != nil {
		return fmt.Errorf("%w: setting option 'CAN_RAW_FD_FRAMES' : %v", canwrap.ErrNotSupported, err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, boolToInt(s.receiveOwn)); err != nil {
		return canwrap.BackendError(err)
	}
	errMask := 0
	if s.errReport {
		errMask = int(can.CanErrMask)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, errMask); err != nil {
		return canwrap.BackendError(err)
	}
	return nil
}

// Enable own reception on the bus
func (s *SocketcanFDBus) SetReceiveOwn(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiveOwn = enabled
	return s.applyOptions()
}

func (s *SocketcanFDBus) SetBusErrorReport(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errReport = enabled
	return s.applyOptions()
}

// Controller modes other than normal are handled by the channel
func (s *SocketcanFDBus) SetMode(openType canwrap.OpenType, mode canwrap.OpenMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fdFrames = openType.IsFD()
	return s.applyOptions()
}

func (s *SocketcanFDBus) FDSupported() bool {
	return true
}

// Add some filtering to CAN bus
func (s *SocketcanFDBus) SetFilters(filters []unix.CanFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return canwrap.ErrNotOpen
	}
	return unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}
