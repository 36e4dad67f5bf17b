package virtualcan

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Virtual CAN bus implementation with TCP primarily used for testing
// This needs a broker server to send CAN frames to all connected clients
// More information : https://github.com/windelbouwman/virtualcan

func init() {
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

// Frame flags on the wire
const (
	flagExtended uint8 = 1 << iota
	flagRemote
	flagFD
	flagBRS
	flagError
)

type wireFrame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [canwrap.MaxFDDataLen]byte
}

type Bus struct {
	mu            sync.Mutex
	channel       string
	conn          net.Conn
	receiveOwn    bool
	framehandler  canwrap.FrameListener
	stopChan      chan bool
	wg            sync.WaitGroup
	isRunning     bool
	errSubscriber bool
}

func NewVirtualCanBus(channel string) (canwrap.Bus, error) {
	return &Bus{channel: channel, stopChan: make(chan bool), isRunning: false}, nil
}

func toWire(frame canwrap.Frame) wireFrame {
	w := wireFrame{ID: frame.ID, DLC: frame.DLC, Data: frame.Data}
	if frame.Extended {
		w.Flags |= flagExtended
	}
	switch frame.Type {
	case canwrap.Remote:
		w.Flags |= flagRemote
	case canwrap.FD:
		w.Flags |= flagFD
	case canwrap.FDBRS:
		w.Flags |= flagFD | flagBRS
	case canwrap.ErrorFrame:
		w.Flags |= flagError
	}
	return w
}

func fromWire(w wireFrame) canwrap.Frame {
	frame := canwrap.Frame{ID: w.ID, DLC: w.DLC, Data: w.Data, Extended: w.Flags&flagExtended != 0}
	switch {
	case w.Flags&flagError != 0:
		frame.Type = canwrap.ErrorFrame
	case w.Flags&flagBRS != 0:
		frame.Type = canwrap.FDBRS
	case w.Flags&flagFD != 0:
		frame.Type = canwrap.FD
	case w.Flags&flagRemote != 0:
		frame.Type = canwrap.Remote
	}
	return frame
}

// Helper function for serializing a CAN frame into the expected binary format
func serializeFrame(frame canwrap.Frame) ([]byte, error) {
	buffer := new(bytes.Buffer)
	err := binary.Write(buffer, binary.BigEndian, toWire(frame))
	if err != nil {
		return nil, err
	}
	dataBytes := buffer.Bytes()
	frameBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(frameBytes, uint32(len(dataBytes)))
	frameBytes = append(frameBytes, dataBytes...)
	return frameBytes, nil
}

// Helper function for deserializing a CAN frame from expected binary format
func deserializeFrame(buffer []byte) (*canwrap.Frame, error) {
	var w wireFrame
	buf := bytes.NewBuffer(buffer)
	err := binary.Read(buf, binary.BigEndian, &w)
	if err != nil {
		return nil, err
	}
	frame := fromWire(w)
	return &frame, nil
}

// "Connect" to server e.g. localhost:18000
func (b *Bus) Connect() error {
	conn, err := net.Dial("tcp", b.channel)
	if err != nil {
		return canwrap.BackendError(err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		err := tcpConn.SetNoDelay(true)
		if err != nil {
			return canwrap.BackendError(err)
		}
	}
	return nil
}

// "Disconnect" from server
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	running := !b.errSubscriber && b.isRunning
	b.mu.Unlock()
	if running {
		b.stopChan <- true
		b.wg.Wait()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame canwrap.Frame) error {
	b.mu.Lock()
	conn := b.conn
	receiveOwn := b.receiveOwn
	handler := b.framehandler
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: no active connection, abort send", canwrap.ErrNotOpen)
	}
	frameBytes, err := serializeFrame(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = conn.Write(frameBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return canwrap.ErrTxBusy
	}
	if err != nil {
		return canwrap.BackendError(err)
	}
	// Local loopback
	if receiveOwn && handler != nil {
		frame.Transmitted = true
		handler.Handle(frame)
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler canwrap.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	if b.isRunning {
		return nil
	}
	// Start go routine that receives incoming traffic and passes it to frameHandler
	b.wg.Add(1)
	b.isRunning = true
	b.errSubscriber = false
	go b.handleReception()
	return nil
}

// Receive new CAN message
func (b *Bus) Recv() (*canwrap.Frame, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, errors.New("error : no active connection, abort receive")
	}
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	headerBytes := make([]byte, 4)
	n, err := io.ReadFull(conn, headerBytes)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() && n == 0 {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v, err : %v", 4, n, err)
	}
	length := binary.BigEndian.Uint32(headerBytes)
	frameBytes := make([]byte, length)
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	n, err = io.ReadFull(conn, frameBytes)
	if err != nil {
		return nil, fmt.Errorf("error deserializing : expected %v, got %v, err : %v", length, n, err)
	}
	return deserializeFrame(frameBytes)
}

// Handle incoming traffic
func (client *Bus) handleReception() {
	defer func() {
		client.mu.Lock()
		client.isRunning = false
		client.mu.Unlock()
		client.wg.Done()
	}()
	for {
		select {
		case <-client.stopChan:
			return
		default:
			frame, err := client.Recv()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// No message received, this is OK
				continue
			}
			client.mu.Lock()
			handler := client.framehandler
			if err != nil {
				log.Errorf("[VIRTUALCAN][%v] listening routine has closed because : %v", client.channel, err)
				client.errSubscriber = true
				client.mu.Unlock()
				return
			}
			client.mu.Unlock()
			if handler != nil {
				handler.Handle(*frame)
			}
		}
	}
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
	return nil
}

func (b *Bus) FDSupported() bool {
	return true
}
