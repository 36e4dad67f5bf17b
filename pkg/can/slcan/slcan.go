package slcan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	canwrap "github.com/samsamfire/gocanwrap"
	can "github.com/samsamfire/gocanwrap/pkg/can"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Lawicel / SLCAN serial line adapters (CANable and compatibles).
// The channel is the serial port name, optionally followed by the
// port baudrate e.g. "/dev/ttyACM0@115200".

const DefaultPortBaudrate = 115200

func init() {
	can.RegisterInterface("slcan", NewSLCanBus)
	can.RegisterDiscovery("slcan", Discover)
}

// Known SLCAN USB adapters, VID:PID
var knownAdapters = map[string]string{
	"16D0:117E": "CANable SLCAN",
	"0483:5740": "STM32 virtual COM SLCAN",
	"1D50:606F": "CANable (candleLight firmware)",
}

// Discover lists USB serial ports of known SLCAN adapters
func Discover() ([]canwrap.ChannelInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	channels := make([]canwrap.ChannelInfo, 0)
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		desc, ok := knownAdapters[strings.ToUpper(port.VID+":"+port.PID)]
		if !ok {
			continue
		}
		device := port.Product
		if device == "" {
			device = desc
		}
		channels = append(channels, canwrap.ChannelInfo{
			Interface:   "slcan",
			Device:      device,
			Serial:      port.SerialNumber,
			Index:       0,
			Name:        port.Name,
			Description: fmt.Sprintf("%s (USB ID %s:%s)", desc, port.VID, port.PID),
		})
	}
	return channels, nil
}

// Standard bitrates and their S command
var standardBitrates = map[uint64]string{
	10_000:    "S0",
	20_000:    "S1",
	50_000:    "S2",
	100_000:   "S3",
	125_000:   "S4",
	250_000:   "S5",
	500_000:   "S6",
	800_000:   "S7",
	1_000_000: "S8",
}

type port interface {
	io.ReadWriteCloser
}

// Open the serial port, replaced in tests
var openPort = func(name string, baudrate int) (port, error) {
	mode := &serial.Mode{
		BaudRate: baudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q : %v", name, err)
	}
	if err := p.SetReadTimeout(3 * time.Millisecond); err != nil {
		p.Close()
		return nil, err
	}
	_ = p.ResetOutputBuffer()
	_ = p.ResetInputBuffer()
	return p, nil
}

type SLCanBus struct {
	mu           sync.Mutex
	portName     string
	portBaudrate int
	port         port
	rxCallback   canwrap.FrameListener
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	bitrateCmd   string
	listenOnly   bool
	closed       bool
}

func NewSLCanBus(channel string) (canwrap.Bus, error) {
	name, baud, found := strings.Cut(channel, "@")
	if name == "" {
		return nil, fmt.Errorf("%w: empty serial port name", canwrap.ErrIllegalArgument)
	}
	portBaudrate := DefaultPortBaudrate
	if found {
		b, err := strconv.Atoi(baud)
		if err != nil || b <= 0 {
			return nil, fmt.Errorf("%w: invalid port baudrate %q", canwrap.ErrIllegalArgument, baud)
		}
		portBaudrate = b
	}
	return &SLCanBus{portName: name, portBaudrate: portBaudrate, bitrateCmd: standardBitrates[500_000]}, nil
}

func (sl *SLCanBus) command(cmd string) error {
	log.Debugf("[SLCAN][%v] >> %v", sl.portName, cmd)
	if _, err := sl.port.Write([]byte(cmd + "\r")); err != nil {
		return fmt.Errorf("%w: failed to write to com port: %v", canwrap.ErrBackend, err)
	}
	return nil
}

// "Connect" opens the port, sets the bitrate and opens the CAN channel
func (sl *SLCanBus) Connect() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.port != nil {
		return nil
	}
	p, err := openPort(sl.portName, sl.portBaudrate)
	if err != nil {
		return canwrap.BackendError(err)
	}
	sl.port = p
	sl.closed = false
	// Close any channel left open by a previous session
	if err := sl.reopen(); err != nil {
		sl.port = nil
		_ = p.Close()
		return err
	}
	var ctx context.Context
	ctx, sl.cancel = context.WithCancel(context.Background())
	sl.wg.Add(1)
	go func() {
		defer sl.wg.Done()
		sl.recvManager(ctx, p)
	}()
	return nil
}

// "Disconnect" closes the CAN channel and the port
func (sl *SLCanBus) Disconnect() error {
	sl.mu.Lock()
	if sl.port == nil {
		sl.mu.Unlock()
		return nil
	}
	sl.closed = true
	_ = sl.command("C")
	if sl.cancel != nil {
		sl.cancel()
		sl.cancel = nil
	}
	p := sl.port
	sl.port = nil
	sl.mu.Unlock()
	err := p.Close()
	sl.wg.Wait()
	return canwrap.BackendError(err)
}

// "Send" implementation of Bus interface
func (sl *SLCanBus) Send(frame canwrap.Frame) error {
	raw, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.port == nil {
		return canwrap.ErrNotOpen
	}
	if sl.listenOnly {
		return canwrap.ErrListenOnly
	}
	return sl.command(raw)
}

// "Subscribe" implementation of Bus interface
func (sl *SLCanBus) Subscribe(rxCallback canwrap.FrameListener) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.rxCallback = rxCallback
	return nil
}

// Standard bitrates only, data bitrate must be 0
func (sl *SLCanBus) SetBitrate(nominal uint64, data uint64) error {
	cmd, ok := standardBitrates[nominal]
	if !ok || data != 0 {
		return fmt.Errorf("%w: %v not supported by slcan", canwrap.ErrIllegalBaudrate, nominal)
	}
	return sl.setBitrateCmd(cmd)
}

// Custom bitrates are the raw BTR register value e.g. "031C"
func (sl *SLCanBus) SetCustomBitrate(bitrate string) error {
	if _, err := hex.DecodeString(bitrate); err != nil || len(bitrate) != 4 {
		return fmt.Errorf("%w: expected 4 hex digits BTR0BTR1, got %q", canwrap.ErrIllegalBaudrate, bitrate)
	}
	return sl.setBitrateCmd("s" + strings.ToUpper(bitrate))
}

func (sl *SLCanBus) setBitrateCmd(cmd string) error {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.bitrateCmd = cmd
	return sl.reopen()
}

// Settings can only be changed with the CAN channel closed, lock must be held
func (sl *SLCanBus) reopen() error {
	if sl.port == nil {
		return nil
	}
	if err := sl.command("C"); err != nil {
		return err
	}
	if err := sl.command(sl.bitrateCmd); err != nil {
		return err
	}
	if sl.listenOnly {
		return sl.command("L")
	}
	return sl.command("O")
}

func (sl *SLCanBus) SetMode(openType canwrap.OpenType, mode canwrap.OpenMode) error {
	if openType.IsFD() {
		return fmt.Errorf("%w: slcan is classic CAN only", canwrap.ErrNotSupported)
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	listenOnly := mode == canwrap.ModeListenOnly
	if listenOnly == sl.listenOnly {
		return nil
	}
	sl.listenOnly = listenOnly
	return sl.reopen()
}

func (sl *SLCanBus) recvManager(ctx context.Context, p port) {
	buf := make([]byte, 0, 1024)
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := p.Read(readBuf)
		if err != nil {
			sl.mu.Lock()
			closed := sl.closed
			sl.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				log.Warnf("[SLCAN][%v] failed to read com port : %v", sl.portName, err)
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCanBus) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case '\r':
			if len(buf) == 0 {
				continue
			}
			line := string(buf)
			buf = buf[:0]
			switch line[0] {
			case 't', 'T', 'r', 'R':
				frame, err := decodeFrame(line)
				if err != nil {
					log.Warnf("[SLCAN][%v] %v : %q", sl.portName, err, line)
					continue
				}
				sl.mu.Lock()
				callback := sl.rxCallback
				sl.mu.Unlock()
				if callback != nil {
					callback.Handle(frame)
				}
			case 'z', 'Z':
				// Transmit acknowledge
			default:
				log.Debugf("[SLCAN][%v] << %v", sl.portName, line)
			}
		case '\a':
			log.Warnf("[SLCAN][%v] command rejected by adapter", sl.portName)
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

// encodeFrame returns the SLCAN command for a frame, without the trailing CR
func encodeFrame(frame canwrap.Frame) (string, error) {
	if frame.Type.IsFD() || frame.Type == canwrap.ErrorFrame || frame.DLC > canwrap.MaxDataLen {
		return "", fmt.Errorf("%w: slcan only sends classic frames", canwrap.ErrNotSupported)
	}
	var out strings.Builder
	remote := frame.Type == canwrap.Remote
	switch {
	case frame.Extended && remote:
		out.WriteString(fmt.Sprintf("R%08X", frame.ID&can.CanEffMask))
	case frame.Extended:
		out.WriteString(fmt.Sprintf("T%08X", frame.ID&can.CanEffMask))
	case remote:
		out.WriteString(fmt.Sprintf("r%03X", frame.ID&can.CanSffMask))
	default:
		out.WriteString(fmt.Sprintf("t%03X", frame.ID&can.CanSffMask))
	}
	out.WriteString(strconv.Itoa(int(frame.DLC)))
	if !remote {
		out.WriteString(strings.ToUpper(hex.EncodeToString(frame.Payload())))
	}
	return out.String(), nil
}

// decodeFrame parses a t/T/r/R line, without the trailing CR
func decodeFrame(line string) (canwrap.Frame, error) {
	frame := canwrap.Frame{}
	idLen := 3
	switch line[0] {
	case 'T':
		idLen = 8
		frame.Extended = true
	case 'R':
		idLen = 8
		frame.Extended = true
		frame.Type = canwrap.Remote
	case 'r':
		frame.Type = canwrap.Remote
	case 't':
	default:
		return frame, fmt.Errorf("unknown frame command %q", line[0])
	}
	if len(line) < 1+idLen+1 {
		return frame, errors.New("frame too short")
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return frame, fmt.Errorf("failed to decode identifier: %v", err)
	}
	frame.ID = uint32(id)
	dataLen, err := strconv.ParseUint(line[1+idLen:2+idLen], 16, 8)
	if err != nil {
		return frame, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > canwrap.MaxDataLen {
		return frame, fmt.Errorf("invalid data length: %d", dataLen)
	}
	frame.DLC = uint8(dataLen)
	if frame.Type == canwrap.Remote {
		return frame, frame.Validate()
	}
	body := line[2+idLen:]
	if len(body) < int(dataLen)*2 {
		return frame, fmt.Errorf("frame body too short: %d", len(body))
	}
	data, err := hex.DecodeString(body[:dataLen*2])
	if err != nil {
		return frame, fmt.Errorf("failed to decode frame body: %v", err)
	}
	copy(frame.Data[:], data)
	return frame, frame.Validate()
}
