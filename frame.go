package canwrap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Identifier and payload limits
const (
	MaxStdID     uint32 = 0x7FF
	MaxExtID     uint32 = 0x1FFFFFFF
	MaxDataLen          = 8
	MaxFDDataLen        = 64
)

// Fixed-size text limits of the wrapper API
const (
	MaxChannelsLen = 2000
	MaxErrorLen    = 100
	MaxNameLen     = 100
	MaxBitrateLen  = 128
)

// Type of a CAN frame, values match the ones used by the wrapper API
type MessageType uint8

const (
	Classic    MessageType = 0
	Remote     MessageType = 1
	FD         MessageType = 16   // CAN FD frame, no bitrate switch
	FDBRS      MessageType = 24   // CAN FD frame with bitrate switch
	ErrorFrame MessageType = 0x80 // Bus error report
)

func (t MessageType) String() string {
	switch t {
	case Classic:
		return "CAN"
	case Remote:
		return "RTR"
	case FD:
		return "FD"
	case FDBRS:
		return "FD-BRS"
	case ErrorFrame:
		return "ERR"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// IsFD returns true for CAN FD frame types
func (t MessageType) IsFD() bool {
	return t == FD || t == FDBRS
}

// Valid returns true if t is one of the known frame types
func (t MessageType) Valid() bool {
	switch t {
	case Classic, Remote, FD, FDBRS, ErrorFrame:
		return true
	}
	return false
}

// A CAN or CAN FD frame
type Frame struct {
	ID          uint32
	Type        MessageType
	Extended    bool
	Transmitted bool   // Frame is an echo of a frame sent on this channel
	Timestamp   uint64 // Microseconds since the channel was opened
	DLC         uint8  // Payload length in bytes
	Data        [MaxFDDataLen]byte
}

// Create a new frame, data is copied. Length is taken from data.
func NewFrame(id uint32, typ MessageType, extended bool, data []byte) Frame {
	f := Frame{ID: id, Type: typ, Extended: extended}
	n := copy(f.Data[:], data)
	f.DLC = uint8(n)
	return f
}

// Payload returns the used part of the data
func (f *Frame) Payload() []byte {
	n := int(f.DLC)
	if n > MaxFDDataLen {
		n = MaxFDDataLen
	}
	return f.Data[:n]
}

// Validate returns an error if identifier, type or length are out of range
func (f *Frame) Validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: unknown frame type %d", ErrInvalidFrame, f.Type)
	}
	if f.Extended && f.ID > MaxExtID {
		return fmt.Errorf("%w: extended id x%x out of range", ErrInvalidFrame, f.ID)
	}
	if !f.Extended && f.ID > MaxStdID {
		return fmt.Errorf("%w: standard id x%x out of range", ErrInvalidFrame, f.ID)
	}
	if f.Type.IsFD() {
		if !ValidFDLen(int(f.DLC)) {
			return fmt.Errorf("%w: invalid CAN FD length %d", ErrInvalidFrame, f.DLC)
		}
		return nil
	}
	if f.DLC > MaxDataLen {
		return fmt.Errorf("%w: invalid CAN length %d", ErrInvalidFrame, f.DLC)
	}
	return nil
}

var fdLengths = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLen converts a data length code (0..15) to a byte length
func DLCToLen(dlc uint8) int {
	if dlc > 15 {
		dlc = 15
	}
	return int(fdLengths[dlc])
}

// LenToDLC converts a byte length to the smallest data length code that can hold it
func LenToDLC(length int) uint8 {
	for dlc, l := range fdLengths {
		if length <= int(l) {
			return uint8(dlc)
		}
	}
	return 15
}

// ValidFDLen returns true if length is exactly representable by a DLC
func ValidFDLen(length int) bool {
	if length < 0 || length > MaxFDDataLen {
		return false
	}
	return DLCToLen(LenToDLC(length)) == length
}

// PaddedLen rounds length up to the next valid CAN FD length
func PaddedLen(length int) int {
	return DLCToLen(LenToDLC(length))
}

func (f *Frame) header() string {
	var out strings.Builder
	if f.Transmitted {
		out.WriteString("<o> ")
	} else {
		out.WriteString("<i> ")
	}
	if f.Extended {
		out.WriteString(fmt.Sprintf("%08X", f.ID))
	} else {
		out.WriteString(fmt.Sprintf("%03X", f.ID))
	}
	return out.String()
}

func (f *Frame) hexView() string {
	var hexView strings.Builder
	for i, b := range f.Payload() {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != int(f.DLC)-1 {
			hexView.WriteString(" ")
		}
	}
	return hexView.String()
}

// String renders the frame as "<i> 123 [2] CAN DE AD"
func (f Frame) String() string {
	s := f.header() + " [" + strconv.Itoa(int(f.DLC)) + "] " + f.Type.String()
	if hv := f.hexView(); hv != "" {
		s += " " + hv
	}
	return s
}

var (
	idColor   = color.New(color.FgGreen).SprintFunc()
	typeColor = color.New(color.FgHiBlue).SprintFunc()
	errColor  = color.New(color.FgRed).SprintFunc()
)

// ColorString is String with terminal colors
func (f Frame) ColorString() string {
	t := typeColor(f.Type.String())
	if f.Type == ErrorFrame {
		t = errColor(f.Type.String())
	}
	s := idColor(f.header()) + " [" + strconv.Itoa(int(f.DLC)) + "] " + t
	if hv := f.hexView(); hv != "" {
		s += " " + hv
	}
	return s
}
