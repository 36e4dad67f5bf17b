package can

import (
	"strings"

	canwrap "github.com/samsamfire/gocanwrap"
)

// Raw identifier flags used by the Linux CAN frame layout
const (
	CanEffFlag uint32 = 0x80000000 // Extended frame format
	CanRtrFlag uint32 = 0x40000000 // Remote transmission request
	CanErrFlag uint32 = 0x20000000 // Error frame
	CanSffMask uint32 = 0x000007FF
	CanEffMask uint32 = 0x1FFFFFFF
)

// Error classes carried in the identifier of an error frame
const (
	CanErrTxTimeout = 0x00000001
	CanErrLostArb   = 0x00000002
	CanErrCtrl      = 0x00000004
	CanErrProt      = 0x00000008
	CanErrTrx       = 0x00000010
	CanErrAck       = 0x00000020
	CanErrBusOff    = 0x00000040
	CanErrBusError  = 0x00000080
	CanErrRestarted = 0x00000100
	CanErrMask      = 0x1FFFFFFF
)

// Controller status bits carried in data[1] of a CanErrCtrl error frame
const (
	CanErrorRxOverflow = 0x01
	CanErrorTxOverflow = 0x02
	CanErrorRxWarning  = 0x04
	CanErrorTxWarning  = 0x08
	CanErrorRxPassive  = 0x10
	CanErrorTxPassive  = 0x20
)

// Split a raw identifier into id, extended, remote and error flags
func SplitID(raw uint32) (id uint32, extended bool, remote bool, isErr bool) {
	extended = raw&CanEffFlag != 0
	remote = raw&CanRtrFlag != 0
	isErr = raw&CanErrFlag != 0
	if extended || isErr {
		id = raw & CanEffMask
	} else {
		id = raw & CanSffMask
	}
	return
}

// Build a raw identifier from id and flags
func JoinID(id uint32, extended bool, remote bool) uint32 {
	raw := id
	if extended {
		raw = (id & CanEffMask) | CanEffFlag
	} else {
		raw = id & CanSffMask
	}
	if remote {
		raw |= CanRtrFlag
	}
	return raw
}

var errorClasses = []struct {
	mask uint32
	name string
}{
	{CanErrTxTimeout, "tx-timeout"},
	{CanErrLostArb, "lost-arbitration"},
	{CanErrCtrl, "controller"},
	{CanErrProt, "protocol"},
	{CanErrTrx, "transceiver"},
	{CanErrAck, "no-ack"},
	{CanErrBusOff, "bus-off"},
	{CanErrBusError, "bus-error"},
	{CanErrRestarted, "restarted"},
}

var controllerStates = []struct {
	mask uint8
	name string
}{
	{CanErrorRxOverflow, "rx-overflow"},
	{CanErrorTxOverflow, "tx-overflow"},
	{CanErrorRxWarning, "rx-warning"},
	{CanErrorTxWarning, "tx-warning"},
	{CanErrorRxPassive, "rx-passive"},
	{CanErrorTxPassive, "tx-passive"},
}

// DescribeErrorFrame renders the error classes of an error frame,
// e.g. "controller(rx-warning) bus-off". Empty for other frames.
func DescribeErrorFrame(frame canwrap.Frame) string {
	if frame.Type != canwrap.ErrorFrame {
		return ""
	}
	parts := make([]string, 0)
	for _, class := range errorClasses {
		if frame.ID&class.mask == 0 {
			continue
		}
		name := class.name
		if class.mask == CanErrCtrl && frame.DLC > 1 {
			states := make([]string, 0)
			for _, state := range controllerStates {
				if frame.Data[1]&state.mask != 0 {
					states = append(states, state.name)
				}
			}
			if len(states) > 0 {
				name += "(" + strings.Join(states, ",") + ")"
			}
		}
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		return "unspecified"
	}
	return strings.Join(parts, " ")
}
