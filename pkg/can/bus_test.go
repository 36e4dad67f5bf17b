package can

import (
	"testing"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/stretchr/testify/assert"
)

func TestDescribeErrorFrame(t *testing.T) {
	controller := canwrap.Frame{ID: CanErrCtrl | CanErrBusOff, Type: canwrap.ErrorFrame, DLC: 8}
	controller.Data[1] = CanErrorRxWarning | CanErrorTxPassive

	tests := []struct {
		name     string
		frame    canwrap.Frame
		expected string
	}{
		{"not an error frame", canwrap.Frame{ID: CanErrBusOff, Type: canwrap.Classic}, ""},
		{"no class", canwrap.Frame{Type: canwrap.ErrorFrame, DLC: 8}, "unspecified"},
		{"single class", canwrap.Frame{ID: CanErrAck, Type: canwrap.ErrorFrame, DLC: 8}, "no-ack"},
		{"controller states", controller, "controller(rx-warning,tx-passive) bus-off"},
		{"controller without payload", canwrap.Frame{ID: CanErrCtrl, Type: canwrap.ErrorFrame}, "controller"},
		{"every class", canwrap.Frame{ID: CanErrMask, Type: canwrap.ErrorFrame},
			"tx-timeout lost-arbitration controller protocol transceiver no-ack bus-off bus-error restarted"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, DescribeErrorFrame(test.frame))
		})
	}
}
