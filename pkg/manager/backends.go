package manager

// Backends available through the manager
import (
	_ "github.com/samsamfire/gocanwrap/pkg/can/slcan"
	_ "github.com/samsamfire/gocanwrap/pkg/can/socketcan"
	_ "github.com/samsamfire/gocanwrap/pkg/can/virtualcan"
)
