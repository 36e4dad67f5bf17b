package manager

import (
	_ "github.com/samsamfire/gocanwrap/pkg/can/socketcanfd"
)
