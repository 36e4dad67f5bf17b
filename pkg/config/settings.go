package config

import (
	"fmt"
	"sort"

	canwrap "github.com/samsamfire/gocanwrap"
)

// Settings of a channel. A channel holds a pending copy that setters
// modify and that is committed on apply.
type Settings struct {
	Bitrate        uint64
	FDBitrate      uint64
	CustomBitrate  string
	Termination    bool
	Echo           bool
	BusErrorReport bool
	TxMode         canwrap.TxMode
	TxTiming       map[uint32]int32 // Period or delay in ms, per frame id
}

const (
	DefaultBitrate   = 500_000
	DefaultFDBitrate = 2_000_000
)

func DefaultSettings() Settings {
	return Settings{
		Bitrate:        DefaultBitrate,
		FDBitrate:      DefaultFDBitrate,
		BusErrorReport: true,
		TxMode:         canwrap.TxNormal,
		TxTiming:       make(map[uint32]int32),
	}
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	clone := s
	clone.TxTiming = make(map[uint32]int32, len(s.TxTiming))
	for id, ms := range s.TxTiming {
		clone.TxTiming[id] = ms
	}
	return clone
}

// Equal returns true if both settings are identical
func (s Settings) Equal(other Settings) bool {
	if s.Bitrate != other.Bitrate || s.FDBitrate != other.FDBitrate ||
		s.CustomBitrate != other.CustomBitrate || s.Termination != other.Termination ||
		s.Echo != other.Echo || s.BusErrorReport != other.BusErrorReport ||
		s.TxMode != other.TxMode || len(s.TxTiming) != len(other.TxTiming) {
		return false
	}
	for id, ms := range s.TxTiming {
		v, ok := other.TxTiming[id]
		if !ok || v != ms {
			return false
		}
	}
	return true
}

// Frame ids with a tx timing, sorted
func (s Settings) TimedIDs() []uint32 {
	ids := make([]uint32, 0, len(s.TxTiming))
	for id := range s.TxTiming {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s Settings) String() string {
	return fmt.Sprintf("bitrate=%d fd_bitrate=%d custom=%q termination=%v echo=%v bus_error_report=%v tx_mode=%v timings=%d",
		s.Bitrate, s.FDBitrate, s.CustomBitrate, s.Termination, s.Echo, s.BusErrorReport, s.TxMode, len(s.TxTiming))
}
