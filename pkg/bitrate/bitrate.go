// Package bitrate encodes and decodes the packed custom bitrate words
// accepted by SetBaudRate and SetFdBaudRate, and the custom bitrate
// string form "<nominal>[,<data>]".
package bitrate

import (
	"fmt"
	"strconv"
	"strings"

	canwrap "github.com/samsamfire/gocanwrap"
)

// Default CAN controller clock in MHz
const DefaultClockMHz = 80

// Marker present in the low 32 bits of every packed word
const CustomMarker uint64 = 0xA0000000

const markerMask uint64 = 0xE0000000

// Bit timing, all values are arithmetic (no minus one)
type Timing struct {
	BRP   uint32 // Prescaler
	TSeg1 uint32 // Phase segment 1, including propagation segment
	TSeg2 uint32 // Phase segment 2
	SJW   uint32 // Synchronisation jump width
	TDCO  uint32 // Transmitter delay compensation offset, data phase only. 0 disables it
}

func (t Timing) String() string {
	return fmt.Sprintf("brp=%d tseg1=%d tseg2=%d sjw=%d tdco=%d", t.BRP, t.TSeg1, t.TSeg2, t.SJW, t.TDCO)
}

func (t Timing) validate(maxTSeg1, maxTSeg2, maxSJW uint32) error {
	if t.BRP == 0 || t.TSeg1 == 0 || t.TSeg2 == 0 || t.SJW == 0 {
		return fmt.Errorf("%w: timing values must be > 0 (%v)", canwrap.ErrIllegalBaudrate, t)
	}
	if t.TSeg1 > maxTSeg1 || t.TSeg2 > maxTSeg2 || t.SJW > maxSJW {
		return fmt.Errorf("%w: timing values out of range (%v)", canwrap.ErrIllegalBaudrate, t)
	}
	return nil
}

// Time quantum in ns
func timeQuantum(brp uint32, clockMHz uint32) uint64 {
	return uint64(brp) * 1000 / uint64(clockMHz)
}

func prescaler(tq uint64, clockMHz uint32) uint32 {
	return uint32((tq*uint64(clockMHz) + 500) / 1000)
}

// EncodeNominal packs an arbitration phase timing
func EncodeNominal(t Timing, clockMHz uint32) (uint64, error) {
	if clockMHz == 0 {
		clockMHz = DefaultClockMHz
	}
	if err := t.validate(256, 256, 0x1FFF); err != nil {
		return 0, err
	}
	word := CustomMarker
	word += timeQuantum(t.BRP, clockMHz) << 32
	word += uint64(t.SJW) << 16
	word += uint64(t.TSeg1-1) << 8
	word += uint64(t.TSeg2 - 1)
	return word, nil
}

// EncodeData packs a data phase timing
func EncodeData(t Timing, clockMHz uint32) (uint64, error) {
	if clockMHz == 0 {
		clockMHz = DefaultClockMHz
	}
	if err := t.validate(32, 16, 16); err != nil {
		return 0, err
	}
	if t.TDCO > 0x8000 {
		return 0, fmt.Errorf("%w: tdco out of range (%v)", canwrap.ErrIllegalBaudrate, t)
	}
	tq := timeQuantum(t.BRP, clockMHz)
	if tq > 0xFFFF {
		return 0, fmt.Errorf("%w: prescaler out of range (%v)", canwrap.ErrIllegalBaudrate, t)
	}
	word := CustomMarker
	if t.TDCO > 0 {
		word += 1 << 55
		word += uint64(t.TDCO-1) << 40
	}
	word += tq << 13
	word += uint64(t.TSeg1-1) << 8
	word += uint64(t.TSeg2-1) << 4
	word += uint64(t.SJW - 1)
	return word, nil
}

// IsCustom returns true if word is a packed timing rather than bits per second
func IsCustom(word uint64) bool {
	return word&markerMask == CustomMarker
}

// DecodeNominal reverses EncodeNominal
func DecodeNominal(word uint64, clockMHz uint32) (Timing, error) {
	if !IsCustom(word) {
		return Timing{}, fmt.Errorf("%w: x%x is not a custom bitrate", canwrap.ErrIllegalBaudrate, word)
	}
	if clockMHz == 0 {
		clockMHz = DefaultClockMHz
	}
	v := word - CustomMarker
	return Timing{
		BRP:   prescaler(v>>32, clockMHz),
		SJW:   uint32(v>>16) & 0x1FFF,
		TSeg1: uint32(v>>8)&0xFF + 1,
		TSeg2: uint32(v)&0xFF + 1,
	}, nil
}

// DecodeData reverses EncodeData
func DecodeData(word uint64, clockMHz uint32) (Timing, error) {
	if !IsCustom(word) {
		return Timing{}, fmt.Errorf("%w: x%x is not a custom bitrate", canwrap.ErrIllegalBaudrate, word)
	}
	if clockMHz == 0 {
		clockMHz = DefaultClockMHz
	}
	v := word - CustomMarker
	t := Timing{
		BRP:   prescaler((v>>13)&0xFFFF, clockMHz),
		TSeg1: uint32(v>>8)&0x1F + 1,
		TSeg2: uint32(v>>4)&0xF + 1,
		SJW:   uint32(v)&0xF + 1,
	}
	if (v>>55)&1 == 1 {
		t.TDCO = uint32(v>>40)&0x7FFF + 1
	}
	return t, nil
}

// Bitrate computes the resulting bits per second
func Bitrate(t Timing, clockHz uint64) uint64 {
	bitTime := uint64(t.BRP) * uint64(1+t.TSeg1+t.TSeg2)
	if bitTime == 0 {
		return 0
	}
	return clockHz / bitTime
}

// Resolve returns the bits per second of a bitrate setting, which is
// either a plain value or a packed word
func Resolve(word uint64, data bool) (uint64, error) {
	if !IsCustom(word) {
		return word, nil
	}
	var t Timing
	var err error
	if data {
		t, err = DecodeData(word, DefaultClockMHz)
	} else {
		t, err = DecodeNominal(word, DefaultClockMHz)
	}
	if err != nil {
		return 0, err
	}
	return Bitrate(t, DefaultClockMHz*1_000_000), nil
}

// Custom bitrate as set with SetCustomBaudRate
type Custom struct {
	Nominal uint64
	Data    uint64 // 0 when not given
}

func parseValue(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		return strconv.ParseUint(lower[2:], 16, 64)
	case strings.HasSuffix(lower, "k"):
		v, err := strconv.ParseFloat(lower[:len(lower)-1], 64)
		return uint64(v * 1_000), err
	case strings.HasSuffix(lower, "m"):
		v, err := strconv.ParseFloat(lower[:len(lower)-1], 64)
		return uint64(v * 1_000_000), err
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseCustom parses "<nominal>[,<data>]", values are decimal, suffixed
// with k or M, or 0x prefixed packed words
func ParseCustom(s string) (Custom, error) {
	if len(s) > canwrap.MaxBitrateLen {
		return Custom{}, fmt.Errorf("%w: custom bitrate longer than %d", canwrap.ErrIllegalArgument, canwrap.MaxBitrateLen)
	}
	parts := strings.Split(s, ",")
	if len(parts) > 2 || strings.TrimSpace(parts[0]) == "" {
		return Custom{}, fmt.Errorf("%w: invalid custom bitrate %q", canwrap.ErrIllegalBaudrate, s)
	}
	var c Custom
	var err error
	c.Nominal, err = parseValue(parts[0])
	if err != nil || c.Nominal == 0 {
		return Custom{}, fmt.Errorf("%w: invalid nominal bitrate %q", canwrap.ErrIllegalBaudrate, parts[0])
	}
	if len(parts) == 2 {
		c.Data, err = parseValue(parts[1])
		if err != nil || c.Data == 0 {
			return Custom{}, fmt.Errorf("%w: invalid data bitrate %q", canwrap.ErrIllegalBaudrate, parts[1])
		}
	}
	return c, nil
}

func formatValue(v uint64) string {
	if IsCustom(v) {
		return fmt.Sprintf("0x%X", v)
	}
	return strconv.FormatUint(v, 10)
}

// FormatCustom renders c in the form accepted by ParseCustom
func FormatCustom(c Custom) string {
	if c.Data == 0 {
		return formatValue(c.Nominal)
	}
	return formatValue(c.Nominal) + "," + formatValue(c.Data)
}
