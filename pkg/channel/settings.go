package channel

import (
	"fmt"

	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/samsamfire/gocanwrap/pkg/bitrate"
	"github.com/samsamfire/gocanwrap/pkg/config"
	log "github.com/sirupsen/logrus"
)

// Setters only modify the pending settings, see [Channel.ApplySettings].
// Getters return the pending value.

func (ch *Channel) SetBaudRate(rate uint64) error {
	if rate == 0 {
		return canwrap.ErrIllegalBaudrate
	}
	if bitrate.IsCustom(rate) {
		timing, err := bitrate.DecodeNominal(rate, bitrate.DefaultClockMHz)
		if err != nil {
			return err
		}
		log.Debugf("[CHANNEL][%v] custom nominal timing %v (%d bit/s)", ch.info.Name, timing, bitrate.Bitrate(timing, bitrate.DefaultClockMHz*1_000_000))
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.Bitrate = rate
	return nil
}

func (ch *Channel) BaudRate() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending.Bitrate
}

func (ch *Channel) SetFdBaudRate(rate uint64) error {
	if rate == 0 {
		return canwrap.ErrIllegalBaudrate
	}
	if bitrate.IsCustom(rate) {
		timing, err := bitrate.DecodeData(rate, bitrate.DefaultClockMHz)
		if err != nil {
			return err
		}
		log.Debugf("[CHANNEL][%v] custom data timing %v (%d bit/s)", ch.info.Name, timing, bitrate.Bitrate(timing, bitrate.DefaultClockMHz*1_000_000))
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.FDBitrate = rate
	return nil
}

func (ch *Channel) FdBaudRate() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending.FDBitrate
}

// Set a device specific bitrate string. Backends without their own
// format accept the "<nominal>[,<data>]" form. An empty string clears it.
func (ch *Channel) SetCustomBaudRate(custom string) error {
	if len(custom) > canwrap.MaxBitrateLen {
		return fmt.Errorf("%w: custom bitrate longer than %d", canwrap.ErrIllegalArgument, canwrap.MaxBitrateLen)
	}
	if _, native := ch.bus.(canwrap.CustomBitrateConfigurer); !native && custom != "" {
		if _, err := bitrate.ParseCustom(custom); err != nil {
			return err
		}
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.CustomBitrate = custom
	return nil
}

// Custom bitrate string, or the numeric bitrates in the same form if none was set
func (ch *Channel) CustomBaudRate() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.pending.CustomBitrate != "" {
		return ch.pending.CustomBitrate
	}
	return bitrate.FormatCustom(bitrate.Custom{Nominal: ch.pending.Bitrate, Data: ch.pending.FDBitrate})
}

func (ch *Channel) TerminationSupported() bool {
	_, ok := ch.bus.(canwrap.TerminationController)
	return ok
}

func (ch *Channel) SetTermination(enabled bool) error {
	if !ch.TerminationSupported() {
		return canwrap.ErrNotSupported
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.Termination = enabled
	return nil
}

func (ch *Channel) TerminationEnabled() (bool, error) {
	if !ch.TerminationSupported() {
		return false, canwrap.ErrNotSupported
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending.Termination, nil
}

// Echo is done in software when the backend can't receive its own frames
func (ch *Channel) EchoSupported() bool {
	return true
}

func (ch *Channel) SetEcho(enabled bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.Echo = enabled
	return nil
}

func (ch *Channel) EchoEnabled() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending.Echo
}

func (ch *Channel) SetBusErrorReport(enabled bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.BusErrorReport = enabled
	return nil
}

func (ch *Channel) BusErrorReport() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending.BusErrorReport
}

// All transmit modes are scheduled by the channel itself
func (ch *Channel) TxModeSupported(mode canwrap.TxMode) bool {
	return mode.Valid()
}

func (ch *Channel) SetTxMode(mode canwrap.TxMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: tx mode %v", canwrap.ErrIllegalArgument, mode)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.TxMode = mode
	return nil
}

func (ch *Channel) TxMode() canwrap.TxMode {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending.TxMode
}

// Period (auto send) or delay after sending (queue) in ms for a frame id
func (ch *Channel) SetTxTiming(ident uint32, ms int32) error {
	if ident > canwrap.MaxExtID || ms < 0 {
		return fmt.Errorf("%w: tx timing id x%x, %d ms", canwrap.ErrIllegalArgument, ident, ms)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending.TxTiming[ident] = ms
	return nil
}

func (ch *Channel) TxTiming(ident uint32) (int32, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ms, ok := ch.pending.TxTiming[ident]
	return ms, ok
}

// Snapshot of the pending settings
func (ch *Channel) PendingSettings() config.Settings {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.pending.Clone()
}

// Snapshot of the applied settings
func (ch *Channel) CurrentSettings() config.Settings {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.current.Clone()
}

// Replace all pending settings at once
func (ch *Channel) SetPendingSettings(settings config.Settings) error {
	if !settings.TxMode.Valid() {
		return fmt.Errorf("%w: tx mode %v", canwrap.ErrIllegalArgument, settings.TxMode)
	}
	if settings.Bitrate == 0 || settings.FDBitrate == 0 {
		return canwrap.ErrIllegalBaudrate
	}
	if settings.Termination && !ch.TerminationSupported() {
		return canwrap.ErrNotSupported
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending = settings.Clone()
	return nil
}

// ApplySettings commits the pending settings. They are pushed to the
// backend if the channel is open, otherwise on the next open.
// Unless temporary, they are also written to the settings store.
func (ch *Channel) ApplySettings(temporary bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	settings := ch.pending.Clone()
	if ch.state == StateOpen {
		softwareEcho, err := ch.push(settings, false)
		if err != nil {
			return err
		}
		ch.linkMu.Lock()
		ch.link.softwareEcho = softwareEcho
		ch.link.busErrReport = settings.BusErrorReport
		ch.link.txMode = settings.TxMode
		ch.linkMu.Unlock()
		if settings.TxMode != ch.current.TxMode || !timingsEqual(settings.TxTiming, ch.current.TxTiming) {
			ch.scheduler.stop()
			ch.scheduler.start(settings.TxMode, settings.TxTiming)
		}
	}
	ch.current = settings
	log.Infof("[CHANNEL][%v] applied settings (%v), temporary : %v", ch.info.Name, settings, temporary)
	if temporary || ch.store == nil {
		return nil
	}
	return ch.store.Save(ch.info.Name, settings)
}

func timingsEqual(a, b map[uint32]int32) bool {
	return config.Settings{TxTiming: a}.Equal(config.Settings{TxTiming: b})
}

// Push settings to the backend capabilities, lock must be held.
// Returns whether echo has to be done in software.
// When force is false, only changed values are pushed.
func (ch *Channel) push(settings config.Settings, force bool) (bool, error) {
	previous := ch.current
	ch.linkMu.RLock()
	fd := ch.link.openType.IsFD()
	ch.linkMu.RUnlock()

	if force || settings.Bitrate != previous.Bitrate || settings.FDBitrate != previous.FDBitrate || settings.CustomBitrate != previous.CustomBitrate {
		if err := ch.pushBitrate(settings, fd); err != nil {
			return false, err
		}
	}
	if force || settings.Termination != previous.Termination {
		controller, ok := ch.bus.(canwrap.TerminationController)
		if ok {
			if err := controller.SetTermination(settings.Termination); err != nil {
				return false, canwrap.BackendError(err)
			}
		} else if settings.Termination {
			return false, fmt.Errorf("%w: termination", canwrap.ErrNotSupported)
		}
	}
	if reporter, ok := ch.bus.(canwrap.BusErrorReporter); ok && (force || settings.BusErrorReport != previous.BusErrorReport) {
		if err := reporter.SetBusErrorReport(settings.BusErrorReport); err != nil {
			return false, canwrap.BackendError(err)
		}
	}
	if controller, ok := ch.bus.(canwrap.EchoController); ok {
		if force || settings.Echo != previous.Echo {
			if err := controller.SetReceiveOwn(settings.Echo); err != nil {
				return false, canwrap.BackendError(err)
			}
		}
		return false, nil
	}
	return settings.Echo, nil
}

func (ch *Channel) pushBitrate(settings config.Settings, fd bool) error {
	if settings.CustomBitrate != "" {
		if configurer, ok := ch.bus.(canwrap.CustomBitrateConfigurer); ok {
			return canwrap.BackendError(configurer.SetCustomBitrate(settings.CustomBitrate))
		}
	}
	configurer, ok := ch.bus.(canwrap.BitrateConfigurer)
	if !ok {
		log.Debugf("[CHANNEL][%v] bitrate is configured outside of this library", ch.info.Name)
		return nil
	}
	nominal, data := settings.Bitrate, settings.FDBitrate
	if settings.CustomBitrate != "" {
		custom, err := bitrate.ParseCustom(settings.CustomBitrate)
		if err != nil {
			return err
		}
		nominal = custom.Nominal
		if custom.Data != 0 {
			data = custom.Data
		}
	}
	var err error
	if nominal, err = bitrate.Resolve(nominal, false); err != nil {
		return err
	}
	if data, err = bitrate.Resolve(data, true); err != nil {
		return err
	}
	if !fd {
		data = 0
	}
	err = configurer.SetBitrate(nominal, data)
	if err != nil {
		return canwrap.BackendError(err)
	}
	return nil
}
