package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	canwrap "github.com/samsamfire/gocanwrap"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// Store persists channel settings inside of an ini file,
// one section per channel name.
// An empty path gives a store that keeps settings in memory only.
type Store struct {
	mu   sync.Mutex
	path string
	file *ini.File
}

func NewStore(path string) (*Store, error) {
	store := &Store{path: path, file: ini.Empty()}
	if path == "" {
		return store, nil
	}
	// Loose : a missing file is not an error, it is created on first save
	file, err := ini.LoadSources(ini.LoadOptions{Loose: true}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", canwrap.ErrSettingsStore, err)
	}
	store.file = file
	return store, nil
}

func (store *Store) Path() string {
	return store.path
}

// Load the stored settings of a channel. The second return value is false
// if nothing was stored for that channel, defaults are returned then.
func (store *Store) Load(channel string) (Settings, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	settings := DefaultSettings()
	section, err := store.file.GetSection(channel)
	if err != nil {
		return settings, false, nil
	}
	if err := readSection(section, &settings); err != nil {
		return DefaultSettings(), false, fmt.Errorf("%w: section [%v] : %v", canwrap.ErrSettingsStore, channel, err)
	}
	return settings, true, nil
}

// Save the settings of a channel and write the file
func (store *Store) Save(channel string, settings Settings) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.file.DeleteSection(channel)
	section, err := store.file.NewSection(channel)
	if err != nil {
		return fmt.Errorf("%w: %v", canwrap.ErrSettingsStore, err)
	}
	if err := writeSection(section, settings); err != nil {
		return fmt.Errorf("%w: %v", canwrap.ErrSettingsStore, err)
	}
	if store.path == "" {
		return nil
	}
	if err := store.file.SaveTo(store.path); err != nil {
		return fmt.Errorf("%w: %v", canwrap.ErrSettingsStore, err)
	}
	log.Debugf("[CONFIG] saved settings of %v to %v", channel, store.path)
	return nil
}

// Channels that have stored settings
func (store *Store) Channels() []string {
	store.mu.Lock()
	defer store.mu.Unlock()
	names := make([]string, 0)
	for _, section := range store.file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		names = append(names, section.Name())
	}
	sort.Strings(names)
	return names
}

func readSection(section *ini.Section, settings *Settings) error {
	var err error
	if key, e := section.GetKey("bitrate"); e == nil {
		if settings.Bitrate, err = key.Uint64(); err != nil {
			return err
		}
	}
	if key, e := section.GetKey("fd_bitrate"); e == nil {
		if settings.FDBitrate, err = key.Uint64(); err != nil {
			return err
		}
	}
	settings.CustomBitrate = section.Key("custom_bitrate").String()
	if key, e := section.GetKey("termination"); e == nil {
		if settings.Termination, err = key.Bool(); err != nil {
			return err
		}
	}
	if key, e := section.GetKey("echo"); e == nil {
		if settings.Echo, err = key.Bool(); err != nil {
			return err
		}
	}
	if key, e := section.GetKey("bus_error_report"); e == nil {
		if settings.BusErrorReport, err = key.Bool(); err != nil {
			return err
		}
	}
	if key, e := section.GetKey("tx_mode"); e == nil {
		mode, err := key.Uint()
		if err != nil {
			return err
		}
		settings.TxMode = canwrap.TxMode(mode)
		if !settings.TxMode.Valid() {
			return fmt.Errorf("invalid tx_mode %v", mode)
		}
	}
	timings, err := ParseTxTiming(section.Key("tx_timing").String())
	if err != nil {
		return err
	}
	settings.TxTiming = timings
	return nil
}

func writeSection(section *ini.Section, settings Settings) error {
	values := [][2]string{
		{"bitrate", strconv.FormatUint(settings.Bitrate, 10)},
		{"fd_bitrate", strconv.FormatUint(settings.FDBitrate, 10)},
		{"custom_bitrate", settings.CustomBitrate},
		{"termination", strconv.FormatBool(settings.Termination)},
		{"echo", strconv.FormatBool(settings.Echo)},
		{"bus_error_report", strconv.FormatBool(settings.BusErrorReport)},
		{"tx_mode", strconv.Itoa(int(settings.TxMode))},
		{"tx_timing", FormatTxTiming(settings.TxTiming)},
	}
	for _, kv := range values {
		if _, err := section.NewKey(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// ParseTxTiming parses "0x100:10,0x200:20" into a timing map
func ParseTxTiming(value string) (map[uint32]int32, error) {
	timings := make(map[uint32]int32)
	value = strings.TrimSpace(value)
	if value == "" {
		return timings, nil
	}
	for _, entry := range strings.Split(value, ",") {
		idStr, msStr, found := strings.Cut(strings.TrimSpace(entry), ":")
		if !found {
			return nil, fmt.Errorf("invalid tx_timing entry %q", entry)
		}
		id, err := strconv.ParseUint(idStr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid tx_timing id %q", idStr)
		}
		ms, err := strconv.ParseInt(msStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid tx_timing delay %q", msStr)
		}
		timings[uint32(id)] = int32(ms)
	}
	return timings, nil
}

// FormatTxTiming renders a timing map sorted by id
func FormatTxTiming(timings map[uint32]int32) string {
	ids := make([]uint32, 0, len(timings))
	for id := range timings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	entries := make([]string, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, fmt.Sprintf("0x%X:%d", id, timings[id]))
	}
	return strings.Join(entries, ",")
}

// Remove the settings file
func (store *Store) Remove() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.file = ini.Empty()
	if store.path == "" {
		return nil
	}
	err := os.Remove(store.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
