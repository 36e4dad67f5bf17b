package config

import (
	"fmt"

	canwrap "github.com/samsamfire/gocanwrap"
	"gopkg.in/ini.v1"
)

// Library configuration, loaded from an ini file
//
//	[manager]
//	rx_queue_size = 1024
//	tx_queue_size = 256
//	settings_file = canwrap_settings.ini
//
//	[virtual]
//	channels = 2
type Config struct {
	RxQueueSize     int
	TxQueueSize     int
	SettingsFile    string
	VirtualChannels int
}

const (
	DefaultRxQueueSize     = 1024
	DefaultTxQueueSize     = 256
	DefaultVirtualChannels = 2
)

func DefaultConfig() Config {
	return Config{
		RxQueueSize:     DefaultRxQueueSize,
		TxQueueSize:     DefaultTxQueueSize,
		VirtualChannels: DefaultVirtualChannels,
	}
}

// Load the configuration file, missing keys keep their default value.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: failed to load config %v : %v", canwrap.ErrIllegalArgument, path, err)
	}
	manager := file.Section("manager")
	cfg.RxQueueSize = manager.Key("rx_queue_size").MustInt(cfg.RxQueueSize)
	cfg.TxQueueSize = manager.Key("tx_queue_size").MustInt(cfg.TxQueueSize)
	cfg.SettingsFile = manager.Key("settings_file").MustString(cfg.SettingsFile)
	cfg.VirtualChannels = file.Section("virtual").Key("channels").MustInt(cfg.VirtualChannels)
	if cfg.RxQueueSize <= 0 || cfg.TxQueueSize <= 0 || cfg.VirtualChannels < 0 {
		return cfg, fmt.Errorf("%w: invalid sizes in config %v", canwrap.ErrIllegalArgument, path)
	}
	return cfg, nil
}

// Save the configuration file
func (cfg Config) Save(path string) error {
	file := ini.Empty()
	manager, err := file.NewSection("manager")
	if err != nil {
		return err
	}
	if _, err := manager.NewKey("rx_queue_size", fmt.Sprint(cfg.RxQueueSize)); err != nil {
		return err
	}
	if _, err := manager.NewKey("tx_queue_size", fmt.Sprint(cfg.TxQueueSize)); err != nil {
		return err
	}
	if _, err := manager.NewKey("settings_file", cfg.SettingsFile); err != nil {
		return err
	}
	virtual, err := file.NewSection("virtual")
	if err != nil {
		return err
	}
	if _, err := virtual.NewKey("channels", fmt.Sprint(cfg.VirtualChannels)); err != nil {
		return err
	}
	return file.SaveTo(path)
}
