package cmd

import (
	"context"
	"fmt"

	"github.com/samsamfire/gocanwrap/pkg/config"
	"github.com/samsamfire/gocanwrap/pkg/manager"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "canwrap",
	Short:             "CAN channel tool",
	Long:              `List, configure, send to and dump CAN channels of every available backend`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Shared by every sub command, created in setup
var mgr *manager.Manager

const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagChannel   = "channel"
	flagIndex     = "index"
	flagType      = "type"
	flagMode      = "mode"
	flagBitrate   = "bitrate"
	flagFDBitrate = "fd-bitrate"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "library configuration file (ini)")
	pf.StringP(flagLogLevel, "l", "warning", "log level e.g. debug, info, warning")
	pf.StringP(flagChannel, "C", "", "channel name or device, prompt if empty")
	pf.IntP(flagIndex, "i", 0, "channel index inside of device")
	pf.StringP(flagType, "t", "can", "open type : can, canfd, canfd-brs, canfd-non-iso")
	pf.StringP(flagMode, "m", "normal", "open mode : normal, listen-only, loopback")
	pf.Uint64P(flagBitrate, "b", 0, "nominal bitrate, 0 keeps the stored value")
	pf.Uint64(flagFDBitrate, 0, "data phase bitrate, 0 keeps the stored value")
}

// Execute adds all child commands to the root command and runs it with ctx
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if mgr != nil {
		if e := mgr.Close(); e != nil {
			log.Warnf("[CAN] error closing channels : %v", e)
		}
	}
	return err
}

func setup(cmd *cobra.Command, args []string) error {
	levelStr, _ := cmd.Flags().GetString(flagLogLevel)
	level, err := log.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level %q", levelStr)
	}
	log.SetLevel(level)
	path, _ := cmd.Flags().GetString(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	mgr, err = manager.New(cfg)
	return err
}
