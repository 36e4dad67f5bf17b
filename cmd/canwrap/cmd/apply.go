package cmd

import (
	canwrap "github.com/samsamfire/gocanwrap"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	flagTermination = "termination"
	flagTxMode      = "tx-mode"
	flagTemporary   = "temporary"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "change channel settings and store them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := selectChannel(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed(flagBitrate) {
			bitrate, _ := flags.GetUint64(flagBitrate)
			if err := ch.SetBaudRate(bitrate); err != nil {
				return err
			}
		}
		if flags.Changed(flagFDBitrate) {
			bitrate, _ := flags.GetUint64(flagFDBitrate)
			if err := ch.SetFdBaudRate(bitrate); err != nil {
				return err
			}
		}
		if flags.Changed(flagTermination) {
			enabled, _ := flags.GetBool(flagTermination)
			if err := ch.SetTermination(enabled); err != nil {
				return err
			}
		}
		if flags.Changed(flagEcho) {
			enabled, _ := flags.GetBool(flagEcho)
			if err := ch.SetEcho(enabled); err != nil {
				return err
			}
		}
		if flags.Changed(flagTxMode) {
			value, _ := flags.GetString(flagTxMode)
			mode, err := parseTxMode(value)
			if err != nil {
				return err
			}
			if err := ch.SetTxMode(mode); err != nil {
				return err
			}
		}
		temporary, _ := flags.GetBool(flagTemporary)
		if err := ch.ApplySettings(temporary); err != nil {
			return err
		}
		log.Infof("[CAN] settings applied on %v", ch.Name())
		return nil
	},
}

func parseTxMode(value string) (canwrap.TxMode, error) {
	for m := canwrap.TxNormal; m <= canwrap.TxQueue; m++ {
		if m.String() == value {
			return m, nil
		}
	}
	return 0, canwrap.ErrIllegalArgument
}

func init() {
	applyCmd.Flags().Bool(flagTermination, false, "enable bus termination")
	applyCmd.Flags().Bool(flagEcho, false, "echo sent frames to the receive queue")
	applyCmd.Flags().String(flagTxMode, "normal", "transmit mode : normal, auto-send, queue")
	applyCmd.Flags().Bool(flagTemporary, false, "apply without storing the settings")
	rootCmd.AddCommand(applyCmd)
}
