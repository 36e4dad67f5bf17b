package cmd

import (
	"fmt"

	"github.com/fatih/color"
	canwrap "github.com/samsamfire/gocanwrap"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print channel capabilities and settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := selectChannel(cmd)
		if err != nil {
			return err
		}
		key := color.New(color.FgHiBlue).SprintfFunc()
		info := ch.Info()
		settings := ch.PendingSettings()
		fmt.Printf("%s %s\n", key("channel:"), info)
		fmt.Printf("%s %s\n", key("state:"), ch.State())
		fmt.Printf("%s %d\n", key("bitrate:"), settings.Bitrate)
		fmt.Printf("%s %d\n", key("fd bitrate:"), settings.FDBitrate)
		if settings.CustomBitrate != "" {
			fmt.Printf("%s %s\n", key("custom bitrate:"), settings.CustomBitrate)
		}
		fmt.Printf("%s supported=%v enabled=%v\n", key("termination:"), ch.TerminationSupported(), settings.Termination)
		fmt.Printf("%s supported=%v enabled=%v\n", key("echo:"), ch.EchoSupported(), settings.Echo)
		fmt.Printf("%s %v\n", key("bus error report:"), settings.BusErrorReport)
		fmt.Printf("%s %v\n", key("blink:"), ch.BlinkSupported())
		for mode := canwrap.TxNormal; mode <= canwrap.TxQueue; mode++ {
			fmt.Printf("%s %v supported=%v\n", key("tx mode:"), mode, ch.TxModeSupported(mode))
		}
		fmt.Printf("%s %v\n", key("current tx mode:"), settings.TxMode)
		for _, id := range settings.TimedIDs() {
			fmt.Printf("%s 0x%x %d ms\n", key("tx timing:"), id, settings.TxTiming[id])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
