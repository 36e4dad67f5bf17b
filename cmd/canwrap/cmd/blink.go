package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var blinkCmd = &cobra.Command{
	Use:   "blink [duration]",
	Short: "blink the channel led to identify the device",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration := 5 * time.Second
		if len(args) == 1 {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return err
			}
			duration = d
		}
		ctx := cmd.Context()
		ch, err := openChannel(ctx, cmd)
		if err != nil {
			return err
		}
		if err := ch.Blink(true); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
		case <-time.After(duration):
		}
		return ch.Blink(false)
	},
}

func init() {
	rootCmd.AddCommand(blinkCmd)
}
