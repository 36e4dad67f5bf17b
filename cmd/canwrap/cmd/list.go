package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list available channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := color.New(color.FgHiBlue).SprintfFunc()
		for _, info := range mgr.FindAllChannels() {
			fmt.Printf("%-20s %-12s %-16s %d %s\n", name(info.Name), info.Interface, info.Device, info.Index, info.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
