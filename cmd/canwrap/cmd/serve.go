package cmd

import (
	"github.com/samsamfire/gocanwrap/pkg/gateway/http"
	"github.com/spf13/cobra"
)

const flagListen = "listen"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "expose every channel over the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString(flagListen)
		gw := http.NewGatewayServer(mgr)
		return gw.Run(cmd.Context(), addr)
	},
}

func init() {
	serveCmd.Flags().StringP(flagListen, "L", ":8090", "listen address")
	rootCmd.AddCommand(serveCmd)
}
