// Command quicktrade is the QuickTrade CLI and HTTP server.
package main

import (
	"os"

	"quicktrade/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd(cli.DefaultAppFactory)
	if err := rootCmd.Execute(); err != nil {
		cli.NewOutput(rootCmd).TradeError(err)
		os.Exit(1)
	}
}
