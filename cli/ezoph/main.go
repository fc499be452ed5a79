// Package main is the ezoph command itself.
package main

import (
	"os"

	"go.viam.com/ezoph/cli"
	"go.viam.com/ezoph/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logger := logging.Global()
		logger.Error(err)
		//nolint:errcheck
		logger.Sync()
		os.Exit(1)
	}
}
