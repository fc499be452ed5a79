// Package cli contains the ezoph command line app.
package cli

import (
	"io"

	"github.com/benbjohnson/clock"
	"github.com/urfave/cli/v2"
)

const (
	generalFlagConfig   = "config"
	generalFlagName     = "name"
	generalFlagBus      = "bus"
	generalFlagAddress  = "address"
	generalFlagBaud     = "baud"
	generalFlagDebug    = "debug"
	generalFlagLogFile  = "log-file"
	generalFlagLogLevel = "log-level"

	findFlagDuration = "duration"

	watchFlagInterval = "interval"
	watchFlagCount    = "count"
)

// NewApp returns the ezoph app writing its output to out and errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return newApp(out, errOut, openEzoSensor, clock.New())
}

func newApp(out, errOut io.Writer, open sensorOpener, clk clock.Clock) *cli.App {
	runner := &appRunner{open: open, clk: clk}
	return &cli.App{
		Name:            "ezoph",
		Usage:           "talk to an Atlas Scientific EZO pH circuit over i2c",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load sensor configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  generalFlagName,
				Usage: "name of the sensor component to use from the config file",
			},
			&cli.StringFlag{
				Name:  generalFlagBus,
				Usage: "i2c bus the circuit is on, e.g. 1 for /dev/i2c-1",
			},
			&cli.IntFlag{
				Name:  generalFlagAddress,
				Usage: "i2c address of the circuit (default 99)",
			},
			&cli.IntFlag{
				Name:  generalFlagBaud,
				Usage: "i2c bus speed in hertz (default 400000)",
			},
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  generalFlagLogFile,
				Usage: "write logs to `FILE` instead of stdout, rotating it as it grows",
			},
			&cli.StringFlag{
				Name:  generalFlagLogLevel,
				Usage: "minimum `LEVEL` to log: debug, info, warn or error",
			},
		},
		Before: runner.before,
		After:  runner.after,
		Commands: []*cli.Command{
			{
				Name:   "reading",
				Usage:  "take a single pH reading",
				Action: runner.readingAction,
			},
			{
				Name:  "watch",
				Usage: "print a pH reading at a fixed interval until interrupted",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  watchFlagInterval,
						Usage: "time between readings",
						Value: defaultWatchInterval,
					},
					&cli.IntFlag{
						Name:  watchFlagCount,
						Usage: "stop after this many readings (0 for no limit)",
					},
				},
				Action: runner.watchAction,
			},
			{
				Name:  "find",
				Usage: "blink the circuit's LED so it can be located",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  findFlagDuration,
						Usage: "how long to blink for",
						Value: defaultFindDuration,
					},
				},
				Action: runner.findAction,
			},
			{
				Name:            "temperature",
				Usage:           "work with temperature compensation",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "get",
						Usage:  "print the temperature readings are compensated for",
						Action: runner.getTemperatureAction,
					},
					{
						Name:      "set",
						Usage:     "set the temperature readings are compensated for",
						ArgsUsage: "<celsius>",
						Action:    runner.setTemperatureAction,
					},
				},
			},
			{
				Name:      "address",
				Usage:     "move the circuit to a new i2c address",
				ArgsUsage: "<new address>",
				Action:    runner.changeAddressAction,
			},
		},
	}
}
