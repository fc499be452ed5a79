package cli

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/ezoph/components/board"
	"go.viam.com/ezoph/components/board/genericlinux"
	"go.viam.com/ezoph/components/sensor"
	"go.viam.com/ezoph/components/sensor/ezoph"
	"go.viam.com/ezoph/config"
	"go.viam.com/ezoph/logging"
	"go.viam.com/ezoph/utils"
)

const (
	defaultFindDuration  = ezoph.DefaultBlinkDuration
	defaultWatchInterval = 2 * time.Second
	logFileMaxSizeMB     = 10
)

// sensorOpener builds the sensor described by comp. The returned close func releases it along
// with anything opened for it.
type sensorOpener func(
	ctx context.Context,
	comp config.Component,
	logger logging.Logger,
) (sensor.Sensor, func(context.Context) error, error)

// openEzoSensor opens the i2c bus comp names on this host and builds the sensor on it.
func openEzoSensor(
	ctx context.Context,
	comp config.Component,
	logger logging.Logger,
) (sensor.Sensor, func(context.Context) error, error) {
	conf, err := ezoph.ConvertAttributes(comp)
	if err != nil {
		return nil, nil, err
	}
	b, err := genericlinux.NewBoard(&genericlinux.Config{
		I2Cs: []board.I2CConfig{{Name: conf.I2CBus, Bus: conf.I2CBus}},
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return openOnBoard(ctx, b, comp, logger)
}

// openOnBoard builds comp from the sensor registry. The board is closed along with the sensor.
func openOnBoard(
	ctx context.Context,
	b board.Board,
	comp config.Component,
	logger logging.Logger,
) (sensor.Sensor, func(context.Context) error, error) {
	s, err := sensor.New(ctx, b, comp, logger)
	if err != nil {
		return nil, nil, multierr.Combine(err, b.Close(ctx))
	}
	return s, func(ctx context.Context) error {
		return multierr.Combine(s.Close(ctx), b.Close(ctx))
	}, nil
}

type appRunner struct {
	open    sensorOpener
	clk     clock.Clock
	logger  logging.Logger
	logFile io.Closer
}

func (r *appRunner) before(c *cli.Context) error {
	level, err := logLevel(c)
	if err != nil {
		return err
	}
	if path := c.String(generalFlagLogFile); path != "" {
		r.logger, r.logFile = logging.NewFileLogger("ezoph", path, logFileMaxSizeMB)
	} else {
		r.logger = logging.NewLogger("ezoph")
	}
	r.logger.SetLevel(level)
	logging.ReplaceGlobal(r.logger)
	return nil
}

// logLevel picks the level from --log-level, then --debug. Without either, a log file gets info
// and the terminal only gets warnings.
func logLevel(c *cli.Context) (logging.Level, error) {
	switch {
	case c.IsSet(generalFlagLogLevel):
		return logging.LevelFromString(c.String(generalFlagLogLevel))
	case c.Bool(generalFlagDebug):
		return logging.DEBUG, nil
	case c.String(generalFlagLogFile) != "":
		return logging.INFO, nil
	default:
		return logging.WARN, nil
	}
}

func (r *appRunner) after(c *cli.Context) error {
	if r.logger == nil {
		return nil
	}
	//nolint:errcheck
	r.logger.Sync()
	if r.logFile == nil {
		return nil
	}
	return r.logFile.Close()
}

// resolveComponent builds the sensor component from the config file, if any, and the flags.
// Flags take precedence over the file.
func (r *appRunner) resolveComponent(c *cli.Context) (config.Component, error) {
	comp := config.Component{Name: c.String(generalFlagName), Model: ezoph.Model}
	attrs := utils.AttributeMap{}

	if path := c.String(generalFlagConfig); path != "" {
		cfg, err := config.Read(path, r.logger)
		if err != nil {
			return config.Component{}, err
		}
		selected, err := selectComponent(cfg, comp.Name)
		if err != nil {
			return config.Component{}, err
		}
		comp.Name = selected.Name
		attrs = lo.Assign(attrs, selected.Attributes)
	}
	if comp.Name == "" {
		comp.Name = ezoph.Model
	}

	if c.IsSet(generalFlagBus) {
		attrs["i2c_bus"] = c.String(generalFlagBus)
	}
	if c.IsSet(generalFlagAddress) {
		attrs["i2c_addr"] = c.Int(generalFlagAddress)
	}
	if c.IsSet(generalFlagBaud) {
		attrs["i2c_baud_rate"] = c.Int(generalFlagBaud)
	}
	comp.Attributes = attrs

	// catch a bad config before any bus is opened
	if _, err := ezoph.ConvertAttributes(comp); err != nil {
		return config.Component{}, err
	}
	return comp, nil
}

// selectComponent returns the named ezo-ph component, or the only one when no name is given.
func selectComponent(cfg *config.Config, name string) (*config.Component, error) {
	if name != "" {
		comp := cfg.FindComponent(name)
		if comp == nil {
			return nil, errors.Errorf("no component named %q in %s", name, cfg.ConfigFilePath)
		}
		if comp.Model != ezoph.Model {
			return nil, errors.Errorf("component %q has model %q, not %q", name, comp.Model, ezoph.Model)
		}
		return comp, nil
	}

	candidates := lo.Filter(cfg.Components, func(comp config.Component, _ int) bool {
		return comp.Model == ezoph.Model
	})
	switch len(candidates) {
	case 0:
		return nil, errors.Errorf("%s has no %s component", cfg.ConfigFilePath, ezoph.Model)
	case 1:
		return &candidates[0], nil
	default:
		return nil, errors.Errorf("%s has more than one %s component; pick one with --%s",
			cfg.ConfigFilePath, ezoph.Model, generalFlagName)
	}
}

// withSensor opens the sensor, runs fn against it and closes it again.
func (r *appRunner) withSensor(c *cli.Context, fn func(s sensor.Sensor) error) (err error) {
	comp, err := r.resolveComponent(c)
	if err != nil {
		return err
	}
	s, closeSensor, err := r.open(c.Context, comp, r.logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeSensor(context.Background()))
	}()
	return fn(s)
}

func (r *appRunner) readingAction(c *cli.Context) error {
	return r.withSensor(c, func(s sensor.Sensor) error {
		readings, err := s.Readings(c.Context, nil)
		if err != nil {
			return err
		}
		printf(c.App.Writer, "%s: %v", ezoph.ReadingKey, readings[ezoph.ReadingKey])
		return nil
	})
}

type watchResult struct {
	at       time.Time
	readings map[string]interface{}
	err      error
}

func (r *appRunner) watchAction(c *cli.Context) error {
	interval := c.Duration(watchFlagInterval)
	count := c.Int(watchFlagCount)
	return r.withSensor(c, func(s sensor.Sensor) error {
		results := make(chan watchResult)
		collector, err := sensor.NewCollector(s, interval, r.clk,
			func(ctx context.Context, at time.Time, readings map[string]interface{}, err error) {
				select {
				case results <- watchResult{at: at, readings: readings, err: err}:
				case <-ctx.Done():
				}
			}, r.logger)
		if err != nil {
			return err
		}
		defer collector.Close()

		for printed := 0; count <= 0 || printed < count; {
			select {
			case <-c.Context.Done():
				return nil
			case res := <-results:
				if res.err != nil {
					// busy polls are reported and skipped
					var busy *ezoph.SensorBusyError
					if !errors.As(res.err, &busy) {
						return res.err
					}
					warningf(c.App.ErrWriter, "%s: %v", res.at.Format(time.RFC3339), res.err)
					continue
				}
				printf(c.App.Writer, "%s %s: %v", res.at.Format(time.RFC3339), ezoph.ReadingKey, res.readings[ezoph.ReadingKey])
				printed++
			}
		}
		return nil
	})
}

func (r *appRunner) findAction(c *cli.Context) error {
	duration := c.Duration(findFlagDuration)
	return r.withSensor(c, func(s sensor.Sensor) error {
		infof(c.App.Writer, "blinking for %s", duration)
		_, err := s.DoCommand(c.Context, map[string]interface{}{
			"command":      ezoph.CommandFind,
			"duration_sec": duration.Seconds(),
		})
		return err
	})
}

func (r *appRunner) getTemperatureAction(c *cli.Context) error {
	return r.withSensor(c, func(s sensor.Sensor) error {
		resp, err := s.DoCommand(c.Context, map[string]interface{}{
			"command": ezoph.CommandGetTemperatureCompensation,
		})
		if err != nil {
			return err
		}
		printf(c.App.Writer, "temperature compensation: %v", resp["temperature"])
		return nil
	})
}

func (r *appRunner) setTemperatureAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one argument: the temperature in celsius")
	}
	celsius, err := cast.ToFloat64E(c.Args().First())
	if err != nil {
		return errors.Wrapf(err, "invalid temperature %q", c.Args().First())
	}
	return r.withSensor(c, func(s sensor.Sensor) error {
		if _, err := s.DoCommand(c.Context, map[string]interface{}{
			"command":     ezoph.CommandSetTemperatureCompensation,
			"temperature": celsius,
		}); err != nil {
			return err
		}
		printf(c.App.Writer, "temperature compensation set to %v", celsius)
		return nil
	})
}

func (r *appRunner) changeAddressAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one argument: the new address")
	}
	// accepts both 100 and 0x64
	addr, err := cast.ToIntE(c.Args().First())
	if err != nil {
		return errors.Wrapf(err, "invalid address %q", c.Args().First())
	}
	return r.withSensor(c, func(s sensor.Sensor) error {
		if _, err := s.DoCommand(c.Context, map[string]interface{}{
			"command": ezoph.CommandChangeAddress,
			"address": addr,
		}); err != nil {
			return err
		}
		printf(c.App.Writer, "address changed to %d (0x%02x)", addr, addr)
		return nil
	})
}
