package ezoph

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/ezoph/components/board"
	"go.viam.com/ezoph/components/board/genericlinux/buses"
	"go.viam.com/ezoph/components/sensor"
	"go.viam.com/ezoph/config"
	"go.viam.com/ezoph/logging"
	"go.viam.com/ezoph/utils"
)

// Model is the name ezo-ph sensors are registered under.
const Model = "ezo-ph"

// ReadingKey is the key of the pH value in readings.
const ReadingKey = "ph"

// DoCommand commands.
const (
	CommandFind                       = "find"
	CommandReading                    = "reading"
	CommandSetTemperatureCompensation = "set_temperature_compensation"
	CommandGetTemperatureCompensation = "get_temperature_compensation"
	CommandChangeAddress              = "change_address"
)

func init() {
	sensor.Register(Model, func(
		ctx context.Context,
		b board.Board,
		comp config.Component,
		logger logging.Logger,
	) (sensor.Sensor, error) {
		conf, err := ConvertAttributes(comp)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, errors.Errorf("%s %q requires a board", Model, comp.Name)
		}
		bus, ok := b.I2CByName(conf.I2CBus)
		if !ok {
			return nil, errors.Errorf("%s %q: failed to find i2c bus %q", Model, comp.Name, conf.I2CBus)
		}
		return NewSensor(ctx, bus, comp.Name, conf, logger)
	})
}

type speedSetter interface {
	SetSpeed(hz int) error
}

type ezoSensor struct {
	name   string
	device *Device
	logger logging.Logger
}

// NewSensor returns a sensor backed by the ezo-ph circuit described by conf on the given bus.
func NewSensor(
	ctx context.Context,
	bus buses.I2C,
	name string,
	conf *Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	return newSensor(ctx, bus, name, conf, clock.New(), logger)
}

func newSensor(
	ctx context.Context,
	bus buses.I2C,
	name string,
	conf *Config,
	clk clock.Clock,
	logger logging.Logger,
) (sensor.Sensor, error) {
	if conf == nil {
		return nil, errors.New("ezo-ph requires a config")
	}
	if err := conf.Validate(name); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger(name)
	}
	device, err := newDevice(bus, conf.address(), clk, logger)
	if err != nil {
		return nil, err
	}

	if setter, ok := bus.(speedSetter); ok {
		if err := setter.SetSpeed(conf.baudRate()); err != nil {
			return nil, errors.Wrapf(err, "failed to set i2c bus speed to %d", conf.baudRate())
		}
	}

	if conf.TemperatureCompensation != nil {
		if err := device.SetTemperatureCompensation(ctx, *conf.TemperatureCompensation); err != nil {
			return nil, errors.Wrap(err, "failed to apply temperature compensation")
		}
	}

	logger.Debugw("ezo-ph sensor ready", "address", device.Address())
	return &ezoSensor{name: name, device: device, logger: logger}, nil
}

func (s *ezoSensor) Name() string {
	return s.name
}

// debugKey in extra or a DoCommand request raises the command trace of that call to info.
const debugKey = "debug"

func withDebug(ctx context.Context, extra map[string]interface{}) context.Context {
	if enabled, ok := extra[debugKey].(bool); ok && enabled {
		return logging.EnableDebugMode(ctx, "")
	}
	return ctx
}

// Readings returns the current pH.
func (s *ezoSensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	ctx = withDebug(ctx, extra)
	ph, err := s.device.TakeReading(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{ReadingKey: ph}, nil
}

func (s *ezoSensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	ctx = withDebug(ctx, cmd)
	attrs := utils.AttributeMap(cmd)
	name, err := attrs.String("command")
	if err != nil {
		return nil, err
	}

	switch name {
	case CommandFind:
		seconds, err := attrs.Float64("duration_sec", DefaultBlinkDuration.Seconds())
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{}, s.device.Find(ctx, time.Duration(seconds*float64(time.Second)))
	case CommandReading:
		return s.Readings(ctx, cmd)
	case CommandSetTemperatureCompensation:
		if !attrs.Has("temperature") {
			return nil, errors.Errorf("%q requires a temperature", name)
		}
		celsius, err := attrs.Float64("temperature", 0)
		if err != nil {
			return nil, err
		}
		if err := s.device.SetTemperatureCompensation(ctx, celsius); err != nil {
			return nil, err
		}
		return map[string]interface{}{"temperature": celsius}, nil
	case CommandGetTemperatureCompensation:
		celsius, err := s.device.TemperatureCompensation(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"temperature": celsius}, nil
	case CommandChangeAddress:
		if !attrs.Has("address") {
			return nil, errors.Errorf("%q requires an address", name)
		}
		addr, err := attrs.Int("address", 0)
		if err != nil {
			return nil, err
		}
		if err := validateAddress(addr); err != nil {
			return nil, err
		}
		if err := s.device.ChangeAddress(ctx, byte(addr)); err != nil {
			return nil, err
		}
		return map[string]interface{}{"address": addr}, nil
	case "":
		return nil, errors.New("no command given")
	default:
		return nil, errors.Errorf("unknown command %q", name)
	}
}

// Close does nothing; the bus belongs to the board.
func (s *ezoSensor) Close(ctx context.Context) error {
	return nil
}
