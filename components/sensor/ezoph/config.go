package ezoph

import (
	"github.com/pkg/errors"

	"go.viam.com/ezoph/config"
	"go.viam.com/ezoph/utils"
)

const defaultBaudRate = 400000

// Config is used for converting ezo-ph config attributes.
type Config struct {
	I2CBus                  string   `json:"i2c_bus"`
	I2CAddr                 int      `json:"i2c_addr,omitempty"`
	I2CBaudRate             int      `json:"i2c_baud_rate,omitempty"`
	TemperatureCompensation *float64 `json:"temperature_compensation,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.I2CBus == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "i2c_bus")
	}
	if conf.I2CAddr != 0 {
		if err := validateAddress(conf.I2CAddr); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if conf.I2CBaudRate < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("invalid i2c_baud_rate %d", conf.I2CBaudRate))
	}
	return nil
}

func (conf *Config) address() byte {
	if conf.I2CAddr == 0 {
		return DefaultAddress
	}
	return byte(conf.I2CAddr)
}

func (conf *Config) baudRate() int {
	if conf.I2CBaudRate == 0 {
		return defaultBaudRate
	}
	return conf.I2CBaudRate
}

// ConvertAttributes converts a component's attributes into a validated Config.
func ConvertAttributes(comp config.Component) (*Config, error) {
	conf := &Config{}
	if _, err := config.TransformAttributeMapToStruct(conf, comp.Attributes); err != nil {
		return nil, errors.Wrapf(err, "failed to convert attributes of %q", comp.Name)
	}
	if err := conf.Validate(comp.Name); err != nil {
		return nil, err
	}
	return conf, nil
}
