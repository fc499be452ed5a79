// Package config defines the structures to configure the sensors connected to a host.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/ezoph/utils"
)

// A Config describes the configuration of every sensor on a host.
type Config struct {
	Components []Component `json:"components,omitempty" yaml:"components,omitempty"`

	ConfigFilePath string `json:"-" yaml:"-"`
}

// A Component describes the configuration of a single sensor.
type Component struct {
	Name       string             `json:"name" yaml:"name"`
	Model      string             `json:"model" yaml:"model"`
	Attributes utils.AttributeMap `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Component) Validate(path string) error {
	if config.Name == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if config.Model == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "model")
	}
	return nil
}

// Ensure ensures all parts of the config are valid.
func (c *Config) Ensure() error {
	seen := make(map[string]struct{}, len(c.Components))
	for idx := 0; idx < len(c.Components); idx++ {
		path := fmt.Sprintf("%s.%d", "components", idx)
		if err := c.Components[idx].Validate(path); err != nil {
			return err
		}
		name := c.Components[idx].Name
		if _, ok := seen[name]; ok {
			return utils.NewConfigValidationError(path, errors.Errorf("component name %q is not unique", name))
		}
		seen[name] = struct{}{}
	}
	return nil
}

// FindComponent finds a particular component by name.
func (c Config) FindComponent(name string) *Component {
	for i := range c.Components {
		if c.Components[i].Name == name {
			return &c.Components[i]
		}
	}
	return nil
}

// TransformAttributeMapToStruct uses an attribute map to transform attributes to the prescribed
// format, using the json tags of the target struct.
func TransformAttributeMapToStruct(to interface{}, attributes utils.AttributeMap) (interface{}, error) {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: to})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "failed to convert attributes")
	}
	return to, nil
}
