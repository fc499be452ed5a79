// Package sensor defines an abstract sensing device that can provide measurement readings.
package sensor

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/ezoph/components/board"
	"go.viam.com/ezoph/config"
	"go.viam.com/ezoph/logging"
)

// A Sensor represents a general purpose sensors that can give arbitrary readings
// of some thing that it is sensing.
type Sensor interface {
	// Name returns the configured name of the sensor.
	Name() string

	// Readings return data specific to the type of sensor and can be of any type.
	Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error)

	// DoCommand sends and receives arbitrary data.
	DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error)

	Close(ctx context.Context) error
}

// A Constructor builds a sensor of a particular model from its config.
type Constructor func(ctx context.Context, b board.Board, conf config.Component, logger logging.Logger) (Sensor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register registers a sensor model. It panics if the model is already registered.
func Register(model string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[model]; ok {
		panic(errors.Errorf("trying to register two sensors with the same model %q", model))
	}
	if constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for model %q", model))
	}
	registry[model] = constructor
}

// Models returns the names of all registered sensor models.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := lo.Keys(registry)
	sort.Strings(models)
	return models
}

// New builds the sensor described by conf using its registered model.
func New(ctx context.Context, b board.Board, conf config.Component, logger logging.Logger) (Sensor, error) {
	registryMu.RLock()
	constructor, ok := registry[conf.Model]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("unknown sensor model %q", conf.Model)
	}
	return constructor(ctx, b, conf, logger.Sublogger(conf.Name))
}
