// Package genericlinux implements a Linux-based board whose I2C buses are opened through
// periph.io (e.g. /dev/i2c-1).
package genericlinux

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/ezoph/components/board"
	"go.viam.com/ezoph/components/board/genericlinux/buses"
	"go.viam.com/ezoph/logging"
)

var _ = board.Board(&sysfsBoard{})

// A Config describes the I2C buses of a board.
type Config struct {
	I2Cs []board.I2CConfig `json:"i2cs,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	seen := map[string]struct{}{}
	for idx, conf := range config.I2Cs {
		confPath := fmt.Sprintf("%s.%s.%d", path, "i2cs", idx)
		if err := conf.Validate(confPath); err != nil {
			return err
		}
		if _, ok := seen[conf.Name]; ok {
			return errors.Errorf("%s: i2c name %q is not unique", confPath, conf.Name)
		}
		seen[conf.Name] = struct{}{}
	}
	return nil
}

// busOpener opens the bus with the given system name, e.g. "1" for /dev/i2c-1.
type busOpener func(bus string) (*buses.I2cBus, error)

type sysfsBoard struct {
	mu     sync.Mutex
	i2cs   map[string]*buses.I2cBus
	logger logging.Logger
}

// NewBoard opens every configured I2C bus.
func NewBoard(conf *Config, logger logging.Logger) (board.Board, error) {
	return newBoard(conf, buses.NewI2cBus, logger)
}

func newBoard(conf *Config, open busOpener, logger logging.Logger) (*sysfsBoard, error) {
	if err := conf.Validate("board"); err != nil {
		return nil, err
	}
	b := &sysfsBoard{i2cs: make(map[string]*buses.I2cBus, len(conf.I2Cs)), logger: logger}
	for _, i2cConf := range conf.I2Cs {
		bus, err := open(i2cConf.Bus)
		if err != nil {
			return nil, multierr.Combine(err, b.Close(context.Background()))
		}
		logger.Debugw("opened i2c bus", "name", i2cConf.Name, "bus", bus.String())
		b.i2cs[i2cConf.Name] = bus
	}
	return b, nil
}

func (b *sysfsBoard) I2CByName(name string) (buses.I2C, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.i2cs[name]
	if !ok {
		return nil, false
	}
	return i, true
}

func (b *sysfsBoard) I2CNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.i2cs) == 0 {
		return nil
	}
	names := lo.Keys(b.i2cs)
	sort.Strings(names)
	return names
}

func (b *sysfsBoard) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	for name, bus := range b.i2cs {
		err = multierr.Combine(err, bus.Close())
		delete(b.i2cs, name)
	}
	return err
}
