// Package board defines the boards that sensors are wired to.
package board

import (
	"context"

	"go.viam.com/ezoph/components/board/genericlinux/buses"
)

// A Board exposes the named I2C buses of a host.
type Board interface {
	// I2CNames returns the names of all known I2C buses.
	I2CNames() []string

	// I2CByName returns an I2C bus by name.
	I2CByName(name string) (buses.I2C, bool)

	// Close releases every bus the board opened.
	Close(ctx context.Context) error
}
