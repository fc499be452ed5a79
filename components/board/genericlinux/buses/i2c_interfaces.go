// Package buses offers I2C buses for generic Linux systems.
package buses

import (
	"context"
)

// I2C represents a shareable I2C bus on the board.
type I2C interface {
	// OpenHandle locks the shared bus and returns a handle interface that MUST be closed when done.
	// you cannot have 2 open at once
	OpenHandle(addr byte) (I2CHandle, error)
}

// I2CHandle is similar to an io handle. It MUST be closed to release the bus.
type I2CHandle interface {
	Write(ctx context.Context, tx []byte) error
	Read(ctx context.Context, count int) ([]byte, error)

	// Close closes the handle and releases the lock on the bus.
	Close() error
}
