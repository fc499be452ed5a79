package buses

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// I2cBus is an I2C bus backed by a periph.io bus, e.g. /dev/i2c-1 on linux.
type I2cBus struct {
	mu  sync.Mutex
	bus i2c.BusCloser
}

// NewI2cBus initializes the host drivers and opens the named bus. An empty name opens the first
// bus found.
func NewI2cBus(name string) (*I2cBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize host drivers")
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", name)
	}
	return NewI2cBusFromPeriph(bus), nil
}

// NewI2cBusFromPeriph wraps an already opened periph.io bus.
func NewI2cBusFromPeriph(bus i2c.BusCloser) *I2cBus {
	return &I2cBus{bus: bus}
}

// SetSpeed sets the clock frequency of the bus, in hertz.
func (bus *I2cBus) SetSpeed(hz int) error {
	if hz <= 0 {
		return errors.Errorf("invalid i2c bus speed %d", hz)
	}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.bus.SetSpeed(physic.Frequency(hz) * physic.Hertz)
}

// OpenHandle locks the bus and returns a handle for the device at addr.
func (bus *I2cBus) OpenHandle(addr byte) (I2CHandle, error) {
	bus.mu.Lock()
	return &i2cHandle{device: &i2c.Dev{Bus: bus.bus, Addr: uint16(addr)}, parent: bus}, nil
}

// Close closes the underlying bus.
func (bus *I2cBus) Close() error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.bus.Close()
}

func (bus *I2cBus) String() string {
	return bus.bus.String()
}

type i2cHandle struct {
	device *i2c.Dev
	parent *I2cBus
	closed bool
}

// Write writes tx to the device in a single transaction.
func (h *i2cHandle) Write(ctx context.Context, tx []byte) error {
	if h.closed {
		return errors.New("i2c handle is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bytesWritten, err := h.device.Write(tx)
	if err != nil {
		return errors.Wrapf(err, "failed to write to i2c address %d", h.device.Addr)
	}
	if bytesWritten != len(tx) {
		return errors.Errorf("not all bytes were written to i2c address %d: had %d, wrote %d",
			h.device.Addr, len(tx), bytesWritten)
	}
	return nil
}

// Read reads exactly count bytes from the device in a single transaction.
func (h *i2cHandle) Read(ctx context.Context, count int) ([]byte, error) {
	if h.closed {
		return nil, errors.New("i2c handle is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, errors.Errorf("invalid read length %d", count)
	}
	buffer := make([]byte, count)
	if err := h.device.Tx(nil, buffer); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d bytes from i2c address %d", count, h.device.Addr)
	}
	return buffer, nil
}

// Close releases the lock on the bus. It does not close the bus itself.
func (h *i2cHandle) Close() error {
	if h.closed {
		return errors.New("i2c handle already closed")
	}
	h.closed = true
	h.parent.mu.Unlock()
	return nil
}
