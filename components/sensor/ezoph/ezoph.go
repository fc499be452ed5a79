// Package ezoph implements a driver for the Atlas Scientific EZO pH circuit in I2C mode.
// datasheet can be found at: https://files.atlas-scientific.com/pH_EZO_Datasheet.pdf
//
// The circuit speaks an ASCII command protocol. Every command is a plain write; commands that
// produce data are followed by a fixed processing delay and a 16 byte read whose first byte is a
// status code and whose remainder is a NUL terminated ASCII payload.
package ezoph

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/ezoph/components/board/genericlinux/buses"
	"go.viam.com/ezoph/logging"
)

const (
	// DefaultAddress is the factory I2C address of the circuit (99).
	DefaultAddress byte = 0x63
	// DefaultBlinkDuration is how long Find blinks the LED when no duration is given.
	DefaultBlinkDuration = 5 * time.Second

	minAddress = 0x01
	maxAddress = 0x7F

	// datasheet processing delays
	readingDelay     = 900 * time.Millisecond
	processingDelay  = 900 * time.Millisecond
	temperatureDelay = 300 * time.Millisecond
	rebootDelay      = 2 * time.Second

	// more than the longest response the circuit sends
	responseLength = 16

	cmdFind                = "Find"
	cmdFindCancel          = "123"
	cmdReading             = "R"
	cmdTemperatureQuery    = "T,?"
	temperatureQueryPrefix = "?T,"
)

// Device is a single EZO pH circuit on an I2C bus. All operations on a Device are serialized; the
// device is held for the full duration of each operation, including its processing delay.
type Device struct {
	mu  sync.Mutex
	bus buses.I2C
	// only stored with mu held
	addr   atomic.Uint32
	clk    clock.Clock
	logger logging.Logger
}

// NewDevice returns a Device for the circuit at addr on the given bus. An addr of 0 selects
// DefaultAddress. The bus is owned by the caller.
func NewDevice(bus buses.I2C, addr byte, logger logging.Logger) (*Device, error) {
	return newDevice(bus, addr, clock.New(), logger)
}

func newDevice(bus buses.I2C, addr byte, clk clock.Clock, logger logging.Logger) (*Device, error) {
	if bus == nil {
		return nil, errors.New("ezo-ph requires an i2c bus")
	}
	if addr == 0 {
		addr = DefaultAddress
	}
	if err := validateAddress(int(addr)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger("ezo-ph")
	}
	d := &Device{bus: bus, clk: clk, logger: logger}
	d.addr.Store(uint32(addr))
	return d, nil
}

func validateAddress(addr int) error {
	if addr < minAddress || addr > maxAddress {
		return errors.Errorf("i2c address %d is out of range [%d, %d]", addr, minAddress, maxAddress)
	}
	return nil
}

// Address returns the address the device is currently reached at. It does not wait for an
// operation in progress; during ChangeAddress it reports the new address once the command is sent.
func (d *Device) Address() byte {
	return byte(d.addr.Load())
}

// Find blinks the device LED white for the given duration so the device can be located, then
// cancels the blinking. A non-positive duration blinks for DefaultBlinkDuration.
func (d *Device) Find(ctx context.Context, blink time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if blink <= 0 {
		blink = DefaultBlinkDuration
	}
	if err := d.write(ctx, cmdFind); err != nil {
		return err
	}
	waitErr := d.wait(ctx, blink)
	// the LED blinks until any other command arrives, so stop it even if ctx is done
	return multierr.Combine(waitErr, d.write(context.WithoutCancel(ctx), cmdFindCancel))
}

// TakeReading takes a single pH reading.
func (d *Device) TakeReading(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(ctx, cmdReading); err != nil {
		return 0, err
	}
	if err := d.wait(ctx, readingDelay); err != nil {
		return 0, err
	}
	payload, err := d.readResponse(ctx, cmdReading)
	if err != nil {
		return 0, err
	}
	return parseFloat(cmdReading, payload, payload)
}

// SetTemperatureCompensation sets the temperature, in celsius, that readings are compensated for.
// The value does not survive a power cycle of the circuit and must be set again after one.
func (d *Device) SetTemperatureCompensation(ctx context.Context, celsius float64) error {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return errors.Errorf("invalid temperature compensation %v", celsius)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(ctx, temperatureCommand(celsius)); err != nil {
		return err
	}
	return d.wait(ctx, temperatureDelay)
}

// TemperatureCompensation returns the temperature, in celsius, that readings are currently
// compensated for. The circuit defaults to 25.
func (d *Device) TemperatureCompensation(ctx context.Context) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(ctx, cmdTemperatureQuery); err != nil {
		return 0, err
	}
	if err := d.wait(ctx, temperatureDelay); err != nil {
		return 0, err
	}
	payload, err := d.readResponse(ctx, cmdTemperatureQuery)
	if err != nil {
		return 0, err
	}
	return parseFloat(cmdTemperatureQuery, payload, strings.TrimPrefix(payload, temperatureQueryPrefix))
}

// ChangeAddress moves the circuit to a new I2C address. The circuit reboots onto the new address
// without responding, so the device switches to it as soon as the command is written.
func (d *Device) ChangeAddress(ctx context.Context, newAddr byte) error {
	if err := validateAddress(int(newAddr)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.write(ctx, fmt.Sprintf("I2C,%d", newAddr)); err != nil {
		return err
	}
	d.logger.CDebugw(ctx, "ezo-ph address changed", "from", d.Address(), "to", newAddr)
	d.addr.Store(uint32(newAddr))
	return d.wait(ctx, rebootDelay)
}

// temperatureCommand formats the value without trailing zeros, e.g. T,25 or T,19.5.
func temperatureCommand(celsius float64) string {
	return "T," + strconv.FormatFloat(celsius, 'f', -1, 64)
}

func parseFloat(command, payload, number string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(number), 64)
	if err != nil {
		return 0, &ParseError{Command: command, Payload: payload, Err: err}
	}
	return value, nil
}

// readResponse reads and decodes a response frame. A still-processing frame gets exactly one
// more processing delay and one more read; whatever that read holds is final.
func (d *Device) readResponse(ctx context.Context, command string) (string, error) {
	buf, err := d.read(ctx, responseLength)
	if err != nil {
		return "", err
	}
	resp := decodeResponse(buf)
	if resp.status == StatusStillProcessing {
		d.logger.CDebugw(ctx, "ezo-ph still processing, waiting once more", "command", command)
		if err := d.wait(ctx, processingDelay); err != nil {
			return "", err
		}
		if buf, err = d.read(ctx, responseLength); err != nil {
			return "", err
		}
		resp = decodeResponse(buf)
	}

	if !resp.ok() {
		return "", &SensorBusyError{Command: command, Status: resp.status}
	}
	payload, ok := resp.asciiPayload()
	if !ok {
		return "", &ParseError{Command: command, Payload: string(resp.payload), Err: errors.New("payload is not ascii")}
	}
	d.logger.CDebugw(ctx, "ezo-ph response", "command", command, "payload", payload)
	return payload, nil
}

// write sends a command frame to the current address. The bus is only held for the write itself.
func (d *Device) write(ctx context.Context, command string) error {
	addr := d.Address()
	d.logger.CDebugw(ctx, "ezo-ph write", "address", addr, "command", command)
	handle, err := d.bus.OpenHandle(addr)
	if err != nil {
		return &BusError{Op: "open", Addr: addr, Err: err}
	}
	if err := multierr.Combine(handle.Write(ctx, []byte(command)), handle.Close()); err != nil {
		return &BusError{Op: "write", Addr: addr, Err: err}
	}
	return nil
}

func (d *Device) read(ctx context.Context, count int) ([]byte, error) {
	addr := d.Address()
	handle, err := d.bus.OpenHandle(addr)
	if err != nil {
		return nil, &BusError{Op: "open", Addr: addr, Err: err}
	}
	buf, err := handle.Read(ctx, count)
	if err := multierr.Combine(err, handle.Close()); err != nil {
		return nil, &BusError{Op: "read", Addr: addr, Err: err}
	}
	if len(buf) == 0 {
		return nil, &BusError{Op: "read", Addr: addr, Err: errors.New("empty response")}
	}
	return buf, nil
}

// wait blocks for the given duration or until ctx is done, whichever comes first.
func (d *Device) wait(ctx context.Context, duration time.Duration) error {
	timer := d.clk.Timer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
