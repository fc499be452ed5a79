package ezoph

import (
	"fmt"
)

// BusError is returned when the underlying I2C transport fails, e.g. when the device does not
// acknowledge its address. Bus errors are never retried.
type BusError struct {
	Op   string
	Addr byte
	Err  error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("ezo-ph i2c %s at address 0x%02x failed: %v", e.Op, e.Addr, e.Err)
}

// Unwrap returns the transport error.
func (e *BusError) Unwrap() error {
	return e.Err
}

// SensorBusyError is returned when a response resolved to a status other than success after the
// single still-processing retry. Callers may retry the whole operation.
type SensorBusyError struct {
	Command string
	Status  Status
}

func (e *SensorBusyError) Error() string {
	return fmt.Sprintf("ezo-ph command %q returned no data: %s", e.Command, e.Status)
}

// ParseError is returned when a response payload does not have the expected shape.
type ParseError struct {
	Command string
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ezo-ph command %q returned unparseable payload %q: %v", e.Command, e.Payload, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
