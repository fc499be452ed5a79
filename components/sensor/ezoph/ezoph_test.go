package ezoph

import (
	"context"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"go.viam.com/ezoph/components/board/genericlinux/buses"
	"go.viam.com/ezoph/logging"
	"go.viam.com/ezoph/testutils/inject"
)

func newTestDevice(t *testing.T) (*Device, *fakeEzo, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	fake := newFakeEzo(clk)
	dev, err := newDevice(fake, 0, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return dev, fake, clk
}

func TestNewDevice(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fake := newFakeEzo(clock.NewMock())

	_, err := NewDevice(nil, DefaultAddress, logger)
	test.That(t, err, test.ShouldNotBeNil)

	dev, err := NewDevice(fake, 0, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Address(), test.ShouldEqual, DefaultAddress)

	dev, err = NewDevice(fake, 0x64, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Address(), test.ShouldEqual, byte(0x64))

	_, err = NewDevice(fake, 0x80, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")
}

func TestTakeReading(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		start := clk.Now()

		var ph float64
		var err error
		runWithClock(t, clk, func() { ph, err = dev.TakeReading(ctx) })
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ph, test.ShouldEqual, 9.56)

		ops := fake.operations()
		test.That(t, ops, test.ShouldHaveLength, 2)
		test.That(t, ops[0].write, test.ShouldEqual, "R")
		test.That(t, ops[0].at, test.ShouldEqual, start)
		test.That(t, ops[1].isRead(), test.ShouldBeTrue)
		test.That(t, ops[1].at.Sub(start), test.ShouldEqual, readingDelay)
	})

	t.Run("still processing then success waits exactly once more", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusStillProcessing, ""), frame(StatusSuccess, "9.560"))
		start := clk.Now()

		var ph float64
		var err error
		runWithClock(t, clk, func() { ph, err = dev.TakeReading(ctx) })
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ph, test.ShouldEqual, 9.56)

		ops := fake.operations()
		test.That(t, ops, test.ShouldHaveLength, 3)
		test.That(t, ops[1].at.Sub(start), test.ShouldEqual, readingDelay)
		test.That(t, ops[2].isRead(), test.ShouldBeTrue)
		test.That(t, ops[2].at.Sub(ops[1].at), test.ShouldEqual, processingDelay)
		test.That(t, clk.Now().Sub(start), test.ShouldEqual, readingDelay+processingDelay)
	})

	t.Run("still processing twice is busy", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusStillProcessing, ""), frame(StatusStillProcessing, ""))

		var err error
		runWithClock(t, clk, func() { _, err = dev.TakeReading(ctx) })
		var busy *SensorBusyError
		test.That(t, errors.As(err, &busy), test.ShouldBeTrue)
		test.That(t, busy.Status, test.ShouldEqual, StatusStillProcessing)
		test.That(t, busy.Command, test.ShouldEqual, "R")
		test.That(t, fake.reads(), test.ShouldEqual, 2)
	})

	t.Run("no data is busy without a second read", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusNoData, ""))

		var err error
		runWithClock(t, clk, func() { _, err = dev.TakeReading(ctx) })
		var busy *SensorBusyError
		test.That(t, errors.As(err, &busy), test.ShouldBeTrue)
		test.That(t, busy.Status, test.ShouldEqual, StatusNoData)
		test.That(t, err.Error(), test.ShouldEqual, `ezo-ph command "R" returned no data: no data to send`)
		test.That(t, fake.reads(), test.ShouldEqual, 1)
	})

	t.Run("syntax error is busy", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusSyntaxError, ""))

		var err error
		runWithClock(t, clk, func() { _, err = dev.TakeReading(ctx) })
		var busy *SensorBusyError
		test.That(t, errors.As(err, &busy), test.ShouldBeTrue)
		test.That(t, busy.Status, test.ShouldEqual, StatusSyntaxError)
	})

	t.Run("payload filling the frame", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		unterminated := append([]byte{byte(StatusSuccess)}, []byte("7.0000000000000")...)
		test.That(t, unterminated, test.ShouldHaveLength, responseLength)
		fake.script(unterminated)

		var ph float64
		var err error
		runWithClock(t, clk, func() { ph, err = dev.TakeReading(ctx) })
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ph, test.ShouldEqual, 7.0)
	})

	t.Run("unparseable payload", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusSuccess, "abc"))

		var err error
		runWithClock(t, clk, func() { _, err = dev.TakeReading(ctx) })
		var parseErr *ParseError
		test.That(t, errors.As(err, &parseErr), test.ShouldBeTrue)
		test.That(t, parseErr.Payload, test.ShouldEqual, "abc")
		test.That(t, errors.Is(err, strconv.ErrSyntax), test.ShouldBeTrue)
	})

	t.Run("empty payload", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusSuccess, ""))

		var err error
		runWithClock(t, clk, func() { _, err = dev.TakeReading(ctx) })
		var parseErr *ParseError
		test.That(t, errors.As(err, &parseErr), test.ShouldBeTrue)
		test.That(t, parseErr.Payload, test.ShouldBeEmpty)
	})

	t.Run("non ascii payload", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusSuccess, "7\xff"))

		var err error
		runWithClock(t, clk, func() { _, err = dev.TakeReading(ctx) })
		var parseErr *ParseError
		test.That(t, errors.As(err, &parseErr), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, "not ascii")
	})

	t.Run("missing device is a bus error", func(t *testing.T) {
		clk := clock.NewMock()
		fake := newFakeEzo(clk)
		dev, err := newDevice(fake, 0x10, clk, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)

		_, err = dev.TakeReading(ctx)
		var busErr *BusError
		test.That(t, errors.As(err, &busErr), test.ShouldBeTrue)
		test.That(t, busErr.Op, test.ShouldEqual, "write")
		test.That(t, busErr.Addr, test.ShouldEqual, byte(0x10))
		test.That(t, err.Error(), test.ShouldContainSubstring, "at address 0x10 failed")
		test.That(t, fake.reads(), test.ShouldEqual, 0)
	})

	t.Run("open failure is a bus error", func(t *testing.T) {
		bus := &inject.I2C{OpenHandleFunc: func(addr byte) (buses.I2CHandle, error) {
			return nil, errors.New("bus gone")
		}}
		dev, err := newDevice(bus, 0, clock.NewMock(), logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)

		_, err = dev.TakeReading(ctx)
		var busErr *BusError
		test.That(t, errors.As(err, &busErr), test.ShouldBeTrue)
		test.That(t, busErr.Op, test.ShouldEqual, "open")
		test.That(t, errors.Cause(busErr.Err).Error(), test.ShouldEqual, "bus gone")
	})

	t.Run("empty read is a bus error", func(t *testing.T) {
		clk := clock.NewMock()
		handle := &inject.I2CHandle{
			WriteFunc: func(ctx context.Context, tx []byte) error { return nil },
			ReadFunc:  func(ctx context.Context, count int) ([]byte, error) { return []byte{}, nil },
			CloseFunc: func() error { return nil },
		}
		bus := &inject.I2C{OpenHandleFunc: func(addr byte) (buses.I2CHandle, error) { return handle, nil }}
		dev, err := newDevice(bus, 0, clk, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)

		runWithClock(t, clk, func() { _, err = dev.TakeReading(ctx) })
		var busErr *BusError
		test.That(t, errors.As(err, &busErr), test.ShouldBeTrue)
		test.That(t, busErr.Op, test.ShouldEqual, "read")
	})
}

func TestTakeReadingWireFormat(t *testing.T) {
	playback := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x63, W: []byte("R")},
			{Addr: 0x63, R: frame(StatusSuccess, "9.56")},
			{Addr: 0x63, W: []byte("T,19.5")},
			{Addr: 0x63, W: []byte("T,?")},
			{Addr: 0x63, R: frame(StatusSuccess, "?T,19.50")},
		},
		DontPanic: true,
	}
	bus := buses.NewI2cBusFromPeriph(playback)
	clk := clock.NewMock()
	dev, err := newDevice(bus, DefaultAddress, clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx := context.Background()
	var ph, temp float64
	runWithClock(t, clk, func() {
		if ph, err = dev.TakeReading(ctx); err != nil {
			return
		}
		if err = dev.SetTemperatureCompensation(ctx, 19.5); err != nil {
			return
		}
		temp, err = dev.TemperatureCompensation(ctx)
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ph, test.ShouldEqual, 9.56)
	test.That(t, temp, test.ShouldEqual, 19.5)
	test.That(t, bus.Close(), test.ShouldBeNil)
}

func TestTemperatureCompensation(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get round trips", func(t *testing.T) {
		for _, celsius := range []float64{25, 19.5, 0, -5.25, 37.125} {
			dev, fake, clk := newTestDevice(t)
			start := clk.Now()

			var got float64
			var err error
			runWithClock(t, clk, func() {
				if err = dev.SetTemperatureCompensation(ctx, celsius); err != nil {
					return
				}
				got, err = dev.TemperatureCompensation(ctx)
			})
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got, test.ShouldEqual, celsius)

			ops := fake.operations()
			test.That(t, ops, test.ShouldHaveLength, 3)
			test.That(t, ops[0].write, test.ShouldEqual, temperatureCommand(celsius))
			test.That(t, ops[1].write, test.ShouldEqual, "T,?")
			test.That(t, ops[1].at.Sub(start), test.ShouldEqual, temperatureDelay)
			test.That(t, ops[2].at.Sub(start), test.ShouldEqual, 2*temperatureDelay)
		}
	})

	t.Run("query prefix is stripped", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		fake.script(frame(StatusSuccess, "?T,19.5"))

		var got float64
		var err error
		runWithClock(t, clk, func() { got, err = dev.TemperatureCompensation(ctx) })
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, 19.5)
	})

	t.Run("command formatting", func(t *testing.T) {
		test.That(t, temperatureCommand(25), test.ShouldEqual, "T,25")
		test.That(t, temperatureCommand(19.5), test.ShouldEqual, "T,19.5")
		test.That(t, temperatureCommand(-3.75), test.ShouldEqual, "T,-3.75")
	})

	t.Run("invalid values are rejected before any i/o", func(t *testing.T) {
		dev, fake, _ := newTestDevice(t)
		test.That(t, dev.SetTemperatureCompensation(ctx, math.NaN()), test.ShouldNotBeNil)
		test.That(t, dev.SetTemperatureCompensation(ctx, math.Inf(1)), test.ShouldNotBeNil)
		test.That(t, fake.operations(), test.ShouldBeEmpty)
	})
}

func TestChangeAddress(t *testing.T) {
	ctx := context.Background()

	t.Run("subsequent commands use the new address", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		start := clk.Now()

		var ph float64
		var err error
		runWithClock(t, clk, func() {
			if err = dev.ChangeAddress(ctx, 0x64); err != nil {
				return
			}
			ph, err = dev.TakeReading(ctx)
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ph, test.ShouldEqual, 9.56)
		test.That(t, dev.Address(), test.ShouldEqual, byte(0x64))

		ops := fake.operations()
		test.That(t, ops, test.ShouldHaveLength, 3)
		test.That(t, ops[0].addr, test.ShouldEqual, DefaultAddress)
		test.That(t, ops[0].write, test.ShouldEqual, "I2C,100")
		test.That(t, ops[1].addr, test.ShouldEqual, byte(0x64))
		test.That(t, ops[1].at.Sub(start), test.ShouldEqual, rebootDelay)
		test.That(t, ops[2].addr, test.ShouldEqual, byte(0x64))
	})

	t.Run("invalid addresses", func(t *testing.T) {
		dev, fake, _ := newTestDevice(t)
		test.That(t, dev.ChangeAddress(ctx, 0), test.ShouldNotBeNil)
		test.That(t, dev.ChangeAddress(ctx, 0x80), test.ShouldNotBeNil)
		test.That(t, fake.operations(), test.ShouldBeEmpty)
		test.That(t, dev.Address(), test.ShouldEqual, DefaultAddress)
	})

	t.Run("failed write keeps the old address", func(t *testing.T) {
		clk := clock.NewMock()
		fake := newFakeEzo(clk)
		dev, err := newDevice(fake, 0x10, clk, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)

		err = dev.ChangeAddress(ctx, 0x20)
		var busErr *BusError
		test.That(t, errors.As(err, &busErr), test.ShouldBeTrue)
		test.That(t, dev.Address(), test.ShouldEqual, byte(0x10))
	})

	t.Run("only traces at debug level", func(t *testing.T) {
		clk := clock.NewMock()
		logger, logs := logging.NewObservedTestLogger(t)
		logger.SetLevel(logging.INFO)
		dev, err := newDevice(newFakeEzo(clk), 0, clk, logger)
		test.That(t, err, test.ShouldBeNil)

		runWithClock(t, clk, func() { err = dev.ChangeAddress(ctx, 0x64) })
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dev.Address(), test.ShouldEqual, byte(0x64))
		test.That(t, logs.Len(), test.ShouldEqual, 0)
	})
}

func TestAddressDuringOperation(t *testing.T) {
	dev, fake, _ := newTestDevice(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- dev.Find(ctx, time.Minute) }()
	for len(fake.writes()) == 0 {
		time.Sleep(time.Millisecond)
	}

	// Find is still blinking and holds the device
	test.That(t, dev.Address(), test.ShouldEqual, DefaultAddress)
	select {
	case err := <-done:
		t.Fatalf("Find returned early: %v", err)
	default:
	}

	cancel()
	test.That(t, <-done, test.ShouldBeError, context.Canceled)
	test.That(t, fake.writes(), test.ShouldResemble, []string{"Find", "123"})
}

func TestFind(t *testing.T) {
	t.Run("blinks for the given duration", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		start := clk.Now()

		var err error
		runWithClock(t, clk, func() { err = dev.Find(context.Background(), 2*time.Second) })
		test.That(t, err, test.ShouldBeNil)

		ops := fake.operations()
		test.That(t, ops, test.ShouldHaveLength, 2)
		test.That(t, ops[0].write, test.ShouldEqual, "Find")
		test.That(t, ops[1].write, test.ShouldEqual, "123")
		test.That(t, ops[1].at.Sub(start), test.ShouldEqual, 2*time.Second)
	})

	t.Run("default duration", func(t *testing.T) {
		dev, fake, clk := newTestDevice(t)
		start := clk.Now()

		var err error
		runWithClock(t, clk, func() { err = dev.Find(context.Background(), 0) })
		test.That(t, err, test.ShouldBeNil)
		ops := fake.operations()
		test.That(t, ops, test.ShouldHaveLength, 2)
		test.That(t, ops[1].at.Sub(start), test.ShouldEqual, DefaultBlinkDuration)
	})

	t.Run("cancellation still stops the blinking", func(t *testing.T) {
		dev, fake, _ := newTestDevice(t)
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() { errCh <- dev.Find(ctx, time.Hour) }()
		for len(fake.writes()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()

		test.That(t, <-errCh, test.ShouldBeError, context.Canceled)
		test.That(t, fake.writes(), test.ShouldResemble, []string{"Find", "123"})
	})
}

func TestCancellation(t *testing.T) {
	dev, fake, _ := newTestDevice(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := dev.TakeReading(ctx)
		errCh <- err
	}()
	for len(fake.writes()) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	test.That(t, <-errCh, test.ShouldBeError, context.Canceled)
	test.That(t, fake.reads(), test.ShouldEqual, 0)

	// the device is usable again once the cancelled operation returns
	clk := dev.clk.(*clock.Mock)
	var ph float64
	var err error
	runWithClock(t, clk, func() { ph, err = dev.TakeReading(context.Background()) })
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ph, test.ShouldEqual, 9.56)
}

func TestConcurrentOperationsDoNotInterleave(t *testing.T) {
	dev, fake, clk := newTestDevice(t)
	ctx := context.Background()

	const rounds = 5
	var wg sync.WaitGroup
	var phErrs, tempErrs []error
	var mu sync.Mutex
	runWithClock(t, clk, func() {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				ph, err := dev.TakeReading(ctx)
				if err == nil && ph != 9.56 {
					err = errors.Errorf("unexpected ph %v", ph)
				}
				mu.Lock()
				phErrs = append(phErrs, err)
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				temp, err := dev.TemperatureCompensation(ctx)
				if err == nil && temp != 25 {
					err = errors.Errorf("unexpected temperature %v", temp)
				}
				mu.Lock()
				tempErrs = append(tempErrs, err)
				mu.Unlock()
			}
		}()
		wg.Wait()
	})

	test.That(t, phErrs, test.ShouldHaveLength, rounds)
	test.That(t, tempErrs, test.ShouldHaveLength, rounds)
	for _, err := range append(phErrs, tempErrs...) {
		test.That(t, err, test.ShouldBeNil)
	}

	// every write is immediately followed by the read that belongs to it
	ops := fake.operations()
	test.That(t, ops, test.ShouldHaveLength, 4*rounds)
	for i := 0; i < len(ops); i += 2 {
		test.That(t, ops[i].isRead(), test.ShouldBeFalse)
		test.That(t, ops[i+1].isRead(), test.ShouldBeTrue)
	}
}
