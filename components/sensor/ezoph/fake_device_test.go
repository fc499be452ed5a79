package ezoph

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/ezoph/components/board/genericlinux/buses"
)

// busOp is a single transaction seen by fakeEzo. write is empty for reads.
type busOp struct {
	addr  byte
	write string
	at    time.Time
}

func (op busOp) isRead() bool {
	return op.write == ""
}

// fakeEzo emulates an ezo-ph circuit answering on one address of a bus.
type fakeEzo struct {
	mu        sync.Mutex
	clk       clock.Clock
	addr      byte
	ph        string
	temp      string
	last      string
	scripted  [][]byte
	ops       []busOp
	openCount int
}

func newFakeEzo(clk clock.Clock) *fakeEzo {
	return &fakeEzo{clk: clk, addr: DefaultAddress, ph: "9.56", temp: "25.00"}
}

// script queues raw frames returned by the next reads, ahead of the emulated responses.
func (f *fakeEzo) script(frames ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted = append(f.scripted, frames...)
}

func (f *fakeEzo) operations() []busOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]busOp(nil), f.ops...)
}

func (f *fakeEzo) reads() int {
	count := 0
	for _, op := range f.operations() {
		if op.isRead() {
			count++
		}
	}
	return count
}

func (f *fakeEzo) writes() []string {
	var out []string
	for _, op := range f.operations() {
		if !op.isRead() {
			out = append(out, op.write)
		}
	}
	return out
}

func (f *fakeEzo) OpenHandle(addr byte) (buses.I2CHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCount++
	return &fakeHandle{dev: f, addr: addr}, nil
}

func (f *fakeEzo) write(ctx context.Context, addr byte, tx []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := string(tx)
	f.ops = append(f.ops, busOp{addr: addr, write: cmd, at: f.clk.Now()})
	if addr != f.addr {
		return errors.Errorf("no ack from address %d", addr)
	}
	f.last = cmd
	switch {
	case strings.HasPrefix(cmd, "T,") && cmd != cmdTemperatureQuery:
		f.temp = strings.TrimPrefix(cmd, "T,")
	case strings.HasPrefix(cmd, "I2C,"):
		next, err := strconv.Atoi(strings.TrimPrefix(cmd, "I2C,"))
		if err != nil {
			return err
		}
		f.addr = byte(next)
	}
	return nil
}

func (f *fakeEzo) read(ctx context.Context, addr byte, count int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, busOp{addr: addr, at: f.clk.Now()})
	if addr != f.addr {
		return nil, errors.Errorf("no ack from address %d", addr)
	}

	if len(f.scripted) > 0 {
		frame := f.scripted[0]
		f.scripted = f.scripted[1:]
		return frame, nil
	}

	frame := make([]byte, count)
	switch f.last {
	case cmdReading:
		frame[0] = byte(StatusSuccess)
		copy(frame[1:], f.ph)
	case cmdTemperatureQuery:
		frame[0] = byte(StatusSuccess)
		copy(frame[1:], temperatureQueryPrefix+f.temp)
	default:
		frame[0] = byte(StatusNoData)
	}
	return frame, nil
}

type fakeHandle struct {
	dev  *fakeEzo
	addr byte
}

func (h *fakeHandle) Write(ctx context.Context, tx []byte) error {
	return h.dev.write(ctx, h.addr, tx)
}

func (h *fakeHandle) Read(ctx context.Context, count int) ([]byte, error) {
	return h.dev.read(ctx, h.addr, count)
}

func (h *fakeHandle) Close() error {
	return nil
}

// frame builds a 16 byte response frame.
func frame(status Status, payload string) []byte {
	buf := make([]byte, responseLength)
	buf[0] = byte(status)
	copy(buf[1:], payload)
	return buf
}

// runWithClock runs fn while advancing clk through every timer it creates, and returns once fn
// is done.
func runWithClock(t *testing.T, clk *clock.Mock, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	for {
		select {
		case <-done:
			return
		default:
		}
		clk.WaitForAllTimers()
		time.Sleep(time.Millisecond)
	}
}
