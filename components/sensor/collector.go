package sensor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/ezoph/logging"
	"go.viam.com/ezoph/utils"
)

// CaptureFunc receives the result of one poll of a sensor. ctx is done once the collector is
// closed, so a capture that blocks should select on it.
type CaptureFunc func(ctx context.Context, at time.Time, readings map[string]interface{}, err error)

// A Collector polls the readings of a sensor at a fixed interval until it is closed.
type Collector struct {
	workers utils.StoppableWorkers
}

// NewCollector starts polling s every interval. Failed polls are logged and passed to capture
// like any other.
func NewCollector(
	s Sensor,
	interval time.Duration,
	clk clock.Clock,
	capture CaptureFunc,
	logger logging.Logger,
) (*Collector, error) {
	if interval <= 0 {
		return nil, errors.Errorf("invalid collection interval %s", interval)
	}
	if capture == nil {
		return nil, errors.New("collector requires a capture func")
	}

	ticker := clk.Ticker(interval)
	workers := utils.NewStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				readings, err := s.Readings(ctx, nil)
				if err != nil && ctx.Err() == nil {
					logger.Warnw("failed to collect readings", "sensor", s.Name(), "error", err)
				}
				capture(ctx, at, readings, err)
			}
		}
	})
	return &Collector{workers: workers}, nil
}

// Close stops polling and waits for an in-flight poll to finish.
func (c *Collector) Close() {
	c.workers.Stop()
}
