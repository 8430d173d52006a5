package hal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStop is returned by a step function to end RunHeadless cleanly.
var ErrStop = errors.New("stop")

// HeadlessConfig controls the host runner.
type HeadlessConfig struct {
	Hz    int
	Ticks uint64
}

// RunHeadless drives the host clock and calls step once per tick. It stops
// when step fails or returns ErrStop, or once the tick budget runs out.
func RunHeadless(ctx context.Context, h Host, step func() error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 1000
	}

	hh, ok := h.(*hostHAL)
	if !ok {
		return fmt.Errorf("headless: unsupported HAL %T", h)
	}

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			hh.t.advance(1)
			if step != nil {
				if err := step(); err != nil {
					if errors.Is(err, ErrStop) {
						return nil
					}
					return err
				}
			}
			tick++
			if cfg.Ticks > 0 && tick >= cfg.Ticks {
				return nil
			}
		}
	}
}
