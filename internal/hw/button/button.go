package button

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/SnapGo/internal/debug"
	"github.com/cjeanneret/SnapGo/internal/hw/gpio"
)

// Config holds the wiring of a push button.
type Config struct {
	Pin          int           // BCM pin, button wired to ground (active LOW)
	Debounce     time.Duration // level must stay stable this long to count
	PollInterval time.Duration // sampling period; defaults to 10ms
}

// Button polls an active-low push button and calls onPress once per press.
type Button struct {
	gpio    gpio.Driver
	cfg     Config
	onPress func()
}

// NewButton configures the pin as a pulled-up input.
func NewButton(g gpio.Driver, cfg Config, onPress func()) (*Button, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if err := g.SetupInput(cfg.Pin, gpio.PullUp); err != nil {
		return nil, fmt.Errorf("setup button pin %d: %w", cfg.Pin, err)
	}
	return &Button{gpio: g, cfg: cfg, onPress: onPress}, nil
}

// Run samples the pin until ctx is done. A press is a falling edge that
// stays low for at least Debounce; holding the button fires only once.
func (b *Button) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	stable, last := gpio.High, gpio.High
	changedAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		level, err := b.gpio.ReadPin(b.cfg.Pin)
		if err != nil {
			return fmt.Errorf("read button pin %d: %w", b.cfg.Pin, err)
		}
		now := time.Now()
		if level != last {
			last, changedAt = level, now
			continue
		}
		if level == stable || now.Sub(changedAt) < b.cfg.Debounce {
			continue
		}

		stable = level
		debug.GPIO("Button", b.cfg.Pin, stable)
		if stable == gpio.Low {
			debug.Info("Shutter button pressed")
			b.onPress()
		}
	}
}
