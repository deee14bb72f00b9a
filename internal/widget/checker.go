package widget

import (
	"context"
	"time"
)

// Checker runs Machine.CheckExpiry on a fixed interval.
type Checker struct {
	machine  *Machine
	interval time.Duration
	onExpire func()
}

func NewChecker(machine *Machine, interval time.Duration, onExpire func()) *Checker {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Checker{machine: machine, interval: interval, onExpire: onExpire}
}

// Run blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.machine.CheckExpiry() && c.onExpire != nil {
				c.onExpire()
			}
		}
	}
}
