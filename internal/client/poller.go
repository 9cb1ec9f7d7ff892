package client

import (
	"context"
	"time"
)

// Connectivity is anything that can report whether it is connected.
type Connectivity interface {
	Connected() bool
}

// StatusPoller samples a session's connection state at a fixed interval and
// reports transitions. Polling is enough for "connected" indicators, which
// only need to be roughly current.
type StatusPoller struct {
	source   Connectivity
	interval time.Duration
	onChange func(connected bool)
}

// NewStatusPoller builds a poller. A non-positive interval means one second.
func NewStatusPoller(source Connectivity, interval time.Duration, onChange func(connected bool)) *StatusPoller {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusPoller{source: source, interval: interval, onChange: onChange}
}

// Run reports the initial state, then every change, until ctx is done.
func (p *StatusPoller) Run(ctx context.Context) {
	last := p.source.Connected()
	p.onChange(last)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if now := p.source.Connected(); now != last {
				last = now
				p.onChange(now)
			}
		}
	}
}
