// Copyright 2024-2026 Aiku AI

package connector

import (
	"time"
)

// reconnectBackoff computes the delay before each reconnection attempt. The
// delay starts at base and doubles per attempt up to max. It is not safe for
// concurrent use; RelayConnector guards it with its mutex.
type reconnectBackoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int

	attempt int
}

func newReconnectBackoff(cfg ReconnectConfig) *reconnectBackoff {
	return &reconnectBackoff{
		base:        cfg.BaseDelay,
		max:         cfg.MaxDelay,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Next returns the delay for the next attempt. ok is false once maxAttempts
// consecutive attempts have been handed out.
func (b *reconnectBackoff) Next() (delay time.Duration, ok bool) {
	if b.maxAttempts > 0 && b.attempt >= b.maxAttempts {
		return 0, false
	}
	delay = b.base
	for i := 0; i < b.attempt && delay < b.max; i++ {
		if delay > b.max/2 {
			delay = b.max
			break
		}
		delay *= 2
	}
	if delay > b.max {
		delay = b.max
	}
	b.attempt++
	return delay, true
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *reconnectBackoff) Attempt() int {
	return b.attempt
}

func (b *reconnectBackoff) Reset() {
	b.attempt = 0
}
