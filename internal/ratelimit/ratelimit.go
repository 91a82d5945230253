// Package ratelimit throttles transaction submissions per address with a
// sliding window log.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/wx-shi/utxo-ledger/internal/model"
)

// LimitError reports a rejected submission and when the address may retry.
type LimitError struct {
	Address    model.Address
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s may retry in %s", model.ErrRateLimitExceeded, e.Address, e.RetryAfter)
}

func (e *LimitError) Unwrap() error {
	return model.ErrRateLimitExceeded
}

// window holds the admission times still inside the window, oldest first.
// A dead window has been removed from the limiter and must not record.
type window struct {
	mu     sync.Mutex
	stamps []time.Time
	dead   bool
}

// purge drops stamps at least size old and returns how many remain.
func (w *window) purge(now time.Time, size time.Duration) int {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= size {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
	return len(w.stamps)
}

// Limiter admits at most max submissions per address in any span of size.
type Limiter struct {
	max   int
	size  time.Duration
	clock clock.Clock

	mu      sync.Mutex
	windows map[model.Address]*window
}

// New returns a limiter. max <= 0 disables limiting.
func New(max int, size time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		max:     max,
		size:    size,
		clock:   clk,
		windows: make(map[model.Address]*window),
	}
}

func (l *Limiter) window(address model.Address) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[address]
	if !ok {
		w = &window{}
		l.windows[address] = w
	}
	return w
}

// Allow records a submission for address, or returns a *LimitError when the
// window is already full.
func (l *Limiter) Allow(address model.Address) error {
	if l.max <= 0 {
		return nil
	}
	for {
		if live, err := l.admit(l.window(address), address); live {
			return err
		}
	}
}

// admit runs the check-then-record step on w. live is false when w was
// dropped after it was looked up, in which case nothing is recorded.
func (l *Limiter) admit(w *window, address model.Address) (live bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return false, nil
	}

	now := l.clock.Now()
	if w.purge(now, l.size) >= l.max {
		return true, &LimitError{
			Address:    address,
			RetryAfter: l.size - now.Sub(w.stamps[0]),
		}
	}
	w.stamps = append(w.stamps, now)
	return true, nil
}

// Forget drops the window of address.
func (l *Limiter) Forget(address model.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[address]; ok {
		w.mu.Lock()
		w.dead = true
		w.mu.Unlock()
		delete(l.windows, address)
	}
}

// Prune drops windows with nothing left inside them and returns how many
// addresses are still tracked.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for addr, w := range l.windows {
		w.mu.Lock()
		if w.purge(now, l.size) == 0 {
			w.dead = true
			delete(l.windows, addr)
		}
		w.mu.Unlock()
	}
	return len(l.windows)
}

// Tracked returns how many addresses currently hold a window.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run prunes idle windows once per window size until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	if l.max <= 0 || l.size <= 0 {
		return
	}
	ticker := l.clock.Ticker(l.size)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Prune()
			}
		}
	}()
}
