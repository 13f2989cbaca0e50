// Package humanoid paces keyboard input the way a person types.
package humanoid

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// KeySender is anything that accepts keystrokes, typically a driver.Element.
type KeySender interface {
	SendKeys(ctx context.Context, text string) error
}

// Config bounds the pause between keystrokes. Each pause is drawn uniformly
// from [MinDelay, MaxDelay].
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// Rng makes pacing deterministic in tests. A time-seeded source is used when nil.
	Rng *rand.Rand
}

// Typist sends text one rune at a time with randomized pauses.
type Typist struct {
	mu    sync.Mutex
	rng   *rand.Rand
	min   time.Duration
	max   time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTypist creates a Typist. An inverted range is normalized by swapping the bounds.
func NewTypist(cfg Config) *Typist {
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	lo, hi := cfg.MinDelay, cfg.MaxDelay
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		lo, hi = hi, lo
		if lo < 0 {
			lo = 0
		}
	}
	return &Typist{rng: rng, min: lo, max: hi, sleep: pause}
}

// Delay draws one inter-keystroke pause.
func (t *Typist) Delay() time.Duration {
	if t.max <= t.min {
		return t.min
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.min + time.Duration(t.rng.Int63n(int64(t.max-t.min)+1))
}

// Type sends text to k rune by rune, pausing before every keystroke.
// It stops at the first failed keystroke or when ctx ends.
func (t *Typist) Type(ctx context.Context, k KeySender, text string) error {
	for i, r := range []rune(text) {
		if err := t.sleep(ctx, t.Delay()); err != nil {
			return err
		}
		if err := k.SendKeys(ctx, string(r)); err != nil {
			return fmt.Errorf("humanoid: failed to send key %d (%q): %w", i, r, err)
		}
	}
	return nil
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
