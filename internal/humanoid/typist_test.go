package humanoid

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	keys   []string
	failAt int
}

func (r *recorder) SendKeys(ctx context.Context, text string) error {
	if r.failAt > 0 && len(r.keys)+1 == r.failAt {
		return errors.New("element detached")
	}
	r.keys = append(r.keys, text)
	return nil
}

func TestDelayStaysInRange(t *testing.T) {
	typist := NewTypist(Config{MinDelay: 30 * time.Millisecond, MaxDelay: 90 * time.Millisecond, Rng: rand.New(rand.NewSource(7))})
	for i := 0; i < 500; i++ {
		d := typist.Delay()
		require.GreaterOrEqual(t, d, 30*time.Millisecond)
		require.LessOrEqual(t, d, 90*time.Millisecond)
	}
}

func TestDelayIsDeterministicWithSeed(t *testing.T) {
	a := NewTypist(Config{MinDelay: time.Millisecond, MaxDelay: time.Second, Rng: rand.New(rand.NewSource(42))})
	b := NewTypist(Config{MinDelay: time.Millisecond, MaxDelay: time.Second, Rng: rand.New(rand.NewSource(42))})
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Delay(), b.Delay())
	}
}

func TestRangeNormalization(t *testing.T) {
	fixed := NewTypist(Config{MinDelay: 5 * time.Millisecond, MaxDelay: 5 * time.Millisecond})
	assert.Equal(t, 5*time.Millisecond, fixed.Delay())

	inverted := NewTypist(Config{MinDelay: 20 * time.Millisecond, MaxDelay: 10 * time.Millisecond})
	d := inverted.Delay()
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.LessOrEqual(t, d, 20*time.Millisecond)
}

func TestTypeSendsRuneByRune(t *testing.T) {
	defer goleak.VerifyNone(t)

	typist := NewTypist(Config{})
	var slept []time.Duration
	typist.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	rec := &recorder{}
	require.NoError(t, typist.Type(context.Background(), rec, "São 1"))
	assert.Equal(t, []string{"S", "ã", "o", " ", "1"}, rec.keys)
	assert.Len(t, slept, 5, "one pause per keystroke")
}

func TestTypeStopsOnFailure(t *testing.T) {
	typist := NewTypist(Config{})
	rec := &recorder{failAt: 3}

	err := typist.Type(context.Background(), rec, "abcdef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send key 2")
	assert.Equal(t, []string{"a", "b"}, rec.keys)
}

func TestTypeHonoursCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	typist := NewTypist(Config{MinDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rec := &recorder{}
	start := time.Now()
	err := typist.Type(ctx, rec, "abc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, rec.keys)
	assert.Less(t, time.Since(start), time.Second)
}
