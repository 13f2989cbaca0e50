package wait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/memdriver"
)

const listPage = `<html><body>
  <ul>
    <li class="item">one</li>
    <li class="item" hidden>two</li>
    <li class="item">three</li>
  </ul>
  <button id="go" disabled>Go</button>
  <input id="agree" type="checkbox" checked>
  <p id="late" style="display:none">later</p>
</body></html>`

func newPage(t *testing.T) (*memdriver.Browser, context.Context) {
	t.Helper()
	b := memdriver.New(memdriver.WithPage("https://list.test/", listPage))
	ctx := context.Background()
	require.NoError(t, b.Navigate(ctx, "https://list.test/", true))
	return b, ctx
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name string
		want Condition
		ok   bool
	}{
		{"presence", Presence, true},
		{"visible", Visible, true},
		{"visible-any", VisibleAny, true},
		{"visible_any", VisibleAny, true},
		{"VISIBLE-ALL", VisibleAll, true},
		{"clickable", Clickable, true},
		{" selected ", Selected, true},
		{"all-located", AllLocated, true},
		{"located_all", AllLocated, true},
		{"hovering", Presence, false},
		{"", Presence, false},
	}
	for _, tt := range tests {
		got, ok := ParseCondition(tt.name)
		assert.Equal(t, tt.want, got, "name %q", tt.name)
		assert.Equal(t, tt.ok, ok, "name %q", tt.name)
	}

	assert.Equal(t, "visible-any", VisibleAny.String())
	assert.Equal(t, "unknown", Condition(99).String())
	assert.True(t, AllLocated.Many())
	assert.False(t, Clickable.Many())
}

func TestPredicates(t *testing.T) {
	b, ctx := newPage(t)

	tests := []struct {
		name  string
		cond  Condition
		xpath string
		ok    bool
		count int
	}{
		{"presence finds the first", Presence, `//li`, true, 1},
		{"presence misses", Presence, `//table`, false, 0},
		{"visible first item", Visible, `//li`, true, 1},
		{"visible hidden item", Visible, `//li[2]`, false, 0},
		{"visible-any filters hidden", VisibleAny, `//li`, true, 2},
		{"visible-all rejects a hidden member", VisibleAll, `//li`, false, 0},
		{"visible-all accepts all shown", VisibleAll, `//li[not(@hidden)]`, true, 2},
		{"clickable rejects disabled", Clickable, `//*[@id="go"]`, false, 0},
		{"selected checkbox", Selected, `//*[@id="agree"]`, true, 1},
		{"all-located yields every match", AllLocated, `//li`, true, 3},
		{"all-located on nothing", AllLocated, `//table`, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			els, ok, err := PredicateFor(tt.cond)(ctx, b, tt.xpath)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Len(t, els, tt.count)
		})
	}

	t.Run("out of range condition uses presence", func(t *testing.T) {
		els, ok, err := PredicateFor(Condition(42))(ctx, b, `//li`)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Len(t, els, 1)
	})
}

// staleFinder returns an element that is already detached.
type staleFinder struct{ el driver.Element }

func (s staleFinder) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	return []driver.Element{s.el}, nil
}

func TestPredicateTreatsStaleAsNotYet(t *testing.T) {
	b, ctx := newPage(t)
	els, err := b.FindElements(ctx, `//li[1]`)
	require.NoError(t, err)
	require.NoError(t, b.Detach(`//li[1]`))

	got, ok, err := PredicateFor(Visible)(ctx, staleFinder{els[0]}, "ignored")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestWaiterUntil(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("returns immediately when already satisfied", func(t *testing.T) {
		b, ctx := newPage(t)
		w := NewWaiter(50*time.Millisecond, nil)

		start := time.Now()
		els, err := w.Until(ctx, b, `//li`, AllLocated, time.Second)
		require.NoError(t, err)
		assert.Len(t, els, 3)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("waits for an asynchronous change", func(t *testing.T) {
		b, ctx := newPage(t)
		w := NewWaiter(20*time.Millisecond, nil)

		timer := time.AfterFunc(100*time.Millisecond, func() {
			_ = b.RemoveAttributeAt(`//*[@id="late"]`, "style")
		})
		defer timer.Stop()

		els, err := w.Until(ctx, b, `//*[@id="late"]`, Visible, 2*time.Second)
		require.NoError(t, err)
		require.Len(t, els, 1)
		text, err := els[0].Text(ctx)
		require.NoError(t, err)
		assert.Equal(t, "later", text)
	})

	t.Run("times out within one interval of the deadline", func(t *testing.T) {
		b, ctx := newPage(t)
		interval := 25 * time.Millisecond
		timeout := 200 * time.Millisecond
		w := NewWaiter(interval, nil)

		start := time.Now()
		_, err := w.Until(ctx, b, `//table`, Presence, timeout)
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConditionTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.LessOrEqual(t, elapsed, timeout+interval+50*time.Millisecond)
		assert.GreaterOrEqual(t, elapsed, timeout-interval)
	})

	t.Run("zero timeout still checks once", func(t *testing.T) {
		b, ctx := newPage(t)
		w := NewWaiter(time.Second, nil)

		els, err := w.Until(ctx, b, `//li`, Presence, 0)
		require.NoError(t, err)
		assert.Len(t, els, 1)

		_, err = w.Until(ctx, b, `//table`, Presence, 0)
		assert.ErrorIs(t, err, ErrConditionTimeout)
	})

	t.Run("parent cancellation wins over timeout", func(t *testing.T) {
		b, _ := newPage(t)
		w := NewWaiter(10*time.Millisecond, nil)
		ctx, cancel := context.WithCancel(context.Background())
		timer := time.AfterFunc(50*time.Millisecond, cancel)
		defer timer.Stop()

		_, err := w.Until(ctx, b, `//table`, Presence, 5*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, errors.Is(err, ErrConditionTimeout))
	})

	t.Run("driver failures end the wait", func(t *testing.T) {
		b, ctx := newPage(t)
		require.NoError(t, b.Quit(ctx))
		w := NewWaiter(10*time.Millisecond, nil)

		start := time.Now()
		_, err := w.Until(ctx, b, `//li`, Presence, 5*time.Second)
		assert.ErrorIs(t, err, driver.ErrSessionClosed)
		assert.Less(t, time.Since(start), time.Second)
	})
}
