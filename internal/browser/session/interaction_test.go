package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/memdriver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/wait"
)

func TestClick(t *testing.T) {
	tests := []struct {
		name  string
		xpath string
		want  []memdriver.ClickRecord
		errIs error
	}{
		{
			name:  "native click",
			xpath: "//button[@id='save']",
			want:  []memdriver.ClickRecord{{Target: "save", Native: true}},
		},
		{
			name:  "intercepted click falls back to script",
			xpath: "//button[@id='covered']",
			want:  []memdriver.ClickRecord{{Target: "covered", Native: false}},
		},
		{
			name:  "stale click falls back to script on the same node",
			xpath: "//button[@id='flaky']",
			want:  []memdriver.ClickRecord{{Target: "flaky", Native: false}},
		},
		{
			name:  "disabled button never becomes clickable",
			xpath: "//button[@id='off']",
			errIs: ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.session.SetTimeout(50 * time.Millisecond)

			err := f.session.Click(f.ctx, tt.xpath)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
				assert.Empty(t, f.browser.Clicks())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.browser.Clicks())
		})
	}
}

func TestClickSelectsOption(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Click(f.ctx, "//select[@id='city']/option[@value='rj']"))
	v, err := f.browser.ValueAt("//select[@id='city']")
	require.NoError(t, err)
	assert.Equal(t, "rj", v)
}

func TestTypeText(t *testing.T) {
	t.Run("plain typing", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.TypeText(f.ctx, "//input[@id='name']", "Ada", TypeOptions{Verify: true}))
		v, err := f.browser.ValueAt("//input[@id='name']")
		require.NoError(t, err)
		assert.Equal(t, "Ada", v)
	})

	t.Run("clear replaces existing value", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.browser.SetAttribute("//input[@id='name']", "value", "old"))
		require.NoError(t, f.session.TypeText(f.ctx, "//input[@id='name']", "new", TypeOptions{Clear: true, Verify: true}))
		v, _ := f.browser.ValueAt("//input[@id='name']")
		assert.Equal(t, "new", v)
	})

	t.Run("human paced typing", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.TypeText(f.ctx, "//input[@id='name']", "São", TypeOptions{HumanPaced: true, Verify: true}))
		v, _ := f.browser.ValueAt("//input[@id='name']")
		assert.Equal(t, "São", v)
	})

	t.Run("read-only field is unlocked", func(t *testing.T) {
		f := newFixture(t)
		start := time.Now()
		require.NoError(t, f.session.TypeText(f.ctx, "//input[@id='locked']", "Grace", TypeOptions{Verify: true}))
		assert.Less(t, time.Since(start), 50*time.Millisecond, "recovery does not spend the retry interval")

		v, _ := f.browser.ValueAt("//input[@id='locked']")
		assert.Equal(t, "Grace", v)
		found, err := f.session.Probe(f.ctx, "//input[@id='locked' and @readonly]", wait.Presence, 20*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, found, "the readonly attribute was removed")
	})

	t.Run("truncating field fails verification within budget", func(t *testing.T) {
		f := newFixture(t)
		budget := 200 * time.Millisecond
		start := time.Now()
		err := f.session.TypeText(f.ctx, "//input[@id='zip']", "1234567", TypeOptions{Clear: true, Verify: true, Timeout: budget})
		elapsed := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Contains(t, err.Error(), `"12345"`)
		assert.Less(t, elapsed, budget+150*time.Millisecond)
	})

	t.Run("without verify the truncation goes unnoticed", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.TypeText(f.ctx, "//input[@id='zip']", "1234567", TypeOptions{}))
	})

	t.Run("ignored keystrokes are retried then time out", func(t *testing.T) {
		f := newFixture(t)
		err := f.session.TypeText(f.ctx, "//input[@id='deaf']", "x", TypeOptions{Verify: true, Timeout: 120 * time.Millisecond})
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("missing field times out with not found cause", func(t *testing.T) {
		f := newFixture(t)
		err := f.session.TypeText(f.ctx, "//input[@id='ghost']", "x", TypeOptions{Timeout: 100 * time.Millisecond})
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("canceled context wins over retries", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithTimeout(f.ctx, 30*time.Millisecond)
		defer cancel()
		err := f.session.TypeText(ctx, "//input[@id='deaf']", "x", TypeOptions{Verify: true, Timeout: time.Second})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, ErrTimeout)
	})
}

func TestSelectOption(t *testing.T) {
	t.Run("exact text with verification", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.session.SelectOption(f.ctx, "//select[@id='city']", "Rio de Janeiro", SelectOptions{Verify: true}))
		v, _ := f.browser.ValueAt("//select[@id='city']")
		assert.Equal(t, "rj", v)
	})

	t.Run("unknown option exhausts the budget", func(t *testing.T) {
		f := newFixture(t)
		err := f.session.SelectOption(f.ctx, "//select[@id='city']", "Recife", SelectOptions{Timeout: 120 * time.Millisecond})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, driver.ErrNoSuchOption)
	})
}

func TestSelectOptionBySimilarity(t *testing.T) {
	tests := []struct {
		query string
		want  string
		value string
	}{
		{"sao paulo", "São Paulo", "sp"},
		{"SÃO PAULO", "São Paulo", "sp"},
		{"rio janeiro", "Rio de Janeiro", "rj"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f := newFixture(t)
			got, err := f.session.SelectOptionBySimilarity(f.ctx, "//select[@id='city']", tt.query, SimilarityOptions{Verify: true})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			v, _ := f.browser.ValueAt("//select[@id='city']")
			assert.Equal(t, tt.value, v)
		})
	}

	t.Run("nothing similar", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.session.SelectOptionBySimilarity(f.ctx, "//select[@id='city']", "xyz", SimilarityOptions{})
		assert.ErrorIs(t, err, ErrNotFound)
		v, _ := f.browser.ValueAt("//select[@id='city']")
		assert.Equal(t, "", v, "the selection is untouched")
	})

	t.Run("custom cutoff", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.session.SelectOptionBySimilarity(f.ctx, "//select[@id='city']", "sao paulo", SimilarityOptions{Cutoff: 0.95})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("timeout bounds reading the options", func(t *testing.T) {
		f := newFixture(t)
		start := time.Now()
		_, err := f.session.SelectOptionBySimilarity(f.ctx, "//select[@id='missing']", "sao paulo", SimilarityOptions{Timeout: 30 * time.Millisecond})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Less(t, time.Since(start), 250*time.Millisecond, "the shorter caller timeout wins")
	})

	t.Run("timeout outlasts the text budget", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.browser.SetAttribute("//select[@id='city']", "style", "display:none"))
		revealed := make(chan struct{})
		time.AfterFunc(450*time.Millisecond, func() {
			defer close(revealed)
			_ = f.browser.SetAttribute("//select[@id='city']", "style", "")
		})
		t.Cleanup(func() { <-revealed })

		got, err := f.session.SelectOptionBySimilarity(f.ctx, "//select[@id='city']", "rio janeiro", SimilarityOptions{Timeout: 2 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, "Rio de Janeiro", got)
	})
}
