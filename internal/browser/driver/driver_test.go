package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXPathLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", `'plain'`},
		{"it's", `"it's"`},
		{`say "hi"`, `'say "hi"'`},
		{`it's "x"`, `concat('it', "'", 's "x"')`},
		{"", `''`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, XPathLiteral(tt.in), "input %q", tt.in)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, errors.Is(ErrReadOnly, ErrInvalidElementState), "read-only is an invalid element state")
	assert.False(t, errors.Is(ErrInvalidElementState, ErrReadOnly))

	wrapped := fmt.Errorf("cdp: %w", ErrClickIntercepted)
	assert.True(t, IsRecoverableClickError(wrapped))
	assert.True(t, IsRecoverableClickError(ErrStaleElement))
	assert.True(t, IsRecoverableClickError(ErrNotInteractable))
	assert.False(t, IsRecoverableClickError(ErrSessionClosed))
	assert.False(t, IsRecoverableClickError(nil))
}
