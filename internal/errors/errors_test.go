package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeErrorMatchesKindSentinel(t *testing.T) {
	cause := fmt.Errorf("dial tcp: timeout")
	err := NewExpiryFetch("NIFTY", cause)

	assert.True(t, stderrors.Is(err, ErrExpiryFetch))
	assert.False(t, stderrors.Is(err, ErrPriceUnavailable))
	assert.True(t, stderrors.Is(err, cause))
}

func TestTradeErrorSurvivesWrapping(t *testing.T) {
	err := Wrap(NewUnknownIndex("FINNIFTY"), "resolve symbol")

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindUnknownIndex, kind)
	assert.True(t, Is(err, ErrUnknownIndex))

	var te *TradeError
	require.True(t, As(err, &te))
	assert.Equal(t, "Use NIFTY or BANKNIFTY", te.Suggestion)
}

func TestTradeErrorMessage(t *testing.T) {
	err := NewInvalidDirection("SIDEWAYS")
	assert.Equal(t, `INVALID_DIRECTION: Invalid direction "SIDEWAYS"`, err.Error())

	wrapped := NewPriceUnavailable("BANKNIFTY", fmt.Errorf("quote empty"))
	assert.Contains(t, wrapped.Error(), "quote empty")
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(fmt.Errorf("plain"))
	assert.False(t, ok)
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestValidationErrorIsConfigInvalid(t *testing.T) {
	err := NewValidationError("server.addr", "", "must not be empty")
	assert.True(t, stderrors.Is(err, ErrConfigInvalid))
}
