package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := Data("INSUFFICIENT_DATA", errors.New("only 12 candles"))
	wrapped := fmt.Errorf("scan BTCUSDT 1h: %w", base)

	assert.Equal(t, KindNone, KindOf(nil))
	assert.Equal(t, KindData, KindOf(wrapped))
	assert.Equal(t, "INSUFFICIENT_DATA", CodeOf(wrapped))
	assert.Equal(t, KindSystem, KindOf(errors.New("boom")))
	assert.Equal(t, "INTERNAL", CodeOf(errors.New("boom")))
	assert.ErrorContains(t, wrapped, "only 12 candles")
}

func TestHintOf(t *testing.T) {
	err := &Error{K: KindValidation, C: "BELOW_MIN_QTY", Msg: "quantity too small", H: "use at least 0.001"}
	assert.Equal(t, "use at least 0.001", HintOf(fmt.Errorf("size: %w", err)))
	assert.Empty(t, HintOf(errors.New("plain")))
}
