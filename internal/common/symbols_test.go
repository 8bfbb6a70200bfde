package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeSymbols(t *testing.T) {
	assert.Equal(t, []string{"MSFT", "AAPL", "SPY"}, DedupeSymbols([]string{"MSFT", "", "AAPL", "MSFT", "SPY", "AAPL"}))
	assert.Empty(t, DedupeSymbols(nil))
}
