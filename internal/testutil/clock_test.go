package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickingClockAdvancesPerCall(t *testing.T) {
	clock := TickingClock(DefaultBase, time.Second)

	first := clock()
	second := clock()

	assert.Equal(t, DefaultBase.Add(time.Second), first)
	assert.Equal(t, DefaultBase.Add(2*time.Second), second)
}

func TestSequentialIDsPadAndIncrement(t *testing.T) {
	gen := NewSequentialIDs("t")

	assert.Equal(t, "t-0001", gen.Generate())
	assert.Equal(t, "t-0002", gen.Generate())

	for i := 3; i <= 11; i++ {
		gen.Generate()
	}
	assert.Equal(t, "t-0012", gen.Generate())
}

func TestSequentialIDsWidenPastFourDigits(t *testing.T) {
	gen := NewSequentialIDs("t")
	gen.n = 9999

	assert.Equal(t, "t-10000", gen.Generate())
	assert.Equal(t, "t-10001", gen.Generate())
}
