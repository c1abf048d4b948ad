package utils

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystem(t *testing.T) {
	{ // Test NaN and Inf detection
		assert.Equal(t, 1, FirstNonFinite([]float64{0, math.NaN()}))
		assert.Equal(t, 2, FirstNonFinite([]float64{0, 1, math.Inf(1)}))
		assert.Equal(t, -1, FirstNonFinite([]float64{0, 1}))
	}
	{ // Test instruction counting always runs the body
		var calls int
		_, _, err := CountInstructions(func() error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
		sentinel := errors.New("fail")
		_, _, err = CountInstructions(func() error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
	}
	assert.Contains(t, GetMemUsage(), "MiB")
}
