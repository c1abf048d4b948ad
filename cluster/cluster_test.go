package cluster

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectives(t *testing.T) {
	{ // Test Allreduce over ints and floats
		var (
			NP   = 5
			sums = make([]int, NP)
			mins = make([]float64, NP)
			maxs = make([]int, NP)
		)
		err := Run(NP, func(c *Context) error {
			sums[c.Rank] = AllreduceScalar(c, OpSum, c.Rank+1)
			mins[c.Rank] = Allreduce(c, OpMin, []float64{float64(c.Rank) - 2.5})[0]
			maxs[c.Rank] = Allreduce(c, OpMax, []int{c.Rank, -c.Rank})[1]
			return nil
		})
		require.NoError(t, err)
		for r := 0; r < NP; r++ {
			assert.Equal(t, 15, sums[r])
			assert.Equal(t, -2.5, mins[r])
			assert.Equal(t, 0, maxs[r])
		}
	}
	{ // Test Bcast from a non-zero root
		var (
			NP  = 3
			got = make([]string, NP)
		)
		err := Run(NP, func(c *Context) error {
			msg := ""
			if c.Rank == 2 {
				msg = "table loaded"
			}
			got[c.Rank] = Bcast(c, 2, msg)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"table loaded", "table loaded", "table loaded"}, got)
	}
	{ // Test Single context collectives are identities
		c := Single()
		assert.Equal(t, 3.5, AllreduceScalar(c, OpSum, 3.5))
		assert.Equal(t, 7, Bcast(c, 0, 7))
		assert.True(t, c.IsRoot())
	}
}

func TestPointToPoint(t *testing.T) {
	var (
		NP   = 4
		recv = make([][]float64, NP)
	)
	err := Run(NP, func(c *Context) error {
		var (
			right = (c.Rank + 1) % NP
			left  = (c.Rank + NP - 1) % NP
		)
		buf := []float64{float64(c.Rank), float64(10 * c.Rank)}
		c.Post(right, 7, buf)
		buf[0] = -1 // Post copies
		c.Exchange()
		data, err := c.Receive(left, 7)
		if err != nil {
			return err
		}
		recv[c.Rank] = data
		if _, err = c.Receive(left, 7); err == nil {
			return errors.New("message received twice")
		}
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < NP; r++ {
		left := (r + NP - 1) % NP
		assert.Equal(t, []float64{float64(left), float64(10 * left)}, recv[r])
	}
}

func TestAbort(t *testing.T) {
	sentinel := errors.New("cannot open rate file")
	err := Run(4, func(c *Context) error {
		if c.Rank == 1 {
			return sentinel
		}
		c.Barrier() // the other ranks must not hang here
		return nil
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Error(t, Run(0, func(c *Context) error { return nil }))
}
