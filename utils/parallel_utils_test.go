package utils

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionMap(t *testing.T) {
	{ // Test PartitionMap
		getHisto := func(K, Np int) (histo map[int]int) {
			pm := NewPartitionMap(Np, K)
			histo = make(map[int]int)
			for np := 0; np < pm.ParallelDegree; np++ {
				maxK := pm.GetBucketDimension(np)
				histo[maxK]++
			}
			return
		}
		getTotal := func(histo map[int]int) (total int) {
			for key, count := range histo {
				total += key * count
			}
			return
		}
		assert.Equal(t, map[int]int{0: 30, 1: 2}, getHisto(2, 32))
		assert.Equal(t, map[int]int{1: 32}, getHisto(32, 32))
		assert.Equal(t, map[int]int{8: 32}, getHisto(256, 32))
		assert.Equal(t, map[int]int{8: 1, 9: 31}, getHisto(287, 32))
		assert.Equal(t, 287, getTotal(getHisto(287, 32)))
		for n := 64; n < 2000; n++ {
			var (
				keys   [2]float64
				keyNum int
			)
			histo := getHisto(n, 32)
			for key := range histo {
				keys[keyNum] = float64(key)
				keyNum++
			}
			if keyNum == 2 {
				assert.Equal(t, 1., math.Abs(keys[0]-keys[1])) // Maximum imbalance of 1
			}
			assert.Equal(t, n, getTotal(histo))
		}
	}
	{ // Test inverted bucket probe - find bucket that contains index (efficiently)
		for maxIndex := 10; maxIndex < 500; maxIndex++ {
			pm := NewPartitionMap(5, maxIndex)
			for k := 0; k < maxIndex; k++ {
				tryCount, bn, min, max := pm.getBucketWithTryCount(k)
				mmin, mmax := pm.GetBucketRange(bn)
				assert.True(t, k >= min && k < max && min == mmin && max == mmax && tryCount <= 1)
				kl, _, bl := pm.GetLocalK(k)
				assert.Equal(t, k, pm.GetGlobalK(kl, bl))
			}
		}
	}
}

func TestMailBox(t *testing.T) {
	var (
		NP      = 4
		mb      = NewMailBox[int](NP)
		barrier = func(wg *sync.WaitGroup, f func(np int)) {
			for np := 0; np < NP; np++ {
				wg.Add(1)
				go func(np int) {
					f(np)
					wg.Done()
				}(np)
			}
			wg.Wait()
		}
		wg       = sync.WaitGroup{}
		received = make([][]int, NP)
	)
	{ // Test one round of all-to-all
		barrier(&wg, func(np int) {
			mb.PostMessageToAll(np, 100+np)
			mb.PostMessage(np, np, 200+np) // self delivery
			mb.DeliverMyMessages(np)
		})
		barrier(&wg, func(np int) {
			mb.ReceiveMyMessages(np)
			received[np] = append(received[np], mb.ReceiveMsgQs[np].Cells()...)
			mb.ClearMyMessages(np)
		})
		for np := 0; np < NP; np++ {
			assert.Equal(t, NP, len(received[np]))
			assert.Contains(t, received[np], 200+np)
			for k := 0; k < NP; k++ {
				if k != np {
					assert.Contains(t, received[np], 100+k)
				}
			}
		}
	}
	{ // Test that a second round only sees new messages
		barrier(&wg, func(np int) {
			mb.PostMessage(np, (np+1)%NP, np)
			mb.DeliverMyMessages(np)
		})
		barrier(&wg, func(np int) {
			mb.ReceiveMyMessages(np)
			received[np] = append([]int{}, mb.ReceiveMsgQs[np].Cells()...)
			mb.ClearMyMessages(np)
		})
		for np := 0; np < NP; np++ {
			assert.Equal(t, []int{(np + NP - 1) % NP}, received[np])
		}
	}
}

func TestExecPolicy(t *testing.T) {
	{ // Test every index is visited once under both policies
		for _, label := range []string{"serial", "goroutines"} {
			ep := NewExecPolicy(NewExecKind(label), 7)
			var (
				n      = 1001
				visits = make([]int32, n)
			)
			err := ep.ForEach(n, func(kMin, kMax int) error {
				for k := kMin; k < kMax; k++ {
					atomic.AddInt32(&visits[k], 1)
				}
				return nil
			})
			assert.NoError(t, err)
			for k := 0; k < n; k++ {
				assert.Equal(t, int32(1), visits[k])
			}
		}
	}
	{ // Test error propagation
		ep := NewExecPolicy(ExecGoroutines, 4)
		sentinel := errors.New("bad cell")
		err := ep.ForEach(100, func(kMin, kMax int) error {
			if kMin <= 60 && 60 < kMax {
				return sentinel
			}
			return nil
		})
		assert.ErrorIs(t, err, sentinel)
	}
	{ // Test unknown policy label
		assert.Panics(t, func() { NewExecKind("gpu") })
		assert.Equal(t, ExecGoroutines, NewExecKind(""))
	}
}
