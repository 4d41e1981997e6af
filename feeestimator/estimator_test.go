package feeestimator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func uniformBlock(n int, rate float64) []TxFee {
	txs := make([]TxFee, n)
	for i := range txs {
		txs[i] = TxFee{Bytes: 250, Fee: uint64(rate * 250)}
	}
	return txs
}

// Scenario: an estimator fed 1008 blocks of uniform 10 sat/vbyte
// transactions should answer estimate(6, basic) with a value in
// [9, 11] sat/vbyte.
func TestEstimateUniformFeeRate(t *testing.T) {
	e := New()
	block := uniformBlock(20, 10)
	for h := uint32(1); h <= HorizonLarge; h++ {
		e.Push(h, block)
	}

	got := e.Estimate(6, ModeBasic)
	require.NotEqual(t, NoEstimate, got)
	require.GreaterOrEqual(t, got, uint64(9))
	require.LessOrEqual(t, got, uint64(11))
}

// Invariant: push(B); pop(B) leaves every counter within a small
// tolerance of its pre-push value.
func TestPushPopIsInverse(t *testing.T) {
	e := New()
	// Seed some history so decay isn't operating on all-zero state.
	seed := uniformBlock(5, 3)
	for h := uint32(1); h <= 50; h++ {
		e.Push(h, seed)
	}

	before := snapshot(e)

	block := uniformBlock(8, 17)
	e.Push(51, block)
	e.Pop(51, block)

	after := snapshot(e)

	require.Equal(t, len(before), len(after))
	for i := range before {
		require.InDelta(t, before[i], after[i], 1e-9)
	}
	require.Equal(t, uint32(50), e.TopHeight())
}

// snapshot flattens every counter in the estimator for comparison.
func snapshot(e *Estimator) []float64 {
	var out []float64
	for ri := range e.rows {
		row := &e.rows[ri]
		for bi := range row.buckets {
			b := &row.buckets[bi]
			out = append(out, loadF(&b.total))
			for ai := range b.confirmed {
				out = append(out, loadF(&b.confirmed[ai]))
			}
		}
	}
	return out
}

func TestBinOfClampsRange(t *testing.T) {
	require.Equal(t, 0, binOf(0))
	require.Equal(t, 0, binOf(minRate))
	require.Equal(t, BucketCount-1, binOf(1e12))
}

func TestEstimateAtOrBeyondLargeHorizonIsUnavailable(t *testing.T) {
	e := New()
	require.Equal(t, NoEstimate, e.Estimate(HorizonLarge, ModeBasic))
}

func TestEstimateZeroTargetMatchesOne(t *testing.T) {
	e := New()
	block := uniformBlock(20, 5)
	for h := uint32(1); h <= HorizonSmall; h++ {
		e.Push(h, block)
	}

	require.Equal(t, e.Estimate(1, ModeBasic), e.Estimate(0, ModeBasic))
}

func TestEmptyEstimatorHasNoEstimate(t *testing.T) {
	e := New()
	require.Equal(t, NoEstimate, e.Estimate(6, ModeBasic))
	require.Equal(t, NoEstimate, e.Estimate(6, ModeEconomical))
	require.Equal(t, NoEstimate, e.Estimate(6, ModeConservative))
}

// Initialize should call source with start=top (the facade's
// backward-from-tip convention) and leave TopHeight at top after
// replaying oldest-first.
func TestInitializeReplaysRequestedWindow(t *testing.T) {
	e := New()
	block := uniformBlock(10, 10)

	var gotStart, gotCount uint32
	source := func(cancel <-chan struct{}, start, count uint32) ([]FeeSet, bool) {
		gotStart, gotCount = start, count
		sets := make([]FeeSet, count)
		for i := uint32(0); i < count; i++ {
			// Oldest-first, as Initialize expects from source.
			sets[i] = FeeSet{Height: start - count + 1 + i, Rates: block}
		}
		return sets, true
	}

	ok := e.Initialize(nil, source, 2000, HorizonLarge)
	require.True(t, ok)
	require.Equal(t, uint32(2000), gotStart)
	require.Equal(t, uint32(HorizonLarge), gotCount)
	require.Equal(t, uint32(2000), e.TopHeight())

	got := e.Estimate(6, ModeBasic)
	require.NotEqual(t, NoEstimate, got)
}

// A source that reports failure (as it does when cancel fires before
// the fetch completes) makes Initialize return false and leaves the
// estimator untouched.
func TestInitializeCancelDiscardsPartialState(t *testing.T) {
	e := New()
	before := snapshot(e)

	source := func(cancel <-chan struct{}, start, count uint32) ([]FeeSet, bool) {
		return nil, false
	}

	ok := e.Initialize(nil, source, 100, HorizonSmall)
	require.False(t, ok)
	require.Equal(t, before, snapshot(e))
	require.Equal(t, uint32(0), e.TopHeight())
}
