// Package retarget computes the proof-of-work target required at a given
// height: a damped moving average (Digishield) for most of the chain's
// life, Zawy's LWMA-3 after an activation height, and a hard floor around
// the Equihash epoch transition. It is deliberately decoupled from
// package chain (via the Source interface) so the chain's store can
// depend on the engine without the engine ever depending back on it.
package retarget

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/go-equihash/headerchain/chaincfg"
	"github.com/go-equihash/headerchain/header"
	"github.com/go-equihash/headerchain/target"
)

// Source is the minimal header lookup a chain must provide for retargets
// to be computed against it.
type Source interface {
	// Header returns the header at height, or (nil, nil) if the chain
	// has no header there yet (not an error by itself — the caller
	// turns that into ErrMissingHeader once the in-flight context has
	// also been consulted).
	Header(height int32) (*header.Header, error)
}

// ErrMissingHeader is returned when a height is required to compute a
// retarget but is present in neither the in-flight context nor the
// backing store.
type ErrMissingHeader struct {
	Height int32
}

func (e *ErrMissingHeader) Error() string {
	return fmt.Sprintf("missing header at height %d", e.Height)
}

func lookup(height int32, ctx *InFlight, src Source) (*header.Header, error) {
	if h, ok := ctx.get(height); ok {
		return h, nil
	}
	h, err := src.Header(height)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, &ErrMissingHeader{height}
	}
	return h, nil
}

// GetTarget returns the target required at height, choosing Digishield,
// LWMA-3, or one of the two fixed targets by height: MaxTarget up to
// PowAveragingWindow, MinTarget in the PowAveragingWindow heights ending
// at EHEpoch1End, LWMA-3 from LWMAForkBlock on, Digishield otherwise.
// ctx may be nil, which is equivalent to an empty InFlight.
func GetTarget(height int32, ctx *InFlight, src Source, params *chaincfg.Params) (*big.Int, error) {
	if ctx == nil {
		ctx = NewInFlight()
	}

	switch {
	case height <= chaincfg.PowAveragingWindow:
		return new(big.Int).Set(target.MaxTarget), nil

	case height > params.EHEpoch1End-chaincfg.PowAveragingWindow && height <= params.EHEpoch1End:
		log.Debugf("retarget: height %d in epoch-1 transition window, floor to MinTarget", height)
		return new(big.Int).Set(target.MinTarget), nil

	case height >= params.LWMAForkBlock:
		return lwma3(height, ctx, src)

	default:
		return digishield(height, ctx, src)
	}
}

func medianTime(height int32, ctx *InFlight, src Source) (uint32, error) {
	lo := height - chaincfg.PowMedianBlockSpan
	if lo < 0 {
		lo = 0
	}
	hi := height
	if hi < 1 {
		hi = 1
	}

	timestamps := make([]uint32, 0, hi-lo)
	for h := lo; h < hi; h++ {
		hdr, err := lookup(h, ctx, src)
		if err != nil {
			return 0, err
		}
		timestamps = append(timestamps, hdr.Timestamp)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return timestamps[len(timestamps)/2], nil
}

// digishield implements the damped moving-average retarget used below the
// LWMA-3 activation height.
func digishield(height int32, ctx *InFlight, src Source) (*big.Int, error) {
	const w = chaincfg.PowAveragingWindow
	windowTimespan := int64(w) * int64(chaincfg.PowTargetSpacing)

	lo := height - w
	if lo < 0 {
		lo = 0
	}
	hi := height
	if hi < 1 {
		hi = 1
	}

	meanTarget := new(big.Int)
	for h := lo; h < hi; h++ {
		hdr, err := lookup(h, ctx, src)
		if err != nil {
			return nil, err
		}
		t, err := target.BitsToTarget(hdr.Bits)
		if err != nil {
			return nil, err
		}
		meanTarget.Add(meanTarget, t)
	}
	meanTarget.Div(meanTarget, big.NewInt(w))

	recent, err := medianTime(height, ctx, src)
	if err != nil {
		return nil, err
	}
	older, err := medianTime(height-w, ctx, src)
	if err != nil {
		return nil, err
	}

	actual := int64(recent) - int64(older)
	actual = windowTimespan + (actual-windowTimespan)/chaincfg.PowDampingFactor

	minSpan := windowTimespan * (100 - chaincfg.PowMaxAdjustUp) / 100
	maxSpan := windowTimespan * (100 + chaincfg.PowMaxAdjustDown) / 100
	if actual < minSpan {
		actual = minSpan
	} else if actual > maxSpan {
		actual = maxSpan
	}

	next := new(big.Int).Div(meanTarget, big.NewInt(windowTimespan))
	next.Mul(next, big.NewInt(actual))
	if next.Cmp(target.MaxTarget) > 0 {
		next.Set(target.MaxTarget)
	}

	log.Debugf("digishield retarget at height %d: mean=%s actual=%ds next target %064x",
		height, meanTarget, actual, next)

	return next, nil
}

// lwma3 implements Zawy's linearly weighted moving average, variant 3.
//
// The per-term division before the final multiply (sumTarget accumulates
// target/(k*N) term by term, rather than dividing the sum once at the
// end) is a precision-losing step present in the original client; it is
// reproduced exactly because `bits` is derived from this value on the
// verify path and any rounding difference breaks conformance with
// existing chain data. See DESIGN.md.
func lwma3(height int32, ctx *InFlight, src Source) (*big.Int, error) {
	const n = chaincfg.ZawyLWMA3AveragingWindow
	const t = chaincfg.PowTargetSpacing

	if height < n {
		return new(big.Int).Set(target.MaxTarget), nil
	}

	k := int64(n) * int64(n+1) * int64(t) / 2
	kN := big.NewInt(k * n)

	first, err := lookup(height-n-1, ctx, src)
	if err != nil {
		return nil, err
	}
	prevTs := int64(first.Timestamp)

	var weightedSum int64
	sumTarget := new(big.Int)
	var prevDiff *big.Int

	for j := int64(1); j <= n; j++ {
		h := height - n - 1 + int32(j)
		hdr, err := lookup(h, ctx, src)
		if err != nil {
			return nil, err
		}

		thisTs := int64(hdr.Timestamp)
		if thisTs <= prevTs {
			thisTs = prevTs + 1
		}
		solvetime := thisTs - prevTs
		if maxSolve := int64(6 * t); solvetime > maxSolve {
			solvetime = maxSolve
		}
		weightedSum += solvetime * j

		bt, err := target.BitsToTarget(hdr.Bits)
		if err != nil {
			return nil, err
		}
		term := new(big.Int).Div(bt, kN)
		sumTarget.Add(sumTarget, term)

		prevTs = thisTs
		if h == height-1 {
			prevDiff = bt
		}
	}

	next := new(big.Int).Mul(big.NewInt(weightedSum), sumTarget)

	maxNext := new(big.Int).Mul(prevDiff, big.NewInt(150))
	maxNext.Div(maxNext, big.NewInt(100))
	minNext := new(big.Int).Mul(prevDiff, big.NewInt(67))
	minNext.Div(minNext, big.NewInt(100))

	if next.Cmp(maxNext) > 0 {
		next.Set(maxNext)
	}
	if next.Cmp(minNext) < 0 {
		next.Set(minNext)
	}
	if next.Cmp(target.MaxTarget) > 0 {
		next.Set(target.MaxTarget)
	}

	log.Debugf("lwma3 retarget at height %d: weightedSum=%d next target %064x", height, weightedSum, next)

	return next, nil
}
