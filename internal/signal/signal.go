// Package signal derives the statistical inputs the engine trades on: a
// mean-reversion z-score, an ATR volatility estimate, and a trend filter.
package signal

import (
	"errors"
	"math"

	"github.com/Qatanajs/Algo-Trading-Production/internal/market"
)

// Signal is one cycle's statistical view of the instrument. It is recomputed
// every cycle and never persisted.
type Signal struct {
	ZScore   float64
	ATR      float64
	Trending bool
}

var (
	// ErrInsufficientData means the bar sequence is shorter than the
	// configured windows require. The cycle is skipped, nothing else.
	ErrInsufficientData = errors.New("signal: not enough bars for configured windows")
	// ErrFlatSeries means the lookback window has zero variance, so the
	// z-score is undefined.
	ErrFlatSeries = errors.New("signal: zero stddev over lookback window")
)

// Engine computes Signals from ordered bar sequences. Compute is deterministic
// and has no side effects.
type Engine struct {
	Lookback       int     // closes in the z-score window
	TrendWindow    int     // closes in the long moving average
	ATRPeriod      int     // bars in the true-range rolling mean
	TrendThreshold float64 // fractional distance from the MA that counts as trending
}

// MinBars returns the shortest bar sequence Compute accepts. The ATR needs one
// extra bar for the previous close.
func (e Engine) MinBars() int {
	n := e.Lookback
	if e.TrendWindow > n {
		n = e.TrendWindow
	}
	if e.ATRPeriod+1 > n {
		n = e.ATRPeriod + 1
	}
	return n
}

// Compute derives the Signal from bars ordered oldest to newest.
func (e Engine) Compute(bars []market.Bar) (Signal, error) {
	if len(bars) < e.MinBars() {
		return Signal{}, ErrInsufficientData
	}

	last := bars[len(bars)-1].Close

	mean, std := meanStddev(closes(bars, e.Lookback))
	if std == 0 {
		return Signal{}, ErrFlatSeries
	}

	ma := meanOf(closes(bars, e.TrendWindow))
	trending := math.Abs(last-ma)/ma > e.TrendThreshold

	return Signal{
		ZScore:   (last - mean) / std,
		ATR:      e.atr(bars),
		Trending: trending,
	}, nil
}

// atr is the rolling mean of the per-bar true range over the last ATRPeriod
// bars: max(high-low, |high-prevClose|, |low-prevClose|).
func (e Engine) atr(bars []market.Bar) float64 {
	var sum float64
	for i := len(bars) - e.ATRPeriod; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr := bars[i].High - bars[i].Low
		if hc := math.Abs(bars[i].High - prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(bars[i].Low - prevClose); lc > tr {
			tr = lc
		}
		sum += tr
	}
	return sum / float64(e.ATRPeriod)
}

func closes(bars []market.Bar, n int) []float64 {
	out := make([]float64, 0, n)
	for _, b := range bars[len(bars)-n:] {
		out = append(out, b.Close)
	}
	return out
}

func meanOf(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// meanStddev returns the mean and sample standard deviation (n-1 divisor).
func meanStddev(xs []float64) (float64, float64) {
	mean := meanOf(xs)
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}
