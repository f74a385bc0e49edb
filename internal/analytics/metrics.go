package analytics

import "math"

// smaAt is the arithmetic mean of prices[i-window+1..i], clipped to the
// available history. Early records get a smaller-sample SMA instead of
// null; this mirrors the window-function semantics the dataset was built
// on.
func smaAt(prices []float64, i, window int) float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, p := range prices[start : i+1] {
		sum += p
	}
	return sum / float64(i+1-start)
}

// volatilityAt is the population standard deviation over the same window
// as smaAt. Nil when fewer than 2 points are available.
func volatilityAt(prices []float64, i, window int) *float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	n := i + 1 - start
	if n < 2 {
		return nil
	}

	mean := smaAt(prices, i, window)
	sumSq := 0.0
	for _, p := range prices[start : i+1] {
		d := p - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / float64(n))
	return &stddev
}

// rsiAt computes the relative strength index at i from price deltas.
// diffs is aligned to prices; diffs[0] is undefined and never read. The
// window covers the last period deltas ending at i. Average gain and loss
// are simple means over the window; an average loss of exactly zero maps
// to RSI 100. The formula keeps the result in [0,100] for non-negative
// inputs.
func rsiAt(diffs []float64, i, period int) float64 {
	start := i - period + 1
	if start < 1 {
		start = 1
	}
	if i < 1 {
		return 100
	}

	n := i + 1 - start
	gain, loss := 0.0, 0.0
	for _, d := range diffs[start : i+1] {
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)

	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}
