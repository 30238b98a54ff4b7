// Package indicators provides the pure technical-analysis functions used by
// the signal filters and the candle endpoints.
package indicators

// Set holds the indicator values computed over one candle series. Fields are
// nil when the series is too short to produce a stable value.
type Set struct {
	Ema20 *float64 `json:"ema20"`
	Ema50 *float64 `json:"ema50"`
	Rsi14 *float64 `json:"rsi14"`
}

// EMA returns the exponential moving average of closes at period, seeded with
// the simple average of the first period values.
func EMA(closes []float64, period int) float64 {
	if len(closes) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for _, c := range closes[:period] {
		sum += c
	}
	ema := sum / float64(period)
	k := 2.0 / float64(period+1)
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
	}
	return ema
}

// RSI returns the relative strength index over the last period diffs.
// Returns 100 when there were no losing bars in the window.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return 50
	}
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses += -diff
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Calculate computes the standard indicator set over closing prices. Below 50
// samples every field is nil; short series produce unusable EMAs.
func Calculate(closes []float64) Set {
	if len(closes) < 50 {
		return Set{}
	}
	ema20 := EMA(closes, 20)
	ema50 := EMA(closes, 50)
	rsi14 := RSI(closes, 14)
	return Set{Ema20: &ema20, Ema50: &ema50, Rsi14: &rsi14}
}
