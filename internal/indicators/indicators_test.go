package indicators

import (
	"math"
	"testing"
)

func TestCalculateShortSeries(t *testing.T) {
	closes := make([]float64, 49)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	set := Calculate(closes)
	if set.Ema20 != nil || set.Ema50 != nil || set.Rsi14 != nil {
		t.Fatalf("expected all-nil set under 50 samples, got %+v", set)
	}
}

func TestCalculateTrendingSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	set := Calculate(closes)
	if set.Ema20 == nil || set.Ema50 == nil || set.Rsi14 == nil {
		t.Fatalf("expected values at 60 samples, got %+v", set)
	}
	// Strictly rising closes: short EMA above long EMA, RSI pegged at 100.
	if *set.Ema20 <= *set.Ema50 {
		t.Fatalf("ema20 %v should exceed ema50 %v on an uptrend", *set.Ema20, *set.Ema50)
	}
	if *set.Rsi14 != 100 {
		t.Fatalf("rsi = %v, want 100 with no losing bars", *set.Rsi14)
	}
}

func TestEMASeeding(t *testing.T) {
	// Constant series: EMA must equal the constant regardless of period.
	closes := make([]float64, 55)
	for i := range closes {
		closes[i] = 42
	}
	if got := EMA(closes, 20); got != 42 {
		t.Fatalf("EMA of constant series = %v, want 42", got)
	}
	if got := EMA(closes[:10], 20); got != 0 {
		t.Fatalf("EMA with insufficient data = %v, want 0", got)
	}
}

func TestRSIBounds(t *testing.T) {
	tests := []struct {
		name string
		gen  func(i int) float64
		min  float64
		max  float64
	}{
		{"all gains", func(i int) float64 { return 100 + float64(i) }, 100, 100},
		{"all losses", func(i int) float64 { return 100 - float64(i) }, 0, 0},
		{"alternating", func(i int) float64 { return 100 + float64(i%2) }, 40, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closes := make([]float64, 30)
			for i := range closes {
				closes[i] = tt.gen(i)
			}
			got := RSI(closes, 14)
			if got < tt.min-1e-9 || got > tt.max+1e-9 {
				t.Fatalf("RSI = %v, want within [%v, %v]", got, tt.min, tt.max)
			}
			if math.IsNaN(got) {
				t.Fatal("RSI is NaN")
			}
		})
	}
}
