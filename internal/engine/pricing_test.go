package engine

import (
	"math"
	"testing"

	"github.com/Zerotek-trade/zerotek-app/pkg/db"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestQuantity(t *testing.T) {
	if got := Quantity(1000, 5, 50000); !almostEqual(got, 0.1) {
		t.Fatalf("Quantity = %v, want 0.1", got)
	}
	if got := Quantity(1000, 5, 0); got != 0 {
		t.Fatalf("Quantity at zero price = %v, want 0", got)
	}
}

func TestLiquidationPrice(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		leverage float64
		side     string
		want     float64
	}{
		{"long 5x", 50000, 5, db.SideLong, 41000},
		{"short 5x", 50000, 5, db.SideShort, 59000},
		{"long 10x", 100, 10, db.SideLong, 91},
		{"short 2x", 100, 2, db.SideShort, 145},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LiquidationPrice(tt.entry, tt.leverage, tt.side)
			if !almostEqual(got, tt.want) {
				t.Fatalf("LiquidationPrice = %v, want %v", got, tt.want)
			}
			// The trigger must sit strictly on the losing side of entry.
			if tt.side == db.SideLong && got >= tt.entry {
				t.Fatal("long liquidation must be below entry")
			}
			if tt.side == db.SideShort && got <= tt.entry {
				t.Fatal("short liquidation must be above entry")
			}
		})
	}
}

func TestPnl(t *testing.T) {
	tests := []struct {
		name    string
		side    string
		entry   float64
		current float64
		qty     float64
		want    float64
	}{
		{"long profit", db.SideLong, 50000, 52000, 0.1, 200},
		{"long loss", db.SideLong, 50000, 49000, 0.1, -100},
		{"short profit", db.SideShort, 50000, 48000, 0.1, 200},
		{"short loss", db.SideShort, 50000, 51000, 0.1, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Pnl(tt.side, tt.entry, tt.current, tt.qty); !almostEqual(got, tt.want) {
				t.Fatalf("Pnl = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVWAP(t *testing.T) {
	// 0.1 @ 50000 plus 0.1 @ 52000 averages to 51000.
	if got := VWAP(50000, 0.1, 52000, 0.1); !almostEqual(got, 51000) {
		t.Fatalf("VWAP = %v, want 51000", got)
	}
	// Uneven weights.
	if got := VWAP(100, 3, 200, 1); !almostEqual(got, 125) {
		t.Fatalf("VWAP = %v, want 125", got)
	}
	if got := VWAP(100, 0, 200, 0); got != 0 {
		t.Fatalf("VWAP with zero quantity = %v, want 0", got)
	}
}

func TestEffectiveLeverage(t *testing.T) {
	if got := EffectiveLeverage(0.1, 50000, 1000); !almostEqual(got, 5) {
		t.Fatalf("EffectiveLeverage = %v, want 5", got)
	}
	// Doubling margin halves effective leverage and widens the buffer.
	if got := EffectiveLeverage(0.1, 50000, 2000); !almostEqual(got, 2.5) {
		t.Fatalf("EffectiveLeverage = %v, want 2.5", got)
	}
}

func TestFee(t *testing.T) {
	if got := Fee(1000, 0.001); !almostEqual(got, 1) {
		t.Fatalf("Fee = %v, want 1", got)
	}
}
