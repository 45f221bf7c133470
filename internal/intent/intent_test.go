package intent

import (
	"math/big"
	"testing"
)

func TestIsSwapIntent(t *testing.T) {
	cases := []struct {
		utterance string
		want      bool
	}{
		{"swap 10 CZUSD for CZB", true},
		{"please trade my tokens", true},
		{"Exchange 5 ALPHA to BETA", true},
		{"what is the price of CZB?", false},
		{"swapping is fun", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsSwapIntent(tc.utterance); got != tc.want {
			t.Fatalf("IsSwapIntent(%q) = %v, want %v", tc.utterance, got, tc.want)
		}
	}
}

func TestParseSlippageBps(t *testing.T) {
	cases := []struct {
		utterance string
		want      int64
	}{
		{"swap with 2% slippage", 200},
		{"swap with 0.5% slippage", 50},
		{"use 3 slip", 300},
		{"swap 10 CZUSD for CZB", 100},
		{"swap with 150% slippage", 100}, // unusable, fall back
		{"swap with 0% slippage", 100},
	}
	for _, tc := range cases {
		if got := ParseSlippageBps(tc.utterance, 100); got != tc.want {
			t.Fatalf("ParseSlippageBps(%q) = %d, want %d", tc.utterance, got, tc.want)
		}
	}
}

func TestMinOut(t *testing.T) {
	got := MinOut(big.NewInt(10_000), 100)
	if got.Int64() != 9_900 {
		t.Fatalf("MinOut(10000, 100) = %d, want 9900", got.Int64())
	}
	got = MinOut(big.NewInt(800), 200)
	if got.Int64() != 784 {
		t.Fatalf("MinOut(800, 200) = %d, want 784", got.Int64())
	}
}
