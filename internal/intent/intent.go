// Package intent extracts trade hints from raw user utterances.
package intent

import (
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

var (
	swapIntentRe = regexp.MustCompile(`(?i)\b(swap|trade|exchange)\b`)
	slippageRe   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%?\s*(slippage|slip)`)
)

// IsSwapIntent reports whether an utterance expresses intent to trade.
func IsSwapIntent(utterance string) bool {
	return swapIntentRe.MatchString(utterance)
}

// ParseSlippageBps extracts a slippage tolerance in basis points from an
// utterance, e.g. "2% slippage" -> 200. Returns defaultBps when the
// utterance names no tolerance or names an unusable one.
func ParseSlippageBps(utterance string, defaultBps int64) int64 {
	match := slippageRe.FindStringSubmatch(utterance)
	if match == nil {
		return defaultBps
	}
	percent, err := decimal.NewFromString(match[1])
	if err != nil {
		return defaultBps
	}
	bps := percent.Mul(decimal.NewFromInt(100)).IntPart()
	if bps <= 0 || bps >= 10_000 {
		return defaultBps
	}
	return bps
}

// MinOut returns a quoted base-unit amount reduced by the slippage
// tolerance, i.e. the minimum acceptable output.
func MinOut(quoted *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(quoted, big.NewInt(10_000-bps))
	return out.Div(out, big.NewInt(10_000))
}
