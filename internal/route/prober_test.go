package route

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/PlasticDigits/tidaldex-broker/internal/chain"
	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/tokens"
)

var (
	tokenA  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	bridgeM = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	bridgeN = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	router  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	wrapped = "0x00000000000000000000000000000000000000ee"
)

type fakeView struct {
	quotes map[string][]*big.Int
	probed []string
}

func pathKey(path []common.Address) string {
	parts := make([]string, 0, len(path))
	for _, t := range path {
		parts = append(parts, strings.ToLower(t.Hex()))
	}
	return strings.Join(parts, ">")
}

func (f *fakeView) CallView(_ context.Context, _ common.Address, _ abi.ABI, _ string, args []any, status chain.StatusFunc) ([]any, error) {
	path := args[1].([]common.Address)
	f.probed = append(f.probed, pathKey(path))
	amounts, ok := f.quotes[pathKey(path)]
	if !ok {
		return nil, brokererr.New(brokererr.CodeReverted, "execution reverted")
	}
	return []any{amounts}, nil
}

type fakeResolver struct {
	bySymbol map[string]tokens.Token
}

func (f *fakeResolver) ResolveSymbol(symbol string) (tokens.Token, error) {
	t, ok := f.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return tokens.Token{}, brokererr.New(brokererr.CodeUsage, "unknown token symbol "+symbol)
	}
	return t, nil
}

func newTestProber(view chain.ViewCaller) *Prober {
	resolver := &fakeResolver{bySymbol: map[string]tokens.Token{
		"CZUSD": {Address: bridgeM.Hex(), Symbol: "CZUSD", Decimals: 18},
		"CZB":   {Address: bridgeN.Hex(), Symbol: "CZB", Decimals: 18},
	}}
	return NewProber(view, resolver, []string{"CZUSD", "CZB"}, wrapped)
}

func amounts(values ...int64) []*big.Int {
	out := make([]*big.Int, 0, len(values))
	for _, v := range values {
		out = append(out, big.NewInt(v))
	}
	return out
}

func TestNormalize(t *testing.T) {
	single := Normalize([]common.Address{tokenA})
	if len(single) != 1 || single[0] != tokenA {
		t.Fatalf("normalize single: got %v", single)
	}
	collapsed := Normalize([]common.Address{tokenA, tokenA, tokenB, tokenB, bridgeM})
	if len(collapsed) != 3 || collapsed[0] != tokenA || collapsed[1] != tokenB || collapsed[2] != bridgeM {
		t.Fatalf("normalize dup run: got %v", collapsed)
	}
}

func TestCandidateOrderAndDedup(t *testing.T) {
	got := Candidates(tokenA, tokenB, bridgeM, bridgeN)
	want := []string{
		pathKey([]common.Address{tokenA, bridgeM, tokenB}),
		pathKey([]common.Address{tokenA, bridgeN, tokenB}),
		pathKey([]common.Address{tokenA, bridgeM, bridgeN, tokenB}),
		pathKey([]common.Address{tokenA, bridgeN, bridgeM, tokenB}),
	}
	if len(got) != len(want) {
		t.Fatalf("candidate count: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if pathKey(got[i]) != want[i] {
			t.Fatalf("candidate %d: got %s want %s", i, pathKey(got[i]), want[i])
		}
	}
}

func TestCandidatesCollapseWhenEndpointIsBridge(t *testing.T) {
	// tokenIn == bridgeM: [M,M,B] collapses to the direct pair and the two
	// 4-hop shapes degenerate, leaving three distinct candidates at most.
	got := Candidates(bridgeM, tokenB, bridgeM, bridgeN)
	if len(got) == 0 {
		t.Fatalf("expected candidates")
	}
	if pathKey(got[0]) != pathKey([]common.Address{bridgeM, tokenB}) {
		t.Fatalf("first candidate should be the direct pair, got %s", pathKey(got[0]))
	}
	seen := map[string]bool{}
	for _, c := range got {
		key := pathKey(c)
		if seen[key] {
			t.Fatalf("duplicate candidate %s", key)
		}
		seen[key] = true
		if len(c) < 2 {
			t.Fatalf("candidate shorter than 2 hops: %s", key)
		}
	}
}

func TestSelectBestRouteMaxOutput(t *testing.T) {
	view := &fakeView{quotes: map[string][]*big.Int{
		pathKey([]common.Address{tokenA, bridgeM, tokenB}):          amounts(10, 9, 100),
		pathKey([]common.Address{tokenA, bridgeN, tokenB}):          amounts(10, 9, 150),
		pathKey([]common.Address{tokenA, bridgeM, bridgeN, tokenB}): amounts(10, 9, 8, 120),
	}}
	p := newTestProber(view)
	best, err := p.SelectBestRoute(context.Background(), router, abi.ABI{}, QuoteAmountsOut,
		big.NewInt(10), []string{tokenA.Hex(), tokenB.Hex()}, nil)
	if err != nil {
		t.Fatalf("SelectBestRoute: %v", err)
	}
	if best.AmountOut().Int64() != 150 {
		t.Fatalf("best output: got %d want 150", best.AmountOut().Int64())
	}
	if pathKey(best.Path) != pathKey([]common.Address{tokenA, bridgeN, tokenB}) {
		t.Fatalf("best path: got %s", pathKey(best.Path))
	}
	if len(view.probed) != 4 {
		t.Fatalf("probe count: got %d want 4", len(view.probed))
	}
}

func TestSelectBestRouteMinInput(t *testing.T) {
	view := &fakeView{quotes: map[string][]*big.Int{
		pathKey([]common.Address{tokenA, bridgeM, tokenB}):          amounts(12, 11, 50),
		pathKey([]common.Address{tokenA, bridgeN, tokenB}):          amounts(10, 11, 50),
		pathKey([]common.Address{tokenA, bridgeM, bridgeN, tokenB}): amounts(11, 11, 11, 50),
	}}
	p := newTestProber(view)
	best, err := p.SelectBestRoute(context.Background(), router, abi.ABI{}, QuoteAmountsIn,
		big.NewInt(50), []string{tokenA.Hex(), tokenB.Hex()}, nil)
	if err != nil {
		t.Fatalf("SelectBestRoute: %v", err)
	}
	if best.AmountIn().Int64() != 10 {
		t.Fatalf("best input: got %d want 10", best.AmountIn().Int64())
	}
}

func TestSelectBestRouteTieKeepsEarliest(t *testing.T) {
	view := &fakeView{quotes: map[string][]*big.Int{
		pathKey([]common.Address{tokenA, bridgeM, tokenB}): amounts(10, 9, 100),
		pathKey([]common.Address{tokenA, bridgeN, tokenB}): amounts(10, 9, 100),
	}}
	p := newTestProber(view)
	best, err := p.SelectBestRoute(context.Background(), router, abi.ABI{}, QuoteAmountsOut,
		big.NewInt(10), []string{tokenA.Hex(), tokenB.Hex()}, nil)
	if err != nil {
		t.Fatalf("SelectBestRoute: %v", err)
	}
	if pathKey(best.Path) != pathKey([]common.Address{tokenA, bridgeM, tokenB}) {
		t.Fatalf("tie should keep the earliest candidate, got %s", pathKey(best.Path))
	}
}

func TestSelectBestRouteAllFail(t *testing.T) {
	view := &fakeView{quotes: map[string][]*big.Int{}}
	p := newTestProber(view)
	_, err := p.SelectBestRoute(context.Background(), router, abi.ABI{}, QuoteAmountsOut,
		big.NewInt(10), []string{tokenA.Hex(), tokenB.Hex()}, nil)
	if err == nil {
		t.Fatalf("expected aggregate failure")
	}
	if !brokererr.HasCode(err, brokererr.CodeNoRoute) {
		t.Fatalf("expected CodeNoRoute, got %v", err)
	}
	if strings.Count(err.Error(), "execution reverted") < 2 {
		t.Fatalf("aggregate error should enumerate multiple candidate failures: %v", err)
	}
}

func TestSelectBestRouteStatusCallback(t *testing.T) {
	view := &fakeView{quotes: map[string][]*big.Int{
		pathKey([]common.Address{tokenA, bridgeM, tokenB}): amounts(10, 9, 100),
	}}
	p := newTestProber(view)
	var lines []string
	_, err := p.SelectBestRoute(context.Background(), router, abi.ABI{}, QuoteAmountsOut,
		big.NewInt(10), []string{tokenA.Hex(), tokenB.Hex()}, func(line string) { lines = append(lines, line) })
	if err != nil {
		t.Fatalf("SelectBestRoute: %v", err)
	}
	if len(lines) != 4 {
		t.Fatalf("status callback: got %d lines want 4", len(lines))
	}
}

func TestSelectBestRouteRejectsNonPositiveAmount(t *testing.T) {
	p := newTestProber(&fakeView{})
	_, err := p.SelectBestRoute(context.Background(), router, abi.ABI{}, QuoteAmountsOut,
		big.NewInt(0), []string{tokenA.Hex(), tokenB.Hex()}, nil)
	if !brokererr.HasCode(err, brokererr.CodeUsage) {
		t.Fatalf("expected CodeUsage for zero amount, got %v", err)
	}
}

func TestResolvePathTokenNativePlaceholder(t *testing.T) {
	p := newTestProber(&fakeView{})
	addr, err := p.ResolvePathToken("BNB")
	if err != nil {
		t.Fatalf("ResolvePathToken: %v", err)
	}
	if addr != common.HexToAddress(wrapped) {
		t.Fatalf("placeholder substitution: got %s", addr.Hex())
	}

	bare := NewProber(&fakeView{}, &fakeResolver{bySymbol: map[string]tokens.Token{}}, []string{"CZUSD", "CZB"}, "")
	if _, err := bare.ResolvePathToken("ETH"); !brokererr.HasCode(err, brokererr.CodeConfig) {
		t.Fatalf("expected CodeConfig without wrapped native, got %v", err)
	}
}
