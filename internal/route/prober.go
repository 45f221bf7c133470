package route

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/PlasticDigits/tidaldex-broker/internal/chain"
	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/logger"
	"github.com/PlasticDigits/tidaldex-broker/internal/tokens"
)

// QuoteMethod selects the router quote direction.
type QuoteMethod string

const (
	QuoteAmountsOut QuoteMethod = "getAmountsOut"
	QuoteAmountsIn  QuoteMethod = "getAmountsIn"
)

// IsQuoteMethod reports whether a view method name is a probed quote call.
func IsQuoteMethod(name string) bool {
	return name == string(QuoteAmountsOut) || name == string(QuoteAmountsIn)
}

// SymbolResolver maps a token symbol to a tracked token.
type SymbolResolver interface {
	ResolveSymbol(symbol string) (tokens.Token, error)
}

// Route is one probed swap path with the router's quoted amounts.
type Route struct {
	Path    []common.Address
	Amounts []*big.Int
}

// AmountOut is the final quoted output amount.
func (r Route) AmountOut() *big.Int { return r.Amounts[len(r.Amounts)-1] }

// AmountIn is the first quoted input amount.
func (r Route) AmountIn() *big.Int { return r.Amounts[0] }

// Prober quotes candidate swap paths through the configured bridge tokens
// and picks the best one.
type Prober struct {
	view          chain.ViewCaller
	resolver      SymbolResolver
	bridgeSymbols []string
	wrappedNative string
	log           zerolog.Logger
}

func NewProber(view chain.ViewCaller, resolver SymbolResolver, bridgeSymbols []string, wrappedNative string) *Prober {
	return &Prober{
		view:          view,
		resolver:      resolver,
		bridgeSymbols: bridgeSymbols,
		wrappedNative: wrappedNative,
		log:           logger.Component("route"),
	}
}

// ResolvePathToken turns one raw path entry into a token address: hex
// addresses pass through, native placeholders become the wrapped-native
// token, anything else resolves as a tracked symbol.
func (p *Prober) ResolvePathToken(entry string) (common.Address, error) {
	clean := strings.TrimSpace(entry)
	if common.IsHexAddress(clean) {
		return common.HexToAddress(clean), nil
	}
	if chain.IsNativePlaceholder(clean) {
		if p.wrappedNative == "" || !common.IsHexAddress(p.wrappedNative) {
			return common.Address{}, brokererr.New(brokererr.CodeConfig,
				"wrapped native token not configured for native placeholder "+clean)
		}
		return common.HexToAddress(p.wrappedNative), nil
	}
	t, err := p.resolver.ResolveSymbol(clean)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(t.Address), nil
}

// ResolvePath substitutes every raw path entry.
func (p *Prober) ResolvePath(raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		addr, err := p.ResolvePathToken(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// SelectBestRoute probes every candidate path between the endpoints of the
// requested path and returns the best quote. Candidates run through the two
// configured bridge tokens, in a fixed order, and are probed sequentially.
// For getAmountsOut the best route maximizes the final output; for
// getAmountsIn it minimizes the required input. Ties keep the earliest
// candidate.
func (p *Prober) SelectBestRoute(ctx context.Context, router common.Address, routerABI abi.ABI, method QuoteMethod, amount *big.Int, rawPath []string, status chain.StatusFunc) (Route, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Route{}, brokererr.New(brokererr.CodeUsage, "quote amount must be positive")
	}
	if len(rawPath) < 2 {
		return Route{}, brokererr.New(brokererr.CodeUsage, "path needs at least two tokens")
	}

	resolved, err := p.ResolvePath(rawPath)
	if err != nil {
		return Route{}, err
	}
	tokenIn := resolved[0]
	tokenOut := resolved[len(resolved)-1]

	bridges, err := p.bridgeAddresses()
	if err != nil {
		return Route{}, err
	}

	candidates := Candidates(tokenIn, tokenOut, bridges[0], bridges[1])

	var best *Route
	var failures []string
	for i, candidate := range candidates {
		if status != nil {
			status(fmt.Sprintf("probing route %d/%d", i+1, len(candidates)))
		}
		quoted, err := p.quote(ctx, router, routerABI, method, amount, candidate)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", describePath(candidate), err))
			continue
		}
		if best == nil || better(method, quoted, *best) {
			r := quoted
			best = &r
		}
	}
	if best == nil {
		return Route{}, brokererr.New(brokererr.CodeNoRoute, "no viable route: "+joinFailures(failures))
	}
	p.log.Debug().Str("path", describePath(best.Path)).Msg("selected route")
	return *best, nil
}

func (p *Prober) bridgeAddresses() ([2]common.Address, error) {
	var out [2]common.Address
	if len(p.bridgeSymbols) != 2 {
		return out, brokererr.New(brokererr.CodeConfig, "exactly two bridge tokens must be configured")
	}
	for i, symbol := range p.bridgeSymbols {
		t, err := p.resolver.ResolveSymbol(symbol)
		if err != nil {
			return out, brokererr.Wrap(brokererr.CodeConfig, "resolve bridge token "+symbol, err)
		}
		out[i] = common.HexToAddress(t.Address)
	}
	return out, nil
}

// Candidates builds the probe set between two endpoints: through bridge A,
// through bridge B, and through both bridges in either order. Degenerate
// paths are normalized away and duplicates dropped, preserving order.
func Candidates(tokenIn, tokenOut, bridgeA, bridgeB common.Address) [][]common.Address {
	shapes := [][]common.Address{
		{tokenIn, bridgeA, tokenOut},
		{tokenIn, bridgeB, tokenOut},
		{tokenIn, bridgeA, bridgeB, tokenOut},
		{tokenIn, bridgeB, bridgeA, tokenOut},
	}
	seen := make(map[string]bool, len(shapes))
	out := make([][]common.Address, 0, len(shapes))
	for _, shape := range shapes {
		normalized := Normalize(shape)
		if len(normalized) < 2 {
			continue
		}
		key := describePath(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, normalized)
	}
	return out
}

// Normalize collapses consecutive duplicate tokens in a path.
func Normalize(path []common.Address) []common.Address {
	out := make([]common.Address, 0, len(path))
	for _, token := range path {
		if len(out) > 0 && out[len(out)-1] == token {
			continue
		}
		out = append(out, token)
	}
	return out
}

func (p *Prober) quote(ctx context.Context, router common.Address, routerABI abi.ABI, method QuoteMethod, amount *big.Int, path []common.Address) (Route, error) {
	out, err := p.view.CallView(ctx, router, routerABI, string(method), []any{amount, path}, nil)
	if err != nil {
		return Route{}, err
	}
	if len(out) != 1 {
		return Route{}, brokererr.New(brokererr.CodeInternal, "unexpected quote result shape")
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return Route{}, brokererr.New(brokererr.CodeInternal, "unexpected quote result type")
	}
	if len(amounts) != len(path) {
		return Route{}, brokererr.New(brokererr.CodeInternal, "quote amounts do not match path length")
	}
	return Route{Path: path, Amounts: amounts}, nil
}

func better(method QuoteMethod, candidate, current Route) bool {
	if method == QuoteAmountsIn {
		return candidate.AmountIn().Cmp(current.AmountIn()) < 0
	}
	return candidate.AmountOut().Cmp(current.AmountOut()) > 0
}

func describePath(path []common.Address) string {
	parts := make([]string, 0, len(path))
	for _, token := range path {
		parts = append(parts, token.Hex())
	}
	return strings.Join(parts, "->")
}

// joinFailures keeps the aggregate error readable: at most four per-candidate
// causes, with a marker when more were dropped.
func joinFailures(failures []string) string {
	const keep = 4
	if len(failures) <= keep {
		return strings.Join(failures, "; ")
	}
	return strings.Join(failures[:keep], "; ") + " ..."
}
