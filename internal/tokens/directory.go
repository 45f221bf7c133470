package tokens

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/PlasticDigits/tidaldex-broker/internal/chain"
	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/logger"
)

const erc20ABI = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

// Directory resolves token symbols to tracked tokens and answers decimals
// and balance queries, caching what the chain returns.
type Directory struct {
	store *Store
	view  chain.ViewCaller
	erc20 abi.ABI
	log   zerolog.Logger

	mu       sync.Mutex
	decimals map[string]int
}

func NewDirectory(store *Store, view chain.ViewCaller) (*Directory, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Directory{
		store:    store,
		view:     view,
		erc20:    parsed,
		log:      logger.Component("tokens"),
		decimals: make(map[string]int),
	}, nil
}

// Tracked returns the tracked token set.
func (d *Directory) Tracked() ([]Token, error) {
	return d.store.TrackedTokens()
}

// ResolveSymbol maps a token symbol to a tracked token, case-insensitively.
// On a miss the error suggests the closest tracked symbol.
func (d *Directory) ResolveSymbol(symbol string) (Token, error) {
	want := strings.ToUpper(strings.TrimSpace(symbol))
	if want == "" {
		return Token{}, brokererr.New(brokererr.CodeUsage, "empty token symbol")
	}
	tracked, err := d.store.TrackedTokens()
	if err != nil {
		return Token{}, brokererr.Wrap(brokererr.CodeInternal, "list tracked tokens", err)
	}
	bestDistance := -1
	bestSymbol := ""
	for _, t := range tracked {
		have := strings.ToUpper(t.Symbol)
		if have == want {
			return t, nil
		}
		distance := levenshtein.ComputeDistance(want, have)
		if bestDistance < 0 || distance < bestDistance {
			bestDistance = distance
			bestSymbol = t.Symbol
		}
	}
	msg := fmt.Sprintf("unknown token symbol %s", symbol)
	if bestSymbol != "" && bestDistance <= 2 {
		msg = fmt.Sprintf("%s (did you mean %s?)", msg, bestSymbol)
	}
	return Token{}, brokererr.New(brokererr.CodeUsage, msg)
}

// Decimals answers from the tracked set when possible, otherwise reads the
// token contract. Results are cached for the life of the directory.
func (d *Directory) Decimals(ctx context.Context, tokenAddress string) (int, error) {
	key := strings.ToLower(tokenAddress)
	d.mu.Lock()
	if cached, ok := d.decimals[key]; ok {
		d.mu.Unlock()
		return cached, nil
	}
	d.mu.Unlock()

	if t, ok, err := d.store.TokenByAddress(tokenAddress); err == nil && ok {
		d.remember(key, t.Decimals)
		return t.Decimals, nil
	}

	if !common.IsHexAddress(tokenAddress) {
		return 0, brokererr.New(brokererr.CodeUsage, "invalid token address "+tokenAddress)
	}
	out, err := d.view.CallView(ctx, common.HexToAddress(tokenAddress), d.erc20, "decimals", nil, nil)
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, brokererr.New(brokererr.CodeInternal, "unexpected decimals result shape")
	}
	value, ok := out[0].(uint8)
	if !ok {
		return 0, brokererr.New(brokererr.CodeInternal, "unexpected decimals result type")
	}
	d.remember(key, int(value))
	return int(value), nil
}

func (d *Directory) remember(key string, decimals int) {
	d.mu.Lock()
	d.decimals[key] = decimals
	d.mu.Unlock()
}

// BalanceOf reads an ERC20 balance.
func (d *Directory) BalanceOf(ctx context.Context, tokenAddress, holder string) (*big.Int, error) {
	if !common.IsHexAddress(tokenAddress) || !common.IsHexAddress(holder) {
		return nil, brokererr.New(brokererr.CodeUsage, "invalid address for balance query")
	}
	out, err := d.view.CallView(ctx, common.HexToAddress(tokenAddress), d.erc20, "balanceOf",
		[]any{common.HexToAddress(holder)}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, brokererr.New(brokererr.CodeInternal, "unexpected balanceOf result shape")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, brokererr.New(brokererr.CodeInternal, "unexpected balanceOf result type")
	}
	return balance, nil
}

// SnapshotBalances records one balance row per tracked token for a holder.
// Individual read failures are logged and skipped so one bad token contract
// does not block session startup.
func (d *Directory) SnapshotBalances(ctx context.Context, userID, holder string) error {
	tracked, err := d.store.TrackedTokens()
	if err != nil {
		return brokererr.Wrap(brokererr.CodeInternal, "list tracked tokens", err)
	}
	now := time.Now()
	for _, t := range tracked {
		balance, err := d.BalanceOf(ctx, t.Address, holder)
		if err != nil {
			d.log.Warn().Str("user", logger.UserHash(userID)).Str("token", t.Symbol).Err(err).Msg("skip balance snapshot")
			continue
		}
		row := BalanceRow{UserID: userID, Token: t.Address, BalanceRaw: balance.String(), TakenAt: now}
		if err := d.store.RecordBalance(row); err != nil {
			return brokererr.Wrap(brokererr.CodeInternal, "record balance", err)
		}
	}
	return nil
}

// FormatAmount renders a base-unit amount using the token's decimals.
func FormatAmount(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
