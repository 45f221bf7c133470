// Package session implements the per-user transaction session: a state
// machine that turns parsed intents into previewed, confirmed and executed
// on-chain calls.
package session

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/PlasticDigits/tidaldex-broker/internal/chain"
	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/integration"
	"github.com/PlasticDigits/tidaldex-broker/internal/intent"
	"github.com/PlasticDigits/tidaldex-broker/internal/logger"
	"github.com/PlasticDigits/tidaldex-broker/internal/route"
	"github.com/PlasticDigits/tidaldex-broker/internal/tokens"
	"github.com/PlasticDigits/tidaldex-broker/internal/wallet"
)

// State is the session lifecycle state.
type State string

const (
	StateActive               State = "active"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAwaitingPin          State = "awaiting_pin"
	StateCompleted            State = "completed"
	StateError                State = "error"
)

// Message is one conversational turn.
type Message struct {
	Role    string
	Content string
}

// TokenService is the token lookup surface a session needs.
type TokenService interface {
	ResolveSymbol(symbol string) (tokens.Token, error)
	Decimals(ctx context.Context, tokenAddress string) (int, error)
	Tracked() ([]tokens.Token, error)
	BalanceOf(ctx context.Context, tokenAddress, holder string) (*big.Int, error)
	SnapshotBalances(ctx context.Context, userID, holder string) error
}

// Snapshot is the read-mostly context built at session start.
type Snapshot struct {
	WalletAddress string
	Tokens        []tokens.Token
	Balances      map[string]*big.Int
	ViewMethods   []string
	WriteMethods  []string
}

// Quote caches the most recent successful swap quote so a follow-up confirm
// does not re-query.
type Quote struct {
	RawPath   []string
	Path      []common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
}

// Deps are the collaborators a session is built from.
type Deps struct {
	Exec               chain.Executor
	Gas                chain.GasEstimator
	Params             *chain.Processor
	Wallets            wallet.Store
	Tokens             TokenService
	Prober             *route.Prober
	DefaultSlippageBps int64
}

// Session is one user's live transaction session. All operations serialize
// on an internal mutex so a retry racing a cancel cannot corrupt the pending
// transaction.
type Session struct {
	mu sync.Mutex

	userID string
	in     *integration.Integration
	deps   Deps
	log    zerolog.Logger

	state     State
	history   []Message
	snapshot  Snapshot
	pending   *PendingTransaction
	lastQuote *Quote
}

func New(userID string, in *integration.Integration, deps Deps) *Session {
	if deps.DefaultSlippageBps <= 0 {
		deps.DefaultSlippageBps = 100
	}
	return &Session{
		userID: userID,
		in:     in,
		deps:   deps,
		log:    logger.Component("session").With().Str("user", logger.UserHash(userID)).Logger(),
		state:  StateActive,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Pending() *PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) LastQuote() *Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuote
}

func (s *Session) Context() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Session) Integration() *integration.Integration { return s.in }

// AppendMessage records one conversational turn. History is append-only.
func (s *Session) AppendMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Message{Role: role, Content: content})
}

// LastUserUtterance returns the most recent user turn, or empty.
func (s *Session) LastUserUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == "user" {
			return s.history[i].Content
		}
	}
	return ""
}

// InitializeContext resolves the active wallet and builds the context
// snapshot. A missing wallet is an expected, user-correctable condition, so
// the outcome is a boolean, not an error.
func (s *Session) InitializeContext(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.deps.Wallets.ActiveWallet(s.userID, "")
	if err != nil || w == nil {
		if err != nil && !brokererr.HasCode(err, brokererr.CodeSecretRequired) {
			s.log.Warn().Err(err).Msg("wallet resolution failed")
		}
		return false
	}

	snapshot := Snapshot{
		WalletAddress: w.Address.Hex(),
		Balances:      make(map[string]*big.Int),
	}
	if tracked, err := s.deps.Tokens.Tracked(); err == nil {
		snapshot.Tokens = tracked
		for _, t := range tracked {
			if balance, err := s.deps.Tokens.BalanceOf(ctx, t.Address, snapshot.WalletAddress); err == nil {
				snapshot.Balances[t.Address] = balance
			}
		}
	}
	for _, m := range s.in.Methods.View {
		snapshot.ViewMethods = append(snapshot.ViewMethods, m.Name)
	}
	for _, m := range s.in.Methods.Write {
		snapshot.WriteMethods = append(snapshot.WriteMethods, m.Name)
	}
	s.snapshot = snapshot
	s.state = StateActive

	if err := s.deps.Tokens.SnapshotBalances(ctx, s.userID, snapshot.WalletAddress); err != nil {
		s.log.Warn().Err(err).Msg("balance snapshot failed")
	}
	return true
}

// HandleViewCall executes a read-only call. Swap quote methods with a usable
// path route through the prober; everything else goes straight to the chain.
// Session state is not mutated beyond caching the last quote.
func (s *Session) HandleViewCall(ctx context.Context, methodName string, params map[string]any, status chain.StatusFunc) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleViewCallLocked(ctx, methodName, params, status)
}

func (s *Session) handleViewCallLocked(ctx context.Context, methodName string, params map[string]any, status chain.StatusFunc) ([]any, error) {
	m, err := s.in.FindMethod(methodName, integration.MethodView)
	if err != nil {
		return nil, err
	}
	_, address, cabi, err := s.in.ResolveContract(m)
	if err != nil {
		return nil, err
	}
	processed, err := s.deps.Params.ProcessParameters(ctx, s.in, m, params, s.snapshot.WalletAddress, s.deps.Tokens)
	if err != nil {
		return nil, err
	}

	rawPath, hasPath := rawPathOf(params)
	if s.in.IsSwap() && route.IsQuoteMethod(m.Name) && hasPath && len(rawPath) >= 2 {
		amount, err := drivingAmount(m, processed)
		if err != nil {
			return nil, err
		}
		best, err := s.deps.Prober.SelectBestRoute(ctx, common.HexToAddress(address), cabi,
			route.QuoteMethod(m.Name), amount, rawPath, status)
		if err != nil {
			return nil, err
		}
		if route.QuoteMethod(m.Name) == route.QuoteAmountsOut {
			s.lastQuote = &Quote{
				RawPath:   rawPath,
				Path:      best.Path,
				AmountIn:  best.AmountIn(),
				AmountOut: best.AmountOut(),
			}
		}
		return []any{best.Amounts}, nil
	}

	args, err := chain.OrderedArgs(cabi, m.Name, m.Inputs, processed)
	if err != nil {
		return nil, err
	}
	return s.deps.Exec.CallView(ctx, common.HexToAddress(address), cabi, m.Name, args, status)
}

// PrepareWriteCall stages a write call: processes parameters, re-probes the
// route for ambiguous swaps, builds the preview and enters
// AwaitingConfirmation. Any failure moves the session to Error and
// propagates; an incomplete preview is never confirmable.
func (s *Session) PrepareWriteCall(ctx context.Context, methodName string, params map[string]any) (*chain.Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	preview, err := s.prepareWriteCallLocked(ctx, methodName, params)
	if err != nil {
		s.state = StateError
		s.pending = nil
		return nil, err
	}
	return preview, nil
}

func (s *Session) prepareWriteCallLocked(ctx context.Context, methodName string, params map[string]any) (*chain.Preview, error) {
	m, err := s.in.FindMethod(methodName, integration.MethodWrite)
	if err != nil {
		return nil, err
	}
	contractName, address, cabi, err := s.in.ResolveContract(m)
	if err != nil {
		return nil, err
	}
	processed, err := s.deps.Params.ProcessParameters(ctx, s.in, m, params, s.snapshot.WalletAddress, s.deps.Tokens)
	if err != nil {
		return nil, err
	}

	if rawPath, ok := rawPathOf(params); ok && s.in.IsSwap() && len(rawPath) >= 2 {
		amount, err := drivingAmount(m, processed)
		if err == nil && amount != nil && amount.Sign() > 0 {
			best, err := s.deps.Prober.SelectBestRoute(ctx, common.HexToAddress(address), cabi,
				route.QuoteAmountsOut, amount, rawPath, nil)
			if err != nil {
				return nil, err
			}
			processed["path"] = best.Path
		}
	}

	args, err := chain.OrderedArgs(cabi, m.Name, m.Inputs, processed)
	if err != nil {
		return nil, err
	}

	from := common.Address{}
	if s.snapshot.WalletAddress != "" {
		from = common.HexToAddress(s.snapshot.WalletAddress)
	}
	gas := s.deps.Gas.EstimateWriteGas(ctx, from, common.HexToAddress(address), cabi, m.Name, args, nativeValue(params))

	preview := chain.Preview{
		Method:          m.Name,
		Contract:        contractName,
		ContractAddress: address,
		Explanation:     m.Summary,
		Gas:             gas,
		Processed:       processed,
		Raw:             params,
	}
	s.pending = &PendingTransaction{
		Method:          m,
		ABI:             cabi,
		ContractName:    contractName,
		ContractAddress: address,
		Processed:       processed,
		Raw:             params,
		Preview:         preview,
	}
	s.state = StateAwaitingConfirmation
	s.log.Info().Str("method", m.Name).Msg("staged write call")
	return &preview, nil
}

// ExecutePendingTransaction runs the staged call. A missing pending
// transaction or wrong state is a programming error and fails before any
// chain interaction. A required-but-missing wallet secret moves the session
// to AwaitingPin and returns a recoverable classified error.
func (s *Session) ExecutePendingTransaction(ctx context.Context, status chain.StatusFunc) (*chain.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return nil, brokererr.New(brokererr.CodeInternal, "no pending transaction to execute")
	}
	if s.state != StateAwaitingConfirmation {
		return nil, brokererr.New(brokererr.CodeInternal, "session is not awaiting confirmation")
	}

	secret, _ := s.deps.Wallets.Secret(s.userID)
	if s.deps.Wallets.SecretRequired(s.userID) && secret == "" {
		s.state = StateAwaitingPin
		return nil, brokererr.New(brokererr.CodeSecretRequired, "wallet secret required")
	}

	w, err := s.deps.Wallets.ActiveWallet(s.userID, secret)
	if err != nil {
		if brokererr.HasCode(err, brokererr.CodeSecretRequired) {
			s.state = StateAwaitingPin
			return nil, err
		}
		s.state = StateError
		return nil, err
	}
	if w == nil {
		s.state = StateError
		return nil, brokererr.New(brokererr.CodeNoWallet, "no active wallet")
	}

	pending := s.pending
	args, err := chain.OrderedArgs(pending.ABI, pending.Method.Name, pending.Method.Inputs, pending.Processed)
	if err != nil {
		s.state = StateError
		return nil, err
	}

	result, err := s.deps.Exec.CallWrite(ctx, chain.WriteRequest{
		Wallet:   w,
		Contract: common.HexToAddress(pending.ContractAddress),
		ABI:      pending.ABI,
		Method:   pending.Method.Name,
		Args:     args,
		Value:    nativeValue(pending.Raw),
		Status:   status,
	})
	if err != nil {
		// A failed execution clears the pending transaction; the user
		// re-stages rather than retrying stale parameters.
		s.pending = nil
		s.state = StateError
		return nil, err
	}

	s.pending = nil
	s.lastQuote = nil
	s.state = StateCompleted
	s.log.Info().Str("tx", result.TxHash).Msg("transaction confirmed")
	return result, nil
}

// CancelPendingTransaction drops any staged call and returns the session to
// Active. Idempotent.
func (s *Session) CancelPendingTransaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.state = StateActive
}

// SubmitSecret verifies a wallet secret, caches it, and returns the session
// to AwaitingConfirmation when a pending transaction was waiting on it.
func (s *Session) SubmitSecret(secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.deps.Wallets.ActiveWallet(s.userID, secret)
	if err != nil {
		return err
	}
	if w == nil {
		return brokererr.New(brokererr.CodeNoWallet, "no active wallet")
	}
	s.deps.Wallets.CacheSecret(s.userID, secret)
	if s.state == StateAwaitingPin && s.pending != nil {
		s.state = StateAwaitingConfirmation
	}
	return nil
}

// MaybeAutoPrepareSwap opportunistically stages a swap right after an output
// quote when the user's utterance reads as an execution request. Failures
// are swallowed and the session stays Active; explicit confirmation is still
// required before anything executes.
func (s *Session) MaybeAutoPrepareSwap(ctx context.Context) (*chain.Preview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote := s.lastQuote
	if quote == nil || !s.in.IsSwap() || s.state != StateActive {
		return nil, false
	}
	utterance := lastUserTurn(s.history)
	if !intent.IsSwapIntent(utterance) {
		return nil, false
	}
	// Native-asset endpoints need wrap/unwrap handling this path does not do.
	if chain.IsNativePlaceholder(quote.RawPath[0]) || chain.IsNativePlaceholder(quote.RawPath[len(quote.RawPath)-1]) {
		return nil, false
	}

	bps := intent.ParseSlippageBps(utterance, s.deps.DefaultSlippageBps)
	minOut := intent.MinOut(quote.AmountOut, bps)
	params := map[string]any{
		"amountIn":     quote.AmountIn,
		"amountOutMin": minOut,
		"path":         quote.RawPath,
	}

	for _, methodName := range []string{
		"swapExactTokensForTokensSupportingFeeOnTransferTokens",
		"swapExactTokensForTokens",
	} {
		if _, err := s.in.FindMethod(methodName, integration.MethodWrite); err != nil {
			continue
		}
		preview, err := s.prepareWriteCallLocked(ctx, methodName, params)
		if err == nil {
			return preview, true
		}
		s.log.Debug().Str("method", methodName).Err(err).Msg("auto-prepare attempt failed")
	}
	s.pending = nil
	s.state = StateActive
	return nil, false
}

func lastUserTurn(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}

// drivingAmount extracts the amount that parameterizes a router quote or
// swap. Router methods take it as their first declared input.
func drivingAmount(m integration.Method, processed map[string]any) (*big.Int, error) {
	if len(m.Inputs) == 0 {
		return nil, brokererr.New(brokererr.CodeConfig, "method "+m.Name+" declares no inputs")
	}
	amount, ok := processed[m.Inputs[0]].(*big.Int)
	if !ok {
		return nil, brokererr.New(brokererr.CodeUsage, "method "+m.Name+" has no usable amount")
	}
	return amount, nil
}

func rawPathOf(params map[string]any) ([]string, bool) {
	value, ok := params["path"]
	if !ok {
		return nil, false
	}
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func nativeValue(params map[string]any) *big.Int {
	raw, ok := params["value"]
	if !ok {
		return big.NewInt(0)
	}
	switch v := raw.(type) {
	case *big.Int:
		return v
	case string:
		if out, ok := new(big.Int).SetString(v, 10); ok {
			return out
		}
	}
	return big.NewInt(0)
}
