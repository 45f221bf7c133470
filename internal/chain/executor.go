package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/wallet"
)

// StatusFunc receives progress lines while a call is in flight.
type StatusFunc func(string)

// ViewCaller executes read-only contract calls.
type ViewCaller interface {
	CallView(ctx context.Context, contract common.Address, cabi abi.ABI, method string, args []any, status StatusFunc) ([]any, error)
}

// Executor extends ViewCaller with signed, broadcast write calls.
type Executor interface {
	ViewCaller
	CallWrite(ctx context.Context, req WriteRequest) (*WriteResult, error)
}

// WriteRequest is one state-changing contract call to sign and broadcast.
type WriteRequest struct {
	Wallet   *wallet.Wallet
	Contract common.Address
	ABI      abi.ABI
	Method   string
	Args     []any
	Value    *big.Int
	Status   StatusFunc
}

// WriteResult reports a confirmed transaction.
type WriteResult struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
}

type ExecutorOptions struct {
	PollInterval  time.Duration
	WriteTimeout  time.Duration
	GasMultiplier float64
}

func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		PollInterval:  2 * time.Second,
		WriteTimeout:  2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

// EthExecutor runs calls against a single EVM chain over one RPC endpoint.
type EthExecutor struct {
	client  *ethclient.Client
	chainID *big.Int
	opts    ExecutorOptions
}

func Dial(ctx context.Context, rpcURL string, chainID int64, opts ExecutorOptions) (*EthExecutor, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeUnavailable, "connect rpc", err)
	}
	return &EthExecutor{client: client, chainID: big.NewInt(chainID), opts: opts}, nil
}

func (e *EthExecutor) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

func (e *EthExecutor) CallView(ctx context.Context, contract common.Address, cabi abi.ABI, method string, args []any, status StatusFunc) ([]any, error) {
	data, err := cabi.Pack(method, args...)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeUsage, "encode call "+method, err)
	}
	if status != nil {
		status("calling " + method)
	}
	msg := ethereum.CallMsg{To: &contract, Data: data}
	raw, err := e.client.CallContract(ctx, msg, nil)
	if err != nil {
		if isRevert(err) {
			return nil, brokererr.Wrap(brokererr.CodeReverted, method+" reverted", err)
		}
		return nil, brokererr.Wrap(brokererr.CodeUnavailable, "call "+method, err)
	}
	out, err := cabi.Unpack(method, raw)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeInternal, "decode "+method+" result", err)
	}
	return out, nil
}

func (e *EthExecutor) CallWrite(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if req.Wallet == nil {
		return nil, brokererr.New(brokererr.CodeNoWallet, "no wallet for write call")
	}
	data, err := req.ABI.Pack(req.Method, req.Args...)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeUsage, "encode call "+req.Method, err)
	}
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	msg := ethereum.CallMsg{From: req.Wallet.Address, To: &req.Contract, Value: value, Data: data}

	report(req.Status, "simulating "+req.Method)
	if _, err := e.client.CallContract(ctx, msg, nil); err != nil {
		if isRevert(err) {
			return nil, brokererr.Wrap(brokererr.CodeReverted, req.Method+" would revert", err)
		}
		return nil, brokererr.Wrap(brokererr.CodeUnavailable, "simulate "+req.Method, err)
	}

	gasLimit, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeUnavailable, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * e.opts.GasMultiplier)

	tipCap, feeCap, err := e.suggestFees(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := e.client.PendingNonceAt(ctx, req.Wallet.Address)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &req.Contract,
		Value:     value,
		Data:      data,
	})
	signed, err := req.Wallet.SignTx(e.chainID, tx)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeInternal, "sign transaction", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return nil, brokererr.Wrap(brokererr.CodeUnavailable, "broadcast transaction", err)
	}
	report(req.Status, "submitted "+signed.Hash().Hex())

	return e.waitReceipt(ctx, signed.Hash(), req.Status)
}

func (e *EthExecutor) suggestFees(ctx context.Context) (tipCap, feeCap *big.Int, err error) {
	tipCap, err = e.client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, brokererr.Wrap(brokererr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap = new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return tipCap, feeCap, nil
}

func (e *EthExecutor) waitReceipt(ctx context.Context, hash common.Hash, status StatusFunc) (*WriteResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
	defer cancel()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	// Missing receipts and transient RPC failures alike are retried until
	// the deadline.
	for {
		receipt, err := e.client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				report(status, "confirmed in block "+receipt.BlockNumber.String())
				return &WriteResult{
					TxHash:      hash.Hex(),
					BlockNumber: receipt.BlockNumber.Uint64(),
					GasUsed:     receipt.GasUsed,
				}, nil
			}
			return nil, brokererr.New(brokererr.CodeReverted, "transaction reverted on-chain")
		}
		select {
		case <-waitCtx.Done():
			return nil, brokererr.Wrap(brokererr.CodeUnavailable, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func report(status StatusFunc, line string) {
	if status != nil {
		status(line)
	}
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}
