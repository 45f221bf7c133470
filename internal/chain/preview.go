package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Conservative figures used when gas estimation fails; a preview should
// never be blocked by a flaky estimate.
const (
	fallbackGasLimit = 250_000
	fallbackGasPrice = 5_000_000_000 // 5 gwei
)

// GasEstimate is the fee projection shown in a transaction preview.
type GasEstimate struct {
	GasLimit    uint64
	GasPriceWei *big.Int
	CostWei     *big.Int
	Fallback    bool
}

func (g GasEstimate) CostNative() string {
	return decimal.NewFromBigInt(g.CostWei, -18).String()
}

// GasEstimator projects the fee for a prospective write call.
type GasEstimator interface {
	EstimateWriteGas(ctx context.Context, from, contract common.Address, cabi abi.ABI, method string, args []any, value *big.Int) GasEstimate
}

// EstimateWriteGas never fails: when the node cannot estimate, the preview
// carries conservative fallback figures and Fallback is set.
func (e *EthExecutor) EstimateWriteGas(ctx context.Context, from, contract common.Address, cabi abi.ABI, method string, args []any, value *big.Int) GasEstimate {
	fallback := GasEstimate{
		GasLimit:    fallbackGasLimit,
		GasPriceWei: big.NewInt(fallbackGasPrice),
		CostWei:     new(big.Int).Mul(big.NewInt(fallbackGasLimit), big.NewInt(fallbackGasPrice)),
		Fallback:    true,
	}
	data, err := cabi.Pack(method, args...)
	if err != nil {
		return fallback
	}
	if value == nil {
		value = big.NewInt(0)
	}
	msg := ethereum.CallMsg{From: from, To: &contract, Value: value, Data: data}
	gasLimit, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return fallback
	}
	gasLimit = uint64(float64(gasLimit) * e.opts.GasMultiplier)
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		gasPrice = big.NewInt(fallbackGasPrice)
	}
	return GasEstimate{
		GasLimit:    gasLimit,
		GasPriceWei: gasPrice,
		CostWei:     new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice),
	}
}

// Preview is everything a user sees before confirming a write call.
type Preview struct {
	Method          string
	Contract        string
	ContractAddress string
	Explanation     string
	Gas             GasEstimate
	Processed       map[string]any
	Raw             map[string]any
}

// ConfirmationText renders the preview as the confirmation prompt.
func (p Preview) ConfirmationText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confirm transaction: %s on %s\n", p.Method, p.Contract)
	if p.Explanation != "" {
		fmt.Fprintf(&b, "%s\n", p.Explanation)
	}
	fmt.Fprintf(&b, "Contract: %s\n", p.ContractAddress)
	fmt.Fprintf(&b, "Estimated gas: %d (~%s native)", p.Gas.GasLimit, p.Gas.CostNative())
	if p.Gas.Fallback {
		b.WriteString(" [estimate unavailable, conservative figures]")
	}
	return b.String()
}
