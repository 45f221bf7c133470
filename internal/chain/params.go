package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
	"github.com/PlasticDigits/tidaldex-broker/internal/integration"
)

// DecimalsSource resolves the decimals of an ERC20 token by address.
type DecimalsSource interface {
	Decimals(ctx context.Context, tokenAddress string) (int, error)
}

// Parameter rule types understood by the processor.
const (
	ParamTokenAmount   = "token_amount"
	ParamTimestamp     = "timestamp"
	ParamWalletAddress = "user_wallet_address"
)

// Default expressions allowed in integration descriptors.
const (
	DefaultDeadline      = "current_time + 5_minutes"
	DefaultWalletAddress = "user_wallet_address"
)

const deadlineWindow = 5 * time.Minute

// Native-coin placeholders accepted where a path expects a token address.
// The native coin always carries 18 decimals; router calls substitute the
// wrapped-native token for the address itself.
var nativePlaceholders = map[string]bool{"BNB": true, "ETH": true}

const NativeDecimals = 18

func IsNativePlaceholder(entry string) bool {
	return nativePlaceholders[strings.ToUpper(strings.TrimSpace(entry))]
}

// Processor turns raw intent parameters into on-chain values using the
// integration's per-parameter rules.
type Processor struct {
	now func() time.Time
}

func NewProcessor() *Processor {
	return &Processor{now: time.Now}
}

// ProcessParameters applies the integration's rules to each declared input of
// a method. Human token amounts become base units, missing deadlines default
// to five minutes out, and missing recipient params default to the user's
// wallet address.
func (p *Processor) ProcessParameters(ctx context.Context, in *integration.Integration, m integration.Method, raw map[string]any, userAddress string, decimals DecimalsSource) (map[string]any, error) {
	processed := make(map[string]any, len(m.Inputs))
	for _, name := range m.Inputs {
		value, present := raw[name]
		rule, hasRule := in.ParamRuleFor(name)
		if !hasRule {
			if !present {
				return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("missing parameter %s for %s", name, m.Name))
			}
			processed[name] = value
			continue
		}
		out, err := p.applyRule(ctx, name, rule, value, present, raw, userAddress, decimals)
		if err != nil {
			return nil, err
		}
		processed[name] = out
	}
	return processed, nil
}

func (p *Processor) applyRule(ctx context.Context, name string, rule integration.ParamRule, value any, present bool, raw map[string]any, userAddress string, decimals DecimalsSource) (any, error) {
	if !present || value == nil {
		fallback, err := p.defaultFor(name, rule, userAddress)
		if err != nil {
			return nil, err
		}
		value = fallback
		if rule.Type == ParamTimestamp || rule.Type == ParamWalletAddress {
			return value, nil
		}
	}

	switch rule.Type {
	case ParamTokenAmount:
		if !rule.ConvertFromHuman {
			return toBigInt(name, value)
		}
		tokenAddr, err := resolveDecimalsRef(rule.GetDecimalsFrom, raw)
		if err != nil {
			return nil, err
		}
		if IsNativePlaceholder(tokenAddr) {
			return humanToBaseUnits(name, value, NativeDecimals)
		}
		dec, err := decimals.Decimals(ctx, tokenAddr)
		if err != nil {
			return nil, brokererr.Wrap(brokererr.CodeUnavailable, "read decimals for "+name, err)
		}
		return humanToBaseUnits(name, value, dec)
	case ParamTimestamp:
		return toBigInt(name, value)
	case ParamWalletAddress:
		addr, ok := value.(string)
		if !ok || !common.IsHexAddress(addr) {
			return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("parameter %s is not an address", name))
		}
		return common.HexToAddress(addr).Hex(), nil
	default:
		return value, nil
	}
}

func (p *Processor) defaultFor(name string, rule integration.ParamRule, userAddress string) (any, error) {
	expr := rule.Default
	if expr == "" {
		switch rule.Type {
		case ParamTimestamp:
			expr = DefaultDeadline
		case ParamWalletAddress:
			expr = DefaultWalletAddress
		}
	}
	switch expr {
	case DefaultDeadline:
		return new(big.Int).SetInt64(p.now().Add(deadlineWindow).Unix()), nil
	case DefaultWalletAddress:
		if userAddress == "" {
			return nil, brokererr.New(brokererr.CodeNoWallet, fmt.Sprintf("parameter %s needs a wallet address", name))
		}
		return userAddress, nil
	case "":
		return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("missing parameter %s", name))
	default:
		return expr, nil
	}
}

// resolveDecimalsRef resolves a get_decimals_from reference. Refs of the form
// path[0] and path[-1] point into the call's path parameter; anything else is
// the name of an address-valued parameter.
func resolveDecimalsRef(ref string, raw map[string]any) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", brokererr.New(brokererr.CodeConfig, "token_amount rule missing get_decimals_from")
	}
	if open := strings.Index(ref, "["); open >= 0 && strings.HasSuffix(ref, "]") {
		base, index := ref[:open], ref[open+1:len(ref)-1]
		list, err := toStringSlice(raw[base])
		if err != nil || len(list) == 0 {
			return "", brokererr.New(brokererr.CodeUsage, fmt.Sprintf("parameter %s is not a usable path", base))
		}
		switch index {
		case "0":
			return list[0], nil
		case "-1":
			return list[len(list)-1], nil
		default:
			return "", brokererr.New(brokererr.CodeConfig, "unsupported path index in "+ref)
		}
	}
	addr, err := toStringValue(raw[ref])
	if err != nil {
		return "", brokererr.New(brokererr.CodeUsage, fmt.Sprintf("parameter %s is not an address", ref))
	}
	return addr, nil
}

func humanToBaseUnits(name string, value any, decimals int) (*big.Int, error) {
	var amount decimal.Decimal
	switch v := value.(type) {
	case *big.Int:
		// Already in base units; staged internally, not human-supplied.
		return v, nil
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, brokererr.Wrap(brokererr.CodeUsage, "parse amount "+name, err)
		}
		amount = parsed
	case float64:
		amount = decimal.NewFromFloat(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	case int64:
		amount = decimal.NewFromInt(v)
	case decimal.Decimal:
		amount = v
	default:
		return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("parameter %s has unsupported amount type %T", name, value))
	}
	if amount.Sign() < 0 {
		return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("parameter %s must be non-negative", name))
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.IsInteger() {
		scaled = scaled.Floor()
	}
	return scaled.BigInt(), nil
}

func toBigInt(name string, value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return v, nil
	case string:
		out, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
		if !ok {
			return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("parameter %s is not an integer", name))
		}
		return out, nil
	case float64:
		return new(big.Int).SetInt64(int64(v)), nil
	case int:
		return new(big.Int).SetInt64(int64(v)), nil
	case int64:
		return new(big.Int).SetInt64(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("parameter %s has unsupported integer type %T", name, value))
	}
}

func toStringValue(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("not a string")
	}
	return s, nil
}

func toStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("non-string path entry %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("not a list")
	}
}

// OrderedArgs coerces processed parameters into the ABI-typed argument list
// the method expects, in the method's declared input order.
func OrderedArgs(cabi abi.ABI, method string, inputs []string, processed map[string]any) ([]any, error) {
	m, ok := cabi.Methods[method]
	if !ok {
		return nil, brokererr.New(brokererr.CodeConfig, "abi has no method "+method)
	}
	if len(m.Inputs) != len(inputs) {
		return nil, brokererr.New(brokererr.CodeConfig,
			fmt.Sprintf("method %s expects %d arguments, descriptor declares %d", method, len(m.Inputs), len(inputs)))
	}
	args := make([]any, 0, len(m.Inputs))
	for i, input := range m.Inputs {
		value, present := processed[inputs[i]]
		if !present {
			return nil, brokererr.New(brokererr.CodeUsage, "missing argument "+inputs[i])
		}
		coerced, err := coerceABIValue(input.Type, inputs[i], value)
		if err != nil {
			return nil, err
		}
		args = append(args, coerced)
	}
	return args, nil
}

func coerceABIValue(t abi.Type, name string, value any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		s, err := toStringValue(value)
		if err != nil {
			if addr, ok := value.(common.Address); ok {
				return addr, nil
			}
			return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("argument %s is not an address", name))
		}
		if !common.IsHexAddress(s) {
			return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("argument %s is not an address", name))
		}
		return common.HexToAddress(s), nil
	case abi.SliceTy, abi.ArrayTy:
		if t.Elem != nil && t.Elem.T == abi.AddressTy {
			if addrs, ok := value.([]common.Address); ok {
				return addrs, nil
			}
			list, err := toStringSlice(value)
			if err != nil {
				return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("argument %s is not an address list", name))
			}
			out := make([]common.Address, 0, len(list))
			for _, item := range list {
				if !common.IsHexAddress(item) {
					return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("argument %s contains invalid address %s", name, item))
				}
				out = append(out, common.HexToAddress(item))
			}
			return out, nil
		}
		return value, nil
	case abi.UintTy, abi.IntTy:
		return toBigInt(name, value)
	case abi.BoolTy:
		b, ok := value.(bool)
		if !ok {
			return nil, brokererr.New(brokererr.CodeUsage, fmt.Sprintf("argument %s is not a bool", name))
		}
		return b, nil
	case abi.StringTy:
		return toStringValue(value)
	default:
		return value, nil
	}
}
