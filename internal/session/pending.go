package session

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/PlasticDigits/tidaldex-broker/internal/chain"
	"github.com/PlasticDigits/tidaldex-broker/internal/integration"
)

// PendingTransaction is a staged write call awaiting confirmation. It is
// replaced atomically by prepareWriteCall and consumed by execute or cancel;
// the only in-place mutation is the swap path substitution performed during
// preparation, before the transaction becomes visible.
type PendingTransaction struct {
	Method          integration.Method
	ABI             abi.ABI
	ContractName    string
	ContractAddress string
	Processed       map[string]any
	Raw             map[string]any
	Preview         chain.Preview
}
