package wallet

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
)

func TestActiveWalletFromHexKeyFile(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	if err := os.WriteFile(filepath.Join(dir, "user-1.key"), []byte("0x"+hexKey+"\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	store := NewFileStore(dir, 0)
	if store.SecretRequired("user-1") {
		t.Fatalf("hex key file must not require a secret")
	}
	w, err := store.ActiveWallet("user-1", "")
	if err != nil {
		t.Fatalf("ActiveWallet: %v", err)
	}
	if w.Address != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("address: got %s", w.Address.Hex())
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(56),
		Gas:       21000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		To:        &common.Address{},
		Value:     big.NewInt(0),
	})
	signed, err := w.SignTx(big.NewInt(56), tx)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(56)), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != w.Address {
		t.Fatalf("sender: got %s want %s", sender.Hex(), w.Address.Hex())
	}
}

func TestActiveWalletMissingUser(t *testing.T) {
	store := NewFileStore(t.TempDir(), 0)
	w, err := store.ActiveWallet("nobody", "")
	if err != nil || w != nil {
		t.Fatalf("missing user: wallet=%v err=%v", w, err)
	}
	if store.SecretRequired("nobody") {
		t.Fatalf("missing user cannot require a secret")
	}
}

func TestKeystoreRequiresSecret(t *testing.T) {
	dir := t.TempDir()
	// Not a decryptable keystore, but enough to exercise the gating path.
	if err := os.WriteFile(filepath.Join(dir, "user-2.json"), []byte(`{"version":3}`), 0o600); err != nil {
		t.Fatalf("write keystore: %v", err)
	}
	store := NewFileStore(dir, 0)
	if !store.SecretRequired("user-2") {
		t.Fatalf("keystore file must require a secret")
	}
	_, err := store.ActiveWallet("user-2", "")
	if !brokererr.HasCode(err, brokererr.CodeSecretRequired) {
		t.Fatalf("expected CodeSecretRequired, got %v", err)
	}
}

func TestSecretCacheTTL(t *testing.T) {
	store := NewFileStore(t.TempDir(), time.Minute)
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.CacheSecret("user-1", "1234")
	if got, ok := store.Secret("user-1"); !ok || got != "1234" {
		t.Fatalf("cached secret: %q %v", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := store.Secret("user-1"); ok {
		t.Fatalf("secret survived its TTL")
	}

	store.CacheSecret("user-1", "5678")
	store.ForgetSecret("user-1")
	if _, ok := store.Secret("user-1"); ok {
		t.Fatalf("secret survived ForgetSecret")
	}
}
