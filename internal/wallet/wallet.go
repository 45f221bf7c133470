package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
)

// Wallet is an unlocked signing identity.
type Wallet struct {
	Address    common.Address
	privateKey *ecdsa.PrivateKey
}

func (w *Wallet) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if w == nil || w.privateKey == nil {
		return nil, brokererr.New(brokererr.CodeInternal, "wallet is not unlocked for signing")
	}
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, w.privateKey)
}

// NewFromKey wraps a raw private key. Used by tests and embedded setups.
func NewFromKey(pk *ecdsa.PrivateKey) *Wallet {
	pub := pk.Public().(*ecdsa.PublicKey)
	return &Wallet{Address: crypto.PubkeyToAddress(*pub), privateKey: pk}
}

// Store resolves the active signing identity for a user. A user may keep the
// key behind a passphrase-protected keystore; in that case a secret must be
// supplied (or cached) before the wallet can be unlocked.
type Store interface {
	// ActiveWallet returns the user's wallet, or nil when the user has none.
	// A secret is only consulted for passphrase-protected wallets.
	ActiveWallet(userID, secret string) (*Wallet, error)
	// SecretRequired reports whether unlocking needs a passphrase.
	SecretRequired(userID string) bool
	// Secret returns the cached passphrase for a user, if one is live.
	Secret(userID string) (string, bool)
	// CacheSecret remembers a verified passphrase for later unlocks.
	CacheSecret(userID, secret string)
}

// FileStore keeps one wallet per user under dir: either <user>.key (plain
// hex private key, no secret needed) or <user>.json (geth keystore file,
// passphrase required). Unlock passphrases are cached with a TTL so a user
// is not re-prompted on every transaction.
type FileStore struct {
	dir string
	ttl time.Duration

	mu      sync.Mutex
	secrets map[string]cachedSecret
	now     func() time.Time
}

type cachedSecret struct {
	value   string
	expires time.Time
}

const defaultSecretTTL = 15 * time.Minute

func NewFileStore(dir string, ttl time.Duration) *FileStore {
	if ttl <= 0 {
		ttl = defaultSecretTTL
	}
	return &FileStore{
		dir:     dir,
		ttl:     ttl,
		secrets: make(map[string]cachedSecret),
		now:     time.Now,
	}
}

func (s *FileStore) keyPath(userID string) string {
	return filepath.Join(s.dir, userID+".key")
}

func (s *FileStore) keystorePath(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}

func (s *FileStore) SecretRequired(userID string) bool {
	if _, err := os.Stat(s.keyPath(userID)); err == nil {
		return false
	}
	_, err := os.Stat(s.keystorePath(userID))
	return err == nil
}

func (s *FileStore) Secret(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.secrets[userID]
	if !ok {
		return "", false
	}
	if s.now().After(entry.expires) {
		delete(s.secrets, userID)
		return "", false
	}
	return entry.value, true
}

// CacheSecret stores a verified passphrase for later unlocks.
func (s *FileStore) CacheSecret(userID, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[userID] = cachedSecret{value: secret, expires: s.now().Add(s.ttl)}
}

// ForgetSecret drops a cached passphrase, e.g. on lock or session close.
func (s *FileStore) ForgetSecret(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, userID)
}

func (s *FileStore) ActiveWallet(userID, secret string) (*Wallet, error) {
	if buf, err := os.ReadFile(s.keyPath(userID)); err == nil {
		pk, err := parseHexKey(string(buf))
		if err != nil {
			return nil, brokererr.Wrap(brokererr.CodeConfig, "parse wallet key file", err)
		}
		return NewFromKey(pk), nil
	}

	buf, err := os.ReadFile(s.keystorePath(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, brokererr.Wrap(brokererr.CodeUnavailable, "read wallet keystore", err)
	}
	if secret == "" {
		if cached, ok := s.Secret(userID); ok {
			secret = cached
		}
	}
	if secret == "" {
		return nil, brokererr.New(brokererr.CodeSecretRequired, "wallet passphrase required")
	}
	key, err := keystore.DecryptKey(buf, secret)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeSecretRequired, "decrypt wallet keystore", err)
	}
	return NewFromKey(key.PrivateKey), nil
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	return crypto.HexToECDSA(clean)
}
