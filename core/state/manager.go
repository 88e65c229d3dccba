package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vouchernet/core/types"
	"vouchernet/storage"
)

// Manager reads and writes protocol state through a generic key-value
// database. Keys are keccak hashes of a short prefix plus the entity key;
// values are RLP-encoded storage records.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix      = []byte("account:")
	tokenRegistryPref  = []byte("token-registry:")
	tokenBalancePrefix = []byte("token-balance:")
	escrowNativePrefix = []byte("escrow-native:")
	escrowTokenPrefix  = []byte("escrow-token:")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) write(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// read decodes the stored value into out, reporting whether the key existed.
func (m *Manager) read(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) readBigInt(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.read(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) readUint(key []byte) (uint64, error) {
	var value uint64
	if _, err := m.read(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}

// --- Accounts ---

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func accountKey(addr [20]byte) []byte {
	return prefixedKey(accountPrefix, addr[:])
}

// GetAccount loads the account record, returning a zeroed account for
// addresses never seen before.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.read(accountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		account.Balance = new(big.Int).Set(stored.Balance)
	}
	return account, nil
}

// PutAccount persists the account record.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	clone := account.Clone()
	if clone.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative account balance")
	}
	return m.write(accountKey(addr), &storedAccount{Nonce: clone.Nonce, Balance: clone.Balance})
}

// --- Token registry and balances ---

// RegisterToken records a fungible token symbol as transferable.
func (m *Manager) RegisterToken(symbol string) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("state: empty token symbol")
	}
	return m.write(prefixedKey(tokenRegistryPref, []byte(normalized)), true)
}

// TokenRegistered reports whether the symbol has been registered.
func (m *Manager) TokenRegistered(symbol string) (bool, error) {
	var registered bool
	ok, err := m.read(prefixedKey(tokenRegistryPref, []byte(symbol)), &registered)
	if err != nil {
		return false, err
	}
	return ok && registered, nil
}

func tokenBalanceKey(symbol string, addr [20]byte) []byte {
	return prefixedKey(tokenBalancePrefix, []byte(symbol), []byte{':'}, addr[:])
}

// TokenBalance reports the account's balance of a fungible token.
func (m *Manager) TokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	return m.readBigInt(tokenBalanceKey(symbol, addr))
}

// SetTokenBalance overwrites the account's balance of a fungible token.
func (m *Manager) SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid token balance")
	}
	return m.write(tokenBalanceKey(symbol, addr), amount)
}

// --- Escrow balances ---

func escrowKey(asset string, addr [20]byte) []byte {
	if asset == "" {
		return prefixedKey(escrowNativePrefix, addr[:])
	}
	return prefixedKey(escrowTokenPrefix, []byte(asset), []byte{':'}, addr[:])
}

// EscrowBalance reports the escrowed amount held for the account in the
// asset (empty asset means native currency).
func (m *Manager) EscrowBalance(asset string, addr [20]byte) (*big.Int, error) {
	return m.readBigInt(escrowKey(asset, addr))
}

// EscrowCredit adds to the account's escrowed amount.
func (m *Manager) EscrowCredit(asset string, addr [20]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative escrow credit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.EscrowBalance(asset, addr)
	if err != nil {
		return err
	}
	return m.write(escrowKey(asset, addr), new(big.Int).Add(current, amt))
}

// EscrowDebit removes from the account's escrowed amount, failing on
// underflow.
func (m *Manager) EscrowDebit(asset string, addr [20]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: negative escrow debit")
	}
	if amt.Sign() == 0 {
		return nil
	}
	current, err := m.EscrowBalance(asset, addr)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: insufficient escrow balance")
	}
	return m.write(escrowKey(asset, addr), new(big.Int).Sub(current, amt))
}
