package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"vouchernet/core/types"
	"vouchernet/native/voucher"
)

var (
	errNilState = errors.New("bank: state not configured")

	// ErrInsufficientBalance distinguishes a failed transfer from a failed
	// call: the call itself succeeded, the payer just cannot cover it.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", voucher.ErrStateConflict)

	// ErrMissingAuthorization rejects pull-transfers without a spend
	// authorization attached.
	ErrMissingAuthorization = fmt.Errorf("%w: transfer authorization required", voucher.ErrAuthorization)

	// ErrUnknownToken rejects transfers in a token the registry has never
	// seen.
	ErrUnknownToken = fmt.Errorf("%w: unknown token", voucher.ErrValidation)
)

type moverState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	TokenBalance(symbol string, addr [20]byte) (*big.Int, error)
	SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error
	TokenRegistered(symbol string) (bool, error)
}

// Mover is the default asset-mover capability: it shifts native and token
// balances between accounts, paying out of a configured vault account.
// Authorization payloads are treated as opaque pre-verified permits; the
// signature scheme itself lives outside the protocol core.
type Mover struct {
	state moverState
	vault [20]byte
}

func NewMover() *Mover { return &Mover{} }

// SetState configures the account/balance backend.
func (m *Mover) SetState(state moverState) { m.state = state }

// SetVault configures the module account that escrowed funds sit in and that
// Transfer pays out of.
func (m *Mover) SetVault(vault [20]byte) { m.vault = vault }

// Vault returns the configured module account.
func (m *Mover) Vault() [20]byte { return m.vault }

func (m *Mover) ready() error {
	if m == nil || m.state == nil {
		return errNilState
	}
	return nil
}

// Transfer pays amount out of the vault to the recipient.
func (m *Mover) Transfer(asset string, to [20]byte, amount *big.Int) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.move(asset, m.vault, to, amount)
}

// TransferFrom pulls amount from the payer to the recipient under the
// supplied authorization.
func (m *Mover) TransferFrom(asset string, from, to [20]byte, amount *big.Int, auth []byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	if len(auth) == 0 {
		return ErrMissingAuthorization
	}
	return m.move(asset, from, to, amount)
}

// Balance reports the spendable (non-escrowed) balance of an account.
func (m *Mover) Balance(asset string, account [20]byte) (*big.Int, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if asset == "" {
		acc, err := m.state.GetAccount(account)
		if err != nil {
			return nil, err
		}
		return acc.Clone().Balance, nil
	}
	normalized, err := m.normalizeToken(asset)
	if err != nil {
		return nil, err
	}
	return m.state.TokenBalance(normalized, account)
}

func (m *Mover) move(asset string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return voucher.ErrInvalidAmount
	}
	if asset == "" {
		return m.moveNative(from, to, amount)
	}
	normalized, err := m.normalizeToken(asset)
	if err != nil {
		return err
	}
	return m.moveToken(normalized, from, to, amount)
}

func (m *Mover) moveNative(from, to [20]byte, amount *big.Int) error {
	fromAcc, err := m.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := m.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Clone()
	toAcc = toAcc.Clone()
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.state.PutAccount(to, toAcc)
}

func (m *Mover) moveToken(symbol string, from, to [20]byte, amount *big.Int) error {
	fromBal, err := m.state.TokenBalance(symbol, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBal, err := m.state.TokenBalance(symbol, to)
	if err != nil {
		return err
	}
	if err := m.state.SetTokenBalance(symbol, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.state.SetTokenBalance(symbol, to, new(big.Int).Add(toBal, amount))
}

func (m *Mover) normalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", ErrUnknownToken
	}
	registered, err := m.state.TokenRegistered(trimmed)
	if err != nil {
		return "", err
	}
	if !registered {
		return "", ErrUnknownToken
	}
	return trimmed, nil
}
