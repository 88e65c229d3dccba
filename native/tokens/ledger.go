package tokens

import (
	"errors"
	"fmt"

	"vouchernet/native/voucher"
)

var (
	errNilState = errors.New("token ledger: state not configured")

	// ErrVoucherExists guards against minting the same unique voucher twice.
	ErrVoucherExists = fmt.Errorf("%w: voucher token already minted", voucher.ErrInvariant)

	// ErrUnknownVoucher is returned when resolving the owner of a voucher
	// token that was never minted.
	ErrUnknownVoucher = fmt.Errorf("%w: unknown voucher token", voucher.ErrValidation)

	// ErrInsufficientSupply rejects burning more supply units than held.
	ErrInsufficientSupply = fmt.Errorf("%w: insufficient supply balance", voucher.ErrStateConflict)

	// ErrNotTokenOwner rejects a transfer not initiated by the owner.
	ErrNotTokenOwner = fmt.Errorf("%w: not the token owner", voucher.ErrAuthorization)
)

type ledgerState interface {
	SupplyBalanceGet(addr [20]byte, id voucher.SupplyID) (uint64, error)
	SupplyBalanceSet(addr [20]byte, id voucher.SupplyID, qty uint64) error
	VoucherOwnerGet(id voucher.VoucherID) ([20]byte, bool)
	VoucherOwnerSet(id voucher.VoucherID, owner [20]byte) error
}

// Ledger is the default in-process implementation of the kernel's token
// registry: fungible supply balances per voucher set plus unique ownership of
// individual voucher tokens. Mints and burns are atomic over the backing
// state.
type Ledger struct {
	state ledgerState
}

func NewLedger() *Ledger { return &Ledger{} }

// SetState configures the state backend.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return nil
}

// MintSupply credits qty supply units of a voucher set to the account.
func (l *Ledger) MintSupply(to [20]byte, id voucher.SupplyID, qty uint64) error {
	if err := l.ready(); err != nil {
		return err
	}
	if qty == 0 {
		return voucher.ErrInvalidQuantity
	}
	if to == ([20]byte{}) {
		return voucher.ErrZeroAddress
	}
	current, err := l.state.SupplyBalanceGet(to, id)
	if err != nil {
		return err
	}
	return l.state.SupplyBalanceSet(to, id, current+qty)
}

// BurnSupply removes qty supply units from the account.
func (l *Ledger) BurnSupply(from [20]byte, id voucher.SupplyID, qty uint64) error {
	if err := l.ready(); err != nil {
		return err
	}
	if qty == 0 {
		return voucher.ErrInvalidQuantity
	}
	current, err := l.state.SupplyBalanceGet(from, id)
	if err != nil {
		return err
	}
	if current < qty {
		return ErrInsufficientSupply
	}
	return l.state.SupplyBalanceSet(from, id, current-qty)
}

// SupplyBalance reports the account's holdings of a voucher set.
func (l *Ledger) SupplyBalance(account [20]byte, id voucher.SupplyID) (uint64, error) {
	if err := l.ready(); err != nil {
		return 0, err
	}
	return l.state.SupplyBalanceGet(account, id)
}

// MintVoucher creates the unique voucher token owned by the account.
func (l *Ledger) MintVoucher(to [20]byte, id voucher.VoucherID) error {
	if err := l.ready(); err != nil {
		return err
	}
	if to == ([20]byte{}) {
		return voucher.ErrZeroAddress
	}
	if _, exists := l.state.VoucherOwnerGet(id); exists {
		return ErrVoucherExists
	}
	return l.state.VoucherOwnerSet(id, to)
}

// VoucherOwner resolves the current owner of a voucher token.
func (l *Ledger) VoucherOwner(id voucher.VoucherID) ([20]byte, error) {
	if err := l.ready(); err != nil {
		return [20]byte{}, err
	}
	owner, ok := l.state.VoucherOwnerGet(id)
	if !ok {
		return [20]byte{}, ErrUnknownVoucher
	}
	return owner, nil
}

// TransferVoucher moves a voucher token between accounts. Escrow rebalancing
// is the cashier's half of this hook; the router invokes both.
func (l *Ledger) TransferVoucher(from, to [20]byte, id voucher.VoucherID) error {
	if err := l.ready(); err != nil {
		return err
	}
	if to == ([20]byte{}) {
		return voucher.ErrZeroAddress
	}
	owner, ok := l.state.VoucherOwnerGet(id)
	if !ok {
		return ErrUnknownVoucher
	}
	if owner != from {
		return ErrNotTokenOwner
	}
	return l.state.VoucherOwnerSet(id, to)
}

// TransferSupply moves qty supply units between accounts.
func (l *Ledger) TransferSupply(from, to [20]byte, id voucher.SupplyID, qty uint64) error {
	if err := l.ready(); err != nil {
		return err
	}
	if to == ([20]byte{}) {
		return voucher.ErrZeroAddress
	}
	if err := l.BurnSupply(from, id, qty); err != nil {
		return err
	}
	return l.MintSupply(to, id, qty)
}
