package cashier

import (
	"errors"
	"fmt"
	"math/big"

	"vouchernet/core/events"
	"vouchernet/core/types"
	nativecommon "vouchernet/native/common"
	"vouchernet/native/voucher"
)

var (
	errNilState  = errors.New("cashier: state not configured")
	errNilKernel = errors.New("cashier: voucher kernel not configured")
	errNilMover  = errors.New("cashier: asset mover not configured")
	errReentrant = errors.New("cashier: reentrant call")

	// ErrEscrowUnderflow means a distribution would drive an escrow balance
	// negative. It indicates a bookkeeping bug upstream and aborts the whole
	// withdrawal.
	ErrEscrowUnderflow = fmt.Errorf("%w: escrow balance underflow", voucher.ErrInvariant)

	// ErrDisasterInactive rejects escape-hatch withdrawals while the system
	// is operating normally.
	ErrDisasterInactive = fmt.Errorf("%w: disaster mode not active", voucher.ErrStateConflict)

	// ErrNotPaused rejects flipping the disaster flag on a live system.
	ErrNotPaused = fmt.Errorf("%w: cashier must be paused first", voucher.ErrStateConflict)
)

const moduleName = "cashier"

// NativeAsset is the asset identifier of the native currency; token legs use
// their registered symbol instead.
const NativeAsset = ""

type ledgerState interface {
	EscrowCredit(asset string, addr [20]byte, amt *big.Int) error
	EscrowDebit(asset string, addr [20]byte, amt *big.Int) error
	EscrowBalance(asset string, addr [20]byte) (*big.Int, error)
}

// KernelView is the cashier's read/flag surface on the voucher kernel. Status
// bits stay kernel-owned; the cashier only reads them and flips the two
// one-way release flags.
type KernelView interface {
	VoucherOf(id voucher.VoucherID) (*voucher.Record, error)
	SupplyOf(id voucher.SupplyID) (*voucher.Supply, error)
	PromiseOf(id voucher.PromiseID) (*voucher.Promise, error)
	HolderOf(id voucher.VoucherID) ([20]byte, error)
	MarkPaymentReleased(id voucher.VoucherID) error
	MarkDepositsReleased(id voucher.VoucherID) error
}

// AssetMover is the external transfer capability. Transfer pays out of the
// cashier vault; TransferFrom pulls funds into it under a caller-supplied,
// opaque authorization.
type AssetMover interface {
	Transfer(asset string, to [20]byte, amount *big.Int) error
	TransferFrom(asset string, from, to [20]byte, amount *big.Int, auth []byte) error
	Balance(asset string, account [20]byte) (*big.Int, error)
}

type cashierEvent struct {
	evt *types.Event
}

func (e cashierEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e cashierEvent) Event() *types.Event { return e.evt }

// Ledger tracks escrowed balances per account (and per asset per account) and
// computes how price and deposits split among holder, issuer and the protocol
// pool once a voucher's outcome is fixed.
type Ledger struct {
	state   ledgerState
	kernel  KernelView
	mover   AssetMover
	emitter events.Emitter
	pauses  nativecommon.PauseView

	pool     [20]byte
	vault    [20]byte
	disaster bool
	busy     bool
}

// NewLedger creates a cashier ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the escrow balance backend.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetKernel configures the voucher kernel view.
func (l *Ledger) SetKernel(kernel KernelView) { l.kernel = kernel }

// SetAssetMover configures the external transfer capability.
func (l *Ledger) SetAssetMover(mover AssetMover) { l.mover = mover }

// SetPool configures the protocol pool account receiving slashed shares.
func (l *Ledger) SetPool(pool [20]byte) { l.pool = pool }

// SetVault configures the module account escrowed funds actually sit in.
func (l *Ledger) SetVault(vault [20]byte) { l.vault = vault }

// SetPauses configures the pause view gating every mutating entry point.
func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets to no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// DisasterActive reports whether the escape hatch has been armed.
func (l *Ledger) DisasterActive() bool { return l.disaster }

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(cashierEvent{evt: event})
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.kernel == nil {
		return errNilKernel
	}
	if l.mover == nil {
		return errNilMover
	}
	return nil
}

func (l *Ledger) enter() error {
	if l.busy {
		return errReentrant
	}
	l.busy = true
	return nil
}

func (l *Ledger) exit() { l.busy = false }

func priceAsset(sup *voucher.Supply) string {
	if sup.Method.PriceInToken() {
		return sup.PriceToken
	}
	return NativeAsset
}

func depositAsset(sup *voucher.Supply) string {
	if sup.Method.DepositInToken() {
		return sup.DepositToken
	}
	return NativeAsset
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// FundCommit pulls the price plus buyer deposit from the holder into the
// vault and records both amounts as the holder's escrow. The router calls
// this immediately before the kernel commit.
func (l *Ledger) FundCommit(holder [20]byte, supplyID voucher.SupplyID, auth []byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	sup, prom, err := l.loadTerms(supplyID)
	if err != nil {
		return err
	}
	price := cloneBigInt(prom.Price)
	deposit := cloneBigInt(prom.DepositBuyer)
	if price.Sign() > 0 {
		if err := l.mover.TransferFrom(priceAsset(sup), holder, l.vault, price, auth); err != nil {
			return err
		}
		if err := l.state.EscrowCredit(priceAsset(sup), holder, price); err != nil {
			return err
		}
	}
	if deposit.Sign() > 0 {
		if err := l.mover.TransferFrom(depositAsset(sup), holder, l.vault, deposit, auth); err != nil {
			// The price leg is already escrowed; hand it back rather than
			// leave a half-funded commit behind.
			if unwindErr := l.unwindLeg(priceAsset(sup), holder, price); unwindErr != nil {
				return unwindErr
			}
			return err
		}
		if err := l.state.EscrowCredit(depositAsset(sup), holder, deposit); err != nil {
			return err
		}
	}
	return nil
}

// unwindLeg returns an already pulled and escrowed leg to its payer.
func (l *Ledger) unwindLeg(asset string, holder [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.state.EscrowDebit(asset, holder, amount); err != nil {
		return err
	}
	return l.mover.Transfer(asset, holder, amount)
}

// RefundCommit reverses FundCommit for a commit that never happened: the
// holder's escrow credits are debited and the pulled funds paid back out of
// the vault. The router calls this when the kernel rejects the commit after
// funding, so no escrow survives without a voucher to settle it against.
func (l *Ledger) RefundCommit(holder [20]byte, supplyID voucher.SupplyID) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	sup, prom, err := l.loadTerms(supplyID)
	if err != nil {
		return err
	}
	price := cloneBigInt(prom.Price)
	deposit := cloneBigInt(prom.DepositBuyer)
	if err := l.requireEscrow(priceAsset(sup), holder, price); err != nil {
		return err
	}
	if err := l.requireEscrow(depositAsset(sup), holder, deposit); err != nil {
		return err
	}
	if err := l.unwindLeg(priceAsset(sup), holder, price); err != nil {
		return err
	}
	return l.unwindLeg(depositAsset(sup), holder, deposit)
}

// FundSupply pulls the seller deposit for the whole offered quantity into the
// vault and records it as the seller's escrow.
func (l *Ledger) FundSupply(seller [20]byte, supplyID voucher.SupplyID, qty uint64, auth []byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if qty == 0 {
		return voucher.ErrInvalidQuantity
	}
	sup, prom, err := l.loadTerms(supplyID)
	if err != nil {
		return err
	}
	amount := new(big.Int).Mul(cloneBigInt(prom.DepositSeller), new(big.Int).SetUint64(qty))
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.mover.TransferFrom(depositAsset(sup), seller, l.vault, amount, auth); err != nil {
		return err
	}
	return l.state.EscrowCredit(depositAsset(sup), seller, amount)
}

func (l *Ledger) loadTerms(supplyID voucher.SupplyID) (*voucher.Supply, *voucher.Promise, error) {
	sup, err := l.kernel.SupplyOf(supplyID)
	if err != nil {
		return nil, nil, err
	}
	if !sup.Method.Valid() {
		return nil, nil, voucher.ErrInvalidPaymentMethod
	}
	prom, err := l.kernel.PromiseOf(sup.PromiseID)
	if err != nil {
		return nil, nil, err
	}
	return sup, prom, nil
}

func (l *Ledger) requireEscrow(asset string, addr [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	bal, err := l.state.EscrowBalance(asset, addr)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrEscrowUnderflow
	}
	return nil
}
