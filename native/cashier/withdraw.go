package cashier

import (
	"fmt"
	"math/big"

	nativecommon "vouchernet/native/common"
	"vouchernet/native/voucher"
)

// voucherDetails aggregates one voucher's terms, current status and the
// per-party amounts computed for a single withdrawal. Built fresh on every
// withdraw call and discarded after.
type voucherDetails struct {
	id     voucher.VoucherID
	sup    *voucher.Supply
	prom   *voucher.Promise
	rec    *voucher.Record
	holder [20]byte
	issuer [20]byte

	price2issuer *big.Int
	price2holder *big.Int

	deposit2pool   *big.Int
	deposit2issuer *big.Int
	deposit2holder *big.Int

	releasePayment  bool
	releaseDeposits bool
}

func (l *Ledger) loadDetails(id voucher.VoucherID) (*voucherDetails, error) {
	rec, err := l.kernel.VoucherOf(id)
	if err != nil {
		return nil, err
	}
	sup, prom, err := l.loadTerms(id.Supply)
	if err != nil {
		return nil, err
	}
	holder, err := l.kernel.HolderOf(id)
	if err != nil {
		return nil, err
	}
	return &voucherDetails{
		id:             id,
		sup:            sup,
		prom:           prom,
		rec:            rec,
		holder:         holder,
		issuer:         prom.Seller,
		price2issuer:   big.NewInt(0),
		price2holder:   big.NewInt(0),
		deposit2pool:   big.NewInt(0),
		deposit2issuer: big.NewInt(0),
		deposit2holder: big.NewInt(0),
	}, nil
}

// Withdraw distributes whatever portion of the voucher's escrowed price and
// deposits has become releasable. Callable by anyone; the caller only pays
// the cost of distribution, never influences who receives funds. Once both
// release flags are set the call is a no-op.
func (l *Ledger) Withdraw(id voucher.VoucherID) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	d, err := l.loadDetails(id)
	if err != nil {
		return err
	}
	l.computePaymentRelease(d)
	l.computeDepositRelease(d)

	// Validate every debit against current escrow before mutating anything,
	// so a bookkeeping bug aborts the withdrawal with no partial effects.
	price := cloneBigInt(d.prom.Price)
	if d.releasePayment {
		if err := l.requireEscrow(priceAsset(d.sup), d.holder, price); err != nil {
			return err
		}
	}
	if d.releaseDeposits {
		if err := l.requireEscrow(depositAsset(d.sup), d.issuer, cloneBigInt(d.prom.DepositSeller)); err != nil {
			return err
		}
		if err := l.requireEscrow(depositAsset(d.sup), d.holder, cloneBigInt(d.prom.DepositBuyer)); err != nil {
			return err
		}
	}

	if d.releasePayment {
		if err := l.state.EscrowDebit(priceAsset(d.sup), d.holder, price); err != nil {
			return err
		}
		if err := l.kernel.MarkPaymentReleased(id); err != nil {
			return err
		}
	}
	if d.releaseDeposits {
		if err := l.state.EscrowDebit(depositAsset(d.sup), d.issuer, cloneBigInt(d.prom.DepositSeller)); err != nil {
			return err
		}
		if err := l.state.EscrowDebit(depositAsset(d.sup), d.holder, cloneBigInt(d.prom.DepositBuyer)); err != nil {
			return err
		}
		if err := l.kernel.MarkDepositsReleased(id); err != nil {
			return err
		}
	}

	if err := l.payOut(priceAsset(d.sup), d.issuer, d.price2issuer); err != nil {
		return err
	}
	if err := l.payOut(priceAsset(d.sup), d.holder, d.price2holder); err != nil {
		return err
	}
	if err := l.payOut(depositAsset(d.sup), l.pool, d.deposit2pool); err != nil {
		return err
	}
	if err := l.payOut(depositAsset(d.sup), d.issuer, d.deposit2issuer); err != nil {
		return err
	}
	if err := l.payOut(depositAsset(d.sup), d.holder, d.deposit2holder); err != nil {
		return err
	}
	if d.releasePayment || d.releaseDeposits {
		l.emit(NewWithdrawEvent(d.id, d.price2issuer, d.price2holder, d.deposit2pool, d.deposit2issuer, d.deposit2holder))
	}
	return nil
}

// computePaymentRelease routes the escrowed price: to the issuer on
// redemption, back to the holder on refund, expiry or a pre-redemption
// cancel. A voucher that has reached none of those keeps its price escrowed.
func (l *Ledger) computePaymentRelease(d *voucherDetails) {
	if d.rec.PaymentReleased {
		return
	}
	st := d.rec.Status
	price := cloneBigInt(d.prom.Price)
	switch {
	case st.Has(voucher.StatusRedeemed):
		d.price2issuer = price
	case st.Has(voucher.StatusRefunded), st.Has(voucher.StatusExpired),
		st.Has(voucher.StatusCancelFault) && !st.Has(voucher.StatusRedeemed):
		d.price2holder = price
	default:
		return
	}
	d.releasePayment = true
}

// computeDepositRelease splits both deposits once the voucher is finalized.
// The complained-and-cancelled three-way split is deliberately expressed as
// nested halving with the exact remainder routed to the pool, so conservation
// holds bit-for-bit on odd amounts.
func (l *Ledger) computeDepositRelease(d *voucherDetails) {
	if d.rec.DepositsReleased || !d.rec.Status.Has(voucher.StatusFinalized) {
		return
	}
	st := d.rec.Status
	depositSe := cloneBigInt(d.prom.DepositSeller)
	depositBu := cloneBigInt(d.prom.DepositBuyer)

	if st.Has(voucher.StatusComplained) {
		if st.Has(voucher.StatusCancelFault) {
			half := new(big.Int).Div(depositSe, big.NewInt(2))
			quarter := new(big.Int).Div(half, big.NewInt(2))
			d.deposit2holder.Add(d.deposit2holder, half)
			d.deposit2issuer.Add(d.deposit2issuer, quarter)
			remainder := new(big.Int).Sub(depositSe, half)
			remainder.Sub(remainder, quarter)
			d.deposit2pool.Add(d.deposit2pool, remainder)
		} else {
			d.deposit2pool.Add(d.deposit2pool, depositSe)
		}
	} else if st.Has(voucher.StatusCancelFault) {
		half := new(big.Int).Div(depositSe, big.NewInt(2))
		d.deposit2issuer.Add(d.deposit2issuer, half)
		d.deposit2holder.Add(d.deposit2holder, new(big.Int).Sub(depositSe, half))
	} else {
		d.deposit2issuer.Add(d.deposit2issuer, depositSe)
	}

	if st.Has(voucher.StatusRedeemed) || st.Has(voucher.StatusCancelFault) {
		d.deposit2holder.Add(d.deposit2holder, depositBu)
	} else {
		d.deposit2pool.Add(d.deposit2pool, depositBu)
	}
	d.releaseDeposits = true
}

// payOut runs after the escrow debits and release flags, so a vault that
// cannot cover a leg means the escrow bookkeeping and the vault balance have
// diverged. That is the same fatal class as an escrow underflow, not a
// retryable condition.
func (l *Ledger) payOut(asset string, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := l.mover.Transfer(asset, to, amount); err != nil {
		return fmt.Errorf("%w: vault payout failed: %v", voucher.ErrInvariant, err)
	}
	return nil
}

// WithdrawDepositsSeller pays back the seller deposits covering burnedQty
// units of cancelled or unsold supply. This path settles at voucher-set
// granularity and bypasses the per-voucher release flags.
func (l *Ledger) WithdrawDepositsSeller(supplyID voucher.SupplyID, burnedQty uint64, seller [20]byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if burnedQty == 0 {
		return voucher.ErrInvalidQuantity
	}
	sup, prom, err := l.loadTerms(supplyID)
	if err != nil {
		return err
	}
	if prom.Seller != seller {
		return voucher.ErrNotSeller
	}
	amount := new(big.Int).Mul(cloneBigInt(prom.DepositSeller), new(big.Int).SetUint64(burnedQty))
	if amount.Sign() == 0 {
		return nil
	}
	asset := depositAsset(sup)
	if err := l.requireEscrow(asset, seller, amount); err != nil {
		return err
	}
	if err := l.state.EscrowDebit(asset, seller, amount); err != nil {
		return err
	}
	if err := l.mover.Transfer(asset, seller, amount); err != nil {
		return err
	}
	l.emit(NewSellerDepositsWithdrawnEvent(supplyID, seller, burnedQty, amount))
	return nil
}

// OnVoucherTransfer repoints the escrow still in play for the voucher from
// the old holder to the new one: the price while the payment is unreleased,
// the buyer deposit while the deposits are unreleased.
func (l *Ledger) OnVoucherTransfer(id voucher.VoucherID, from, to [20]byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	rec, err := l.kernel.VoucherOf(id)
	if err != nil {
		return err
	}
	sup, prom, err := l.loadTerms(id.Supply)
	if err != nil {
		return err
	}
	if !rec.PaymentReleased {
		if err := l.moveEscrow(priceAsset(sup), from, to, cloneBigInt(prom.Price)); err != nil {
			return err
		}
	}
	if !rec.DepositsReleased {
		if err := l.moveEscrow(depositAsset(sup), from, to, cloneBigInt(prom.DepositBuyer)); err != nil {
			return err
		}
	}
	return nil
}

// OnSupplyTransfer repoints the seller-deposit escrow covering the
// still-unsold quantity when a supply token changes hands.
func (l *Ledger) OnSupplyTransfer(supplyID voucher.SupplyID, from, to [20]byte, remainingQty uint64) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if remainingQty == 0 {
		return nil
	}
	sup, prom, err := l.loadTerms(supplyID)
	if err != nil {
		return err
	}
	amount := new(big.Int).Mul(cloneBigInt(prom.DepositSeller), new(big.Int).SetUint64(remainingQty))
	return l.moveEscrow(depositAsset(sup), from, to, amount)
}

func (l *Ledger) moveEscrow(asset string, from, to [20]byte, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.requireEscrow(asset, from, amount); err != nil {
		return err
	}
	if err := l.state.EscrowDebit(asset, from, amount); err != nil {
		return err
	}
	return l.state.EscrowCredit(asset, to, amount)
}

// ActivateDisaster arms the escape hatch. It requires the cashier to be
// paused, may only be flipped by the pool owner, and cannot be unset.
func (l *Ledger) ActivateDisaster(caller [20]byte) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if caller != l.pool {
		return voucher.ErrNotOwner
	}
	if l.pauses == nil || !l.pauses.IsPaused(moduleName) {
		return ErrNotPaused
	}
	if l.disaster {
		return nil
	}
	l.disaster = true
	l.emit(NewDisasterActivatedEvent(caller))
	return nil
}

// DisasterWithdraw pays the caller their entire native escrow balance,
// bypassing per-voucher logic. Only reachable while paused with the disaster
// flag armed.
func (l *Ledger) DisasterWithdraw(caller [20]byte) error {
	return l.disasterWithdraw(NativeAsset, caller)
}

// DisasterWithdrawToken is DisasterWithdraw for a token escrow balance.
func (l *Ledger) DisasterWithdrawToken(asset string, caller [20]byte) error {
	if asset == NativeAsset {
		return voucher.ErrInvalidPaymentMethod
	}
	return l.disasterWithdraw(asset, caller)
}

func (l *Ledger) disasterWithdraw(asset string, caller [20]byte) error {
	if err := l.ready(); err != nil {
		return err
	}
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()
	if !l.disaster || l.pauses == nil || !l.pauses.IsPaused(moduleName) {
		return ErrDisasterInactive
	}
	balance, err := l.state.EscrowBalance(asset, caller)
	if err != nil {
		return err
	}
	if balance.Sign() == 0 {
		return nil
	}
	if err := l.state.EscrowDebit(asset, caller, balance); err != nil {
		return err
	}
	if err := l.mover.Transfer(asset, caller, balance); err != nil {
		return err
	}
	l.emit(NewDisasterWithdrawalEvent(asset, caller, balance))
	return nil
}

// EscrowBalance exposes the current escrow of an account for an asset.
func (l *Ledger) EscrowBalance(asset string, addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.EscrowBalance(asset, addr)
}
