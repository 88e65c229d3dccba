package voucher

import (
	"errors"
	"fmt"
	"time"

	"vouchernet/core/events"
	"vouchernet/core/types"
	nativecommon "vouchernet/native/common"
)

var (
	errNilState  = errors.New("voucher kernel: state not configured")
	errNilTokens = errors.New("voucher kernel: token ledger not configured")
)

const (
	moduleName = "voucher"

	// Offers must stay valid for at least five minutes past creation so an
	// instantly-expired promise can never be published.
	minValidityBuffer int64 = 5 * 60

	DefaultComplainPeriod    int64 = 7 * 24 * 60 * 60
	DefaultCancelFaultPeriod int64 = 7 * 24 * 60 * 60
)

type kernelState interface {
	PromisePut(*Promise) error
	PromiseGet(id PromiseID) (*Promise, bool)
	PromiseIndexAppend(id PromiseID) (uint64, error)
	SellerNonce(addr [20]byte) (uint64, error)
	SetSellerNonce(addr [20]byte, nonce uint64) error
	NextSupplyID() (SupplyID, error)
	SupplyPut(*Supply) error
	SupplyGet(id SupplyID) (*Supply, bool)
	NextVoucherSeq(id SupplyID) (uint64, error)
	VoucherPut(*Record) error
	VoucherGet(id VoucherID) (*Record, bool)
}

// TokenLedger is the external registry of supply and voucher tokens. Supply
// units are fungible per set; vouchers are unique and owned.
type TokenLedger interface {
	MintSupply(to [20]byte, id SupplyID, qty uint64) error
	BurnSupply(from [20]byte, id SupplyID, qty uint64) error
	SupplyBalance(account [20]byte, id SupplyID) (uint64, error)
	MintVoucher(to [20]byte, id VoucherID) error
	VoucherOwner(id VoucherID) ([20]byte, error)
}

type kernelEvent struct {
	evt *types.Event
}

func (e kernelEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e kernelEvent) Event() *types.Event { return e.evt }

// Kernel owns per-voucher status and enforces the legal lifecycle
// transitions: commit, then redeem/refund/expire, then complain and
// cancel-or-fault inside their time-boxed windows, terminating in finalize.
// Escrowed funds are the cashier's concern; the kernel only records state.
type Kernel struct {
	state             kernelState
	tokens            TokenLedger
	emitter           events.Emitter
	pauses            nativecommon.PauseView
	nowFn             func() int64
	salt              [32]byte
	complainPeriod    int64
	cancelFaultPeriod int64
}

// NewKernel creates a kernel with default periods and a no-op emitter.
func NewKernel() *Kernel {
	return &Kernel{
		emitter:           events.NoopEmitter{},
		nowFn:             func() int64 { return time.Now().Unix() },
		complainPeriod:    DefaultComplainPeriod,
		cancelFaultPeriod: DefaultCancelFaultPeriod,
	}
}

// SetState configures the state backend used by the kernel.
func (k *Kernel) SetState(state kernelState) { k.state = state }

// SetTokenLedger configures the external supply/voucher token registry.
func (k *Kernel) SetTokenLedger(tokens TokenLedger) { k.tokens = tokens }

// SetRegistrySalt sets the salt folded into promise ids so two registries
// with identical offers still derive distinct identifiers.
func (k *Kernel) SetRegistrySalt(salt [32]byte) { k.salt = salt }

// SetPauses configures the pause view gating every mutating entry point.
func (k *Kernel) SetPauses(p nativecommon.PauseView) { k.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets to no-op.
func (k *Kernel) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		k.emitter = events.NoopEmitter{}
		return
	}
	k.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (k *Kernel) SetNowFunc(now func() int64) {
	if now == nil {
		k.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	k.nowFn = now
}

// SetComplainPeriod adjusts the buyer complain window duration.
func (k *Kernel) SetComplainPeriod(seconds int64) error {
	if seconds <= 0 {
		return ErrInvalidPeriod
	}
	k.complainPeriod = seconds
	return nil
}

// SetCancelFaultPeriod adjusts the seller cancel-or-fault window duration.
func (k *Kernel) SetCancelFaultPeriod(seconds int64) error {
	if seconds <= 0 {
		return ErrInvalidPeriod
	}
	k.cancelFaultPeriod = seconds
	return nil
}

func (k *Kernel) ComplainPeriod() int64    { return k.complainPeriod }
func (k *Kernel) CancelFaultPeriod() int64 { return k.cancelFaultPeriod }

func (k *Kernel) emit(event *types.Event) {
	if k == nil || k.emitter == nil || event == nil {
		return
	}
	k.emitter.Emit(kernelEvent{evt: event})
}

func (k *Kernel) now() int64 {
	if k == nil || k.nowFn == nil {
		return time.Now().Unix()
	}
	return k.nowFn()
}

func (k *Kernel) ready() error {
	if k == nil || k.state == nil {
		return errNilState
	}
	if k.tokens == nil {
		return errNilTokens
	}
	return nil
}

func (k *Kernel) loadVoucher(id VoucherID) (*Record, error) {
	rec, ok := k.state.VoucherGet(id)
	if !ok {
		return nil, ErrVoucherNotFound
	}
	return rec, nil
}

func (k *Kernel) loadPromiseOfVoucher(rec *Record) (*Promise, error) {
	prom, ok := k.state.PromiseGet(rec.PromiseID)
	if !ok {
		return nil, fmt.Errorf("%w: voucher %s references missing promise", ErrInvariant, rec.ID)
	}
	return prom, nil
}

// Commit fulfils one unit of a voucher set for holder: a supply unit is
// burned from the issuer and a fresh voucher token is minted to the holder,
// already in the committed state.
func (k *Kernel) Commit(supplyID SupplyID, holder [20]byte) (VoucherID, error) {
	if err := k.ready(); err != nil {
		return VoucherID{}, err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return VoucherID{}, err
	}
	if holder == ([20]byte{}) {
		return VoucherID{}, ErrZeroAddress
	}
	sup, ok := k.state.SupplyGet(supplyID)
	if !ok {
		return VoucherID{}, ErrSupplyNotFound
	}
	prom, ok := k.state.PromiseGet(sup.PromiseID)
	if !ok {
		return VoucherID{}, fmt.Errorf("%w: supply %d references missing promise", ErrInvariant, supplyID)
	}
	if k.now() > prom.ValidTo {
		return VoucherID{}, ErrOfferExpired
	}
	remaining, err := k.tokens.SupplyBalance(prom.Seller, supplyID)
	if err != nil {
		return VoucherID{}, err
	}
	if remaining == 0 {
		return VoucherID{}, ErrOfferEmpty
	}
	if err := k.tokens.BurnSupply(prom.Seller, supplyID, 1); err != nil {
		return VoucherID{}, err
	}
	seq, err := k.state.NextVoucherSeq(supplyID)
	if err != nil {
		return VoucherID{}, err
	}
	id := VoucherID{Supply: supplyID, Seq: seq}
	if err := k.tokens.MintVoucher(holder, id); err != nil {
		return VoucherID{}, fmt.Errorf("%w: voucher mint rejected: %v", ErrValidation, err)
	}
	rec := &Record{
		ID:        id,
		PromiseID: sup.PromiseID,
		Status:    StatusCommitted,
	}
	if err := k.state.VoucherPut(rec); err != nil {
		return VoucherID{}, err
	}
	k.emit(NewCommittedEvent(rec, holder))
	return id, nil
}

// Redeem records the holder's redemption of a committed voucher and anchors
// the complain window. Redeem and refund are mutually exclusive.
func (k *Kernel) Redeem(id VoucherID, caller [20]byte) error {
	return k.signWithdrawal(id, caller, StatusRedeemed)
}

// Refund records the holder's renunciation of a committed voucher and anchors
// the complain window.
func (k *Kernel) Refund(id VoucherID, caller [20]byte) error {
	return k.signWithdrawal(id, caller, StatusRefunded)
}

func (k *Kernel) signWithdrawal(id VoucherID, caller [20]byte, flag Status) error {
	if err := k.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return err
	}
	rec, err := k.loadVoucher(id)
	if err != nil {
		return err
	}
	holder, err := k.tokens.VoucherOwner(id)
	if err != nil {
		return err
	}
	if caller != holder {
		return ErrNotVoucherHolder
	}
	if !rec.Status.CommittedOnly() {
		return ErrAlreadyProcessed
	}
	prom, err := k.loadPromiseOfVoucher(rec)
	if err != nil {
		return err
	}
	now := k.now()
	if now < prom.ValidFrom || now > prom.ValidTo {
		return ErrOutsideValidityWindow
	}
	rec.Status = rec.Status.With(flag)
	rec.ComplainPeriodStart = now
	if err := k.state.VoucherPut(rec); err != nil {
		return err
	}
	if flag == StatusRedeemed {
		k.emit(NewRedeemedEvent(rec, holder))
	} else {
		k.emit(NewRefundedEvent(rec, holder))
	}
	return nil
}

// TriggerExpiration is permissionless: if the validity window has passed and
// the voucher is still exactly committed it gains the expired flag. In any
// other situation the call silently does nothing.
func (k *Kernel) TriggerExpiration(id VoucherID) error {
	if err := k.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return err
	}
	rec, err := k.loadVoucher(id)
	if err != nil {
		return err
	}
	if !rec.Status.CommittedOnly() {
		return nil
	}
	prom, err := k.loadPromiseOfVoucher(rec)
	if err != nil {
		return err
	}
	if k.now() <= prom.ValidTo {
		return nil
	}
	rec.Status = rec.Status.With(StatusExpired)
	if err := k.state.VoucherPut(rec); err != nil {
		return err
	}
	k.emit(NewExpiredEvent(rec))
	return nil
}

// Complain records the holder's complaint within the window applicable to the
// voucher's current state. A complaint following redeem, refund or expiry
// anchors the seller's cancel-fault window; a complaint answering a
// pre-redemption seller cancel reuses the already running window.
func (k *Kernel) Complain(id VoucherID, caller [20]byte) error {
	if err := k.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return err
	}
	rec, err := k.loadVoucher(id)
	if err != nil {
		return err
	}
	holder, err := k.tokens.VoucherOwner(id)
	if err != nil {
		return err
	}
	if caller != holder {
		return ErrNotVoucherHolder
	}
	if rec.Status.Has(StatusComplained) {
		return ErrAlreadyComplained
	}
	if rec.Status.Has(StatusFinalized) {
		return ErrAlreadyFinalized
	}
	prom, err := k.loadPromiseOfVoucher(rec)
	if err != nil {
		return err
	}
	now := k.now()
	switch {
	case rec.Status.Has(StatusRedeemed) || rec.Status.Has(StatusRefunded):
		deadline := rec.ComplainPeriodStart + k.complainPeriod
		if !rec.Status.Has(StatusCancelFault) {
			deadline += k.cancelFaultPeriod
		}
		if now > deadline {
			return ErrComplainPeriodExpired
		}
		rec.Status = rec.Status.With(StatusComplained)
		rec.CancelFaultPeriodStart = now
	case rec.Status.Has(StatusExpired):
		deadline := prom.ValidTo + k.complainPeriod
		if !rec.Status.Has(StatusCancelFault) {
			deadline += k.cancelFaultPeriod
		}
		if now > deadline {
			return ErrComplainPeriodExpired
		}
		rec.Status = rec.Status.With(StatusComplained)
		rec.CancelFaultPeriodStart = now
	case rec.Status.Has(StatusCancelFault):
		// Seller cancelled pre-redemption; the complain window anchored by
		// that cancel keeps running and its cancel-fault start is untouched.
		if now > rec.ComplainPeriodStart+k.complainPeriod {
			return ErrComplainPeriodExpired
		}
		rec.Status = rec.Status.With(StatusComplained)
	default:
		return ErrInapplicableStatus
	}
	if err := k.state.VoucherPut(rec); err != nil {
		return err
	}
	k.emit(NewComplainedEvent(rec, holder))
	return nil
}

// CancelOrFault records the seller's cancellation (or admission of fault) for
// a single voucher. The first cancel re-anchors the complain window so the
// holder still gets a full complain period from the cancel.
func (k *Kernel) CancelOrFault(id VoucherID, caller [20]byte) error {
	if err := k.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return err
	}
	rec, err := k.loadVoucher(id)
	if err != nil {
		return err
	}
	prom, err := k.loadPromiseOfVoucher(rec)
	if err != nil {
		return err
	}
	if caller != prom.Seller {
		return ErrNotSeller
	}
	if rec.Status.Has(StatusCancelFault) {
		return ErrAlreadyCancelFault
	}
	if rec.Status.Has(StatusFinalized) {
		return ErrAlreadyFinalized
	}
	now := k.now()
	switch {
	case rec.Status.Has(StatusRedeemed) || rec.Status.Has(StatusRefunded):
		if !rec.Status.Has(StatusComplained) {
			if now > rec.ComplainPeriodStart+k.complainPeriod+k.cancelFaultPeriod {
				return ErrCofPeriodExpired
			}
			rec.ComplainPeriodStart = now
		} else if now > rec.CancelFaultPeriodStart+k.cancelFaultPeriod {
			return ErrCofPeriodExpired
		}
	case rec.Status.Has(StatusExpired):
		if !rec.Status.Has(StatusComplained) {
			if now > prom.ValidTo+k.complainPeriod+k.cancelFaultPeriod {
				return ErrCofPeriodExpired
			}
			rec.ComplainPeriodStart = now
		} else if now > rec.CancelFaultPeriodStart+k.cancelFaultPeriod {
			return ErrCofPeriodExpired
		}
	case rec.Status.CommittedOnly():
		if now > prom.ValidTo+k.complainPeriod+k.cancelFaultPeriod {
			return ErrCofPeriodExpired
		}
		rec.ComplainPeriodStart = now
	default:
		return ErrInapplicableStatus
	}
	rec.Status = rec.Status.With(StatusCancelFault)
	if err := k.state.VoucherPut(rec); err != nil {
		return err
	}
	k.emit(NewCancelFaultEvent(rec, prom.Seller))
	return nil
}

// CancelOrFaultVoucherSet burns all remaining un-committed supply held by the
// issuer, stopping further commits. The burned quantity is returned so the
// cashier can refund the matching seller deposits.
func (k *Kernel) CancelOrFaultVoucherSet(supplyID SupplyID, caller [20]byte) (uint64, error) {
	if err := k.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return 0, err
	}
	sup, ok := k.state.SupplyGet(supplyID)
	if !ok {
		return 0, ErrSupplyNotFound
	}
	prom, ok := k.state.PromiseGet(sup.PromiseID)
	if !ok {
		return 0, fmt.Errorf("%w: supply %d references missing promise", ErrInvariant, supplyID)
	}
	if caller != prom.Seller {
		return 0, ErrNotSeller
	}
	remaining, err := k.tokens.SupplyBalance(prom.Seller, supplyID)
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		return 0, ErrOfferEmpty
	}
	if err := k.tokens.BurnSupply(prom.Seller, supplyID, remaining); err != nil {
		return 0, err
	}
	k.emit(NewSetCancelledEvent(supplyID, prom.Seller, remaining))
	return remaining, nil
}

// TriggerFinalize is permissionless: it re-evaluates the voucher's elapsed
// windows and sets the terminal finalized flag when one of the settlement
// conditions holds. The decision table is evaluated in order; a voucher that
// matches no row simply stays non-final. It reports whether the flag was set
// by this call.
func (k *Kernel) TriggerFinalize(id VoucherID) (bool, error) {
	if err := k.ready(); err != nil {
		return false, err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return false, err
	}
	rec, err := k.loadVoucher(id)
	if err != nil {
		return false, err
	}
	if rec.Status.Has(StatusFinalized) {
		return false, nil
	}
	prom, err := k.loadPromiseOfVoucher(rec)
	if err != nil {
		return false, err
	}
	now := k.now()
	final := false
	switch {
	case rec.Status.Has(StatusComplained) && rec.Status.Has(StatusCancelFault):
		final = true
	case rec.Status.Has(StatusComplained):
		final = now >= rec.CancelFaultPeriodStart+k.cancelFaultPeriod
	case rec.Status.Has(StatusCancelFault):
		final = now >= rec.ComplainPeriodStart+k.complainPeriod
	case rec.Status.Has(StatusRedeemed) || rec.Status.Has(StatusRefunded):
		final = now >= rec.ComplainPeriodStart+k.complainPeriod
	case rec.Status.Has(StatusExpired):
		final = now >= prom.ValidTo+k.complainPeriod
	}
	if !final {
		return false, nil
	}
	rec.Status = rec.Status.With(StatusFinalized)
	if err := k.state.VoucherPut(rec); err != nil {
		return false, err
	}
	k.emit(NewFinalizedEvent(rec))
	return true, nil
}

// MarkPaymentReleased flips the one-way payment-released flag. Only the
// cashier calls this; it is idempotent and never clears.
func (k *Kernel) MarkPaymentReleased(id VoucherID) error {
	if err := k.ready(); err != nil {
		return err
	}
	rec, err := k.loadVoucher(id)
	if err != nil {
		return err
	}
	if rec.PaymentReleased {
		return nil
	}
	rec.PaymentReleased = true
	return k.state.VoucherPut(rec)
}

// MarkDepositsReleased flips the one-way deposits-released flag. Only the
// cashier calls this; it is idempotent and never clears.
func (k *Kernel) MarkDepositsReleased(id VoucherID) error {
	if err := k.ready(); err != nil {
		return err
	}
	rec, err := k.loadVoucher(id)
	if err != nil {
		return err
	}
	if rec.DepositsReleased {
		return nil
	}
	rec.DepositsReleased = true
	return k.state.VoucherPut(rec)
}
