package voucher

import (
	"encoding/hex"
	"strconv"

	"vouchernet/core/types"
)

const (
	EventTypePromiseCreated = "voucher.promise.created"
	EventTypeSupplyCreated  = "voucher.supply.created"
	EventTypeCommitted      = "voucher.committed"
	EventTypeRedeemed       = "voucher.redeemed"
	EventTypeRefunded       = "voucher.refunded"
	EventTypeExpired        = "voucher.expired"
	EventTypeComplained     = "voucher.complained"
	EventTypeCancelFault    = "voucher.cancel_fault"
	EventTypeSetCancelled   = "voucher.set.cancelled"
	EventTypeFinalized      = "voucher.finalized"
)

// NewPromiseCreatedEvent returns the canonical payload for a new offer.
func NewPromiseCreatedEvent(p *Promise) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["promiseId"] = hex.EncodeToString(p.ID[:])
		attrs["seller"] = hex.EncodeToString(p.Seller[:])
		attrs["validFrom"] = strconv.FormatInt(p.ValidFrom, 10)
		attrs["validTo"] = strconv.FormatInt(p.ValidTo, 10)
		attrs["price"] = cloneBigInt(p.Price).String()
		attrs["depositSeller"] = cloneBigInt(p.DepositSeller).String()
		attrs["depositBuyer"] = cloneBigInt(p.DepositBuyer).String()
	}
	return &types.Event{Type: EventTypePromiseCreated, Attributes: attrs}
}

// NewSupplyCreatedEvent returns the canonical payload for a minted voucher
// set.
func NewSupplyCreatedEvent(s *Supply, seller [20]byte, qty uint64) *types.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["supplyId"] = strconv.FormatUint(uint64(s.ID), 10)
		attrs["promiseId"] = hex.EncodeToString(s.PromiseID[:])
		attrs["paymentMethod"] = strconv.FormatUint(uint64(s.Method), 10)
		if s.PriceToken != "" {
			attrs["priceToken"] = s.PriceToken
		}
		if s.DepositToken != "" {
			attrs["depositToken"] = s.DepositToken
		}
	}
	attrs["seller"] = hex.EncodeToString(seller[:])
	attrs["quantity"] = strconv.FormatUint(qty, 10)
	return &types.Event{Type: EventTypeSupplyCreated, Attributes: attrs}
}

// NewCommittedEvent returns the payload emitted when a voucher is filled.
func NewCommittedEvent(r *Record, holder [20]byte) *types.Event {
	evt := newVoucherEvent(EventTypeCommitted, r)
	evt.Attributes["holder"] = hex.EncodeToString(holder[:])
	return evt
}

// NewRedeemedEvent returns the payload emitted on redemption.
func NewRedeemedEvent(r *Record, holder [20]byte) *types.Event {
	evt := newVoucherEvent(EventTypeRedeemed, r)
	evt.Attributes["holder"] = hex.EncodeToString(holder[:])
	return evt
}

// NewRefundedEvent returns the payload emitted on a holder refund request.
func NewRefundedEvent(r *Record, holder [20]byte) *types.Event {
	evt := newVoucherEvent(EventTypeRefunded, r)
	evt.Attributes["holder"] = hex.EncodeToString(holder[:])
	return evt
}

// NewExpiredEvent returns the payload emitted when expiry is observed.
func NewExpiredEvent(r *Record) *types.Event {
	return newVoucherEvent(EventTypeExpired, r)
}

// NewComplainedEvent returns the payload emitted on a holder complaint.
func NewComplainedEvent(r *Record, holder [20]byte) *types.Event {
	evt := newVoucherEvent(EventTypeComplained, r)
	evt.Attributes["holder"] = hex.EncodeToString(holder[:])
	return evt
}

// NewCancelFaultEvent returns the payload emitted on a seller cancel/fault.
func NewCancelFaultEvent(r *Record, seller [20]byte) *types.Event {
	evt := newVoucherEvent(EventTypeCancelFault, r)
	evt.Attributes["seller"] = hex.EncodeToString(seller[:])
	return evt
}

// NewSetCancelledEvent returns the payload emitted when a whole voucher set
// is withdrawn from sale.
func NewSetCancelledEvent(id SupplyID, seller [20]byte, burned uint64) *types.Event {
	return &types.Event{Type: EventTypeSetCancelled, Attributes: map[string]string{
		"supplyId": strconv.FormatUint(uint64(id), 10),
		"seller":   hex.EncodeToString(seller[:]),
		"burned":   strconv.FormatUint(burned, 10),
	}}
}

// NewFinalizedEvent returns the payload emitted when a voucher reaches its
// terminal state.
func NewFinalizedEvent(r *Record) *types.Event {
	return newVoucherEvent(EventTypeFinalized, r)
}

func newVoucherEvent(eventType string, r *Record) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["voucherId"] = r.ID.String()
		attrs["promiseId"] = hex.EncodeToString(r.PromiseID[:])
		attrs["status"] = r.Status.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
