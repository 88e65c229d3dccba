package cashier

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"vouchernet/core/types"
	"vouchernet/native/voucher"
)

const (
	EventTypeWithdraw           = "cashier.withdraw"
	EventTypeSellerDeposits     = "cashier.seller_deposits_withdrawn"
	EventTypeDisasterActivated  = "cashier.disaster.activated"
	EventTypeDisasterWithdrawal = "cashier.disaster.withdrawal"
)

// NewWithdrawEvent returns the canonical payload for a per-voucher
// distribution, carrying every non-trivial share.
func NewWithdrawEvent(id voucher.VoucherID, price2issuer, price2holder, deposit2pool, deposit2issuer, deposit2holder *big.Int) *types.Event {
	attrs := map[string]string{
		"voucherId": id.String(),
	}
	put := func(key string, amt *big.Int) {
		if amt != nil && amt.Sign() > 0 {
			attrs[key] = amt.String()
		}
	}
	put("priceToIssuer", price2issuer)
	put("priceToHolder", price2holder)
	put("depositToPool", deposit2pool)
	put("depositToIssuer", deposit2issuer)
	put("depositToHolder", deposit2holder)
	return &types.Event{Type: EventTypeWithdraw, Attributes: attrs}
}

// NewSellerDepositsWithdrawnEvent returns the payload for a voucher-set level
// deposit refund.
func NewSellerDepositsWithdrawnEvent(id voucher.SupplyID, seller [20]byte, burned uint64, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSellerDeposits, Attributes: map[string]string{
		"supplyId": strconv.FormatUint(uint64(id), 10),
		"seller":   hex.EncodeToString(seller[:]),
		"burned":   strconv.FormatUint(burned, 10),
		"amount":   amount.String(),
	}}
}

// NewDisasterActivatedEvent returns the payload emitted when the escape hatch
// is irreversibly armed.
func NewDisasterActivatedEvent(owner [20]byte) *types.Event {
	return &types.Event{Type: EventTypeDisasterActivated, Attributes: map[string]string{
		"owner": hex.EncodeToString(owner[:]),
	}}
}

// NewDisasterWithdrawalEvent returns the payload for an escape-hatch payout.
func NewDisasterWithdrawalEvent(asset string, account [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"account": hex.EncodeToString(account[:]),
		"amount":  amount.String(),
	}
	if asset != NativeAsset {
		attrs["token"] = asset
	}
	return &types.Event{Type: EventTypeDisasterWithdrawal, Attributes: attrs}
}
