package voucher

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "vouchernet/native/common"
)

// CreatePromise registers the immutable terms of a new voucher-set offer and
// returns its content-derived identifier. The id folds in the seller, a
// per-seller monotonic nonce, the validity window and the registry salt, so a
// collision can only mean corrupted bookkeeping.
func (k *Kernel) CreatePromise(seller [20]byte, validFrom, validTo int64, price, depositSeller, depositBuyer *big.Int) (PromiseID, error) {
	if k == nil || k.state == nil {
		return PromiseID{}, errNilState
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return PromiseID{}, err
	}
	if seller == ([20]byte{}) {
		return PromiseID{}, ErrZeroAddress
	}
	now := k.now()
	if validFrom > validTo || validTo-now < minValidityBuffer {
		return PromiseID{}, ErrInvalidWindow
	}
	price = cloneBigInt(price)
	depositSeller = cloneBigInt(depositSeller)
	depositBuyer = cloneBigInt(depositBuyer)
	if price.Sign() < 0 || depositSeller.Sign() < 0 || depositBuyer.Sign() < 0 {
		return PromiseID{}, ErrInvalidAmount
	}
	nonce, err := k.state.SellerNonce(seller)
	if err != nil {
		return PromiseID{}, err
	}
	nonce++
	id := derivePromiseID(seller, nonce, validFrom, validTo, k.salt)
	if _, exists := k.state.PromiseGet(id); exists {
		return PromiseID{}, ErrDuplicatePromise
	}
	idx, err := k.state.PromiseIndexAppend(id)
	if err != nil {
		return PromiseID{}, err
	}
	prom := &Promise{
		ID:            id,
		Seller:        seller,
		Nonce:         nonce,
		ValidFrom:     validFrom,
		ValidTo:       validTo,
		Price:         price,
		DepositSeller: depositSeller,
		DepositBuyer:  depositBuyer,
		Idx:           idx,
	}
	sanitized, err := SanitizePromise(prom)
	if err != nil {
		return PromiseID{}, err
	}
	if err := k.state.PromisePut(sanitized); err != nil {
		return PromiseID{}, err
	}
	if err := k.state.SetSellerNonce(seller, nonce); err != nil {
		return PromiseID{}, err
	}
	k.emit(NewPromiseCreatedEvent(sanitized))
	return id, nil
}

// CreateSupply allocates a fresh voucher-set id for the promise, fixes its
// payment method and mints the offered quantity of supply units to the
// seller.
func (k *Kernel) CreateSupply(seller [20]byte, promiseID PromiseID, method PaymentMethod, priceToken, depositToken string, qty uint64) (SupplyID, error) {
	if err := k.ready(); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(k.pauses, moduleName); err != nil {
		return 0, err
	}
	if qty == 0 {
		return 0, ErrInvalidQuantity
	}
	prom, ok := k.state.PromiseGet(promiseID)
	if !ok {
		return 0, ErrPromiseNotFound
	}
	if prom.Seller != seller {
		return 0, ErrNotSeller
	}
	id, err := k.state.NextSupplyID()
	if err != nil {
		return 0, err
	}
	sup, err := SanitizeSupply(&Supply{
		ID:           id,
		PromiseID:    promiseID,
		Method:       method,
		PriceToken:   priceToken,
		DepositToken: depositToken,
	})
	if err != nil {
		return 0, err
	}
	if err := k.state.SupplyPut(sup); err != nil {
		return 0, err
	}
	if err := k.tokens.MintSupply(seller, id, qty); err != nil {
		return 0, err
	}
	k.emit(NewSupplyCreatedEvent(sup, seller, qty))
	return id, nil
}

// PromiseOf returns a copy of the promise terms.
func (k *Kernel) PromiseOf(id PromiseID) (*Promise, error) {
	if k == nil || k.state == nil {
		return nil, errNilState
	}
	prom, ok := k.state.PromiseGet(id)
	if !ok {
		return nil, ErrPromiseNotFound
	}
	return prom.Clone(), nil
}

// SupplyOf returns a copy of the voucher-set definition.
func (k *Kernel) SupplyOf(id SupplyID) (*Supply, error) {
	if k == nil || k.state == nil {
		return nil, errNilState
	}
	sup, ok := k.state.SupplyGet(id)
	if !ok {
		return nil, ErrSupplyNotFound
	}
	return sup.Clone(), nil
}

// PromiseOfSupply resolves the promise backing a voucher set.
func (k *Kernel) PromiseOfSupply(id SupplyID) (*Promise, error) {
	sup, err := k.SupplyOf(id)
	if err != nil {
		return nil, err
	}
	return k.PromiseOf(sup.PromiseID)
}

// VoucherOf returns a copy of the per-voucher record.
func (k *Kernel) VoucherOf(id VoucherID) (*Record, error) {
	if k == nil || k.state == nil {
		return nil, errNilState
	}
	rec, ok := k.state.VoucherGet(id)
	if !ok {
		return nil, ErrVoucherNotFound
	}
	return rec.Clone(), nil
}

// HolderOf resolves the current owner of a voucher token.
func (k *Kernel) HolderOf(id VoucherID) ([20]byte, error) {
	if err := k.ready(); err != nil {
		return [20]byte{}, err
	}
	return k.tokens.VoucherOwner(id)
}

// RemainingSupply reports how many un-committed units the seller still holds.
func (k *Kernel) RemainingSupply(id SupplyID) (uint64, error) {
	if err := k.ready(); err != nil {
		return 0, err
	}
	prom, err := k.PromiseOfSupply(id)
	if err != nil {
		return 0, err
	}
	return k.tokens.SupplyBalance(prom.Seller, id)
}

// OnSupplyTransfer repoints the promise's seller when the supply token moves
// to a new holder. Escrow rebalancing is the cashier's half of this hook.
func (k *Kernel) OnSupplyTransfer(supplyID SupplyID, from, to [20]byte) error {
	if k == nil || k.state == nil {
		return errNilState
	}
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	sup, ok := k.state.SupplyGet(supplyID)
	if !ok {
		return ErrSupplyNotFound
	}
	prom, ok := k.state.PromiseGet(sup.PromiseID)
	if !ok {
		return ErrPromiseNotFound
	}
	if prom.Seller != from {
		return ErrNotSeller
	}
	prom.Seller = to
	return k.state.PromisePut(prom)
}

func derivePromiseID(seller [20]byte, nonce uint64, validFrom, validTo int64, salt [32]byte) PromiseID {
	var nonceBuf, fromBuf, toBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	binary.BigEndian.PutUint64(fromBuf[:], uint64(validFrom))
	binary.BigEndian.PutUint64(toBuf[:], uint64(validTo))
	return PromiseID(ethcrypto.Keccak256Hash(seller[:], nonceBuf[:], fromBuf[:], toBuf[:], salt[:]))
}
