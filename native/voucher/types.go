package voucher

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
)

// PromiseID is the content-derived identifier of an offer's immutable terms.
type PromiseID [32]byte

// SupplyID identifies a voucher set (a batch offer of identical vouchers).
type SupplyID uint64

// VoucherID identifies a single voucher as an explicit (set, sequence) pair.
type VoucherID struct {
	Supply SupplyID
	Seq    uint64
}

func (id VoucherID) String() string {
	return fmt.Sprintf("%d/%d", id.Supply, id.Seq)
}

// Bytes returns the canonical 16-byte big-endian encoding used in state keys.
func (id VoucherID) Bytes() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, uint64(id.Supply))
	binary.BigEndian.PutUint64(buf[8:], id.Seq)
	return buf
}

// Promise captures the immutable terms shared by every voucher minted from
// one voucher set. Only the Seller field ever changes, when the supply token
// moves to a new holder.
type Promise struct {
	ID            PromiseID
	Seller        [20]byte
	Nonce         uint64
	ValidFrom     int64
	ValidTo       int64
	Price         *big.Int
	DepositSeller *big.Int
	DepositBuyer  *big.Int
	Idx           uint64
}

// Clone returns a deep copy so callers can mutate freely.
func (p *Promise) Clone() *Promise {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Price = cloneBigInt(p.Price)
	clone.DepositSeller = cloneBigInt(p.DepositSeller)
	clone.DepositBuyer = cloneBigInt(p.DepositBuyer)
	return &clone
}

// SanitizePromise validates and normalises a promise definition, returning a
// clone with non-nil amounts. The original value is not mutated.
func SanitizePromise(p *Promise) (*Promise, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil promise", ErrValidation)
	}
	clone := p.Clone()
	if clone.Price.Sign() < 0 || clone.DepositSeller.Sign() < 0 || clone.DepositBuyer.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if clone.ValidFrom > clone.ValidTo {
		return nil, ErrInvalidWindow
	}
	if clone.Seller == ([20]byte{}) {
		return nil, ErrZeroAddress
	}
	return clone, nil
}

// PaymentMethod selects which asset carries the price and which carries the
// deposits for a voucher set. Fixed at voucher-set creation.
type PaymentMethod uint8

const (
	PaymentNativeNative PaymentMethod = iota + 1
	PaymentNativeToken
	PaymentTokenNative
	PaymentTokenToken
)

// Valid reports whether the payment-method code is one of the four
// recognized values.
func (m PaymentMethod) Valid() bool {
	return m >= PaymentNativeNative && m <= PaymentTokenToken
}

// PriceInToken reports whether the price leg is paid in a fungible token
// rather than the native asset.
func (m PaymentMethod) PriceInToken() bool {
	return m == PaymentTokenNative || m == PaymentTokenToken
}

// DepositInToken reports whether the deposit legs are held in a fungible
// token rather than the native asset.
func (m PaymentMethod) DepositInToken() bool {
	return m == PaymentNativeToken || m == PaymentTokenToken
}

// Supply ties a voucher set to its promise and payment method. PriceToken and
// DepositToken carry the token symbols for the legs the method pays in
// tokens; they are empty for native legs.
type Supply struct {
	ID           SupplyID
	PromiseID    PromiseID
	Method       PaymentMethod
	PriceToken   string
	DepositToken string
}

func (s *Supply) Clone() *Supply {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// SanitizeSupply validates the payment method and its token symbols.
func SanitizeSupply(s *Supply) (*Supply, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil supply", ErrValidation)
	}
	clone := s.Clone()
	if !clone.Method.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	clone.PriceToken = strings.ToUpper(strings.TrimSpace(clone.PriceToken))
	clone.DepositToken = strings.ToUpper(strings.TrimSpace(clone.DepositToken))
	if clone.Method.PriceInToken() && clone.PriceToken == "" {
		return nil, fmt.Errorf("%w: price token required", ErrValidation)
	}
	if !clone.Method.PriceInToken() && clone.PriceToken != "" {
		return nil, fmt.Errorf("%w: price token set for native leg", ErrValidation)
	}
	if clone.Method.DepositInToken() && clone.DepositToken == "" {
		return nil, fmt.Errorf("%w: deposit token required", ErrValidation)
	}
	if !clone.Method.DepositInToken() && clone.DepositToken != "" {
		return nil, fmt.Errorf("%w: deposit token set for native leg", ErrValidation)
	}
	return clone, nil
}

// Record is the mutable per-voucher state tracked by the kernel. Both release
// flags move false to true exactly once; the period starts stay zero until
// the respective window is anchored.
type Record struct {
	ID                     VoucherID
	PromiseID              PromiseID
	Status                 Status
	PaymentReleased        bool
	DepositsReleased       bool
	ComplainPeriodStart    int64
	CancelFaultPeriodStart int64
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
