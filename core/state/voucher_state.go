package state

import (
	"encoding/binary"
	"math/big"

	"vouchernet/native/voucher"
)

var (
	promisePrefix       = []byte("promise:")
	promiseIndexPrefix  = []byte("promise-index:")
	promiseCountKey     = []byte("promise-count")
	sellerNoncePrefix   = []byte("seller-nonce:")
	supplyPrefix        = []byte("supply:")
	supplyCounterKey    = []byte("supply-counter")
	voucherPrefix       = []byte("voucher:")
	voucherSeqPrefix    = []byte("voucher-seq:")
	supplyBalancePrefix = []byte("supply-balance:")
	voucherOwnerPrefix  = []byte("voucher-owner:")
	gateEntryPrefix     = []byte("gate:")
)

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// --- Promises ---

type storedPromise struct {
	ID            [32]byte
	Seller        [20]byte
	Nonce         uint64
	ValidFrom     *big.Int
	ValidTo       *big.Int
	Price         *big.Int
	DepositSeller *big.Int
	DepositBuyer  *big.Int
	Idx           uint64
}

func newStoredPromise(p *voucher.Promise) *storedPromise {
	clone := p.Clone()
	return &storedPromise{
		ID:            clone.ID,
		Seller:        clone.Seller,
		Nonce:         clone.Nonce,
		ValidFrom:     big.NewInt(clone.ValidFrom),
		ValidTo:       big.NewInt(clone.ValidTo),
		Price:         clone.Price,
		DepositSeller: clone.DepositSeller,
		DepositBuyer:  clone.DepositBuyer,
		Idx:           clone.Idx,
	}
}

func (s *storedPromise) toPromise() *voucher.Promise {
	prom := &voucher.Promise{
		ID:            s.ID,
		Seller:        s.Seller,
		Nonce:         s.Nonce,
		Price:         big.NewInt(0),
		DepositSeller: big.NewInt(0),
		DepositBuyer:  big.NewInt(0),
		Idx:           s.Idx,
	}
	if s.ValidFrom != nil {
		prom.ValidFrom = s.ValidFrom.Int64()
	}
	if s.ValidTo != nil {
		prom.ValidTo = s.ValidTo.Int64()
	}
	if s.Price != nil {
		prom.Price = new(big.Int).Set(s.Price)
	}
	if s.DepositSeller != nil {
		prom.DepositSeller = new(big.Int).Set(s.DepositSeller)
	}
	if s.DepositBuyer != nil {
		prom.DepositBuyer = new(big.Int).Set(s.DepositBuyer)
	}
	return prom
}

func promiseKey(id voucher.PromiseID) []byte {
	return prefixedKey(promisePrefix, id[:])
}

func (m *Manager) PromisePut(p *voucher.Promise) error {
	sanitized, err := voucher.SanitizePromise(p)
	if err != nil {
		return err
	}
	return m.write(promiseKey(sanitized.ID), newStoredPromise(sanitized))
}

func (m *Manager) PromiseGet(id voucher.PromiseID) (*voucher.Promise, bool) {
	stored := new(storedPromise)
	ok, err := m.read(promiseKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	return stored.toPromise(), true
}

// PromiseIndexAppend records the promise in the append-only creation-ordered
// list and returns its position.
func (m *Manager) PromiseIndexAppend(id voucher.PromiseID) (uint64, error) {
	count, err := m.readUint(prefixedKey(promiseCountKey))
	if err != nil {
		return 0, err
	}
	if err := m.write(prefixedKey(promiseIndexPrefix, uint64Bytes(count)), id[:]); err != nil {
		return 0, err
	}
	if err := m.write(prefixedKey(promiseCountKey), count+1); err != nil {
		return 0, err
	}
	return count, nil
}

// PromiseCount reports how many promises were ever created.
func (m *Manager) PromiseCount() (uint64, error) {
	return m.readUint(prefixedKey(promiseCountKey))
}

// PromiseAt resolves the id of the idx-th created promise.
func (m *Manager) PromiseAt(idx uint64) (voucher.PromiseID, bool) {
	var raw []byte
	ok, err := m.read(prefixedKey(promiseIndexPrefix, uint64Bytes(idx)), &raw)
	if err != nil || !ok || len(raw) != 32 {
		return voucher.PromiseID{}, false
	}
	var id voucher.PromiseID
	copy(id[:], raw)
	return id, true
}

func (m *Manager) SellerNonce(addr [20]byte) (uint64, error) {
	return m.readUint(prefixedKey(sellerNoncePrefix, addr[:]))
}

func (m *Manager) SetSellerNonce(addr [20]byte, nonce uint64) error {
	return m.write(prefixedKey(sellerNoncePrefix, addr[:]), nonce)
}

// --- Supplies ---

type storedSupply struct {
	ID           uint64
	PromiseID    [32]byte
	Method       uint8
	PriceToken   string
	DepositToken string
}

func supplyKey(id voucher.SupplyID) []byte {
	return prefixedKey(supplyPrefix, uint64Bytes(uint64(id)))
}

func (m *Manager) SupplyPut(s *voucher.Supply) error {
	sanitized, err := voucher.SanitizeSupply(s)
	if err != nil {
		return err
	}
	return m.write(supplyKey(sanitized.ID), &storedSupply{
		ID:           uint64(sanitized.ID),
		PromiseID:    sanitized.PromiseID,
		Method:       uint8(sanitized.Method),
		PriceToken:   sanitized.PriceToken,
		DepositToken: sanitized.DepositToken,
	})
}

func (m *Manager) SupplyGet(id voucher.SupplyID) (*voucher.Supply, bool) {
	stored := new(storedSupply)
	ok, err := m.read(supplyKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &voucher.Supply{
		ID:           voucher.SupplyID(stored.ID),
		PromiseID:    stored.PromiseID,
		Method:       voucher.PaymentMethod(stored.Method),
		PriceToken:   stored.PriceToken,
		DepositToken: stored.DepositToken,
	}, true
}

// NextSupplyID allocates a fresh monotonic voucher-set identifier.
func (m *Manager) NextSupplyID() (voucher.SupplyID, error) {
	key := prefixedKey(supplyCounterKey)
	current, err := m.readUint(key)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.write(key, next); err != nil {
		return 0, err
	}
	return voucher.SupplyID(next), nil
}

// NextVoucherSeq allocates the next sequence number within a voucher set.
func (m *Manager) NextVoucherSeq(id voucher.SupplyID) (uint64, error) {
	key := prefixedKey(voucherSeqPrefix, uint64Bytes(uint64(id)))
	current, err := m.readUint(key)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.write(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// --- Vouchers ---

type storedVoucher struct {
	Supply           uint64
	Seq              uint64
	PromiseID        [32]byte
	Status           uint8
	PaymentReleased  bool
	DepositsReleased bool
	ComplainStart    *big.Int
	CancelFaultStart *big.Int
}

func voucherKey(id voucher.VoucherID) []byte {
	return prefixedKey(voucherPrefix, id.Bytes())
}

func (m *Manager) VoucherPut(r *voucher.Record) error {
	clone := r.Clone()
	return m.write(voucherKey(clone.ID), &storedVoucher{
		Supply:           uint64(clone.ID.Supply),
		Seq:              clone.ID.Seq,
		PromiseID:        clone.PromiseID,
		Status:           uint8(clone.Status),
		PaymentReleased:  clone.PaymentReleased,
		DepositsReleased: clone.DepositsReleased,
		ComplainStart:    big.NewInt(clone.ComplainPeriodStart),
		CancelFaultStart: big.NewInt(clone.CancelFaultPeriodStart),
	})
}

func (m *Manager) VoucherGet(id voucher.VoucherID) (*voucher.Record, bool) {
	stored := new(storedVoucher)
	ok, err := m.read(voucherKey(id), stored)
	if err != nil || !ok {
		return nil, false
	}
	rec := &voucher.Record{
		ID:               voucher.VoucherID{Supply: voucher.SupplyID(stored.Supply), Seq: stored.Seq},
		PromiseID:        stored.PromiseID,
		Status:           voucher.Status(stored.Status),
		PaymentReleased:  stored.PaymentReleased,
		DepositsReleased: stored.DepositsReleased,
	}
	if stored.ComplainStart != nil {
		rec.ComplainPeriodStart = stored.ComplainStart.Int64()
	}
	if stored.CancelFaultStart != nil {
		rec.CancelFaultPeriodStart = stored.CancelFaultStart.Int64()
	}
	return rec, true
}

// --- Token ledger backing ---

func supplyBalanceKey(addr [20]byte, id voucher.SupplyID) []byte {
	return prefixedKey(supplyBalancePrefix, uint64Bytes(uint64(id)), []byte{':'}, addr[:])
}

func (m *Manager) SupplyBalanceGet(addr [20]byte, id voucher.SupplyID) (uint64, error) {
	return m.readUint(supplyBalanceKey(addr, id))
}

func (m *Manager) SupplyBalanceSet(addr [20]byte, id voucher.SupplyID, qty uint64) error {
	return m.write(supplyBalanceKey(addr, id), qty)
}

func (m *Manager) VoucherOwnerGet(id voucher.VoucherID) ([20]byte, bool) {
	var raw []byte
	ok, err := m.read(prefixedKey(voucherOwnerPrefix, id.Bytes()), &raw)
	if err != nil || !ok || len(raw) != 20 {
		return [20]byte{}, false
	}
	var owner [20]byte
	copy(owner[:], raw)
	return owner, true
}

func (m *Manager) VoucherOwnerSet(id voucher.VoucherID, owner [20]byte) error {
	return m.write(prefixedKey(voucherOwnerPrefix, id.Bytes()), owner[:])
}

// --- Conditional gate backing ---

type storedGateEntry struct {
	Allowed  bool
	Consumed bool
}

func gateEntryKey(id voucher.SupplyID, user [20]byte) []byte {
	return prefixedKey(gateEntryPrefix, uint64Bytes(uint64(id)), []byte{':'}, user[:])
}

func (m *Manager) GateEntryGet(id voucher.SupplyID, user [20]byte) (bool, bool, error) {
	stored := new(storedGateEntry)
	ok, err := m.read(gateEntryKey(id, user), stored)
	if err != nil {
		return false, false, err
	}
	if !ok {
		return false, false, nil
	}
	return stored.Allowed, stored.Consumed, nil
}

func (m *Manager) GateEntrySet(id voucher.SupplyID, user [20]byte, allowed, consumed bool) error {
	return m.write(gateEntryKey(id, user), &storedGateEntry{Allowed: allowed, Consumed: consumed})
}
