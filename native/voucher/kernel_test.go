package voucher

import (
	"errors"
	"math/big"
	"testing"

	"vouchernet/core/events"
)

type memKernelState struct {
	promises     map[PromiseID]*Promise
	promiseOrder []PromiseID
	nonces       map[[20]byte]uint64
	supplies     map[SupplyID]*Supply
	supplyNext   uint64
	voucherSeq   map[SupplyID]uint64
	vouchers     map[VoucherID]*Record
}

func newMemKernelState() *memKernelState {
	return &memKernelState{
		promises:   make(map[PromiseID]*Promise),
		nonces:     make(map[[20]byte]uint64),
		supplies:   make(map[SupplyID]*Supply),
		voucherSeq: make(map[SupplyID]uint64),
		vouchers:   make(map[VoucherID]*Record),
	}
}

func (m *memKernelState) PromisePut(p *Promise) error {
	m.promises[p.ID] = p.Clone()
	return nil
}

func (m *memKernelState) PromiseGet(id PromiseID) (*Promise, bool) {
	p, ok := m.promises[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *memKernelState) PromiseIndexAppend(id PromiseID) (uint64, error) {
	idx := uint64(len(m.promiseOrder))
	m.promiseOrder = append(m.promiseOrder, id)
	return idx, nil
}

func (m *memKernelState) SellerNonce(addr [20]byte) (uint64, error) {
	return m.nonces[addr], nil
}

func (m *memKernelState) SetSellerNonce(addr [20]byte, nonce uint64) error {
	m.nonces[addr] = nonce
	return nil
}

func (m *memKernelState) NextSupplyID() (SupplyID, error) {
	m.supplyNext++
	return SupplyID(m.supplyNext), nil
}

func (m *memKernelState) SupplyPut(s *Supply) error {
	m.supplies[s.ID] = s.Clone()
	return nil
}

func (m *memKernelState) SupplyGet(id SupplyID) (*Supply, bool) {
	s, ok := m.supplies[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (m *memKernelState) NextVoucherSeq(id SupplyID) (uint64, error) {
	m.voucherSeq[id]++
	return m.voucherSeq[id], nil
}

func (m *memKernelState) VoucherPut(r *Record) error {
	m.vouchers[r.ID] = r.Clone()
	return nil
}

func (m *memKernelState) VoucherGet(id VoucherID) (*Record, bool) {
	r, ok := m.vouchers[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

type memTokens struct {
	supply map[SupplyID]map[[20]byte]uint64
	owners map[VoucherID][20]byte
}

func newMemTokens() *memTokens {
	return &memTokens{
		supply: make(map[SupplyID]map[[20]byte]uint64),
		owners: make(map[VoucherID][20]byte),
	}
}

func (m *memTokens) MintSupply(to [20]byte, id SupplyID, qty uint64) error {
	if m.supply[id] == nil {
		m.supply[id] = make(map[[20]byte]uint64)
	}
	m.supply[id][to] += qty
	return nil
}

func (m *memTokens) BurnSupply(from [20]byte, id SupplyID, qty uint64) error {
	if m.supply[id][from] < qty {
		return errors.New("insufficient supply")
	}
	m.supply[id][from] -= qty
	return nil
}

func (m *memTokens) SupplyBalance(account [20]byte, id SupplyID) (uint64, error) {
	return m.supply[id][account], nil
}

func (m *memTokens) MintVoucher(to [20]byte, id VoucherID) error {
	if _, exists := m.owners[id]; exists {
		return errors.New("duplicate voucher")
	}
	m.owners[id] = to
	return nil
}

func (m *memTokens) VoucherOwner(id VoucherID) ([20]byte, error) {
	owner, ok := m.owners[id]
	if !ok {
		return [20]byte{}, errors.New("unknown voucher")
	}
	return owner, nil
}

type capturingEmitter struct {
	types []string
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.types = append(c.types, evt.EventType())
}

type kernelHarness struct {
	kernel  *Kernel
	state   *memKernelState
	tokens  *memTokens
	emitted *capturingEmitter
	now     int64
}

func newKernelHarness(t *testing.T) *kernelHarness {
	t.Helper()
	h := &kernelHarness{
		state:   newMemKernelState(),
		tokens:  newMemTokens(),
		emitted: &capturingEmitter{},
		now:     1_000_000,
	}
	h.kernel = NewKernel()
	h.kernel.SetState(h.state)
	h.kernel.SetTokenLedger(h.tokens)
	h.kernel.SetEmitter(h.emitted)
	h.kernel.SetNowFunc(func() int64 { return h.now })
	return h
}

var (
	seller = [20]byte{0x01}
	buyer  = [20]byte{0x02}
)

func (h *kernelHarness) createOffer(t *testing.T, qty uint64) SupplyID {
	t.Helper()
	promID, err := h.kernel.CreatePromise(seller, h.now, h.now+3600, big.NewInt(100), big.NewInt(10), big.NewInt(5))
	if err != nil {
		t.Fatalf("create promise: %v", err)
	}
	supID, err := h.kernel.CreateSupply(seller, promID, PaymentNativeNative, "", "", qty)
	if err != nil {
		t.Fatalf("create supply: %v", err)
	}
	return supID
}

func (h *kernelHarness) commit(t *testing.T, supID SupplyID) VoucherID {
	t.Helper()
	id, err := h.kernel.Commit(supID, buyer)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestCreatePromiseValidityBuffer(t *testing.T) {
	h := newKernelHarness(t)
	if _, err := h.kernel.CreatePromise(seller, h.now, h.now+300, big.NewInt(1), big.NewInt(0), big.NewInt(0)); err != nil {
		t.Fatalf("five-minute window should be accepted: %v", err)
	}
	if _, err := h.kernel.CreatePromise(seller, h.now, h.now+299, big.NewInt(1), big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	if _, err := h.kernel.CreatePromise(seller, h.now+4000, h.now+3600, big.NewInt(1), big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("inverted window: expected ErrInvalidWindow, got %v", err)
	}
}

func TestCreatePromiseRejectsNegativeAmounts(t *testing.T) {
	h := newKernelHarness(t)
	if _, err := h.kernel.CreatePromise(seller, h.now, h.now+3600, big.NewInt(-1), big.NewInt(0), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreatePromiseDistinctIDsPerNonce(t *testing.T) {
	h := newKernelHarness(t)
	first, err := h.kernel.CreatePromise(seller, h.now, h.now+3600, big.NewInt(1), big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("first promise: %v", err)
	}
	second, err := h.kernel.CreatePromise(seller, h.now, h.now+3600, big.NewInt(1), big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("identical terms must still be accepted: %v", err)
	}
	if first == second {
		t.Fatalf("nonce did not differentiate promise ids")
	}
}

func TestCommitBurnsSupplyAndMintsVoucher(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 2)
	id := h.commit(t, supID)

	remaining, err := h.kernel.RemainingSupply(supID)
	if err != nil {
		t.Fatalf("remaining supply: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("expected 1 remaining supply unit, got %d", remaining)
	}
	holder, err := h.kernel.HolderOf(id)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != buyer {
		t.Fatalf("voucher minted to %x, want buyer", holder)
	}
	rec, err := h.kernel.VoucherOf(id)
	if err != nil {
		t.Fatalf("voucher record: %v", err)
	}
	if !rec.Status.CommittedOnly() {
		t.Fatalf("fresh voucher status %s, want committed only", rec.Status)
	}
}

func TestCommitExhaustsSupply(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	h.commit(t, supID)
	if _, err := h.kernel.Commit(supID, buyer); !errors.Is(err, ErrOfferEmpty) {
		t.Fatalf("expected ErrOfferEmpty, got %v", err)
	}
}

func TestCommitAfterOfferExpiry(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	h.now += 3601
	if _, err := h.kernel.Commit(supID, buyer); !errors.Is(err, ErrOfferExpired) {
		t.Fatalf("expected ErrOfferExpired, got %v", err)
	}
}

func TestRedeemAnchorsComplainWindow(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	h.now += 100
	if err := h.kernel.Redeem(id, buyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	rec, err := h.kernel.VoucherOf(id)
	if err != nil {
		t.Fatalf("voucher record: %v", err)
	}
	if !rec.Status.RedeemedOnly() {
		t.Fatalf("status %s, want redeemed only", rec.Status)
	}
	if rec.ComplainPeriodStart != h.now {
		t.Fatalf("complain window anchored at %d, want %d", rec.ComplainPeriodStart, h.now)
	}
}

func TestRedeemAuthorization(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	if err := h.kernel.Redeem(id, seller); !errors.Is(err, ErrNotVoucherHolder) {
		t.Fatalf("expected ErrNotVoucherHolder, got %v", err)
	}
}

func TestRedeemAndRefundExclusive(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 2)
	id := h.commit(t, supID)
	if err := h.kernel.Redeem(id, buyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := h.kernel.Refund(id, buyer); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("refund after redeem: expected ErrAlreadyProcessed, got %v", err)
	}
	if err := h.kernel.Redeem(id, buyer); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("double redeem: expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestRedeemOutsideValidityWindow(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	h.now += 3601
	if err := h.kernel.Redeem(id, buyer); !errors.Is(err, ErrOutsideValidityWindow) {
		t.Fatalf("expected ErrOutsideValidityWindow, got %v", err)
	}
}

func TestTriggerExpirationIsConditional(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)

	// Still inside the validity window: silently nothing happens.
	if err := h.kernel.TriggerExpiration(id); err != nil {
		t.Fatalf("premature expiration trigger: %v", err)
	}
	rec, _ := h.kernel.VoucherOf(id)
	if !rec.Status.CommittedOnly() {
		t.Fatalf("status changed by premature trigger: %s", rec.Status)
	}

	h.now += 3601
	if err := h.kernel.TriggerExpiration(id); err != nil {
		t.Fatalf("expiration trigger: %v", err)
	}
	rec, _ = h.kernel.VoucherOf(id)
	if !rec.Status.ExpiredOnly() {
		t.Fatalf("status %s, want expired only", rec.Status)
	}

	// Second trigger is a no-op, not an error.
	if err := h.kernel.TriggerExpiration(id); err != nil {
		t.Fatalf("repeat expiration trigger: %v", err)
	}
}

func TestComplainAfterRedeem(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	if err := h.kernel.Redeem(id, buyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	h.now += 1000
	if err := h.kernel.Complain(id, buyer); err != nil {
		t.Fatalf("complain: %v", err)
	}
	rec, _ := h.kernel.VoucherOf(id)
	if !rec.Status.Has(StatusComplained) {
		t.Fatalf("complained flag not set: %s", rec.Status)
	}
	if rec.CancelFaultPeriodStart != h.now {
		t.Fatalf("cancel-fault window anchored at %d, want %d", rec.CancelFaultPeriodStart, h.now)
	}
	if err := h.kernel.Complain(id, buyer); !errors.Is(err, ErrAlreadyComplained) {
		t.Fatalf("double complain: expected ErrAlreadyComplained, got %v", err)
	}
}

func TestComplainWindowExpiry(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	if err := h.kernel.Redeem(id, buyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// Without a prior cancel the window is complain + cancel-fault periods.
	h.now += DefaultComplainPeriod + DefaultCancelFaultPeriod + 1
	if err := h.kernel.Complain(id, buyer); !errors.Is(err, ErrComplainPeriodExpired) {
		t.Fatalf("expected ErrComplainPeriodExpired, got %v", err)
	}
}

func TestComplainAfterPreRedemptionCancel(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)

	// Seller cancels while the voucher is still just committed; the complain
	// window re-anchors at the cancel.
	h.now += 500
	cancelAt := h.now
	if err := h.kernel.CancelOrFault(id, seller); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	h.now += DefaultComplainPeriod - 1
	if err := h.kernel.Complain(id, buyer); err != nil {
		t.Fatalf("complain inside re-anchored window: %v", err)
	}
	rec, _ := h.kernel.VoucherOf(id)
	if rec.CancelFaultPeriodStart != 0 {
		t.Fatalf("complain after cancel must not re-anchor the cancel-fault window, got %d", rec.CancelFaultPeriodStart)
	}
	if rec.ComplainPeriodStart != cancelAt {
		t.Fatalf("complain window anchor moved to %d, want %d", rec.ComplainPeriodStart, cancelAt)
	}
}

func TestCancelOrFaultDouble(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	if err := h.kernel.CancelOrFault(id, seller); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.kernel.CancelOrFault(id, seller); !errors.Is(err, ErrAlreadyCancelFault) {
		t.Fatalf("expected ErrAlreadyCancelFault, got %v", err)
	}
}

func TestCancelOrFaultAuthorization(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	if err := h.kernel.CancelOrFault(id, buyer); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("expected ErrNotSeller, got %v", err)
	}
}

func TestCancelOrFaultAfterComplaintWindow(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	if err := h.kernel.Redeem(id, buyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	h.now += 100
	if err := h.kernel.Complain(id, buyer); err != nil {
		t.Fatalf("complain: %v", err)
	}
	h.now += DefaultCancelFaultPeriod + 1
	if err := h.kernel.CancelOrFault(id, seller); !errors.Is(err, ErrCofPeriodExpired) {
		t.Fatalf("expected ErrCofPeriodExpired, got %v", err)
	}
}

func TestCancelOrFaultVoucherSet(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 5)
	h.commit(t, supID)
	h.commit(t, supID)

	burned, err := h.kernel.CancelOrFaultVoucherSet(supID, seller)
	if err != nil {
		t.Fatalf("cancel set: %v", err)
	}
	if burned != 3 {
		t.Fatalf("burned %d supply units, want 3", burned)
	}
	if _, err := h.kernel.Commit(supID, buyer); !errors.Is(err, ErrOfferEmpty) {
		t.Fatalf("commit after set cancel: expected ErrOfferEmpty, got %v", err)
	}
	if _, err := h.kernel.CancelOrFaultVoucherSet(supID, seller); !errors.Is(err, ErrOfferEmpty) {
		t.Fatalf("double set cancel: expected ErrOfferEmpty, got %v", err)
	}
}

func TestFinalizeDecisionTable(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(t *testing.T, h *kernelHarness, id VoucherID)
		advance int64
		want    bool
	}{
		{
			name: "complained and cancelled finalizes immediately",
			prepare: func(t *testing.T, h *kernelHarness, id VoucherID) {
				mustRedeem(t, h, id)
				mustComplain(t, h, id)
				mustCancel(t, h, id)
			},
			advance: 0,
			want:    true,
		},
		{
			name: "complained only waits for the cancel-fault window",
			prepare: func(t *testing.T, h *kernelHarness, id VoucherID) {
				mustRedeem(t, h, id)
				mustComplain(t, h, id)
			},
			advance: DefaultCancelFaultPeriod - 1,
			want:    false,
		},
		{
			name: "complained only finalizes once the window lapses",
			prepare: func(t *testing.T, h *kernelHarness, id VoucherID) {
				mustRedeem(t, h, id)
				mustComplain(t, h, id)
			},
			advance: DefaultCancelFaultPeriod,
			want:    true,
		},
		{
			name: "redeemed only finalizes after the complain period",
			prepare: func(t *testing.T, h *kernelHarness, id VoucherID) {
				mustRedeem(t, h, id)
			},
			advance: DefaultComplainPeriod,
			want:    true,
		},
		{
			name: "redeemed only stays open inside the complain period",
			prepare: func(t *testing.T, h *kernelHarness, id VoucherID) {
				mustRedeem(t, h, id)
			},
			advance: DefaultComplainPeriod - 1,
			want:    false,
		},
		{
			name:    "committed only never finalizes",
			prepare: func(t *testing.T, h *kernelHarness, id VoucherID) {},
			advance: 10 * DefaultComplainPeriod,
			want:    false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newKernelHarness(t)
			supID := h.createOffer(t, 1)
			id := h.commit(t, supID)
			tc.prepare(t, h, id)
			h.now += tc.advance
			done, err := h.kernel.TriggerFinalize(id)
			if err != nil {
				t.Fatalf("finalize: %v", err)
			}
			if done != tc.want {
				t.Fatalf("finalize reported %v, want %v", done, tc.want)
			}
			rec, _ := h.kernel.VoucherOf(id)
			if rec.Status.Has(StatusFinalized) != tc.want {
				t.Fatalf("finalized flag %v, want %v", rec.Status.Has(StatusFinalized), tc.want)
			}
		})
	}
}

func TestFinalizeExpiredVoucher(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	h.now += 3601
	if err := h.kernel.TriggerExpiration(id); err != nil {
		t.Fatalf("expire: %v", err)
	}
	// The complain window for expired vouchers runs from validTo.
	h.now = 1_000_000 + 3600 + DefaultComplainPeriod - 1
	done, err := h.kernel.TriggerFinalize(id)
	if err != nil || done {
		t.Fatalf("finalize inside window: done=%v err=%v", done, err)
	}
	h.now++
	done, err = h.kernel.TriggerFinalize(id)
	if err != nil || !done {
		t.Fatalf("finalize after window: done=%v err=%v", done, err)
	}
}

func TestFinalizedVoucherIsImmutable(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	mustRedeem(t, h, id)
	h.now += DefaultComplainPeriod
	if done, err := h.kernel.TriggerFinalize(id); err != nil || !done {
		t.Fatalf("finalize: done=%v err=%v", done, err)
	}
	if err := h.kernel.Complain(id, buyer); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("complain on finalized: expected ErrAlreadyFinalized, got %v", err)
	}
	if err := h.kernel.CancelOrFault(id, seller); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("cancel on finalized: expected ErrAlreadyFinalized, got %v", err)
	}
	if done, err := h.kernel.TriggerFinalize(id); err != nil || done {
		t.Fatalf("repeat finalize: done=%v err=%v", done, err)
	}
}

func TestReleaseFlagsAreOneWay(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	if err := h.kernel.MarkPaymentReleased(id); err != nil {
		t.Fatalf("mark payment: %v", err)
	}
	if err := h.kernel.MarkPaymentReleased(id); err != nil {
		t.Fatalf("repeat mark payment: %v", err)
	}
	if err := h.kernel.MarkDepositsReleased(id); err != nil {
		t.Fatalf("mark deposits: %v", err)
	}
	rec, _ := h.kernel.VoucherOf(id)
	if !rec.PaymentReleased || !rec.DepositsReleased {
		t.Fatalf("release flags not set: %+v", rec)
	}
}

func TestOnSupplyTransferRepointsSeller(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	newSeller := [20]byte{0x03}
	if err := h.kernel.OnSupplyTransfer(supID, buyer, newSeller); !errors.Is(err, ErrNotSeller) {
		t.Fatalf("transfer from non-seller: expected ErrNotSeller, got %v", err)
	}
	if err := h.kernel.OnSupplyTransfer(supID, seller, newSeller); err != nil {
		t.Fatalf("supply transfer: %v", err)
	}
	prom, err := h.kernel.PromiseOfSupply(supID)
	if err != nil {
		t.Fatalf("promise of supply: %v", err)
	}
	if prom.Seller != newSeller {
		t.Fatalf("seller not repointed: %x", prom.Seller)
	}
}

func TestKernelEmitsLifecycleEvents(t *testing.T) {
	h := newKernelHarness(t)
	supID := h.createOffer(t, 1)
	id := h.commit(t, supID)
	mustRedeem(t, h, id)
	h.now += DefaultComplainPeriod
	if _, err := h.kernel.TriggerFinalize(id); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	want := []string{
		EventTypePromiseCreated,
		EventTypeSupplyCreated,
		EventTypeCommitted,
		EventTypeRedeemed,
		EventTypeFinalized,
	}
	if len(h.emitted.types) != len(want) {
		t.Fatalf("emitted %v, want %v", h.emitted.types, want)
	}
	for i := range want {
		if h.emitted.types[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, h.emitted.types[i], want[i])
		}
	}
}

func mustRedeem(t *testing.T, h *kernelHarness, id VoucherID) {
	t.Helper()
	if err := h.kernel.Redeem(id, buyer); err != nil {
		t.Fatalf("redeem: %v", err)
	}
}

func mustComplain(t *testing.T, h *kernelHarness, id VoucherID) {
	t.Helper()
	if err := h.kernel.Complain(id, buyer); err != nil {
		t.Fatalf("complain: %v", err)
	}
}

func mustCancel(t *testing.T, h *kernelHarness, id VoucherID) {
	t.Helper()
	if err := h.kernel.CancelOrFault(id, seller); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}
