package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"vouchernet/core/types"
	"vouchernet/native/voucher"
	"vouchernet/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager(t)
	addr := [20]byte{0x01}

	account, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), account.Nonce)
	require.Zero(t, account.Balance.Sign())

	account.Nonce = 3
	account.Balance = big.NewInt(1234)
	require.NoError(t, m.PutAccount(addr, account))

	loaded, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.Nonce)
	require.Zero(t, loaded.Balance.Cmp(big.NewInt(1234)))
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	m := newTestManager(t)
	err := m.PutAccount([20]byte{0x01}, &types.Account{Balance: big.NewInt(-1)})
	require.Error(t, err)
}

func TestTokenRegistry(t *testing.T) {
	m := newTestManager(t)

	ok, err := m.TokenRegistered("VUSD")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.RegisterToken(" vusd "))
	ok, err = m.TokenRegistered("VUSD")
	require.NoError(t, err)
	require.True(t, ok)

	require.Error(t, m.RegisterToken("  "))
}

func TestTokenBalances(t *testing.T) {
	m := newTestManager(t)
	addr := [20]byte{0x02}

	bal, err := m.TokenBalance("VUSD", addr)
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	require.NoError(t, m.SetTokenBalance("VUSD", addr, big.NewInt(500)))
	bal, err = m.TokenBalance("VUSD", addr)
	require.NoError(t, err)
	require.Zero(t, bal.Cmp(big.NewInt(500)))

	require.Error(t, m.SetTokenBalance("VUSD", addr, big.NewInt(-1)))
}

func TestEscrowCreditDebit(t *testing.T) {
	m := newTestManager(t)
	addr := [20]byte{0x03}

	require.NoError(t, m.EscrowCredit("", addr, big.NewInt(100)))
	require.NoError(t, m.EscrowCredit("VUSD", addr, big.NewInt(40)))

	native, err := m.EscrowBalance("", addr)
	require.NoError(t, err)
	require.Zero(t, native.Cmp(big.NewInt(100)))

	token, err := m.EscrowBalance("VUSD", addr)
	require.NoError(t, err)
	require.Zero(t, token.Cmp(big.NewInt(40)))

	require.NoError(t, m.EscrowDebit("", addr, big.NewInt(60)))
	native, err = m.EscrowBalance("", addr)
	require.NoError(t, err)
	require.Zero(t, native.Cmp(big.NewInt(40)))

	require.Error(t, m.EscrowDebit("", addr, big.NewInt(41)))
	require.Error(t, m.EscrowDebit("", addr, big.NewInt(-1)))
	require.Error(t, m.EscrowCredit("", addr, nil))
}

func TestPromiseRoundTrip(t *testing.T) {
	m := newTestManager(t)
	prom := &voucher.Promise{
		ID:            voucher.PromiseID{0xaa},
		Seller:        [20]byte{0x04},
		Nonce:         1,
		ValidFrom:     100,
		ValidTo:       2000,
		Price:         big.NewInt(75),
		DepositSeller: big.NewInt(9),
		DepositBuyer:  big.NewInt(3),
		Idx:           0,
	}
	require.NoError(t, m.PromisePut(prom))

	loaded, ok := m.PromiseGet(prom.ID)
	require.True(t, ok)
	require.Equal(t, prom.Seller, loaded.Seller)
	require.Equal(t, prom.ValidFrom, loaded.ValidFrom)
	require.Equal(t, prom.ValidTo, loaded.ValidTo)
	require.Zero(t, loaded.Price.Cmp(prom.Price))
	require.Zero(t, loaded.DepositSeller.Cmp(prom.DepositSeller))
	require.Zero(t, loaded.DepositBuyer.Cmp(prom.DepositBuyer))

	_, ok = m.PromiseGet(voucher.PromiseID{0xbb})
	require.False(t, ok)
}

func TestPromiseIndex(t *testing.T) {
	m := newTestManager(t)

	count, err := m.PromiseCount()
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)

	first := voucher.PromiseID{0x01}
	second := voucher.PromiseID{0x02}

	idx, err := m.PromiseIndexAppend(first)
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)
	idx, err = m.PromiseIndexAppend(second)
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx)

	count, err = m.PromiseCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	got, ok := m.PromiseAt(1)
	require.True(t, ok)
	require.Equal(t, second, got)
	_, ok = m.PromiseAt(2)
	require.False(t, ok)
}

func TestSellerNonce(t *testing.T) {
	m := newTestManager(t)
	addr := [20]byte{0x05}

	nonce, err := m.SellerNonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)

	require.NoError(t, m.SetSellerNonce(addr, 7))
	nonce, err = m.SellerNonce(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(7), nonce)
}

func TestSupplyCountersAndRoundTrip(t *testing.T) {
	m := newTestManager(t)

	first, err := m.NextSupplyID()
	require.NoError(t, err)
	second, err := m.NextSupplyID()
	require.NoError(t, err)
	require.Equal(t, first+1, second)

	sup := &voucher.Supply{
		ID:         first,
		PromiseID:  voucher.PromiseID{0xcc},
		Method:     voucher.PaymentTokenToken,
		PriceToken: "vusd", DepositToken: "vusd",
	}
	require.NoError(t, m.SupplyPut(sup))
	loaded, ok := m.SupplyGet(first)
	require.True(t, ok)
	require.Equal(t, voucher.PaymentTokenToken, loaded.Method)
	require.Equal(t, "VUSD", loaded.PriceToken)

	seqA, err := m.NextVoucherSeq(first)
	require.NoError(t, err)
	seqB, err := m.NextVoucherSeq(first)
	require.NoError(t, err)
	require.Equal(t, seqA+1, seqB)
	seqOther, err := m.NextVoucherSeq(second)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seqOther)
}

func TestVoucherRoundTrip(t *testing.T) {
	m := newTestManager(t)
	rec := &voucher.Record{
		ID:                     voucher.VoucherID{Supply: 1, Seq: 2},
		PromiseID:              voucher.PromiseID{0xdd},
		Status:                 voucher.StatusCommitted.With(voucher.StatusRedeemed),
		PaymentReleased:        true,
		ComplainPeriodStart:    12345,
		CancelFaultPeriodStart: 23456,
	}
	require.NoError(t, m.VoucherPut(rec))

	loaded, ok := m.VoucherGet(rec.ID)
	require.True(t, ok)
	require.Equal(t, rec.Status, loaded.Status)
	require.True(t, loaded.PaymentReleased)
	require.False(t, loaded.DepositsReleased)
	require.Equal(t, rec.ComplainPeriodStart, loaded.ComplainPeriodStart)
	require.Equal(t, rec.CancelFaultPeriodStart, loaded.CancelFaultPeriodStart)

	_, ok = m.VoucherGet(voucher.VoucherID{Supply: 9, Seq: 9})
	require.False(t, ok)
}

func TestSupplyBalancesAndVoucherOwners(t *testing.T) {
	m := newTestManager(t)
	addr := [20]byte{0x06}

	qty, err := m.SupplyBalanceGet(addr, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), qty)

	require.NoError(t, m.SupplyBalanceSet(addr, 1, 10))
	qty, err = m.SupplyBalanceGet(addr, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(10), qty)

	id := voucher.VoucherID{Supply: 1, Seq: 1}
	_, ok := m.VoucherOwnerGet(id)
	require.False(t, ok)
	require.NoError(t, m.VoucherOwnerSet(id, addr))
	owner, ok := m.VoucherOwnerGet(id)
	require.True(t, ok)
	require.Equal(t, addr, owner)
}

func TestGateEntries(t *testing.T) {
	m := newTestManager(t)
	user := [20]byte{0x07}

	allowed, consumed, err := m.GateEntryGet(1, user)
	require.NoError(t, err)
	require.False(t, allowed)
	require.False(t, consumed)

	require.NoError(t, m.GateEntrySet(1, user, true, false))
	allowed, consumed, err = m.GateEntryGet(1, user)
	require.NoError(t, err)
	require.True(t, allowed)
	require.False(t, consumed)

	require.NoError(t, m.GateEntrySet(1, user, true, true))
	_, consumed, err = m.GateEntryGet(1, user)
	require.NoError(t, err)
	require.True(t, consumed)
}
