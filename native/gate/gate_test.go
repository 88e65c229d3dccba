package gate

import (
	"errors"
	"fmt"
	"testing"

	"vouchernet/native/voucher"
)

type memGateState struct {
	entries map[string][2]bool
}

func gateKey(id voucher.SupplyID, user [20]byte) string {
	return fmt.Sprintf("%d|%x", id, user)
}

func (m *memGateState) GateEntryGet(id voucher.SupplyID, user [20]byte) (bool, bool, error) {
	entry := m.entries[gateKey(id, user)]
	return entry[0], entry[1], nil
}

func (m *memGateState) GateEntrySet(id voucher.SupplyID, user [20]byte, allowed, consumed bool) error {
	m.entries[gateKey(id, user)] = [2]bool{allowed, consumed}
	return nil
}

func newTestGate() *Gate {
	g := NewGate()
	g.SetState(&memGateState{entries: make(map[string][2]bool)})
	return g
}

func TestGateOneShotConsumption(t *testing.T) {
	g := newTestGate()
	user := [20]byte{0x01}

	eligible, err := g.CheckEligible(user, 1)
	if err != nil || eligible {
		t.Fatalf("ungated user eligible=%v err=%v, want false", eligible, err)
	}
	if err := g.Consume(user, 1); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("consume without grant: expected ErrNotEligible, got %v", err)
	}

	if err := g.Allow(1, user); err != nil {
		t.Fatalf("allow: %v", err)
	}
	eligible, err = g.CheckEligible(user, 1)
	if err != nil || !eligible {
		t.Fatalf("granted user eligible=%v err=%v, want true", eligible, err)
	}
	if err := g.Consume(user, 1); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := g.Consume(user, 1); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("second consume: expected ErrNotEligible, got %v", err)
	}
	eligible, _ = g.CheckEligible(user, 1)
	if eligible {
		t.Fatalf("consumed user still eligible")
	}
}

func TestGateRejectsZeroAddress(t *testing.T) {
	g := newTestGate()
	if err := g.Allow(1, [20]byte{}); !errors.Is(err, voucher.ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestGateScopedPerSupply(t *testing.T) {
	g := newTestGate()
	user := [20]byte{0x01}
	if err := g.Allow(1, user); err != nil {
		t.Fatalf("allow: %v", err)
	}
	eligible, _ := g.CheckEligible(user, 2)
	if eligible {
		t.Fatalf("grant leaked across voucher sets")
	}
}
