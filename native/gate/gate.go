package gate

import (
	"errors"
	"fmt"

	"vouchernet/native/voucher"
)

var (
	errNilState = errors.New("gate: state not configured")

	// ErrNotEligible rejects a conditional commit for a user who was never
	// granted access or already consumed it.
	ErrNotEligible = fmt.Errorf("%w: not eligible for voucher set", voucher.ErrAuthorization)
)

type gateState interface {
	GateEntryGet(id voucher.SupplyID, user [20]byte) (allowed, consumed bool, err error)
	GateEntrySet(id voucher.SupplyID, user [20]byte, allowed, consumed bool) error
}

// Gate grants or denies eligibility to commit to a gated voucher set and
// records one-time consumption per user. Only the routing layer consults it;
// the kernel has no dependency on it.
type Gate struct {
	state gateState
}

func NewGate() *Gate { return &Gate{} }

// SetState configures the state backend.
func (g *Gate) SetState(state gateState) { g.state = state }

func (g *Gate) ready() error {
	if g == nil || g.state == nil {
		return errNilState
	}
	return nil
}

// Allow grants the user a single eligible commit against the voucher set.
func (g *Gate) Allow(id voucher.SupplyID, user [20]byte) error {
	if err := g.ready(); err != nil {
		return err
	}
	if user == ([20]byte{}) {
		return voucher.ErrZeroAddress
	}
	return g.state.GateEntrySet(id, user, true, false)
}

// CheckEligible reports whether the user may still commit.
func (g *Gate) CheckEligible(user [20]byte, id voucher.SupplyID) (bool, error) {
	if err := g.ready(); err != nil {
		return false, err
	}
	allowed, consumed, err := g.state.GateEntryGet(id, user)
	if err != nil {
		return false, err
	}
	return allowed && !consumed, nil
}

// Consume burns the user's eligibility. The second consume fails.
func (g *Gate) Consume(user [20]byte, id voucher.SupplyID) error {
	if err := g.ready(); err != nil {
		return err
	}
	allowed, consumed, err := g.state.GateEntryGet(id, user)
	if err != nil {
		return err
	}
	if !allowed || consumed {
		return ErrNotEligible
	}
	return g.state.GateEntrySet(id, user, true, true)
}
