package voucher

// Status encodes a voucher's lifecycle as a small bitmask. One bit per
// milestone; bits are only ever set, never cleared. Bit 0 is reserved.
type Status uint8

const (
	StatusCommitted   Status = 1 << 7
	StatusRedeemed    Status = 1 << 6
	StatusRefunded    Status = 1 << 5
	StatusExpired     Status = 1 << 4
	StatusComplained  Status = 1 << 3
	StatusCancelFault Status = 1 << 2
	StatusFinalized   Status = 1 << 1
)

// Has reports whether the milestone bit is set.
func (s Status) Has(flag Status) bool {
	return s&flag != 0
}

// With returns the status with the milestone bit additionally set.
func (s Status) With(flag Status) Status {
	return s | flag
}

// The exact-state predicates compare against a freshly composed mask rather
// than probing the named bit, so a voucher that has also been complained
// against or cancelled never matches an "-Only" state.

func (s Status) CommittedOnly() bool {
	return s == StatusCommitted
}

func (s Status) RedeemedOnly() bool {
	return s == StatusCommitted.With(StatusRedeemed)
}

func (s Status) RefundedOnly() bool {
	return s == StatusCommitted.With(StatusRefunded)
}

func (s Status) ExpiredOnly() bool {
	return s == StatusCommitted.With(StatusExpired)
}

func (s Status) String() string {
	if s == 0 {
		return "none"
	}
	names := []struct {
		flag Status
		name string
	}{
		{StatusCommitted, "committed"},
		{StatusRedeemed, "redeemed"},
		{StatusRefunded, "refunded"},
		{StatusExpired, "expired"},
		{StatusComplained, "complained"},
		{StatusCancelFault, "cancel_fault"},
		{StatusFinalized, "finalized"},
	}
	out := ""
	for _, n := range names {
		if s.Has(n.flag) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "reserved"
	}
	return out
}
