package voucher

import (
	"errors"
	"fmt"
)

// The five error kinds of the protocol. Every concrete error wraps exactly one
// of them, so callers can match with errors.Is at either granularity. All
// checks run before any state mutation; invariant violations additionally mean
// the whole operation must be abandoned.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("unauthorized")
	ErrStateConflict = errors.New("state conflict")
	ErrWindowExpired = errors.New("window expired")
	ErrInvariant     = errors.New("invariant violation")
)

var (
	ErrInvalidWindow        = fmt.Errorf("%w: invalid validity window", ErrValidation)
	ErrInvalidQuantity      = fmt.Errorf("%w: quantity must be positive", ErrValidation)
	ErrInvalidAmount        = fmt.Errorf("%w: amount must be non-negative", ErrValidation)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: unrecognized payment method", ErrValidation)
	ErrInvalidPeriod        = fmt.Errorf("%w: period must be positive", ErrValidation)
	ErrZeroAddress          = fmt.Errorf("%w: zero address", ErrValidation)
	ErrPromiseNotFound      = fmt.Errorf("%w: promise not found", ErrValidation)
	ErrSupplyNotFound       = fmt.Errorf("%w: voucher set not found", ErrValidation)
	ErrVoucherNotFound      = fmt.Errorf("%w: voucher not found", ErrValidation)

	ErrNotSeller        = fmt.Errorf("%w: caller is not the seller", ErrAuthorization)
	ErrNotVoucherHolder = fmt.Errorf("%w: caller does not hold the voucher", ErrAuthorization)
	ErrNotOwner         = fmt.Errorf("%w: caller is not the protocol owner", ErrAuthorization)

	ErrOfferEmpty         = fmt.Errorf("%w: no remaining supply", ErrStateConflict)
	ErrAlreadyProcessed   = fmt.Errorf("%w: voucher already processed", ErrStateConflict)
	ErrAlreadyComplained  = fmt.Errorf("%w: already complained", ErrStateConflict)
	ErrAlreadyCancelFault = fmt.Errorf("%w: already cancelled or faulted", ErrStateConflict)
	ErrAlreadyFinalized   = fmt.Errorf("%w: voucher finalized", ErrStateConflict)
	ErrInapplicableStatus = fmt.Errorf("%w: transition not legal from current status", ErrStateConflict)

	ErrOfferExpired          = fmt.Errorf("%w: offer validity window passed", ErrWindowExpired)
	ErrOutsideValidityWindow = fmt.Errorf("%w: outside the voucher validity window", ErrWindowExpired)
	ErrComplainPeriodExpired = fmt.Errorf("%w: complain period passed", ErrWindowExpired)
	ErrCofPeriodExpired      = fmt.Errorf("%w: cancel-or-fault period passed", ErrWindowExpired)

	ErrDuplicatePromise = fmt.Errorf("%w: duplicate promise id", ErrInvariant)
)
