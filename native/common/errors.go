package common

import "errors"

// Error kinds shared by every native module. Module sentinels wrap one of
// these so callers can match either the precise failure or its class.
var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidState            = errors.New("invalid state")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInsufficientStake       = errors.New("insufficient stake")
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrDuplicate               = errors.New("duplicate entry")
	ErrReleaseConditionsNotMet = errors.New("release conditions not met")
)

var kinds = []struct {
	err   error
	label string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidState, "invalid_state"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientStake, "insufficient_stake"},
	{ErrValidation, "validation"},
	{ErrNotFound, "not_found"},
	{ErrDuplicate, "duplicate"},
	{ErrReleaseConditionsNotMet, "release_conditions_not_met"},
	{ErrModulePaused, "paused"},
}

// Kind returns a stable label for the error class, suitable for metrics and
// log fields. Unknown errors map to "internal"; nil maps to "ok".
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "internal"
}
