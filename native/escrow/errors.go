package escrow

import (
	"fmt"

	"jobledger/native/common"
)

var (
	ErrEscrowNotFound          = fmt.Errorf("escrow: escrow %w", common.ErrNotFound)
	ErrProofNotFound           = fmt.Errorf("escrow: milestone proof %w", common.ErrNotFound)
	ErrEscrowExists            = fmt.Errorf("escrow: %w: job already has an escrow", common.ErrDuplicate)
	ErrUnauthorizedCaller      = fmt.Errorf("escrow: %w caller", common.ErrUnauthorized)
	ErrNotLocked               = fmt.Errorf("escrow: %w: escrow not locked", common.ErrInvalidState)
	ErrNotDisputed             = fmt.Errorf("escrow: %w: escrow not disputed", common.ErrInvalidState)
	ErrTimeoutNotReached       = fmt.Errorf("escrow: %w: timeout not reached", common.ErrInvalidState)
	ErrProofReviewed           = fmt.Errorf("escrow: %w: proof already reviewed", common.ErrInvalidState)
	ErrInvalidAmount           = fmt.Errorf("escrow: %w: amount must be positive", common.ErrValidation)
	ErrInvalidParty            = fmt.Errorf("escrow: %w: invalid counterparty", common.ErrValidation)
	ErrInvalidMilestone        = fmt.Errorf("escrow: %w: invalid milestone", common.ErrValidation)
	ErrMilestoneIndex          = fmt.Errorf("escrow: %w: milestone index out of range", common.ErrValidation)
	ErrProofMismatch           = fmt.Errorf("escrow: %w: proof does not match escrow milestone", common.ErrValidation)
	ErrInvalidOutcome          = fmt.Errorf("escrow: %w: invalid resolution outcome", common.ErrValidation)
	ErrInvalidEscrow           = fmt.Errorf("escrow: %w: malformed escrow", common.ErrValidation)
	ErrReleaseConditionsNotMet = fmt.Errorf("escrow: %w", common.ErrReleaseConditionsNotMet)
)
