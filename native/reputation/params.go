package reputation

import (
	"fmt"
	"math/big"

	"jobledger/native/common"
)

// Params holds the tunable constants of the reputation ledger.
type Params struct {
	WorkerMinStake    uint64
	ClientMinStake    uint64
	DecayRate         uint64
	PenaltyLockWindow uint64
	InitialScore      uint64
	MaxScore          uint64
	VerificationBonus uint64
	StakeBonus        uint64
	PenaltyMultiplier uint64
	ThresholdScore    uint64
	MaxPenaltyPoints  uint64
}

// DefaultParams returns the production defaults. Stake minimums are expressed
// in base units at nine decimals.
func DefaultParams() Params {
	return Params{
		WorkerMinStake:    1_000_000_000,
		ClientMinStake:    500_000_000,
		DecayRate:         1,
		PenaltyLockWindow: 7,
		InitialScore:      50,
		MaxScore:          100,
		VerificationBonus: 10,
		StakeBonus:        5,
		PenaltyMultiplier: 2,
		ThresholdScore:    50,
		MaxPenaltyPoints:  10,
	}
}

// Validate checks the parameter set for internal consistency.
func (p Params) Validate() error {
	if p.WorkerMinStake == 0 || p.ClientMinStake == 0 {
		return fmt.Errorf("reputation: %w: minimum stakes must be positive", common.ErrValidation)
	}
	if p.MaxScore == 0 {
		return fmt.Errorf("reputation: %w: max score must be positive", common.ErrValidation)
	}
	if p.InitialScore > p.MaxScore {
		return fmt.Errorf("reputation: %w: initial score %d above max %d", common.ErrValidation, p.InitialScore, p.MaxScore)
	}
	if p.ThresholdScore > p.MaxScore {
		return fmt.Errorf("reputation: %w: threshold %d above max %d", common.ErrValidation, p.ThresholdScore, p.MaxScore)
	}
	if p.MaxPenaltyPoints == 0 {
		return fmt.Errorf("reputation: %w: max penalty points must be positive", common.ErrValidation)
	}
	return nil
}

// MinStake returns the minimum stake for role. Dual-role profiles must clear
// the stricter of the two minimums.
func (p Params) MinStake(role Role) *big.Int {
	switch role {
	case RoleWorker:
		return new(big.Int).SetUint64(p.WorkerMinStake)
	case RoleClient:
		return new(big.Int).SetUint64(p.ClientMinStake)
	default:
		if p.WorkerMinStake > p.ClientMinStake {
			return new(big.Int).SetUint64(p.WorkerMinStake)
		}
		return new(big.Int).SetUint64(p.ClientMinStake)
	}
}
