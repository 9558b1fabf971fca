package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"jobledger/native/common"
	"jobledger/native/jobs"
	"jobledger/native/reputation"
	"jobledger/observability/logging"
)

// CreateProfile registers call.Caller in the reputation ledger and locks the
// initial stake.
func (n *Node) CreateProfile(ctx context.Context, call Call, role reputation.Role, stake *big.Int, specialties []string) (*reputation.Profile, error) {
	var profile *reputation.Profile
	err := n.execute(ctx, "reputation", "create_profile", call, func() error {
		var err error
		profile, err = n.reputation.CreateProfile(call.Caller, role, stake, specialties)
		return err
	}, slog.String("role", role.String()))
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// AddStake moves amount from call.Caller's account into its stake.
func (n *Node) AddStake(ctx context.Context, call Call, amount *big.Int) (*reputation.Profile, error) {
	var profile *reputation.Profile
	err := n.execute(ctx, "reputation", "add_stake", call, func() error {
		var err error
		profile, err = n.reputation.AddStake(call.Caller, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// WithdrawStake returns amount of call.Caller's stake to its account.
func (n *Node) WithdrawStake(ctx context.Context, call Call, amount *big.Int) (*reputation.Profile, error) {
	var profile *reputation.Profile
	err := n.execute(ctx, "reputation", "withdraw_stake", call, func() error {
		var err error
		profile, err = n.reputation.WithdrawStake(call.Caller, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// SubmitRating stores call.Caller's rating of rated for jobID. The job must be
// completed and the two must be its client and selected worker, in the
// direction kind names.
func (n *Node) SubmitRating(ctx context.Context, call Call, rated [20]byte, jobID uint64, value uint64, feedback string, kind reputation.RatingType) (*reputation.Rating, error) {
	var rating *reputation.Rating
	err := n.execute(ctx, "reputation", "submit_rating", call, func() error {
		job, err := n.board.Job(jobID)
		if err != nil {
			return err
		}
		if job.Status != jobs.JobCompleted {
			return fmt.Errorf("%w: job %d is %s", ErrJobNotRateable, jobID, job.Status)
		}
		switch kind {
		case reputation.RatingClientToWorker:
			if call.Caller != job.Client || rated != job.SelectedWorker {
				return ErrNotCounterparty
			}
		case reputation.RatingWorkerToClient:
			if call.Caller != job.SelectedWorker || rated != job.Client {
				return ErrNotCounterparty
			}
		default:
			return reputation.ErrInvalidRatingType
		}
		rating, err = n.reputation.SubmitRating(call.Caller, rated, jobID, value, feedback, kind)
		return err
	}, slog.Uint64("job", jobID), logging.MaskField("feedback", feedback))
	if err != nil {
		return nil, err
	}
	return rating, nil
}

// DecayReputation applies elapsed-time decay to participant's score.
func (n *Node) DecayReputation(ctx context.Context, call Call, participant [20]byte) (*reputation.Profile, error) {
	var profile *reputation.Profile
	err := n.execute(ctx, "reputation", "decay", call, func() error {
		var err error
		profile, err = n.reputation.DecayReputation(participant)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// VerifyUser marks participant verified with the reputation-admin token.
func (n *Node) VerifyUser(ctx context.Context, call Call, capability *common.Capability, participant [20]byte) (*reputation.Profile, error) {
	var profile *reputation.Profile
	err := n.execute(ctx, "reputation", "verify_user", call, func() error {
		var err error
		profile, err = n.reputation.VerifyUser(capability, participant)
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// ApplyPenalty records penalty points against participant with the
// reputation-admin token.
func (n *Node) ApplyPenalty(ctx context.Context, call Call, capability *common.Capability, participant [20]byte, points uint64, reason string) (*reputation.Profile, error) {
	var profile *reputation.Profile
	err := n.execute(ctx, "reputation", "apply_penalty", call, func() error {
		var err error
		profile, err = n.reputation.ApplyPenalty(capability, participant, points, reason)
		return err
	}, slog.Uint64("points", points), slog.String("reason", reason))
	if err != nil {
		return nil, err
	}
	return profile, nil
}
