package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"jobledger/native/common"
	"jobledger/native/escrow"
	"jobledger/native/jobs"
	"jobledger/observability/logging"
)

// EscrowTerms are the client's settlement terms fixed when a bid is accepted.
type EscrowTerms struct {
	ReleaseConditions string
	Timeout           uint64
	Milestones        []string
	Resolver          *[20]byte
}

// PostJob opens a job for call.Caller and indexes it in the registry.
func (n *Node) PostJob(ctx context.Context, call Call, title, description, requirements string, budget *big.Int, deadline uint64) (*jobs.Job, error) {
	var job *jobs.Job
	err := n.execute(ctx, "jobs", "post_job", call, func() error {
		var err error
		job, err = n.board.PostJob(call.Caller, title, description, requirements, budget, deadline)
		if err != nil {
			return err
		}
		if _, err := n.registry.RegisterJob(n.caps.RegistryAdmin, job.Address(), job.Client, job.Status.String()); err != nil {
			return err
		}
		return n.reputation.RecordJobPosted(job.Client)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SubmitBid records call.Caller's bid on jobID and indexes it.
func (n *Node) SubmitBid(ctx context.Context, call Call, jobID uint64, amount *big.Int, proposal string, estimate uint64) (*jobs.Bid, error) {
	var bid *jobs.Bid
	err := n.execute(ctx, "jobs", "submit_bid", call, func() error {
		var err error
		bid, err = n.board.SubmitBid(call.Caller, jobID, amount, proposal, estimate)
		if err != nil {
			return err
		}
		_, err = n.registry.RegisterBid(n.caps.RegistryAdmin, bid.Address(), bid.Worker, jobs.JobAddress(bid.JobID), bid.Status.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// CancelJob withdraws an open job and rejects its pending bids.
func (n *Node) CancelJob(ctx context.Context, call Call, jobID uint64) (*jobs.Job, error) {
	var job *jobs.Job
	err := n.execute(ctx, "jobs", "cancel_job", call, func() error {
		cancelled, rejected, err := n.board.CancelJob(call.Caller, jobID)
		if err != nil {
			return err
		}
		job = cancelled
		if err := n.registry.UpdateJobStatus(n.caps.RegistryAdmin, job.Address(), job.Status.String()); err != nil {
			return err
		}
		return n.rejectBids(rejected)
	}, slog.Uint64("job", jobID))
	if err != nil {
		return nil, err
	}
	return job, nil
}

// AcceptBid selects bidID and locks the bid amount from the client into a new
// escrow on the given terms. Competing bids are rejected.
func (n *Node) AcceptBid(ctx context.Context, call Call, bidID uint64, terms EscrowTerms) (*escrow.Escrow, error) {
	var esc *escrow.Escrow
	err := n.execute(ctx, "escrow", "accept_bid", call, func() error {
		job, bid, rejected, err := n.board.AcceptBid(call.Caller, bidID)
		if err != nil {
			return err
		}
		esc, err = n.escrow.Create(job.Client, job.ID, bid.Worker, bid.Amount, terms.ReleaseConditions, terms.Timeout, terms.Milestones, terms.Resolver)
		if err != nil {
			return err
		}
		if err := n.registry.UpdateJobStatus(n.caps.RegistryAdmin, job.Address(), job.Status.String()); err != nil {
			return err
		}
		if err := n.registry.UpdateBidStatus(n.caps.RegistryAdmin, bid.Address(), bid.Status.String()); err != nil {
			return err
		}
		return n.rejectBids(rejected)
	}, slog.Uint64("bid", bidID))
	if err != nil {
		return nil, err
	}
	return esc, nil
}

func (n *Node) rejectBids(bids []*jobs.Bid) error {
	for _, bid := range bids {
		if err := n.registry.UpdateBidStatus(n.caps.RegistryAdmin, bid.Address(), bid.Status.String()); err != nil {
			return err
		}
	}
	return nil
}

// SubmitMilestoneProof stores the worker's proof for milestone index.
func (n *Node) SubmitMilestoneProof(ctx context.Context, call Call, id [32]byte, index uint64, proofData string) (*escrow.MilestoneProof, error) {
	var proof *escrow.MilestoneProof
	err := n.execute(ctx, "escrow", "submit_proof", call, func() error {
		var err error
		proof, err = n.escrow.SubmitMilestoneProof(call.Caller, id, index, proofData)
		return err
	}, escrowAttr(id), logging.MaskField("proof", proofData))
	if err != nil {
		return nil, err
	}
	return proof, nil
}

// VerifyMilestone approves or rejects a submitted proof.
func (n *Node) VerifyMilestone(ctx context.Context, call Call, id, proofID [32]byte, index uint64, approved bool) error {
	return n.execute(ctx, "escrow", "verify_milestone", call, func() error {
		return n.escrow.VerifyMilestone(call.Caller, id, proofID, index, approved)
	}, escrowAttr(id), slog.Bool("approved", approved))
}

// RaiseDispute freezes an escrow until its resolver settles it.
func (n *Node) RaiseDispute(ctx context.Context, call Call, id [32]byte, reason string) error {
	return n.execute(ctx, "escrow", "raise_dispute", call, func() error {
		return n.escrow.RaiseDispute(call.Caller, id, reason)
	}, escrowAttr(id), slog.String("reason", reason))
}

// ReleaseEscrow pays the worker and completes the job.
func (n *Node) ReleaseEscrow(ctx context.Context, call Call, id [32]byte, reason string) error {
	return n.execute(ctx, "escrow", "release", call, func() error {
		if err := n.escrow.Release(call.Caller, id, reason); err != nil {
			return err
		}
		return n.afterSettlement(id)
	}, escrowAttr(id))
}

// RefundEscrow returns the funds to the client and cancels the job.
func (n *Node) RefundEscrow(ctx context.Context, call Call, id [32]byte, reason string) error {
	return n.execute(ctx, "escrow", "refund", call, func() error {
		if err := n.escrow.Refund(call.Caller, id, reason); err != nil {
			return err
		}
		return n.afterSettlement(id)
	}, escrowAttr(id))
}

// TimeoutEscrow refunds an escrow whose timeout elapsed. Any caller may
// trigger it.
func (n *Node) TimeoutEscrow(ctx context.Context, call Call, id [32]byte) error {
	return n.execute(ctx, "escrow", "timeout", call, func() error {
		if err := n.escrow.TimeoutRelease(id); err != nil {
			return err
		}
		return n.afterSettlement(id)
	}, escrowAttr(id))
}

// ResolveDispute settles a disputed escrow with the dispute-resolver token.
func (n *Node) ResolveDispute(ctx context.Context, call Call, capability *common.Capability, id [32]byte, outcome escrow.Outcome, reason string) error {
	return n.execute(ctx, "escrow", "resolve_dispute", call, func() error {
		if err := n.escrow.ResolveDispute(capability, id, outcome, reason); err != nil {
			return err
		}
		return n.afterSettlement(id)
	}, escrowAttr(id), slog.String("outcome", string(outcome)))
}

// afterSettlement moves the escrow's job to its final state and keeps the
// registry and reputation counters in step with it.
func (n *Node) afterSettlement(id [32]byte) error {
	esc, err := n.escrow.Escrow(id)
	if err != nil {
		return err
	}
	var job *jobs.Job
	switch esc.Status {
	case escrow.StatusReleased:
		if job, err = n.board.CompleteJob(esc.JobID); err != nil {
			return err
		}
		if err := n.reputation.RecordJobCompleted(esc.Worker); err != nil {
			return err
		}
	case escrow.StatusRefunded:
		if job, err = n.board.AbandonJob(esc.JobID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("core: escrow %x not settled: %s", id, esc.Status)
	}
	return n.registry.UpdateJobStatus(n.caps.RegistryAdmin, job.Address(), job.Status.String())
}

func escrowAttr(id [32]byte) slog.Attr {
	return slog.String("escrow", fmt.Sprintf("%x", id))
}
