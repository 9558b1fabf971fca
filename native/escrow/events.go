package escrow

import (
	"encoding/hex"
	"strconv"

	"jobledger/core/types"
)

const (
	EventTypeEscrowLocked       = "escrow.locked"
	EventTypeProofSubmitted     = "escrow.milestone_proof_submitted"
	EventTypeMilestoneCompleted = "escrow.milestone_completed"
	EventTypeMilestoneRejected  = "escrow.milestone_rejected"
	EventTypeEscrowReleased     = "escrow.released"
	EventTypeEscrowRefunded     = "escrow.refunded"
	EventTypeDisputeRaised      = "escrow.dispute_raised"
	EventTypeDisputeResolved    = "escrow.dispute_resolved"
)

// NewLockedEvent returns the canonical payload for a newly locked escrow.
func NewLockedEvent(e *Escrow) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["escrowId"] = hex.EncodeToString(e.ID[:])
		attrs["jobId"] = strconv.FormatUint(e.JobID, 10)
		attrs["client"] = hex.EncodeToString(e.Client[:])
		attrs["worker"] = hex.EncodeToString(e.Worker[:])
		attrs["amount"] = cloneBigInt(e.Amount).String()
		attrs["timeout"] = strconv.FormatUint(e.Timeout, 10)
		attrs["milestones"] = strconv.Itoa(len(e.Milestones))
		if e.HasResolver() {
			attrs["resolver"] = hex.EncodeToString(e.Resolver[:])
		}
	}
	return &types.Event{Type: EventTypeEscrowLocked, Attributes: attrs}
}

// NewProofSubmittedEvent is emitted when the worker files a milestone proof.
func NewProofSubmittedEvent(e *Escrow, p *MilestoneProof) *types.Event {
	attrs := map[string]string{}
	if e != nil && p != nil {
		attrs["escrowId"] = hex.EncodeToString(e.ID[:])
		attrs["proofId"] = hex.EncodeToString(p.ID[:])
		attrs["milestoneIndex"] = strconv.FormatUint(p.Index, 10)
		attrs["worker"] = hex.EncodeToString(e.Worker[:])
		attrs["proofHash"] = hex.EncodeToString(p.ProofHash[:])
	}
	return &types.Event{Type: EventTypeProofSubmitted, Attributes: attrs}
}

// NewMilestoneCompletedEvent is emitted when a milestone is approved.
func NewMilestoneCompletedEvent(e *Escrow, index uint64) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneCompleted, e, index, nil)
}

// NewMilestoneRejectedEvent is emitted when a reviewer declines a proof.
func NewMilestoneRejectedEvent(e *Escrow, index uint64, verifier [20]byte) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneRejected, e, index, &verifier)
}

// NewReleasedEvent returns the payload for a release of funds to the worker.
func NewReleasedEvent(e *Escrow, amount string) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["escrowId"] = hex.EncodeToString(e.ID[:])
		attrs["worker"] = hex.EncodeToString(e.Worker[:])
		attrs["amount"] = amount
		attrs["reason"] = e.CloseReason
	}
	return &types.Event{Type: EventTypeEscrowReleased, Attributes: attrs}
}

// NewRefundedEvent returns the payload for a refund to the client.
func NewRefundedEvent(e *Escrow, amount string) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["escrowId"] = hex.EncodeToString(e.ID[:])
		attrs["client"] = hex.EncodeToString(e.Client[:])
		attrs["amount"] = amount
		attrs["reason"] = e.CloseReason
	}
	return &types.Event{Type: EventTypeEscrowRefunded, Attributes: attrs}
}

// NewDisputeRaisedEvent is emitted when a counterparty freezes the escrow.
func NewDisputeRaisedEvent(e *Escrow) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["escrowId"] = hex.EncodeToString(e.ID[:])
		attrs["raisedBy"] = hex.EncodeToString(e.DisputedBy[:])
		attrs["reason"] = e.DisputeReason
	}
	return &types.Event{Type: EventTypeDisputeRaised, Attributes: attrs}
}

// NewDisputeResolvedEvent is emitted when the resolver capability settles a
// dispute.
func NewDisputeResolvedEvent(e *Escrow, outcome Outcome) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["escrowId"] = hex.EncodeToString(e.ID[:])
		attrs["outcome"] = string(outcome)
		attrs["status"] = e.Status.String()
	}
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}
}

func newMilestoneEvent(eventType string, e *Escrow, index uint64, verifier *[20]byte) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["escrowId"] = hex.EncodeToString(e.ID[:])
		attrs["milestoneIndex"] = strconv.FormatUint(index, 10)
		attrs["worker"] = hex.EncodeToString(e.Worker[:])
		attrs["completed"] = strconv.Itoa(e.CompletedCount())
	}
	if verifier != nil {
		attrs["verifier"] = hex.EncodeToString(verifier[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
