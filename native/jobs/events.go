package jobs

import (
	"encoding/hex"
	"strconv"

	"jobledger/core/types"
)

const (
	EventTypeJobPosted    = "job.posted"
	EventTypeBidSubmitted = "job.bid_submitted"
	EventTypeBidAccepted  = "job.bid_accepted"
	EventTypeJobCancelled = "job.cancelled"
	EventTypeJobCompleted = "job.completed"
)

// NewJobPostedEvent returns the payload for a newly posted job.
func NewJobPostedEvent(j *Job) *types.Event {
	attrs := make(map[string]string)
	if j != nil {
		attrs["jobId"] = strconv.FormatUint(j.ID, 10)
		attrs["client"] = hex.EncodeToString(j.Client[:])
		attrs["title"] = j.Title
		attrs["budget"] = j.Budget.String()
	}
	return &types.Event{Type: EventTypeJobPosted, Attributes: attrs}
}

// NewBidSubmittedEvent returns the payload for a submitted bid.
func NewBidSubmittedEvent(b *Bid) *types.Event {
	attrs := make(map[string]string)
	if b != nil {
		attrs["bidId"] = strconv.FormatUint(b.ID, 10)
		attrs["jobId"] = strconv.FormatUint(b.JobID, 10)
		attrs["worker"] = hex.EncodeToString(b.Worker[:])
		attrs["amount"] = b.Amount.String()
	}
	return &types.Event{Type: EventTypeBidSubmitted, Attributes: attrs}
}

// NewBidAcceptedEvent is emitted when the client selects a bid.
func NewBidAcceptedEvent(j *Job, b *Bid) *types.Event {
	attrs := make(map[string]string)
	if j != nil && b != nil {
		attrs["jobId"] = strconv.FormatUint(j.ID, 10)
		attrs["bidId"] = strconv.FormatUint(b.ID, 10)
		attrs["worker"] = hex.EncodeToString(b.Worker[:])
		attrs["amount"] = b.Amount.String()
	}
	return &types.Event{Type: EventTypeBidAccepted, Attributes: attrs}
}

func newJobStatusEvent(eventType string, j *Job) *types.Event {
	attrs := make(map[string]string)
	if j != nil {
		attrs["jobId"] = strconv.FormatUint(j.ID, 10)
		attrs["client"] = hex.EncodeToString(j.Client[:])
		attrs["status"] = j.Status.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewJobCancelledEvent reports a job leaving the board without completion.
func NewJobCancelledEvent(j *Job) *types.Event {
	return newJobStatusEvent(EventTypeJobCancelled, j)
}

// NewJobCompletedEvent reports a job whose escrow paid out.
func NewJobCompletedEvent(j *Job) *types.Event {
	return newJobStatusEvent(EventTypeJobCompleted, j)
}
