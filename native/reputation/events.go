package reputation

import (
	"encoding/hex"
	"strconv"

	"jobledger/core/types"
)

const (
	EventTypeProfileCreated  = "reputation.profile_created"
	EventTypeRatingSubmitted = "reputation.rating_submitted"
	EventTypeUpdated         = "reputation.updated"
	EventTypeStakeAdded      = "reputation.stake_added"
	EventTypeStakeWithdrawn  = "reputation.stake_withdrawn"
	EventTypePenaltyApplied  = "reputation.penalty_applied"
	EventTypeUserVerified    = "reputation.user_verified"
)

// NewProfileCreatedEvent returns the payload for a new profile.
func NewProfileCreatedEvent(p *Profile) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["participant"] = hex.EncodeToString(p.Participant[:])
		attrs["role"] = p.Role.String()
		attrs["stake"] = p.Stake.String()
	}
	return &types.Event{Type: EventTypeProfileCreated, Attributes: attrs}
}

// NewRatingSubmittedEvent returns the payload for a stored rating.
func NewRatingSubmittedEvent(r *Rating) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["rater"] = hex.EncodeToString(r.Rater[:])
		attrs["rated"] = hex.EncodeToString(r.Rated[:])
		attrs["jobId"] = strconv.FormatUint(r.JobID, 10)
		attrs["value"] = strconv.FormatUint(r.Value, 10)
		attrs["type"] = r.Type.String()
	}
	return &types.Event{Type: EventTypeRatingSubmitted, Attributes: attrs}
}

// NewUpdatedEvent is emitted whenever a profile's current score is
// recomputed.
func NewUpdatedEvent(p *Profile, oldScore uint64) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["participant"] = hex.EncodeToString(p.Participant[:])
		attrs["oldScore"] = strconv.FormatUint(oldScore, 10)
		attrs["newScore"] = strconv.FormatUint(p.CurrentReputation, 10)
		attrs["totalRatings"] = strconv.FormatUint(p.TotalRatingsReceived, 10)
	}
	return &types.Event{Type: EventTypeUpdated, Attributes: attrs}
}

func newStakeEvent(eventType string, p *Profile, amount string) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["participant"] = hex.EncodeToString(p.Participant[:])
		attrs["amount"] = amount
		attrs["stake"] = p.Stake.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewStakeAddedEvent reports a stake top-up.
func NewStakeAddedEvent(p *Profile, amount string) *types.Event {
	return newStakeEvent(EventTypeStakeAdded, p, amount)
}

// NewStakeWithdrawnEvent reports a stake withdrawal.
func NewStakeWithdrawnEvent(p *Profile, amount string) *types.Event {
	return newStakeEvent(EventTypeStakeWithdrawn, p, amount)
}

// NewPenaltyAppliedEvent reports an administrative penalty.
func NewPenaltyAppliedEvent(p *Profile, points uint64, reason string) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["participant"] = hex.EncodeToString(p.Participant[:])
		attrs["points"] = strconv.FormatUint(points, 10)
		attrs["reason"] = reason
		attrs["lockedUntil"] = strconv.FormatUint(p.StakeLockedUntil, 10)
	}
	return &types.Event{Type: EventTypePenaltyApplied, Attributes: attrs}
}

// NewUserVerifiedEvent reports an administrative verification.
func NewUserVerifiedEvent(p *Profile) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["participant"] = hex.EncodeToString(p.Participant[:])
	}
	return &types.Event{Type: EventTypeUserVerified, Attributes: attrs}
}
