package registry

import (
	"encoding/hex"
	"strconv"

	"jobledger/core/types"
)

const (
	EventTypeJobRegistered    = "registry.job_registered"
	EventTypeBidRegistered    = "registry.bid_registered"
	EventTypeJobStatusUpdated = "registry.job_status_updated"
	EventTypeBidStatusUpdated = "registry.bid_status_updated"
)

// NewJobRegisteredEvent returns the payload for a job index assignment.
func NewJobRegisteredEvent(e *Entry) *types.Event {
	attrs := make(map[string]string)
	if e != nil {
		attrs["index"] = strconv.FormatUint(e.Index, 10)
		attrs["address"] = hex.EncodeToString(e.Address[:])
		attrs["client"] = hex.EncodeToString(e.Owner[:])
		attrs["status"] = e.Status
	}
	return &types.Event{Type: EventTypeJobRegistered, Attributes: attrs}
}

// NewBidRegisteredEvent returns the payload for a bid index assignment.
func NewBidRegisteredEvent(e *Entry) *types.Event {
	attrs := make(map[string]string)
	if e != nil {
		attrs["index"] = strconv.FormatUint(e.Index, 10)
		attrs["address"] = hex.EncodeToString(e.Address[:])
		attrs["worker"] = hex.EncodeToString(e.Owner[:])
		attrs["job"] = hex.EncodeToString(e.Parent[:])
		attrs["status"] = e.Status
	}
	return &types.Event{Type: EventTypeBidRegistered, Attributes: attrs}
}

// NewStatusUpdatedEvent reports an entry moving between status lists.
func NewStatusUpdatedEvent(eventType string, e *Entry, from string) *types.Event {
	attrs := make(map[string]string)
	if e != nil {
		attrs["index"] = strconv.FormatUint(e.Index, 10)
		attrs["address"] = hex.EncodeToString(e.Address[:])
		attrs["from"] = from
		attrs["status"] = e.Status
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
