package escrow_test

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"reflect"
	"testing"

	"jobledger/core/types"
	escrowpkg "jobledger/native/escrow"
)

func TestEscrowEventsHaveDeterministicPayload(t *testing.T) {
	var id [32]byte
	copy(id[:], bytes.Repeat([]byte{0xAA}, 32))
	var client [20]byte
	copy(client[:], bytes.Repeat([]byte{0xBB}, 20))
	var worker [20]byte
	copy(worker[:], bytes.Repeat([]byte{0xCC}, 20))

	esc := &escrowpkg.Escrow{
		ID:            id,
		JobID:         7,
		Client:        client,
		Worker:        worker,
		Amount:        big.NewInt(42_000),
		Locked:        big.NewInt(0),
		Status:        escrowpkg.StatusReleased,
		Timeout:       3_600,
		Milestones:    []string{"a", "b"},
		Completed:     []bool{true, false},
		Rejected:      []bool{false, false},
		DisputedBy:    worker,
		DisputeReason: "late",
		CloseReason:   "done",
	}

	cases := []struct {
		name string
		evt  *types.Event
		typ  string
		want map[string]string
	}{
		{
			name: "locked",
			evt:  escrowpkg.NewLockedEvent(esc),
			typ:  escrowpkg.EventTypeEscrowLocked,
			want: map[string]string{
				"escrowId":   hex.EncodeToString(id[:]),
				"jobId":      "7",
				"client":     hex.EncodeToString(client[:]),
				"worker":     hex.EncodeToString(worker[:]),
				"amount":     "42000",
				"timeout":    "3600",
				"milestones": "2",
			},
		},
		{
			name: "milestone completed",
			evt:  escrowpkg.NewMilestoneCompletedEvent(esc, 0),
			typ:  escrowpkg.EventTypeMilestoneCompleted,
			want: map[string]string{
				"escrowId":       hex.EncodeToString(id[:]),
				"milestoneIndex": "0",
				"worker":         hex.EncodeToString(worker[:]),
				"completed":      "1",
			},
		},
		{
			name: "milestone rejected",
			evt:  escrowpkg.NewMilestoneRejectedEvent(esc, 1, client),
			typ:  escrowpkg.EventTypeMilestoneRejected,
			want: map[string]string{
				"escrowId":       hex.EncodeToString(id[:]),
				"milestoneIndex": "1",
				"worker":         hex.EncodeToString(worker[:]),
				"completed":      "1",
				"verifier":       hex.EncodeToString(client[:]),
			},
		},
		{
			name: "released",
			evt:  escrowpkg.NewReleasedEvent(esc, "42000"),
			typ:  escrowpkg.EventTypeEscrowReleased,
			want: map[string]string{
				"escrowId": hex.EncodeToString(id[:]),
				"worker":   hex.EncodeToString(worker[:]),
				"amount":   "42000",
				"reason":   "done",
			},
		},
		{
			name: "refunded",
			evt:  escrowpkg.NewRefundedEvent(esc, "42000"),
			typ:  escrowpkg.EventTypeEscrowRefunded,
			want: map[string]string{
				"escrowId": hex.EncodeToString(id[:]),
				"client":   hex.EncodeToString(client[:]),
				"amount":   "42000",
				"reason":   "done",
			},
		},
		{
			name: "dispute raised",
			evt:  escrowpkg.NewDisputeRaisedEvent(esc),
			typ:  escrowpkg.EventTypeDisputeRaised,
			want: map[string]string{
				"escrowId": hex.EncodeToString(id[:]),
				"raisedBy": hex.EncodeToString(worker[:]),
				"reason":   "late",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.evt.Type != tc.typ {
				t.Fatalf("unexpected type %q, want %q", tc.evt.Type, tc.typ)
			}
			if !reflect.DeepEqual(tc.evt.Attributes, tc.want) {
				t.Fatalf("unexpected attributes:\n got %v\nwant %v", tc.evt.Attributes, tc.want)
			}
		})
	}
}

func TestEventsToleratesNilEscrow(t *testing.T) {
	evt := escrowpkg.NewReleasedEvent(nil, "1")
	if evt.Type != escrowpkg.EventTypeEscrowReleased || len(evt.Attributes) != 0 {
		t.Fatalf("unexpected event %+v", evt)
	}
}
