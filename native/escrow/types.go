package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle state of an escrow contract.
type Status uint8

const (
	StatusLocked   Status = iota + 1 // funds held pending release conditions
	StatusReleased                   // funds paid to the worker
	StatusRefunded                   // funds returned to the client
	StatusDisputed                   // frozen until the resolver settles it
)

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s >= StatusLocked && s <= StatusDisputed
}

// Closed reports whether funds have left the escrow.
func (s Status) Closed() bool {
	return s == StatusReleased || s == StatusRefunded
}

// MaxMilestones bounds the milestone vector of a single escrow.
const MaxMilestones = 64

// Escrow captures the terms and runtime state of a payment locked against a
// job. Records are never deleted; closed escrows remain as an audit trail.
//
// Milestones, Completed and Rejected always share the same length.
type Escrow struct {
	ID                [32]byte
	JobID             uint64
	Client            [20]byte
	Worker            [20]byte
	Resolver          [20]byte
	Amount            *big.Int
	Locked            *big.Int
	Status            Status
	CreatedAt         uint64
	Timeout           uint64
	ReleaseConditions string
	Milestones        []string
	Completed         []bool
	Rejected          []bool
	Nonce             uint64
	DisputedBy        [20]byte
	DisputeReason     string
	ClosedAt          uint64
	CloseReason       string
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	clone.Locked = cloneBigInt(e.Locked)
	clone.Milestones = append([]string(nil), e.Milestones...)
	clone.Completed = append([]bool(nil), e.Completed...)
	clone.Rejected = append([]bool(nil), e.Rejected...)
	return &clone
}

// HasResolver reports whether a dispute resolver was named at creation.
func (e *Escrow) HasResolver() bool {
	return e.Resolver != ([20]byte{})
}

// IsResolver reports whether addr is the named dispute resolver.
func (e *Escrow) IsResolver(addr [20]byte) bool {
	return e.HasResolver() && addr == e.Resolver
}

// MilestonesComplete reports whether every milestone has been verified. An
// escrow without milestones is trivially complete.
func (e *Escrow) MilestonesComplete() bool {
	for _, done := range e.Completed {
		if !done {
			return false
		}
	}
	return true
}

// CompletedCount returns the number of verified milestones.
func (e *Escrow) CompletedCount() int {
	n := 0
	for _, done := range e.Completed {
		if done {
			n++
		}
	}
	return n
}

// Deadline returns the logical time from which TimeoutRelease is allowed. The
// sum saturates instead of wrapping.
func (e *Escrow) Deadline() uint64 {
	if e.CreatedAt > ^uint64(0)-e.Timeout {
		return ^uint64(0)
	}
	return e.CreatedAt + e.Timeout
}

// Validate checks the structural invariants of a stored escrow.
func (e *Escrow) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil escrow", ErrInvalidEscrow)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: status %d", ErrInvalidEscrow, e.Status)
	}
	if len(e.Completed) != len(e.Milestones) || len(e.Rejected) != len(e.Milestones) {
		return fmt.Errorf("%w: milestone vectors out of sync", ErrInvalidEscrow)
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidEscrow)
	}
	if e.Locked == nil || e.Locked.Sign() < 0 || e.Locked.Cmp(e.Amount) > 0 {
		return fmt.Errorf("%w: locked balance out of range", ErrInvalidEscrow)
	}
	return nil
}

// MilestoneProof records a worker's claim that a milestone is delivered.
type MilestoneProof struct {
	ID          [32]byte
	EscrowID    [32]byte
	Index       uint64
	Submitter   [20]byte
	ProofData   string
	ProofHash   [32]byte
	SubmittedAt uint64
	Verified    bool
	Rejected    bool
	ReviewedBy  [20]byte
	ReviewedAt  uint64
}

// Clone returns a copy of the proof.
func (p *MilestoneProof) Clone() *MilestoneProof {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Reviewed reports whether the proof has been approved or rejected.
func (p *MilestoneProof) Reviewed() bool {
	return p.Verified || p.Rejected
}

// Outcome names the settlement direction chosen for a disputed escrow.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

// ParseOutcome normalises a textual outcome.
func ParseOutcome(raw string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeRelease:
		return OutcomeRelease, nil
	case OutcomeRefund:
		return OutcomeRefund, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
