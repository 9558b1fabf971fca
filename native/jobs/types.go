package jobs

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"jobledger/core/state"
)

// JobStatus is the lifecycle state of a posted job.
type JobStatus uint8

const (
	JobOpen JobStatus = iota + 1
	JobInProgress
	JobCompleted
	JobCancelled
)

func (s JobStatus) String() string {
	switch s {
	case JobOpen:
		return "open"
	case JobInProgress:
		return "in_progress"
	case JobCompleted:
		return "completed"
	case JobCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("job_status(%d)", uint8(s))
	}
}

// Final reports whether the job can no longer change.
func (s JobStatus) Final() bool {
	return s == JobCompleted || s == JobCancelled
}

// BidStatus is the lifecycle state of a bid.
type BidStatus uint8

const (
	BidPending BidStatus = iota + 1
	BidAccepted
	BidRejected
)

func (s BidStatus) String() string {
	switch s {
	case BidPending:
		return "pending"
	case BidAccepted:
		return "accepted"
	case BidRejected:
		return "rejected"
	default:
		return fmt.Sprintf("bid_status(%d)", uint8(s))
	}
}

// Job is a unit of work posted by a client. SelectedBid is zero until a bid
// is accepted; once set it is never cleared.
type Job struct {
	ID             uint64
	Title          string
	Description    string
	Requirements   string
	Budget         *big.Int
	Client         [20]byte
	Status         JobStatus
	SelectedBid    uint64
	SelectedWorker [20]byte
	CreatedAt      uint64
	Deadline       uint64
}

// Address is the registry address of the job.
func (j *Job) Address() [20]byte { return JobAddress(j.ID) }

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Budget = new(big.Int)
	if j.Budget != nil {
		clone.Budget.Set(j.Budget)
	}
	return &clone
}

// Bid is a worker's offer to take a job.
type Bid struct {
	ID                  uint64
	JobID               uint64
	Worker              [20]byte
	Amount              *big.Int
	Proposal            string
	EstimatedCompletion uint64
	Status              BidStatus
	CreatedAt           uint64
}

// Address is the registry address of the bid.
func (b *Bid) Address() [20]byte { return BidAddress(b.ID) }

// JobAddress derives the registry address of job id.
func JobAddress(id uint64) [20]byte { return objectAddress("job", id) }

// BidAddress derives the registry address of bid id.
func BidAddress(id uint64) [20]byte { return objectAddress("bid", id) }

func objectAddress(kind string, id uint64) [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("jobledger/"+kind), state.Uint64Key(id))[12:])
	return addr
}

func encodeID(id uint64) []byte { return state.Uint64Key(id) }

func decodeID(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
