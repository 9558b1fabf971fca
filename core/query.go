package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"jobledger/native/escrow"
	"jobledger/native/jobs"
	"jobledger/native/reputation"
)

// Status summarises the committed ledger head.
type Status struct {
	Root     common.Hash
	Sequence uint64
	Now      uint64
}

// Status returns the committed root, sequence and logical clock.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{Root: n.state.Root(), Sequence: n.state.Sequence(), Now: n.now}
}

func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bank.Balance(addr)
}

func (n *Node) Job(id uint64) (*jobs.Job, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.board.Job(id)
}

func (n *Node) Bid(id uint64) (*jobs.Bid, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.board.Bid(id)
}

func (n *Node) BidsForJob(jobID uint64) ([]*jobs.Bid, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.board.BidsForJob(jobID)
}

// JobsByClient returns the jobs client posted, in registry order.
func (n *Node) JobsByClient(client [20]byte) ([]*jobs.Job, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	indices, err := n.registry.JobsByClient(client)
	if err != nil {
		return nil, err
	}
	return n.jobsAt(indices)
}

// JobsByStatus returns the jobs currently in status, in registry order.
func (n *Node) JobsByStatus(status jobs.JobStatus) ([]*jobs.Job, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	indices, err := n.registry.JobsByStatus(status.String())
	if err != nil {
		return nil, err
	}
	return n.jobsAt(indices)
}

// BidsByWorker returns every bid worker submitted, in registry order.
func (n *Node) BidsByWorker(worker [20]byte) ([]*jobs.Bid, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	indices, err := n.registry.BidsByWorker(worker)
	if err != nil {
		return nil, err
	}
	out := make([]*jobs.Bid, 0, len(indices))
	for _, i := range indices {
		addr, ok := n.registry.BidByIndex(i)
		if !ok {
			continue
		}
		bid, err := n.board.BidByAddress(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, bid)
	}
	return out, nil
}

func (n *Node) jobsAt(indices []uint64) ([]*jobs.Job, error) {
	out := make([]*jobs.Job, 0, len(indices))
	for _, i := range indices {
		addr, ok := n.registry.JobByIndex(i)
		if !ok {
			continue
		}
		job, err := n.board.JobByAddress(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (n *Node) Escrow(id [32]byte) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Escrow(id)
}

func (n *Node) EscrowForJob(jobID uint64) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.EscrowForJob(jobID)
}

func (n *Node) EscrowsFor(addr [20]byte) ([][32]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.EscrowsFor(addr)
}

func (n *Node) CanRelease(id [32]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.CanRelease(id)
}

func (n *Node) Proof(id [32]byte) (*escrow.MilestoneProof, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Proof(id)
}

func (n *Node) Proofs(escrowID [32]byte) ([]*escrow.MilestoneProof, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.escrow.Proofs(escrowID)
}

func (n *Node) Profile(addr [20]byte) (*reputation.Profile, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation.Profile(addr)
}

func (n *Node) Rating(id [32]byte) (*reputation.Rating, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation.Rating(id)
}

func (n *Node) RatingsFor(addr [20]byte) ([]*reputation.Rating, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation.RatingsFor(addr)
}

func (n *Node) WeightedReputation(addr [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation.WeightedReputation(addr)
}

func (n *Node) MeetsThreshold(addr [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation.MeetsThreshold(addr)
}
