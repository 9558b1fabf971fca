package jobs

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"jobledger/core/events"
	"jobledger/core/types"
	"jobledger/native/common"
)

const moduleName = "jobs"

// MaxTitleLength bounds job titles.
const MaxTitleLength = 200

type boardState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVIncrement(key []byte) (uint64, error)
}

var (
	ErrJobNotFound    = fmt.Errorf("jobs: job %w", common.ErrNotFound)
	ErrBidNotFound    = fmt.Errorf("jobs: bid %w", common.ErrNotFound)
	ErrNotJobClient   = fmt.Errorf("jobs: %w: caller is not the job client", common.ErrUnauthorized)
	ErrJobNotOpen     = fmt.Errorf("jobs: %w: job not open", common.ErrInvalidState)
	ErrJobNotStarted  = fmt.Errorf("jobs: %w: job not in progress", common.ErrInvalidState)
	ErrBidNotPending  = fmt.Errorf("jobs: %w: bid not pending", common.ErrInvalidState)
	ErrDuplicateBid   = fmt.Errorf("jobs: %w: worker already bid on job", common.ErrDuplicate)
	ErrInvalidTitle   = fmt.Errorf("jobs: %w: title required", common.ErrValidation)
	ErrInvalidBudget  = fmt.Errorf("jobs: %w: budget must be positive", common.ErrValidation)
	ErrInvalidBid     = fmt.Errorf("jobs: %w: bid amount must be positive and within budget", common.ErrValidation)
	ErrSelfBid        = fmt.Errorf("jobs: %w: clients cannot bid on their own job", common.ErrValidation)
	ErrInvalidAddress = fmt.Errorf("jobs: %w: address required", common.ErrValidation)
)

var (
	jobSeqKey = []byte("jobs/seq/job")
	bidSeqKey = []byte("jobs/seq/bid")
)

func jobKey(id uint64) []byte { return []byte(fmt.Sprintf("jobs/job/%d", id)) }

func bidKey(id uint64) []byte { return []byte(fmt.Sprintf("jobs/bid/%d", id)) }

func jobBidsKey(jobID uint64) []byte { return []byte(fmt.Sprintf("jobs/job-bids/%d", jobID)) }

func addressKey(addr [20]byte) []byte { return []byte(fmt.Sprintf("jobs/address/%x", addr)) }

func bidderKey(jobID uint64, worker [20]byte) []byte {
	return []byte(fmt.Sprintf("jobs/bidder/%d/%x", jobID, worker))
}

// Board stores jobs and bids and enforces their lifecycle. Escrow custody is
// handled elsewhere; the board only records which bid was selected.
type Board struct {
	st      boardState
	emitter events.Emitter
	pauses  common.PauseView
	nowFn   func() uint64
}

// NewBoard creates a board backed by the provided state manager.
func NewBoard(st boardState) *Board {
	return &Board{
		st:      st,
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *Board) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

func (b *Board) SetPauses(p common.PauseView) { b.pauses = p }

// SetNowFunc overrides the logical clock.
func (b *Board) SetNowFunc(now func() uint64) {
	if now == nil {
		b.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	b.nowFn = now
}

func (b *Board) emit(evt *types.Event) {
	if b.emitter != nil && evt != nil {
		b.emitter.Emit(evt)
	}
}

func (b *Board) guard() error {
	if b == nil || b.st == nil {
		return fmt.Errorf("jobs: state not configured")
	}
	return common.Guard(b.pauses, moduleName)
}

// PostJob opens a new job owned by client.
func (b *Board) PostJob(client [20]byte, title, description, requirements string, budget *big.Int, deadline uint64) (*Job, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	if client == ([20]byte{}) {
		return nil, ErrInvalidAddress
	}
	title = strings.TrimSpace(title)
	if title == "" || len(title) > MaxTitleLength {
		return nil, ErrInvalidTitle
	}
	if budget == nil || budget.Sign() <= 0 {
		return nil, ErrInvalidBudget
	}
	seq, err := b.st.KVIncrement(jobSeqKey)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:           seq + 1,
		Title:        title,
		Description:  strings.TrimSpace(description),
		Requirements: strings.TrimSpace(requirements),
		Budget:       new(big.Int).Set(budget),
		Client:       client,
		Status:       JobOpen,
		CreatedAt:    b.nowFn(),
		Deadline:     deadline,
	}
	if err := b.st.KVPut(jobKey(job.ID), job); err != nil {
		return nil, err
	}
	if err := b.st.KVPut(addressKey(job.Address()), job.ID); err != nil {
		return nil, err
	}
	b.emit(NewJobPostedEvent(job))
	return job.Clone(), nil
}

// SubmitBid records worker's offer on an open job. Each worker may bid once
// per job.
func (b *Board) SubmitBid(worker [20]byte, jobID uint64, amount *big.Int, proposal string, estimate uint64) (*Bid, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	if worker == ([20]byte{}) {
		return nil, ErrInvalidAddress
	}
	job, err := b.Job(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobOpen {
		return nil, ErrJobNotOpen
	}
	if worker == job.Client {
		return nil, ErrSelfBid
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(job.Budget) > 0 {
		return nil, fmt.Errorf("%w: budget %s", ErrInvalidBid, job.Budget)
	}
	exists, err := b.st.KVGet(bidderKey(jobID, worker), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateBid
	}
	seq, err := b.st.KVIncrement(bidSeqKey)
	if err != nil {
		return nil, err
	}
	bid := &Bid{
		ID:                  seq + 1,
		JobID:               jobID,
		Worker:              worker,
		Amount:              new(big.Int).Set(amount),
		Proposal:            strings.TrimSpace(proposal),
		EstimatedCompletion: estimate,
		Status:              BidPending,
		CreatedAt:           b.nowFn(),
	}
	if err := b.st.KVPut(bidKey(bid.ID), bid); err != nil {
		return nil, err
	}
	if err := b.st.KVPut(addressKey(bid.Address()), bid.ID); err != nil {
		return nil, err
	}
	if err := b.st.KVPut(bidderKey(jobID, worker), bid.ID); err != nil {
		return nil, err
	}
	if err := b.st.KVAppend(jobBidsKey(jobID), encodeID(bid.ID)); err != nil {
		return nil, err
	}
	b.emit(NewBidSubmittedEvent(bid))
	return bid, nil
}

// AcceptBid selects bidID for its job. The job moves to InProgress and every
// other pending bid on the job is rejected; the rejected bids are returned.
func (b *Board) AcceptBid(caller [20]byte, bidID uint64) (*Job, *Bid, []*Bid, error) {
	if err := b.guard(); err != nil {
		return nil, nil, nil, err
	}
	bid, err := b.Bid(bidID)
	if err != nil {
		return nil, nil, nil, err
	}
	job, err := b.Job(bid.JobID)
	if err != nil {
		return nil, nil, nil, err
	}
	if caller != job.Client {
		return nil, nil, nil, ErrNotJobClient
	}
	if job.Status != JobOpen {
		return nil, nil, nil, ErrJobNotOpen
	}
	if bid.Status != BidPending {
		return nil, nil, nil, ErrBidNotPending
	}
	bid.Status = BidAccepted
	job.Status = JobInProgress
	job.SelectedBid = bid.ID
	job.SelectedWorker = bid.Worker
	if err := b.st.KVPut(bidKey(bid.ID), bid); err != nil {
		return nil, nil, nil, err
	}
	if err := b.st.KVPut(jobKey(job.ID), job); err != nil {
		return nil, nil, nil, err
	}
	rejected, err := b.rejectPending(job.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	b.emit(NewBidAcceptedEvent(job, bid))
	return job.Clone(), bid, rejected, nil
}

// CancelJob withdraws an open job. Pending bids are rejected and returned.
func (b *Board) CancelJob(caller [20]byte, jobID uint64) (*Job, []*Bid, error) {
	if err := b.guard(); err != nil {
		return nil, nil, err
	}
	job, err := b.Job(jobID)
	if err != nil {
		return nil, nil, err
	}
	if caller != job.Client {
		return nil, nil, ErrNotJobClient
	}
	if job.Status != JobOpen {
		return nil, nil, ErrJobNotOpen
	}
	job.Status = JobCancelled
	if err := b.st.KVPut(jobKey(job.ID), job); err != nil {
		return nil, nil, err
	}
	rejected, err := b.rejectPending(job.ID)
	if err != nil {
		return nil, nil, err
	}
	b.emit(NewJobCancelledEvent(job))
	return job.Clone(), rejected, nil
}

// CompleteJob marks an in-progress job as completed once its escrow has paid
// the worker.
func (b *Board) CompleteJob(jobID uint64) (*Job, error) {
	return b.finish(jobID, JobCompleted)
}

// AbandonJob cancels an in-progress job whose escrow was refunded.
func (b *Board) AbandonJob(jobID uint64) (*Job, error) {
	return b.finish(jobID, JobCancelled)
}

func (b *Board) finish(jobID uint64, status JobStatus) (*Job, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	job, err := b.Job(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobInProgress {
		return nil, fmt.Errorf("%w: status %s", ErrJobNotStarted, job.Status)
	}
	job.Status = status
	if err := b.st.KVPut(jobKey(job.ID), job); err != nil {
		return nil, err
	}
	if status == JobCompleted {
		b.emit(NewJobCompletedEvent(job))
	} else {
		b.emit(NewJobCancelledEvent(job))
	}
	return job.Clone(), nil
}

func (b *Board) rejectPending(jobID uint64) ([]*Bid, error) {
	bids, err := b.BidsForJob(jobID)
	if err != nil {
		return nil, err
	}
	var rejected []*Bid
	for _, bid := range bids {
		if bid.Status != BidPending {
			continue
		}
		bid.Status = BidRejected
		if err := b.st.KVPut(bidKey(bid.ID), bid); err != nil {
			return nil, err
		}
		rejected = append(rejected, bid)
	}
	return rejected, nil
}

// Job loads a job by identifier.
func (b *Board) Job(id uint64) (*Job, error) {
	job := new(Job)
	ok, err := b.st.KVGet(jobKey(id), job)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Bid loads a bid by identifier.
func (b *Board) Bid(id uint64) (*Bid, error) {
	bid := new(Bid)
	ok, err := b.st.KVGet(bidKey(id), bid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBidNotFound
	}
	return bid, nil
}

// JobByAddress resolves a registry address back to its job.
func (b *Board) JobByAddress(addr [20]byte) (*Job, error) {
	id, err := b.resolve(addr)
	if err != nil {
		return nil, err
	}
	return b.Job(id)
}

// BidByAddress resolves a registry address back to its bid.
func (b *Board) BidByAddress(addr [20]byte) (*Bid, error) {
	id, err := b.resolve(addr)
	if err != nil {
		return nil, err
	}
	return b.Bid(id)
}

func (b *Board) resolve(addr [20]byte) (uint64, error) {
	var id uint64
	ok, err := b.st.KVGet(addressKey(addr), &id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("jobs: address %x %w", addr, common.ErrNotFound)
	}
	return id, nil
}

// BidsForJob lists every bid on jobID in submission order.
func (b *Board) BidsForJob(jobID uint64) ([]*Bid, error) {
	var raw [][]byte
	if err := b.st.KVGetList(jobBidsKey(jobID), &raw); err != nil {
		return nil, err
	}
	out := make([]*Bid, 0, len(raw))
	for _, id := range raw {
		bid, err := b.Bid(decodeID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, bid)
	}
	return out, nil
}
