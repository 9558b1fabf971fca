package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"

	"jobledger/core/events"
	"jobledger/core/types"
	"jobledger/native/bank"
	"jobledger/native/common"
)

const moduleName = "escrow"

// ReasonTimeout is recorded as the close reason of escrows refunded by
// TimeoutRelease.
const ReasonTimeout = "timeout"

var (
	nonceKey          = []byte("escrow/nonce")
	escrowRecordPref  = "escrow/record/"
	escrowByJobPref   = "escrow/job/"
	proofRecordPref   = "escrow/proof/"
	proofListPref     = "escrow/proofs/"
	participantIdxPre = "escrow/participant/"
)

func escrowKey(id [32]byte) []byte { return []byte(fmt.Sprintf("%s%x", escrowRecordPref, id)) }

func escrowByJobKey(jobID uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", escrowByJobPref, jobID))
}

func proofKey(id [32]byte) []byte { return []byte(fmt.Sprintf("%s%x", proofRecordPref, id)) }

func proofListKey(escrowID [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", proofListPref, escrowID))
}

func participantKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", participantIdxPre, addr))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	KVIncrement(key []byte) (uint64, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine implements the escrow state machine: locking funds against a job,
// milestone proof review, release, refund, dispute and timeout.
//
// Funds of every escrow sit in the module vault account; each record tracks
// its own share in Locked and only drains it through a bank.Vault.
type Engine struct {
	state    engineState
	bank     *bank.Ledger
	emitter  events.Emitter
	pauses   common.PauseView
	resolver *common.Capability
	nowFn    func() uint64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.bank = bank.NewLedger(state)
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switch.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetDisputeCapability configures the token ResolveDispute demands.
func (e *Engine) SetDisputeCapability(c *common.Capability) { e.resolver = c }

// SetNowFunc overrides the logical clock used by the engine.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// VaultAddress returns the module account holding all locked escrow funds.
func VaultAddress() [20]byte { return bank.ModuleAddress(moduleName) }

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) guard() error {
	if err := e.ready(); err != nil {
		return err
	}
	return common.Guard(e.pauses, moduleName)
}

var errNilState = fmt.Errorf("escrow engine: state not configured")

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	esc := new(Escrow)
	ok, err := e.state.KVGet(escrowKey(id), esc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if err := esc.Validate(); err != nil {
		return err
	}
	return e.state.KVPut(escrowKey(esc.ID), esc)
}

func (e *Engine) loadProof(id [32]byte) (*MilestoneProof, error) {
	proof := new(MilestoneProof)
	ok, err := e.state.KVGet(proofKey(id), proof)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProofNotFound
	}
	return proof, nil
}

// DeriveID computes the escrow identifier for the supplied terms.
func DeriveID(jobID uint64, client, worker [20]byte, nonce uint64) [32]byte {
	var job, n [8]byte
	binary.BigEndian.PutUint64(job[:], jobID)
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256Hash([]byte(moduleName), job[:], client[:], worker[:], n[:])
}

// Create locks amount from the client's account against jobID and returns
// the new escrow in the Locked state. The milestone list is fixed for the
// lifetime of the escrow.
func (e *Engine) Create(client [20]byte, jobID uint64, worker [20]byte, amount *big.Int, releaseConditions string, timeout uint64, milestones []string, resolverOpt *[20]byte) (*Escrow, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if client == ([20]byte{}) || worker == ([20]byte{}) {
		return nil, fmt.Errorf("%w: client and worker required", ErrInvalidParty)
	}
	if client == worker {
		return nil, fmt.Errorf("%w: client cannot be the worker", ErrInvalidParty)
	}
	var resolver [20]byte
	if resolverOpt != nil {
		resolver = *resolverOpt
		if resolver == client || resolver == worker {
			return nil, fmt.Errorf("%w: resolver must be independent", ErrInvalidParty)
		}
	}
	if len(milestones) > MaxMilestones {
		return nil, fmt.Errorf("%w: at most %d milestones", ErrInvalidMilestone, MaxMilestones)
	}
	cleaned := make([]string, len(milestones))
	for i, m := range milestones {
		cleaned[i] = strings.TrimSpace(m)
		if cleaned[i] == "" {
			return nil, fmt.Errorf("%w: milestone %d has no description", ErrInvalidMilestone, i)
		}
	}
	exists, err := e.state.KVGet(escrowByJobKey(jobID), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: job %d", ErrEscrowExists, jobID)
	}
	nonce, err := e.state.KVIncrement(nonceKey)
	if err != nil {
		return nil, err
	}
	vault, err := bank.OpenVault(nil)
	if err != nil {
		return nil, err
	}
	if err := vault.Deposit(amount); err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:                DeriveID(jobID, client, worker, nonce),
		JobID:             jobID,
		Client:            client,
		Worker:            worker,
		Resolver:          resolver,
		Amount:            vault.Amount(),
		Locked:            vault.Amount(),
		Status:            StatusLocked,
		CreatedAt:         e.now(),
		Timeout:           timeout,
		ReleaseConditions: strings.TrimSpace(releaseConditions),
		Milestones:        cleaned,
		Completed:         make([]bool, len(cleaned)),
		Rejected:          make([]bool, len(cleaned)),
		Nonce:             nonce,
	}
	if err := e.bank.Transfer(client, VaultAddress(), esc.Amount); err != nil {
		return nil, err
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(escrowByJobKey(jobID), esc.ID); err != nil {
		return nil, err
	}
	for _, party := range [][20]byte{client, worker} {
		if err := e.state.KVAppend(participantKey(party), esc.ID[:]); err != nil {
			return nil, err
		}
	}
	e.emit(NewLockedEvent(esc))
	return esc.Clone(), nil
}

// SubmitMilestoneProof files the worker's proof for milestone index. The
// proof starts unverified.
func (e *Engine) SubmitMilestoneProof(caller [20]byte, id [32]byte, index uint64, proofData string) (*MilestoneProof, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Worker {
		return nil, fmt.Errorf("%w: only the worker submits proofs", ErrUnauthorizedCaller)
	}
	if esc.Status != StatusLocked {
		return nil, fmt.Errorf("%w: status %s", ErrNotLocked, esc.Status)
	}
	if index >= uint64(len(esc.Milestones)) {
		return nil, fmt.Errorf("%w: %d of %d", ErrMilestoneIndex, index, len(esc.Milestones))
	}
	data := strings.TrimSpace(proofData)
	if data == "" {
		return nil, fmt.Errorf("%w: proof data required", ErrInvalidMilestone)
	}
	seq, err := e.state.KVIncrement(nonceKey)
	if err != nil {
		return nil, err
	}
	var idx, n [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	binary.BigEndian.PutUint64(n[:], seq)
	proof := &MilestoneProof{
		ID:          ethcrypto.Keccak256Hash([]byte("proof"), id[:], idx[:], n[:]),
		EscrowID:    id,
		Index:       index,
		Submitter:   caller,
		ProofData:   data,
		ProofHash:   blake3.Sum256([]byte(data)),
		SubmittedAt: e.now(),
	}
	if err := e.state.KVPut(proofKey(proof.ID), proof); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(proofListKey(id), proof.ID[:]); err != nil {
		return nil, err
	}
	e.emit(NewProofSubmittedEvent(esc, proof))
	return proof.Clone(), nil
}

// VerifyMilestone records the client's or resolver's review of a proof.
// Approval marks the milestone complete. Rejection never un-completes a
// milestone; it is recorded on the proof and in Rejected so the decision is
// auditable, and the call still succeeds.
func (e *Engine) VerifyMilestone(caller [20]byte, id [32]byte, proofID [32]byte, index uint64, approved bool) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Client && !esc.IsResolver(caller) {
		return fmt.Errorf("%w: only the client or resolver verifies", ErrUnauthorizedCaller)
	}
	if esc.Status != StatusLocked {
		return fmt.Errorf("%w: status %s", ErrNotLocked, esc.Status)
	}
	if index >= uint64(len(esc.Milestones)) {
		return fmt.Errorf("%w: %d of %d", ErrMilestoneIndex, index, len(esc.Milestones))
	}
	proof, err := e.loadProof(proofID)
	if err != nil {
		return err
	}
	if proof.EscrowID != id || proof.Index != index {
		return ErrProofMismatch
	}
	if proof.Reviewed() {
		return ErrProofReviewed
	}
	proof.ReviewedBy = caller
	proof.ReviewedAt = e.now()
	if approved {
		proof.Verified = true
		esc.Completed[index] = true
		esc.Rejected[index] = false
	} else {
		proof.Rejected = true
		if !esc.Completed[index] {
			esc.Rejected[index] = true
		}
	}
	if err := e.state.KVPut(proofKey(proof.ID), proof); err != nil {
		return err
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if approved {
		e.emit(NewMilestoneCompletedEvent(esc, index))
	} else {
		e.emit(NewMilestoneRejectedEvent(esc, index, caller))
	}
	return nil
}

// canSettle checks who may move funds out of esc. The client acts on Locked
// escrows; the named resolver acts on Locked and Disputed ones.
func canSettle(esc *Escrow, caller [20]byte) error {
	isClient := caller == esc.Client
	isResolver := esc.IsResolver(caller)
	if !isClient && !isResolver {
		return fmt.Errorf("%w: only the client or resolver settles", ErrUnauthorizedCaller)
	}
	switch esc.Status {
	case StatusLocked:
		return nil
	case StatusDisputed:
		if isResolver {
			return nil
		}
		return fmt.Errorf("%w: disputed escrows settle through the resolver", ErrNotLocked)
	default:
		return fmt.Errorf("%w: status %s", ErrNotLocked, esc.Status)
	}
}

// Release pays the full locked amount to the worker. Every milestone must be
// complete.
func (e *Engine) Release(caller [20]byte, id [32]byte, reason string) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := canSettle(esc, caller); err != nil {
		return err
	}
	if !esc.MilestonesComplete() {
		return fmt.Errorf("%w: %d of %d milestones verified", ErrReleaseConditionsNotMet, esc.CompletedCount(), len(esc.Milestones))
	}
	return e.settle(esc, StatusReleased, reason)
}

// Refund returns the full locked amount to the client.
func (e *Engine) Refund(caller [20]byte, id [32]byte, reason string) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := canSettle(esc, caller); err != nil {
		return err
	}
	return e.settle(esc, StatusRefunded, reason)
}

// RaiseDispute freezes a locked escrow. Only the two counterparties may raise
// a dispute.
func (e *Engine) RaiseDispute(caller [20]byte, id [32]byte, reason string) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Client && caller != esc.Worker {
		return fmt.Errorf("%w: only counterparties dispute", ErrUnauthorizedCaller)
	}
	if esc.Status != StatusLocked {
		return fmt.Errorf("%w: status %s", ErrNotLocked, esc.Status)
	}
	esc.Status = StatusDisputed
	esc.DisputedBy = caller
	esc.DisputeReason = strings.TrimSpace(reason)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputeRaisedEvent(esc))
	return nil
}

// ResolveDispute settles a disputed escrow on behalf of the platform dispute
// resolver. A release outcome still requires every milestone to be complete.
func (e *Engine) ResolveDispute(capability *common.Capability, id [32]byte, outcome Outcome, reason string) error {
	if err := e.guard(); err != nil {
		return err
	}
	if err := common.Authorize(e.resolver, capability, common.CapabilityDisputeResolver); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusDisputed {
		return fmt.Errorf("%w: status %s", ErrNotDisputed, esc.Status)
	}
	switch outcome {
	case OutcomeRelease:
		if !esc.MilestonesComplete() {
			return fmt.Errorf("%w: %d of %d milestones verified", ErrReleaseConditionsNotMet, esc.CompletedCount(), len(esc.Milestones))
		}
		err = e.settle(esc, StatusReleased, reason)
	case OutcomeRefund:
		err = e.settle(esc, StatusRefunded, reason)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	if err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(esc, outcome))
	return nil
}

// TimeoutRelease refunds the client once the escrow timeout has elapsed.
// Anyone may call it; milestone progress is ignored.
func (e *Engine) TimeoutRelease(id [32]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusLocked {
		return fmt.Errorf("%w: status %s", ErrNotLocked, esc.Status)
	}
	if now := e.now(); now < esc.Deadline() {
		return fmt.Errorf("%w: now %d, deadline %d", ErrTimeoutNotReached, now, esc.Deadline())
	}
	return e.settle(esc, StatusRefunded, ReasonTimeout)
}

// settle drains the escrow's vault share to the worker (Released) or the
// client (Refunded) and closes the record.
func (e *Engine) settle(esc *Escrow, status Status, reason string) error {
	vault, err := bank.OpenVault(esc.Locked)
	if err != nil {
		return err
	}
	amount, err := vault.Drain()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotLocked, err)
	}
	recipient := esc.Client
	if status == StatusReleased {
		recipient = esc.Worker
	}
	if err := e.bank.Transfer(VaultAddress(), recipient, amount); err != nil {
		return err
	}
	esc.Locked = vault.Amount()
	esc.Status = status
	esc.ClosedAt = e.now()
	esc.CloseReason = strings.TrimSpace(reason)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	if status == StatusReleased {
		e.emit(NewReleasedEvent(esc, amount.String()))
	} else {
		e.emit(NewRefundedEvent(esc, amount.String()))
	}
	return nil
}

// CanRelease reports whether the escrow is Locked with every milestone
// complete. It has no side effects.
func (e *Engine) CanRelease(id [32]byte) (bool, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return false, err
	}
	return esc.Status == StatusLocked && esc.MilestonesComplete(), nil
}

// Escrow returns a copy of the stored escrow.
func (e *Engine) Escrow(id [32]byte) (*Escrow, error) {
	return e.loadEscrow(id)
}

// EscrowForJob returns the escrow locked against jobID.
func (e *Engine) EscrowForJob(jobID uint64) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var id [32]byte
	ok, err := e.state.KVGet(escrowByJobKey(jobID), &id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return e.loadEscrow(id)
}

// Proof returns the stored milestone proof.
func (e *Engine) Proof(id [32]byte) (*MilestoneProof, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadProof(id)
}

// Proofs lists the proofs filed against an escrow in submission order.
func (e *Engine) Proofs(escrowID [32]byte) ([]*MilestoneProof, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := e.state.KVGetList(proofListKey(escrowID), &raw); err != nil {
		return nil, err
	}
	out := make([]*MilestoneProof, 0, len(raw))
	for _, b := range raw {
		var id [32]byte
		copy(id[:], b)
		proof, err := e.loadProof(id)
		if err != nil {
			return nil, err
		}
		out = append(out, proof)
	}
	return out, nil
}

// EscrowsFor lists the escrow identifiers where addr is client or worker.
func (e *Engine) EscrowsFor(addr [20]byte) ([][32]byte, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var raw [][]byte
	if err := e.state.KVGetList(participantKey(addr), &raw); err != nil {
		return nil, err
	}
	out := make([][32]byte, len(raw))
	for i, b := range raw {
		copy(out[i][:], b)
	}
	return out, nil
}
