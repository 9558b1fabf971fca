package escrow

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"jobledger/core/events"
	"jobledger/core/state"
	"jobledger/native/bank"
	"jobledger/native/common"
	"jobledger/storage"
)

type fixture struct {
	engine   *Engine
	state    *state.Manager
	ledger   *bank.Ledger
	recorder *events.Recorder
	caps     *common.Capabilities
	now      uint64
	client   [20]byte
	worker   [20]byte
	resolver [20]byte
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr, err := state.Open(db)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	f := &fixture{
		state:    mgr,
		ledger:   bank.NewLedger(mgr),
		recorder: &events.Recorder{},
		caps:     common.MintCapabilities(),
		now:      1_000,
		client:   newTestAddress(0x01),
		worker:   newTestAddress(0x02),
		resolver: newTestAddress(0x03),
	}
	f.engine = NewEngine()
	f.engine.SetState(mgr)
	f.engine.SetEmitter(f.recorder)
	f.engine.SetDisputeCapability(f.caps.DisputeResolver)
	f.engine.SetNowFunc(func() uint64 { return f.now })
	if err := f.ledger.Credit(f.client, big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("credit client: %v", err)
	}
	return f
}

func (f *fixture) balance(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := f.ledger.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) create(t *testing.T, jobID uint64, amount int64, milestones []string) *Escrow {
	t.Helper()
	resolver := f.resolver
	esc, err := f.engine.Create(f.client, jobID, f.worker, big.NewInt(amount), "deliver the work", 7*86_400, milestones, &resolver)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return esc
}

func (f *fixture) approve(t *testing.T, id [32]byte, index uint64) {
	t.Helper()
	proof, err := f.engine.SubmitMilestoneProof(f.worker, id, index, "https://example.org/delivery")
	if err != nil {
		t.Fatalf("submit proof %d: %v", index, err)
	}
	if err := f.engine.VerifyMilestone(f.client, id, proof.ID, index, true); err != nil {
		t.Fatalf("verify milestone %d: %v", index, err)
	}
}

func TestMilestoneEscrowFullLifecycle(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 1, 5_000_000_000, []string{"design", "build", "ship"})

	if esc.Status != StatusLocked {
		t.Fatalf("expected locked escrow, got %s", esc.Status)
	}
	if got := f.balance(t, f.client); got.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("client balance after lock: %s", got)
	}
	if got := f.balance(t, VaultAddress()); got.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("vault balance after lock: %s", got)
	}

	for i := uint64(0); i < 2; i++ {
		f.approve(t, esc.ID, i)
	}
	ok, err := f.engine.CanRelease(esc.ID)
	if err != nil || ok {
		t.Fatalf("expected release blocked with 2 of 3 milestones, ok=%v err=%v", ok, err)
	}
	err = f.engine.Release(f.client, esc.ID, "early")
	if !errors.Is(err, common.ErrReleaseConditionsNotMet) {
		t.Fatalf("expected release conditions error, got %v", err)
	}

	f.approve(t, esc.ID, 2)
	ok, err = f.engine.CanRelease(esc.ID)
	if err != nil || !ok {
		t.Fatalf("expected releasable escrow, ok=%v err=%v", ok, err)
	}
	if err := f.engine.Release(f.client, esc.ID, "done"); err != nil {
		t.Fatalf("release: %v", err)
	}

	stored, err := f.engine.Escrow(esc.ID)
	if err != nil {
		t.Fatalf("load escrow: %v", err)
	}
	if stored.Status != StatusReleased {
		t.Fatalf("expected released status, got %s", stored.Status)
	}
	if stored.Locked.Sign() != 0 {
		t.Fatalf("expected drained escrow, locked=%s", stored.Locked)
	}
	if got := f.balance(t, f.worker); got.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("worker balance after release: %s", got)
	}
	if got := f.balance(t, VaultAddress()); got.Sign() != 0 {
		t.Fatalf("vault should be empty, has %s", got)
	}

	types := f.recorder.Types()
	if types[0] != EventTypeEscrowLocked || types[len(types)-1] != EventTypeEscrowReleased {
		t.Fatalf("unexpected event sequence %v", types)
	}
	completed := 0
	for _, typ := range types {
		if typ == EventTypeMilestoneCompleted {
			completed++
		}
	}
	if completed != 3 {
		t.Fatalf("expected 3 milestone events, got %d", completed)
	}
}

func TestSettlementHappensOnce(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 1, 1_000, nil)
	if err := f.engine.Release(f.client, esc.ID, "paid"); err != nil {
		t.Fatalf("release: %v", err)
	}
	before := f.balance(t, f.worker)

	if err := f.engine.Release(f.client, esc.ID, "again"); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("second release: expected invalid state, got %v", err)
	}
	if err := f.engine.Refund(f.client, esc.ID, "again"); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("refund after release: expected invalid state, got %v", err)
	}
	f.now += 30 * 86_400
	if err := f.engine.TimeoutRelease(esc.ID); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("timeout after release: expected invalid state, got %v", err)
	}
	if got := f.balance(t, f.worker); got.Cmp(before) != 0 {
		t.Fatalf("worker balance moved after close: %s -> %s", before, got)
	}
}

func TestTimeoutRefundsClient(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 9, 2_000, []string{"only"})
	f.approve(t, esc.ID, 0)

	f.now += 7*86_400 - 1
	if err := f.engine.TimeoutRelease(esc.ID); !errors.Is(err, ErrTimeoutNotReached) {
		t.Fatalf("expected timeout not reached, got %v", err)
	}
	f.now++
	if err := f.engine.TimeoutRelease(esc.ID); err != nil {
		t.Fatalf("timeout release: %v", err)
	}
	stored, _ := f.engine.Escrow(esc.ID)
	if stored.Status != StatusRefunded || stored.CloseReason != ReasonTimeout {
		t.Fatalf("unexpected close: status=%s reason=%q", stored.Status, stored.CloseReason)
	}
	if got := f.balance(t, f.client); got.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Fatalf("client not made whole: %s", got)
	}
}

func TestCreateValidations(t *testing.T) {
	f := newFixture(t)
	outsider := newTestAddress(0x09)
	cases := []struct {
		name     string
		client   [20]byte
		worker   [20]byte
		amount   *big.Int
		resolver *[20]byte
		ms       []string
		want     error
	}{
		{"zero amount", f.client, f.worker, big.NewInt(0), nil, nil, common.ErrValidation},
		{"nil amount", f.client, f.worker, nil, nil, nil, common.ErrValidation},
		{"self dealing", f.client, f.client, big.NewInt(1), nil, nil, common.ErrValidation},
		{"resolver is party", f.client, f.worker, big.NewInt(1), &f.worker, nil, common.ErrValidation},
		{"blank milestone", f.client, f.worker, big.NewInt(1), nil, []string{"a", " "}, common.ErrValidation},
		{"underfunded", outsider, f.worker, big.NewInt(1), nil, nil, common.ErrInsufficientFunds},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Create(tc.client, uint64(100+i), tc.worker, tc.amount, "", 10, tc.ms, tc.resolver)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	f.create(t, 1, 10, nil)
	if _, err := f.engine.Create(f.client, 1, f.worker, big.NewInt(10), "", 10, nil, nil); !errors.Is(err, common.ErrDuplicate) {
		t.Fatalf("expected duplicate escrow for job, got %v", err)
	}
}

func TestMilestoneAuthorization(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 1, 100, []string{"a", "b"})
	stranger := newTestAddress(0x0F)

	if _, err := f.engine.SubmitMilestoneProof(f.client, esc.ID, 0, "proof"); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("client submitting proof: expected unauthorized, got %v", err)
	}
	if _, err := f.engine.SubmitMilestoneProof(f.worker, esc.ID, 2, "proof"); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("out of range index: expected validation, got %v", err)
	}
	proof, err := f.engine.SubmitMilestoneProof(f.worker, esc.ID, 0, "proof")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.engine.VerifyMilestone(stranger, esc.ID, proof.ID, 0, true); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("stranger verifying: expected unauthorized, got %v", err)
	}
	if err := f.engine.VerifyMilestone(f.worker, esc.ID, proof.ID, 0, true); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("worker self-verifying: expected unauthorized, got %v", err)
	}
	if err := f.engine.VerifyMilestone(f.client, esc.ID, proof.ID, 1, true); !errors.Is(err, ErrProofMismatch) {
		t.Fatalf("wrong index: expected mismatch, got %v", err)
	}
	if err := f.engine.VerifyMilestone(f.resolver, esc.ID, proof.ID, 0, true); err != nil {
		t.Fatalf("resolver verifying: %v", err)
	}
	if err := f.engine.VerifyMilestone(f.client, esc.ID, proof.ID, 0, true); !errors.Is(err, ErrProofReviewed) {
		t.Fatalf("second review: expected reviewed, got %v", err)
	}
	if err := f.engine.Release(f.worker, esc.ID, ""); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("worker releasing: expected unauthorized, got %v", err)
	}
	if err := f.engine.Refund(stranger, esc.ID, ""); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("stranger refunding: expected unauthorized, got %v", err)
	}
}

func TestRejectionIsRecordedWithoutUncompleting(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 1, 100, []string{"a", "b"})
	f.approve(t, esc.ID, 0)

	late, err := f.engine.SubmitMilestoneProof(f.worker, esc.ID, 0, "resubmitted")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.engine.VerifyMilestone(f.client, esc.ID, late.ID, 0, false); err != nil {
		t.Fatalf("reject completed milestone: %v", err)
	}
	bad, err := f.engine.SubmitMilestoneProof(f.worker, esc.ID, 1, "incomplete")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.engine.VerifyMilestone(f.client, esc.ID, bad.ID, 1, false); err != nil {
		t.Fatalf("reject milestone: %v", err)
	}

	stored, _ := f.engine.Escrow(esc.ID)
	if !stored.Completed[0] || stored.Rejected[0] {
		t.Fatalf("completed milestone must stay complete: %+v %+v", stored.Completed, stored.Rejected)
	}
	if stored.Completed[1] || !stored.Rejected[1] {
		t.Fatalf("rejection not recorded: %+v %+v", stored.Completed, stored.Rejected)
	}
	proof, err := f.engine.Proof(bad.ID)
	if err != nil {
		t.Fatalf("load proof: %v", err)
	}
	if !proof.Rejected || proof.Verified || proof.ReviewedBy != f.client {
		t.Fatalf("unexpected proof review %+v", proof)
	}
	proofs, err := f.engine.Proofs(esc.ID)
	if err != nil || len(proofs) != 3 {
		t.Fatalf("expected 3 proofs, got %d err=%v", len(proofs), err)
	}
	rejected := 0
	for _, typ := range f.recorder.Types() {
		if typ == EventTypeMilestoneRejected {
			rejected++
		}
	}
	if rejected != 2 {
		t.Fatalf("expected 2 rejection events, got %d", rejected)
	}
}

func TestDisputeFreezesClientSettlement(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 1, 700, nil)

	if err := f.engine.RaiseDispute(f.resolver, esc.ID, "not a party"); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("resolver raising dispute: expected unauthorized, got %v", err)
	}
	if err := f.engine.RaiseDispute(f.worker, esc.ID, "client unresponsive"); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	if err := f.engine.RaiseDispute(f.client, esc.ID, "again"); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("double dispute: expected invalid state, got %v", err)
	}
	if err := f.engine.Refund(f.client, esc.ID, "mine"); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("client refund while disputed: expected invalid state, got %v", err)
	}
	f.now += 30 * 86_400
	if err := f.engine.TimeoutRelease(esc.ID); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("timeout while disputed: expected invalid state, got %v", err)
	}
	if err := f.engine.Release(f.resolver, esc.ID, "worker delivered"); err != nil {
		t.Fatalf("resolver release: %v", err)
	}
	if got := f.balance(t, f.worker); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("worker balance: %s", got)
	}
}

func TestResolveDisputeRequiresCapability(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 1, 400, []string{"a"})

	if err := f.engine.ResolveDispute(f.caps.DisputeResolver, esc.ID, OutcomeRefund, ""); !errors.Is(err, ErrNotDisputed) {
		t.Fatalf("resolve locked escrow: expected not disputed, got %v", err)
	}
	if err := f.engine.RaiseDispute(f.client, esc.ID, "no delivery"); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	forged := common.MintCapabilities()
	if err := f.engine.ResolveDispute(forged.DisputeResolver, esc.ID, OutcomeRefund, ""); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("foreign capability: expected unauthorized, got %v", err)
	}
	if err := f.engine.ResolveDispute(f.caps.RegistryAdmin, esc.ID, OutcomeRefund, ""); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("wrong kind: expected unauthorized, got %v", err)
	}
	if err := f.engine.ResolveDispute(f.caps.DisputeResolver, esc.ID, OutcomeRelease, ""); !errors.Is(err, common.ErrReleaseConditionsNotMet) {
		t.Fatalf("release without milestones: expected conditions error, got %v", err)
	}
	if err := f.engine.ResolveDispute(f.caps.DisputeResolver, esc.ID, Outcome("split"), ""); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("bad outcome: expected invalid outcome, got %v", err)
	}
	if err := f.engine.ResolveDispute(f.caps.DisputeResolver, esc.ID, OutcomeRefund, "no delivery"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	stored, _ := f.engine.Escrow(esc.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.Status)
	}
	types := f.recorder.Types()
	if types[len(types)-2] != EventTypeEscrowRefunded || types[len(types)-1] != EventTypeDisputeResolved {
		t.Fatalf("unexpected trailing events %v", types)
	}
}

func TestPausedEngineRejectsMutations(t *testing.T) {
	f := newFixture(t)
	pauses := common.NewPauseSet("escrow")
	f.engine.SetPauses(pauses)
	if _, err := f.engine.Create(f.client, 1, f.worker, big.NewInt(1), "", 1, nil, nil); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	pauses.Set("escrow", false)
	f.create(t, 1, 1, nil)
}

func TestEscrowIndexes(t *testing.T) {
	f := newFixture(t)
	esc := f.create(t, 42, 50, nil)

	byJob, err := f.engine.EscrowForJob(42)
	if err != nil {
		t.Fatalf("escrow for job: %v", err)
	}
	if byJob.ID != esc.ID {
		t.Fatalf("job index points at %x, want %x", byJob.ID, esc.ID)
	}
	if _, err := f.engine.EscrowForJob(43); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	ids, err := f.engine.EscrowsFor(f.worker)
	if err != nil || len(ids) != 1 || ids[0] != esc.ID {
		t.Fatalf("participant index: %v err=%v", ids, err)
	}
}
