package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"jobledger/core/events"
	"jobledger/native/common"
	"jobledger/native/escrow"
	"jobledger/native/jobs"
	"jobledger/native/reputation"
	"jobledger/storage"
)

var (
	client   = [20]byte{0x01}
	worker   = [20]byte{0x02}
	resolver = [20]byte{0x03}
	rival    = [20]byte{0x04}
)

func newTestNode(t *testing.T, db storage.Database) (*Node, *events.Recorder) {
	t.Helper()
	node, err := NewNode(db, Options{
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Allocations: map[[20]byte]*big.Int{
			client: big.NewInt(10_000_000_000),
			worker: big.NewInt(2_000_000_000),
			rival:  big.NewInt(2_000_000_000),
		},
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	recorder := &events.Recorder{}
	node.Subscribe(recorder)
	return node, recorder
}

func memNode(t *testing.T) (*Node, *events.Recorder) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return newTestNode(t, db)
}

func at(caller [20]byte, now uint64) Call { return Call{Caller: caller, Now: now} }

// openEscrow posts a job, bids on it and accepts the bid with the given
// milestones.
func openEscrow(t *testing.T, node *Node, amount int64, milestones []string, opt *[20]byte) (*jobs.Job, *escrow.Escrow) {
	t.Helper()
	ctx := context.Background()
	job, err := node.PostJob(ctx, at(client, 10), "Build API", "REST service", "go", big.NewInt(amount), 3_600)
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	bid, err := node.SubmitBid(ctx, at(worker, 11), job.ID, big.NewInt(amount), "on it", 100)
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	esc, err := node.AcceptBid(ctx, at(client, 12), bid.ID, EscrowTerms{
		ReleaseConditions: "all milestones verified",
		Timeout:           1_000,
		Milestones:        milestones,
		Resolver:          opt,
	})
	if err != nil {
		t.Fatalf("accept bid: %v", err)
	}
	return job, esc
}

func balanceOf(t *testing.T, node *Node, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := node.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestMarketLifecycle(t *testing.T) {
	node, recorder := memNode(t)
	ctx := context.Background()

	if _, err := node.CreateProfile(ctx, at(worker, 5), reputation.RoleWorker, big.NewInt(1_000_000_000), []string{"Go"}); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	job, esc := openEscrow(t, node, 5_000_000_000, []string{"design", "build", "ship"}, nil)

	if got := balanceOf(t, node, client); got.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("client balance after lock = %s", got)
	}
	if got := balanceOf(t, node, escrow.VaultAddress()); got.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("vault balance = %s", got)
	}
	stored, _ := node.Job(job.ID)
	if stored.Status != jobs.JobInProgress || stored.SelectedWorker != worker {
		t.Fatalf("job not in progress: %+v", stored)
	}

	for i := uint64(0); i < 3; i++ {
		proof, err := node.SubmitMilestoneProof(ctx, at(worker, 20+2*i), esc.ID, i, "https://example.invalid/proof")
		if err != nil {
			t.Fatalf("submit proof %d: %v", i, err)
		}
		if err := node.VerifyMilestone(ctx, at(client, 21+2*i), esc.ID, proof.ID, i, true); err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}
	if ok, err := node.CanRelease(esc.ID); err != nil || !ok {
		t.Fatalf("can release = %v err=%v", ok, err)
	}
	if err := node.ReleaseEscrow(ctx, at(client, 40), esc.ID, "done"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := balanceOf(t, node, worker); got.Cmp(big.NewInt(6_000_000_000)) != 0 {
		t.Fatalf("worker balance = %s", got)
	}
	if got := balanceOf(t, node, escrow.VaultAddress()); got.Sign() != 0 {
		t.Fatalf("vault not drained: %s", got)
	}
	completed, err := node.JobsByStatus(jobs.JobCompleted)
	if err != nil || len(completed) != 1 || completed[0].ID != job.ID {
		t.Fatalf("completed index = %+v err=%v", completed, err)
	}
	if open, _ := node.JobsByStatus(jobs.JobOpen); len(open) != 0 {
		t.Fatalf("job still indexed as open: %+v", open)
	}
	profile, _ := node.Profile(worker)
	if profile.JobsCompleted != 1 {
		t.Fatalf("jobs completed = %d", profile.JobsCompleted)
	}

	if _, err := node.SubmitRating(ctx, at(worker, 41), worker, job.ID, 90, "", reputation.RatingClientToWorker); !errors.Is(err, ErrNotCounterparty) {
		t.Fatalf("worker rating itself: expected not counterparty, got %v", err)
	}
	if _, err := node.SubmitRating(ctx, at(client, 42), worker, job.ID, 95, "great work", reputation.RatingClientToWorker); err != nil {
		t.Fatalf("submit rating: %v", err)
	}
	profile, _ = node.Profile(worker)
	if profile.CurrentReputation != 95 || profile.TotalRatingsReceived != 1 {
		t.Fatalf("unexpected profile after rating %+v", profile)
	}

	types := recorder.Types()
	seen := make(map[string]bool, len(types))
	for _, typ := range types {
		seen[typ] = true
	}
	for _, typ := range []string{
		reputation.EventTypeProfileCreated,
		escrow.EventTypeEscrowLocked,
		escrow.EventTypeMilestoneCompleted,
		escrow.EventTypeEscrowReleased,
		jobs.EventTypeJobCompleted,
		reputation.EventTypeRatingSubmitted,
	} {
		if !seen[typ] {
			t.Fatalf("event %s not published: %v", typ, types)
		}
	}
}

func TestRatingRequiresCompletedJob(t *testing.T) {
	node, _ := memNode(t)
	ctx := context.Background()

	if _, err := node.CreateProfile(ctx, at(worker, 5), reputation.RoleWorker, big.NewInt(1_000_000_000), nil); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	job, _ := openEscrow(t, node, 1_000_000_000, []string{"deliver"}, nil)

	_, err := node.SubmitRating(ctx, at(client, 13), worker, job.ID, 1, "", reputation.RatingClientToWorker)
	if !errors.Is(err, ErrJobNotRateable) || !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("rating in-progress job: expected not rateable, got %v", err)
	}
	profile, _ := node.Profile(worker)
	if profile.CurrentReputation != 50 || profile.TotalRatingsReceived != 0 {
		t.Fatalf("score changed by rejected rating: %+v", profile)
	}
	ratings, err := node.RatingsFor(worker)
	if err != nil || len(ratings) != 0 {
		t.Fatalf("ratings stored for in-progress job: %v err=%v", ratings, err)
	}
}

func TestFailedCompositeLeavesNoTrace(t *testing.T) {
	node, recorder := memNode(t)
	ctx := context.Background()

	job, err := node.PostJob(ctx, at(rival, 10), "Audit", "", "", big.NewInt(5_000_000_000), 0)
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	bid, err := node.SubmitBid(ctx, at(worker, 11), job.ID, big.NewInt(5_000_000_000), "", 1)
	if err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	before := node.Status()
	published := len(recorder.Types())

	// rival only holds 2e9, so locking 5e9 fails after the board already
	// accepted the bid inside the transaction.
	_, err = node.AcceptBid(ctx, at(rival, 12), bid.ID, EscrowTerms{Timeout: 10})
	if !errors.Is(err, common.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	after := node.Status()
	if after.Root != before.Root || after.Sequence != before.Sequence || after.Now != before.Now {
		t.Fatalf("failed operation changed the head: %+v -> %+v", before, after)
	}
	if len(recorder.Types()) != published {
		t.Fatalf("events leaked from a rolled back operation: %v", recorder.Types()[published:])
	}
	storedJob, _ := node.Job(job.ID)
	storedBid, _ := node.Bid(bid.ID)
	if storedJob.Status != jobs.JobOpen || storedJob.SelectedBid != 0 || storedBid.Status != jobs.BidPending {
		t.Fatalf("board mutated by failed accept: %+v %+v", storedJob, storedBid)
	}
	if _, err := node.EscrowForJob(job.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("escrow persisted by failed accept: %v", err)
	}
	open, _ := node.JobsByStatus(jobs.JobOpen)
	if len(open) != 1 {
		t.Fatalf("registry status changed by failed accept: %+v", open)
	}
}

func TestClockNeverMovesBackwards(t *testing.T) {
	node, _ := memNode(t)
	ctx := context.Background()
	if _, err := node.PostJob(ctx, at(client, 50), "a", "", "", big.NewInt(1), 0); err != nil {
		t.Fatalf("post job: %v", err)
	}
	if _, err := node.PostJob(ctx, at(client, 49), "b", "", "", big.NewInt(1), 0); !errors.Is(err, ErrClockRegression) {
		t.Fatalf("expected clock regression, got %v", err)
	}
	if got := node.Status().Now; got != 50 {
		t.Fatalf("clock = %d, want 50", got)
	}
	if _, err := node.PostJob(ctx, at(client, 50), "c", "", "", big.NewInt(1), 0); err != nil {
		t.Fatalf("same logical time must be accepted: %v", err)
	}
}

func TestCapabilityGatedOperations(t *testing.T) {
	node, _ := memNode(t)
	ctx := context.Background()
	if _, err := node.CreateProfile(ctx, at(worker, 1), reputation.RoleWorker, big.NewInt(1_000_000_000), nil); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	foreign := common.MintCapabilities()
	if _, err := node.VerifyUser(ctx, at(resolver, 2), foreign.ReputationAdmin, worker); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("foreign token: expected unauthorized, got %v", err)
	}
	if _, err := node.VerifyUser(ctx, at(resolver, 2), node.Capabilities().DisputeResolver, worker); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("wrong kind: expected unauthorized, got %v", err)
	}
	profile, err := node.VerifyUser(ctx, at(resolver, 3), node.Capabilities().ReputationAdmin, worker)
	if err != nil || !profile.Verified {
		t.Fatalf("verify user: %+v err=%v", profile, err)
	}
	profile, err = node.ApplyPenalty(ctx, at(resolver, 4), node.Capabilities().ReputationAdmin, worker, 3, "late delivery")
	if err != nil {
		t.Fatalf("apply penalty: %v", err)
	}
	if profile.PenaltyPoints != 3 || profile.StakeLockedUntil != 11 {
		t.Fatalf("unexpected penalty state %+v", profile)
	}
	if _, err := node.WithdrawStake(ctx, at(worker, 5), big.NewInt(1)); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("withdraw during lock: expected invalid state, got %v", err)
	}
}

func TestDisputeResolvedByPlatform(t *testing.T) {
	node, _ := memNode(t)
	ctx := context.Background()
	job, esc := openEscrow(t, node, 1_000_000_000, []string{"deliver"}, nil)

	if err := node.RaiseDispute(ctx, at(worker, 20), esc.ID, "client unresponsive"); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	if err := node.RefundEscrow(ctx, at(client, 21), esc.ID, "changed my mind"); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("client refund of disputed escrow: expected invalid state, got %v", err)
	}
	foreign := common.MintCapabilities()
	if err := node.ResolveDispute(ctx, at(resolver, 22), foreign.DisputeResolver, esc.ID, escrow.OutcomeRefund, "x"); !errors.Is(err, common.ErrUnauthorized) {
		t.Fatalf("foreign resolver: expected unauthorized, got %v", err)
	}
	if err := node.ResolveDispute(ctx, at(resolver, 23), node.Capabilities().DisputeResolver, esc.ID, escrow.OutcomeRefund, "no delivery"); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	if got := balanceOf(t, node, client); got.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Fatalf("client not refunded: %s", got)
	}
	stored, _ := node.Job(job.ID)
	if stored.Status != jobs.JobCancelled {
		t.Fatalf("job status = %s", stored.Status)
	}
	if err := node.ReleaseEscrow(ctx, at(client, 24), esc.ID, ""); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("second settlement: expected invalid state, got %v", err)
	}
}

func TestTimeoutEscrowRefundsClient(t *testing.T) {
	node, _ := memNode(t)
	ctx := context.Background()
	_, esc := openEscrow(t, node, 1_000_000_000, []string{"deliver"}, nil)

	if err := node.TimeoutEscrow(ctx, at(rival, esc.Deadline()-1), esc.ID); !errors.Is(err, common.ErrInvalidState) {
		t.Fatalf("early timeout: expected invalid state, got %v", err)
	}
	if err := node.TimeoutEscrow(ctx, at(rival, esc.Deadline()), esc.ID); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	stored, _ := node.Escrow(esc.ID)
	if stored.Status != escrow.StatusRefunded || stored.CloseReason != escrow.ReasonTimeout {
		t.Fatalf("unexpected escrow after timeout %+v", stored)
	}
}

func TestPausedModuleRollsBackComposite(t *testing.T) {
	node, _ := memNode(t)
	ctx := context.Background()
	job, _ := node.PostJob(ctx, at(client, 1), "job", "", "", big.NewInt(100), 0)
	bid, _ := node.SubmitBid(ctx, at(worker, 2), job.ID, big.NewInt(100), "", 1)

	node.SetPaused("escrow", true)
	if _, err := node.AcceptBid(ctx, at(client, 3), bid.ID, EscrowTerms{Timeout: 1}); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	stored, _ := node.Bid(bid.ID)
	if stored.Status != jobs.BidPending {
		t.Fatalf("bid accepted while escrow paused")
	}
	node.SetPaused("escrow", false)
	if _, err := node.AcceptBid(ctx, at(client, 4), bid.ID, EscrowTerms{Timeout: 1}); err != nil {
		t.Fatalf("accept after unpause: %v", err)
	}
}

func TestReopenRestoresLedger(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, _ := newTestNode(t, db)
	job, err := node.PostJob(context.Background(), at(client, 77), "job", "", "", big.NewInt(100), 0)
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	head := node.Status()

	reopened, _ := newTestNode(t, db)
	if got := reopened.Status(); got != head {
		t.Fatalf("head not restored: %+v want %+v", got, head)
	}
	if got := balanceOf(t, reopened, client); got.Cmp(big.NewInt(10_000_000_000)) != 0 {
		t.Fatalf("allocations applied twice: %s", got)
	}
	if _, err := reopened.Job(job.ID); err != nil {
		t.Fatalf("job lost on reopen: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	node, _ := memNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := node.PostJob(ctx, at(client, 1), "job", "", "", big.NewInt(1), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
