package reputation

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"jobledger/core/events"
	"jobledger/core/types"
	"jobledger/native/bank"
	"jobledger/native/common"
)

const moduleName = "reputation"

type engineState interface {
	storage
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine implements the reputation operations: staking, ratings, admin
// verification and penalties, and time decay. Stake is custodied in the
// module vault account and tracked per profile.
type Engine struct {
	ledger  *Ledger
	bank    *bank.Ledger
	params  Params
	emitter events.Emitter
	pauses  common.PauseView
	admin   *common.Capability
	nowFn   func() uint64
}

// NewEngine constructs an engine with the default parameters.
func NewEngine() *Engine {
	return &Engine{
		params:  DefaultParams(),
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.ledger = NewLedger(state)
	e.bank = bank.NewLedger(state)
}

// SetParams replaces the engine parameters after validating them.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.params = p
	return nil
}

// Params returns the active parameter set.
func (e *Engine) Params() Params { return e.params }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switch.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetAdminCapability configures the token VerifyUser and ApplyPenalty demand.
func (e *Engine) SetAdminCapability(c *common.Capability) { e.admin = c }

// SetNowFunc overrides the logical clock used by the engine.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// VaultAddress returns the module account holding all staked funds.
func VaultAddress() [20]byte { return bank.ModuleAddress(moduleName) }

var errNilState = fmt.Errorf("reputation engine: state not configured")

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter != nil && evt != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) guard() error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	return common.Guard(e.pauses, moduleName)
}

// CreateProfile registers caller with the given role and locks stake from the
// caller's account.
func (e *Engine) CreateProfile(caller [20]byte, role Role, stake *big.Int, specialties []string) (*Profile, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if caller == ([20]byte{}) {
		return nil, fmt.Errorf("reputation: %w: participant required", common.ErrValidation)
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if stake == nil || stake.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if minimum := e.params.MinStake(role); stake.Cmp(minimum) < 0 {
		return nil, fmt.Errorf("%w: %s role requires %s, got %s", ErrInsufficientStake, role, minimum, stake)
	}
	exists, err := e.ledger.HasProfile(caller)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrProfileExists
	}
	tags, err := normalizeSpecialties(specialties)
	if err != nil {
		return nil, err
	}
	vault, err := bank.OpenVault(nil)
	if err != nil {
		return nil, err
	}
	if err := vault.Deposit(stake); err != nil {
		return nil, err
	}
	now := e.now()
	profile := &Profile{
		Participant:       caller,
		Role:              role,
		Stake:             vault.Amount(),
		CurrentReputation: e.params.InitialScore,
		LastActivity:      now,
		Specialties:       tags,
		CreatedAt:         now,
	}
	if err := e.bank.Transfer(caller, VaultAddress(), profile.Stake); err != nil {
		return nil, err
	}
	if err := e.ledger.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(NewProfileCreatedEvent(profile))
	return profile.Clone(), nil
}

// AddStake moves amount from caller's account into caller's stake.
func (e *Engine) AddStake(caller [20]byte, amount *big.Int) (*Profile, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	profile, err := e.ledger.Profile(caller)
	if err != nil {
		return nil, err
	}
	vault, err := bank.OpenVault(profile.Stake)
	if err != nil {
		return nil, err
	}
	if err := vault.Deposit(amount); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(caller, VaultAddress(), amount); err != nil {
		return nil, err
	}
	profile.Stake = vault.Amount()
	if err := e.ledger.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(NewStakeAddedEvent(profile, amount.String()))
	return profile.Clone(), nil
}

// WithdrawStake returns amount of caller's stake to caller's account. The
// remaining stake must still clear the role minimum.
func (e *Engine) WithdrawStake(caller [20]byte, amount *big.Int) (*Profile, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	profile, err := e.ledger.Profile(caller)
	if err != nil {
		return nil, err
	}
	if now := e.now(); now < profile.StakeLockedUntil {
		return nil, fmt.Errorf("%w until %d", ErrStakeLocked, profile.StakeLockedUntil)
	}
	vault, err := bank.OpenVault(profile.Stake)
	if err != nil {
		return nil, err
	}
	out, err := vault.Withdraw(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientStake, err)
	}
	if minimum := e.params.MinStake(profile.Role); vault.Amount().Cmp(minimum) < 0 {
		return nil, fmt.Errorf("%w: %s role requires %s to remain staked", ErrInsufficientStake, profile.Role, minimum)
	}
	if err := e.bank.Transfer(VaultAddress(), caller, out); err != nil {
		return nil, err
	}
	profile.Stake = vault.Amount()
	if err := e.ledger.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(NewStakeWithdrawnEvent(profile, out.String()))
	return profile.Clone(), nil
}

// SubmitRating stores rater's review of rated for jobID and recomputes the
// rated participant's score as the integer mean of every rating received.
func (e *Engine) SubmitRating(rater, rated [20]byte, jobID uint64, value uint64, feedback string, kind RatingType) (*Rating, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if value < 1 || value > MaxRatingValue {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRatingValue, value)
	}
	if !kind.Valid() {
		return nil, ErrInvalidRatingType
	}
	if rater == rated {
		return nil, ErrSelfRating
	}
	profile, err := e.ledger.Profile(rated)
	if err != nil {
		return nil, err
	}
	verified := false
	if raterProfile, err := e.ledger.Profile(rater); err == nil {
		verified = raterProfile.Verified
	}
	now := e.now()
	rating := &Rating{
		ID:          RatingID(rater, jobID, kind),
		Rater:       rater,
		Rated:       rated,
		JobID:       jobID,
		Value:       value,
		Feedback:    strings.TrimSpace(feedback),
		Type:        kind,
		SubmittedAt: now,
		Verified:    verified,
	}
	if err := e.ledger.PutRating(rating); err != nil {
		return nil, err
	}
	old := profile.CurrentReputation
	profile.SumRatings += value
	profile.TotalRatingsReceived++
	profile.CurrentReputation = profile.SumRatings / profile.TotalRatingsReceived
	if profile.CurrentReputation > e.params.MaxScore {
		profile.CurrentReputation = e.params.MaxScore
	}
	profile.LastActivity = now
	if err := e.ledger.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(NewRatingSubmittedEvent(rating))
	e.emit(NewUpdatedEvent(profile, old))
	return rating, nil
}

// VerifyUser marks participant as verified. It requires the reputation admin
// capability and is idempotent.
func (e *Engine) VerifyUser(capability *common.Capability, participant [20]byte) (*Profile, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := common.Authorize(e.admin, capability, common.CapabilityReputationAdmin); err != nil {
		return nil, err
	}
	profile, err := e.ledger.Profile(participant)
	if err != nil {
		return nil, err
	}
	if profile.Verified {
		return profile, nil
	}
	profile.Verified = true
	if err := e.ledger.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(NewUserVerifiedEvent(profile))
	return profile.Clone(), nil
}

// ApplyPenalty adds penalty points, locks the participant's stake for the
// penalty window and deducts points times the multiplier from the score,
// floored at zero.
func (e *Engine) ApplyPenalty(capability *common.Capability, participant [20]byte, points uint64, reason string) (*Profile, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := common.Authorize(e.admin, capability, common.CapabilityReputationAdmin); err != nil {
		return nil, err
	}
	if points == 0 {
		return nil, ErrInvalidPenalty
	}
	profile, err := e.ledger.Profile(participant)
	if err != nil {
		return nil, err
	}
	old := profile.CurrentReputation
	profile.PenaltyPoints = saturatingAdd(profile.PenaltyPoints, points)
	profile.StakeLockedUntil = saturatingAdd(e.now(), e.params.PenaltyLockWindow)
	profile.CurrentReputation = saturatingSub(profile.CurrentReputation, saturatingMul(points, e.params.PenaltyMultiplier))
	if err := e.ledger.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(NewPenaltyAppliedEvent(profile, points, strings.TrimSpace(reason)))
	if old != profile.CurrentReputation {
		e.emit(NewUpdatedEvent(profile, old))
	}
	return profile.Clone(), nil
}

// DecayReputation lowers the score of an idle participant by the elapsed
// time multiplied by the decay rate. Decay never takes a score below one; a
// score already at or below one is left alone. LastActivity advances to now
// so the same interval is never charged twice.
func (e *Engine) DecayReputation(participant [20]byte) (*Profile, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	profile, err := e.ledger.Profile(participant)
	if err != nil {
		return nil, err
	}
	now := e.now()
	old := profile.CurrentReputation
	if now > profile.LastActivity && old > 1 {
		decay := saturatingMul(now-profile.LastActivity, e.params.DecayRate)
		profile.CurrentReputation = saturatingSub(old, decay)
		if profile.CurrentReputation < 1 {
			profile.CurrentReputation = 1
		}
	}
	if now > profile.LastActivity {
		profile.LastActivity = now
	}
	if err := e.ledger.PutProfile(profile); err != nil {
		return nil, err
	}
	e.emit(NewUpdatedEvent(profile, old))
	return profile.Clone(), nil
}

// RecordJobPosted bumps the JobsPosted counter of client when it has a
// profile. Participants without a profile are skipped.
func (e *Engine) RecordJobPosted(client [20]byte) error {
	return e.bump(client, func(p *Profile) { p.JobsPosted++ })
}

// RecordJobCompleted bumps the JobsCompleted counter of worker when it has a
// profile.
func (e *Engine) RecordJobCompleted(worker [20]byte) error {
	return e.bump(worker, func(p *Profile) { p.JobsCompleted++ })
}

func (e *Engine) bump(addr [20]byte, fn func(*Profile)) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	profile, err := e.ledger.Profile(addr)
	if errors.Is(err, ErrProfileNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	fn(profile)
	profile.LastActivity = e.now()
	return e.ledger.PutProfile(profile)
}

// WeightedReputation is the score external callers should use for ranking:
// the current score plus the verification and stake bonuses, minus the
// penalty deduction, floored at zero.
func (e *Engine) WeightedReputation(participant [20]byte) (uint64, error) {
	if e == nil || e.ledger == nil {
		return 0, errNilState
	}
	profile, err := e.ledger.Profile(participant)
	if err != nil {
		return 0, err
	}
	score := profile.CurrentReputation
	if profile.Verified {
		score = saturatingAdd(score, e.params.VerificationBonus)
	}
	double := new(big.Int).Lsh(e.params.MinStake(profile.Role), 1)
	if profile.Stake != nil && profile.Stake.Cmp(double) > 0 {
		score = saturatingAdd(score, e.params.StakeBonus)
	}
	return saturatingSub(score, saturatingMul(profile.PenaltyPoints, e.params.PenaltyMultiplier)), nil
}

// MeetsThreshold reports whether participant clears the score threshold, is
// under the penalty ceiling and holds at least the minimum stake for its role.
func (e *Engine) MeetsThreshold(participant [20]byte) (bool, error) {
	if e == nil || e.ledger == nil {
		return false, errNilState
	}
	profile, err := e.ledger.Profile(participant)
	if err != nil {
		return false, err
	}
	if profile.CurrentReputation < e.params.ThresholdScore {
		return false, nil
	}
	if profile.PenaltyPoints >= e.params.MaxPenaltyPoints {
		return false, nil
	}
	return profile.Stake != nil && profile.Stake.Cmp(e.params.MinStake(profile.Role)) >= 0, nil
}

// Profile returns a copy of the participant's profile.
func (e *Engine) Profile(addr [20]byte) (*Profile, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilState
	}
	return e.ledger.Profile(addr)
}

// Rating returns a stored rating.
func (e *Engine) Rating(id [32]byte) (*Rating, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilState
	}
	return e.ledger.Rating(id)
}

// RatingsFor lists the ratings received by addr.
func (e *Engine) RatingsFor(addr [20]byte) ([]*Rating, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilState
	}
	return e.ledger.RatingsFor(addr)
}

func saturatingAdd(a, b uint64) uint64 {
	if a > ^uint64(0)-b {
		return ^uint64(0)
	}
	return a + b
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > ^uint64(0)/b {
		return ^uint64(0)
	}
	return a * b
}
