package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jobledger/core/events"
	"jobledger/core/state"
	"jobledger/native/bank"
	"jobledger/native/common"
	"jobledger/native/escrow"
	"jobledger/native/jobs"
	"jobledger/native/registry"
	"jobledger/native/reputation"
	"jobledger/observability"
	telemetry "jobledger/observability/otel"
	"jobledger/storage"
)

var (
	// ErrClockRegression is returned when a call carries a logical time older
	// than the last committed one.
	ErrClockRegression = fmt.Errorf("core: %w: logical time moved backwards", common.ErrValidation)
	// ErrNotCounterparty is returned when a rating does not come from one side
	// of the job towards the other.
	ErrNotCounterparty = fmt.Errorf("core: %w: rater and rated must be the job's counterparties", common.ErrUnauthorized)
	// ErrJobNotRateable is returned when a rating targets a job that has not
	// completed.
	ErrJobNotRateable = fmt.Errorf("core: %w: job not completed", common.ErrInvalidState)

	clockKey = []byte("node/clock")
)

// Call carries the identity and logical time the caller's transport resolved
// for one request.
type Call struct {
	Caller [20]byte
	Now    uint64
}

// Options configures a Node at construction.
type Options struct {
	Logger           *slog.Logger
	ReputationParams *reputation.Params
	PausedModules    []string
	// Allocations are credited once, when the database is empty.
	Allocations map[[20]byte]*big.Int
}

// Node is the central controller, wiring all components together. Every
// mutating method runs under one lock inside one state transaction: it either
// commits fully, publishing its buffered events, or leaves no trace.
type Node struct {
	mu         sync.Mutex
	db         storage.Database
	state      *state.Manager
	bank       *bank.Ledger
	buffer     *events.Buffer
	bus        *events.Bus
	caps       *common.Capabilities
	pauses     *common.PauseSet
	escrow     *escrow.Engine
	reputation *reputation.Engine
	registry   *registry.Registry
	board      *jobs.Board
	metrics    *observability.MarketMetrics
	logger     *slog.Logger
	tracer     trace.Tracer
	now        uint64
}

// NewNode restores ledger state from db and wires every engine to it.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	manager, err := state.Open(db)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		db:         db,
		state:      manager,
		bank:       bank.NewLedger(manager),
		buffer:     &events.Buffer{},
		bus:        &events.Bus{},
		caps:       common.MintCapabilities(),
		pauses:     common.NewPauseSet(opts.PausedModules...),
		escrow:     escrow.NewEngine(),
		reputation: reputation.NewEngine(),
		registry:   registry.NewRegistry(manager),
		board:      jobs.NewBoard(manager),
		metrics:    observability.Market(),
		logger:     logger.With("component", "core"),
		tracer:     telemetry.Tracer("core"),
	}
	clock := func() uint64 { return n.now }

	n.escrow.SetState(manager)
	n.escrow.SetEmitter(n.buffer)
	n.escrow.SetPauses(n.pauses)
	n.escrow.SetDisputeCapability(n.caps.DisputeResolver)
	n.escrow.SetNowFunc(clock)

	n.reputation.SetState(manager)
	n.reputation.SetEmitter(n.buffer)
	n.reputation.SetPauses(n.pauses)
	n.reputation.SetAdminCapability(n.caps.ReputationAdmin)
	n.reputation.SetNowFunc(clock)
	if opts.ReputationParams != nil {
		if err := n.reputation.SetParams(*opts.ReputationParams); err != nil {
			return nil, err
		}
	}

	n.registry.SetEmitter(n.buffer)
	n.registry.SetPauses(n.pauses)
	n.registry.SetAdminCapability(n.caps.RegistryAdmin)

	n.board.SetEmitter(n.buffer)
	n.board.SetPauses(n.pauses)
	n.board.SetNowFunc(clock)

	if _, err := manager.KVGet(clockKey, &n.now); err != nil {
		return nil, fmt.Errorf("core: load clock: %w", err)
	}
	if manager.Sequence() == 0 && len(opts.Allocations) > 0 {
		if err := n.applyAllocations(opts.Allocations); err != nil {
			return nil, err
		}
	}
	n.metrics.RecordSequence(manager.Sequence())
	return n, nil
}

func (n *Node) applyAllocations(allocations map[[20]byte]*big.Int) error {
	if err := n.state.Begin(); err != nil {
		return err
	}
	for addr, amount := range allocations {
		if err := n.bank.Credit(addr, amount); err != nil {
			_ = n.state.Discard()
			return fmt.Errorf("core: genesis allocation %x: %w", addr, err)
		}
	}
	_, err := n.state.Commit()
	return err
}

// Capabilities returns the tokens minted for this node. Whoever holds the
// node holds the admin surface; transports decide who may use them.
func (n *Node) Capabilities() *common.Capabilities { return n.caps }

// Subscribe registers an emitter that receives every committed event.
func (n *Node) Subscribe(e events.Emitter) { n.bus.Subscribe(e) }

// SetPaused toggles the pause switch of a module.
func (n *Node) SetPaused(module string, paused bool) {
	n.pauses.Set(module, paused)
	n.logger.Info("module pause updated", "module", module, "paused", paused)
}

// advanceClock records call.Now as the logical time of the running
// transaction. It must be called with the transaction open.
func (n *Node) advanceClock(now uint64) error {
	if now < n.now {
		return fmt.Errorf("%w: %d < %d", ErrClockRegression, now, n.now)
	}
	if err := n.state.KVPut(clockKey, now); err != nil {
		return err
	}
	n.now = now
	return nil
}

// execute runs fn as one atomic operation.
func (n *Node) execute(ctx context.Context, module, op string, call Call, fn func() error, attrs ...slog.Attr) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	ctx, span := n.tracer.Start(ctx, module+"."+op, trace.WithAttributes(
		attribute.String("module", module),
		attribute.String("op", op),
	))
	start := time.Now()
	defer func() {
		n.metrics.Observe(module, op, err, time.Since(start))
		fields := append([]slog.Attr{
			slog.String("module", module),
			slog.String("op", op),
			slog.String("caller", fmt.Sprintf("%x", call.Caller)),
			slog.Uint64("now", call.Now),
		}, attrs...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, common.Kind(err))
			fields = append(fields, slog.String("error", err.Error()), slog.String("kind", common.Kind(err)))
			n.logger.LogAttrs(ctx, slog.LevelWarn, "operation rejected", fields...)
		} else {
			fields = append(fields, slog.Uint64("seq", n.state.Sequence()))
			n.logger.LogAttrs(ctx, slog.LevelInfo, "operation committed", fields...)
		}
		span.End()
	}()

	if err = n.state.Begin(); err != nil {
		return err
	}
	previous := n.now
	if err = n.advanceClock(call.Now); err == nil {
		err = fn()
	}
	if err != nil {
		n.now = previous
		n.buffer.Discard()
		if derr := n.state.Discard(); derr != nil {
			err = errors.Join(err, derr)
		}
		return err
	}
	if _, err = n.state.Commit(); err != nil {
		n.now = previous
		n.buffer.Discard()
		return err
	}
	published := n.buffer.Flush(n.bus)
	span.SetAttributes(attribute.Int("events", len(published)))
	n.recordCustody()
	return nil
}

func (n *Node) recordCustody() {
	n.metrics.RecordSequence(n.state.Sequence())
	if balance, err := n.bank.Balance(escrow.VaultAddress()); err == nil {
		n.metrics.RecordCustody("escrow", balance)
	}
	if balance, err := n.bank.Balance(reputation.VaultAddress()); err == nil {
		n.metrics.RecordCustody("reputation", balance)
	}
}
