package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"vaultlink/ledger"
)

const (
	// maxSimulateRetries bounds retries of transiently failing simulations;
	// with the initial attempt a permanently failing simulate runs 4 times.
	maxSimulateRetries  = 3
	simulateBackoffBase = time.Second

	// Allowance reads lag a confirmed approval; re-poll with a fixed delay.
	allowancePollDelay = 2 * time.Second
	maxAllowancePolls  = 5

	// DefaultConfirmTimeout bounds the receipt wait. Expiry does not retract
	// the submission; it only stops the client from waiting.
	DefaultConfirmTimeout = 60 * time.Second
)

// ErrBusy is returned when an operation with the same key is still running;
// the initiating control stays disabled until the first run terminates.
var ErrBusy = errors.New("operation already in flight")

// MaxApproval is the sentinel amount for unlimited approvals.
var MaxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// AllowancePlan describes the pre-existing balance a run moves into escrow.
// Present only for actions that deposit (create); claims and refunds never
// need an approval.
type AllowancePlan struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
	// ApproveMax approves the sentinel instead of the exact amount.
	ApproveMax bool
}

// ExtractPlan describes how to recover the created entity's id from the
// confirmed receipt.
type ExtractPlan struct {
	Program  common.Address
	EventSig common.Hash
}

// Plan is one prepared pipeline run.
type Plan struct {
	// Key serialises runs: a second plan with a live key is rejected with
	// ErrBusy. Defaults to the kind, which serialises per-action-type.
	Key       string
	Kind      Kind
	From      common.Address
	Call      ledger.Call
	Allowance *AllowancePlan
	Extract   *ExtractPlan
}

// Result reports a finished run. Operation is populated on failure too, so
// callers can surface partial progress (a confirmed approval, a create that
// timed out) instead of blindly re-running completed steps.
type Result struct {
	Operation *Operation
	Receipt   *types.Receipt
	TxHash    common.Hash
	ID        ExtractedID
}

// RunnerConfig wires the runner's collaborators. All fields are optional.
type RunnerConfig struct {
	Store          *Store
	Metrics        *Metrics
	Logger         *slog.Logger
	ConfirmTimeout time.Duration
}

// Runner executes plans against the ledger. Runs on distinct keys proceed
// concurrently; within one run every stage is a suspension point on a
// network round-trip.
type Runner struct {
	ledger         ledger.Client
	store          *Store
	metrics        *Metrics
	log            *slog.Logger
	confirmTimeout time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	busy map[string]string
}

// NewRunner builds a pipeline runner on top of the ledger client.
func NewRunner(client ledger.Client, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &Runner{
		ledger:         client,
		store:          cfg.Store,
		metrics:        cfg.Metrics,
		log:            logger,
		confirmTimeout: timeout,
		now:            time.Now,
		sleep:          sleepCtx,
		busy:           make(map[string]string),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Busy reports whether a run with the given key is still in flight.
func (r *Runner) Busy(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.busy[key]
	return ok
}

// Resume loads a persisted operation so an interrupted saga can be reported
// precisely (e.g. approval confirmed, create never submitted).
func (r *Runner) Resume(id string) (*Operation, error) {
	return r.store.Get(id)
}

// PendingOperations lists persisted runs that never reached a terminal stage.
func (r *Runner) PendingOperations() ([]*Operation, error) {
	return r.store.Pending()
}

// Run drives the plan through checkAllowance → approve → simulate → submit →
// confirm → extract. The returned Result carries the Operation even when err
// is non-nil.
func (r *Runner) Run(ctx context.Context, plan Plan) (*Result, error) {
	key := plan.Key
	if key == "" {
		key = string(plan.Kind)
	}
	op := &Operation{
		ID:        uuid.NewString(),
		Key:       key,
		Kind:      plan.Kind,
		CreatedAt: r.now(),
	}
	result := &Result{Operation: op}

	r.mu.Lock()
	if _, inFlight := r.busy[key]; inFlight {
		r.mu.Unlock()
		return result, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	r.busy[key] = op.ID
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.busy, key)
		r.mu.Unlock()
	}()

	if plan.Allowance != nil {
		if err := r.ensureAllowance(ctx, plan.Allowance, op); err != nil {
			return result, r.fail(op, err)
		}
	}

	r.setStage(op, StageSimulating)
	if err := r.simulateWithRetry(ctx, plan, op); err != nil {
		return result, r.fail(op, fmt.Errorf("simulate %s: %w", plan.Call.Op, err))
	}

	r.setStage(op, StageSubmitting)
	txHash, err := r.ledger.Submit(ctx, plan.Call)
	if err != nil {
		return result, r.fail(op, fmt.Errorf("submit %s: %w", plan.Call.Op, err))
	}
	op.SubmitTx = txHash
	result.TxHash = txHash

	r.setStage(op, StageConfirming)
	submitted := r.now()
	receipt, err := r.ledger.WaitForReceipt(ctx, txHash, r.confirmTimeout)
	if err != nil {
		return result, r.fail(op, fmt.Errorf("confirm %s: %w", txHash.Hex(), err))
	}
	r.metrics.observeConfirm(r.now().Sub(submitted))
	result.Receipt = receipt

	if plan.Extract != nil {
		extracted := ExtractID(receipt, plan.Extract.Program, plan.Extract.EventSig)
		op.EntityID = extracted.ID
		op.Provenance = string(extracted.Provenance)
		result.ID = extracted
		if extracted.Provenance == ProvenanceSynthetic {
			r.log.Warn("entity id synthesised from tx hash; unverified",
				"op", op.ID, "tx", txHash.Hex())
		}
	}

	r.setStage(op, StageDone)
	r.metrics.observeRun(plan.Kind, "done")
	return result, nil
}

// ensureAllowance reads the current allowance and, when short, submits an
// approval and verifies it landed. The approval and the main call are two
// independently observable transactions; every transition is persisted so a
// crash between them is reportable.
func (r *Runner) ensureAllowance(ctx context.Context, plan *AllowancePlan, op *Operation) error {
	r.setStage(op, StageCheckingAllowance)
	current, err := r.readAllowance(ctx, plan)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(plan.Amount) >= 0 {
		return nil
	}

	r.setStage(op, StageApproving)
	amount := plan.Amount
	if plan.ApproveMax {
		amount = MaxApproval
	}
	txHash, err := r.ledger.Submit(ctx, ledger.Call{
		Target: plan.Token,
		Op:     "approve",
		Args:   []interface{}{plan.Spender, amount},
	})
	if err != nil {
		return fmt.Errorf("submit approval: %w", err)
	}
	op.ApprovalTx = txHash
	r.persist(op)

	if _, err := r.ledger.WaitForReceipt(ctx, txHash, r.confirmTimeout); err != nil {
		return fmt.Errorf("confirm approval %s: %w", txHash.Hex(), err)
	}
	r.metrics.observeApproval()

	// Read-after-write lag is expected, not exceptional: re-poll until the
	// new allowance is visible before paying for a simulation.
	if err := r.pollAllowance(ctx, plan); err != nil {
		return fmt.Errorf("verify approval: %w", err)
	}
	return nil
}

func (r *Runner) readAllowance(ctx context.Context, plan *AllowancePlan) (*big.Int, error) {
	out := new(big.Int)
	err := r.ledger.Read(ctx, plan.Token, "allowance",
		[]interface{}{plan.Owner, plan.Spender}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) pollAllowance(ctx context.Context, plan *AllowancePlan) error {
	for attempt := 0; attempt < maxAllowancePolls; attempt++ {
		current, err := r.readAllowance(ctx, plan)
		if err == nil && current.Cmp(plan.Amount) >= 0 {
			return nil
		}
		if err != nil && !ledger.IsTransient(err) {
			return err
		}
		if err := r.sleep(ctx, allowancePollDelay); err != nil {
			return err
		}
	}
	return ledger.NewError(ledger.KindInsufficientAllowance, "allowance not visible after approval")
}

// simulateWithRetry dry-runs the call. Transient failures back off 1s/2s/4s
// for up to three retries; an insufficient-allowance failure re-polls the
// allowance once and re-simulates; everything else aborts immediately.
func (r *Runner) simulateWithRetry(ctx context.Context, plan Plan, op *Operation) error {
	transient := 0
	allowanceRetried := false
	for {
		err := r.ledger.Simulate(ctx, plan.Call.Target, plan.Call.Op, plan.Call.Args, plan.From)
		if err == nil {
			return nil
		}
		switch ledger.Classify(err) {
		case ledger.KindTransient:
			if transient >= maxSimulateRetries {
				return err
			}
			delay := simulateBackoffBase << transient
			transient++
			op.RetryCount++
			r.persist(op)
			r.metrics.observeSimulateRetry()
			r.log.Debug("simulation retry", "op", op.ID, "attempt", transient, "delay", delay)
			if serr := r.sleep(ctx, delay); serr != nil {
				return serr
			}
		case ledger.KindInsufficientAllowance:
			if allowanceRetried || plan.Allowance == nil {
				return err
			}
			allowanceRetried = true
			op.RetryCount++
			r.persist(op)
			if perr := r.pollAllowance(ctx, plan.Allowance); perr != nil {
				return err
			}
		default:
			return err
		}
	}
}

func (r *Runner) setStage(op *Operation, stage Stage) {
	op.Stage = stage
	r.persist(op)
	r.log.Debug("pipeline stage", "op", op.ID, "kind", op.Kind, "stage", stage)
}

func (r *Runner) persist(op *Operation) {
	op.UpdatedAt = r.now()
	if err := r.store.Save(op); err != nil {
		r.log.Warn("persist operation", "op", op.ID, "error", err)
	}
}

func (r *Runner) fail(op *Operation, err error) error {
	op.LastError = err.Error()
	r.setStage(op, StageFailed)
	r.metrics.observeRun(op.Kind, "failed")
	return err
}
