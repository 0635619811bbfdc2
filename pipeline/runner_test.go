package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"vaultlink/ledger"
)

var (
	testProgram = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	testToken   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testFrom    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	testEvent   = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
)

// fakeLedger scripts the ledger boundary for pipeline tests.
type fakeLedger struct {
	mu sync.Mutex

	allowance     *big.Int
	allowanceGate chan struct{} // when set, allowance reads block until closed

	simulateErrs  []error // consumed front to back; nil entry = success
	simulateCalls int
	simulateGate  chan struct{}

	submitted []ledger.Call
	submitErr error

	receipt *types.Receipt
	waitErr error
}

func (f *fakeLedger) Read(ctx context.Context, target common.Address, op string, args []interface{}, out interface{}) error {
	f.mu.Lock()
	gate := f.allowanceGate
	allowance := f.allowance
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if op != "allowance" {
		return nil
	}
	ptr, ok := out.(**big.Int)
	if !ok {
		return errors.New("unexpected out type")
	}
	*ptr = new(big.Int).Set(allowance)
	return nil
}

func (f *fakeLedger) Simulate(ctx context.Context, target common.Address, op string, args []interface{}, from common.Address) error {
	f.mu.Lock()
	f.simulateCalls++
	var err error
	if len(f.simulateErrs) > 0 {
		err = f.simulateErrs[0]
		f.simulateErrs = f.simulateErrs[1:]
	}
	gate := f.simulateGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeLedger) Submit(ctx context.Context, call ledger.Call) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.submitted = append(f.submitted, call)
	if call.Op == "approve" {
		// The ledger applies the approval once the tx confirms.
		f.allowance = new(big.Int).Set(call.Args[1].(*big.Int))
		return common.HexToHash("0xa1"), nil
	}
	return common.HexToHash("0xb2"), nil
}

func (f *fakeLedger) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}, nil
}

func newTestRunner(t *testing.T, fake *fakeLedger) (*Runner, *[]time.Duration) {
	t.Helper()
	r := NewRunner(fake, RunnerConfig{ConfirmTimeout: time.Second})
	slept := new([]time.Duration)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return r, slept
}

func claimPlan() Plan {
	return Plan{
		Key:  "claim:0x01",
		Kind: KindClaim,
		From: testFrom,
		Call: ledger.Call{Target: testProgram, Op: "claimTransfer", Args: []interface{}{[32]byte{1}, ""}},
	}
}

func TestRunHappyPath(t *testing.T) {
	fake := &fakeLedger{}
	r, _ := newTestRunner(t, fake)

	res, err := r.Run(context.Background(), claimPlan())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Operation.Stage != StageDone {
		t.Fatalf("stage = %s, want done", res.Operation.Stage)
	}
	if fake.simulateCalls != 1 {
		t.Fatalf("simulate called %d times, want 1", fake.simulateCalls)
	}
	if len(fake.submitted) != 1 || fake.submitted[0].Op != "claimTransfer" {
		t.Fatalf("unexpected submissions: %+v", fake.submitted)
	}
	if res.TxHash == (common.Hash{}) {
		t.Fatalf("missing tx hash")
	}
}

func TestTransientSimulationRetriesWithBackoff(t *testing.T) {
	transient := ledger.NewError(ledger.KindTransient, "rate limited")
	fake := &fakeLedger{simulateErrs: []error{transient, transient, transient, transient, transient}}
	r, slept := newTestRunner(t, fake)

	res, err := r.Run(context.Background(), claimPlan())
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !ledger.IsTransient(err) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	// Initial attempt plus three retries.
	if fake.simulateCalls != 4 {
		t.Fatalf("simulate attempted %d times, want 4", fake.simulateCalls)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("backoff delays %v, want %v", *slept, want)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Fatalf("backoff delays %v, want %v", *slept, want)
		}
	}
	if res.Operation.Stage != StageFailed {
		t.Fatalf("stage = %s, want failed", res.Operation.Stage)
	}
	if res.Operation.RetryCount != 3 {
		t.Fatalf("retry count = %d, want 3", res.Operation.RetryCount)
	}
	if len(fake.submitted) != 0 {
		t.Fatalf("failed simulation must not submit")
	}
}

func TestTransientRecoveryMidRetry(t *testing.T) {
	transient := ledger.NewError(ledger.KindTransient, "timeout")
	fake := &fakeLedger{simulateErrs: []error{transient, transient, nil}}
	r, _ := newTestRunner(t, fake)

	if _, err := r.Run(context.Background(), claimPlan()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.simulateCalls != 3 {
		t.Fatalf("simulate attempted %d times, want 3", fake.simulateCalls)
	}
}

func TestNonRetryableSimulationAborts(t *testing.T) {
	fake := &fakeLedger{simulateErrs: []error{ledger.NewError(ledger.KindReverted, "transfer already claimed")}}
	r, slept := newTestRunner(t, fake)

	_, err := r.Run(context.Background(), claimPlan())
	if err == nil {
		t.Fatalf("expected failure")
	}
	if reason, ok := ledger.RevertReason(err); !ok || reason != "transfer already claimed" {
		t.Fatalf("revert reason lost: %v", err)
	}
	if fake.simulateCalls != 1 {
		t.Fatalf("non-retryable failure retried: %d attempts", fake.simulateCalls)
	}
	if len(*slept) != 0 {
		t.Fatalf("unexpected backoff sleeps: %v", *slept)
	}
}

func TestApprovalRunsWhenAllowanceShort(t *testing.T) {
	fake := &fakeLedger{allowance: big.NewInt(0)}
	r, _ := newTestRunner(t, fake)

	amount := big.NewInt(10_000_000)
	plan := Plan{
		Key:  "create:1",
		Kind: KindCreate,
		From: testFrom,
		Call: ledger.Call{Target: testProgram, Op: "createTransfer", Args: []interface{}{}},
		Allowance: &AllowancePlan{
			Token:   testToken,
			Owner:   testFrom,
			Spender: testProgram,
			Amount:  amount,
		},
		Extract: &ExtractPlan{Program: testProgram, EventSig: testEvent},
	}
	res, err := r.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fake.submitted) != 2 {
		t.Fatalf("expected approve + create, got %+v", fake.submitted)
	}
	if fake.submitted[0].Op != "approve" {
		t.Fatalf("first submission = %s, want approve", fake.submitted[0].Op)
	}
	if got := fake.submitted[0].Args[1].(*big.Int); got.Cmp(amount) != 0 {
		t.Fatalf("approved %s, want %s", got, amount)
	}
	if res.Operation.ApprovalTx == (common.Hash{}) {
		t.Fatalf("approval tx not recorded")
	}
	if res.Operation.Saga() != SagaCreated {
		t.Fatalf("saga = %s, want created", res.Operation.Saga())
	}
}

func TestApprovalSkippedWhenAllowanceSufficient(t *testing.T) {
	fake := &fakeLedger{allowance: big.NewInt(1_000_000_000)}
	r, _ := newTestRunner(t, fake)

	plan := Plan{
		Kind: KindCreate,
		From: testFrom,
		Call: ledger.Call{Target: testProgram, Op: "createTransfer"},
		Allowance: &AllowancePlan{
			Token: testToken, Owner: testFrom, Spender: testProgram, Amount: big.NewInt(10),
		},
	}
	if _, err := r.Run(context.Background(), plan); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fake.submitted) != 1 {
		t.Fatalf("expected create only, got %+v", fake.submitted)
	}
}

func TestInsufficientAllowanceSimulationRepollsOnce(t *testing.T) {
	fake := &fakeLedger{
		allowance:    big.NewInt(1_000_000),
		simulateErrs: []error{ledger.NewError(ledger.KindInsufficientAllowance, "lagging view"), nil},
	}
	r, _ := newTestRunner(t, fake)

	plan := Plan{
		Kind: KindCreate,
		From: testFrom,
		Call: ledger.Call{Target: testProgram, Op: "createTransfer"},
		Allowance: &AllowancePlan{
			Token: testToken, Owner: testFrom, Spender: testProgram, Amount: big.NewInt(100),
		},
	}
	if _, err := r.Run(context.Background(), plan); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.simulateCalls != 2 {
		t.Fatalf("simulate attempted %d times, want 2", fake.simulateCalls)
	}
}

func TestConfirmTimeoutSurfacesDistinctly(t *testing.T) {
	fake := &fakeLedger{waitErr: ledger.NewError(ledger.KindTimeout, "confirmation window elapsed")}
	r, _ := newTestRunner(t, fake)

	res, err := r.Run(context.Background(), claimPlan())
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if ledger.Classify(err) != ledger.KindTimeout {
		t.Fatalf("expected timeout kind, got %v", err)
	}
	// The transaction was submitted; the caller must see that before retrying.
	if res.TxHash == (common.Hash{}) {
		t.Fatalf("submitted tx hash lost on timeout")
	}
	if res.Operation.Stage != StageFailed {
		t.Fatalf("stage = %s", res.Operation.Stage)
	}
}

func TestBusyKeySerialisesRuns(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeLedger{simulateGate: gate}
	r, _ := newTestRunner(t, fake)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Run(context.Background(), claimPlan())
	}()

	for !r.Busy("claim:0x01") {
		time.Sleep(time.Millisecond)
	}
	if _, err := r.Run(context.Background(), claimPlan()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	other := claimPlan()
	other.Key = "claim:0x02"
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), other)
		done <- err
	}()

	close(gate)
	wg.Wait()
	if err := <-done; err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
}
