// Package pipeline drives the multi-step submission protocol for any
// state-changing ledger call: allowance check, approval, simulation with
// bounded retry, submission, confirmation and identifier extraction. One run
// is sequential; independent runs interleave freely.
package pipeline

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind names the user action a run performs.
type Kind string

const (
	KindApprove Kind = "approve"
	KindCreate  Kind = "create"
	KindClaim   Kind = "claim"
	KindRefund  Kind = "refund"
)

// Stage is the current step of a pending operation. Stages only move
// forward; Done and Failed are terminal.
type Stage string

const (
	StageCheckingAllowance Stage = "checking_allowance"
	StageApproving         Stage = "approving"
	StageSimulating        Stage = "simulating"
	StageSubmitting        Stage = "submitting"
	StageConfirming        Stage = "confirming"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

// Operation is the ephemeral record of one user action moving through the
// pipeline. It is persisted at every stage transition so an interruption
// between the approval and the main transaction can be reported precisely.
type Operation struct {
	ID         string      `json:"id"`
	Key        string      `json:"key"`
	Kind       Kind        `json:"kind"`
	Stage      Stage       `json:"stage"`
	RetryCount int         `json:"retryCount"`
	LastError  string      `json:"lastError,omitempty"`
	ApprovalTx common.Hash `json:"approvalTx,omitempty"`
	SubmitTx   common.Hash `json:"submitTx,omitempty"`
	EntityID   common.Hash `json:"entityId,omitempty"`
	Provenance string      `json:"provenance,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// SagaState names the approve-then-create progress of a create operation.
// The two transactions are independently observable on the ledger; this
// state is what lets a caller resume or report partial progress instead of
// re-running a completed approval.
type SagaState string

const (
	SagaNone              SagaState = ""
	SagaApprovalPending   SagaState = "approval_pending"
	SagaApprovalConfirmed SagaState = "approval_confirmed"
	SagaCreatePending     SagaState = "create_pending"
	SagaCreated           SagaState = "created"
	SagaFailed            SagaState = "failed"
)

// Saga reports where a create operation stands in the approve/create saga.
func (o *Operation) Saga() SagaState {
	if o == nil || o.Kind != KindCreate {
		return SagaNone
	}
	switch o.Stage {
	case StageApproving:
		return SagaApprovalPending
	case StageSimulating:
		if o.ApprovalTx != (common.Hash{}) {
			return SagaApprovalConfirmed
		}
		return SagaNone
	case StageSubmitting, StageConfirming:
		return SagaCreatePending
	case StageDone:
		return SagaCreated
	case StageFailed:
		return SagaFailed
	default:
		return SagaNone
	}
}

// Terminal reports whether the operation reached Done or Failed.
func (o *Operation) Terminal() bool {
	return o != nil && (o.Stage == StageDone || o.Stage == StageFailed)
}
