package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a ledger failure into the categories the transaction
// pipeline acts on. Raw RPC errors are decoded exactly once, at this
// boundary; callers branch on Kind instead of matching message substrings.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindRejected covers a signer or user refusing to authorise the call.
	KindRejected
	// KindInsufficientFunds covers balance shortfalls, terminal.
	KindInsufficientFunds
	// KindInsufficientAllowance is retried by re-polling the allowance.
	KindInsufficientAllowance
	// KindTransient covers network, timeout and rate-limit failures that are
	// safe to retry with backoff.
	KindTransient
	// KindReverted is a deterministic contract rejection with a reason.
	KindReverted
	// KindTimeout is a bounded wait expiring; the transaction may still land.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindInsufficientAllowance:
		return "insufficient_allowance"
	case KindTransient:
		return "transient"
	case KindReverted:
		return "reverted"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the tagged variant produced by Decode.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ledger %s: %s", e.Kind, e.Reason)
	}
	if e.cause != nil {
		return fmt.Sprintf("ledger %s: %v", e.Kind, e.cause)
	}
	return "ledger " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a tagged ledger error; used by implementations and test
// doubles that already know the classification.
func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Classify returns the Kind of a decoded ledger error, or KindUnknown when
// the error did not originate at the ledger boundary.
func Classify(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// RevertReason extracts the contract revert reason when the error is a
// deterministic revert.
func RevertReason(err error) (string, bool) {
	var le *Error
	if errors.As(err, &le) && le.Kind == KindReverted {
		return le.Reason, true
	}
	return "", false
}

// IsTransient reports whether the error is safe to retry with backoff.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

const revertPrefix = "execution reverted"

// Decode wraps a raw RPC error into the tagged variant. It is the only place
// that inspects error text; everything above the ledger boundary matches on
// Kind.
func Decode(err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindTransient, cause: err}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"),
		strings.Contains(msg, "request rejected"):
		return &Error{Kind: KindRejected, cause: err}
	case strings.Contains(msg, "insufficient allowance"),
		strings.Contains(msg, "exceeds allowance"):
		return &Error{Kind: KindInsufficientAllowance, cause: err}
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "exceeds balance"):
		return &Error{Kind: KindInsufficientFunds, cause: err}
	case strings.Contains(msg, revertPrefix):
		return &Error{Kind: KindReverted, Reason: revertReasonFrom(msg), cause: err}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"), strings.Contains(msg, "eof"),
		strings.Contains(msg, "temporarily unavailable"):
		return &Error{Kind: KindTransient, cause: err}
	default:
		return &Error{Kind: KindUnknown, cause: err}
	}
}

func revertReasonFrom(msg string) string {
	idx := strings.Index(msg, revertPrefix)
	rest := strings.TrimPrefix(msg[idx+len(revertPrefix):], ":")
	return strings.Trim(strings.TrimSpace(rest), `"`)
}
