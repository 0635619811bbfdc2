package escrow

import (
	"errors"
	"strings"

	"vaultlink/ledger"
)

// Protocol errors. The state-conflict family (already claimed, not
// claimable, not refundable, all claims taken) is benign: another actor won
// a race the ledger is allowed to decide, so callers surface it and move on.
var (
	// ErrPasswordRequired halts a claim before anything is submitted: the
	// transfer is gated by a claim code and none was supplied.
	ErrPasswordRequired = errors.New("claim code required")
	// ErrInvalidClaimCode is terminal for the attempt; the user can correct
	// the code and try again.
	ErrInvalidClaimCode = errors.New("invalid claim code")
	ErrAlreadyClaimed   = errors.New("transfer already claimed")
	ErrNotClaimable     = errors.New("transfer not claimable")
	ErrNotRefundable    = errors.New("transfer not refundable")
	ErrAllClaimsTaken   = errors.New("all drop claims taken")
	ErrDropInactive     = errors.New("drop no longer active")
	ErrNotCreator       = errors.New("only the creator may refund")
)

// protocolError maps a decoded ledger failure onto the protocol error the
// revert reason denotes. Failures that are not recognisable state conflicts
// pass through unchanged (including their Kind) so the pipeline taxonomy
// stays visible to callers.
func protocolError(err error) error {
	if err == nil {
		return nil
	}
	reason, ok := ledger.RevertReason(err)
	if !ok {
		return err
	}
	switch {
	case containsAny(reason, "invalid claim code", "wrong claim code", "bad claim code"):
		return ErrInvalidClaimCode
	case containsAny(reason, "already claimed"):
		return ErrAlreadyClaimed
	case containsAny(reason, "not claimable", "transfer expired"):
		return ErrNotClaimable
	case containsAny(reason, "not refundable", "not yet expired", "refund before expiry"):
		return ErrNotRefundable
	case containsAny(reason, "all claims taken", "no claims remaining", "drop exhausted"):
		return ErrAllClaimsTaken
	case containsAny(reason, "drop inactive", "drop not active"):
		return ErrDropInactive
	case containsAny(reason, "not creator", "only creator"):
		return ErrNotCreator
	default:
		return err
	}
}

func containsAny(reason string, needles ...string) bool {
	lowered := strings.ToLower(reason)
	for _, needle := range needles {
		if strings.Contains(lowered, needle) {
			return true
		}
	}
	return false
}
