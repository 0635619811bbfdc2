package escrow

import (
	"errors"
	"testing"

	"vaultlink/ledger"
)

func TestProtocolErrorMapsRevertReasons(t *testing.T) {
	cases := []struct {
		reason string
		want   error
	}{
		{"invalid claim code", ErrInvalidClaimCode},
		{"Transfer Already Claimed", ErrAlreadyClaimed},
		{"transfer not claimable", ErrNotClaimable},
		{"refund before expiry", ErrNotRefundable},
		{"all claims taken", ErrAllClaimsTaken},
		{"drop inactive", ErrDropInactive},
		{"only creator may refund", ErrNotCreator},
	}
	for _, tc := range cases {
		got := protocolError(ledger.NewError(ledger.KindReverted, tc.reason))
		if !errors.Is(got, tc.want) {
			t.Fatalf("reason %q mapped to %v, want %v", tc.reason, got, tc.want)
		}
	}
}

func TestProtocolErrorPassesThroughOtherKinds(t *testing.T) {
	timeout := ledger.NewError(ledger.KindTimeout, "confirmation window elapsed")
	if got := protocolError(timeout); ledger.Classify(got) != ledger.KindTimeout {
		t.Fatalf("timeout kind lost: %v", got)
	}

	unknownRevert := ledger.NewError(ledger.KindReverted, "arithmetic underflow")
	got := protocolError(unknownRevert)
	if reason, ok := ledger.RevertReason(got); !ok || reason != "arithmetic underflow" {
		t.Fatalf("unrecognised revert rewritten: %v", got)
	}

	if protocolError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
