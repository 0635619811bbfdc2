// Package ledger defines the client-side boundary to the escrow programs on
// the ledger. Everything above this package reaches the chain through the
// Client interface: cached reads, non-committing simulations, submissions and
// bounded receipt waits. Implementations decode raw RPC failures into the
// tagged Error variant before returning them.
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Call is a prepared state-changing invocation of a registered program.
type Call struct {
	Target common.Address
	Op     string
	Args   []interface{}
}

// Client is the ledger interface consumed by the read cache, the transaction
// pipeline and the escrow protocol. All methods honour context cancellation;
// once Submit returns a hash the transaction cannot be retracted.
type Client interface {
	// Read performs a view call against target and unpacks the result into out.
	Read(ctx context.Context, target common.Address, op string, args []interface{}, out interface{}) error
	// Simulate dry-runs the call from the given account without committing.
	Simulate(ctx context.Context, target common.Address, op string, args []interface{}, from common.Address) error
	// Submit signs and sends the prepared call, returning the transaction hash.
	Submit(ctx context.Context, call Call) (common.Hash, error)
	// WaitForReceipt polls until the transaction is finalised or the bound
	// expires; expiry surfaces as KindTimeout, a revert as KindReverted.
	WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Wallet supplies the active account. Signing is handled by the ledger
// implementation; session management stays outside this module.
type Wallet interface {
	Address() common.Address
}
