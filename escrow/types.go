// Package escrow implements the client-side protocol for protected transfers
// and drops: creation, claiming and refunding of ledger-resident escrow
// entities. The ledger alone mutates entity status; this package drives the
// submission pipeline and maintains cached projections of the results.
package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the persisted lifecycle state of an escrow entity. Transitions
// are monotone: Pending moves to exactly one of Claimed or Refunded, ever.
type Status uint8

const (
	StatusPending Status = iota
	StatusClaimed
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusClaimed || s == StatusRefunded
}

// DistributionMode selects how a drop splits its balance across claimants.
type DistributionMode uint8

const (
	DistributionFixed DistributionMode = iota
	DistributionRandom
)

func (m DistributionMode) String() string {
	if m == DistributionRandom {
		return "random"
	}
	return "fixed"
}

// Transfer is the cached projection of one protected transfer. The client
// never mutates Status directly; a confirmed claim or refund busts the cache
// and the next read reflects the ledger's state.
type Transfer struct {
	ID common.Hash
	// Sender deposited the escrowed balance.
	Sender common.Address
	// Recipient is nil for an open/link transfer until someone claims it.
	Recipient      *common.Address
	Token          common.Address
	GrossAmount    *big.Int
	NetAmount      *big.Int
	Expiry         int64
	Status         Status
	IsLinkTransfer bool
	HasPassword    bool
	// ClaimCodeHash is meaningful only when HasPassword is set.
	ClaimCodeHash common.Hash
	CreatedAt     int64
}

// Expired reports the virtual expired state: still Pending but past expiry.
// It is never persisted; an expired transfer still needs an explicit refund
// to reach a terminal state.
func (t *Transfer) Expired(now time.Time) bool {
	return t != nil && t.Status == StatusPending && now.Unix() > t.Expiry
}

// DisplayStatus renders the status including the virtual expired state.
func (t *Transfer) DisplayStatus(now time.Time) string {
	if t.Expired(now) {
		return "expired"
	}
	return t.Status.String()
}

// Drop is the cached projection of one multi-recipient distribution.
// RemainingAmount only decreases and ClaimedCount only increases; the deltas
// are observed by re-reading post-confirmation state, never computed here.
type Drop struct {
	ID              common.Hash
	Creator         common.Address
	Token           common.Address
	TotalAmount     *big.Int
	RemainingAmount *big.Int
	ClaimedCount    uint32
	TotalRecipients uint32
	// AmountPerRecipient is zero when the distribution is random.
	AmountPerRecipient *big.Int
	Mode               DistributionMode
	ExpiryTime         int64
	Message            string
	IsActive           bool
}

// Exhausted reports whether every claim slot has been taken.
func (d *Drop) Exhausted() bool {
	return d != nil && d.ClaimedCount >= d.TotalRecipients
}

// Expired reports whether the drop's claim window has closed.
func (d *Drop) Expired(now time.Time) bool {
	return d != nil && now.Unix() > d.ExpiryTime
}

// transferRecord mirrors the getTransfer ABI outputs for unpacking.
type transferRecord struct {
	Sender         common.Address
	Recipient      common.Address
	Token          common.Address
	GrossAmount    *big.Int
	NetAmount      *big.Int
	Expiry         uint64
	Status         uint8
	IsLinkTransfer bool
	HasPassword    bool
	ClaimCodeHash  [32]byte
	CreatedAt      uint64
}

func (r *transferRecord) toTransfer(id common.Hash) *Transfer {
	t := &Transfer{
		ID:             id,
		Sender:         r.Sender,
		Token:          r.Token,
		GrossAmount:    r.GrossAmount,
		NetAmount:      r.NetAmount,
		Expiry:         int64(r.Expiry),
		Status:         Status(r.Status),
		IsLinkTransfer: r.IsLinkTransfer,
		HasPassword:    r.HasPassword,
		ClaimCodeHash:  r.ClaimCodeHash,
		CreatedAt:      int64(r.CreatedAt),
	}
	if r.Recipient != (common.Address{}) {
		recipient := r.Recipient
		t.Recipient = &recipient
	}
	return t
}

// dropRecord mirrors the getDrop ABI outputs.
type dropRecord struct {
	Creator            common.Address
	Token              common.Address
	TotalAmount        *big.Int
	RemainingAmount    *big.Int
	ClaimedCount       uint32
	TotalRecipients    uint32
	AmountPerRecipient *big.Int
	Mode               uint8
	ExpiryTime         uint64
	Message            string
	IsActive           bool
}

func (r *dropRecord) toDrop(id common.Hash) *Drop {
	return &Drop{
		ID:                 id,
		Creator:            r.Creator,
		Token:              r.Token,
		TotalAmount:        r.TotalAmount,
		RemainingAmount:    r.RemainingAmount,
		ClaimedCount:       r.ClaimedCount,
		TotalRecipients:    r.TotalRecipients,
		AmountPerRecipient: r.AmountPerRecipient,
		Mode:               DistributionMode(r.Mode),
		ExpiryTime:         int64(r.ExpiryTime),
		Message:            r.Message,
		IsActive:           r.IsActive,
	}
}
