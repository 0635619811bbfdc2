package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vaultlink/cache"
	"vaultlink/claimcode"
	"vaultlink/ledger"
	"vaultlink/pipeline"
	"vaultlink/token"
)

// Bus domains published after confirmed mutations.
const (
	DomainTransfers = "transfers"
	DomainDrops     = "drops"
	DomainBalances  = "balances"
)

var (
	transferCreatedSig = gethcrypto.Keccak256Hash([]byte("TransferCreated(bytes32,address,address,uint256)"))
	dropCreatedSig     = gethcrypto.Keccak256Hash([]byte("DropCreated(bytes32,address,address,uint256)"))
)

// Config wires the service's collaborators. Ledger, Wallet, Runner, Cache,
// Bus and Tokens are required.
type Config struct {
	Ledger          ledger.Client
	Wallet          ledger.Wallet
	Runner          *pipeline.Runner
	Cache           *cache.ReadCache
	Bus             *cache.Bus
	Tokens          *token.Registry
	TransferProgram common.Address
	DropProgram     common.Address
	// LinkOrigin is the web origin claim links are built against.
	LinkOrigin string
	Logger     *slog.Logger
}

// Service composes the pipeline, cache and bus into the escrow protocol:
// create, claim and refund for protected transfers and drops.
type Service struct {
	ledger          ledger.Client
	wallet          ledger.Wallet
	runner          *pipeline.Runner
	cache           *cache.ReadCache
	bus             *cache.Bus
	tokens          *token.Registry
	transferProgram common.Address
	dropProgram     common.Address
	linkOrigin      string
	log             *slog.Logger
	now             func() time.Time
}

// NewService validates the configuration and builds the protocol service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Ledger == nil:
		return nil, fmt.Errorf("ledger client required")
	case cfg.Wallet == nil:
		return nil, fmt.Errorf("wallet required")
	case cfg.Runner == nil:
		return nil, fmt.Errorf("pipeline runner required")
	case cfg.Cache == nil:
		return nil, fmt.Errorf("read cache required")
	case cfg.Bus == nil:
		return nil, fmt.Errorf("subscription bus required")
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("token registry required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:          cfg.Ledger,
		wallet:          cfg.Wallet,
		runner:          cfg.Runner,
		cache:           cfg.Cache,
		bus:             cfg.Bus,
		tokens:          cfg.Tokens,
		transferProgram: cfg.TransferProgram,
		dropProgram:     cfg.DropProgram,
		linkOrigin:      strings.TrimSpace(cfg.LinkOrigin),
		log:             logger,
		now:             time.Now,
	}, nil
}

// CreateParams describes a protected transfer to create. A nil Recipient
// makes it an open link transfer, claimable by whoever holds the link (and
// the claim code, when one is set).
type CreateParams struct {
	Recipient   *common.Address
	Token       string
	Amount      string
	Expiry      time.Time
	HasPassword bool
	// Secret is the chosen claim code; left empty with HasPassword set, one
	// is generated.
	Secret string
}

// CreateResult reports a confirmed creation. Secret is populated only when a
// claim code gates the transfer; it never appears in Link.
type CreateResult struct {
	ID         common.Hash
	Provenance pipeline.Provenance
	Secret     string
	Link       string
	TxHash     common.Hash
	Operation  *pipeline.Operation
}

// CreateDirect escrows the amount for the recipient (or for a link when the
// recipient is nil) by running the full pipeline: allowance check, approval
// when short, simulation, submission, confirmation and id extraction.
func (s *Service) CreateDirect(ctx context.Context, p CreateParams) (*CreateResult, error) {
	tok, err := s.tokens.Lookup(p.Token)
	if err != nil {
		return nil, err
	}
	amount, err := tok.Parse(p.Amount)
	if err != nil {
		return nil, err
	}
	if !p.Expiry.After(s.now()) {
		return nil, fmt.Errorf("expiry must be in the future")
	}

	secret := ""
	var codeHash [32]byte
	if p.HasPassword {
		secret = claimcode.Normalize(p.Secret)
		if secret == "" {
			secret, err = claimcode.Generate(claimcode.DefaultLength)
			if err != nil {
				return nil, err
			}
		}
		codeHash = claimcode.Commit(secret)
	}

	recipient := common.Address{}
	isLink := p.Recipient == nil
	if !isLink {
		recipient = *p.Recipient
	}

	from := s.wallet.Address()
	plan := pipeline.Plan{
		Key:  "create:" + from.Hex(),
		Kind: pipeline.KindCreate,
		From: from,
		Call: ledger.Call{
			Target: s.transferProgram,
			Op:     "createTransfer",
			Args: []interface{}{
				recipient, tok.Address, amount, uint64(p.Expiry.Unix()),
				p.HasPassword, codeHash,
			},
		},
		Allowance: &pipeline.AllowancePlan{
			Token:   tok.Address,
			Owner:   from,
			Spender: s.transferProgram,
			Amount:  amount,
		},
		Extract: &pipeline.ExtractPlan{Program: s.transferProgram, EventSig: transferCreatedSig},
	}
	res, err := s.runner.Run(ctx, plan)
	if err != nil {
		return nil, protocolError(err)
	}

	s.cache.InvalidatePrefix(cache.Key(tok.Address.Hex(), "balanceOf"))
	s.bus.Publish(DomainTransfers, res.ID.ID)
	s.bus.Publish(DomainBalances, nil)

	out := &CreateResult{
		ID:         res.ID.ID,
		Provenance: res.ID.Provenance,
		TxHash:     res.TxHash,
		Operation:  res.Operation,
	}
	if p.HasPassword {
		out.Secret = secret
	}
	if isLink {
		out.Link = claimcode.ClaimLink(s.linkOrigin, res.ID.ID)
	}
	return out, nil
}

// CreateLinkTransfer creates an open transfer with no recipient bound; the
// result carries the shareable link (id only; the claim code, when any,
// travels out-of-band).
func (s *Service) CreateLinkTransfer(ctx context.Context, tokenSymbol, amount string, expiry time.Time, hasPassword bool, secret string) (*CreateResult, error) {
	return s.CreateDirect(ctx, CreateParams{
		Token:       tokenSymbol,
		Amount:      amount,
		Expiry:      expiry,
		HasPassword: hasPassword,
		Secret:      secret,
	})
}

// MutationResult reports a confirmed claim or refund plus the re-read
// projection of the entity.
type MutationResult struct {
	TxHash    common.Hash
	Operation *pipeline.Operation
}

// Claim releases a pending transfer to the caller. The current projection is
// read first: when a claim code is required and none was supplied the claim
// halts with ErrPasswordRequired before anything is submitted. The supplied
// code is normalised exactly as at creation time.
func (s *Service) Claim(ctx context.Context, id common.Hash, suppliedSecret string) (*MutationResult, error) {
	t, err := s.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case StatusClaimed:
		return nil, ErrAlreadyClaimed
	case StatusRefunded:
		return nil, ErrNotClaimable
	}
	code := ""
	if t.HasPassword {
		code = claimcode.Normalize(suppliedSecret)
		if code == "" {
			return nil, ErrPasswordRequired
		}
	}

	plan := pipeline.Plan{
		Key:  "claim:" + id.Hex(),
		Kind: pipeline.KindClaim,
		From: s.wallet.Address(),
		Call: ledger.Call{
			Target: s.transferProgram,
			Op:     "claimTransfer",
			Args:   []interface{}{[32]byte(id), code},
		},
	}
	res, err := s.runner.Run(ctx, plan)
	if err != nil {
		return nil, protocolError(err)
	}
	s.afterTransferMutation(id)
	return &MutationResult{TxHash: res.TxHash, Operation: res.Operation}, nil
}

// Refund returns an expired, still-pending transfer to its sender. An
// expired transfer is a virtual state: it stays Pending until this explicit
// refund confirms.
func (s *Service) Refund(ctx context.Context, id common.Hash) (*MutationResult, error) {
	t, err := s.GetTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, ErrNotRefundable
	}
	if !t.Expired(s.now()) {
		return nil, ErrNotRefundable
	}

	plan := pipeline.Plan{
		Key:  "refund:" + id.Hex(),
		Kind: pipeline.KindRefund,
		From: s.wallet.Address(),
		Call: ledger.Call{
			Target: s.transferProgram,
			Op:     "refundTransfer",
			Args:   []interface{}{[32]byte(id)},
		},
	}
	res, err := s.runner.Run(ctx, plan)
	if err != nil {
		return nil, protocolError(err)
	}
	s.afterTransferMutation(id)
	return &MutationResult{TxHash: res.TxHash, Operation: res.Operation}, nil
}

// GetTransfer returns the cached projection of the transfer, reading through
// to the ledger when stale. Concurrent reads of one id share a single fetch.
func (s *Service) GetTransfer(ctx context.Context, id common.Hash) (*Transfer, error) {
	key := cache.Key(s.transferProgram.Hex(), "getTransfer", id.Hex())
	v, err := s.cache.Get(ctx, key, func(ctx context.Context) (interface{}, error) {
		record := new(transferRecord)
		err := s.ledger.Read(ctx, s.transferProgram, "getTransfer",
			[]interface{}{[32]byte(id)}, record)
		if err != nil {
			return nil, err
		}
		return record.toTransfer(id), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Transfer), nil
}

func (s *Service) afterTransferMutation(id common.Hash) {
	s.cache.Invalidate(cache.Key(s.transferProgram.Hex(), "getTransfer", id.Hex()))
	s.bus.Publish(DomainTransfers, id)
	s.bus.Publish(DomainBalances, nil)
}

// DropParams describes a multi-recipient distribution to create.
type DropParams struct {
	Token          string
	TotalAmount    string
	RecipientCount uint32
	Mode           DistributionMode
	ExpiryHours    int
	Message        string
}

// DropResult reports a confirmed drop creation.
type DropResult struct {
	ID         common.Hash
	Provenance pipeline.Provenance
	Link       string
	TxHash     common.Hash
	Operation  *pipeline.Operation
}

// CreateDrop escrows the total amount for distribution across the recipient
// count, fixed or randomised per claim.
func (s *Service) CreateDrop(ctx context.Context, p DropParams) (*DropResult, error) {
	tok, err := s.tokens.Lookup(p.Token)
	if err != nil {
		return nil, err
	}
	amount, err := tok.Parse(p.TotalAmount)
	if err != nil {
		return nil, err
	}
	if p.RecipientCount == 0 {
		return nil, fmt.Errorf("recipient count must be positive")
	}
	if p.ExpiryHours <= 0 {
		return nil, fmt.Errorf("expiry hours must be positive")
	}
	expiry := s.now().Add(time.Duration(p.ExpiryHours) * time.Hour)

	from := s.wallet.Address()
	plan := pipeline.Plan{
		Key:  "create-drop:" + from.Hex(),
		Kind: pipeline.KindCreate,
		From: from,
		Call: ledger.Call{
			Target: s.dropProgram,
			Op:     "createDrop",
			Args: []interface{}{
				tok.Address, amount, p.RecipientCount, uint8(p.Mode),
				uint64(expiry.Unix()), p.Message,
			},
		},
		Allowance: &pipeline.AllowancePlan{
			Token:   tok.Address,
			Owner:   from,
			Spender: s.dropProgram,
			Amount:  amount,
		},
		Extract: &pipeline.ExtractPlan{Program: s.dropProgram, EventSig: dropCreatedSig},
	}
	res, err := s.runner.Run(ctx, plan)
	if err != nil {
		return nil, protocolError(err)
	}

	s.cache.InvalidatePrefix(cache.Key(tok.Address.Hex(), "balanceOf"))
	s.bus.Publish(DomainDrops, res.ID.ID)
	s.bus.Publish(DomainBalances, nil)

	return &DropResult{
		ID:         res.ID.ID,
		Provenance: res.ID.Provenance,
		Link:       claimcode.ClaimLink(s.linkOrigin, res.ID.ID),
		TxHash:     res.TxHash,
		Operation:  res.Operation,
	}, nil
}

// ClaimDrop performs one recipient's claim. The claimed amount and remaining
// balance are observed by re-reading the drop after confirmation, never
// computed client-side; the refreshed projection is returned.
func (s *Service) ClaimDrop(ctx context.Context, id common.Hash) (*Drop, *MutationResult, error) {
	d, err := s.GetDrop(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !d.IsActive {
		return nil, nil, ErrDropInactive
	}
	if d.Exhausted() {
		return nil, nil, ErrAllClaimsTaken
	}

	plan := pipeline.Plan{
		Key:  "claim-drop:" + id.Hex() + ":" + s.wallet.Address().Hex(),
		Kind: pipeline.KindClaim,
		From: s.wallet.Address(),
		Call: ledger.Call{
			Target: s.dropProgram,
			Op:     "claimDrop",
			Args:   []interface{}{[32]byte(id)},
		},
	}
	res, err := s.runner.Run(ctx, plan)
	if err != nil {
		return nil, nil, protocolError(err)
	}

	s.cache.Invalidate(cache.Key(s.dropProgram.Hex(), "getDrop", id.Hex()))
	s.bus.Publish(DomainDrops, id)
	s.bus.Publish(DomainBalances, nil)

	refreshed, err := s.GetDrop(ctx, id)
	if err != nil {
		return nil, &MutationResult{TxHash: res.TxHash, Operation: res.Operation}, err
	}
	return refreshed, &MutationResult{TxHash: res.TxHash, Operation: res.Operation}, nil
}

// RefundDrop returns the unclaimed remainder to the creator after expiry.
func (s *Service) RefundDrop(ctx context.Context, id common.Hash) (*MutationResult, error) {
	d, err := s.GetDrop(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Creator != s.wallet.Address() {
		return nil, ErrNotCreator
	}
	if !d.Expired(s.now()) {
		return nil, ErrNotRefundable
	}

	plan := pipeline.Plan{
		Key:  "refund-drop:" + id.Hex(),
		Kind: pipeline.KindRefund,
		From: s.wallet.Address(),
		Call: ledger.Call{
			Target: s.dropProgram,
			Op:     "refundDrop",
			Args:   []interface{}{[32]byte(id)},
		},
	}
	res, err := s.runner.Run(ctx, plan)
	if err != nil {
		return nil, protocolError(err)
	}
	s.cache.Invalidate(cache.Key(s.dropProgram.Hex(), "getDrop", id.Hex()))
	s.bus.Publish(DomainDrops, id)
	s.bus.Publish(DomainBalances, nil)
	return &MutationResult{TxHash: res.TxHash, Operation: res.Operation}, nil
}

// GetDrop returns the cached projection of the drop.
func (s *Service) GetDrop(ctx context.Context, id common.Hash) (*Drop, error) {
	key := cache.Key(s.dropProgram.Hex(), "getDrop", id.Hex())
	v, err := s.cache.Get(ctx, key, func(ctx context.Context) (interface{}, error) {
		record := new(dropRecord)
		err := s.ledger.Read(ctx, s.dropProgram, "getDrop",
			[]interface{}{[32]byte(id)}, record)
		if err != nil {
			return nil, err
		}
		return record.toDrop(id), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Drop), nil
}

// Tokens exposes the registry for callers that format amounts.
func (s *Service) Tokens() *token.Registry { return s.tokens }

// TransferLink rebuilds the shareable link for an existing entity.
func (s *Service) TransferLink(id common.Hash) string {
	return claimcode.ClaimLink(s.linkOrigin, id)
}
