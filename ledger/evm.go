package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const receiptPollInterval = 2 * time.Second

// EVMConfig configures the go-ethereum backed ledger client.
type EVMConfig struct {
	Endpoint      string
	PrivateKeyHex string
	// RequestsPerSecond bounds the RPC call rate; zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
}

// EVMClient implements Client against an EVM JSON-RPC endpoint. Programs are
// registered up front with their ABI; reads and simulations go through
// eth_call, submissions through a keyed transactor.
type EVMClient struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	limiter *rate.Limiter

	mu        sync.RWMutex
	abis      map[common.Address]abi.ABI
	contracts map[common.Address]*bind.BoundContract
}

// DialEVM connects to the endpoint with an instrumented HTTP transport and
// prepares the signing key. The private key is required for Submit; read-only
// use may pass an empty key.
func DialEVM(ctx context.Context, cfg EVMConfig) (*EVMClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint required")
	}
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	rpcClient, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	client := &EVMClient{
		eth:       eth,
		chainID:   chainID,
		abis:      make(map[common.Address]abi.ABI),
		contracts: make(map[common.Address]*bind.BoundContract),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if keyHex := strings.TrimSpace(cfg.PrivateKeyHex); keyHex != "" {
		key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		client.key = key
		client.from = gethcrypto.PubkeyToAddress(key.PublicKey)
	}
	return client, nil
}

// Address returns the active signing account; zero when read-only.
func (c *EVMClient) Address() common.Address { return c.from }

// RegisterContract binds a program address to its ABI so Read, Simulate and
// Submit can pack calls against it.
func (c *EVMClient) RegisterContract(addr common.Address, abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("parse abi for %s: %w", addr.Hex(), err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abis[addr] = parsed
	c.contracts[addr] = bind.NewBoundContract(addr, parsed, c.eth, c.eth, c.eth)
	return nil
}

func (c *EVMClient) contractFor(target common.Address) (abi.ABI, *bind.BoundContract, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parsed, ok := c.abis[target]
	if !ok {
		return abi.ABI{}, nil, fmt.Errorf("no abi registered for %s", target.Hex())
	}
	return parsed, c.contracts[target], nil
}

func (c *EVMClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Read performs a view call and unpacks the result into out.
func (c *EVMClient) Read(ctx context.Context, target common.Address, op string, args []interface{}, out interface{}) error {
	parsed, _, err := c.contractFor(target)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return Decode(err)
	}
	input, err := parsed.Pack(op, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", op, err)
	}
	data, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &target, Data: input}, nil)
	if err != nil {
		return Decode(err)
	}
	if out == nil {
		return nil
	}
	if err := parsed.UnpackIntoInterface(out, op, data); err != nil {
		return fmt.Errorf("unpack %s: %w", op, err)
	}
	return nil
}

// Simulate dry-runs the call from the given account. A nil error means the
// call would succeed if submitted now; failure classification mirrors Submit.
func (c *EVMClient) Simulate(ctx context.Context, target common.Address, op string, args []interface{}, from common.Address) error {
	parsed, _, err := c.contractFor(target)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return Decode(err)
	}
	input, err := parsed.Pack(op, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", op, err)
	}
	_, err = c.eth.CallContract(ctx, ethereum.CallMsg{From: from, To: &target, Data: input}, nil)
	if err != nil {
		return Decode(err)
	}
	return nil
}

// Submit signs and sends the prepared call.
func (c *EVMClient) Submit(ctx context.Context, call Call) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("ledger client is read-only")
	}
	_, contract, err := c.contractFor(call.Target)
	if err != nil {
		return common.Hash{}, err
	}
	if err := c.wait(ctx); err != nil {
		return common.Hash{}, Decode(err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	tx, err := contract.Transact(opts, call.Op, call.Args...)
	if err != nil {
		return common.Hash{}, Decode(err)
	}
	return tx.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined or the bound expires.
// Expiry is reported as KindTimeout so callers can distinguish "still
// pending" from a revert; the submission itself cannot be retracted.
func (c *EVMClient) WaitForReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, &Error{Kind: KindReverted, Reason: "transaction reverted"}
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &Error{Kind: KindTimeout, Reason: "confirmation window elapsed", cause: err}
			}
			return nil, Decode(err)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &Error{Kind: KindTimeout, Reason: "confirmation window elapsed", cause: ctx.Err()}
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
