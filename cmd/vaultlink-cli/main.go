package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vaultlink/cache"
	"vaultlink/config"
	"vaultlink/escrow"
	"vaultlink/ledger"
	"vaultlink/pipeline"
	"vaultlink/token"
)

var (
	configPath  = defaultConfigPath()
	rpcOverride = ""
)

func defaultConfigPath() string {
	if v := os.Getenv("VAULTLINK_CONFIG"); v != "" {
		return v
	}
	return "vaultlink.toml"
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	switch args[0] {
	case "transfer":
		os.Exit(runTransferCommand(args[1:], os.Stdout, os.Stderr))
	case "drop":
		os.Exit(runDropCommand(args[1:], os.Stdout, os.Stderr))
	case "code":
		os.Exit(runCodeCommand(args[1:], os.Stdout, os.Stderr))
	case "ops":
		os.Exit(runOpsCommand(args[1:], os.Stdout, os.Stderr))
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := args[:0:0]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--config requires a path")
			}
			i++
			configPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a url")
			}
			i++
			rpcOverride = args[i]
		case strings.HasPrefix(args[i], "--rpc="):
			rpcOverride = strings.TrimPrefix(args[i], "--rpc=")
		default:
			out = append(out, args[i])
		}
	}
	return out, nil
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, `Usage: vaultlink-cli [--config <path>] [--rpc <url>] <command>

Commands:
  transfer create|claim|refund|get|link   protected transfers
  drop     create|claim|refund|get        multi-recipient drops
  code     generate                       claim code utilities
  ops      pending                        interrupted operation sagas`)
}

// cliEnv holds the wired collaborators for one command invocation.
type cliEnv struct {
	svc     *escrow.Service
	store   *pipeline.Store
	tokens  *token.Registry
	cleanup func()
}

// buildEnv is replaced in tests.
var buildEnv = buildFromConfig

func buildFromConfig(ctx context.Context) (*cliEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if rpcOverride != "" {
		cfg.Ledger.Endpoint = rpcOverride
	}
	if !common.IsHexAddress(cfg.Programs.ProtectedTransfer) || !common.IsHexAddress(cfg.Programs.DropPool) {
		return nil, fmt.Errorf("program addresses missing; set [programs] in %s", configPath)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	evm, err := ledger.DialEVM(ctx, ledger.EVMConfig{
		Endpoint:          cfg.Ledger.Endpoint,
		PrivateKeyHex:     cfg.PrivateKey(),
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
	})
	if err != nil {
		return nil, err
	}
	transferProgram := common.HexToAddress(cfg.Programs.ProtectedTransfer)
	dropProgram := common.HexToAddress(cfg.Programs.DropPool)
	if err := evm.RegisterContract(transferProgram, ledger.ProtectedTransferABI); err != nil {
		return nil, err
	}
	if err := evm.RegisterContract(dropProgram, ledger.DropPoolABI); err != nil {
		return nil, err
	}

	tokens := make([]token.Token, 0, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		addr := common.HexToAddress(tc.Address)
		tokens = append(tokens, token.Token{Symbol: tc.Symbol, Address: addr, Decimals: tc.Decimals})
		if err := evm.RegisterContract(addr, ledger.ERC20ABI); err != nil {
			return nil, err
		}
	}
	registry, err := token.NewRegistry(tokens...)
	if err != nil {
		return nil, err
	}

	store, err := pipeline.OpenStore(cfg.Client.OperationStorePath)
	if err != nil {
		return nil, err
	}
	runner := pipeline.NewRunner(evm, pipeline.RunnerConfig{
		Store:          store,
		Logger:         logger,
		ConfirmTimeout: time.Duration(cfg.Ledger.ConfirmTimeoutSeconds) * time.Second,
	})
	readCache := cache.NewReadCache(time.Duration(cfg.Client.CacheTTLSeconds) * time.Second)
	bus := cache.NewBus(time.Second)

	svc, err := escrow.NewService(escrow.Config{
		Ledger:          evm,
		Wallet:          evm,
		Runner:          runner,
		Cache:           readCache,
		Bus:             bus,
		Tokens:          registry,
		TransferProgram: transferProgram,
		DropProgram:     dropProgram,
		LinkOrigin:      cfg.Client.LinkOrigin,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		bus.Close()
		store.Close()
	}
	return &cliEnv{svc: svc, store: store, tokens: registry, cleanup: cleanup}, nil
}
