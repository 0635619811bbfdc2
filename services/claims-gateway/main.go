package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"vaultlink/cache"
	"vaultlink/config"
	"vaultlink/escrow"
	"vaultlink/ledger"
	"vaultlink/observability/logging"
	"vaultlink/pipeline"
	"vaultlink/token"
)

func main() {
	configPath := flag.String("config", "vaultlink.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var rotation *logging.FileRotation
	if cfg.Gateway.LogFile != "" {
		rotation = &logging.FileRotation{Path: cfg.Gateway.LogFile}
	}
	log := logging.Setup("claims-gateway", cfg.Gateway.Environment, rotation)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("gateway terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if !common.IsHexAddress(cfg.Programs.ProtectedTransfer) || !common.IsHexAddress(cfg.Programs.DropPool) {
		return fmt.Errorf("program addresses missing from configuration")
	}

	evm, err := ledger.DialEVM(ctx, ledger.EVMConfig{
		Endpoint:          cfg.Ledger.Endpoint,
		PrivateKeyHex:     cfg.PrivateKey(),
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
	})
	if err != nil {
		return err
	}
	transferProgram := common.HexToAddress(cfg.Programs.ProtectedTransfer)
	dropProgram := common.HexToAddress(cfg.Programs.DropPool)
	if err := evm.RegisterContract(transferProgram, ledger.ProtectedTransferABI); err != nil {
		return err
	}
	if err := evm.RegisterContract(dropProgram, ledger.DropPoolABI); err != nil {
		return err
	}
	tokens := make([]token.Token, 0, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		addr := common.HexToAddress(tc.Address)
		tokens = append(tokens, token.Token{Symbol: tc.Symbol, Address: addr, Decimals: tc.Decimals})
		if err := evm.RegisterContract(addr, ledger.ERC20ABI); err != nil {
			return err
		}
	}
	registry, err := token.NewRegistry(tokens...)
	if err != nil {
		return err
	}

	store, err := pipeline.OpenStore(cfg.Client.OperationStorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := pipeline.NewRunner(evm, pipeline.RunnerConfig{
		Store:          store,
		Metrics:        pipeline.NewMetrics(prometheus.DefaultRegisterer),
		Logger:         log,
		ConfirmTimeout: time.Duration(cfg.Ledger.ConfirmTimeoutSeconds) * time.Second,
	})
	readCache := cache.NewReadCache(time.Duration(cfg.Client.CacheTTLSeconds) * time.Second)
	bus := cache.NewBus(time.Second)
	defer bus.Close()

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
		Logger:          log,
	})
	if err != nil {
		return err
	}

	auth := NewAuthenticator(os.Getenv(cfg.Gateway.JWTSecretEnv))
	server := NewServer(svc, auth, log, prometheus.DefaultRegisterer)

	httpServer := &http.Server{
		Addr:              cfg.Gateway.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", "addr", cfg.Gateway.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
