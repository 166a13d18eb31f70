package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pisa-watch/pisa/internal/block"
	"github.com/pisa-watch/pisa/internal/blockcache"
	"github.com/pisa-watch/pisa/internal/blockprocessor"
	"github.com/pisa-watch/pisa/internal/confirmation"
	jsonrpcclient "github.com/pisa-watch/pisa/internal/infra/blockchain/jsonrpc"
	"github.com/pisa-watch/pisa/internal/infra/blockchain/jsonrpc/ethereum"
	"github.com/pisa-watch/pisa/internal/infra/signer/httpsigner"
	redisstore "github.com/pisa-watch/pisa/internal/infra/storage/redis"
	"github.com/pisa-watch/pisa/internal/handlers/cli"
	"github.com/pisa-watch/pisa/internal/pkg/logger"
	"github.com/pisa-watch/pisa/internal/pkg/resilience/retry"
	"github.com/pisa-watch/pisa/internal/pkg/telemetry"
	"github.com/pisa-watch/pisa/internal/pipeline"
	"github.com/pisa-watch/pisa/internal/responder/multiresponder"
)

const (
	namespaceBlockProcessorHead = "block-processor"
	namespaceResponderJournal   = "responder"
)

func main() {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pisa: load config:", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		fmt.Fprintln(os.Stderr, "pisa: init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTELServiceName)
	if err != nil {
		logger.Fatal(ctx, "pisa: init telemetry", "error", err)
	}
	defer shutdownTelemetry(ctx)

	svc, closeStore, err := build(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "pisa: build pipeline", "error", err)
	}
	defer closeStore()

	if err := cli.Run(ctx, svc); err != nil {
		logger.Error(ctx, "pisa: exited with error", "error", err)
		os.Exit(1)
	}
}

// build wires the Block Item Store, Block Cache, Block Processor, the
// Ethereum JSON-RPC provider, the external Signer, the Multi-Responder, and
// the Confirmation Observer into one pipeline.Service, rehydrating the
// Block Cache from its last snapshot if one exists (blockcache.Restore)
// instead of starting the retained window empty on every restart.
func build(ctx context.Context, cfg config) (pipeline.Service, func() error, error) {
	store, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	cache, err := blockcache.Restore[block.Full](ctx, store, namespaceBlockProcessorHead)
	if err != nil {
		return nil, nil, fmt.Errorf("restore block cache: %w", err)
	}
	if cache == nil {
		cache = blockcache.New[block.Full](cfg.MaxBlockDepth)
	}

	conn := jsonrpcclient.NewClient(cfg.ProviderEndpoint, jsonrpcclient.WithTimeout(cfg.RPCTimeout))
	provider := ethereum.NewClient(conn)

	processor := blockprocessor.New(provider, cache, store, namespaceBlockProcessorHead,
		blockprocessor.WithRetry(retry.New()))

	signer := httpsigner.New(cfg.SignerEndpoint, cfg.SignerAddress)
	journal := multiresponder.NewJournal(store, namespaceResponderJournal)
	responder := multiresponder.New(signer, provider, journal,
		multiresponder.WithGasFloor(cfg.GasFloor),
		multiresponder.WithBumpPolicy(multiresponder.BumpPolicy{Factor: cfg.GasBumpFactor, Max: cfg.GasBumpMax}),
		multiresponder.WithStuckNotifier(func(identifier string) {
			logger.Error(ctx, "pisa: response stuck at gas price cap", "identifier", identifier)
		}),
	)

	observer := confirmation.New(cache)

	svc := pipeline.New(store, cache, processor, responder, observer, cfg.SignerAddress)
	return svc, store.Close, nil
}
