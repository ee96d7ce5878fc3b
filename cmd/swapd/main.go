package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/params"
	"github.com/fundswap/swapd/pkg/api"
	swapcrypto "github.com/fundswap/swapd/pkg/crypto"
	"github.com/fundswap/swapd/pkg/gossip"
	"github.com/fundswap/swapd/pkg/storage"
	"github.com/fundswap/swapd/pkg/swap"
	"github.com/fundswap/swapd/pkg/swap/plugins/fees"
	"github.com/fundswap/swapd/pkg/swap/plugins/whitelist"
	"github.com/fundswap/swapd/pkg/token"
	"github.com/fundswap/swapd/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Owner ----
	// The owner collects fees and administers plugins. Without an
	// OWNER_ADDRESS a throwaway key is generated for development.
	var owner common.Address
	if addr := os.Getenv("OWNER_ADDRESS"); addr != "" {
		if !common.IsHexAddress(addr) {
			sugar.Fatalw("invalid_owner_address", "addr", addr)
		}
		owner = common.HexToAddress(addr)
	} else {
		signer, err := swapcrypto.GenerateKey()
		if err != nil {
			sugar.Fatalw("keygen_failed", "err", err)
		}
		owner = signer.Address()
		sugar.Infow("generated_dev_owner", "address", owner.Hex(),
			"private_key", signer.PrivateKeyHex())
	}

	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		sugar.Fatalw("datadir_failed", "err", err)
	}
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "swapd"))
	if err != nil {
		sugar.Fatalw("storage_init_failed", "err", err)
	}
	defer store.Close()

	// ---- Tokens ----
	tokens := token.NewRegistry()
	if os.Getenv("DEMO_TOKENS") == "true" {
		for _, demo := range [][2]string{{"Wrapped Ether", "WETH"}, {"USD Coin", "USDC"}} {
			t := token.NewStandardToken(demo[0], demo[1], 18, cfg.Chain.ChainID)
			t.Mint(owner, new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil))
			tokens.Register(t)
			sugar.Infow("demo_token", "symbol", demo[1], "address", t.Address().Hex())
		}
	}

	// ---- Settlement core ----
	coreAddr := common.BytesToAddress(swapcrypto.DeriveAddress(
		[]byte("fundswap:core:" + params.ProtocolVersion)))
	core, err := swap.NewCore(swap.CoreOpts{
		ChainID: cfg.Chain.ChainID,
		Self:    coreAddr,
		Owner:   owner,
		Tokens:  tokens,
		Store:   store,
		Log:     logger,
	})
	if err != nil {
		sugar.Fatalw("core_init_failed", "err", err)
	}
	sugar.Infow("core_ready", "chain_id", cfg.Chain.ChainID,
		"escrow", coreAddr.Hex(), "owner", owner.Hex())

	// ---- Plugins ----
	feePlugin := fees.New(owner, core.Events())
	if cfg.Fees.DefaultFeeBps != fees.DefaultFeeBps {
		if err := feePlugin.SetDefaultFeeBps(owner, cfg.Fees.DefaultFeeBps); err != nil {
			sugar.Fatalw("fee_config_invalid", "bps", cfg.Fees.DefaultFeeBps, "err", err)
		}
	}
	if err := core.EnablePlugin(owner, feePlugin, nil); err != nil {
		sugar.Fatalw("fee_plugin_failed", "err", err)
	}

	var wl *whitelist.Plugin
	if os.Getenv("WHITELIST") == "true" {
		wl = whitelist.New(owner, core.Events())
		for _, t := range tokens.All() {
			wl.Add(owner, t.Address())
		}
		if err := core.EnablePlugin(owner, wl, nil); err != nil {
			sugar.Fatalw("whitelist_plugin_failed", "err", err)
		}
	}

	executor := swap.NewBatchExecutor(core, logger)
	sugar.Infow("executor_ready", "address", executor.Address().Hex())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Event journal ----
	journal, err := storage.NewFileJournal(filepath.Join(cfg.Node.DataDir, "events.log"))
	if err != nil {
		sugar.Fatalw("journal_init_failed", "err", err)
	}
	defer journal.Close()
	go func() {
		ch, cancel := core.Events().Subscribe(256)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				journal.Append(ev)
			}
		}
	}()

	// ---- Gossip (optional) ----
	if cfg.Gossip.ListenAddr != "" {
		net, err := gossip.New(ctx, gossip.Config{
			ListenAddr: cfg.Gossip.ListenAddr,
			Bootstrap:  cfg.Gossip.Bootstrap,
			Logger:     sugar,
		}, core)
		if err != nil {
			sugar.Fatalw("gossip_init_failed", "err", err)
		}
		net.SetHandler(func(ev swap.Event) {
			sugar.Infow("remote_event", "type", ev.Type, "hash", ev.OrderHash.Hex())
		})
		go func() {
			ch, cancel := core.Events().Subscribe(256)
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if err := net.Announce(ctx, ev); err != nil {
						sugar.Warnw("announce_failed", "err", err)
					}
				}
			}
		}()
	}

	// ---- API Server ----
	apiServer := api.NewServer(core, executor, feePlugin, wl)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.ListenAddr)
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")
}
