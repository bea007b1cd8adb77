package main

import (
	"context"
	"os"

	"github.com/DaveHalls/nft-dark-forest/contracts"
	"github.com/DaveHalls/nft-dark-forest/env"
	"github.com/DaveHalls/nft-dark-forest/service/assets"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/operation"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/service/reconcile"
	"github.com/DaveHalls/nft-dark-forest/service/rpc"
	"github.com/DaveHalls/nft-dark-forest/service/snapshot"
	"github.com/DaveHalls/nft-dark-forest/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "darkforest",
		Short: "Dark Forest chain-state watcher",
	}
	root.AddCommand(watchCmd(), assetsCmd(), battlesCmd(), trainingsCmd(), clearCacheCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired component graph shared by every command.
type app struct {
	pool       *rpc.Pool
	store      *snapshot.Store
	scope      snapshot.Scope
	contract   *contracts.DarkForest
	loader     *assets.Loader
	reconciler *reconcile.Reconciler
	tracker    *operation.Tracker
	clock      *operation.ChainClock
	poller     *operation.Poller
}

func newApp(ctx context.Context) (*app, error) {
	env.SetDefault("CHAIN_ID", int64(persist.ChainSepolia))
	if err := env.ValidateEnv(); err != nil {
		return nil, err
	}
	logger.SetLoggerOptions(func(l *logrus.Logger) {
		l.SetFormatter(&logrus.JSONFormatter{})
	})

	pool, err := rpc.NewPoolFromEnv()
	if err != nil {
		return nil, err
	}
	var backend snapshot.Backend
	if redis := snapshot.NewRedisBackend(); redis != nil {
		backend = redis
	}
	store := snapshot.NewStore(backend)

	account := persist.EthereumAddress(env.GetString("ACCOUNT_ADDRESS"))
	contractAddr := persist.EthereumAddress(env.GetString("CONTRACT_ADDRESS"))
	scope := snapshot.Scope{
		ChainID:  env.GetInt64("CHAIN_ID"),
		Account:  account,
		Contract: contractAddr,
	}

	contract := contracts.NewDarkForest(contractAddr, pool)
	loader := assets.NewLoaderFromEnv(contract, pool, store, scope, contracts.TransferTopic)
	reconciler := reconcile.New(contract, rpc.NewChunkedFetcher(pool), pool, store, scope, contractAddr.Address())
	tracker := operation.NewTracker(operation.LogNotifier{})
	clock := operation.NewChainClock(pool)
	poller := operation.NewPoller(tracker, contract, clock)

	return &app{
		pool:       pool,
		store:      store,
		scope:      scope,
		contract:   contract,
		loader:     loader,
		reconciler: reconciler,
		tracker:    tracker,
		clock:      clock,
		poller:     poller,
	}, nil
}

func (a *app) ownedTokenIDs(ctx context.Context) ([]persist.TokenID, error) {
	owned, err := a.loader.OwnedAssets(ctx)
	if err != nil {
		return nil, err
	}
	return util.Map(owned, func(a persist.Asset) persist.TokenID { return a.TokenID }), nil
}
