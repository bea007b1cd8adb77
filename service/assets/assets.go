// Package assets loads the connected account's hero NFTs and their per-token state.
package assets

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/DaveHalls/nft-dark-forest/env"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/service/rpc"
	"github.com/DaveHalls/nft-dark-forest/service/snapshot"
	"github.com/DaveHalls/nft-dark-forest/util"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gammazero/workerpool"
)

func init() {
	env.RegisterValidation("CONTRACT_ADDRESS", "required")
	env.RegisterValidation("ACCOUNT_ADDRESS", "required")
}

const (
	// ownershipScanWindow bounds how far back the transfer-log fallback looks when the
	// direct ownership query is unavailable.
	ownershipScanWindow = 100_000

	detailWorkers = 3

	assetsTTL = 12 * time.Hour
)

// ChainReader is the slice of the game contract the loader reads from.
type ChainReader interface {
	OwnedTokens(ctx context.Context, owner persist.EthereumAddress) ([]persist.TokenID, error)
	ClassOf(ctx context.Context, tokenID persist.TokenID) (persist.HeroClass, error)
	BattleRecordOf(ctx context.Context, tokenID persist.TokenID) (persist.BattleRecord, error)
	UpgradeStateOf(ctx context.Context, tokenID persist.TokenID) (persist.UpgradeState, error)
}

// LogFetcher fetches historical logs over a block range.
type LogFetcher interface {
	FetchLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// HeadReader reports the current chain head.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Loader resolves the set of owned tokens and hydrates each into an Asset.
type Loader struct {
	chain         ChainReader
	logs          LogFetcher
	head          HeadReader
	store         *snapshot.Store
	scope         snapshot.Scope
	contract      common.Address
	transferTopic common.Hash
	account       persist.EthereumAddress
}

// NewLoader returns a loader over the given contract reader and log fetcher.
func NewLoader(chain ChainReader, logs LogFetcher, head HeadReader, store *snapshot.Store, scope snapshot.Scope, contract common.Address, transferTopic common.Hash, account persist.EthereumAddress) *Loader {
	return &Loader{
		chain:         chain,
		logs:          logs,
		head:          head,
		store:         store,
		scope:         scope,
		contract:      contract,
		transferTopic: transferTopic,
		account:       account,
	}
}

// NewLoaderFromEnv wires a loader from CONTRACT_ADDRESS and ACCOUNT_ADDRESS.
func NewLoaderFromEnv(chain ChainReader, pool *rpc.Pool, store *snapshot.Store, scope snapshot.Scope, transferTopic common.Hash) *Loader {
	contract := persist.EthereumAddress(env.GetString("CONTRACT_ADDRESS"))
	account := persist.EthereumAddress(env.GetString("ACCOUNT_ADDRESS"))
	return NewLoader(chain, rpc.NewChunkedFetcher(pool), pool, store, scope, contract.Address(), transferTopic, account)
}

// OwnedAssets returns the account's hero NFTs with per-token state hydrated. Tokens
// whose detail reads report them nonexistent are dropped silently; other per-token
// failures are logged and the token omitted, never failing the whole load.
func (l *Loader) OwnedAssets(ctx context.Context) ([]persist.Asset, error) {
	defer util.Track("load owned assets", time.Now())

	ids, err := l.ownedTokenIDs(ctx)
	if err != nil {
		return nil, err
	}
	assets := l.hydrate(ctx, ids)

	if l.store != nil {
		if err := l.store.Set(ctx, l.scope.Key("assets"), assets, assetsTTL); err != nil {
			logger.For(ctx).WithError(err).Warn("failed to snapshot assets")
		}
	}
	return assets, nil
}

// CachedAssets returns the last snapshotted asset list, if one exists.
func (l *Loader) CachedAssets(ctx context.Context) ([]persist.Asset, bool) {
	if l.store == nil {
		return nil, false
	}
	var cached []persist.Asset
	ok, err := l.store.Get(ctx, l.scope.Key("assets"), &cached)
	if err != nil || !ok {
		return nil, false
	}
	return cached, true
}

// AssetDetails loads one token's class and record regardless of owner, used to show
// the other side of a battle. rpc.IsNoSuchToken distinguishes a token that does not
// exist from a real failure.
func (l *Loader) AssetDetails(ctx context.Context, id persist.TokenID) (persist.Asset, error) {
	class, err := l.chain.ClassOf(ctx, id)
	if err != nil {
		return persist.Asset{}, err
	}
	record, err := l.chain.BattleRecordOf(ctx, id)
	if err != nil {
		return persist.Asset{}, err
	}
	return persist.Asset{
		TokenID:       id,
		Class:         class,
		ClassName:     class.Name(),
		ImageURL:      class.ImageURL(),
		Wins:          record.Wins,
		Losses:        record.Losses,
		CooldownUntil: record.CooldownUntil,
	}, nil
}

func (l *Loader) ownedTokenIDs(ctx context.Context) ([]persist.TokenID, error) {
	ids, err := l.chain.OwnedTokens(ctx, l.account)
	if err == nil {
		return ids, nil
	}
	logger.For(ctx).WithError(err).Warn("direct ownership query failed, reconstructing from transfer logs")
	return l.ownedFromTransfers(ctx)
}

// ownedFromTransfers derives current ownership by replaying Transfer logs over a
// bounded recent window: additions for transfers to the account, removals for
// transfers away, in block order.
func (l *Loader) ownedFromTransfers(ctx context.Context) ([]persist.TokenID, error) {
	head, err := l.head.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	var from uint64
	if head > ownershipScanWindow {
		from = head - ownershipScanWindow
	}

	accountTopic := l.account.Address().Hash()
	incoming, err := l.fetchTransfers(ctx, from, head, nil, []common.Hash{accountTopic})
	if err != nil {
		return nil, err
	}
	outgoing, err := l.fetchTransfers(ctx, from, head, []common.Hash{accountTopic}, nil)
	if err != nil {
		return nil, err
	}

	all := append(incoming, outgoing...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].BlockNumber != all[j].BlockNumber {
			return all[i].BlockNumber < all[j].BlockNumber
		}
		return all[i].Index < all[j].Index
	})

	owned := map[persist.TokenID]struct{}{}
	account := l.account.Address()
	for _, log := range all {
		if len(log.Topics) != 4 {
			continue
		}
		tokenID := persist.TokenID(log.Topics[3].Big().Uint64())
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if to == account {
			owned[tokenID] = struct{}{}
		} else {
			delete(owned, tokenID)
		}
	}

	ids := make([]persist.TokenID, 0, len(owned))
	for id := range owned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (l *Loader) fetchTransfers(ctx context.Context, from, to uint64, fromTopic, toTopic []common.Hash) ([]types.Log, error) {
	return l.logs.FetchLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.contract},
		Topics:    [][]common.Hash{{l.transferTopic}, fromTopic, toTopic},
	})
}

func (l *Loader) hydrate(ctx context.Context, ids []persist.TokenID) []persist.Asset {
	var mu sync.Mutex
	assets := make([]persist.Asset, 0, len(ids))

	wp := workerpool.New(detailWorkers)
	for _, id := range ids {
		id := id
		wp.Submit(func() {
			asset, ok := l.loadAsset(ctx, id)
			if !ok {
				return
			}
			mu.Lock()
			assets = append(assets, asset)
			mu.Unlock()
		})
	}
	wp.StopWait()

	sort.Slice(assets, func(i, j int) bool { return assets[i].TokenID < assets[j].TokenID })
	return assets
}

func (l *Loader) loadAsset(ctx context.Context, id persist.TokenID) (persist.Asset, bool) {
	class, err := l.chain.ClassOf(ctx, id)
	if err != nil {
		return persist.Asset{}, l.skipOrWarn(ctx, id, err)
	}
	record, err := l.chain.BattleRecordOf(ctx, id)
	if err != nil {
		return persist.Asset{}, l.skipOrWarn(ctx, id, err)
	}
	upgrade, err := l.chain.UpgradeStateOf(ctx, id)
	if err != nil {
		return persist.Asset{}, l.skipOrWarn(ctx, id, err)
	}

	return persist.Asset{
		TokenID:            id,
		Class:              class,
		ClassName:          class.Name(),
		ImageURL:           class.ImageURL(),
		Wins:               record.Wins,
		Losses:             record.Losses,
		CooldownUntil:      record.CooldownUntil,
		IsTraining:         upgrade.InProgress,
		TrainingCompleteAt: upgrade.CompleteAt,
	}, true
}

// skipOrWarn always reports the asset as unloadable; nonexistent tokens are skipped
// without noise, anything else is logged.
func (l *Loader) skipOrWarn(ctx context.Context, id persist.TokenID, err error) bool {
	if rpc.IsNoSuchToken(err) {
		return false
	}
	logger.For(ctx).WithError(err).WithField("tokenID", id).Warn("failed to load asset detail")
	return false
}
