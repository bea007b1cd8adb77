package assets

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/DaveHalls/nft-dark-forest/contracts"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/service/snapshot"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAccount  = persist.EthereumAddress("0x1111111111111111111111111111111111111111")
	testStranger = persist.EthereumAddress("0x2222222222222222222222222222222222222222")
	testContract = common.HexToAddress("0x00000000000000000000000000000000000d00d1")
)

type fakeChain struct {
	owned    []persist.TokenID
	ownedErr error
	classes  map[persist.TokenID]persist.HeroClass
	classErr map[persist.TokenID]error
	records  map[persist.TokenID]persist.BattleRecord
	upgrades map[persist.TokenID]persist.UpgradeState
}

func (f *fakeChain) OwnedTokens(context.Context, persist.EthereumAddress) ([]persist.TokenID, error) {
	return f.owned, f.ownedErr
}

func (f *fakeChain) ClassOf(_ context.Context, id persist.TokenID) (persist.HeroClass, error) {
	if err, ok := f.classErr[id]; ok {
		return 0, err
	}
	return f.classes[id], nil
}

func (f *fakeChain) BattleRecordOf(_ context.Context, id persist.TokenID) (persist.BattleRecord, error) {
	return f.records[id], nil
}

func (f *fakeChain) UpgradeStateOf(_ context.Context, id persist.TokenID) (persist.UpgradeState, error) {
	return f.upgrades[id], nil
}

type fakeLogs struct {
	logs []types.Log
	err  error
}

func (f *fakeLogs) FetchLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if f.err != nil {
		return nil, f.err
	}
	var matched []types.Log
	for _, l := range f.logs {
		if matchesTopics(q.Topics, l) {
			matched = append(matched, l)
		}
	}
	return matched, nil
}

func matchesTopics(topics [][]common.Hash, l types.Log) bool {
	for pos, want := range topics {
		if len(want) == 0 {
			continue
		}
		if len(l.Topics) <= pos {
			return false
		}
		found := false
		for _, h := range want {
			if l.Topics[pos] == h {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type fakeHead struct{ head uint64 }

func (f *fakeHead) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func transferLog(from, to persist.EthereumAddress, tokenID, block uint64, index uint) types.Log {
	return types.Log{
		Topics: []common.Hash{
			contracts.TransferTopic,
			from.Address().Hash(),
			to.Address().Hash(),
			common.BigToHash(new(big.Int).SetUint64(tokenID)),
		},
		BlockNumber: block,
		Index:       index,
	}
}

func newTestLoader(chain *fakeChain, logs *fakeLogs, head *fakeHead) *Loader {
	store := snapshot.NewStore(snapshot.NewMemoryBackend())
	scope := snapshot.Scope{ChainID: 11155111, Account: testAccount, Contract: persist.EthereumAddress(testContract.Hex())}
	return NewLoader(chain, logs, head, store, scope, testContract, contracts.TransferTopic, testAccount)
}

func TestOwnedAssetsDirectQuery(t *testing.T) {
	chain := &fakeChain{
		owned:    []persist.TokenID{7, 3},
		classes:  map[persist.TokenID]persist.HeroClass{3: persist.HeroClassMage, 7: persist.HeroClassWarrior},
		records:  map[persist.TokenID]persist.BattleRecord{3: {Wins: 2, Losses: 1, CooldownUntil: 500}},
		upgrades: map[persist.TokenID]persist.UpgradeState{7: {InProgress: true, CompleteAt: 900}},
	}
	loader := newTestLoader(chain, &fakeLogs{}, &fakeHead{head: 1000})

	assets, err := loader.OwnedAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 2)

	// Sorted by token id.
	assert.EqualValues(t, 3, assets[0].TokenID)
	assert.Equal(t, persist.HeroClassMage.Name(), assets[0].ClassName)
	assert.EqualValues(t, 2, assets[0].Wins)
	assert.EqualValues(t, 7, assets[1].TokenID)
	assert.True(t, assets[1].IsTraining)
	assert.EqualValues(t, 900, assets[1].TrainingCompleteAt)
}

func TestOwnedAssetsFallsBackToTransferLogs(t *testing.T) {
	chain := &fakeChain{
		ownedErr: errors.New("execution reverted"),
		classes:  map[persist.TokenID]persist.HeroClass{5: persist.HeroClassArcher},
		records:  map[persist.TokenID]persist.BattleRecord{},
		upgrades: map[persist.TokenID]persist.UpgradeState{},
	}
	logs := &fakeLogs{logs: []types.Log{
		transferLog(testStranger, testAccount, 5, 100, 0),  // acquired
		transferLog(testStranger, testAccount, 9, 150, 0),  // acquired
		transferLog(testAccount, testStranger, 9, 200, 0),  // sold again
	}}
	loader := newTestLoader(chain, logs, &fakeHead{head: 1000})

	assets, err := loader.OwnedAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.EqualValues(t, 5, assets[0].TokenID)
}

func TestOwnedAssetsReplayRespectsBlockOrder(t *testing.T) {
	chain := &fakeChain{
		ownedErr: errors.New("boom"),
		classes:  map[persist.TokenID]persist.HeroClass{5: persist.HeroClassWarrior},
		records:  map[persist.TokenID]persist.BattleRecord{},
		upgrades: map[persist.TokenID]persist.UpgradeState{},
	}
	// Listed out of order; replay must sort by block before applying.
	logs := &fakeLogs{logs: []types.Log{
		transferLog(testAccount, testStranger, 5, 200, 0),
		transferLog(testStranger, testAccount, 5, 100, 0),
		transferLog(testStranger, testAccount, 5, 300, 0),
	}}
	loader := newTestLoader(chain, logs, &fakeHead{head: 1000})

	assets, err := loader.OwnedAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.EqualValues(t, 5, assets[0].TokenID)
}

func TestOwnedAssetsSkipsNonexistentTokens(t *testing.T) {
	chain := &fakeChain{
		owned:   []persist.TokenID{1, 2},
		classes: map[persist.TokenID]persist.HeroClass{2: persist.HeroClassSwordmaster},
		classErr: map[persist.TokenID]error{
			1: errors.New("execution reverted: ERC721: owner query for nonexistent token"),
		},
		records:  map[persist.TokenID]persist.BattleRecord{},
		upgrades: map[persist.TokenID]persist.UpgradeState{},
	}
	loader := newTestLoader(chain, &fakeLogs{}, &fakeHead{head: 1000})

	assets, err := loader.OwnedAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.EqualValues(t, 2, assets[0].TokenID)
}

func TestOwnedAssetsSnapshotsResult(t *testing.T) {
	chain := &fakeChain{
		owned:    []persist.TokenID{4},
		classes:  map[persist.TokenID]persist.HeroClass{4: persist.HeroClassAssassin},
		records:  map[persist.TokenID]persist.BattleRecord{},
		upgrades: map[persist.TokenID]persist.UpgradeState{},
	}
	loader := newTestLoader(chain, &fakeLogs{}, &fakeHead{head: 1000})
	ctx := context.Background()

	loaded, err := loader.OwnedAssets(ctx)
	require.NoError(t, err)

	cached, ok := loader.CachedAssets(ctx)
	require.True(t, ok)
	assert.Equal(t, loaded, cached)
}

func TestAssetDetailsLoadsUnownedToken(t *testing.T) {
	chain := &fakeChain{
		classes: map[persist.TokenID]persist.HeroClass{77: persist.HeroClassMage},
		records: map[persist.TokenID]persist.BattleRecord{77: {Wins: 9, Losses: 4}},
	}
	loader := newTestLoader(chain, &fakeLogs{}, &fakeHead{head: 1000})

	opponent, err := loader.AssetDetails(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, persist.HeroClassMage.Name(), opponent.ClassName)
	assert.EqualValues(t, 9, opponent.Wins)
	assert.EqualValues(t, 4, opponent.Losses)
}
