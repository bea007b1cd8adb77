// Package contracts holds the hand-trimmed binding for the Dark Forest NFT
// contract. Every read maps the raw return tuple into one canonical persist record
// immediately after the call, so downstream logic never touches heterogeneous
// on-chain shapes.
package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/service/rpc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

const darkForestABIJSON = `[
{"type":"function","name":"tokensOfOwner","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
{"type":"function","name":"getClassId","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"getBattleRecord","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"wins","type":"uint32"},{"name":"losses","type":"uint32"},{"name":"cooldownUntil","type":"uint64"}]},
{"type":"function","name":"getUpgradeState","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"inProgress","type":"bool"},{"name":"completeAt","type":"uint64"}]},
{"type":"function","name":"getPendingBattleByToken","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getBattleRequest","stateMutability":"view","inputs":[{"name":"requestId","type":"uint256"}],"outputs":[{"name":"attackerId","type":"uint256"},{"name":"defenderId","type":"uint256"},{"name":"revealTime","type":"uint64"},{"name":"isPending","type":"bool"},{"name":"isRevealed","type":"bool"},{"name":"attackerWins","type":"bool"}]},
{"type":"function","name":"initiateBattle","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"revealBattle","stateMutability":"nonpayable","inputs":[{"name":"requestId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"retryReveal","stateMutability":"nonpayable","inputs":[{"name":"requestId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"startUpgrade","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"finishUpgrade","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
{"type":"event","name":"BattleInitiated","inputs":[{"name":"requestId","type":"uint256","indexed":true},{"name":"attackerId","type":"uint256","indexed":false},{"name":"defenderId","type":"uint256","indexed":false},{"name":"revealTime","type":"uint64","indexed":false}]},
{"type":"event","name":"BattleEnded","inputs":[{"name":"requestId","type":"uint256","indexed":true},{"name":"winnerId","type":"uint256","indexed":false},{"name":"loserId","type":"uint256","indexed":false},{"name":"winnerOwner","type":"address","indexed":false},{"name":"reasonCode","type":"uint8","indexed":false},{"name":"faster","type":"uint8","indexed":false},{"name":"attackerCrit","type":"uint8","indexed":false},{"name":"defenderCrit","type":"uint8","indexed":false}]},
{"type":"event","name":"UpgradeStarted","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"attrIndex","type":"uint8","indexed":false},{"name":"completeAt","type":"uint64","indexed":false}]},
{"type":"event","name":"UpgradeFinished","inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"attrIndex","type":"uint8","indexed":false},{"name":"success","type":"bool","indexed":false}]}
]`

var darkForestABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(darkForestABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Event topic hashes, used to build log filters.
var (
	TransferTopic        = darkForestABI.Events["Transfer"].ID
	BattleInitiatedTopic = darkForestABI.Events["BattleInitiated"].ID
	BattleEndedTopic     = darkForestABI.Events["BattleEnded"].ID
	UpgradeStartedTopic  = darkForestABI.Events["UpgradeStarted"].ID
	UpgradeFinishedTopic = darkForestABI.Events["UpgradeFinished"].ID
)

// DarkForest wraps the deployed game contract. Reads go through the endpoint pool so
// they inherit its fallback behavior.
type DarkForest struct {
	address common.Address
	pool    *rpc.Pool
}

// NewDarkForest binds the contract at address over pool.
func NewDarkForest(address persist.EthereumAddress, pool *rpc.Pool) *DarkForest {
	return &DarkForest{address: address.Address(), pool: pool}
}

// Address returns the bound contract address.
func (d *DarkForest) Address() common.Address {
	return d.address
}

func (d *DarkForest) call(ctx context.Context, method string, out *[]interface{}, args ...interface{}) error {
	return d.pool.WithFallback(ctx, func(ctx context.Context, client *ethclient.Client) error {
		bound := bind.NewBoundContract(d.address, darkForestABI, client, client, client)
		results := make([]interface{}, 0)
		if err := bound.Call(&bind.CallOpts{Context: ctx}, &results, method, args...); err != nil {
			return err
		}
		*out = results
		return nil
	})
}

// fieldAs extracts one value from an unpacked call result, rejecting shape
// mismatches instead of panicking on them.
func fieldAs[T any](method string, out []interface{}, i int) (T, error) {
	var zero T
	if i >= len(out) {
		return zero, fmt.Errorf("contracts: %s returned %d values, want at least %d", method, len(out), i+1)
	}
	v, ok := out[i].(T)
	if !ok {
		return zero, fmt.Errorf("contracts: unexpected %s return type %T", method, out[i])
	}
	return v, nil
}

// OwnedTokens returns every token id held by owner via the direct ownership query.
func (d *DarkForest) OwnedTokens(ctx context.Context, owner persist.EthereumAddress) ([]persist.TokenID, error) {
	var out []interface{}
	if err := d.call(ctx, "tokensOfOwner", &out, owner.Address()); err != nil {
		return nil, err
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("contracts: unexpected tokensOfOwner return type %T", out[0])
	}
	ids := make([]persist.TokenID, len(raw))
	for i, id := range raw {
		ids[i] = persist.TokenID(id.Uint64())
	}
	return ids, nil
}

// ClassOf returns the hero class of a token.
func (d *DarkForest) ClassOf(ctx context.Context, tokenID persist.TokenID) (persist.HeroClass, error) {
	var out []interface{}
	if err := d.call(ctx, "getClassId", &out, tokenID.BigInt()); err != nil {
		return 0, err
	}
	class, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("contracts: unexpected getClassId return type %T", out[0])
	}
	return persist.HeroClass(class), nil
}

// BattleRecordOf returns the win/loss record and battle cooldown of a token.
func (d *DarkForest) BattleRecordOf(ctx context.Context, tokenID persist.TokenID) (persist.BattleRecord, error) {
	var out []interface{}
	if err := d.call(ctx, "getBattleRecord", &out, tokenID.BigInt()); err != nil {
		return persist.BattleRecord{}, err
	}
	wins, err := fieldAs[uint32]("getBattleRecord", out, 0)
	if err != nil {
		return persist.BattleRecord{}, err
	}
	losses, err := fieldAs[uint32]("getBattleRecord", out, 1)
	if err != nil {
		return persist.BattleRecord{}, err
	}
	cooldown, err := fieldAs[uint64]("getBattleRecord", out, 2)
	if err != nil {
		return persist.BattleRecord{}, err
	}
	return persist.BattleRecord{
		Wins:          wins,
		Losses:        losses,
		CooldownUntil: int64(cooldown),
	}, nil
}

// UpgradeStateOf returns the training state of a token.
func (d *DarkForest) UpgradeStateOf(ctx context.Context, tokenID persist.TokenID) (persist.UpgradeState, error) {
	var out []interface{}
	if err := d.call(ctx, "getUpgradeState", &out, tokenID.BigInt()); err != nil {
		return persist.UpgradeState{}, err
	}
	inProgress, err := fieldAs[bool]("getUpgradeState", out, 0)
	if err != nil {
		return persist.UpgradeState{}, err
	}
	completeAt, err := fieldAs[uint64]("getUpgradeState", out, 1)
	if err != nil {
		return persist.UpgradeState{}, err
	}
	return persist.UpgradeState{
		InProgress: inProgress,
		CompleteAt: int64(completeAt),
	}, nil
}

// PendingBattleOf returns the id of the token's in-flight battle request, or the
// empty id when none is pending.
func (d *DarkForest) PendingBattleOf(ctx context.Context, tokenID persist.TokenID) (persist.BattleID, error) {
	var out []interface{}
	if err := d.call(ctx, "getPendingBattleByToken", &out, tokenID.BigInt()); err != nil {
		return "", err
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return "", fmt.Errorf("contracts: unexpected getPendingBattleByToken return type %T", out[0])
	}
	if id.Sign() == 0 {
		return "", nil
	}
	return persist.BattleID(id.String()), nil
}

// BattleRequestByID returns the full battle-request record for a request id.
func (d *DarkForest) BattleRequestByID(ctx context.Context, requestID persist.BattleID) (persist.BattleRequest, error) {
	id := requestID.BigInt()
	if id == nil {
		return persist.BattleRequest{}, fmt.Errorf("contracts: invalid battle request id %q", requestID)
	}
	var out []interface{}
	if err := d.call(ctx, "getBattleRequest", &out, id); err != nil {
		return persist.BattleRequest{}, err
	}
	attacker, err := fieldAs[*big.Int]("getBattleRequest", out, 0)
	if err != nil {
		return persist.BattleRequest{}, err
	}
	defender, err := fieldAs[*big.Int]("getBattleRequest", out, 1)
	if err != nil {
		return persist.BattleRequest{}, err
	}
	revealTime, err := fieldAs[uint64]("getBattleRequest", out, 2)
	if err != nil {
		return persist.BattleRequest{}, err
	}
	isPending, err := fieldAs[bool]("getBattleRequest", out, 3)
	if err != nil {
		return persist.BattleRequest{}, err
	}
	isRevealed, err := fieldAs[bool]("getBattleRequest", out, 4)
	if err != nil {
		return persist.BattleRequest{}, err
	}
	attackerWins, err := fieldAs[bool]("getBattleRequest", out, 5)
	if err != nil {
		return persist.BattleRequest{}, err
	}
	return persist.BattleRequest{
		RequestID:       requestID,
		AttackerTokenID: persist.TokenID(attacker.Uint64()),
		DefenderTokenID: persist.TokenID(defender.Uint64()),
		RevealTime:      int64(revealTime),
		IsPending:       isPending,
		IsRevealed:      isRevealed,
		AttackerWins:    attackerWins,
	}, nil
}

func (d *DarkForest) transact(ctx context.Context, opts *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
	var tx *types.Transaction
	err := d.pool.WithFallback(ctx, func(ctx context.Context, client *ethclient.Client) error {
		bound := bind.NewBoundContract(d.address, darkForestABI, client, client, client)
		sent, err := bound.Transact(opts, method, args...)
		if err != nil {
			return err
		}
		tx = sent
		return nil
	})
	return tx, err
}

// InitiateBattle submits a battle-initiation transaction for a token.
func (d *DarkForest) InitiateBattle(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) (*types.Transaction, error) {
	return d.transact(ctx, opts, "initiateBattle", tokenID.BigInt())
}

// RevealBattle submits a reveal transaction for a battle request.
func (d *DarkForest) RevealBattle(ctx context.Context, opts *bind.TransactOpts, requestID persist.BattleID) (*types.Transaction, error) {
	return d.transact(ctx, opts, "revealBattle", requestID.BigInt())
}

// RetryReveal re-requests the decryption callback for a stuck reveal.
func (d *DarkForest) RetryReveal(ctx context.Context, opts *bind.TransactOpts, requestID persist.BattleID) (*types.Transaction, error) {
	return d.transact(ctx, opts, "retryReveal", requestID.BigInt())
}

// StartUpgrade submits a training-start transaction for a token.
func (d *DarkForest) StartUpgrade(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) (*types.Transaction, error) {
	return d.transact(ctx, opts, "startUpgrade", tokenID.BigInt())
}

// FinishUpgrade submits a training-completion transaction for a token.
func (d *DarkForest) FinishUpgrade(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) (*types.Transaction, error) {
	return d.transact(ctx, opts, "finishUpgrade", tokenID.BigInt())
}
