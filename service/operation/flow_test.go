package operation

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/DaveHalls/nft-dark-forest/contracts"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequests struct {
	requests map[persist.BattleID]persist.BattleRequest
}

func (f *fakeRequests) BattleRequestByID(_ context.Context, id persist.BattleID) (persist.BattleRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return persist.BattleRequest{}, errors.New("unknown request")
	}
	return req, nil
}

type fakeTransactor struct {
	initiateErr error
	revealErr   error
	tx          *types.Transaction
	revealCalls int
}

func (f *fakeTransactor) InitiateBattle(context.Context, *bind.TransactOpts, persist.TokenID) (*types.Transaction, error) {
	return f.tx, f.initiateErr
}

func (f *fakeTransactor) RevealBattle(context.Context, *bind.TransactOpts, persist.BattleID) (*types.Transaction, error) {
	f.revealCalls++
	return f.tx, f.revealErr
}

func (f *fakeTransactor) RetryReveal(context.Context, *bind.TransactOpts, persist.BattleID) (*types.Transaction, error) {
	return f.tx, f.revealErr
}

func (f *fakeTransactor) StartUpgrade(context.Context, *bind.TransactOpts, persist.TokenID) (*types.Transaction, error) {
	return f.tx, nil
}

func (f *fakeTransactor) FinishUpgrade(context.Context, *bind.TransactOpts, persist.TokenID) (*types.Transaction, error) {
	return f.tx, nil
}

type fakeReceipts struct {
	receipt *types.Receipt
	err     error
}

func (f *fakeReceipts) WaitForReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.err
}

type fixedBlockTime struct{ at int64 }

func (f fixedBlockTime) LatestBlockTime(context.Context) (int64, error) { return f.at, nil }

func word(v uint64) []byte {
	return common.BigToHash(new(big.Int).SetUint64(v)).Bytes()
}

func battleInitiatedLog(requestID int64, attacker, defender uint64, revealTime int64) *types.Log {
	var data []byte
	for _, w := range [][]byte{word(attacker), word(defender), word(uint64(revealTime))} {
		data = append(data, w...)
	}
	return &types.Log{
		Topics: []common.Hash{contracts.BattleInitiatedTopic, common.BigToHash(big.NewInt(requestID))},
		Data:   data,
	}
}

func newTestFlow(tracker *Tracker, requests *fakeRequests, tx *fakeTransactor, receipts *fakeReceipts, notifier Notifier) *Flow {
	clock := NewChainClock(fixedBlockTime{at: time.Now().Unix()})
	return NewFlow(tracker, requests, tx, receipts, clock, notifier)
}

func TestInitiateBattlePromotesFromReceipt(t *testing.T) {
	ctx := context.Background()
	notifier := &countingNotifier{}
	tracker := NewTracker(notifier)

	revealTime := time.Now().Unix() + 600
	tx := types.NewTx(&types.LegacyTx{Nonce: 1})
	flow := newTestFlow(tracker, &fakeRequests{}, &fakeTransactor{tx: tx}, &fakeReceipts{
		receipt: &types.Receipt{Logs: []*types.Log{battleInitiatedLog(7, 21, 34, revealTime)}},
	}, notifier)

	battle, err := flow.InitiateBattle(ctx, nil, 21)
	require.NoError(t, err)
	assert.Equal(t, persist.BattleID("7"), battle.RequestID)
	assert.Equal(t, persist.BattleStatusWaiting, battle.Status)

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].IsPlaceholder())
	assert.EqualValues(t, 34, snap[0].DefenderTokenID)
}

func TestInitiateBattleUserRejectionRemovesPlaceholder(t *testing.T) {
	ctx := context.Background()
	notifier := &countingNotifier{}
	tracker := NewTracker(notifier)

	flow := newTestFlow(tracker, &fakeRequests{}, &fakeTransactor{initiateErr: errors.New("user rejected transaction")}, &fakeReceipts{}, notifier)

	_, err := flow.InitiateBattle(ctx, nil, 21)
	require.Error(t, err)
	assert.Empty(t, tracker.Snapshot())
	assert.Len(t, notifier.infos, 1)
	assert.Empty(t, notifier.errors)
}

func TestInitiateBattleFailureRemovesPlaceholderLoudly(t *testing.T) {
	ctx := context.Background()
	notifier := &countingNotifier{}
	tracker := NewTracker(notifier)

	flow := newTestFlow(tracker, &fakeRequests{}, &fakeTransactor{initiateErr: errors.New("insufficient funds")}, &fakeReceipts{}, notifier)

	_, err := flow.InitiateBattle(ctx, nil, 21)
	require.Error(t, err)
	assert.Empty(t, tracker.Snapshot())
	assert.Len(t, notifier.errors, 1)
}

func TestRevealAlreadyResolvedRefreshesInsteadOfFailing(t *testing.T) {
	ctx := context.Background()
	notifier := &countingNotifier{}
	tracker := NewTracker(notifier)

	requests := &fakeRequests{requests: map[persist.BattleID]persist.BattleRequest{
		"7": {RequestID: "7", AttackerTokenID: 21, DefenderTokenID: 34, IsRevealed: true, AttackerWins: true},
	}}
	flow := newTestFlow(tracker, requests, &fakeTransactor{}, &fakeReceipts{}, notifier)

	require.NoError(t, flow.Reveal(ctx, nil, "7"))

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, persist.BattleStatusCompleted, snap[0].Status)
	assert.Equal(t, persist.BattleResultWin, snap[0].Result)
}

func TestRevealAwaitingCallbackStaysRevealing(t *testing.T) {
	ctx := context.Background()
	notifier := &countingNotifier{}
	tracker := NewTracker(notifier)

	// Reveal already submitted, decryption callback outstanding: attackerWins has
	// not been written, so nothing may complete and no outcome may be announced.
	requests := &fakeRequests{requests: map[persist.BattleID]persist.BattleRequest{
		"7": {RequestID: "7", AttackerTokenID: 21, DefenderTokenID: 34, IsPending: true, IsRevealed: true, RevealTime: time.Now().Unix() - 100},
	}}
	tx := &fakeTransactor{}
	flow := newTestFlow(tracker, requests, tx, &fakeReceipts{}, notifier)

	require.NoError(t, flow.Reveal(ctx, nil, "7"))

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, persist.BattleStatusRevealing, snap[0].Status)
	assert.Empty(t, snap[0].Result)
	assert.Zero(t, tx.revealCalls)
	assert.Empty(t, notifier.successes)
	assert.Empty(t, notifier.errors)
}

func TestRevealRejectsBeforeRevealTime(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(&countingNotifier{})

	requests := &fakeRequests{requests: map[persist.BattleID]persist.BattleRequest{
		"7": {RequestID: "7", AttackerTokenID: 21, IsPending: true, RevealTime: time.Now().Unix() + 1000},
	}}
	flow := newTestFlow(tracker, requests, &fakeTransactor{}, &fakeReceipts{}, &countingNotifier{})

	err := flow.Reveal(ctx, nil, "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not revealable")
}

func TestRevealContractRefusalRefreshes(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(&countingNotifier{})

	// The request still reads pending, but the contract knows better by the time
	// the transaction lands.
	requests := &fakeRequests{requests: map[persist.BattleID]persist.BattleRequest{
		"7": {RequestID: "7", AttackerTokenID: 21, IsPending: true, RevealTime: time.Now().Unix() - 100},
	}}
	tx := &fakeTransactor{revealErr: errors.New("execution reverted: battle not pending")}
	flow := newTestFlow(tracker, requests, tx, &fakeReceipts{}, &countingNotifier{})

	require.NoError(t, flow.Reveal(ctx, nil, "7"))
	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	// The refresh applied the on-chain view rather than guessing an outcome.
	assert.Equal(t, persist.BattleStatusRevealing, snap[0].Status)
}

func TestChainClockOffset(t *testing.T) {
	skew := int64(120)
	clock := NewChainClock(fixedBlockTime{at: time.Now().Unix() + skew})

	now := clock.Now(context.Background())
	diff := now - time.Now().Unix()
	assert.InDelta(t, skew, diff, 2)
}

func TestChainClockCountdown(t *testing.T) {
	clock := NewChainClock(fixedBlockTime{at: time.Now().Unix()})
	ctx := context.Background()

	future := clock.Now(ctx) + 90
	countdown := clock.Countdown(ctx, future)
	assert.InDelta(t, 90, countdown.Seconds(), 2)

	assert.Equal(t, time.Duration(0), clock.Countdown(ctx, clock.Now(ctx)-10))
}

func TestPollerDrivesRevealingToCompletion(t *testing.T) {
	ctx := context.Background()
	notifier := &countingNotifier{}
	tracker := NewTracker(notifier)

	requests := &fakeRequests{requests: map[persist.BattleID]persist.BattleRequest{
		"7": {RequestID: "7", AttackerTokenID: 21, DefenderTokenID: 34, IsRevealed: true, AttackerWins: true},
	}}
	clock := NewChainClock(fixedBlockTime{at: time.Now().Unix()})
	poller := NewPoller(tracker, requests, clock)

	tracker.Apply(ctx, persist.Battle{RequestID: "7", AttackerTokenID: 21, Status: persist.BattleStatusRevealing})
	poller.tick(ctx)

	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, persist.BattleStatusCompleted, snap[0].Status)
	assert.Len(t, notifier.successes, 1)

	// A second tick re-reads the same fact without a second notification.
	poller.tick(ctx)
	assert.Len(t, notifier.successes, 1)
}
