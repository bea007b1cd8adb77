package operation

import (
	"context"
	"time"

	"github.com/DaveHalls/nft-dark-forest/contracts"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/service/sentryutil"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const defaultPollInterval = 5 * time.Second

// ChainReader is the slice of the game contract the poller reads from.
type ChainReader interface {
	BattleRequestByID(ctx context.Context, requestID persist.BattleID) (persist.BattleRequest, error)
}

// LogSubscriber opens a push subscription over new logs. Only websocket-backed
// clients support it; the poller is the fallback when none is available.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Poller drives revealing battles toward resolution by re-reading their request
// records on an interval. It is one of two producers feeding Tracker.Apply; the
// push subscription is the other, and either can win the race safely.
type Poller struct {
	tracker  *Tracker
	chain    ChainReader
	clock    *ChainClock
	interval time.Duration
}

// NewPoller returns a poller over tracker at the default interval.
func NewPoller(tracker *Tracker, chain ChainReader, clock *ChainClock) *Poller {
	return &Poller{tracker: tracker, chain: chain, clock: clock, interval: defaultPollInterval}
}

// PollRevealing blocks until ctx is done, refreshing every tracked non-terminal
// battle each tick. Waiting battles whose reveal time has passed move to revealing,
// revealing battles that resolved on-chain move to completed.
func (p *Poller) PollRevealing(ctx context.Context) {
	defer sentryutil.RecoverAndRaise(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	now := p.clock.Now(ctx)
	for _, b := range p.tracker.Snapshot() {
		if b.Status.Terminal() || b.IsPlaceholder() {
			continue
		}
		request, err := p.chain.BattleRequestByID(ctx, b.RequestID)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("requestID", b.RequestID).Warn("reveal poll read failed")
			continue
		}
		p.tracker.Apply(ctx, synthesize(request, now))
	}
}

// synthesize maps an on-chain request record to the battle status it implies at now.
// A revealed battle that is still pending stays in revealing: attackerWins is not
// written until the decryption callback lands, so the outcome is only trustworthy
// once the request stops being pending.
func synthesize(request persist.BattleRequest, now int64) persist.Battle {
	battle := persist.Battle{
		RequestID:       request.RequestID,
		AttackerTokenID: request.AttackerTokenID,
		DefenderTokenID: request.DefenderTokenID,
		RevealTime:      request.RevealTime,
	}
	switch {
	case !request.IsPending:
		battle.Status = persist.BattleStatusCompleted
		if request.AttackerWins {
			battle.Result = persist.BattleResultWin
		} else {
			battle.Result = persist.BattleResultLoss
		}
	case request.IsRevealed || now >= request.RevealTime:
		battle.Status = persist.BattleStatusRevealing
	default:
		battle.Status = persist.BattleStatusWaiting
	}
	return battle
}

// SubscribeBattleEnded feeds BattleEnded push notifications into the tracker until
// ctx is done or the subscription fails. The caller decides whether to resubscribe.
func (p *Poller) SubscribeBattleEnded(ctx context.Context, sub LogSubscriber, contract common.Address) error {
	logs := make(chan types.Log)
	subscription, err := sub.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{contracts.BattleEndedTopic}},
	}, logs)
	if err != nil {
		return err
	}
	defer subscription.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-subscription.Err():
			return err
		case l := <-logs:
			ev, err := contracts.ParseBattleEnded(l)
			if err != nil {
				continue
			}
			p.applyEnded(ctx, ev)
		}
	}
}

func (p *Poller) applyEnded(ctx context.Context, ev contracts.BattleEndedEvent) {
	battle := persist.Battle{
		RequestID:    ev.RequestID,
		Status:       persist.BattleStatusCompleted,
		ReasonCode:   &ev.ReasonCode,
		Faster:       &ev.Faster,
		AttackerCrit: &ev.AttackerCrit,
		DefenderCrit: &ev.DefenderCrit,
	}
	request, err := p.chain.BattleRequestByID(ctx, ev.RequestID)
	if err != nil {
		battle.AttackerTokenID = ev.WinnerID
		battle.DefenderTokenID = ev.LoserID
		battle.Result = persist.BattleResultWin
		p.tracker.Apply(ctx, battle)
		return
	}
	battle.AttackerTokenID = request.AttackerTokenID
	battle.DefenderTokenID = request.DefenderTokenID
	battle.RevealTime = request.RevealTime
	if ev.WinnerID == request.AttackerTokenID {
		battle.Result = persist.BattleResultWin
	} else {
		battle.Result = persist.BattleResultLoss
	}
	p.tracker.Apply(ctx, battle)
}
