// Package reconcile rebuilds the account's pending-operation state from three
// sources of truth: direct contract reads, historical event logs, and the local
// snapshot. Merging is rank-monotonic, so a resolved operation can never be
// downgraded no matter which source reports first.
package reconcile

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/DaveHalls/nft-dark-forest/contracts"
	"github.com/DaveHalls/nft-dark-forest/env"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/service/snapshot"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
)

func init() {
	env.SetDefault("REORG_BUFFER", 64)
	env.SetDefault("RECONCILE_DEBOUNCE_SECONDS", 4)
}

const (
	// completedCacheSize bounds the in-memory set of request ids already known to be
	// resolved, used to skip redundant per-asset reads.
	completedCacheSize = 512

	// backfillLookback bounds the block range searched when recovering explanation
	// fields for a battle whose BattleEnded event was missed.
	backfillLookback = 100_000

	cacheTTL = 7 * 24 * time.Hour
)

// ChainReader is the slice of the game contract the reconciler reads from.
type ChainReader interface {
	PendingBattleOf(ctx context.Context, tokenID persist.TokenID) (persist.BattleID, error)
	BattleRequestByID(ctx context.Context, requestID persist.BattleID) (persist.BattleRequest, error)
	UpgradeStateOf(ctx context.Context, tokenID persist.TokenID) (persist.UpgradeState, error)
}

// LogFetcher fetches historical logs over a block range.
type LogFetcher interface {
	FetchLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// HeadReader reports the current chain head and block timestamps.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderTimestamp(ctx context.Context, number *big.Int) (int64, error)
}

// Reconciler merges pending-battle and training state for one account.
type Reconciler struct {
	chain       ChainReader
	logs        LogFetcher
	head        HeadReader
	store       *snapshot.Store
	scope       snapshot.Scope
	contract    common.Address
	reorgBuffer uint64
	debounce    time.Duration
	completed   *lru.Cache
	now         func() time.Time

	mu              sync.Mutex
	lastBattleRun   time.Time
	lastBattles     []persist.Battle
	lastTrainingRun time.Time
	lastTrainings   []persist.Training
	lastRunAt       time.Time
}

// New returns a reconciler for the contract at the given address.
func New(chain ChainReader, logs LogFetcher, head HeadReader, store *snapshot.Store, scope snapshot.Scope, contract common.Address) *Reconciler {
	completed, _ := lru.New(completedCacheSize)
	return &Reconciler{
		chain:       chain,
		logs:        logs,
		head:        head,
		store:       store,
		scope:       scope,
		contract:    contract,
		reorgBuffer: uint64(env.GetInt64("REORG_BUFFER")),
		debounce:    time.Duration(env.GetInt64("RECONCILE_DEBOUNCE_SECONDS")) * time.Second,
		completed:   completed,
		now:         time.Now,
	}
}

// Watermarks returns the snapshotted scan positions for battles and trainings.
func (r *Reconciler) Watermarks(ctx context.Context) (battles, trainings persist.Watermark) {
	battles = r.loadBattleCache(ctx).Watermark
	trainings = r.loadTrainingCache(ctx).Watermark
	return battles, trainings
}

// LastRun returns when a reconcile pass last published a result.
func (r *Reconciler) LastRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRunAt
}

// battleCache is the snapshotted battle state for one account scope.
type battleCache struct {
	Battles      []persist.Battle   `json:"battles"`
	CompletedIDs []persist.BattleID `json:"completedIds"`
	Watermark    persist.Watermark  `json:"watermark"`
}

// Battles reconciles the account's battle list against the chain and returns the
// merged view. Calls inside the debounce window return the previously published
// result unchanged. Individual steps degrade on failure rather than aborting: a
// failed log scan still yields the merge of direct reads and cache, it just leaves
// the watermark where it was.
func (r *Reconciler) Battles(ctx context.Context, owned []persist.TokenID) ([]persist.Battle, error) {
	r.mu.Lock()
	if !r.lastBattleRun.IsZero() && r.now().Sub(r.lastBattleRun) < r.debounce {
		prior := append([]persist.Battle(nil), r.lastBattles...)
		r.mu.Unlock()
		return prior, nil
	}
	r.mu.Unlock()

	cache := r.loadBattleCache(ctx)
	for _, id := range cache.CompletedIDs {
		r.completed.Add(id, struct{}{})
	}

	direct := r.directBattles(ctx, owned)
	scanned, watermark, scanOK := r.scanBattleEnded(ctx, owned, cache.Watermark)

	merged := persist.MergeBattles(cache.Battles, direct, scanned)
	merged = r.backfillExplanations(ctx, merged)

	next := battleCache{Battles: merged, CompletedIDs: r.completedIDs(merged), Watermark: cache.Watermark}
	if scanOK {
		next.Watermark = watermark
	}
	if err := r.store.Set(ctx, r.scope.Key("battles"), next, cacheTTL); err != nil {
		logger.For(ctx).WithError(err).Warn("failed to snapshot battle state")
	}

	r.mu.Lock()
	r.lastBattleRun = r.now()
	r.lastRunAt = r.lastBattleRun
	r.lastBattles = merged
	r.mu.Unlock()
	return merged, nil
}

func (r *Reconciler) loadBattleCache(ctx context.Context) battleCache {
	var cache battleCache
	if _, err := r.store.Get(ctx, r.scope.Key("battles"), &cache); err != nil {
		logger.For(ctx).WithError(err).Warn("failed to read battle snapshot")
	}
	return cache
}

// directBattles is the per-asset pending check. Assets whose request id is already
// known resolved are skipped, everything else is read fresh and synthesized into a
// status from the request record.
func (r *Reconciler) directBattles(ctx context.Context, owned []persist.TokenID) []persist.Battle {
	now := r.now().Unix()
	battles := make([]persist.Battle, 0, len(owned))
	for _, id := range owned {
		requestID, err := r.chain.PendingBattleOf(ctx, id)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("tokenID", id).Warn("pending battle check failed")
			continue
		}
		if requestID == "" || r.completed.Contains(requestID) {
			continue
		}
		request, err := r.chain.BattleRequestByID(ctx, requestID)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("requestID", requestID).Warn("battle request read failed")
			continue
		}
		battle := battleFromRequest(request, now)
		if battle.Status.Terminal() {
			r.completed.Add(requestID, struct{}{})
		}
		battles = append(battles, battle)
	}
	return battles
}

// battleFromRequest synthesizes a battle record from the on-chain request state. A
// request that is no longer pending resolved without us seeing the event and is
// reported completed. A revealed request that is still pending is waiting on the
// decryption callback: attackerWins has not been written yet, so it stays in
// revealing rather than guessing an outcome.
func battleFromRequest(request persist.BattleRequest, now int64) persist.Battle {
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

// scanBattleEnded replays BattleEnded logs since the stored watermark and projects
// the ones touching owned tokens into completed battle records.
func (r *Reconciler) scanBattleEnded(ctx context.Context, owned []persist.TokenID, prior persist.Watermark) ([]persist.Battle, persist.Watermark, bool) {
	head, err := r.head.BlockNumber(ctx)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("head read failed, skipping battle event scan")
		return nil, prior, false
	}
	logs, err := r.logs.FetchLogs(ctx, ethereum.FilterQuery{
		FromBlock: prior.ResumeFrom(r.reorgBuffer).BigInt(),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{r.contract},
		Topics:    [][]common.Hash{{contracts.BattleEndedTopic}},
	})
	if err != nil {
		logger.For(ctx).WithError(err).Warn("battle event scan failed")
		return nil, prior, false
	}

	ownedSet := make(map[persist.TokenID]struct{}, len(owned))
	for _, id := range owned {
		ownedSet[id] = struct{}{}
	}

	battles := make([]persist.Battle, 0, len(logs))
	for _, l := range logs {
		ev, err := contracts.ParseBattleEnded(l)
		if err != nil {
			continue
		}
		_, winnerOwned := ownedSet[ev.WinnerID]
		_, loserOwned := ownedSet[ev.LoserID]
		if !winnerOwned && !loserOwned {
			continue
		}
		battles = append(battles, r.battleFromEvent(ctx, ev))
		r.completed.Add(ev.RequestID, struct{}{})
	}
	return battles, persist.Watermark{LastScanned: persist.BlockNumber(head)}, true
}

// battleFromEvent turns a BattleEnded event into a completed record. The request
// record supplies attacker and defender; when it cannot be read the winner is
// assumed to be the attacker, which keeps the outcome correct even if the roles are
// guessed.
func (r *Reconciler) battleFromEvent(ctx context.Context, ev contracts.BattleEndedEvent) persist.Battle {
	battle := persist.Battle{
		RequestID:    ev.RequestID,
		Status:       persist.BattleStatusCompleted,
		ReasonCode:   intPtr(ev.ReasonCode),
		Faster:       intPtr(ev.Faster),
		AttackerCrit: intPtr(ev.AttackerCrit),
		DefenderCrit: intPtr(ev.DefenderCrit),
	}
	request, err := r.chain.BattleRequestByID(ctx, ev.RequestID)
	if err != nil {
		logger.For(ctx).WithError(err).WithField("requestID", ev.RequestID).Warn("battle request enrichment failed")
		battle.AttackerTokenID = ev.WinnerID
		battle.DefenderTokenID = ev.LoserID
		battle.Result = persist.BattleResultWin
		return battle
	}
	battle.AttackerTokenID = request.AttackerTokenID
	battle.DefenderTokenID = request.DefenderTokenID
	battle.RevealTime = request.RevealTime
	if ev.WinnerID == request.AttackerTokenID {
		battle.Result = persist.BattleResultWin
	} else {
		battle.Result = persist.BattleResultLoss
	}
	return battle
}

// backfillExplanations recovers explanation fields for completed battles that were
// resolved without their BattleEnded event being observed, by a targeted scan
// filtered on the request id.
func (r *Reconciler) backfillExplanations(ctx context.Context, battles []persist.Battle) []persist.Battle {
	var head uint64
	for i, b := range battles {
		if b.Status != persist.BattleStatusCompleted || b.ReasonCode != nil || b.IsPlaceholder() {
			continue
		}
		id := b.RequestID.BigInt()
		if id == nil {
			continue
		}
		if head == 0 {
			var err error
			if head, err = r.head.BlockNumber(ctx); err != nil {
				logger.For(ctx).WithError(err).Warn("head read failed, skipping explanation backfill")
				return battles
			}
		}
		var from uint64
		if head > backfillLookback {
			from = head - backfillLookback
		}
		logs, err := r.logs.FetchLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(head),
			Addresses: []common.Address{r.contract},
			Topics:    [][]common.Hash{{contracts.BattleEndedTopic}, {common.BigToHash(id)}},
		})
		if err != nil || len(logs) == 0 {
			continue
		}
		ev, err := contracts.ParseBattleEnded(logs[0])
		if err != nil {
			continue
		}
		battles[i].ReasonCode = intPtr(ev.ReasonCode)
		battles[i].Faster = intPtr(ev.Faster)
		battles[i].AttackerCrit = intPtr(ev.AttackerCrit)
		battles[i].DefenderCrit = intPtr(ev.DefenderCrit)
	}
	return battles
}

func (r *Reconciler) completedIDs(battles []persist.Battle) []persist.BattleID {
	ids := make([]persist.BattleID, 0, len(battles))
	for _, b := range battles {
		if b.Status.Terminal() && !b.IsPlaceholder() {
			ids = append(ids, b.RequestID)
		}
	}
	return ids
}

// ClearCache drops all snapshotted reconciliation state for the scope and resets
// the debounce so the next call reads the chain fresh.
func (r *Reconciler) ClearCache(ctx context.Context) error {
	if err := r.store.Remove(ctx, r.scope.Key("battles")); err != nil {
		return err
	}
	if err := r.store.Remove(ctx, r.scope.Key("trainings")); err != nil {
		return err
	}
	r.completed.Purge()
	r.mu.Lock()
	r.lastBattleRun = time.Time{}
	r.lastTrainingRun = time.Time{}
	r.lastBattles = nil
	r.lastTrainings = nil
	r.mu.Unlock()
	return nil
}

func intPtr(v int) *int {
	return &v
}
