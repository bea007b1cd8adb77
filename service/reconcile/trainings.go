package reconcile

import (
	"context"
	"math/big"

	"github.com/DaveHalls/nft-dark-forest/contracts"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// trainingCache is the snapshotted training state for one account scope. The raw
// event records are kept alongside the derived sessions so already-scanned ranges
// never need re-fetching.
type trainingCache struct {
	Trainings []persist.Training    `json:"trainings"`
	Events    []persist.CachedEvent `json:"events"`
	Watermark persist.Watermark     `json:"watermark"`
}

// Trainings reconciles the account's training sessions against the chain and
// returns the merged view. Same shape as Battles: debounced, step-degrading, with
// the event scan resuming from the stored watermark minus the reorg buffer.
func (r *Reconciler) Trainings(ctx context.Context, owned []persist.TokenID) ([]persist.Training, error) {
	r.mu.Lock()
	if !r.lastTrainingRun.IsZero() && r.now().Sub(r.lastTrainingRun) < r.debounce {
		prior := append([]persist.Training(nil), r.lastTrainings...)
		r.mu.Unlock()
		return prior, nil
	}
	r.mu.Unlock()

	cache := r.loadTrainingCache(ctx)

	fetched, watermark, scanOK := r.scanUpgradeEvents(ctx, cache.Watermark)
	events := persist.MergeEvents(cache.Events, fetched)

	fromEvents := trainingsFromEvents(events)
	direct := r.directTrainings(ctx, owned, fromEvents)

	merged := persist.MergeTrainings(cache.Trainings, fromEvents, direct)

	next := trainingCache{Trainings: merged, Events: events, Watermark: cache.Watermark}
	if scanOK {
		next.Watermark = watermark
	}
	if err := r.store.Set(ctx, r.scope.Key("trainings"), next, cacheTTL); err != nil {
		logger.For(ctx).WithError(err).Warn("failed to snapshot training state")
	}

	r.mu.Lock()
	r.lastTrainingRun = r.now()
	r.lastRunAt = r.lastTrainingRun
	r.lastTrainings = merged
	r.mu.Unlock()
	return merged, nil
}

func (r *Reconciler) loadTrainingCache(ctx context.Context) trainingCache {
	var cache trainingCache
	if _, err := r.store.Get(ctx, r.scope.Key("trainings"), &cache); err != nil {
		logger.For(ctx).WithError(err).Warn("failed to read training snapshot")
	}
	return cache
}

// scanUpgradeEvents fetches UpgradeStarted and UpgradeFinished logs since the
// watermark and projects them into cacheable event records.
func (r *Reconciler) scanUpgradeEvents(ctx context.Context, prior persist.Watermark) ([]persist.CachedEvent, persist.Watermark, bool) {
	head, err := r.head.BlockNumber(ctx)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("head read failed, skipping training event scan")
		return nil, prior, false
	}
	logs, err := r.logs.FetchLogs(ctx, ethereum.FilterQuery{
		FromBlock: prior.ResumeFrom(r.reorgBuffer).BigInt(),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{r.contract},
		Topics:    [][]common.Hash{{contracts.UpgradeStartedTopic, contracts.UpgradeFinishedTopic}},
	})
	if err != nil {
		logger.For(ctx).WithError(err).Warn("training event scan failed")
		return nil, prior, false
	}

	// One header read per distinct start block; the log itself carries no timestamp.
	blockTimes := make(map[uint64]int64)
	timestampFor := func(block uint64) int64 {
		if ts, ok := blockTimes[block]; ok {
			return ts
		}
		ts, err := r.head.HeaderTimestamp(ctx, new(big.Int).SetUint64(block))
		if err != nil {
			logger.For(ctx).WithError(err).WithField("block", block).Warn("header timestamp read failed")
			ts = 0
		}
		blockTimes[block] = ts
		return ts
	}

	events := make([]persist.CachedEvent, 0, len(logs))
	for _, l := range logs {
		switch l.Topics[0] {
		case contracts.UpgradeStartedTopic:
			ev, err := contracts.ParseUpgradeStarted(l)
			if err != nil {
				continue
			}
			events = append(events, persist.CachedEvent{
				Kind:        persist.EventKindUpgradeStarted,
				TokenID:     ev.TokenID,
				Index:       uint64(ev.AttrIndex),
				BlockNumber: ev.Block,
				Timestamp:   timestampFor(uint64(ev.Block)),
				CompleteAt:  ev.CompleteAt,
			})
		case contracts.UpgradeFinishedTopic:
			ev, err := contracts.ParseUpgradeFinished(l)
			if err != nil {
				continue
			}
			success := ev.Success
			events = append(events, persist.CachedEvent{
				Kind:        persist.EventKindUpgradeFinished,
				TokenID:     ev.TokenID,
				Index:       uint64(ev.AttrIndex),
				BlockNumber: ev.Block,
				Success:     &success,
			})
		}
	}
	return events, persist.Watermark{LastScanned: persist.BlockNumber(head)}, true
}

// trainingsFromEvents derives one session per (token, attribute) from the merged
// event history. A session is in progress iff its latest start has no finish at or
// after the start block.
func trainingsFromEvents(events []persist.CachedEvent) []persist.Training {
	type pair struct {
		token persist.TokenID
		attr  int
	}
	sessions := make(map[pair]persist.Training)
	for _, e := range events {
		k := pair{token: e.TokenID, attr: int(e.Index)}
		switch e.Kind {
		case persist.EventKindUpgradeStarted:
			sessions[k] = persist.Training{
				TokenID:    e.TokenID,
				AttrIndex:  int(e.Index),
				StartTime:  e.Timestamp,
				CompleteAt: e.CompleteAt,
				Status:     persist.TrainingStatusInProgress,
				StartBlock: e.BlockNumber,
			}
		case persist.EventKindUpgradeFinished:
			t, ok := sessions[k]
			if !ok || t.StartBlock > e.BlockNumber {
				continue
			}
			if e.Success != nil && *e.Success {
				t.Status = persist.TrainingStatusSuccess
			} else {
				t.Status = persist.TrainingStatusFailure
			}
			sessions[k] = t
		}
	}

	trainings := make([]persist.Training, 0, len(sessions))
	for _, t := range sessions {
		trainings = append(trainings, t)
	}
	return trainings
}

// directTrainings confirms event-derived in-progress sessions against the contract.
// The direct read carries no attribute index, so it can only refresh sessions the
// event history already names; it refreshes their completion time and never
// downgrades a terminal record.
func (r *Reconciler) directTrainings(ctx context.Context, owned []persist.TokenID, known []persist.Training) []persist.Training {
	inProgress := make(map[persist.TokenID]persist.Training)
	for _, t := range known {
		if t.Status == persist.TrainingStatusInProgress {
			inProgress[t.TokenID] = t
		}
	}

	trainings := make([]persist.Training, 0, len(owned))
	for _, id := range owned {
		t, ok := inProgress[id]
		if !ok {
			continue
		}
		state, err := r.chain.UpgradeStateOf(ctx, id)
		if err != nil {
			logger.For(ctx).WithError(err).WithField("tokenID", id).Warn("training state check failed")
			continue
		}
		if !state.InProgress {
			continue
		}
		if state.CompleteAt > 0 {
			t.CompleteAt = state.CompleteAt
		}
		trainings = append(trainings, t)
	}
	return trainings
}
