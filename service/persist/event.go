package persist

import "sort"

const (
	// EventKindTransferIn marks a Transfer log moving a token to the account
	EventKindTransferIn EventKind = "transfer-in"
	// EventKindTransferOut marks a Transfer log moving a token away from the account
	EventKindTransferOut EventKind = "transfer-out"
	// EventKindUpgradeStarted marks an UpgradeStarted log
	EventKindUpgradeStarted EventKind = "upgrade-started"
	// EventKindUpgradeFinished marks an UpgradeFinished log
	EventKindUpgradeFinished EventKind = "upgrade-finished"
	// EventKindBattleEnded marks a BattleEnded log
	EventKindBattleEnded EventKind = "battle-ended"
)

// EventKind tags a cached event record with the log it was projected from
type EventKind string

// CachedEvent is a flattened, JSON-serializable projection of one historical log
// entry, kept so already-scanned block ranges never need re-fetching.
type CachedEvent struct {
	Kind        EventKind   `json:"kind"`
	TokenID     TokenID     `json:"tokenId"`
	Index       uint64      `json:"index"`
	BlockNumber BlockNumber `json:"blockNumber"`
	Timestamp   int64       `json:"timestamp,omitempty"`

	// Kind-specific payload.
	CompleteAt int64    `json:"completeAt,omitempty"` // upgrade-started
	Success    *bool    `json:"success,omitempty"`    // upgrade-finished
	RequestID  BattleID `json:"requestId,omitempty"`  // battle-ended
	LoserID    TokenID  `json:"loserId,omitempty"`    // battle-ended
}

// EventCompositeKey identifies a cached event by (token id, secondary index, block
// number); two records with the same key are the same on-chain fact.
type EventCompositeKey struct {
	TokenID     TokenID
	Index       uint64
	BlockNumber BlockNumber
}

// Key returns the dedup key of the event.
func (e CachedEvent) Key() EventCompositeKey {
	return EventCompositeKey{TokenID: e.TokenID, Index: e.Index, BlockNumber: e.BlockNumber}
}

// MergeEvents merges newly fetched event records into a cached set, deduplicating by
// composite key. Order is by block number, then token, then index.
func MergeEvents(cached, fetched []CachedEvent) []CachedEvent {
	byKey := make(map[EventCompositeKey]CachedEvent, len(cached)+len(fetched))
	for _, e := range cached {
		byKey[e.Key()] = e
	}
	for _, e := range fetched {
		if _, ok := byKey[e.Key()]; ok {
			continue
		}
		byKey[e.Key()] = e
	}

	merged := make([]CachedEvent, 0, len(byKey))
	for _, e := range byKey {
		merged = append(merged, e)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		if merged[i].TokenID != merged[j].TokenID {
			return merged[i].TokenID < merged[j].TokenID
		}
		return merged[i].Index < merged[j].Index
	})
	return merged
}

// Watermark records the highest block already incorporated into a cached scan.
type Watermark struct {
	LastScanned BlockNumber `json:"lastScanned"`
}

// ResumeFrom returns the block a resumed scan should start at. The scan re-covers a
// reorg-buffer-sized tail of already-seen blocks rather than assuming finality, so
// the starting block is always at most LastScanned - buffer + 1.
func (w Watermark) ResumeFrom(reorgBuffer uint64) BlockNumber {
	last := w.LastScanned.Uint64()
	if last <= reorgBuffer {
		return 0
	}
	return BlockNumber(last - reorgBuffer + 1)
}
