package persist

import (
	"sort"
)

const (
	// BattleStatusInitiating marks a battle whose submitting transaction has not been
	// mined yet; the record carries no request id.
	BattleStatusInitiating BattleStatus = "initiating"
	// BattleStatusWaiting marks a battle waiting for its reveal time to pass
	BattleStatusWaiting BattleStatus = "waiting"
	// BattleStatusRevealing marks a battle whose reveal was requested and is awaiting
	// the decryption callback
	BattleStatusRevealing BattleStatus = "revealing"
	// BattleStatusCompleted marks a resolved battle
	BattleStatusCompleted BattleStatus = "completed"
)

const (
	// BattleResultWin means the attacker won
	BattleResultWin BattleResult = "win"
	// BattleResultLoss means the attacker lost
	BattleResultLoss BattleResult = "loss"
)

// BattleStatus represents where a battle is in its lifecycle
type BattleStatus string

// BattleResult represents the outcome of a completed battle from the attacker's side
type BattleResult string

// Rank orders statuses so that merge conflicts resolve toward the more terminal
// state. A completed record can never be downgraded by a later-arriving duplicate.
func (s BattleStatus) Rank() int {
	switch s {
	case BattleStatusWaiting:
		return 1
	case BattleStatusRevealing:
		return 2
	case BattleStatusCompleted:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether the status is a final one
func (s BattleStatus) Terminal() bool {
	return s == BattleStatusCompleted
}

// Battle represents one asynchronous battle request awaiting resolution, or a
// resolved one retained until the user clears it.
type Battle struct {
	RequestID       BattleID     `json:"requestId"`
	AttackerTokenID TokenID      `json:"attackerTokenId"`
	DefenderTokenID TokenID      `json:"defenderTokenId"`
	Status          BattleStatus `json:"status"`
	RevealTime      int64        `json:"revealTime"`
	Result          BattleResult `json:"result,omitempty"`

	// Outcome-explanation fields recovered from the BattleEnded event. Nil until the
	// event has been observed; a record stays valid without them, just less detailed.
	ReasonCode   *int `json:"reasonCode,omitempty"`
	Faster       *int `json:"faster,omitempty"`
	AttackerCrit *int `json:"attackerCrit,omitempty"`
	DefenderCrit *int `json:"defenderCrit,omitempty"`
}

// IsPlaceholder reports whether the battle is a locally-originated record for a
// submitted-but-not-yet-mined transaction.
func (b Battle) IsPlaceholder() bool {
	return b.RequestID == ""
}

func (b Battle) mergeKey() string {
	if b.IsPlaceholder() {
		return "local:" + b.AttackerTokenID.String()
	}
	return "req:" + b.RequestID.String()
}

// MergeBattles folds battle fact lists into a deduplicated list keyed by request id.
// Later lists are treated as newer. For records sharing an id the higher-ranked
// status wins; on a rank tie the newer record wins field-by-field, keeping the older
// record's explanation fields where the newer one has none. Placeholders are matched
// by attacker token and discarded once a non-terminal real record for that attacker
// exists; completed history for the attacker leaves the placeholder alone. The
// fold is idempotent and rank-monotonic, so replaying the same facts in any order
// converges on the same list.
func MergeBattles(lists ...[]Battle) []Battle {
	byKey := make(map[string]Battle)
	for _, list := range lists {
		for _, b := range list {
			key := b.mergeKey()
			prev, ok := byKey[key]
			if !ok {
				byKey[key] = b
				continue
			}
			byKey[key] = mergeBattle(prev, b)
		}
	}

	// A placeholder is superseded once a non-terminal real record exists for its
	// attacker: that record proves the submission was mined. A completed battle for
	// the same attacker is history, not evidence, and must not consume an in-flight
	// placeholder.
	realAttackers := make(map[TokenID]struct{})
	for _, b := range byKey {
		if !b.IsPlaceholder() && !b.Status.Terminal() {
			realAttackers[b.AttackerTokenID] = struct{}{}
		}
	}

	merged := make([]Battle, 0, len(byKey))
	for _, b := range byKey {
		if b.IsPlaceholder() {
			if _, superseded := realAttackers[b.AttackerTokenID]; superseded {
				continue
			}
		}
		merged = append(merged, b)
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.IsPlaceholder() != b.IsPlaceholder() {
			return !a.IsPlaceholder()
		}
		if a.RequestID != b.RequestID {
			return less(a.RequestID, b.RequestID)
		}
		return a.AttackerTokenID < b.AttackerTokenID
	})
	return merged
}

// mergeBattle combines two records for the same battle. next is the newer fact.
func mergeBattle(prev, next Battle) Battle {
	var base, other Battle
	if next.Status.Rank() >= prev.Status.Rank() {
		base, other = next, prev
	} else {
		base, other = prev, next
	}

	if base.RequestID == "" {
		base.RequestID = other.RequestID
	}
	if base.DefenderTokenID == 0 {
		base.DefenderTokenID = other.DefenderTokenID
	}
	if base.RevealTime == 0 {
		base.RevealTime = other.RevealTime
	}
	if base.Result == "" {
		base.Result = other.Result
	}
	if base.ReasonCode == nil {
		base.ReasonCode = other.ReasonCode
	}
	if base.Faster == nil {
		base.Faster = other.Faster
	}
	if base.AttackerCrit == nil {
		base.AttackerCrit = other.AttackerCrit
	}
	if base.DefenderCrit == nil {
		base.DefenderCrit = other.DefenderCrit
	}
	return base
}

func less(a, b BattleID) bool {
	ai, bi := a.BigInt(), b.BigInt()
	if ai != nil && bi != nil {
		return ai.Cmp(bi) < 0
	}
	return a < b
}

// OngoingBattles filters a merged list down to the non-terminal records.
func OngoingBattles(battles []Battle) []Battle {
	ongoing := make([]Battle, 0, len(battles))
	for _, b := range battles {
		if !b.Status.Terminal() {
			ongoing = append(ongoing, b)
		}
	}
	return ongoing
}
