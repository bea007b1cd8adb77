// Package operation tracks in-flight battles and trainings for the connected
// account and drives their lifecycle transitions. Multiple producers (user actions,
// the reveal poller, the push subscription, reconcile passes) feed one idempotent
// consumer, so a fact arriving twice or out of order never corrupts the view.
package operation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/util"
	lru "github.com/hashicorp/golang-lru"
)

const notifiedCacheSize = 512

// Notifier receives user-facing outcome messages. The daemon wires a logger-backed
// implementation; a UI would wire its own.
type Notifier interface {
	Info(ctx context.Context, msg string)
	Success(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
}

// LogNotifier reports outcomes through the structured logger.
type LogNotifier struct{}

func (LogNotifier) Info(ctx context.Context, msg string)    { logger.For(ctx).Info(msg) }
func (LogNotifier) Success(ctx context.Context, msg string) { logger.For(ctx).Info(msg) }
func (LogNotifier) Error(ctx context.Context, msg string)   { logger.For(ctx).Error(msg) }

// Tracker holds the live operation list. All mutations funnel through a rank-
// monotonic merge, and the completion notification for a given battle fires at most
// once per session regardless of how many producers report it.
type Tracker struct {
	mu       sync.Mutex
	battles  []persist.Battle
	notifier Notifier
	notified *lru.Cache
}

// NewTracker returns an empty tracker reporting through notifier.
func NewTracker(notifier Notifier) *Tracker {
	notified, _ := lru.New(notifiedCacheSize)
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Tracker{notifier: notifier, notified: notified}
}

// BeginBattle records a placeholder for a battle whose submitting transaction has
// not been mined yet. The placeholder is keyed by attacker token and is superseded
// automatically once a real record with a request id arrives.
func (t *Tracker) BeginBattle(ctx context.Context, attacker persist.TokenID) persist.Battle {
	placeholder := persist.Battle{
		AttackerTokenID: attacker,
		Status:          persist.BattleStatusInitiating,
	}
	t.Apply(ctx, placeholder)
	return placeholder
}

// PromoteBattle upgrades the attacker's placeholder with the identity the mined
// receipt assigned to it.
func (t *Tracker) PromoteBattle(ctx context.Context, attacker persist.TokenID, requestID persist.BattleID, defender persist.TokenID, revealTime int64) {
	t.Apply(ctx, persist.Battle{
		RequestID:       requestID,
		AttackerTokenID: attacker,
		DefenderTokenID: defender,
		RevealTime:      revealTime,
		Status:          persist.BattleStatusWaiting,
	})
}

// MarkRevealing records that a reveal was requested for the battle.
func (t *Tracker) MarkRevealing(ctx context.Context, requestID persist.BattleID) {
	t.mu.Lock()
	var found *persist.Battle
	for _, b := range t.battles {
		if b.RequestID == requestID {
			b := b
			found = &b
			break
		}
	}
	t.mu.Unlock()
	if found == nil {
		t.Apply(ctx, persist.Battle{RequestID: requestID, Status: persist.BattleStatusRevealing})
		return
	}
	found.Status = persist.BattleStatusRevealing
	t.Apply(ctx, *found)
}

// Apply rank-merges one battle fact into the tracked list. Applying the same fact
// again is a no-op, and a fact with a lower-ranked status than what is already
// tracked changes nothing.
func (t *Tracker) Apply(ctx context.Context, battle persist.Battle) {
	t.mu.Lock()
	t.battles = persist.MergeBattles(t.battles, []persist.Battle{battle})
	completed := make([]persist.Battle, 0, 1)
	for _, b := range t.battles {
		if !b.Status.Terminal() || b.IsPlaceholder() || t.notified.Contains(b.RequestID) {
			continue
		}
		t.notified.Add(b.RequestID, struct{}{})
		completed = append(completed, b)
	}
	t.mu.Unlock()

	for _, b := range completed {
		t.announce(ctx, b)
	}
}

func (t *Tracker) announce(ctx context.Context, b persist.Battle) {
	if b.Result == persist.BattleResultWin {
		t.notifier.Success(ctx, fmt.Sprintf("hero #%s won battle %s", b.AttackerTokenID, b.RequestID))
		return
	}
	t.notifier.Error(ctx, fmt.Sprintf("hero #%s lost battle %s", b.AttackerTokenID, b.RequestID))
}

// Remove drops a battle from the tracked list, typically after the user dismisses a
// completed record.
func (t *Tracker) Remove(ctx context.Context, requestID persist.BattleID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.battles = util.Filter(t.battles, func(b persist.Battle) bool {
		return b.RequestID != requestID
	})
}

// RemovePlaceholder drops the attacker's not-yet-mined placeholder, used when the
// submitting transaction is rejected.
func (t *Tracker) RemovePlaceholder(ctx context.Context, attacker persist.TokenID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.battles = util.Filter(t.battles, func(b persist.Battle) bool {
		return !(b.IsPlaceholder() && b.AttackerTokenID == attacker)
	})
}

// Snapshot returns a copy of the tracked battle list.
func (t *Tracker) Snapshot() []persist.Battle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]persist.Battle(nil), t.battles...)
}

// Revealing returns the battles currently awaiting a decryption callback.
func (t *Tracker) Revealing() []persist.Battle {
	t.mu.Lock()
	defer t.mu.Unlock()
	revealing := make([]persist.Battle, 0, len(t.battles))
	for _, b := range t.battles {
		if b.Status == persist.BattleStatusRevealing {
			revealing = append(revealing, b)
		}
	}
	return revealing
}

// Counts returns how many tracked battles are pending and completed.
func (t *Tracker) Counts() (pending, completed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.battles {
		if b.Status.Terminal() {
			completed++
		} else {
			pending++
		}
	}
	return pending, completed
}

// StaleRevealing returns battles that have been revealable for longer than the wait
// window without resolving. It is advisory only: callers surface a retry nudge, the
// record stays in revealing until the chain says otherwise.
func (t *Tracker) StaleRevealing(now time.Time, window time.Duration) []persist.Battle {
	cutoff := now.Add(-window).Unix()
	t.mu.Lock()
	defer t.mu.Unlock()
	stale := make([]persist.Battle, 0, len(t.battles))
	for _, b := range t.battles {
		if b.Status == persist.BattleStatusRevealing && b.RevealTime > 0 && b.RevealTime < cutoff {
			stale = append(stale, b)
		}
	}
	return stale
}
