package operation

import (
	"context"
	"fmt"

	"github.com/DaveHalls/nft-dark-forest/contracts"
	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/DaveHalls/nft-dark-forest/service/rpc"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transactor is the slice of the game contract the flows write through.
type Transactor interface {
	InitiateBattle(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) (*types.Transaction, error)
	RevealBattle(ctx context.Context, opts *bind.TransactOpts, requestID persist.BattleID) (*types.Transaction, error)
	RetryReveal(ctx context.Context, opts *bind.TransactOpts, requestID persist.BattleID) (*types.Transaction, error)
	StartUpgrade(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) (*types.Transaction, error)
	FinishUpgrade(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) (*types.Transaction, error)
}

// ReceiptWaiter blocks until a submitted transaction is mined.
type ReceiptWaiter interface {
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Flow runs the user-facing operation lifecycles: submit, wait for the receipt, and
// move the tracker through the states the chain confirms.
type Flow struct {
	tracker  *Tracker
	chain    ChainReader
	tx       Transactor
	receipts ReceiptWaiter
	clock    *ChainClock
	notifier Notifier
}

// NewFlow wires the operation flows over the given collaborators.
func NewFlow(tracker *Tracker, chain ChainReader, tx Transactor, receipts ReceiptWaiter, clock *ChainClock, notifier Notifier) *Flow {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Flow{tracker: tracker, chain: chain, tx: tx, receipts: receipts, clock: clock, notifier: notifier}
}

// InitiateBattle submits a battle for the attacker and promotes the resulting
// placeholder once the receipt names the request. A wallet rejection removes the
// placeholder quietly; any other submission failure removes it loudly.
func (f *Flow) InitiateBattle(ctx context.Context, opts *bind.TransactOpts, attacker persist.TokenID) (persist.Battle, error) {
	f.tracker.BeginBattle(ctx, attacker)

	tx, err := f.tx.InitiateBattle(ctx, opts, attacker)
	if err != nil {
		f.tracker.RemovePlaceholder(ctx, attacker)
		if rpc.IsUserRejected(err) {
			f.notifier.Info(ctx, "battle cancelled")
			return persist.Battle{}, err
		}
		f.notifier.Error(ctx, fmt.Sprintf("battle submission failed: %s", err))
		return persist.Battle{}, err
	}

	receipt, err := f.receipts.WaitForReceipt(ctx, tx.Hash())
	if err != nil {
		return persist.Battle{}, err
	}

	for _, l := range receipt.Logs {
		ev, err := contracts.ParseBattleInitiated(*l)
		if err != nil {
			continue
		}
		f.tracker.PromoteBattle(ctx, ev.AttackerID, ev.RequestID, ev.DefenderID, ev.RevealTime)
		return persist.Battle{
			RequestID:       ev.RequestID,
			AttackerTokenID: ev.AttackerID,
			DefenderTokenID: ev.DefenderID,
			RevealTime:      ev.RevealTime,
			Status:          persist.BattleStatusWaiting,
		}, nil
	}
	return persist.Battle{}, fmt.Errorf("operation: receipt %s carries no battle event", tx.Hash())
}

// Reveal requests the decryption of a waiting battle. Pre-checks run against chain
// time, not the local clock. A contract refusal saying the battle already resolved
// is not a failure: the fresh request record is applied instead of guessing.
func (f *Flow) Reveal(ctx context.Context, opts *bind.TransactOpts, requestID persist.BattleID) error {
	request, err := f.chain.BattleRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	now := f.clock.Now(ctx)
	if !request.IsPending {
		f.tracker.Apply(ctx, synthesize(request, now))
		return nil
	}
	if request.IsRevealed {
		// Revealed but still pending: the decryption callback has not landed yet.
		// There is nothing to submit; keep the battle in revealing.
		f.tracker.Apply(ctx, synthesize(request, now))
		return nil
	}
	if now < request.RevealTime {
		return fmt.Errorf("operation: battle %s not revealable for another %ds", requestID, request.RevealTime-now)
	}

	tx, err := f.tx.RevealBattle(ctx, opts, requestID)
	if err != nil {
		if rpc.IsAlreadyResolved(err) {
			return f.refresh(ctx, requestID)
		}
		if rpc.IsUserRejected(err) {
			f.notifier.Info(ctx, "reveal cancelled")
			return err
		}
		return err
	}
	f.tracker.MarkRevealing(ctx, requestID)

	if _, err := f.receipts.WaitForReceipt(ctx, tx.Hash()); err != nil {
		return err
	}
	return f.refresh(ctx, requestID)
}

// RetryReveal re-requests the decryption callback for a battle stuck in revealing.
func (f *Flow) RetryReveal(ctx context.Context, opts *bind.TransactOpts, requestID persist.BattleID) error {
	tx, err := f.tx.RetryReveal(ctx, opts, requestID)
	if err != nil {
		if rpc.IsAlreadyResolved(err) {
			return f.refresh(ctx, requestID)
		}
		return err
	}
	if _, err := f.receipts.WaitForReceipt(ctx, tx.Hash()); err != nil {
		return err
	}
	return f.refresh(ctx, requestID)
}

// refresh re-reads the request record and applies whatever the chain says.
func (f *Flow) refresh(ctx context.Context, requestID persist.BattleID) error {
	request, err := f.chain.BattleRequestByID(ctx, requestID)
	if err != nil {
		return err
	}
	f.tracker.Apply(ctx, synthesize(request, f.clock.Now(ctx)))
	return nil
}

// StartTraining submits a training session for the token.
func (f *Flow) StartTraining(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) error {
	tx, err := f.tx.StartUpgrade(ctx, opts, tokenID)
	if err != nil {
		if rpc.IsUserRejected(err) {
			f.notifier.Info(ctx, "training cancelled")
		}
		return err
	}
	if _, err := f.receipts.WaitForReceipt(ctx, tx.Hash()); err != nil {
		return err
	}
	f.notifier.Info(ctx, fmt.Sprintf("hero #%s started training", tokenID))
	return nil
}

// FinishTraining claims a completed training session for the token.
func (f *Flow) FinishTraining(ctx context.Context, opts *bind.TransactOpts, tokenID persist.TokenID) error {
	tx, err := f.tx.FinishUpgrade(ctx, opts, tokenID)
	if err != nil {
		if rpc.IsUserRejected(err) {
			f.notifier.Info(ctx, "training claim cancelled")
		}
		return err
	}
	receipt, err := f.receipts.WaitForReceipt(ctx, tx.Hash())
	if err != nil {
		return err
	}
	for _, l := range receipt.Logs {
		ev, err := contracts.ParseUpgradeFinished(*l)
		if err != nil {
			continue
		}
		if ev.Success {
			f.notifier.Success(ctx, fmt.Sprintf("hero #%s improved %s", ev.TokenID, persist.AttributeName(ev.AttrIndex)))
		} else {
			f.notifier.Error(ctx, fmt.Sprintf("hero #%s failed to improve %s", ev.TokenID, persist.AttributeName(ev.AttrIndex)))
		}
		return nil
	}
	return nil
}
