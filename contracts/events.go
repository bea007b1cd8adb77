package contracts

import (
	"fmt"
	"math/big"

	"github.com/DaveHalls/nft-dark-forest/service/persist"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferEvent is a decoded ERC-721 Transfer log.
type TransferEvent struct {
	From    common.Address
	To      common.Address
	TokenID persist.TokenID
	Block   persist.BlockNumber
	Index   uint
}

// BattleInitiatedEvent is a decoded BattleInitiated log.
type BattleInitiatedEvent struct {
	RequestID  persist.BattleID
	AttackerID persist.TokenID
	DefenderID persist.TokenID
	RevealTime int64
	Block      persist.BlockNumber
	Index      uint
}

// BattleEndedEvent is a decoded BattleEnded log. The reason fields mirror the
// explanation the contract emits with every outcome.
type BattleEndedEvent struct {
	RequestID    persist.BattleID
	WinnerID     persist.TokenID
	LoserID      persist.TokenID
	WinnerOwner  common.Address
	ReasonCode   int
	Faster       int
	AttackerCrit int
	DefenderCrit int
	Block        persist.BlockNumber
	Index        uint
}

// UpgradeStartedEvent is a decoded UpgradeStarted log.
type UpgradeStartedEvent struct {
	TokenID    persist.TokenID
	AttrIndex  int
	CompleteAt int64
	Block      persist.BlockNumber
	Index      uint
}

// UpgradeFinishedEvent is a decoded UpgradeFinished log.
type UpgradeFinishedEvent struct {
	TokenID   persist.TokenID
	AttrIndex int
	Success   bool
	Block     persist.BlockNumber
	Index     uint
}

func checkTopics(l types.Log, topic common.Hash, want int) error {
	if len(l.Topics) != want || l.Topics[0] != topic {
		return fmt.Errorf("contracts: log is not a %s event", eventNameForTopic(topic))
	}
	return nil
}

func eventNameForTopic(topic common.Hash) string {
	for name, ev := range darkForestABI.Events {
		if ev.ID == topic {
			return name
		}
	}
	return topic.Hex()
}

// ParseTransfer decodes a Transfer log. All three fields are indexed, so the
// payload lives entirely in the topics.
func ParseTransfer(l types.Log) (TransferEvent, error) {
	if err := checkTopics(l, TransferTopic, 4); err != nil {
		return TransferEvent{}, err
	}
	return TransferEvent{
		From:    common.BytesToAddress(l.Topics[1].Bytes()),
		To:      common.BytesToAddress(l.Topics[2].Bytes()),
		TokenID: persist.TokenID(l.Topics[3].Big().Uint64()),
		Block:   persist.BlockNumber(l.BlockNumber),
		Index:   l.Index,
	}, nil
}

// ParseBattleInitiated decodes a BattleInitiated log.
func ParseBattleInitiated(l types.Log) (BattleInitiatedEvent, error) {
	if err := checkTopics(l, BattleInitiatedTopic, 2); err != nil {
		return BattleInitiatedEvent{}, err
	}
	vals, err := darkForestABI.Unpack("BattleInitiated", l.Data)
	if err != nil {
		return BattleInitiatedEvent{}, err
	}
	return BattleInitiatedEvent{
		RequestID:  persist.BattleID(l.Topics[1].Big().String()),
		AttackerID: persist.TokenID(vals[0].(*big.Int).Uint64()),
		DefenderID: persist.TokenID(vals[1].(*big.Int).Uint64()),
		RevealTime: int64(vals[2].(uint64)),
		Block:      persist.BlockNumber(l.BlockNumber),
		Index:      l.Index,
	}, nil
}

// ParseBattleEnded decodes a BattleEnded log.
func ParseBattleEnded(l types.Log) (BattleEndedEvent, error) {
	if err := checkTopics(l, BattleEndedTopic, 2); err != nil {
		return BattleEndedEvent{}, err
	}
	vals, err := darkForestABI.Unpack("BattleEnded", l.Data)
	if err != nil {
		return BattleEndedEvent{}, err
	}
	return BattleEndedEvent{
		RequestID:    persist.BattleID(l.Topics[1].Big().String()),
		WinnerID:     persist.TokenID(vals[0].(*big.Int).Uint64()),
		LoserID:      persist.TokenID(vals[1].(*big.Int).Uint64()),
		WinnerOwner:  vals[2].(common.Address),
		ReasonCode:   int(vals[3].(uint8)),
		Faster:       int(vals[4].(uint8)),
		AttackerCrit: int(vals[5].(uint8)),
		DefenderCrit: int(vals[6].(uint8)),
		Block:        persist.BlockNumber(l.BlockNumber),
		Index:        l.Index,
	}, nil
}

// ParseUpgradeStarted decodes an UpgradeStarted log.
func ParseUpgradeStarted(l types.Log) (UpgradeStartedEvent, error) {
	if err := checkTopics(l, UpgradeStartedTopic, 2); err != nil {
		return UpgradeStartedEvent{}, err
	}
	vals, err := darkForestABI.Unpack("UpgradeStarted", l.Data)
	if err != nil {
		return UpgradeStartedEvent{}, err
	}
	return UpgradeStartedEvent{
		TokenID:    persist.TokenID(l.Topics[1].Big().Uint64()),
		AttrIndex:  int(vals[0].(uint8)),
		CompleteAt: int64(vals[1].(uint64)),
		Block:      persist.BlockNumber(l.BlockNumber),
		Index:      l.Index,
	}, nil
}

// ParseUpgradeFinished decodes an UpgradeFinished log.
func ParseUpgradeFinished(l types.Log) (UpgradeFinishedEvent, error) {
	if err := checkTopics(l, UpgradeFinishedTopic, 2); err != nil {
		return UpgradeFinishedEvent{}, err
	}
	vals, err := darkForestABI.Unpack("UpgradeFinished", l.Data)
	if err != nil {
		return UpgradeFinishedEvent{}, err
	}
	return UpgradeFinishedEvent{
		TokenID:   persist.TokenID(l.Topics[1].Big().Uint64()),
		AttrIndex: int(vals[0].(uint8)),
		Success:   vals[1].(bool),
		Block:     persist.BlockNumber(l.BlockNumber),
		Index:     l.Index,
	}, nil
}
