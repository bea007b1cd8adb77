package persist

// Asset represents one hero NFT held by the connected account, together with the
// derived state the UI renders. Created when a transfer-in event or the direct
// ownership query includes it; dropped from the working set when ownership moves away.
type Asset struct {
	TokenID       TokenID   `json:"tokenId"`
	Class         HeroClass `json:"classId"`
	ClassName     string    `json:"className"`
	ImageURL      string    `json:"imageUrl"`
	Wins          uint32    `json:"wins"`
	Losses        uint32    `json:"losses"`
	CooldownUntil int64     `json:"cooldownUntil"`
	// Training state. TrainingCompleteAt is zero when the asset is not training.
	IsTraining         bool  `json:"isTraining"`
	TrainingCompleteAt int64 `json:"trainingCompleteAt,omitempty"`
}

// CooldownRemaining returns the seconds of battle cooldown left at now.
func (a Asset) CooldownRemaining(now int64) int64 {
	if remaining := a.CooldownUntil - now; remaining > 0 {
		return remaining
	}
	return 0
}

// TrainingRemaining returns the seconds of training left at now, or zero when the
// asset is not training or training is ready to be finished.
func (a Asset) TrainingRemaining(now int64) int64 {
	if !a.IsTraining {
		return 0
	}
	if remaining := a.TrainingCompleteAt - now; remaining > 0 {
		return remaining
	}
	return 0
}

// BattleRecord is the normalized result of the battle-record contract read.
type BattleRecord struct {
	Wins          uint32
	Losses        uint32
	CooldownUntil int64
}

// UpgradeState is the normalized result of the training-state contract read.
type UpgradeState struct {
	InProgress bool
	CompleteAt int64
}

// BattleRequest is the normalized result of the battle-request contract read. It is
// the single canonical shape downstream logic sees, regardless of whether the node
// returned a tuple or a named struct.
type BattleRequest struct {
	RequestID       BattleID
	AttackerTokenID TokenID
	DefenderTokenID TokenID
	RevealTime      int64
	IsPending       bool
	IsRevealed      bool
	AttackerWins    bool
}
