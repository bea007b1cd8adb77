package persist

import "sort"

const (
	// TrainingStatusInProgress marks a training session awaiting completion
	TrainingStatusInProgress TrainingStatus = "training"
	// TrainingStatusSuccess marks a training session that improved the attribute
	TrainingStatusSuccess TrainingStatus = "success"
	// TrainingStatusFailure marks a training session that did not improve the attribute
	TrainingStatusFailure TrainingStatus = "failure"
)

// TrainingStatus represents where a training session is in its lifecycle
type TrainingStatus string

// Rank orders training statuses the same way battle ranks do: terminal outcomes
// always win a merge against an in-progress duplicate.
func (s TrainingStatus) Rank() int {
	switch s {
	case TrainingStatusSuccess, TrainingStatusFailure:
		return 2
	case TrainingStatusInProgress:
		return 1
	default:
		return 0
	}
}

// Terminal reports whether the status is a final one
func (s TrainingStatus) Terminal() bool {
	return s == TrainingStatusSuccess || s == TrainingStatusFailure
}

// Training represents one training session of a hero attribute.
type Training struct {
	TokenID    TokenID        `json:"tokenId"`
	AttrIndex  int            `json:"attrIndex"`
	StartTime  int64          `json:"startTime"`
	CompleteAt int64          `json:"completeAt"`
	Status     TrainingStatus `json:"status"`
	StartBlock BlockNumber    `json:"startBlock"`
}

// AttrName returns the display name of the attribute being trained.
func (t Training) AttrName() string {
	return AttributeName(t.AttrIndex)
}

func (t Training) mergeKey() [2]uint64 {
	return [2]uint64{uint64(t.TokenID), uint64(t.AttrIndex)}
}

// MergeTrainings folds training fact lists keyed by (token, attribute), with the
// same rank-monotonic semantics as MergeBattles. A newer start of the same
// (token, attribute) pair replaces an older terminal record only when its start
// block is higher, so retraining the same attribute creates a fresh record.
func MergeTrainings(lists ...[]Training) []Training {
	byKey := make(map[[2]uint64]Training)
	for _, list := range lists {
		for _, t := range list {
			key := t.mergeKey()
			prev, ok := byKey[key]
			if !ok {
				byKey[key] = t
				continue
			}
			byKey[key] = mergeTraining(prev, t)
		}
	}

	merged := make([]Training, 0, len(byKey))
	for _, t := range byKey {
		merged = append(merged, t)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].TokenID != merged[j].TokenID {
			return merged[i].TokenID < merged[j].TokenID
		}
		return merged[i].AttrIndex < merged[j].AttrIndex
	})
	return merged
}

func mergeTraining(prev, next Training) Training {
	// A strictly newer session for the same pair supersedes a terminal older one.
	if next.StartBlock > prev.StartBlock {
		return next
	}
	if prev.StartBlock > next.StartBlock {
		return prev
	}

	var base, other Training
	if next.Status.Rank() >= prev.Status.Rank() {
		base, other = next, prev
	} else {
		base, other = prev, next
	}
	if base.StartTime == 0 {
		base.StartTime = other.StartTime
	}
	if base.CompleteAt == 0 {
		base.CompleteAt = other.CompleteAt
	}
	return base
}
