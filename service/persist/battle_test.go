package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBattleStatusRankOrdering(t *testing.T) {
	assert.Less(t, BattleStatusInitiating.Rank(), BattleStatusWaiting.Rank())
	assert.Less(t, BattleStatusWaiting.Rank(), BattleStatusRevealing.Rank())
	assert.Less(t, BattleStatusRevealing.Rank(), BattleStatusCompleted.Rank())
	assert.True(t, BattleStatusCompleted.Terminal())
	assert.False(t, BattleStatusRevealing.Terminal())
}

func TestMergeBattlesIsIdempotent(t *testing.T) {
	battles := []Battle{
		{RequestID: "7", AttackerTokenID: 1, DefenderTokenID: 2, Status: BattleStatusWaiting, RevealTime: 100},
		{RequestID: "9", AttackerTokenID: 3, DefenderTokenID: 4, Status: BattleStatusCompleted, Result: BattleResultWin},
	}

	once := MergeBattles(battles)
	twice := MergeBattles(once, battles, battles)
	assert.Equal(t, once, twice)
}

func TestMergeBattlesNeverDowngrades(t *testing.T) {
	completed := Battle{RequestID: "7", AttackerTokenID: 1, Status: BattleStatusCompleted, Result: BattleResultWin}
	stale := Battle{RequestID: "7", AttackerTokenID: 1, Status: BattleStatusWaiting, RevealTime: 100}

	// The stale fact arrives after the completed one.
	merged := MergeBattles([]Battle{completed}, []Battle{stale})
	require.Len(t, merged, 1)
	assert.Equal(t, BattleStatusCompleted, merged[0].Status)
	assert.Equal(t, BattleResultWin, merged[0].Result)

	// And in the opposite order.
	merged = MergeBattles([]Battle{stale}, []Battle{completed})
	require.Len(t, merged, 1)
	assert.Equal(t, BattleStatusCompleted, merged[0].Status)
}

func TestMergeBattlesOrderIndependent(t *testing.T) {
	a := []Battle{{RequestID: "1", AttackerTokenID: 1, Status: BattleStatusWaiting, RevealTime: 50}}
	b := []Battle{{RequestID: "1", AttackerTokenID: 1, Status: BattleStatusRevealing}}
	c := []Battle{{RequestID: "2", AttackerTokenID: 5, Status: BattleStatusCompleted, Result: BattleResultLoss}}

	ab := MergeBattles(a, b, c)
	ba := MergeBattles(c, b, a)
	assert.Equal(t, ab, ba)
}

func TestMergeBattlesKeepsOlderExplanationFields(t *testing.T) {
	reason := 2
	enriched := Battle{RequestID: "7", Status: BattleStatusCompleted, Result: BattleResultWin, ReasonCode: &reason}
	bare := Battle{RequestID: "7", Status: BattleStatusCompleted, Result: BattleResultWin}

	merged := MergeBattles([]Battle{enriched}, []Battle{bare})
	require.Len(t, merged, 1)
	require.NotNil(t, merged[0].ReasonCode)
	assert.Equal(t, 2, *merged[0].ReasonCode)
}

func TestMergeBattlesFillsMissingFieldsFromLowerRank(t *testing.T) {
	waiting := Battle{RequestID: "7", AttackerTokenID: 1, DefenderTokenID: 2, Status: BattleStatusWaiting, RevealTime: 100}
	ended := Battle{RequestID: "7", Status: BattleStatusCompleted, Result: BattleResultWin}

	merged := MergeBattles([]Battle{waiting}, []Battle{ended})
	require.Len(t, merged, 1)
	assert.Equal(t, BattleStatusCompleted, merged[0].Status)
	assert.Equal(t, TokenID(2), merged[0].DefenderTokenID)
	assert.Equal(t, int64(100), merged[0].RevealTime)
}

func TestMergeBattlesPlaceholderSuperseded(t *testing.T) {
	placeholder := Battle{AttackerTokenID: 1, Status: BattleStatusInitiating}
	real := Battle{RequestID: "7", AttackerTokenID: 1, DefenderTokenID: 2, Status: BattleStatusWaiting}

	merged := MergeBattles([]Battle{placeholder}, []Battle{real})
	require.Len(t, merged, 1)
	assert.Equal(t, BattleID("7"), merged[0].RequestID)
}

func TestMergeBattlesPlaceholderSurvivesCompletedHistory(t *testing.T) {
	// A completed battle for the attacker is history, not evidence that the fresh
	// submission was mined. It must not swallow the placeholder.
	placeholder := Battle{AttackerTokenID: 21, Status: BattleStatusInitiating}
	history := Battle{RequestID: "5", AttackerTokenID: 21, Status: BattleStatusCompleted, Result: BattleResultWin}

	merged := MergeBattles([]Battle{history}, []Battle{placeholder})
	require.Len(t, merged, 2)
	assert.Equal(t, BattleID("5"), merged[0].RequestID)
	assert.True(t, merged[1].IsPlaceholder())
}

func TestMergeBattlesPlaceholderSurvivesForOtherToken(t *testing.T) {
	placeholder := Battle{AttackerTokenID: 9, Status: BattleStatusInitiating}
	real := Battle{RequestID: "7", AttackerTokenID: 1, Status: BattleStatusWaiting}

	merged := MergeBattles([]Battle{placeholder, real})
	assert.Len(t, merged, 2)
}

func TestMergeBattlesSortsByNumericRequestID(t *testing.T) {
	merged := MergeBattles([]Battle{
		{RequestID: "10", AttackerTokenID: 1, Status: BattleStatusWaiting},
		{RequestID: "2", AttackerTokenID: 2, Status: BattleStatusWaiting},
		{AttackerTokenID: 3, Status: BattleStatusInitiating},
	})
	require.Len(t, merged, 3)
	assert.Equal(t, BattleID("2"), merged[0].RequestID)
	assert.Equal(t, BattleID("10"), merged[1].RequestID)
	assert.True(t, merged[2].IsPlaceholder())
}

func TestOngoingBattles(t *testing.T) {
	battles := []Battle{
		{RequestID: "1", Status: BattleStatusWaiting},
		{RequestID: "2", Status: BattleStatusCompleted},
		{RequestID: "3", Status: BattleStatusRevealing},
	}
	ongoing := OngoingBattles(battles)
	require.Len(t, ongoing, 2)
	for _, b := range ongoing {
		assert.False(t, b.Status.Terminal())
	}
}
