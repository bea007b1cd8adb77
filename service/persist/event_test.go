package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEventsDeduplicatesByCompositeKey(t *testing.T) {
	cached := []CachedEvent{
		{Kind: EventKindUpgradeStarted, TokenID: 1, Index: 0, BlockNumber: 100},
		{Kind: EventKindUpgradeFinished, TokenID: 1, Index: 0, BlockNumber: 150},
	}
	// The re-scanned overlap window returns one already-known event plus one new one.
	fetched := []CachedEvent{
		{Kind: EventKindUpgradeFinished, TokenID: 1, Index: 0, BlockNumber: 150},
		{Kind: EventKindUpgradeStarted, TokenID: 2, Index: 1, BlockNumber: 160},
	}

	merged := MergeEvents(cached, fetched)
	assert.Len(t, merged, 3)
}

func TestMergeEventsCachedRecordWins(t *testing.T) {
	cached := []CachedEvent{{Kind: EventKindUpgradeStarted, TokenID: 1, Index: 0, BlockNumber: 100, CompleteAt: 500}}
	fetched := []CachedEvent{{Kind: EventKindUpgradeStarted, TokenID: 1, Index: 0, BlockNumber: 100}}

	merged := MergeEvents(cached, fetched)
	require.Len(t, merged, 1)
	assert.Equal(t, int64(500), merged[0].CompleteAt)
}

func TestMergeEventsSortedByBlock(t *testing.T) {
	merged := MergeEvents(nil, []CachedEvent{
		{TokenID: 3, Index: 0, BlockNumber: 300},
		{TokenID: 1, Index: 0, BlockNumber: 100},
		{TokenID: 2, Index: 0, BlockNumber: 200},
	})
	require.Len(t, merged, 3)
	for i := 1; i < len(merged); i++ {
		assert.Less(t, merged[i-1].BlockNumber, merged[i].BlockNumber)
	}
}

func TestSameBlockDistinctEventsAreKept(t *testing.T) {
	merged := MergeEvents(nil, []CachedEvent{
		{Kind: EventKindUpgradeStarted, TokenID: 1, Index: 0, BlockNumber: 100},
		{Kind: EventKindUpgradeStarted, TokenID: 1, Index: 1, BlockNumber: 100},
		{Kind: EventKindUpgradeStarted, TokenID: 2, Index: 0, BlockNumber: 100},
	})
	assert.Len(t, merged, 3)
}

func TestWatermarkResumeFromOverlapsReorgBuffer(t *testing.T) {
	w := Watermark{LastScanned: 10_000}
	assert.Equal(t, BlockNumber(9_937), w.ResumeFrom(64))

	// Resuming never starts past LastScanned - buffer + 1, so the overlap window is
	// always re-covered.
	assert.LessOrEqual(t, w.ResumeFrom(64).Uint64(), uint64(10_000-64+1))
}

func TestWatermarkResumeFromClampsAtGenesis(t *testing.T) {
	w := Watermark{LastScanned: 30}
	assert.Equal(t, BlockNumber(0), w.ResumeFrom(64))

	zero := Watermark{}
	assert.Equal(t, BlockNumber(0), zero.ResumeFrom(64))
}
