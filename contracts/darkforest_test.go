package contracts

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldAsRejectsWrongType(t *testing.T) {
	out := []interface{}{big.NewInt(7)}

	_, err := fieldAs[uint32]("getBattleRecord", out, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getBattleRecord")

	v, err := fieldAs[*big.Int]("getBattleRecord", out, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 7, v.Int64())
}

func TestFieldAsRejectsShortResult(t *testing.T) {
	_, err := fieldAs[bool]("getUpgradeState", []interface{}{true}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want at least 2")
}
