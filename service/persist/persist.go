package persist

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the all-zero Ethereum address
const ZeroAddress EthereumAddress = "0x0000000000000000000000000000000000000000"

// EthereumAddress represents an Ethereum address
type EthereumAddress string

// Address returns the geth representation of the address
func (a EthereumAddress) Address() common.Address {
	return common.HexToAddress(string(a))
}

// String returns the normalized lower-case hex form of the address
func (a EthereumAddress) String() string {
	return strings.ToLower(string(a))
}

// TokenID represents the identifier of one hero NFT
type TokenID uint64

// BigInt returns the token id as a big.Int
func (t TokenID) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(t))
}

func (t TokenID) String() string {
	return fmt.Sprintf("%d", uint64(t))
}

// BlockNumber represents an Ethereum block number
type BlockNumber uint64

// BigInt returns the block number as a big.Int
func (b BlockNumber) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(b))
}

// Uint64 returns the block number as a uint64
func (b BlockNumber) Uint64() uint64 {
	return uint64(b)
}

// BattleID represents the identifier of one battle request. The empty string marks a
// locally-originated placeholder whose submitting transaction has not been mined yet.
type BattleID string

func (b BattleID) String() string {
	return string(b)
}

// BigInt returns the battle id as a big.Int, or nil for a placeholder id.
func (b BattleID) BigInt() *big.Int {
	if b == "" {
		return nil
	}
	i, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return nil
	}
	return i
}

// Chain represents which blockchain an asset is on
type Chain int

const (
	// ChainETH represents the Ethereum blockchain
	ChainETH Chain = iota
	// ChainSepolia represents the Sepolia test network
	ChainSepolia
)
