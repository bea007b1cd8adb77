package operation

import (
	"context"
	"sync"
	"time"

	"github.com/DaveHalls/nft-dark-forest/service/logger"
)

// BlockTimeReader reports the timestamp of the latest block.
type BlockTimeReader interface {
	LatestBlockTime(ctx context.Context) (int64, error)
}

// ChainClock derives countdowns from chain time instead of the local wall clock.
// Reveal deadlines are enforced by block timestamps, so a skewed local clock would
// otherwise let a reveal be attempted early and revert. The offset is sampled once
// per session; block-time drift within a session is smaller than the reveal window.
type ChainClock struct {
	head BlockTimeReader

	mu      sync.Mutex
	fetched bool
	offset  int64
}

// NewChainClock returns a clock synchronized against head.
func NewChainClock(head BlockTimeReader) *ChainClock {
	return &ChainClock{head: head}
}

// Now returns the current chain-adjusted unix time. If the offset has not been
// sampled yet it is fetched; on failure the local clock is used and sampling is
// retried on the next call.
func (c *ChainClock) Now(ctx context.Context) int64 {
	local := time.Now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetched {
		blockTime, err := c.head.LatestBlockTime(ctx)
		if err != nil {
			logger.For(ctx).WithError(err).Warn("chain clock sync failed, using local time")
			return local
		}
		c.offset = blockTime - local
		c.fetched = true
	}
	return local + c.offset
}

// Countdown returns how long until revealTime in chain-adjusted terms, or zero when
// the time has passed.
func (c *ChainClock) Countdown(ctx context.Context, revealTime int64) time.Duration {
	if remaining := revealTime - c.Now(ctx); remaining > 0 {
		return time.Duration(remaining) * time.Second
	}
	return 0
}
