package rpc

import (
	"context"
	"math/big"

	"github.com/DaveHalls/nft-dark-forest/env"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const (
	defaultChunkSize  = 2000
	fallbackChunkSize = 10
)

func init() {
	env.SetDefault("LOGS_CHUNK_SIZE", defaultChunkSize)
}

type getLogsFunc func(ctx context.Context, client *ethclient.Client, q ethereum.FilterQuery) ([]types.Log, error)

// ChunkedFetcher fetches event logs over a block range by splitting the range into
// bounded chunks, shrinking a chunk that trips an oversized-range rejection down to a
// much smaller width and resuming subsequent chunks at the original width. Chunks are
// processed strictly in increasing block order and results concatenated in that
// order; a non-retryable error aborts the whole fetch.
type ChunkedFetcher struct {
	pool         *Pool
	chunkSize    uint64
	fallbackSize uint64

	getLogs getLogsFunc
}

// NewChunkedFetcher creates a fetcher over pool with the configured chunk width.
func NewChunkedFetcher(pool *Pool) *ChunkedFetcher {
	chunkSize := uint64(env.GetInt64("LOGS_CHUNK_SIZE"))
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	return &ChunkedFetcher{
		pool:         pool,
		chunkSize:    chunkSize,
		fallbackSize: fallbackChunkSize,
		getLogs: func(ctx context.Context, client *ethclient.Client, q ethereum.FilterQuery) ([]types.Log, error) {
			callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
			defer cancel()
			return client.FilterLogs(callCtx, q)
		},
	}
}

// FetchLogs materializes every log matching q between q.FromBlock and q.ToBlock,
// inclusive. ToBlock must be set; callers resolve "latest" through Pool.BlockNumber
// first so the scanned range is pinned for watermark bookkeeping.
func (f *ChunkedFetcher) FetchLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	if from > to {
		return []types.Log{}, nil
	}

	var all []types.Log
	for cur := from; ; {
		end := cur + f.chunkSize - 1
		if end > to {
			end = to
		}

		logs, err := f.fetchRange(ctx, q, cur, end)
		if err != nil && IsRangeTooLarge(err) {
			logger.For(ctx).WithFields(logrus.Fields{"from": cur, "to": end}).
				Warnf("oversized range, re-fetching at width %d", f.fallbackSize)
			logs, err = f.fetchShrunk(ctx, q, cur, end)
		}
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)

		if end == to {
			break
		}
		cur = end + 1
	}
	return all, nil
}

// fetchShrunk re-fetches [from, to] at the fallback width after an oversized-range
// rejection. Only the failing chunk pays the smaller width.
func (f *ChunkedFetcher) fetchShrunk(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	var all []types.Log
	for cur := from; ; {
		end := cur + f.fallbackSize - 1
		if end > to {
			end = to
		}
		logs, err := f.fetchRange(ctx, q, cur, end)
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
		if end == to {
			break
		}
		cur = end + 1
	}
	return all, nil
}

func (f *ChunkedFetcher) fetchRange(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	chunkQuery := ethereum.FilterQuery{
		Addresses: q.Addresses,
		Topics:    q.Topics,
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	var logs []types.Log
	err := f.pool.WithFallback(ctx, func(ctx context.Context, client *ethclient.Client) error {
		fetched, err := f.getLogs(ctx, client, chunkQuery)
		if err != nil {
			return err
		}
		logs = fetched
		return nil
	})
	return logs, err
}
