package rpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/DaveHalls/nft-dark-forest/env"
	"github.com/DaveHalls/nft-dark-forest/service/logger"
	"github.com/DaveHalls/nft-dark-forest/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

func init() {
	env.RegisterValidation("RPC_URLS", "required")
}

const defaultCallTimeout = 30 * time.Second

type dialFunc func(ctx context.Context, url string) (*ethclient.Client, error)

// Pool holds an ordered list of RPC endpoint URLs and hands out a client bound to the
// currently active one. Endpoint-specific faults advance the cursor to the next
// endpoint; the cursor sticks for the lifetime of the pool, so later calls start from
// the last endpoint that worked.
type Pool struct {
	mu        sync.Mutex
	endpoints []string
	cursor    int
	clients   map[string]*ethclient.Client

	dial dialFunc
}

// NewPool creates a pool over the given endpoint URLs, de-duplicated in order.
func NewPool(endpoints []string) (*Pool, error) {
	cleaned := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if trimmed := strings.TrimSpace(e); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	cleaned = util.Dedupe(cleaned)
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("rpc: no endpoints configured")
	}
	return &Pool{
		endpoints: cleaned,
		clients:   map[string]*ethclient.Client{},
		dial: func(ctx context.Context, url string) (*ethclient.Client, error) {
			return ethclient.DialContext(ctx, url)
		},
	}, nil
}

// NewPoolFromEnv creates a pool from the comma-separated RPC_URLS variable.
func NewPoolFromEnv() (*Pool, error) {
	return NewPool(strings.Split(env.GetString("RPC_URLS"), ","))
}

// Size returns the number of distinct endpoints in the pool.
func (p *Pool) Size() int {
	return len(p.endpoints)
}

// Current returns the URL of the currently active endpoint.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.cursor]
}

func (p *Pool) advance(from string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Another caller may have already rotated away from the failing endpoint.
	if p.endpoints[p.cursor] == from {
		p.cursor = (p.cursor + 1) % len(p.endpoints)
	}
}

func (p *Pool) client(ctx context.Context, url string) (*ethclient.Client, error) {
	p.mu.Lock()
	if c, ok := p.clients[url]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.dial(ctx, url)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.clients[url]; ok {
		c.Close()
		return existing, nil
	}
	p.clients[url] = c
	return c, nil
}

// WithFallback runs op against the current endpoint, rotating to the next endpoint on
// retryable endpoint faults. Each distinct endpoint is tried at most once per call;
// terminal errors propagate immediately without rotation.
func (p *Pool) WithFallback(ctx context.Context, op func(ctx context.Context, client *ethclient.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < len(p.endpoints); attempt++ {
		url := p.Current()

		client, err := p.client(ctx, url)
		if err != nil {
			// An unreachable endpoint is by definition an endpoint-specific fault.
			logger.For(ctx).WithError(err).Warnf("failed to dial endpoint %s, rotating", url)
			lastErr = err
			p.advance(url)
			continue
		}

		err = op(ctx, client)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !IsRetryable(err) {
			return err
		}

		logger.For(ctx).WithError(err).Warnf("endpoint fault on %s, rotating", url)
		lastErr = err
		p.advance(url)
	}
	return fmt.Errorf("rpc: all %d endpoints failed: %w", len(p.endpoints), lastErr)
}

// BlockNumber returns the current chain height through the pool.
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := p.WithFallback(ctx, func(ctx context.Context, client *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
		n, err := client.BlockNumber(callCtx)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	return number, err
}

// LatestBlockTime returns the timestamp of the latest block through the pool.
func (p *Pool) LatestBlockTime(ctx context.Context) (int64, error) {
	var timestamp int64
	err := p.WithFallback(ctx, func(ctx context.Context, client *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
		header, err := client.HeaderByNumber(callCtx, nil)
		if err != nil {
			return err
		}
		timestamp = int64(header.Time)
		return nil
	})
	return timestamp, err
}

// WaitForReceipt polls for the receipt of a mined transaction, suspending between
// polls, until the receipt is available or ctx is done.
func (p *Pool) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		var receipt *types.Receipt
		err := p.WithFallback(ctx, func(ctx context.Context, client *ethclient.Client) error {
			callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
			defer cancel()
			r, err := client.TransactionReceipt(callCtx, txHash)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// HeaderTimestamp returns the timestamp of a specific block through the pool.
func (p *Pool) HeaderTimestamp(ctx context.Context, number *big.Int) (int64, error) {
	var timestamp int64
	err := p.WithFallback(ctx, func(ctx context.Context, client *ethclient.Client) error {
		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
		header, err := client.HeaderByNumber(callCtx, number)
		if err != nil {
			return err
		}
		timestamp = int64(header.Time)
		return nil
	})
	return timestamp, err
}
