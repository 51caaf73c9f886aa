// internal/chain/subscribe.go
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// SubscribeNewBlocks delivers new block headers on the returned channel.
// Websocket transports use a real head subscription; HTTP transports reject
// subscriptions, so the client falls back to polling the block number. The
// returned func ends delivery either way.
func (c *Client) SubscribeNewBlocks(ctx context.Context) (<-chan *types.Header, func(), error) {
	heads := make(chan *types.Header, 16)
	done := make(chan struct{})

	sub, err := c.eth.SubscribeNewHead(ctx, heads)
	if err == nil {
		go func() {
			defer sub.Unsubscribe()
			select {
			case err := <-sub.Err():
				if err != nil {
					c.logger.Warn("head subscription dropped", zap.Error(err))
				}
			case <-done:
			case <-ctx.Done():
			}
		}()
		return heads, func() { close(done) }, nil
	}

	c.logger.Info("head subscription unsupported, polling for new blocks",
		zap.Duration("interval", c.cfg.PollInterval),
		zap.Error(err))
	go c.pollHeads(ctx, heads, done)
	return heads, func() { close(done) }, nil
}

func (c *Client) pollHeads(ctx context.Context, heads chan<- *types.Header, done <-chan struct{}) {
	defer close(heads)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ticker.C:
		case <-done:
			return
		case <-ctx.Done():
			return
		}

		latest, err := c.LatestBlockNumber(ctx)
		if err != nil {
			c.logger.Warn("failed to poll latest block", zap.Error(err))
			continue
		}
		if last == 0 {
			last = latest
			continue
		}

		for n := last + 1; n <= latest; n++ {
			head, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
			if err != nil {
				c.logger.Warn("failed to fetch header", zap.Uint64("block", n), zap.Error(err))
				break
			}
			select {
			case heads <- head:
				last = n
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
