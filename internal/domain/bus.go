package domain

import (
	"context"
	"time"
)

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// Bus is the message-bus boundary: market events arrive on it and trading
// commands from the out-of-process AI strategy are published through it.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter bounds the request rate against an external venue.
type RateLimiter interface {
	// Allow reports whether one more request may proceed under the limit of
	// limit requests per window, counting the request when allowed. It must
	// be safe for concurrent use.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Well-known bus channels and streams.
const (
	ChannelMarketEvents     = "chainpilot:market_events"
	ChannelExecutionResults = "chainpilot:execution_results"
	StreamTradingCommands   = "chainpilot:trading_commands"
)
