package subscription

import (
	"fmt"
	"time"

	"github.com/rickgao/chainstream/internal/buffer"
)

// OverflowStrategy selects what a full per-subscription queue does with a new item.
type OverflowStrategy string

const (
	DropOldest OverflowStrategy = "drop-oldest"
	DropNewest OverflowStrategy = "drop-newest"
	Reject     OverflowStrategy = "reject"
)

// ParseOverflowStrategy validates a strategy name.
func ParseOverflowStrategy(s string) (OverflowStrategy, error) {
	switch OverflowStrategy(s) {
	case DropOldest, DropNewest, Reject:
		return OverflowStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown overflow strategy %q", s)
	}
}

func (s OverflowStrategy) policy() buffer.Policy {
	switch s {
	case DropNewest:
		return buffer.DropNewest
	case Reject:
		return buffer.Reject
	default:
		return buffer.DropOldest
	}
}

// Config configures the Subscription Manager.
type Config struct {
	MaxConcurrentSubscriptions  int
	MaxRequestsPerWindow        int
	RateLimitWindow             time.Duration
	EnableGapDetection          bool
	QueueOverflowStrategy       OverflowStrategy
	MaxQueueSizePerSubscription int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSubscriptions:  100,
		MaxRequestsPerWindow:        10,
		RateLimitWindow:             time.Second,
		EnableGapDetection:          true,
		QueueOverflowStrategy:       DropOldest,
		MaxQueueSizePerSubscription: 1000,
	}
}

// withDefaults fills zero numeric fields and an empty strategy from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrentSubscriptions == 0 {
		c.MaxConcurrentSubscriptions = d.MaxConcurrentSubscriptions
	}
	if c.MaxRequestsPerWindow == 0 {
		c.MaxRequestsPerWindow = d.MaxRequestsPerWindow
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	if c.QueueOverflowStrategy == "" {
		c.QueueOverflowStrategy = d.QueueOverflowStrategy
	}
	if c.MaxQueueSizePerSubscription == 0 {
		c.MaxQueueSizePerSubscription = d.MaxQueueSizePerSubscription
	}
	return c
}
