// Package policy defines configurable policy parameters for fleet behavior.
// This centralizes the tunables of scheduling, retries, squads, conflicts and the
// event stream so they can be loaded from configuration and overridden in tests.
package policy

import "time"

// Config contains all configurable policy parameters for a fleet.
type Config struct {
	// Retry policies
	Retry RetryPolicy

	// Squad formation and retirement policies
	Squad SquadPolicy

	// Loop policies
	Loop LoopPolicy

	// Drain policies
	Drain DrainPolicy

	// Event stream policies
	Events EventsPolicy

	// Conflict detection policies
	Conflict ConflictPolicy
}

// RetryPolicy controls how failed stories are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of executions a story gets before its domain is blocked.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; it doubles on every further retry.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
}

// Backoff returns the delay before a story with the given attempts count is retried.
// attempts is the value after the failed -> pending increment.
func (r RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := r.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	if d > r.MaxBackoff {
		return r.MaxBackoff
	}
	return d
}

// SquadPolicy controls squad composition and capacity.
type SquadPolicy struct {
	// Coders is the number of coders in addition to the lead.
	Coders int

	// Testers is the number of testers.
	Testers int

	// IncludeData adds a data-role member.
	IncludeData bool

	// Capacity is the maximum number of stories a squad holds at once.
	Capacity int

	// MaxSquads is the maximum number of live squads per fleet.
	MaxSquads int

	// IdleGrace is how long a squad may sit idle with no ready work before it is retired.
	IdleGrace time.Duration
}

// LoopPolicy controls the coordinator loop.
type LoopPolicy struct {
	// TickInterval is the delay between scheduling passes when nothing else wakes the loop.
	TickInterval time.Duration

	// InboxSize is the buffer size of the coordinator's inbound queue.
	InboxSize int

	// ThroughputWindow is the sliding window used for the throughput metric.
	ThroughputWindow time.Duration
}

// DrainPolicy controls graceful shutdown.
type DrainPolicy struct {
	// Timeout is how long in-flight work may finish after stop before it is abandoned.
	Timeout time.Duration
}

// EventsPolicy controls the event bus.
type EventsPolicy struct {
	// HistorySize is the number of events kept for replay.
	HistorySize int

	// SubscriberBuffer is the channel size of each subscriber; a full buffer cuts the subscriber off.
	SubscriberBuffer int

	// MessageWindow is the number of agent messages retained per fleet.
	MessageWindow int
}

// ConflictPolicy controls overlap detection.
type ConflictPolicy struct {
	// Strategy names the overlap strategy: "line-range" or "whole-file".
	Strategy string

	// ProtectedPatterns are resource-key globs that are never auto-merged.
	ProtectedPatterns []string
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  2 * time.Minute,
		},
		Squad: SquadPolicy{
			Coders:    2,
			Testers:   1,
			Capacity:  3,
			MaxSquads: 4,
			IdleGrace: 30 * time.Second,
		},
		Loop: LoopPolicy{
			TickInterval:     250 * time.Millisecond,
			InboxSize:        256,
			ThroughputWindow: time.Hour,
		},
		Drain: DrainPolicy{
			Timeout: 30 * time.Second,
		},
		Events: EventsPolicy{
			HistorySize:      1024,
			SubscriberBuffer: 256,
			MessageWindow:    500,
		},
		Conflict: ConflictPolicy{
			Strategy: "line-range",
		},
	}
}

// Validate checks that policy values are within acceptable ranges.
// Out-of-range values are reset to their defaults.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseBackoff < 0 {
		c.Retry.BaseBackoff = 2 * time.Second
	}
	if c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		c.Retry.MaxBackoff = c.Retry.BaseBackoff
	}
	if c.Squad.Coders < 0 {
		c.Squad.Coders = 2
	}
	if c.Squad.Testers < 0 {
		c.Squad.Testers = 1
	}
	if c.Squad.Capacity < 1 {
		c.Squad.Capacity = 3
	}
	if c.Squad.MaxSquads < 1 {
		c.Squad.MaxSquads = 4
	}
	if c.Squad.IdleGrace < 0 {
		c.Squad.IdleGrace = 30 * time.Second
	}
	if c.Loop.TickInterval < time.Millisecond {
		c.Loop.TickInterval = 250 * time.Millisecond
	}
	if c.Loop.InboxSize < 1 {
		c.Loop.InboxSize = 256
	}
	if c.Loop.ThroughputWindow < time.Minute {
		c.Loop.ThroughputWindow = time.Hour
	}
	if c.Drain.Timeout <= 0 {
		c.Drain.Timeout = 30 * time.Second
	}
	if c.Events.HistorySize < 16 {
		c.Events.HistorySize = 1024
	}
	if c.Events.SubscriberBuffer < 1 {
		c.Events.SubscriberBuffer = 256
	}
	if c.Events.MessageWindow < 1 {
		c.Events.MessageWindow = 500
	}
	switch c.Conflict.Strategy {
	case "line-range", "whole-file":
	default:
		c.Conflict.Strategy = "line-range"
	}
	return nil
}
