// Package kafkamux adapts franz-go's kgo.Client into a mux.ConsumerMux,
// the real counterpart to mux.ChannelMux: partitions assigned by the
// consumer group become envelope.PartitionID owners, and each fetched
// record becomes one envelope, offset-stamped as its decimal string
// representation so it round-trips through OffsetManager and a
// downstream commit unchanged.
package kafkamux

import (
	"time"

	"github.com/chrisbu/taskloop/logger"
)

// Config carries the kgo.Client construction parameters this module
// cares about.
type Config struct {
	BootstrapServers []string
	GroupID          string
	SessionTimeout   time.Duration
	PollTimeout      time.Duration

	// System names the envelope.PartitionID.System stamped on every
	// envelope this Mux produces, distinguishing it from other input
	// systems in a multi-system deployment.
	System string

	// Logger receives both this package's own log lines and, via
	// NewClient, the underlying kgo.Client's internal diagnostics
	// (rebalances, broker connection issues, retries) through a
	// kgo.Logger adapter — see logger.go.
	Logger logger.Logger
}

type Option func(*Config)

func WithBootstrapServers(servers ...string) Option {
	return func(c *Config) { c.BootstrapServers = servers }
}

func WithGroupID(id string) Option {
	return func(c *Config) { c.GroupID = id }
}

func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) { c.SessionTimeout = d }
}

func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) { c.PollTimeout = d }
}

func WithSystem(name string) Option {
	return func(c *Config) { c.System = name }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{
		BootstrapServers: []string{"localhost:9092"},
		GroupID:          "taskloop",
		SessionTimeout:   30 * time.Second,
		PollTimeout:      time.Second,
		System:           "kafka",
		Logger:           logger.NewNoop(),
	}
}
