package runloop

import (
	"github.com/chrisbu/taskloop/envelope"
	"github.com/chrisbu/taskloop/logger"
	"github.com/chrisbu/taskloop/metrics"
	"github.com/chrisbu/taskloop/mux"
	"github.com/chrisbu/taskloop/task"
)

// Clock supplies the current monotonic milliseconds, injected for
// testability rather than read from time.Now() directly.
type Clock func() int64

// Config carries every RunLoop construction parameter.
type Config struct {
	Tasks               map[string]task.Handle
	ConsumerMux         mux.ConsumerMux
	MaxMessagesInFlight int
	WindowMs            int64
	CommitMs            int64
	CallbackTimeoutMs   int64
	// MaxThrottlingDelayMs is a reserved hint for external throttlers.
	// The run loop stores it here and does not read it: it neither
	// sleeps on it nor caps its idle wait by it.
	MaxThrottlingDelayMs int64
	MaxIdleMs            int64
	ContainerMetrics     *metrics.ContainerMetrics
	Clock                Clock
	AsyncCommitEnabled   bool
	ElasticityFactor     int
	Hasher               envelope.Hasher
	Logger               logger.Logger
}

// Option configures a Config when building a RunLoop with New.
type Option func(*Config)

func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithMaxMessagesInFlight(n int) Option {
	return func(c *Config) { c.MaxMessagesInFlight = n }
}

func WithWindowInterval(ms int64) Option {
	return func(c *Config) { c.WindowMs = ms }
}

func WithCommitInterval(ms int64) Option {
	return func(c *Config) { c.CommitMs = ms }
}

func WithCallbackTimeout(ms int64) Option {
	return func(c *Config) { c.CallbackTimeoutMs = ms }
}

func WithMaxThrottlingDelay(ms int64) Option {
	return func(c *Config) { c.MaxThrottlingDelayMs = ms }
}

func WithMaxIdle(ms int64) Option {
	return func(c *Config) { c.MaxIdleMs = ms }
}

func WithContainerMetrics(m *metrics.ContainerMetrics) Option {
	return func(c *Config) { c.ContainerMetrics = m }
}

func WithClock(clock Clock) Option {
	return func(c *Config) { c.Clock = clock }
}

func WithAsyncCommit(enabled bool) Option {
	return func(c *Config) { c.AsyncCommitEnabled = enabled }
}

func WithElasticityFactor(factor int) Option {
	return func(c *Config) { c.ElasticityFactor = factor }
}

// WithHasher overrides the default JavaStringHasher used to compute
// elasticity key-buckets, e.g. envelope.XXHasher{} for deployments with
// no JVM-compatibility requirement.
func WithHasher(h envelope.Hasher) Option {
	return func(c *Config) { c.Hasher = h }
}

func defaultConfig() Config {
	return Config{
		MaxMessagesInFlight: 1,
		MaxIdleMs:           1000,
		ElasticityFactor:    1,
		Clock:               func() int64 { return nowMillis() },
	}
}
