package vmdk

import "github.com/sirupsen/logrus"

// Option configures a Handle at Open time, following the teacher's
// functional-option constructor pattern (see DESIGN.md).
type Option func(*handleConfig)

type handleConfig struct {
	grainTableCacheCapacity int
	grainCacheCapacity      int
	resolver                Resolver
	log                     logrus.FieldLogger
}

func defaultHandleConfig() *handleConfig {
	return &handleConfig{
		grainTableCacheCapacity: DefaultGrainTableCacheCapacity,
		grainCacheCapacity:      DefaultGrainCacheCapacity,
		log:                     logrus.StandardLogger(),
	}
}

// WithGrainTableCacheCapacity overrides N, the grain table cache's capacity
// (spec §4.5, default 32).
func WithGrainTableCacheCapacity(n int) Option {
	return func(c *handleConfig) { c.grainTableCacheCapacity = n }
}

// WithGrainCacheCapacity overrides M, the grain data cache's capacity
// (spec §4.6, default 8).
func WithGrainCacheCapacity(n int) Option {
	return func(c *handleConfig) { c.grainCacheCapacity = n }
}

// WithResolver attaches a filename-to-index Resolver so backing files can
// be resolved lazily rather than supplied in descriptor order (spec §4.1).
func WithResolver(r Resolver) Option {
	return func(c *handleConfig) { c.resolver = r }
}

// WithLogger overrides the handle's diagnostic logger, which receives the
// handle's own Debug messages (stream-optimized marker scanning and holes
// resolved with no parent attached). Logging is diagnostic only, never
// used for control flow. Cache evictions and secondary-grain-directory
// failover are logged through the logrus standard logger, not this one.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *handleConfig) { c.log = log }
}
