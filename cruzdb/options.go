package cruzdb

import (
	"github.com/rs/zerolog"
)

// options collects Open's configuration, following the functional-options
// pattern iavlx/cosmosdb.go (CosmosDBStoreOptions) and store-v2's
// store_iavl.Config use for the same purpose.
type options struct {
	logger            zerolog.Logger
	entryCacheSize    int
	nodeStoreCapacity int
	historySeed       []uint64
}

func defaultOptions() options {
	return options{
		logger:            zerolog.Nop(),
		entryCacheSize:    1024,
		nodeStoreCapacity: 256,
	}
}

// Option configures a DB at Open time.
type Option func(*options)

// WithLogger sets the zerolog.Logger every worker (tail reader, processor)
// logs through. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEntryCacheSize bounds the entry service's decoded-entry cache.
func WithEntryCacheSize(n int) Option {
	return func(o *options) { o.entryCacheSize = n }
}

// WithNodeStoreCapacity bounds the number of distinct after-images the
// tree's node store keeps decoded at once.
func WithNodeStoreCapacity(n int) Option {
	return func(o *options) { o.nodeStoreCapacity = n }
}

// WithHistorySeed backfills the processor's conflict-detection history with
// intentions committed at the given log positions before Open. Use this
// after a restart to prime the window a transaction whose snapshot predates
// the crash may still need to be validated against.
func WithHistorySeed(positions []uint64) Option {
	return func(o *options) { o.historySeed = positions }
}
