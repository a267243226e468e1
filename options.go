package grove

import "go.uber.org/zap"

const (
	defaultMaxReferenceHops = 10
	defaultCacheSize        = 1024
	defaultChunkMaxNodes    = 256
)

type Options struct {
	Logger           *zap.Logger
	CacheSize        int  // resolved reference cache entries, 0 disables the cache
	MaxReferenceHops int  // references followed before ErrReferenceLimit
	ChunkMaxNodes    int  // inner nodes expanded per state sync chunk
	SyncWrites       bool // fsync every commit, disk groves only
}

// Option configures a grove at open time
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Logger:           zap.NewNop(),
		CacheSize:        defaultCacheSize,
		MaxReferenceHops: defaultMaxReferenceHops,
		ChunkMaxNodes:    defaultChunkMaxNodes,
		SyncWrites:       true,
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

func WithCacheSize(entries int) Option {
	return func(o *Options) {
		o.CacheSize = entries
	}
}

func WithMaxReferenceHops(hops int) Option {
	return func(o *Options) {
		if hops > 0 {
			o.MaxReferenceHops = hops
		}
	}
}

func WithChunkMaxNodes(nodes int) Option {
	return func(o *Options) {
		if nodes > 0 {
			o.ChunkMaxNodes = nodes
		}
	}
}

func WithSyncWrites(sync bool) Option {
	return func(o *Options) {
		o.SyncWrites = sync
	}
}
