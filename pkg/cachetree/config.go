// config.go defines the internal configuration object and the functional
// options that can be passed to New[K,V]. Mirrors the teacher's functional
// option style (pkg/config.go): all fields get sane defaults in
// defaultConfig(), options only ever capture pointers to external
// collaborators (registry, logger), and the struct itself never leaks
// outside the package.
//
// © 2025 btreecache authors. MIT License.
package cachetree

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arena-cache/btreecache/internal/codec"
)

// Policy selects the page-replacement algorithm the cache manager uses.
type Policy uint8

const (
	PolicyLRU Policy = iota
	PolicyCLOCK
	Policy2Q
)

func (p Policy) String() string {
	switch p {
	case PolicyLRU:
		return "LRU"
	case PolicyCLOCK:
		return "CLOCK"
	case Policy2Q:
		return "A2Q"
	default:
		return "unknown"
	}
}

// StorageKind selects the backing store implementation.
type StorageKind uint8

const (
	StorageVolatile StorageKind = iota
	StorageFile
	StoragePmem
)

// Config bundles every construction parameter named in the external
// interface (degree, cache_capacity, block_size, backing_bytes, policy,
// storage) plus the ambient knobs (logger, metrics registry) the teacher's
// own config layer always carries.
type Config[K any, V any] struct {
	Degree        uint16
	CacheCapacity int64 // soft upper bound on resident CacheObjects; <=0 means unbounded
	BlockSize     uint16
	BackingBytes  int64
	Policy        Policy
	Storage       StorageKind
	StoragePath   string // required for StorageFile / StoragePmem

	KeyCodec   codec.Codec[K]
	ValueCodec codec.Codec[V]

	registry *prometheus.Registry
	logger   *zap.Logger
}

// Option mutates a Config during New.
type Option[K any, V any] func(*Config[K, V])

// WithMetrics enables Prometheus metric collection. Passing nil (the
// default) keeps the cache on the no-op metrics sink.
func WithMetrics[K any, V any](reg *prometheus.Registry) Option[K, V] {
	return func(c *Config[K, V]) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The tree only logs slow-path
// events (failed flushes or block reclaims during eviction, storage
// errors); nothing on the hot descent
// path ever logs.
func WithLogger[K any, V any](l *zap.Logger) Option[K, V] {
	return func(c *Config[K, V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConfig builds a Config with the required construction parameters
// (§6's Tree::new(degree, cache_capacity, block_size, backing_bytes))
// defaulted to LRU + volatile storage; use With* options or set the
// exported fields directly (Storage, StoragePath, Policy, BlockSize)
// before passing the Config to New.
func NewConfig[K any, V any](degree uint16, cacheCapacity int64, backingBytes int64, keyCodec codec.Codec[K], valCodec codec.Codec[V]) *Config[K, V] {
	return defaultConfig(degree, cacheCapacity, backingBytes, keyCodec, valCodec)
}

func defaultConfig[K any, V any](degree uint16, cacheCapacity int64, backingBytes int64, keyCodec codec.Codec[K], valCodec codec.Codec[V]) *Config[K, V] {
	return &Config[K, V]{
		Degree:        degree,
		CacheCapacity: cacheCapacity,
		BackingBytes:  backingBytes,
		Policy:        PolicyLRU,
		Storage:       StorageVolatile,
		KeyCodec:      keyCodec,
		ValueCodec:    valCodec,
		logger:        zap.NewNop(),
	}
}

// defaultBlockSize is used when the caller leaves BlockSize at zero.
const defaultBlockSize = 4096

func (c *Config[K, V]) blockSizeOrDefault() uint16 {
	if c.BlockSize == 0 {
		return defaultBlockSize
	}
	return c.BlockSize
}

func (c *Config[K, V]) validate() error {
	if c.Degree < 2 {
		return ErrConfig
	}
	if c.Storage != StorageVolatile && c.StoragePath == "" {
		return ErrConfig
	}
	return nil
}
