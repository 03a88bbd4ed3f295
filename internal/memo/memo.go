// Package memo caches the results of expensive lookups for the lifetime of
// one reveal.
//
// Successful results are cached by the exact key they were computed for;
// errors are never cached. Concurrent callers asking for the same key share a
// single computation.
package memo

import (
	"context"
	"fmt"
	"sync"

	cache "github.com/Code-Hex/go-generics-cache"
	"golang.org/x/sync/singleflight"

	"github.com/airbnb/appear/internal/otel"
)

// Memo is a per-key result cache. The zero value is not usable; use New.
type Memo[K comparable, V any] struct {
	name    string
	metrics *otel.Metrics

	mu       sync.RWMutex
	entries  *cache.Cache[K, V]
	disabled bool

	group singleflight.Group
}

// Option configures a Memo.
type Option func(*options)

type options struct {
	name    string
	metrics *otel.Metrics
}

// WithName labels the cache in metrics and logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMetrics records hits and misses on m.
func WithMetrics(m *otel.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates an empty Memo.
func New[K comparable, V any](opts ...Option) *Memo[K, V] {
	o := options{name: "memo"}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memo[K, V]{
		name:    o.name,
		metrics: o.metrics,
		entries: cache.New[K, V](),
	}
}

// Call returns the cached value for key, computing it with fn on a miss.
func (m *Memo[K, V]) Call(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	m.mu.RLock()
	disabled := m.disabled
	entries := m.entries
	m.mu.RUnlock()

	if disabled {
		return fn()
	}
	if v, ok := entries.Get(key); ok {
		m.metrics.RecordMemo(ctx, m.name, true)
		return v, nil
	}
	m.metrics.RecordMemo(ctx, m.name, false)

	res, err, _ := m.group.Do(fmt.Sprintf("%#v", key), func() (any, error) {
		if v, ok := entries.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		entries.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Len returns the number of cached keys.
func (m *Memo[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries.Keys())
}

// Disable clears the cache and turns Call into a plain passthrough.
func (m *Memo[K, V]) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
	m.entries = cache.New[K, V]()
}
