package kv

import "errors"

// KV defines the durable key-value contract shared by the cache and the
// offline queue. Implementations must be safe for concurrent use by
// multiple goroutines; concurrent writes to the same key are last-write-wins.
type KV interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	// Keys returns every key starting with prefix, in byte order.
	Keys(prefix string) ([]string, error)
}

var ErrNotFound = errors.New("kv: not found")
