package storage

import "context"

// KV is a durable byte-oriented key-value store.
// Every successful write is committed before the call returns.
type KV interface {
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	Put(ctx context.Context, key, value []byte) error
	// Replace overwrites the value of an existing key and reports whether the key existed.
	Replace(ctx context.Context, key, value []byte) (bool, error)
	Delete(ctx context.Context, key []byte) error
	// Iterate visits every pair in ascending key order within one consistent read.
	Iterate(ctx context.Context, fn func(key, value []byte) error) error
	Close() error
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
