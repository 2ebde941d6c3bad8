package storage

import (
	"context"
	"fmt"
)

// WatchList is the durable mapping from Account to the last observed balance.
// It is safe for concurrent use; per-key atomicity comes from the backend.
type WatchList struct {
	kv KV
}

// NewWatchList wraps a KV backend.
func NewWatchList(kv KV) *WatchList {
	return &WatchList{kv: kv}
}

// Watch starts watching account with a zero baseline. Re-watching resets the baseline.
func (w *WatchList) Watch(ctx context.Context, account Account) error {
	return wrapErr("watch", w.kv.Put(ctx, account.Key(), EncodeBalance(0)))
}

// Forget stops watching account. Forgetting an unknown account is not an error.
func (w *WatchList) Forget(ctx context.Context, account Account) error {
	return wrapErr("forget", w.kv.Delete(ctx, account.Key()))
}

// UpdateBalance records a freshly observed balance. It reports false, without error,
// when the account was forgotten in the meantime.
func (w *WatchList) UpdateBalance(ctx context.Context, account Account, balance uint64) (bool, error) {
	updated, err := w.kv.Replace(ctx, account.Key(), EncodeBalance(balance))
	if err != nil {
		return false, wrapErr("update", err)
	}
	return updated, nil
}

// Balance returns the stored balance of account.
func (w *WatchList) Balance(ctx context.Context, account Account) (uint64, bool, error) {
	value, found, err := w.kv.Get(ctx, account.Key())
	if err != nil || !found {
		return 0, false, wrapErr("balance", err)
	}
	balance, err := DecodeBalance(value)
	if err != nil {
		return 0, false, wrapErr("balance", err)
	}
	return balance, true, nil
}

// List returns every watch entry ordered by encoded key.
func (w *WatchList) List(ctx context.Context) ([]WatchEntry, error) {
	return w.collect(ctx, func(Account) bool { return true })
}

// ListOwner returns the watch entries of one owner.
func (w *WatchList) ListOwner(ctx context.Context, ownerID uint64) ([]WatchEntry, error) {
	return w.collect(ctx, func(a Account) bool { return a.OwnerID == ownerID })
}

func (w *WatchList) collect(ctx context.Context, keep func(Account) bool) ([]WatchEntry, error) {
	entries := make([]WatchEntry, 0)
	err := w.kv.Iterate(ctx, func(key, value []byte) error {
		account, err := DecodeAccount(key)
		if err != nil {
			return fmt.Errorf("decode key %x: %w", key, err)
		}
		if !keep(account) {
			return nil
		}
		balance, err := DecodeBalance(value)
		if err != nil {
			return fmt.Errorf("decode balance of %s: %w", account, err)
		}
		entries = append(entries, WatchEntry{Account: account, Balance: balance})
		return nil
	})
	if err != nil {
		return nil, wrapErr("list", err)
	}
	return entries, nil
}

// Close releases the backend.
func (w *WatchList) Close() error {
	return w.kv.Close()
}

// Locker returns the backend's advisory locker, if it has one.
func (w *WatchList) Locker() (AdvisoryLocker, bool) {
	locker, ok := w.kv.(AdvisoryLocker)
	return locker, ok
}
