package app

import (
	"context"

	"github.com/lgaroche/stakemon/internal/monitor"
	"github.com/lgaroche/stakemon/internal/storage"
)

// Watch adds a validator to an owner's watch list.
func (a *App) Watch(ctx context.Context, owner, index uint64) error {
	return a.withEngine(ctx, func(engine *monitor.Engine) error {
		if err := engine.Watch(ctx, storage.NewAccount(owner, index)); err != nil {
			return err
		}
		a.printf("watching validator %d for owner %d\n", index, owner)
		return nil
	})
}

// Forget removes a validator from an owner's watch list.
func (a *App) Forget(ctx context.Context, owner, index uint64) error {
	return a.withEngine(ctx, func(engine *monitor.Engine) error {
		if err := engine.Forget(ctx, storage.NewAccount(owner, index)); err != nil {
			return err
		}
		a.printf("forgot validator %d for owner %d\n", index, owner)
		return nil
	})
}

func (a *App) withEngine(ctx context.Context, fn func(engine *monitor.Engine) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(monitor.NewEngine(store, a.newFetcher(), a.Logger))
}
