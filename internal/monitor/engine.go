package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/lgaroche/stakemon/internal/fetcher"
	"github.com/lgaroche/stakemon/internal/storage"
)

// Store is the watch-list capability the engine needs.
type Store interface {
	Watch(ctx context.Context, account storage.Account) error
	Forget(ctx context.Context, account storage.Account) error
	List(ctx context.Context) ([]storage.WatchEntry, error)
	ListOwner(ctx context.Context, ownerID uint64) ([]storage.WatchEntry, error)
	UpdateBalance(ctx context.Context, account storage.Account, balance uint64) (bool, error)
}

// CycleStats summarises one Run.
type CycleStats struct {
	Accounts int
	Alerts   int
	Missing  int
	Invalid  int
	Dropped  int
	Duration time.Duration
}

// Engine compares fresh validator balances with the watch list and raises alerts.
//
// Run must not be called concurrently with itself; Watch and Forget may run at any time.
type Engine struct {
	store   Store
	fetcher fetcher.BalanceFetcher
	logger  zerolog.Logger
}

// NewEngine wires a store and a balance fetcher.
func NewEngine(store Store, balances fetcher.BalanceFetcher, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		fetcher: balances,
		logger:  logger.With().Str("component", "monitor").Logger(),
	}
}

// Watch starts monitoring account with a zero baseline.
func (e *Engine) Watch(ctx context.Context, account storage.Account) error {
	if err := e.store.Watch(ctx, account); err != nil {
		return err
	}
	e.logger.Info().Uint64("owner", account.OwnerID).Uint64("validator", account.ValidatorIndex).Msg("start watching")
	return nil
}

// Forget stops monitoring account. Unknown accounts are ignored.
func (e *Engine) Forget(ctx context.Context, account storage.Account) error {
	if err := e.store.Forget(ctx, account); err != nil {
		return err
	}
	e.logger.Info().Uint64("owner", account.OwnerID).Uint64("validator", account.ValidatorIndex).Msg("stop watching")
	return nil
}

// Watched lists the entries of one owner.
func (e *Engine) Watched(ctx context.Context, ownerID uint64) ([]storage.WatchEntry, error) {
	return e.store.ListOwner(ctx, ownerID)
}

// Run performs one check cycle and returns the alerts in watch-list order.
func (e *Engine) Run(ctx context.Context) ([]Alert, error) {
	alerts, _, err := e.RunWithStats(ctx)
	return alerts, err
}

// RunWithStats is Run plus a summary of the cycle.
func (e *Engine) RunWithStats(ctx context.Context) ([]Alert, CycleStats, error) {
	started := time.Now()

	entries, err := e.store.List(ctx)
	if err != nil {
		return nil, CycleStats{}, fmt.Errorf("list watch entries: %w", err)
	}
	stats := CycleStats{Accounts: len(entries)}
	e.logger.Info().Int("accounts", len(entries)).Msg("monitor run start")

	indices := lo.Map(entries, func(entry storage.WatchEntry, _ int) uint64 {
		return entry.Account.ValidatorIndex
	})
	balances, err := e.fetcher.GetBalances(ctx, indices)
	if err != nil {
		return nil, stats, err
	}

	alerts := make([]Alert, 0)
	for _, entry := range entries {
		account := entry.Account
		log := e.logger.With().Uint64("owner", account.OwnerID).Uint64("validator", account.ValidatorIndex).Logger()

		raw, ok := balances[strconv.FormatUint(account.ValidatorIndex, 10)]
		if !ok {
			stats.Missing++
			log.Warn().Msg("balance not found")
			continue
		}

		current, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr != nil {
			// Unparseable balances count as zero so one bad field cannot stall the cycle.
			stats.Invalid++
			log.Warn().Err(parseErr).Str("raw", raw).Msg("invalid balance, treating as zero")
			current = 0
		}

		previous := entry.Balance
		log.Debug().Uint64("previous", previous).Uint64("current", current).Msg("balance compared")

		var alert *Alert
		switch {
		case current == previous:
			alert = &Alert{Account: account, Message: NotRewarded(account.ValidatorIndex)}
		case current < previous:
			alert = &Alert{Account: account, Message: Slashed(account.ValidatorIndex, previous-current)}
		}

		updated, err := e.store.UpdateBalance(ctx, account, current)
		if err != nil {
			return nil, stats, fmt.Errorf("update balance of %s: %w", account, err)
		}
		if !updated {
			// Forgotten while the cycle was running: nobody to tell.
			stats.Dropped++
			log.Debug().Msg("account forgotten during the cycle")
			continue
		}

		if alert != nil {
			log.Info().Str("kind", string(alert.Message.Kind)).Uint64("amount", alert.Message.Amount).Msg(alert.Message.String())
			alerts = append(alerts, *alert)
		}
	}

	stats.Alerts = len(alerts)
	stats.Duration = time.Since(started)
	e.logger.Info().
		Int("accounts", stats.Accounts).
		Int("alerts", stats.Alerts).
		Int("missing", stats.Missing).
		Int("invalid", stats.Invalid).
		Dur("duration", stats.Duration).
		Msg("monitor run complete")

	return alerts, stats, nil
}
