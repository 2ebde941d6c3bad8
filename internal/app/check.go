package app

import (
	"context"
	"errors"
	"time"

	"github.com/lgaroche/stakemon/internal/alerting"
	"github.com/lgaroche/stakemon/internal/monitor"
	"github.com/lgaroche/stakemon/internal/service"
)

// Check runs a single monitor cycle and prints its alerts.
// The stored balances advance exactly as in a scheduled cycle.
// A cycle already running under the advisory lock makes it fail with service.ErrCycleInProgress.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	if opts.Notify {
		if err := a.Config.ValidateAlerting(); err != nil {
			return err
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := monitor.NewEngine(store, a.newFetcher(), a.Logger)

	var notifier alerting.Notifier
	if opts.Notify {
		var closeNotifier func()
		notifier, closeNotifier = a.newNotifier()
		defer closeNotifier()
	}
	svc := a.newService(store, engine, nil, notifier)

	now := time.Now().UTC()
	alerts, stats, err := svc.CheckOnce(ctx, now)
	if errors.Is(err, service.ErrCycleInProgress) {
		a.printf("cycle in progress elsewhere; nothing checked\n")
		return err
	}
	if err != nil {
		return err
	}

	a.printf("checked %d accounts: %d alerts, %d missing, %d invalid balances\n",
		stats.Accounts, stats.Alerts, stats.Missing, stats.Invalid)
	for _, alert := range alerts {
		a.printf("owner %d: %s\n", alert.Account.OwnerID, alert.Message)
	}

	if opts.Notify && len(alerts) > 0 {
		delivered := svc.Dispatch(ctx, alerts, now)
		a.printf("delivered %d of %d alerts\n", delivered, len(alerts))
	}
	return nil
}
