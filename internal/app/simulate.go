package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lgaroche/stakemon/internal/monitor"
	"github.com/lgaroche/stakemon/internal/service"
	"github.com/lgaroche/stakemon/internal/storage"
)

// SimulateAlert pushes a synthetic alert through the configured channels.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}

	message, err := simulatedMessage(opts)
	if err != nil {
		return err
	}

	if err := a.Config.ValidateAlerting(); err != nil {
		return err
	}

	notifier, closeNotifier := a.newNotifier()
	defer closeNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	svc := service.New(service.Options{AlertsEnabled: true}, nil, nil, notifier, nil, a.Logger)
	alert := monitor.Alert{Account: storage.NewAccount(opts.Owner, opts.Index), Message: message}
	if svc.Dispatch(ctx, []monitor.Alert{alert}, time.Now().UTC()) != 1 {
		return errors.New("simulated alert was not delivered")
	}
	a.printf("simulated alert sent to owner %d: %s\n", opts.Owner, message)
	return nil
}

func simulatedMessage(opts SimulateOptions) (monitor.AlertMessage, error) {
	switch monitor.AlertKind(opts.Kind) {
	case monitor.KindNotRewarded:
		return monitor.NotRewarded(opts.Index), nil
	case monitor.KindSlashed:
		if opts.Amount == 0 {
			return monitor.AlertMessage{}, errors.New("a slashed alert needs a positive --amount")
		}
		return monitor.Slashed(opts.Index, opts.Amount), nil
	default:
		return monitor.AlertMessage{}, fmt.Errorf("unknown alert kind %q (want %s or %s)", opts.Kind, monitor.KindNotRewarded, monitor.KindSlashed)
	}
}
