package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/lgaroche/stakemon/internal/storage"
)

// Show prints the watch list with the last observed balances.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	entries, err := listEntries(ctx, store, opts.Owner)
	if err != nil {
		return err
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	if len(entries) == 0 {
		a.printf("no watched validators\n")
		return nil
	}

	format := a.format()
	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Owner\tValidator\tBalance (gwei)\tBalance")
	for _, entry := range entries {
		human := "-"
		if entry.Balance > 0 {
			human = format.HumanAmount(entry.Balance)
		}
		fmt.Fprintf(writer, "%d\t%d\t%d\t%s\n",
			entry.Account.OwnerID,
			entry.Account.ValidatorIndex,
			entry.Balance,
			human,
		)
	}

	return writer.Flush()
}

func listEntries(ctx context.Context, store *storage.WatchList, owner *uint64) ([]storage.WatchEntry, error) {
	if owner != nil {
		return store.ListOwner(ctx, *owner)
	}
	return store.List(ctx)
}
