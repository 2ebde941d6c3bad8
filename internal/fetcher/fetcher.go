package fetcher

import (
	"context"
	"fmt"
)

// BalanceFetcher retrieves current validator balances keyed by decimal validator index.
// Indices the node does not report are absent from the result.
type BalanceFetcher interface {
	GetBalances(ctx context.Context, indices []uint64) (map[string]string, error)
}

// FetchError reports a failed balance query. No partial result accompanies it.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch balances: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
