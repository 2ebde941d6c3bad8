package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lgaroche/stakemon/internal/fetcher"
	"github.com/lgaroche/stakemon/internal/storage"
)

type stubFetcher struct {
	balances map[string]string
	err      error
	calls    [][]uint64
}

func (f *stubFetcher) GetBalances(_ context.Context, indices []uint64) (map[string]string, error) {
	f.calls = append(f.calls, indices)
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

// failingStore fails UpdateBalance once failAfter updates went through.
type failingStore struct {
	*storage.WatchList
	failAfter int
	updates   int
}

func (s *failingStore) UpdateBalance(ctx context.Context, a storage.Account, balance uint64) (bool, error) {
	if s.updates >= s.failAfter {
		return false, &storage.StorageError{Op: "update", Err: errors.New("disk full")}
	}
	s.updates++
	return s.WatchList.UpdateBalance(ctx, a, balance)
}

func newTestStore(t *testing.T) (*storage.WatchList, *storage.SQLiteKV) {
	t.Helper()
	kv, err := storage.OpenSQLite(storage.SQLiteOptions{Path: filepath.Join(t.TempDir(), "stakemon.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return storage.NewWatchList(kv), kv
}

func seed(t *testing.T, store *storage.WatchList, balances map[storage.Account]uint64) {
	t.Helper()
	ctx := context.Background()
	for account, balance := range balances {
		require.NoError(t, store.Watch(ctx, account))
		updated, err := store.UpdateBalance(ctx, account, balance)
		require.NoError(t, err)
		require.True(t, updated)
	}
}

func storedBalance(t *testing.T, store *storage.WatchList, account storage.Account) uint64 {
	t.Helper()
	balance, found, err := store.Balance(context.Background(), account)
	require.NoError(t, err)
	require.True(t, found)
	return balance
}

func rawDump(t *testing.T, kv storage.KV) map[string][]byte {
	t.Helper()
	dump := make(map[string][]byte)
	require.NoError(t, kv.Iterate(context.Background(), func(key, value []byte) error {
		dump[string(key)] = append([]byte(nil), value...)
		return nil
	}))
	return dump
}

func TestRunDiffScenarios(t *testing.T) {
	const stored = uint64(32_000_000_000)
	cases := []struct {
		name        string
		fresh       string
		wantAlerts  []AlertMessage
		wantBalance uint64
	}{
		{"unchanged", "32000000000", []AlertMessage{NotRewarded(42)}, 32_000_000_000},
		{"decreased", "31999000000", []AlertMessage{Slashed(42, 1_000_000)}, 31_999_000_000},
		{"increased", "32100000000", nil, 32_100_000_000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := newTestStore(t)
			account := storage.NewAccount(7, 42)
			seed(t, store, map[storage.Account]uint64{account: stored})

			engine := NewEngine(store, &stubFetcher{balances: map[string]string{"42": tc.fresh}}, zerolog.Nop())
			alerts, err := engine.Run(context.Background())
			require.NoError(t, err)

			require.Len(t, alerts, len(tc.wantAlerts))
			for i, want := range tc.wantAlerts {
				require.Equal(t, account, alerts[i].Account)
				require.Equal(t, want, alerts[i].Message)
			}
			require.Equal(t, tc.wantBalance, storedBalance(t, store, account))
		})
	}
}

func TestRunMissingBalance(t *testing.T) {
	store, _ := newTestStore(t)
	account := storage.NewAccount(1, 100)
	seed(t, store, map[storage.Account]uint64{account: 32_000_000_000})

	engine := NewEngine(store, &stubFetcher{balances: map[string]string{"101": "1"}}, zerolog.Nop())
	alerts, stats, err := engine.RunWithStats(context.Background())
	require.NoError(t, err)
	require.Empty(t, alerts)
	require.Equal(t, 1, stats.Missing)
	require.Equal(t, uint64(32_000_000_000), storedBalance(t, store, account))
}

func TestRunFetchFailureLeavesStoreUntouched(t *testing.T) {
	store, kv := newTestStore(t)
	seed(t, store, map[storage.Account]uint64{
		storage.NewAccount(1, 1): 10,
		storage.NewAccount(2, 2): 20,
	})
	before := rawDump(t, kv)

	cause := &fetcher.FetchError{Err: errors.New("connection refused")}
	engine := NewEngine(store, &stubFetcher{err: cause}, zerolog.Nop())
	alerts, err := engine.Run(context.Background())

	require.Nil(t, alerts)
	var fe *fetcher.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, before, rawDump(t, kv))
}

func TestRunMultipleAccounts(t *testing.T) {
	store, _ := newTestStore(t)
	idle := storage.NewAccount(1, 10)
	slashed := storage.NewAccount(1, 11)
	healthy := storage.NewAccount(2, 12)
	seed(t, store, map[storage.Account]uint64{
		idle:    32_000_000_000,
		slashed: 32_000_000_000,
		healthy: 32_000_000_000,
	})

	engine := NewEngine(store, &stubFetcher{balances: map[string]string{
		"10": "32000000000",
		"11": "31000000000",
		"12": "32000005000",
	}}, zerolog.Nop())

	alerts, err := engine.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Alert{
		{Account: idle, Message: NotRewarded(10)},
		{Account: slashed, Message: Slashed(11, 1_000_000_000)},
	}, alerts)
}

func TestRunFetchesEveryWatchedIndexOnce(t *testing.T) {
	store, _ := newTestStore(t)
	seed(t, store, map[storage.Account]uint64{
		storage.NewAccount(1, 5): 0,
		storage.NewAccount(2, 6): 0,
	})

	stub := &stubFetcher{balances: map[string]string{}}
	_, err := NewEngine(store, stub, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, stub.calls, 1)
	require.ElementsMatch(t, []uint64{5, 6}, stub.calls[0])
}

func TestRunInvalidBalanceCountsAsZero(t *testing.T) {
	store, _ := newTestStore(t)
	account := storage.NewAccount(3, 30)
	seed(t, store, map[storage.Account]uint64{account: 500})

	engine := NewEngine(store, &stubFetcher{balances: map[string]string{"30": "not-a-number"}}, zerolog.Nop())
	alerts, stats, err := engine.RunWithStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Invalid)
	require.Equal(t, []Alert{{Account: account, Message: Slashed(30, 500)}}, alerts)
	require.Equal(t, uint64(0), storedBalance(t, store, account))
}

func TestRunFreshlyWatchedAccount(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	engine := NewEngine(store, &stubFetcher{balances: map[string]string{"9": "32000000000"}}, zerolog.Nop())

	account := storage.NewAccount(4, 9)
	require.NoError(t, engine.Watch(ctx, account))

	alerts, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, alerts)

	alerts, err = engine.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []Alert{{Account: account, Message: NotRewarded(9)}}, alerts)
}

func TestRunStorageFailureAbortsCycle(t *testing.T) {
	list, _ := newTestStore(t)
	first := storage.NewAccount(1, 1)
	second := storage.NewAccount(1, 2)
	seed(t, list, map[storage.Account]uint64{first: 100, second: 100})

	store := &failingStore{WatchList: list, failAfter: 1}
	engine := NewEngine(store, &stubFetcher{balances: map[string]string{"1": "150", "2": "50"}}, zerolog.Nop())

	alerts, err := engine.Run(context.Background())
	require.Nil(t, alerts)
	var se *storage.StorageError
	require.True(t, errors.As(err, &se))

	require.Equal(t, uint64(150), storedBalance(t, list, first))
	require.Equal(t, uint64(100), storedBalance(t, list, second))
}

func TestWatchedAndForget(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	engine := NewEngine(store, &stubFetcher{}, zerolog.Nop())

	require.NoError(t, engine.Watch(ctx, storage.NewAccount(5, 1)))
	require.NoError(t, engine.Watch(ctx, storage.NewAccount(5, 2)))
	require.NoError(t, engine.Watch(ctx, storage.NewAccount(6, 1)))
	require.NoError(t, engine.Forget(ctx, storage.NewAccount(5, 2)))
	require.NoError(t, engine.Forget(ctx, storage.NewAccount(5, 99)))

	entries, err := engine.Watched(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []storage.WatchEntry{{Account: storage.NewAccount(5, 1)}}, entries)
}

func TestAlertMessageString(t *testing.T) {
	require.Equal(t, "Validator 42 missed rewards", NotRewarded(42).String())
	require.Equal(t, "Validator 42 was slashed 1000000 nano-mGNO", Slashed(42, 1_000_000).String())
}

// forgettingFetcher forgets an account while the balances are in flight.
type forgettingFetcher struct {
	stubFetcher
	store  *storage.WatchList
	forget storage.Account
}

func (f *forgettingFetcher) GetBalances(ctx context.Context, indices []uint64) (map[string]string, error) {
	if err := f.store.Forget(ctx, f.forget); err != nil {
		return nil, err
	}
	return f.stubFetcher.GetBalances(ctx, indices)
}

func TestRunAccountForgottenDuringCycle(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	gone := storage.NewAccount(1, 20)
	kept := storage.NewAccount(1, 21)
	seed(t, store, map[storage.Account]uint64{gone: 32_000_000_000, kept: 32_000_000_000})

	balances := &forgettingFetcher{
		stubFetcher: stubFetcher{balances: map[string]string{"20": "32000000000", "21": "32000000000"}},
		store:       store,
		forget:      gone,
	}
	alerts, stats, err := NewEngine(store, balances, zerolog.Nop()).RunWithStats(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, stats.Dropped)
	require.Equal(t, []Alert{{Account: kept, Message: NotRewarded(21)}}, alerts)

	_, found, err := store.Balance(ctx, gone)
	require.NoError(t, err)
	require.False(t, found, "forgotten account must not come back")

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []storage.WatchEntry{{Account: kept, Balance: 32_000_000_000}}, entries)
}
