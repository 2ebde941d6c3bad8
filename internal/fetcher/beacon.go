package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	validatorBalancesPath = "/eth/v1/beacon/states/head/validator_balances"

	// MaxBatchSize is the server-side limit of ids per validator_balances request.
	MaxBatchSize = 512

	maxResponseSize = 32 << 20
)

// BeaconOptions parameterise the beacon node fetcher.
type BeaconOptions struct {
	BaseURL   string
	BatchSize int
	Timeout   time.Duration
	UserAgent string

	// RequestsPerSecond paces chunk requests; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// BreakerMaxFailures opens the circuit after that many consecutive failed requests; zero disables it.
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
}

// Beacon fetches validator balances from a consensus-layer node.
type Beacon struct {
	endpoint  string
	batchSize int
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger
}

// NewBeacon constructs a beacon balance fetcher.
func NewBeacon(opts BeaconOptions, logger zerolog.Logger) *Beacon {
	batch := opts.BatchSize
	if batch <= 0 || batch > MaxBatchSize {
		batch = MaxBatchSize
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	b := &Beacon{
		endpoint:  strings.TrimRight(opts.BaseURL, "/") + validatorBalancesPath,
		batchSize: batch,
		userAgent: strings.TrimSpace(opts.UserAgent),
		client:    client,
		logger:    logger.With().Str("component", "beacon_fetcher").Logger(),
	}

	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	if opts.BreakerMaxFailures > 0 {
		openTimeout := opts.BreakerOpenTimeout
		if openTimeout <= 0 {
			openTimeout = time.Minute
		}
		maxFailures := opts.BreakerMaxFailures
		b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "BeaconNode",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				b.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		})
	}

	return b
}

// GetBalances queries the balances of indices, at most BatchSize ids per request.
// Duplicate indices are queried once. Any failed request fails the whole call.
func (b *Beacon) GetBalances(ctx context.Context, indices []uint64) (map[string]string, error) {
	balances := make(map[string]string, len(indices))
	if len(indices) == 0 {
		return balances, nil
	}

	chunks := lo.Chunk(lo.Uniq(indices), b.batchSize)
	for n, chunk := range chunks {
		ids := lo.Map(chunk, func(index uint64, _ int) string {
			return strconv.FormatUint(index, 10)
		})

		data, err := b.fetchChunk(ctx, ids)
		if err != nil {
			return nil, &FetchError{Err: fmt.Errorf("batch %d/%d: %w", n+1, len(chunks), err)}
		}
		for _, entry := range data {
			balances[entry.Index] = entry.Balance
		}
	}

	b.logger.Debug().Int("requested", len(indices)).Int("batches", len(chunks)).Int("returned", len(balances)).Msg("balances fetched")
	return balances, nil
}

func (b *Beacon) fetchChunk(ctx context.Context, ids []string) ([]validatorBalance, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	if b.breaker == nil {
		return b.request(ctx, ids)
	}
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.request(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	return res.([]validatorBalance), nil
}

func (b *Beacon) request(ctx context.Context, ids []string) ([]validatorBalance, error) {
	// Commas stay literal; beacon nodes split the id list on them.
	endpoint := b.endpoint + "?id=" + strings.Join(ids, ",")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	b.logger.Debug().Int("ids", len(ids)).Str("url", endpoint).Msg("requesting balance batch")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var body balancesResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Data == nil {
		return nil, errors.New("decode response: missing data field")
	}
	return *body.Data, nil
}

type validatorBalance struct {
	Index   string `json:"index"`
	Balance string `json:"balance"`
}

type balancesResponse struct {
	Data *[]validatorBalance `json:"data"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("beacon api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("beacon api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("beacon api error (%d)", status)
}

var _ BalanceFetcher = (*Beacon)(nil)
