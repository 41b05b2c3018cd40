package generation_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/gradeflow/internal/config"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/mocks"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// recordingSleep records requested waits without sleeping.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, p generation.Provider, rec *recordingSleep) *generation.RetryingClient {
	t.Helper()
	c, err := generation.NewRetryingClient(p, generation.DefaultRetryPolicy(), discardLogger(),
		generation.WithSleep(rec.sleep))
	require.NoError(t, err)
	return c
}

func ok(content string) mocks.Outcome {
	return mocks.Outcome{Completion: &generation.Completion{Content: content}}
}

func TestRetryPolicy_Wait(t *testing.T) {
	t.Parallel()

	p := generation.DefaultRetryPolicy()

	tests := []struct {
		name       string
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{"first retry", 0, 0, 2 * time.Second},
		{"second retry", 1, 0, 4 * time.Second},
		{"third retry", 2, 0, 8 * time.Second},
		{"capped", 10, 0, 60 * time.Second},
		{"retry-after overrides", 0, 7 * time.Second, 7 * time.Second},
		{"retry-after capped", 0, 5 * time.Minute, 60 * time.Second},
		{"negative retry-after ignored", 1, -time.Second, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Wait(tt.attempt, tt.retryAfter))
		})
	}
}

func TestPolicyFromConfig(t *testing.T) {
	t.Parallel()

	p := generation.PolicyFromConfig(config.RetryConfig{
		MaxAttempts:     0,
		BaseWait:        time.Second,
		Multiplier:      0.5,
		MaxWait:         10 * time.Second,
		RetryableStatus: []int{503},
	})

	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, float64(1), p.Multiplier)
	assert.True(t, p.IsRetryable(503))
	assert.False(t, p.IsRetryable(429))
}

func TestRetryingClient_TwoRetryableFailuresThenSuccess(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockProvider{Outcomes: []mocks.Outcome{
		{Completion: &generation.Completion{Status: 503, Error: "service unavailable"}},
		{Err: &generation.ProviderError{Provider: "mock", Status: 429, Err: errors.New("rate limited")}},
		ok(`{"a":1}`),
	}}
	rec := &recordingSleep{}
	client := newClient(t, provider, rec)

	res, err := client.Call(context.Background(), generation.Request{Prompt: "grade"})
	require.NoError(t, err)
	require.NotNil(t, res.Completion)
	assert.Equal(t, `{"a":1}`, res.Completion.Content)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, res.Retries())

	require.Len(t, rec.waits, 2)
	assert.LessOrEqual(t, rec.waits[0], rec.waits[1])
	assert.Equal(t, rec.waits, res.Waits)
	assert.Equal(t, 3, provider.Calls())
}

func TestRetryingClient_ExhaustedReturnsLastOutcome(t *testing.T) {
	t.Parallel()

	t.Run("value failure", func(t *testing.T) {
		t.Parallel()

		provider := &mocks.MockProvider{Outcomes: []mocks.Outcome{
			{Completion: &generation.Completion{Status: 500, Error: "first"}},
			{Completion: &generation.Completion{Status: 502, Error: "second"}},
			{Completion: &generation.Completion{Status: 504, Error: "last"}},
		}}
		rec := &recordingSleep{}

		res, err := newClient(t, provider, rec).Call(context.Background(), generation.Request{Prompt: "x"})
		require.NoError(t, err)
		assert.True(t, res.Completion.Failed())
		assert.Equal(t, "last", res.Completion.Error)
		assert.Equal(t, 3, res.Attempts)
		assert.Len(t, rec.waits, 2)
		assert.Equal(t, "last", generation.FailureMessage(res, err))
	})

	t.Run("error failure", func(t *testing.T) {
		t.Parallel()

		provider := mocks.MockProviderThatFails(503)
		rec := &recordingSleep{}

		res, err := newClient(t, provider, rec).Call(context.Background(), generation.Request{Prompt: "x"})
		var perr *generation.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, 503, perr.Status)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 3, provider.Calls())
	})
}

func TestRetryingClient_NonRetryableReturnsImmediately(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome mocks.Outcome
	}{
		{"bad request status", mocks.Outcome{Completion: &generation.Completion{Status: 400, Error: "bad request"}}},
		{"unauthorized error", mocks.Outcome{Err: &generation.ProviderError{Provider: "mock", Status: 401, Err: errors.New("no key")}}},
		{"error without status", mocks.Outcome{Err: errors.New("connection reset")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			provider := &mocks.MockProvider{Outcomes: []mocks.Outcome{tt.outcome, ok("{}")}}
			rec := &recordingSleep{}

			res, _ := newClient(t, provider, rec).Call(context.Background(), generation.Request{Prompt: "x"})
			assert.Equal(t, 1, res.Attempts)
			assert.Empty(t, rec.waits)
			assert.Equal(t, 1, provider.Calls())
		})
	}
}

func TestRetryingClient_StatusFromErrorText(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockProvider{Outcomes: []mocks.Outcome{
		{Err: errors.New("upstream answered HTTP 502 Bad Gateway")},
		ok("{}"),
	}}
	rec := &recordingSleep{}

	res, err := newClient(t, provider, rec).Call(context.Background(), generation.Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.waits)
}

func TestRetryingClient_RetryAfterHint(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockProvider{Outcomes: []mocks.Outcome{
		{Completion: &generation.Completion{Status: 429, RetryAfter: 11 * time.Second}},
		ok("{}"),
	}}
	rec := &recordingSleep{}

	_, err := newClient(t, provider, rec).Call(context.Background(), generation.Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{11 * time.Second}, rec.waits)
}

func TestRetryingClient_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()

	provider := mocks.MockProviderThatFails(503)
	ctx, cancel := context.WithCancel(context.Background())
	client, err := generation.NewRetryingClient(provider, generation.DefaultRetryPolicy(), discardLogger(),
		generation.WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))
	require.NoError(t, err)

	res, err := client.Call(ctx, generation.Request{Prompt: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryingClient_RejectsEmptyRequest(t *testing.T) {
	t.Parallel()

	provider := &mocks.MockProvider{}
	res, err := newClient(t, provider, &recordingSleep{}).Call(context.Background(), generation.Request{})
	assert.ErrorIs(t, err, generation.ErrEmptyPrompt)
	assert.NotNil(t, res)
	assert.Zero(t, provider.Calls())
}

func TestNewRetryingClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := generation.NewRetryingClient(nil, generation.DefaultRetryPolicy(), discardLogger())
	assert.ErrorIs(t, err, generation.ErrNilProvider)

	_, err = generation.NewRetryingClient(&mocks.MockProvider{}, generation.RetryPolicy{}, discardLogger())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestRetryingClient_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	metrics, err := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	provider := &mocks.MockProvider{Outcomes: []mocks.Outcome{
		{Completion: &generation.Completion{Status: 503}},
		{Completion: &generation.Completion{Content: "{}", InputTokens: 10, OutputTokens: 5}},
	}}
	rec := &recordingSleep{}
	client, err := generation.NewRetryingClient(provider, generation.DefaultRetryPolicy(), discardLogger(),
		generation.WithSleep(rec.sleep), generation.WithMetrics(metrics))
	require.NoError(t, err)

	_, err = client.Call(context.Background(), generation.Request{Prompt: "x"})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(2), telemetry.CounterValue(rm, "gradeflow.llm.attempts"))
	assert.Equal(t, int64(1), telemetry.CounterValue(rm, "gradeflow.llm.retries"))
	assert.Equal(t, int64(15), telemetry.CounterValue(rm, "gradeflow.llm.tokens"))
}

func TestStatusFromText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 429, generation.StatusFromText("Error 429: quota exceeded"))
	assert.Equal(t, 503, generation.StatusFromText("HTTP 503"))
	assert.Equal(t, 0, generation.StatusFromText("took 4290ms"))
	assert.Equal(t, 0, generation.StatusFromText("no code here"))
}
