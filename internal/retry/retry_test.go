package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classifiedErr struct {
	class Class
}

func (e classifiedErr) Error() string      { return "classified: " + e.class.String() }
func (e classifiedErr) RetryClass() Class { return e.class }

var (
	errTransient = classifiedErr{class: Transient}
	errPermanent = classifiedErr{class: Permanent}
)

// recorder captures requested sleeps instead of sleeping.
type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func testConfig(maxRetries int, rec *recorder) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     300 * time.Second,
		Multiplier:     2.0,
		Sleep:          rec.sleep,
	}
}

// failThenSucceed returns fn failing transiently n times before succeeding.
func failThenSucceed(n int, attempts *int) func(context.Context) error {
	return func(ctx context.Context) error {
		*attempts++
		if *attempts <= n {
			return errTransient
		}
		return nil
	}
}

func TestDo_Success(t *testing.T) {
	rec := &recorder{}
	attempts := 0

	err := Do(context.Background(), testConfig(3, rec), nil, failThenSucceed(0, &attempts))

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.sleeps)
}

func TestDo_TransientThenSuccess(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		maxRetries int
		wantSleeps []time.Duration
	}{
		{"one failure", 1, 5, []time.Duration{1 * time.Second}},
		{"two failures", 2, 5, []time.Duration{1 * time.Second, 2 * time.Second}},
		{"four failures", 4, 5, []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			attempts := 0

			err := Do(context.Background(), testConfig(tt.maxRetries, rec), nil, failThenSucceed(tt.failures, &attempts))

			require.NoError(t, err)
			assert.Equal(t, tt.failures+1, attempts)
			assert.Equal(t, tt.wantSleeps, rec.sleeps)
		})
	}
}

func TestDo_Exhausted(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		maxRetries int
	}{
		{"failures equal budget", 3, 3},
		{"failures exceed budget", 10, 3},
		{"single attempt budget", 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			attempts := 0

			err := Do(context.Background(), testConfig(tt.maxRetries, rec), nil, failThenSucceed(tt.failures, &attempts))

			var exhausted *ExhaustedError
			require.ErrorAs(t, err, &exhausted)
			assert.Equal(t, tt.maxRetries, exhausted.Attempts)
			assert.Equal(t, tt.maxRetries, attempts)
			assert.Len(t, rec.sleeps, tt.maxRetries-1)
			assert.ErrorIs(t, err, errTransient)
		})
	}
}

func TestDo_BackoffCapped(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(6, rec)
	cfg.InitialBackoff = 100 * time.Second
	attempts := 0

	err := Do(context.Background(), cfg, nil, failThenSucceed(100, &attempts))

	require.Error(t, err)
	want := []time.Duration{100 * time.Second, 200 * time.Second, 300 * time.Second, 300 * time.Second, 300 * time.Second}
	assert.Equal(t, want, rec.sleeps)
	for i := 1; i < len(rec.sleeps); i++ {
		assert.GreaterOrEqual(t, rec.sleeps[i], rec.sleeps[i-1], "backoff must not decrease")
	}
}

func TestDo_BackoffCeiling(t *testing.T) {
	tests := []struct {
		name       string
		initial    time.Duration
		maxBackoff time.Duration
		maxRetries int
		want       []time.Duration
	}{
		{"zero cap means no wait", time.Second, 0, 5, []time.Duration{0, 0, 0, 0}},
		{"negative cap means no wait", time.Second, -time.Second, 3, []time.Duration{0, 0}},
		{"initial above cap", 10 * time.Second, 3 * time.Second, 4, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}},
		{"cap equals initial", 2 * time.Second, 2 * time.Second, 3, []time.Duration{2 * time.Second, 2 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			cfg := testConfig(tt.maxRetries, rec)
			cfg.InitialBackoff = tt.initial
			cfg.MaxBackoff = tt.maxBackoff
			attempts := 0

			err := Do(context.Background(), cfg, nil, failThenSucceed(100, &attempts))

			var exhausted *ExhaustedError
			require.ErrorAs(t, err, &exhausted)
			assert.Equal(t, tt.want, rec.sleeps)
		})
	}
}

func TestDo_LongRunNeverOverflows(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(200, rec)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Duration(1<<63 - 1)
	attempts := 0

	err := Do(context.Background(), cfg, nil, failThenSucceed(1000, &attempts))

	require.Error(t, err)
	require.Len(t, rec.sleeps, 199)
	for i, d := range rec.sleeps {
		require.Positive(t, d, "sleep %d", i)
		if i > 0 {
			require.GreaterOrEqual(t, d, rec.sleeps[i-1], "sleep %d", i)
		}
	}
	assert.Equal(t, cfg.MaxBackoff, rec.sleeps[len(rec.sleeps)-1])
}

func TestDo_PermanentError(t *testing.T) {
	tests := []struct {
		name          string
		transientPrev int
	}{
		{"first attempt", 0},
		{"after two transient failures", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			attempts := 0

			err := Do(context.Background(), testConfig(5, rec), nil, func(ctx context.Context) error {
				attempts++
				if attempts <= tt.transientPrev {
					return errTransient
				}
				return errPermanent
			})

			assert.ErrorIs(t, err, errPermanent)
			assert.Equal(t, tt.transientPrev+1, attempts)
			assert.Len(t, rec.sleeps, tt.transientPrev, "no sleep after a permanent failure")
		})
	}
}

func TestDo_UnclassifiedErrorIsPermanent(t *testing.T) {
	rec := &recorder{}
	attempts := 0
	plain := errors.New("boom")

	err := Do(context.Background(), testConfig(5, rec), nil, func(ctx context.Context) error {
		attempts++
		return plain
	})

	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.sleeps)
}

func TestDo_CustomClassifier(t *testing.T) {
	rec := &recorder{}
	attempts := 0
	flaky := errors.New("flaky")

	classifier := func(err error) Class {
		if errors.Is(err, flaky) {
			return Transient
		}
		return Permanent
	}

	err := Do(context.Background(), testConfig(3, rec), classifier, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return flaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_OnRetry(t *testing.T) {
	rec := &recorder{}
	cfg := testConfig(3, rec)
	var seen []int
	cfg.OnRetry = func(attempt int, backoff time.Duration, err error) {
		seen = append(seen, attempt)
	}
	attempts := 0

	_ = Do(context.Background(), cfg, nil, failThenSucceed(5, &attempts))

	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxRetries:     5,
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
		Multiplier:     2.0,
	}
	attempts := 0

	err := Do(ctx, cfg, nil, func(ctx context.Context) error {
		attempts++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil error", nil, Permanent},
		{"context canceled", context.Canceled, Permanent},
		{"deadline exceeded", context.DeadlineExceeded, Permanent},
		{"transient", errTransient, Transient},
		{"wrapped transient", errors.Join(errors.New("ctx"), errTransient), Transient},
		{"permanent", errPermanent, Permanent},
		{"generic error", errors.New("generic"), Permanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialBackoff)
	assert.Equal(t, 300*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
}
