package configclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ruteri/config-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) interfaces.RetryPolicy {
	return interfaces.RetryPolicy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		Multiplier:      1.1,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name         string
		maxAttempts  int
		failures     int
		wantErr      bool
		wantAttempts int
	}{
		{name: "first attempt succeeds", maxAttempts: 3, failures: 0, wantAttempts: 1},
		{name: "succeeds on last attempt", maxAttempts: 3, failures: 2, wantAttempts: 3},
		{name: "exhausted", maxAttempts: 3, failures: 5, wantErr: true, wantAttempts: 3},
		{name: "single attempt", maxAttempts: 1, failures: 1, wantErr: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			result, err := WithRetry(context.Background(), fastPolicy(tt.maxAttempts), newTestLogger(), func(ctx context.Context) (string, error) {
				attempts++
				if attempts <= tt.failures {
					return "", errors.New("attempt failed")
				}
				return "ok", nil
			})

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				require.EqualError(t, err, "attempt failed")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", result)
		})
	}
}

func TestWithRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := WithRetry(ctx, fastPolicy(10), newTestLogger(), func(ctx context.Context) (int, error) {
		attempts++
		cancel()
		return 0, errors.New("attempt failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
