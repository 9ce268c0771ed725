package analytics

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/polyfund/multifund-trader/internal/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	require.True(t, isTransient(context.DeadlineExceeded))
	require.True(t, isTransient(timeoutErr{}))
	require.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	require.False(t, isTransient(&pgconn.PgError{Code: "23505"}))
	require.False(t, isTransient(errors.New("syntax error")))
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := withRetry(context.Background(), "test-op", func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, timeoutErr{}
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, result)
	require.Equal(t, 3, attempts)
}

func TestWithRetryExhaustsIntoTransientStoreError(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), "test-op", func(ctx context.Context) (int, error) {
		attempts++
		return 0, timeoutErr{}
	})
	var tse *domain.TransientStoreError
	require.ErrorAs(t, err, &tse)
	require.Equal(t, 3, attempts)
}

func TestWithRetryPermanentFailsImmediately(t *testing.T) {
	attempts := 0
	_, err := withRetry(context.Background(), "test-op", func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("column does not exist")
	})
	var pqe *domain.PermanentQueryError
	require.ErrorAs(t, err, &pqe)
	require.Equal(t, 1, attempts)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := withRetry(ctx, "test-op", func(ctx context.Context) (int, error) {
		return 0, timeoutErr{}
	})
	require.Error(t, err)
	_ = time.Millisecond
}
