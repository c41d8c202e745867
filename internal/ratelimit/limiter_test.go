package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLimiter(t *testing.T, limit int) (*Limiter, redismock.ClientMock, string) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := New(db, limit, 10*time.Second)
	at := time.Unix(1_700_000_005, 0)
	l.now = func() time.Time { return at }
	key := "floorchat:rl:send:u1:170000000"
	return l, mock, key
}

func expectHit(mock redismock.ClientMock, key string, n int64) {
	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetVal(n)
	mock.ExpectExpire(key, 10*time.Second).SetVal(true)
	mock.ExpectTxPipelineExec()
}

func TestAllow_CountAndExpiryInOneTransaction(t *testing.T) {
	l, mock, key := fixedLimiter(t, 2)
	expectHit(mock, key, 1)

	ok, err := l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllow_OverLimit(t *testing.T) {
	l, mock, key := fixedLimiter(t, 2)
	expectHit(mock, key, 3)

	ok, err := l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllow_RedisError(t *testing.T) {
	l, mock, key := fixedLimiter(t, 2)
	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetErr(errors.New("conn refused"))
	mock.ExpectExpire(key, 10*time.Second).SetVal(true)
	mock.ExpectTxPipelineExec()

	_, err := l.Allow(context.Background(), "u1")
	assert.ErrorContains(t, err, "conn refused")
}

func TestAllow_Disabled(t *testing.T) {
	var nilLimiter *Limiter
	ok, err := nilLimiter.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	l, mock, _ := fixedLimiter(t, 0)
	ok, err = l.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
