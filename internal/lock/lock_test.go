package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	l := NewLocal()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	release, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	_, err = l.Acquire(ctx, "other", time.Minute)
	assert.NoError(t, err, "keys are independent")

	release()
	release()

	again, err := l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = l.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err, "an expired lock can be taken over")

	again()
	_, err = l.Acquire(ctx, "sweep", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired, "a stale release does not free the new owner's lock")
}

func TestRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping Redis-dependent test: REDIS_URL not set")
	}

	client, err := Connect(context.Background(), url)
	if err != nil {
		t.Skipf("Skipping Redis-dependent test: %v", err)
	}
	defer client.Close()

	r := NewRedis(client)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	release, err := r.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, key, 5*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()
	release2, err := r.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	release2()
}
