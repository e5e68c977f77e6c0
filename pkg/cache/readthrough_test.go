package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestReadThroughServesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	var calls atomic.Int32
	c := NewReadThrough(time.Minute, func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"https://a.example"}, nil
	}, WithClock[[]string](clock.Now))

	ctx := context.Background()
	assert.Equal(t, []string{"https://a.example"}, c.Get(ctx))
	assert.Equal(t, []string{"https://a.example"}, c.Get(ctx))
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Minute)
	c.Get(ctx)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReadThroughKeepsLastGoodValueOnError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	fail := false
	var errs int
	c := NewReadThrough(time.Minute, func(context.Context) (string, error) {
		if fail {
			return "", errors.New("db down")
		}
		return "fresh", nil
	}, WithClock[string](clock.Now), WithErrorHandler[string](func(error) { errs++ }))

	ctx := context.Background()
	assert.Equal(t, "fresh", c.Get(ctx))

	fail = true
	clock.Advance(2 * time.Minute)
	assert.Equal(t, "fresh", c.Get(ctx))
	assert.Equal(t, 1, errs)
}

func TestReadThroughFallbackWhenNeverLoaded(t *testing.T) {
	c := NewReadThrough(time.Minute, func(context.Context) (string, error) {
		return "", errors.New("db down")
	}, WithFallback("static"))
	assert.Equal(t, "static", c.Get(context.Background()))
}

func TestReadThroughInvalidate(t *testing.T) {
	var calls atomic.Int32
	c := NewReadThrough(time.Hour, func(context.Context) (int32, error) {
		return calls.Add(1), nil
	})
	ctx := context.Background()
	assert.Equal(t, int32(1), c.Get(ctx))
	c.Invalidate()
	assert.Equal(t, int32(2), c.Get(ctx))
}
