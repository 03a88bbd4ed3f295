package memo

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallCachesByKey(t *testing.T) {
	ctx := context.Background()
	m := New[int, string](WithName("test"))
	calls := 0
	fn := func(v string) func() (string, error) {
		return func() (string, error) {
			calls++
			return v, nil
		}
	}

	got, err := m.Call(ctx, 1, fn("one"))
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	got, err = m.Call(ctx, 1, fn("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	got, err = m.Call(ctx, 2, fn("two"))
	require.NoError(t, err)
	assert.Equal(t, "two", got)

	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, m.Len())
}

func TestCallDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	m := New[string, int]()
	boom := errors.New("boom")

	_, err := m.Call(ctx, "k", func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	got, err := m.Call(ctx, "k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestCallStructKeys(t *testing.T) {
	type query struct {
		path string
		pids string
	}
	ctx := context.Background()
	m := New[query, []string]()

	a, _ := m.Call(ctx, query{"/dev/ttys001", ""}, func() ([]string, error) { return []string{"a"}, nil })
	b, _ := m.Call(ctx, query{"/dev/ttys001", "1,2"}, func() ([]string, error) { return []string{"b"}, nil })
	assert.Equal(t, []string{"a"}, a)
	assert.Equal(t, []string{"b"}, b)
}

func TestCallConcurrentSingleComputation(t *testing.T) {
	ctx := context.Background()
	m := New[string, int]()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.Call(ctx, "same", func() (int, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestDisable(t *testing.T) {
	ctx := context.Background()
	m := New[int, int]()
	calls := 0
	fn := func() (int, error) { calls++; return calls, nil }

	_, _ = m.Call(ctx, 1, fn)
	m.Disable()
	assert.Equal(t, 0, m.Len())

	_, _ = m.Call(ctx, 1, fn)
	_, _ = m.Call(ctx, 1, fn)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, m.Len())
}
