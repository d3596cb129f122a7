package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitReturnsTaskError(t *testing.T) {
	p := New(&Config{Workers: 2, QueueSize: 4}, nil)
	defer p.Shutdown(context.Background())

	want := errors.New("boom")
	err := p.Submit(context.Background(), func(ctx context.Context) error { return want })
	assert.ErrorIs(t, err, want)
	assert.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestPool_SubmitAsyncRunsAll(t *testing.T) {
	p := New(&Config{Workers: 4, QueueSize: 64}, nil)

	var n atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.SubmitAsync(context.Background(), func(ctx context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.EqualValues(t, 50, n.Load())
}

func TestPool_FullAndClosed(t *testing.T) {
	p := New(&Config{Workers: 1, QueueSize: 1}, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.SubmitAsync(context.Background(), func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.NoError(t, p.SubmitAsync(context.Background(), func(ctx context.Context) error { return nil }))
	assert.ErrorIs(t, p.SubmitAsync(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolFull)

	close(block)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, p.SubmitAsync(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestPool_GoFallsBackWhenClosed(t *testing.T) {
	p := New(nil, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	ran := make(chan struct{})
	p.Go(context.Background(), func(ctx context.Context) error {
		close(ran)
		return nil
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}
