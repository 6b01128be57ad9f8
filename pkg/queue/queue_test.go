package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/lockscope/pkg/types"
)

func rec(tid uint32) types.Record {
	return types.Record{Kind: types.RecordSyscallEnter, TID: tid}
}

func TestOverflowDropsNewest(t *testing.T) {
	q := New(2)
	assert.True(t, q.TryPush(rec(1)))
	assert.True(t, q.TryPush(rec(2)))
	assert.False(t, q.TryPush(rec(3)))
	assert.Equal(t, uint64(1), q.Dropped())

	batch, err := q.Poll(context.Background(), time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint32(1), batch[0].TID)
	assert.Equal(t, uint32(2), batch[1].TID)
}

func TestPollTimesOut(t *testing.T) {
	q := New(4)
	start := time.Now()
	batch, err := q.Poll(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, batch)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, StatusTimeout, Classify(err))
}

func TestPollReturnsOnCancel(t *testing.T) {
	q := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := q.Poll(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusStopped, Classify(err))
}

func TestCloseDrainsBeforeReportingClosed(t *testing.T) {
	q := New(4)
	require.True(t, q.TryPush(rec(1)))
	q.Close()
	assert.False(t, q.TryPush(rec(2)))

	batch, err := q.Poll(context.Background(), time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	_, err = q.Poll(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrClosed)
}

func TestPollBatchLimit(t *testing.T) {
	q := New(DefaultBatch * 2)
	for i := 0; i < DefaultBatch+10; i++ {
		require.True(t, q.TryPush(rec(uint32(i))))
	}
	batch, err := q.Poll(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, batch, DefaultBatch)
	assert.Equal(t, 10, q.Len())
}

func TestConcurrentProducersNeverBlock(t *testing.T) {
	q := New(64)
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			n := 0
			for i := 0; i < perProducer; i++ {
				if q.TryPush(rec(uint32(p*perProducer + i))) {
					n++
				}
			}
			mu.Lock()
			accepted += n
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	assert.Equal(t, uint64(producers*perProducer-accepted), q.Dropped())
	assert.Equal(t, accepted, q.Len())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Status
	}{
		{nil, StatusOK},
		{fmt.Errorf("reading: %w", ErrTimeout), StatusTimeout},
		{ErrInterrupted, StatusInterrupted},
		{fmt.Errorf("epoll: %w", syscall.EINTR), StatusInterrupted},
		{ErrClosed, StatusStopped},
		{context.DeadlineExceeded, StatusStopped},
		{errors.New("bad file descriptor"), StatusFatal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}
