package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFOAndFull(t *testing.T) {
	q := NewMemoryQueue(2)

	require.NoError(t, q.Enqueue(NewJob("pet:1", "", "one")))
	require.NoError(t, q.Enqueue(NewJob("pet:2", "", "two")))
	assert.ErrorIs(t, q.Enqueue(NewJob("pet:3", "", "three")), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())

	assert.Equal(t, "pet:1", (<-q.Jobs()).EntityID)
	assert.Equal(t, "pet:2", (<-q.Jobs()).EntityID)
}

func TestMemoryQueue_CloseDrains(t *testing.T) {
	q := NewMemoryQueue(4)
	require.NoError(t, q.Enqueue(NewJob("pet:1", "", "")))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(NewJob("pet:2", "", "")), ErrQueueClosed)

	var got []string
	for job := range q.Jobs() {
		got = append(got, job.EntityID)
	}
	assert.Equal(t, []string{"pet:1"}, got)
}

func TestMemoryQueue_ConcurrentEnqueueAndClose(t *testing.T) {
	q := NewMemoryQueue(1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = q.Enqueue(NewJob("pet:x", "", ""))
			}
		}()
	}
	go func() {
		time.Sleep(time.Millisecond)
		_ = q.Close()
	}()
	wg.Wait()
	_ = q.Close()

	for range q.Jobs() {
	}
}

func newTestRedisQueue(t *testing.T, capacity int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := newRedisQueue(client, "petmind:test", capacity)
	t.Cleanup(func() { _ = q.Close() })

	return q, mr
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	q, _ := newTestRedisQueue(t, 10)

	require.NoError(t, q.Enqueue(NewJob("pet:1", "/img/a.jpg", "")))
	require.NoError(t, q.Enqueue(NewJob("pet:2", "", "hello")))

	select {
	case job := <-q.Jobs():
		assert.Equal(t, "pet:1", job.EntityID)
		assert.Equal(t, "/img/a.jpg", job.MediaRef)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first job")
	}

	select {
	case job := <-q.Jobs():
		assert.Equal(t, "pet:2", job.EntityID)
		assert.Equal(t, "hello", job.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for second job")
	}
}

func TestRedisQueue_Full(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	// Seed the list directly so the pump cannot drain it before the check.
	for i := 0; i < 2; i++ {
		_, err := mr.Lpush("petmind:full", `{"entity_id":"seed"}`)
		require.NoError(t, err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := &RedisQueue{client: client, key: "petmind:full", capacity: 2, ctx: context.Background()}

	assert.ErrorIs(t, q.Enqueue(NewJob("pet:3", "", "")), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	_ = client.Close()
}

func TestRedisQueue_CloseStopsPump(t *testing.T) {
	q, _ := newTestRedisQueue(t, 10)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Enqueue(NewJob("pet:1", "", "")), ErrQueueClosed)

	select {
	case _, ok := <-q.Jobs():
		assert.False(t, ok, "jobs channel closes after Close")
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not stop")
	}
}
