package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
)

const (
	// popTimeout bounds each BRPOP so the pump notices Close promptly.
	popTimeout = time.Second

	// pushTimeout bounds each LPUSH so Enqueue stays non-blocking in practice.
	pushTimeout = 500 * time.Millisecond

	connectTimeout = 15 * time.Second
)

// RedisConfig configures a RedisQueue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
	Capacity int
}

// RedisQueue is a Redis list-backed queue. Producers LPUSH, a single pump
// goroutine BRPOPs and hands jobs to workers over an unbuffered channel, so
// at most one job is held outside Redis at a time.
type RedisQueue struct {
	client   *redis.Client
	key      string
	capacity int

	out    chan *Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis and starts the pump.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectTimeout
	ping := func() error {
		return client.Ping(ctx).Err()
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("queue: failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return newRedisQueue(client, cfg.Key, cfg.Capacity), nil
}

func newRedisQueue(client *redis.Client, key string, capacity int) *RedisQueue {
	if capacity <= 0 {
		capacity = 1
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		client:   client,
		key:      key,
		capacity: capacity,
		out:      make(chan *Job),
		ctx:      pumpCtx,
		cancel:   cancel,
	}

	q.wg.Add(1)
	go q.pump()

	return q
}

// Enqueue pushes a job onto the Redis list. The capacity check is
// approximate under concurrent producers.
func (q *RedisQueue) Enqueue(job *Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	ctx, cancel := context.WithTimeout(q.ctx, pushTimeout)
	defer cancel()

	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return fmt.Errorf("queue: failed to read queue length: %w", err)
	}
	if int(n) >= q.capacity {
		return ErrQueueFull
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: failed to encode job: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: failed to push job: %w", err)
	}

	return nil
}

// Jobs returns the channel fed by the pump.
func (q *RedisQueue) Jobs() <-chan *Job {
	return q.out
}

// Len returns the number of jobs waiting in Redis.
func (q *RedisQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close stops the pump and closes the Redis client. Jobs still in the list
// stay there for the next process.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	return q.client.Close()
}

func (q *RedisQueue) pump() {
	defer q.wg.Done()
	defer close(q.out)

	for {
		if q.ctx.Err() != nil {
			return
		}

		res, err := q.client.BRPop(q.ctx, popTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if q.ctx.Err() != nil {
				return
			}
			log.Printf("WARNING: queue: BRPOP on %s failed: %v", q.key, err)
			time.Sleep(popTimeout)
			continue
		}

		// res is [key, value].
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("ERROR: queue: dropping undecodable job: %v", err)
			continue
		}

		select {
		case q.out <- &job:
		case <-q.ctx.Done():
			// Put the job back at the pop end so it is next on restart.
			if err := q.client.RPush(context.Background(), q.key, res[1]).Err(); err != nil {
				log.Printf("ERROR: queue: failed to return job %s to redis: %v", job.EntityID, err)
			}
			return
		}
	}
}
