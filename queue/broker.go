package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// TaskProcessOrder is the task type carrying one JSON job description
const TaskProcessOrder = "order:process"

// ErrDuplicateJob is returned when a job id is already queued
var ErrDuplicateJob = errors.New("job already queued")

// HandlerFunc processes one job payload
type HandlerFunc func(ctx context.Context, payload []byte) error

// Options configures the broker connection and the consumer
type Options struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	Queue          string
	Concurrency    int
	MaxRetry       int
	ReconnectDelay time.Duration
	// Permanent reports errors that must not be retried
	Permanent func(error) bool
}

// Broker owns the queue connection. There is no package level state: a failed
// connection is replaced through Reconnect.
type Broker struct {
	opts   Options
	mu     sync.Mutex
	client *asynq.Client
}

// NewBroker creates a broker; no connection is made until Connect
func NewBroker(opts Options) *Broker {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRetry <= 0 {
		opts.MaxRetry = 3
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	return &Broker{opts: opts}
}

func (b *Broker) redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     b.opts.RedisAddr,
		Password: b.opts.RedisPassword,
		DB:       b.opts.RedisDB,
	}
}

// Connect opens the producer connection and checks that redis answers
func (b *Broker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return nil
	}
	client := asynq.NewClient(b.redisOpt())
	if err := client.Ping(); err != nil {
		client.Close()
		return fmt.Errorf("failed to reach queue at %s: %w", b.opts.RedisAddr, err)
	}
	b.client = client
	log.Printf("[queue] connected to %s (queue %q)", b.opts.RedisAddr, b.opts.Queue)
	return nil
}

// Reconnect drops the current connection and opens a new one
func (b *Broker) Reconnect() error {
	b.mu.Lock()
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			log.Printf("[queue] error closing stale connection: %v", err)
		}
		b.client = nil
	}
	b.mu.Unlock()
	return b.Connect()
}

// Close releases the producer connection
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// Enqueue queues a job description under its job id. A job id that is still
// pending returns ErrDuplicateJob. A broken connection is reopened once.
func (b *Broker) Enqueue(ctx context.Context, jobID string, payload []byte) (*asynq.TaskInfo, error) {
	if err := b.Connect(); err != nil {
		return nil, err
	}

	info, err := b.enqueue(ctx, jobID, payload)
	if err != nil && !errors.Is(err, ErrDuplicateJob) && ctx.Err() == nil {
		log.Printf("[queue] enqueue of %s failed, reconnecting: %v", jobID, err)
		if rerr := b.Reconnect(); rerr != nil {
			return nil, fmt.Errorf("enqueue failed: %v; reconnect failed: %w", err, rerr)
		}
		info, err = b.enqueue(ctx, jobID, payload)
	}
	return info, err
}

func (b *Broker) enqueue(ctx context.Context, jobID string, payload []byte) (*asynq.TaskInfo, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil, errors.New("queue is not connected")
	}

	task := asynq.NewTask(TaskProcessOrder, payload)
	info, err := client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(b.opts.Queue),
		asynq.MaxRetry(b.opts.MaxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("[queue] enqueued job %s on %s", jobID, info.Queue)
	return info, nil
}

// Consume runs the consumer until ctx is done. A server that cannot start is
// retried after the reconnect delay. In-flight tasks are given the shutdown
// grace period and are redelivered if they do not finish in time.
func (b *Broker) Consume(ctx context.Context, handler HandlerFunc) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessOrder, b.wrap(handler))

	for attempt := 1; ; attempt++ {
		srv := asynq.NewServer(b.redisOpt(), asynq.Config{
			Concurrency:     b.opts.Concurrency,
			Queues:          map[string]int{b.opts.Queue: 1},
			ShutdownTimeout: 30 * time.Second,
		})
		err := srv.Ping()
		if err == nil {
			err = srv.Start(mux)
		}
		if err != nil {
			log.Printf("[queue] consumer start failed (attempt %d): %v", attempt, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.opts.ReconnectDelay):
			}
			if err := b.Reconnect(); err != nil {
				log.Printf("[queue] reconnect failed: %v", err)
			}
			continue
		}

		log.Printf("[queue] consuming %q with concurrency %d", b.opts.Queue, b.opts.Concurrency)
		<-ctx.Done()
		log.Println("[queue] shutting down consumer")
		srv.Shutdown()
		return ctx.Err()
	}
}

// wrap adapts a handler to asynq. Permanent failures skip the remaining retries.
func (b *Broker) wrap(handler HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		err := handler(ctx, t.Payload())
		if err == nil {
			return nil
		}
		if b.opts.Permanent != nil && b.opts.Permanent(err) {
			log.Printf("[queue] permanent failure, not retrying: %v", err)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}
