package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

var errFatal = errors.New("source missing")

func TestWrapSkipsRetryForPermanentErrors(t *testing.T) {
	b := NewBroker(Options{Permanent: func(err error) bool { return errors.Is(err, errFatal) }})

	tests := []struct {
		name      string
		err       error
		wantNil   bool
		wantSkip  bool
		wantCause error
	}{
		{"success", nil, true, false, nil},
		{"permanent", errFatal, false, true, errFatal},
		{"retryable", errors.New("upload timeout"), false, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			h := b.wrap(func(ctx context.Context, payload []byte) error {
				got = payload
				return tt.err
			})
			err := h(context.Background(), asynq.NewTask(TaskProcessOrder, []byte(`{"job_id":"x"}`)))
			if string(got) != `{"job_id":"x"}` {
				t.Errorf("Payload not passed through: %q", got)
			}
			if tt.wantNil {
				if err != nil {
					t.Errorf("Expected nil, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error")
			}
			if errors.Is(err, asynq.SkipRetry) != tt.wantSkip {
				t.Errorf("SkipRetry = %v, want %v (%v)", !tt.wantSkip, tt.wantSkip, err)
			}
		})
	}
}

func TestNewBrokerDefaults(t *testing.T) {
	b := NewBroker(Options{RedisAddr: "127.0.0.1:6379"})
	if b.opts.Queue != "default" || b.opts.Concurrency != 1 || b.opts.MaxRetry != 3 {
		t.Errorf("Unexpected defaults: %+v", b.opts)
	}
	if b.opts.ReconnectDelay != 5*time.Second {
		t.Errorf("Unexpected reconnect delay %v", b.opts.ReconnectDelay)
	}
}

func TestEnqueueUnreachable(t *testing.T) {
	b := NewBroker(Options{RedisAddr: "127.0.0.1:1"})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.Enqueue(ctx, "job-1", []byte("{}")); err == nil {
		t.Error("Expected error for an unreachable broker")
	}
}

func TestConsumeStopsOnCancel(t *testing.T) {
	b := NewBroker(Options{RedisAddr: "127.0.0.1:1", ReconnectDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := b.Consume(ctx, func(ctx context.Context, payload []byte) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestLockKey(t *testing.T) {
	if got := LockKey("in00120304005", 42); got != "vpe:lock:in00120304005:42" {
		t.Errorf("Unexpected lock key %s", got)
	}
}
