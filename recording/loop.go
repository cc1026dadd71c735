package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"vpe/mediatool"
	"vpe/order"
)

// ErrRecording means a live capture finished without a usable recording.
var ErrRecording = errors.New("recording failed")

// State is a phase of the live capture loop.
type State string

const (
	StateChecking   State = "checking"
	StateRecording  State = "recording"
	StateAccounting State = "accounting"
	StateWaiting    State = "waiting_for_network"
	StateTerminated State = "terminated"
)

// TimeBudget tracks how much footage is still owed. Time spent waiting on the
// network is charged against the budget together with the next recorded segment.
type TimeBudget struct {
	Remaining  time.Duration
	Slept      time.Duration
	ForceClose time.Time
}

// Wait charges d of lost time.
func (b *TimeBudget) Wait(d time.Duration) {
	b.Slept += d
}

// Account subtracts an observed segment and all pending lost time.
func (b *TimeBudget) Account(observed time.Duration) {
	b.Remaining -= observed + b.Slept
	b.Slept = 0
}

// Request returns how long the next segment may run at now.
func (b TimeBudget) Request(now time.Time) time.Duration {
	req := b.Remaining
	if left := b.ForceClose.Sub(now); left < req {
		req = left
	}
	return req
}

// Done reports whether the loop should stop at now.
func (b TimeBudget) Done(now time.Time) bool {
	return b.Remaining <= 0 || !now.Before(b.ForceClose)
}

// LiveRequest describes one live capture.
type LiveRequest struct {
	Camera     order.Camera
	Duration   time.Duration
	ForceClose time.Time
	Dir        string
	Prefix     string
}

// LiveResult is the outcome of a live capture.
type LiveResult struct {
	Path     string
	Segments []SegmentResult
	Budget   TimeBudget
}

// LiveCaptureLoop records a camera until the requested duration is covered or the
// force-close deadline passes, waiting out network outages in between.
type LiveCaptureLoop struct {
	gateway        mediatool.Gateway
	prober         Prober
	concat         *Concatenator
	policy         RetryPolicy
	degenerateSize int64
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewLiveCaptureLoop creates a capture loop.
func NewLiveCaptureLoop(gateway mediatool.Gateway, prober Prober, concat *Concatenator, policy RetryPolicy, degenerateSize int64) *LiveCaptureLoop {
	return &LiveCaptureLoop{
		gateway:        gateway,
		prober:         prober,
		concat:         concat,
		policy:         policy,
		degenerateSize: degenerateSize,
		now:            time.Now,
		sleep:          sleepContext,
	}
}

// Run executes the capture state machine and returns the merged recording.
func (l *LiveCaptureLoop) Run(ctx context.Context, req LiveRequest) (LiveResult, error) {
	budget := TimeBudget{Remaining: req.Duration, ForceClose: req.ForceClose}
	result := LiveResult{}
	if req.Duration <= 0 {
		return result, fmt.Errorf("%w: non-positive duration %v", ErrRecording, req.Duration)
	}
	if err := os.MkdirAll(req.Dir, 0755); err != nil {
		return result, fmt.Errorf("failed to create recording directory: %w", err)
	}

	session := NewCaptureSession(l.gateway, l.prober, req.Dir, req.Prefix, l.degenerateSize)
	session.now = l.now
	started := l.now()
	failures := 0
	state := StateChecking
	var last SegmentResult

	log.Printf("[live] capturing %s for %v, force close at %s", CameraAddress(req.Camera), req.Duration, req.ForceClose.Format(time.RFC3339))
	for state != StateTerminated {
		if err := ctx.Err(); err != nil {
			result.Budget = budget
			return result, err
		}

		switch state {
		case StateChecking, StateRecording:
			requested := budget.Request(l.now())
			if requested <= 0 {
				state = StateTerminated
				continue
			}
			seg, err := session.Record(ctx, req.Camera, requested)
			if !seg.Reachable {
				state = StateWaiting
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					result.Budget = budget
					return result, ctx.Err()
				}
				log.Printf("[live] segment %d failed after %v: %v", seg.Index, seg.Observed, err)
				budget.Wait(seg.Observed)
				state = StateWaiting
				continue
			}
			if !seg.Degenerate {
				failures = 0
			}
			last = seg
			result.Segments = append(result.Segments, seg)
			state = StateAccounting

		case StateAccounting:
			budget.Account(last.Observed)
			log.Printf("[live] remaining %v after segment %d", budget.Remaining, last.Index)
			switch {
			case budget.Done(l.now()):
				state = StateTerminated
			case last.Degenerate:
				// An empty recording from a reachable camera backs off like a failure.
				state = StateWaiting
			default:
				state = StateChecking
			}

		case StateWaiting:
			failures++
			now := l.now()
			overrun := now.Sub(started) - req.Duration
			if !now.Before(budget.ForceClose) {
				log.Printf("[live] force close reached while waiting for %s", CameraAddress(req.Camera))
				state = StateTerminated
				continue
			}
			if !l.policy.Allow(failures, overrun) {
				log.Printf("[live] giving up on %s after %d failed attempts", CameraAddress(req.Camera), failures)
				state = StateTerminated
				continue
			}
			wait := req.Camera.Timeout
			if wait <= 0 {
				wait = time.Second
			}
			if left := budget.ForceClose.Sub(now); left < wait {
				wait = left
			}
			budget.Wait(wait)
			if err := l.sleep(ctx, wait); err != nil {
				result.Budget = budget
				return result, err
			}
			state = StateChecking
		}
	}

	result.Budget = budget
	path, err := l.concat.Merge(ctx, req.Dir)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrRecording, err)
	}
	if path == "" {
		return result, fmt.Errorf("%w: no footage captured from %s", ErrRecording, CameraAddress(req.Camera))
	}
	result.Path = path
	log.Printf("[live] capture finished with %d segments: %s", len(result.Segments), path)
	return result, nil
}
