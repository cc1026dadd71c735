package recording

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"vpe/mediatool"
	"vpe/order"
)

// DefaultDegenerateSize is the byte size of a recording that contains no frames.
const DefaultDegenerateSize = 300

// SegmentResult describes one capture attempt.
type SegmentResult struct {
	Path       string
	Index      int
	Observed   time.Duration
	Reachable  bool
	Degenerate bool
}

// CaptureSession records segments of one camera into a directory, numbering them in order.
type CaptureSession struct {
	gateway        mediatool.Gateway
	prober         Prober
	dir            string
	prefix         string
	next           int
	degenerateSize int64
	now            func() time.Time
}

// NewCaptureSession creates a session that writes segments as dir/prefix_N.mp4.
func NewCaptureSession(gateway mediatool.Gateway, prober Prober, dir, prefix string, degenerateSize int64) *CaptureSession {
	if degenerateSize <= 0 {
		degenerateSize = DefaultDegenerateSize
	}
	return &CaptureSession{
		gateway:        gateway,
		prober:         prober,
		dir:            dir,
		prefix:         prefix,
		next:           1,
		degenerateSize: degenerateSize,
		now:            time.Now,
	}
}

// Record probes the camera and, when reachable, records up to requested.
// An unreachable camera is not an error: the result has Reachable set to false.
// A failed recording returns the tool error together with the wall-clock time it consumed.
func (s *CaptureSession) Record(ctx context.Context, cam order.Camera, requested time.Duration) (SegmentResult, error) {
	address := CameraAddress(cam)
	if err := s.prober.Probe(ctx, address, cam.Timeout); err != nil {
		log.Printf("[capture] camera %s not reachable: %v", address, err)
		return SegmentResult{Reachable: false}, nil
	}

	idx := s.next
	s.next++
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%d.mp4", s.prefix, idx))
	result := SegmentResult{Path: path, Index: idx, Reachable: true}

	log.Printf("[capture] recording segment %d from %s for %v", idx, address, requested)
	started := s.now()
	err := s.gateway.Record(ctx, CameraURL(cam), requested, cam.Timeout, path)
	elapsed := s.now().Sub(started)
	if err != nil {
		result.Path = ""
		result.Observed = elapsed
		return result, err
	}

	info, err := os.Stat(path)
	if err != nil {
		result.Path = ""
		result.Observed = elapsed
		return result, fmt.Errorf("segment %s missing after recording: %w", path, err)
	}

	if info.Size() == s.degenerateSize || info.Size() == 0 {
		// The probed duration of an empty recording is meaningless.
		result.Degenerate = true
		result.Observed = elapsed
		log.Printf("[capture] segment %d is degenerate (%d bytes), counting %v", idx, info.Size(), elapsed)
		return result, nil
	}

	seconds, err := s.gateway.ProbeDuration(ctx, path)
	if err != nil {
		log.Printf("[capture] could not probe segment %d, counting wall clock %v: %v", idx, elapsed, err)
		result.Observed = elapsed
		return result, nil
	}
	result.Observed = time.Duration(seconds * float64(time.Second))
	log.Printf("[capture] segment %d recorded %v", idx, result.Observed)
	return result, nil
}
