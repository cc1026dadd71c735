package process

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"path/filepath"
	"strings"

	"vpe/mediatool"
)

// PlanSample picks the QA sample of a source. The length is rate percent of the
// duration and the start is uniform in [1, duration-length], so the sample always
// ends inside the source. A sample as long as the source covers all of it.
// It returns false when the rate yields no sample.
func PlanSample(duration float64, rate int, intn func(n int) int) (Range, bool) {
	if rate <= 0 || duration <= 0 {
		return Range{}, false
	}
	length := math.Floor(duration * float64(rate) / 100)
	if length <= 0 {
		return Range{}, false
	}
	if length >= duration {
		return Range{Start: 0, End: duration}, true
	}

	span := int(math.Floor(duration - length))
	if span < 1 {
		span = 1
	}
	start := float64(1 + intn(span))
	end := math.Min(start+length, duration)
	return Range{Start: start, End: end}, true
}

// Sampler extracts a validation sample from a file.
type Sampler struct {
	gateway mediatool.Gateway
	codec   mediatool.CodecParams
	intn    func(n int) int
}

// NewSampler creates a Sampler with a random start offset.
func NewSampler(gateway mediatool.Gateway, codec mediatool.CodecParams) *Sampler {
	return &Sampler{gateway: gateway, codec: codec, intn: rand.Intn}
}

// Sample writes a sample of input into outDir and returns its path, or "" when
// the rate yields no sample.
func (s *Sampler) Sample(ctx context.Context, input string, rate int, outDir string) (string, error) {
	duration, err := s.gateway.ProbeDuration(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to probe %s: %w", input, err)
	}
	r, ok := PlanSample(duration, rate, s.intn)
	if !ok {
		return "", nil
	}

	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(outDir, stem+"_sample.mp4")
	if err := s.gateway.Cut(ctx, input, r.Start, r.End, out, s.codec); err != nil {
		return "", err
	}
	log.Printf("[sample] %s: %.0fs sample from %.0fs", filepath.Base(input), r.Length(), r.Start)
	return out, nil
}
