package process

import (
	"context"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strings"

	"vpe/mediatool"
	"vpe/order"
)

// Range is a cut of the source in seconds.
type Range struct {
	Start float64
	End   float64
}

// Length returns the length of the range in seconds.
func (r Range) Length() float64 {
	return r.End - r.Start
}

// PlanTrim computes the cuts a strategy makes on a source of the given duration.
// NoTrim yields no cuts.
func PlanTrim(strategy order.TrimStrategy, duration float64) ([]Range, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("cannot trim a source of duration %v", duration)
	}

	switch s := strategy.(type) {
	case nil, order.NoTrim:
		return nil, nil

	case order.ByFactor:
		return planByFactor(s, duration)

	case order.NumParts:
		if s.Parts <= 0 || s.Parts > order.MaxNumberOfClips {
			return nil, fmt.Errorf("cannot split a source into %d parts", s.Parts)
		}
		part := duration / float64(s.Parts)
		ranges := make([]Range, 0, s.Parts)
		for i := 0; i < s.Parts; i++ {
			start := float64(i) * part
			end := start + part
			if i == s.Parts-1 {
				end = duration
			}
			if s.EqualDistribution && s.ClipLength <= part {
				end = start + s.ClipLength
			}
			ranges = append(ranges, Range{Start: start, End: end})
		}
		return ranges, nil

	case order.SubSample:
		r, err := planSubSample(s, duration)
		if err != nil {
			return nil, err
		}
		return []Range{r}, nil

	case order.ByPoints:
		start, end := s.Bounds()
		end = math.Min(end, duration)
		if start >= end {
			return nil, fmt.Errorf("point range starts at %vs past the end of a %vs source", start, duration)
		}
		return []Range{{Start: start, End: end}}, nil

	default:
		return nil, fmt.Errorf("unsupported trim strategy %T", strategy)
	}
}

// planByFactor emits fixed length clips from the start. With LastClip the tail
// shorter than one clip is absorbed by the final clip, otherwise it is dropped.
func planByFactor(f order.ByFactor, duration float64) ([]Range, error) {
	clip := f.ClipSeconds()
	if clip <= 0 || duration/clip > order.MaxNumberOfClips {
		return nil, fmt.Errorf("clips of %vs would cut a %vs source into more than %d clips", clip, duration, order.MaxNumberOfClips)
	}
	var ranges []Range
	if !f.LastClip {
		n := int(math.Floor(duration / clip))
		for i := 0; i < n; i++ {
			start := float64(i) * clip
			ranges = append(ranges, Range{Start: start, End: start + clip})
		}
		return ranges, nil
	}

	start := 0.0
	for duration-start >= 2*clip {
		ranges = append(ranges, Range{Start: start, End: start + clip})
		start += clip
	}
	if duration > start {
		ranges = append(ranges, Range{Start: start, End: duration})
	}
	return ranges, nil
}

func planSubSample(s order.SubSample, duration float64) (Range, error) {
	windowStart, windowEnd, err := s.Window.Offsets()
	if err != nil {
		return Range{}, err
	}
	sampleStart, sampleEnd, err := s.SampleWindow.Offsets()
	if err != nil {
		return Range{}, err
	}
	// A clock-only sample after midnight belongs to the next day of the window.
	if windowEnd > 86400 && sampleStart < windowStart {
		sampleStart += 86400
		sampleEnd += 86400
	}

	length := math.Min(sampleEnd-sampleStart, duration)
	start := math.Max(0, sampleStart-windowStart)
	end := start + length
	if sampleEnd >= windowEnd || end > duration {
		end = duration
	}
	if start >= end {
		return Range{}, fmt.Errorf("sample window %s-%s lies outside the recording", s.SampleWindow.Start, s.SampleWindow.End)
	}
	return Range{Start: start, End: end}, nil
}

// ClipName returns the path of the idx-th clip cut from input.
func ClipName(dir, input string, idx int) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, fmt.Sprintf("%s_%d.mp4", stem, idx))
}

// Trimmer cuts a file into clips according to a trim strategy.
type Trimmer struct {
	gateway mediatool.Gateway
	codec   mediatool.CodecParams
}

// NewTrimmer creates a Trimmer that cuts with the given codec parameters.
func NewTrimmer(gateway mediatool.Gateway, codec mediatool.CodecParams) *Trimmer {
	return &Trimmer{gateway: gateway, codec: codec}
}

// Trim cuts input into outDir and returns the clips in order. A failed cut fails the
// stage; clips already written are returned so the caller can discard them.
func (t *Trimmer) Trim(ctx context.Context, input string, strategy order.TrimStrategy, outDir string) ([]string, error) {
	if strategy == nil || strategy.Kind() == order.TrimNone {
		log.Printf("[trim] no trim strategy selected for %s", filepath.Base(input))
		return nil, nil
	}

	duration, err := t.gateway.ProbeDuration(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", input, err)
	}
	ranges, err := PlanTrim(strategy, duration)
	if err != nil {
		return nil, err
	}

	log.Printf("[trim] %s: %s into %d clips", filepath.Base(input), strategy.Kind(), len(ranges))
	clips := make([]string, 0, len(ranges))
	for i, r := range ranges {
		out := ClipName(outDir, input, i+1)
		if err := t.gateway.Cut(ctx, input, r.Start, r.End, out, t.codec); err != nil {
			return clips, fmt.Errorf("failed to cut clip %d [%.3f, %.3f]: %w", i+1, r.Start, r.End, err)
		}
		clips = append(clips, out)
	}
	return clips, nil
}
