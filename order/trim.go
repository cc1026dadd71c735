package order

import (
	"fmt"
	"strings"
)

// TrimKind names one of the supported trim strategies.
type TrimKind string

const (
	TrimNone      TrimKind = ""
	TrimByFactor  TrimKind = "trim_by_factor"
	TrimNumParts  TrimKind = "trim_num_parts"
	TrimSubSample TrimKind = "trim_sub_sample"
	TrimByPoints  TrimKind = "trim_by_points"
)

// TrimStrategy is a closed set of trim strategies. Each variant carries its own parameters.
type TrimStrategy interface {
	Kind() TrimKind
	trimStrategy()
}

// NoTrim is selected when a job asks for trimming without naming a strategy.
type NoTrim struct{}

// ByFactor cuts fixed length clips, in seconds or minutes.
type ByFactor struct {
	ClipLength float64
	Minutes    bool
	LastClip   bool
}

// NumParts splits the source into a fixed number of equal parts.
type NumParts struct {
	Parts             int
	EqualDistribution bool
	ClipLength        float64
}

// SubSample cuts the portion of the source that falls inside a wall-clock sample window.
type SubSample struct {
	Window       ClockWindow
	SampleWindow ClockWindow
}

// ByPoints cuts one clip between two explicit offsets.
type ByPoints struct {
	Start   float64
	End     float64
	Minutes bool
}

func (NoTrim) Kind() TrimKind    { return TrimNone }
func (ByFactor) Kind() TrimKind  { return TrimByFactor }
func (NumParts) Kind() TrimKind  { return TrimNumParts }
func (SubSample) Kind() TrimKind { return TrimSubSample }
func (ByPoints) Kind() TrimKind  { return TrimByPoints }

func (NoTrim) trimStrategy()    {}
func (ByFactor) trimStrategy()  {}
func (NumParts) trimStrategy()  {}
func (SubSample) trimStrategy() {}
func (ByPoints) trimStrategy()  {}

// ClipSeconds returns the clip length in seconds.
func (f ByFactor) ClipSeconds() float64 {
	if f.Minutes {
		return f.ClipLength * 60
	}
	return f.ClipLength
}

// Bounds returns the start and end offsets in seconds.
func (p ByPoints) Bounds() (float64, float64) {
	if p.Minutes {
		return p.Start * 60, p.End * 60
	}
	return p.Start, p.End
}

func parseFactor(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "s":
		return false, nil
	case "m":
		return true, nil
	default:
		return false, fmt.Errorf("%w: trim_factor must be 's' or 'm', got %q", ErrInvalidSpec, v)
	}
}

func parseTrim(raw rawSpec, window ClockWindow) (TrimStrategy, error) {
	clipLength := floatOr(raw.ClipLength, DefaultClipLength)
	if clipLength <= 0 {
		return nil, fmt.Errorf("%w: clip_length must be positive", ErrInvalidSpec)
	}

	switch TrimKind(strings.TrimSpace(raw.TrimType)) {
	case TrimNone:
		return NoTrim{}, nil

	case TrimByFactor:
		minutes, err := parseFactor(raw.TrimFactor)
		if err != nil {
			return nil, err
		}
		return ByFactor{ClipLength: clipLength, Minutes: minutes, LastClip: raw.LastClip}, nil

	case TrimNumParts:
		parts := DefaultNumberOfClips
		if raw.NumberOfClips != nil {
			parts = *raw.NumberOfClips
		}
		if parts <= 0 {
			return nil, fmt.Errorf("%w: number_of_clips must be positive, got %d", ErrInvalidSpec, parts)
		}
		if parts > MaxNumberOfClips {
			return nil, fmt.Errorf("%w: number_of_clips %d exceeds %d", ErrInvalidSpec, parts, MaxNumberOfClips)
		}
		return NumParts{
			Parts:             parts,
			EqualDistribution: boolOr(raw.EqualDistribution, true),
			ClipLength:        clipLength,
		}, nil

	case TrimSubSample:
		sample := ClockWindow{Start: raw.SampleStartTime, End: raw.SampleEndTime, Format: window.Format}
		if window.Start == "" || window.End == "" || sample.Start == "" || sample.End == "" {
			return nil, fmt.Errorf("%w: trim_sub_sample requires start/end and sample_start/sample_end times", ErrInvalidSpec)
		}
		if _, err := sample.Seconds(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if _, err := window.Seconds(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		return SubSample{Window: window, SampleWindow: sample}, nil

	case TrimByPoints:
		minutes, err := parseFactor(raw.TrimFactor)
		if err != nil {
			return nil, err
		}
		p := ByPoints{
			Start:   floatOr(raw.PointStartTime, 0),
			End:     floatOr(raw.PointEndTime, DefaultPointEnd),
			Minutes: minutes,
		}
		if p.Start < 0 || p.End <= p.Start {
			return nil, fmt.Errorf("%w: point range [%v, %v] is empty", ErrInvalidSpec, p.Start, p.End)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown trim_type %q", ErrInvalidSpec, raw.TrimType)
	}
}
