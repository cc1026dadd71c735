package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vpe/mediatool"
	"vpe/order"
)

type cutCall struct {
	input      string
	start, end float64
	output     string
}

// fakeGateway writes placeholder outputs and records what it was asked to do.
type fakeGateway struct {
	duration  float64
	cuts      []cutCall
	bitrates  []int
	failCutAt int
}

func (g *fakeGateway) Record(ctx context.Context, sourceURL string, duration, timeout time.Duration, output string) error {
	return os.WriteFile(output, []byte("rec"), 0644)
}

func (g *fakeGateway) Cut(ctx context.Context, input string, start, end float64, output string, codec mediatool.CodecParams) error {
	g.cuts = append(g.cuts, cutCall{input: input, start: start, end: end, output: output})
	if g.failCutAt > 0 && len(g.cuts) == g.failCutAt {
		return &mediatool.ToolError{Tool: "ffmpeg", ExitCode: 1}
	}
	return os.WriteFile(output, []byte("cut"), 0644)
}

func (g *fakeGateway) Concat(ctx context.Context, inputs []string, output string) error {
	return os.WriteFile(output, []byte("merged"), 0644)
}

func (g *fakeGateway) Compress(ctx context.Context, input, output string, bitrateKbps, fps int) error {
	g.bitrates = append(g.bitrates, bitrateKbps)
	return os.WriteFile(output, []byte("compressed"), 0644)
}

func (g *fakeGateway) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return g.duration, nil
}

func assertRanges(t *testing.T, got, want []Range) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %d ranges, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Range %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestPlanTrimByFactor(t *testing.T) {
	tests := []struct {
		name     string
		strategy order.ByFactor
		duration float64
		want     []Range
	}{
		{"last clip absorbs tail", order.ByFactor{ClipLength: 30, LastClip: true}, 95, []Range{{0, 30}, {30, 60}, {60, 95}}},
		{"tail dropped", order.ByFactor{ClipLength: 30}, 95, []Range{{0, 30}, {30, 60}, {60, 90}}},
		{"exact multiple", order.ByFactor{ClipLength: 30, LastClip: true}, 90, []Range{{0, 30}, {30, 60}, {60, 90}}},
		{"shorter than a clip", order.ByFactor{ClipLength: 30, LastClip: true}, 20, []Range{{0, 20}}},
		{"minutes", order.ByFactor{ClipLength: 1, Minutes: true}, 150, []Range{{0, 60}, {60, 120}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanTrim(tt.strategy, tt.duration)
			if err != nil {
				t.Fatalf("PlanTrim failed: %v", err)
			}
			assertRanges(t, got, tt.want)
		})
	}
}

func TestPlanTrimNumParts(t *testing.T) {
	got, err := PlanTrim(order.NumParts{Parts: 3, ClipLength: 30}, 30)
	if err != nil {
		t.Fatal(err)
	}
	assertRanges(t, got, []Range{{0, 10}, {10, 20}, {20, 30}})

	got, _ = PlanTrim(order.NumParts{Parts: 3, EqualDistribution: true, ClipLength: 5}, 30)
	assertRanges(t, got, []Range{{0, 5}, {10, 15}, {20, 25}})

	// A clip longer than a part keeps the whole part.
	got, _ = PlanTrim(order.NumParts{Parts: 3, EqualDistribution: true, ClipLength: 30}, 30)
	assertRanges(t, got, []Range{{0, 10}, {10, 20}, {20, 30}})
}

func TestPlanTrimRejectsClipExplosion(t *testing.T) {
	tests := []struct {
		name     string
		strategy order.TrimStrategy
	}{
		{"tiny clip length", order.ByFactor{ClipLength: 1e-9}},
		{"tiny clip length with last clip", order.ByFactor{ClipLength: 0.001, LastClip: true}},
		{"too many parts", order.NumParts{Parts: 2000000000, ClipLength: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, err := PlanTrim(tt.strategy, 3600); err == nil {
				t.Errorf("Expected error, got %d ranges", len(got))
			}
		})
	}

	got, err := PlanTrim(order.ByFactor{ClipLength: 1}, order.MaxNumberOfClips)
	if err != nil || len(got) != order.MaxNumberOfClips {
		t.Errorf("Expected %d clips at the limit, got %d, %v", order.MaxNumberOfClips, len(got), err)
	}
}

func TestPlanTrimSubSample(t *testing.T) {
	window := order.ClockWindow{Start: "10:00:00", End: "11:00:00", Format: "%H:%M:%S"}
	tests := []struct {
		name        string
		sampleStart string
		sampleEnd   string
		duration    float64
		want        Range
	}{
		{"inside", "10:10:00", "10:20:00", 3600, Range{600, 1200}},
		{"starts before window", "09:50:00", "10:05:00", 3600, Range{0, 900}},
		{"ends after window", "10:50:00", "11:30:00", 3600, Range{3000, 3600}},
		{"short recording", "10:10:00", "10:20:00", 900, Range{600, 900}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := order.SubSample{Window: window, SampleWindow: order.ClockWindow{Start: tt.sampleStart, End: tt.sampleEnd, Format: "%H:%M:%S"}}
			got, err := PlanTrim(s, tt.duration)
			if err != nil {
				t.Fatalf("PlanTrim failed: %v", err)
			}
			assertRanges(t, got, []Range{tt.want})
		})
	}
}

func TestPlanTrimByPoints(t *testing.T) {
	got, err := PlanTrim(order.ByPoints{Start: 1, End: 2, Minutes: true}, 300)
	if err != nil {
		t.Fatal(err)
	}
	assertRanges(t, got, []Range{{60, 120}})

	got, _ = PlanTrim(order.ByPoints{Start: 10, End: 30}, 20)
	assertRanges(t, got, []Range{{10, 20}})

	if _, err := PlanTrim(order.ByPoints{Start: 40, End: 50}, 20); err == nil {
		t.Error("Expected error for a range past the end")
	}
}

func TestPlanTrimNoTrim(t *testing.T) {
	got, err := PlanTrim(order.NoTrim{}, 30)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected no cuts, got %v, %v", got, err)
	}
}

func TestPlanSampleClamps(t *testing.T) {
	var span int
	last := func(n int) int { span = n; return n - 1 }
	r, ok := PlanSample(100, 10, last)
	if !ok {
		t.Fatal("Expected a sample")
	}
	if r.Length() != 10 {
		t.Errorf("Expected 10s sample, got %v", r.Length())
	}
	if span != 90 || r.Start != 90 || r.End != 100 {
		t.Errorf("Latest start should be 90, got %v (span %d)", r, span)
	}

	r, _ = PlanSample(100, 10, func(n int) int { return 0 })
	if r.Start != 1 || r.End != 11 {
		t.Errorf("Earliest start should be 1, got %v", r)
	}

	r, _ = PlanSample(100, 100, last)
	if r != (Range{0, 100}) {
		t.Errorf("Full rate should cover the source, got %v", r)
	}

	if _, ok := PlanSample(100, 0, last); ok {
		t.Error("Zero rate should not sample")
	}
}

func TestTrimmerNamesClips(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{duration: 95}
	tr := NewTrimmer(gw, mediatool.StreamCopy)

	input := filepath.Join(dir, "in0012aan.mp4")
	clips, err := tr.Trim(context.Background(), input, order.ByFactor{ClipLength: 30, LastClip: true}, dir)
	if err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	want := []string{"in0012aan_1.mp4", "in0012aan_2.mp4", "in0012aan_3.mp4"}
	if len(clips) != len(want) {
		t.Fatalf("Expected %d clips, got %v", len(want), clips)
	}
	for i, c := range clips {
		if filepath.Base(c) != want[i] {
			t.Errorf("Clip %d: expected %s, got %s", i, want[i], filepath.Base(c))
		}
	}
	if gw.cuts[2].start != 60 || gw.cuts[2].end != 95 {
		t.Errorf("Unexpected last cut %+v", gw.cuts[2])
	}
}

func TestTrimmerStopsOnToolFailure(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{duration: 30, failCutAt: 2}
	clips, err := NewTrimmer(gw, mediatool.StreamCopy).Trim(context.Background(), filepath.Join(dir, "v.mp4"), order.NumParts{Parts: 3, ClipLength: 30}, dir)
	if !errors.Is(err, mediatool.ErrToolFailure) {
		t.Fatalf("Expected tool failure, got %v", err)
	}
	if len(clips) != 1 {
		t.Errorf("Expected the one finished clip back, got %v", clips)
	}
}

func TestSamplerWritesSample(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{duration: 100}
	s := NewSampler(gw, mediatool.StreamCopy)
	s.intn = func(n int) int { return 4 }

	out, err := s.Sample(context.Background(), filepath.Join(dir, "v.mp4"), 10, dir)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if filepath.Base(out) != "v_sample.mp4" {
		t.Errorf("Unexpected sample name %s", out)
	}
	if gw.cuts[0].start != 5 || gw.cuts[0].end != 15 {
		t.Errorf("Unexpected sample cut %+v", gw.cuts[0])
	}
}

func TestCompressorBitrateFloor(t *testing.T) {
	dir := t.TempDir()
	gw := &fakeGateway{}
	c := NewCompressor(gw, 0)
	out, err := c.Compress(context.Background(), filepath.Join(dir, "v.mp4"), dir, 100)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if filepath.Base(out) != "v_compressed.mp4" {
		t.Errorf("Unexpected output %s", out)
	}
	if gw.bitrates[0] != order.MinCompressionBitrate {
		t.Errorf("Expected bitrate floor %d, got %d", order.MinCompressionBitrate, gw.bitrates[0])
	}
}

func TestArchiveNeverOverwrites(t *testing.T) {
	src := filepath.Join(t.TempDir(), "source.mp4")
	if err := os.WriteFile(src, []byte("original bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	a := NewArchiver(t.TempDir())

	first, err := a.Archive(src, "in0012", "order")
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	second, err := a.Archive(src, "in0012", "order")
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	if first == second {
		t.Fatalf("Second archive overwrote the first: %s", first)
	}
	if filepath.Base(second) != "order_1.mp4" {
		t.Errorf("Unexpected second archive name %s", second)
	}
	b, _ := os.ReadFile(first)
	if string(b) != "original bytes" {
		t.Errorf("Archive content mismatch: %q", b)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("Source must be left in place")
	}
}
