package audio

import (
	"math"
	"testing"
)

const sampleDetectOutput = `
[silencedetect @ 0x55d] silence_start: 12.5
[silencedetect @ 0x55d] silence_end: 20.0 | silence_duration: 7.5
[silencedetect @ 0x55d] silence_start: 45.25
[silencedetect @ 0x55d] silence_end: 50.75 | silence_duration: 5.5
size=N/A time=00:01:00.00 bitrate=N/A speed= 312x
`

func TestParseSilences(t *testing.T) {
	silences := parseSilences([]byte(sampleDetectOutput))

	if len(silences) != 2 {
		t.Fatalf("expected 2 silences, got %d", len(silences))
	}
	if silences[0].start != 12.5 || silences[0].end != 20.0 {
		t.Errorf("first silence: expected [12.5,20.0], got [%v,%v]", silences[0].start, silences[0].end)
	}
	if silences[1].start != 45.25 || silences[1].end != 50.75 {
		t.Errorf("second silence: expected [45.25,50.75], got [%v,%v]", silences[1].start, silences[1].end)
	}
}

func TestParseSilences_UnterminatedTrailingSilence(t *testing.T) {
	out := []byte("[silencedetect] silence_start: 55.0\n")
	silences := parseSilences(out)

	if len(silences) != 1 {
		t.Fatalf("expected 1 silence, got %d", len(silences))
	}
	if silences[0].end != -1 {
		t.Errorf("expected open-ended silence, got end=%v", silences[0].end)
	}
}

func TestBuildSpeechSegments(t *testing.T) {
	silences := []silence{
		{start: 12.5, end: 20.0},
		{start: 45.25, end: 50.75},
	}
	segments := buildSpeechSegments(silences, 60.0, 1.0)

	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d: %v", len(segments), segments)
	}
	// leading speech, the gap between the silences, and trailing speech
	expect := [][2]float64{{0, 12.5}, {20.0, 45.25}, {50.75, 60.0}}
	for i, want := range expect {
		if segments[i].Start != want[0] || segments[i].End != want[1] {
			t.Errorf("segment %d: expected [%v,%v], got [%v,%v]",
				i, want[0], want[1], segments[i].Start, segments[i].End)
		}
		if math.Abs(segments[i].Duration-(want[1]-want[0])) > 1e-9 {
			t.Errorf("segment %d: bad duration %v", i, segments[i].Duration)
		}
	}
}

func TestBuildSpeechSegments_DropsShortSegments(t *testing.T) {
	silences := []silence{
		{start: 5.0, end: 10.0},
		{start: 10.5, end: 30.0}, // only 0.5s of speech between silences
	}
	segments := buildSpeechSegments(silences, 40.0, 1.0)

	if len(segments) != 2 {
		t.Fatalf("expected the 0.5s sliver to be dropped, got %v", segments)
	}
	if segments[0].End != 5.0 || segments[1].Start != 30.0 {
		t.Errorf("unexpected segments: %v", segments)
	}
}

func TestBuildSpeechSegments_SilenceRunsToEnd(t *testing.T) {
	silences := []silence{{start: 50.0, end: -1}}
	segments := buildSpeechSegments(silences, 60.0, 1.0)

	if len(segments) != 1 {
		t.Fatalf("expected only the leading segment, got %v", segments)
	}
	if segments[0].Start != 0 || segments[0].End != 50.0 {
		t.Errorf("expected [0,50], got [%v,%v]", segments[0].Start, segments[0].End)
	}
}

func TestBuildSpeechSegments_NoSilence(t *testing.T) {
	segments := buildSpeechSegments(nil, 60.0, 1.0)

	if len(segments) != 1 || segments[0].Start != 0 || segments[0].End != 60.0 {
		t.Errorf("expected one full-length segment, got %v", segments)
	}
}

func TestWorthTrimming_ExclusiveBoundary(t *testing.T) {
	trimmer := &Trimmer{cfg: DefaultTrimmerConfig()}

	tests := []struct {
		name          string
		speech, total float64
		want          bool
	}{
		{"exactly 10 percent savings does not trim", 90.0, 100.0, false},
		{"10.1 percent savings trims", 89.9, 100.0, true},
		{"no silence", 100.0, 100.0, false},
		{"half silence", 50.0, 100.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			savings := savingsPercent(tt.speech, tt.total)
			if got := trimmer.worthTrimming(savings); got != tt.want {
				t.Errorf("worthTrimming(%.3f) = %v, want %v", savings, got, tt.want)
			}
		})
	}
}

func TestShouldRun(t *testing.T) {
	cfg := DefaultTrimmerConfig()
	cfg.Enabled = true
	trimmer := &Trimmer{cfg: cfg}

	if trimmer.ShouldRun(50 * 1024 * 1024) {
		t.Error("small asset must not trigger trimming")
	}
	if !trimmer.ShouldRun(150 * 1024 * 1024) {
		t.Error("large asset should trigger trimming")
	}

	cfg.Enabled = false
	disabled := &Trimmer{cfg: cfg}
	if disabled.ShouldRun(150 * 1024 * 1024) {
		t.Error("disabled flag must win over size")
	}
}
