package segment

import (
	"testing"

	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/config"
)

func testConfig() config.SegmenterConfig {
	cfg := config.Default().Segmenter
	return cfg
}

// tone fills n samples with a constant loud value, silence leaves them zero.
func tone(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = 8000
	}
	return out
}

func seconds(s float64) int {
	return int(s * float64(audioio.SampleRate))
}

func TestShortInputSingleSegment(t *testing.T) {
	g := New(testConfig())
	for _, strategy := range []Strategy{StrategyFixed, StrategyVAD, StrategyHybrid} {
		segs := g.Split(tone(seconds(5)), strategy)
		if len(segs) != 1 {
			t.Fatalf("%s: expected 1 segment, got %d", strategy, len(segs))
		}
		if segs[0].StartSample != 0 || segs[0].EndSample != seconds(5) {
			t.Fatalf("%s: segment does not cover input: %+v", strategy, segs[0])
		}
	}
}

func TestFixedZeroOverlapReconstructs(t *testing.T) {
	cfg := testConfig()
	cfg.OverlapSec = 0
	g := New(cfg)

	buf := tone(seconds(95))
	segs := g.Split(buf, StrategyFixed)

	// Concatenating all slices must reproduce the buffer exactly.
	var rebuilt []int16
	for _, s := range segs {
		rebuilt = append(rebuilt, s.Slice(buf)...)
	}
	if len(rebuilt) != len(buf) {
		t.Fatalf("expected %d samples after concat, got %d", len(buf), len(rebuilt))
	}
	for i := range buf {
		if rebuilt[i] != buf[i] {
			t.Fatalf("sample %d differs after reconstruction", i)
		}
	}
}

func TestFixedOverlapRecorded(t *testing.T) {
	g := New(testConfig())
	segs := g.Split(tone(seconds(95)), StrategyFixed)
	if len(segs) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segs))
	}
	if segs[0].OverlapSamples != 0 {
		t.Fatalf("first segment must not record overlap")
	}
	for _, s := range segs[1:] {
		if s.OverlapSamples != seconds(2) {
			t.Fatalf("segment %d: expected overlap %d, got %d", s.Index, seconds(2), s.OverlapSamples)
		}
	}
}

func TestIndicesDenseAndOrdered(t *testing.T) {
	g := New(testConfig())
	buf := append(append(tone(seconds(40)), make([]int16, seconds(1))...), tone(seconds(40))...)
	for _, strategy := range []Strategy{StrategyFixed, StrategyVAD, StrategyHybrid} {
		segs := g.Split(buf, strategy)
		for i, s := range segs {
			if s.Index != i {
				t.Fatalf("%s: segment %d carries index %d", strategy, i, s.Index)
			}
			if i > 0 && segs[i-1].StartSample > s.StartSample {
				t.Fatalf("%s: segments out of order at %d", strategy, i)
			}
			if s.EndSample <= s.StartSample {
				t.Fatalf("%s: empty segment at %d", strategy, i)
			}
		}
	}
}

func TestVADSplitsAtSilence(t *testing.T) {
	g := New(testConfig())
	buf := append(append(tone(seconds(35)), make([]int16, seconds(1))...), tone(seconds(35))...)
	segs := g.Split(buf, StrategyVAD)
	if len(segs) != 2 {
		t.Fatalf("expected 2 speech segments, got %d", len(segs))
	}
	// Split point must land inside the silence gap.
	gapStart := seconds(35)
	gapEnd := seconds(36)
	if segs[0].EndSample < gapStart || segs[0].EndSample > gapEnd+seconds(1) {
		t.Fatalf("first segment end %d not near silence gap", segs[0].EndSample)
	}
	if segs[1].StartSample < gapStart-g.padSize || segs[1].StartSample > gapEnd {
		t.Fatalf("second segment start %d not near silence gap", segs[1].StartSample)
	}
}

func TestVADAllSilenceSingleSegment(t *testing.T) {
	g := New(testConfig())
	buf := make([]int16, seconds(40))
	segs := g.Split(buf, StrategyVAD)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment for all-silence buffer, got %d", len(segs))
	}
	if segs[0].StartSample != 0 || segs[0].EndSample != len(buf) {
		t.Fatalf("segment must cover whole buffer: %+v", segs[0])
	}
}

func TestHybridLongAudioScenario(t *testing.T) {
	// 120 s: 30 s speech, 1 s silence, 30 s speech, 1 s silence, 58 s speech.
	var buf []int16
	buf = append(buf, tone(seconds(30))...)
	buf = append(buf, make([]int16, seconds(1))...)
	buf = append(buf, tone(seconds(30))...)
	buf = append(buf, make([]int16, seconds(1))...)
	buf = append(buf, tone(seconds(58))...)

	cfg := testConfig()
	cfg.OverlapSec = 0
	cfg.MaxChunkDurationSec = 40
	cfg.MinSegSec = 25
	cfg.MaxSegSec = 40
	g := New(cfg)

	segs := g.Split(buf, StrategyHybrid)
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d: %+v", len(segs), segs)
	}
	// First two breaks inside the silences.
	if segs[0].EndSample < seconds(30) || segs[0].EndSample > seconds(31)+g.padSize {
		t.Fatalf("segment 0 end %d not inside first silence", segs[0].EndSample)
	}
	if segs[1].EndSample < seconds(61) || segs[1].EndSample > seconds(62)+g.padSize {
		t.Fatalf("segment 1 end %d not inside second silence", segs[1].EndSample)
	}
	// Fixed split inside the trailing speech region.
	if segs[2].EndSample <= seconds(62) || segs[2].EndSample >= seconds(120) {
		t.Fatalf("segment 2 end %d not inside trailing speech", segs[2].EndSample)
	}
	if segs[3].EndSample != len(buf) {
		t.Fatalf("last segment must end at buffer end, got %d", segs[3].EndSample)
	}
}

func TestHybridKeepsShortRegionsIntact(t *testing.T) {
	g := New(testConfig())
	buf := append(append(tone(seconds(35)), make([]int16, seconds(1))...), tone(seconds(10))...)
	segs := g.Split(buf, StrategyHybrid)
	// The 35 s region exceeds the 20 s default max chunk and is re-split;
	// the 10 s region stays whole.
	last := segs[len(segs)-1]
	if last.EndSample != len(buf) {
		t.Fatalf("expected last segment to reach buffer end")
	}
	if d := last.Duration().Seconds(); d > 21 {
		t.Fatalf("expected trailing region kept near 10s, got %.1fs", d)
	}
	for _, s := range segs {
		if d := s.Duration().Seconds(); d > 20.5+2 {
			t.Fatalf("segment %d longer than max chunk: %.1fs", s.Index, d)
		}
	}
}
