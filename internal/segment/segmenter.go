// Package segment divides one audio buffer into an ordered list of segments
// using fixed, VAD, or hybrid chunking.
package segment

import (
	"time"

	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/config"
)

// Strategy selects the chunking approach.
type Strategy string

const (
	StrategyFixed  Strategy = "fixed"
	StrategyVAD    Strategy = "vad"
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy maps a request parameter to a Strategy, defaulting to hybrid.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "":
		return StrategyHybrid, true
	case "fixed", "vad", "hybrid":
		return Strategy(s), true
	}
	return "", false
}

// Segment is a contiguous half-open slice [StartSample, EndSample) over the
// source buffer. OverlapSamples records how many leading samples repeat the
// tail of the previous segment.
type Segment struct {
	Index          int
	StartSample    int
	EndSample      int
	OverlapSamples int
}

// Duration of the segment at the canonical rate.
func (s Segment) Duration() time.Duration {
	return time.Duration(s.EndSample-s.StartSample) * time.Second / audioio.SampleRate
}

// Slice extracts the segment's samples from the source buffer.
func (s Segment) Slice(samples []int16) []int16 {
	return samples[s.StartSample:s.EndSample]
}

// Segmenter holds the chunking parameters, all expressed in samples.
type Segmenter struct {
	sampleRate int

	chunkSize      int
	overlapSize    int
	minSilenceSize int
	silenceThresh  float64
	padSize        int
	maxChunkSize   int
	minSegSize     int
	maxSegSize     int

	frameSize int // 25 ms analysis window
	hopSize   int // 10 ms hop
}

// New builds a Segmenter from config.
func New(cfg config.SegmenterConfig) *Segmenter {
	sr := audioio.SampleRate
	return &Segmenter{
		sampleRate:     sr,
		chunkSize:      int(cfg.ChunkDurationSec * float64(sr)),
		overlapSize:    int(cfg.OverlapSec * float64(sr)),
		minSilenceSize: int(cfg.MinSilenceSec * float64(sr)),
		silenceThresh:  cfg.SilenceThreshold,
		padSize:        cfg.PadMS * sr / 1000,
		maxChunkSize:   int(cfg.MaxChunkDurationSec * float64(sr)),
		minSegSize:     int(cfg.MinSegSec * float64(sr)),
		maxSegSize:     int(cfg.MaxSegSec * float64(sr)),
		frameSize:      sr * 25 / 1000,
		hopSize:        sr * 10 / 1000,
	}
}

// Split divides the buffer with the requested strategy. Output segments are
// densely indexed 0..N-1 ordered by start sample.
func (g *Segmenter) Split(samples []int16, strategy Strategy) []Segment {
	if len(samples) == 0 {
		return nil
	}
	// Short input never splits, regardless of strategy.
	if len(samples) < g.chunkSize {
		return []Segment{{Index: 0, StartSample: 0, EndSample: len(samples)}}
	}

	var segs []Segment
	switch strategy {
	case StrategyFixed:
		segs = g.splitFixed(0, len(samples))
	case StrategyVAD:
		segs = g.splitVAD(samples)
	default:
		segs = g.splitHybrid(samples)
	}
	return reindex(segs)
}

// splitFixed emits chunkSize windows over [start, end) with the configured
// overlap; the last chunk holds whatever remains.
func (g *Segmenter) splitFixed(start, end int) []Segment {
	var segs []Segment
	cur := start
	for cur < end {
		segEnd := cur + g.chunkSize
		if segEnd > end {
			segEnd = end
		}
		overlap := 0
		if cur > start && g.overlapSize > 0 {
			overlap = g.overlapSize
		}
		segs = append(segs, Segment{StartSample: cur, EndSample: segEnd, OverlapSamples: overlap})
		if segEnd == end {
			break
		}
		cur = segEnd - g.overlapSize
	}
	return segs
}

// splitVAD finds speech regions between qualifying silences and pads them.
// A fully silent buffer yields one segment covering everything; the
// recognizer decides what to do with it.
func (g *Segmenter) splitVAD(samples []int16) []Segment {
	silences := g.silenceRuns(samples)
	if len(silences) == 0 {
		return []Segment{{StartSample: 0, EndSample: len(samples)}}
	}

	var segs []Segment
	cursor := 0
	for _, sil := range silences {
		if sil.start > cursor {
			segs = append(segs, g.padded(cursor, sil.start, len(samples)))
		}
		cursor = sil.end
	}
	if cursor < len(samples) {
		segs = append(segs, g.padded(cursor, len(samples), len(samples)))
	}
	if len(segs) == 0 {
		// Whole buffer is silence.
		return []Segment{{StartSample: 0, EndSample: len(samples)}}
	}
	return segs
}

// splitHybrid runs VAD, then re-splits any region longer than maxChunkSize,
// preferring cut points at energy minima inside the [minSeg, maxSeg] band.
func (g *Segmenter) splitHybrid(samples []int16) []Segment {
	vad := g.splitVAD(samples)
	var out []Segment
	for _, seg := range vad {
		if seg.EndSample-seg.StartSample <= g.maxChunkSize {
			out = append(out, seg)
			continue
		}
		out = append(out, g.splitLongRegion(samples, seg.StartSample, seg.EndSample)...)
	}
	return out
}

// splitLongRegion cuts [start, end) at energy minima within the target band,
// carrying the configured overlap between pieces. Equidistant candidates
// resolve to the later one so a piece tends to end at a silence.
func (g *Segmenter) splitLongRegion(samples []int16, start, end int) []Segment {
	var segs []Segment
	cur := start
	for end-cur > g.maxChunkSize {
		lo := cur + g.minSegSize
		hi := cur + g.maxSegSize
		if hi > end {
			hi = end
		}
		cut := g.quietestFrame(samples, lo, hi)
		if cut <= cur {
			cut = cur + g.maxSegSize
		}
		if cut > end {
			cut = end
		}
		overlap := 0
		if cur > start && g.overlapSize > 0 {
			overlap = g.overlapSize
		}
		segs = append(segs, Segment{StartSample: cur, EndSample: cut, OverlapSamples: overlap})
		next := cut - g.overlapSize
		if next <= cur {
			next = cut
		}
		cur = next
	}
	if cur < end {
		overlap := 0
		if cur > start && g.overlapSize > 0 {
			overlap = g.overlapSize
		}
		segs = append(segs, Segment{StartSample: cur, EndSample: end, OverlapSamples: overlap})
	}
	return segs
}

// quietestFrame returns the middle of the lowest-energy analysis frame whose
// start lies in [lo, hi). Ties prefer the later frame.
func (g *Segmenter) quietestFrame(samples []int16, lo, hi int) int {
	if lo >= hi || lo >= len(samples) {
		return 0
	}
	best := -1
	bestRMS := 0.0
	for pos := lo; pos < hi && pos < len(samples); pos += g.hopSize {
		frameEnd := pos + g.frameSize
		if frameEnd > len(samples) {
			frameEnd = len(samples)
		}
		rms := audioio.RMS(samples[pos:frameEnd])
		if best == -1 || rms <= bestRMS {
			best = pos
			bestRMS = rms
		}
	}
	if best == -1 {
		return 0
	}
	cut := best + g.frameSize/2
	if cut > len(samples) {
		cut = len(samples)
	}
	return cut
}

type run struct {
	start, end int
}

// silenceRuns scans the short-time energy envelope (25 ms frame, 10 ms hop)
// and returns sample ranges where RMS stays below the threshold for at least
// the minimum silence duration.
func (g *Segmenter) silenceRuns(samples []int16) []run {
	var runs []run
	runStart := -1
	for pos := 0; pos < len(samples); pos += g.hopSize {
		frameEnd := pos + g.frameSize
		if frameEnd > len(samples) {
			frameEnd = len(samples)
		}
		silent := audioio.RMS(samples[pos:frameEnd]) < g.silenceThresh
		if silent {
			if runStart < 0 {
				runStart = pos
			}
			continue
		}
		if runStart >= 0 {
			if pos-runStart >= g.minSilenceSize {
				runs = append(runs, run{start: runStart, end: pos})
			}
			runStart = -1
		}
	}
	if runStart >= 0 && len(samples)-runStart >= g.minSilenceSize {
		runs = append(runs, run{start: runStart, end: len(samples)})
	}
	return runs
}

// padded extends a speech region by padSize on both sides, clamped to the
// buffer.
func (g *Segmenter) padded(start, end, total int) Segment {
	start -= g.padSize
	if start < 0 {
		start = 0
	}
	end += g.padSize
	if end > total {
		end = total
	}
	return Segment{StartSample: start, EndSample: end}
}

func reindex(segs []Segment) []Segment {
	for i := range segs {
		segs[i].Index = i
	}
	return segs
}
