package pipeline

import (
	"strings"
	"testing"

	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/segment"
)

func parts(texts ...string) []Transcription {
	out := make([]Transcription, len(texts))
	for i, t := range texts {
		out[i] = Transcription{SegmentIndex: i, Text: t}
	}
	return out
}

func TestSimpleMergeJoinsWithSingleSpaces(t *testing.T) {
	segs := []segment.Segment{
		{Index: 0, StartSample: 0, EndSample: 100},
		{Index: 1, StartSample: 100, EndSample: 200},
		{Index: 2, StartSample: 200, EndSample: 300},
	}
	text, _, stats := merge(segs, parts("hello  there", "", "general kenobi"), MergeSimple)
	if text != "hello there general kenobi" {
		t.Fatalf("unexpected merge %q", text)
	}
	if stats.SegmentsMerged != 2 {
		t.Fatalf("expected 2 merged segments, got %d", stats.SegmentsMerged)
	}
}

func TestOverlapMergeDropsDuplicatedWords(t *testing.T) {
	segs := []segment.Segment{
		{Index: 0, StartSample: 0, EndSample: 480000},
		{Index: 1, StartSample: 448000, EndSample: 900000, OverlapSamples: 32000},
	}
	text, _, stats := merge(segs, parts(
		"we should ship the release on friday",
		"on friday after the demo",
	), MergeOverlap)
	if text != "we should ship the release on friday after the demo" {
		t.Fatalf("unexpected merge %q", text)
	}
	if stats.OverlapWordsTrimmed != 2 {
		t.Fatalf("expected 2 trimmed words, got %d", stats.OverlapWordsTrimmed)
	}
}

func TestOverlapMergeWithoutOverlapIsSimple(t *testing.T) {
	segs := []segment.Segment{
		{Index: 0, StartSample: 0, EndSample: 100},
		{Index: 1, StartSample: 100, EndSample: 200},
	}
	text, _, _ := merge(segs, parts("on friday we ship", "on friday we party"), MergeOverlap)
	if text != "on friday we ship on friday we party" {
		t.Fatalf("segments without recorded overlap must not dedupe, got %q", text)
	}
}

func TestOverlapTieKeepsMoreCharacters(t *testing.T) {
	segs := []segment.Segment{
		{Index: 0, StartSample: 0, EndSample: 100},
		{Index: 1, StartSample: 90, EndSample: 200, OverlapSamples: 10},
	}
	// B's copy of the shared words carries punctuation, so B's copy wins.
	text, _, _ := merge(segs, parts("see you friday", "friday! see you"), MergeOverlap)
	if !strings.Contains(text, "friday!") {
		t.Fatalf("expected the richer copy kept, got %q", text)
	}
}

func TestSmartMergeBreaksAtLongSilence(t *testing.T) {
	gap := 2 * audioio.SampleRate // 2 s silence between segments
	segs := []segment.Segment{
		{Index: 0, StartSample: 0, EndSample: 100000},
		{Index: 1, StartSample: 100000 + gap, EndSample: 300000},
	}
	text, breaks, stats := merge(segs, parts("first idea", "second idea"), MergeSmart)
	if text != "first idea.\n\nsecond idea" {
		t.Fatalf("unexpected smart merge %q", text)
	}
	if stats.ParagraphBreaks != 1 {
		t.Fatalf("expected 1 paragraph break, got %d", stats.ParagraphBreaks)
	}
	if len(breaks) != 1 {
		t.Fatalf("expected 1 silence break offset, got %v", breaks)
	}
}

func TestShortSilenceDoesNotBreak(t *testing.T) {
	segs := []segment.Segment{
		{Index: 0, StartSample: 0, EndSample: 100000},
		{Index: 1, StartSample: 100000 + audioio.SampleRate/2, EndSample: 300000},
	}
	text, breaks, _ := merge(segs, parts("first idea", "continues here"), MergeSmart)
	if text != "first idea continues here" {
		t.Fatalf("unexpected merge %q", text)
	}
	if len(breaks) != 0 {
		t.Fatalf("expected no breaks, got %v", breaks)
	}
}
