package pipeline

import (
	"strings"
	"unicode"

	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/segment"
)

// MergeStrategy selects how per-segment transcripts combine.
type MergeStrategy string

const (
	MergeSimple  MergeStrategy = "simple"
	MergeOverlap MergeStrategy = "overlap"
	MergeSmart   MergeStrategy = "smart"
)

// ParseMergeStrategy maps a request parameter, defaulting to simple.
func ParseMergeStrategy(s string) (MergeStrategy, bool) {
	switch s {
	case "":
		return MergeSimple, true
	case "simple", "overlap", "smart":
		return MergeStrategy(s), true
	}
	return "", false
}

// silenceBreakGap is the inter-segment silence beyond which smart merge
// starts a new paragraph.
const silenceBreakGap = 8 * audioio.SampleRate / 10 // 0.8 s in samples

// overlapSearchWords bounds the word-level overlap search to roughly the
// configured overlap plus one second of speech on either side.
const overlapSearchWords = 12

// MergeStats summarizes what merging did.
type MergeStats struct {
	Strategy            string `json:"strategy"`
	SegmentsMerged      int    `json:"segments_merged"`
	OverlapWordsTrimmed int    `json:"overlap_words_trimmed"`
	FailedSegments      int    `json:"failed_segments"`
	ParagraphBreaks     int    `json:"paragraph_breaks"`
}

// merge combines per-segment transcripts in index order. It returns the
// merged text, rune offsets of long-silence boundaries (for the
// post-processor's paragraph hints), and statistics.
func merge(segs []segment.Segment, parts []Transcription, strategy MergeStrategy) (string, []int, MergeStats) {
	stats := MergeStats{Strategy: string(strategy)}

	texts := make([]string, len(parts))
	for i, p := range parts {
		if p.Error != "" {
			stats.FailedSegments++
		}
		texts[i] = strings.TrimSpace(p.Text)
	}

	if strategy == MergeOverlap || strategy == MergeSmart {
		trimmed := dedupeOverlaps(segs, texts)
		stats.OverlapWordsTrimmed = trimmed
	}

	var out strings.Builder
	var breaks []int
	prevEnd := -1
	for i, text := range texts {
		if text == "" {
			if i < len(segs) {
				prevEnd = segs[i].EndSample
			}
			continue
		}
		if out.Len() > 0 {
			longGap := i < len(segs) && prevEnd >= 0 && segs[i].StartSample-prevEnd > silenceBreakGap
			if longGap {
				breaks = append(breaks, len([]rune(out.String())))
			}
			if strategy == MergeSmart && longGap {
				ensureSentenceEnd(&out)
				out.WriteString("\n\n")
				stats.ParagraphBreaks++
			} else {
				out.WriteString(" ")
			}
		}
		out.WriteString(text)
		stats.SegmentsMerged++
		if i < len(segs) {
			prevEnd = segs[i].EndSample
		}
	}

	merged := out.String()
	if strategy != MergeSmart {
		merged = strings.Join(strings.Fields(merged), " ")
	}
	return merged, breaks, stats
}

// dedupeOverlaps removes the doubled words that segment overlap produces:
// the longest common suffix of A / prefix of B at word granularity, capped
// to the overlap search window. The copy with more characters is kept.
func dedupeOverlaps(segs []segment.Segment, texts []string) int {
	trimmed := 0
	prev := -1
	for i := range texts {
		if texts[i] == "" {
			continue
		}
		if prev >= 0 && i < len(segs) && segs[i].OverlapSamples > 0 {
			a, b, n := trimCommonAffix(texts[prev], texts[i])
			if n > 0 {
				texts[prev] = a
				texts[i] = b
				trimmed += n
			}
		}
		prev = i
	}
	return trimmed
}

// trimCommonAffix finds the longest n (capped) such that the last n words of
// a equal the first n words of b case-insensitively, and drops one copy:
// the one carrying fewer characters.
func trimCommonAffix(a, b string) (string, string, int) {
	aw := strings.Fields(a)
	bw := strings.Fields(b)
	max := len(aw)
	if len(bw) < max {
		max = len(bw)
	}
	if max > overlapSearchWords {
		max = overlapSearchWords
	}
	best := 0
	for n := max; n > 0; n-- {
		if wordsEqualFold(aw[len(aw)-n:], bw[:n]) {
			best = n
			break
		}
	}
	if best == 0 {
		return a, b, 0
	}
	aSuffix := strings.Join(aw[len(aw)-best:], " ")
	bPrefix := strings.Join(bw[:best], " ")
	if len(aSuffix) >= len(bPrefix) {
		// Keep A's copy, drop B's prefix.
		return a, strings.Join(bw[best:], " "), best
	}
	return strings.Join(aw[:len(aw)-best], " "), b, best
}

func wordsEqualFold(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(stripPunct(a[i]), stripPunct(b[i])) {
			return false
		}
	}
	return true
}

// stripPunct drops non-word runes so "friday" and "friday!" compare equal;
// the tie-break then keeps whichever copy carries more characters.
func stripPunct(w string) string {
	return strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ensureSentenceEnd appends a period when the builder does not already end
// with sentence punctuation.
func ensureSentenceEnd(out *strings.Builder) {
	s := out.String()
	if s == "" {
		return
	}
	last := s[len(s)-1]
	switch last {
	case '.', '!', '?':
		return
	}
	if strings.HasSuffix(s, "。") || strings.HasSuffix(s, "！") || strings.HasSuffix(s, "？") {
		return
	}
	out.WriteString(".")
}
