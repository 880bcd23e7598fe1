// Package postprocess turns raw transcripts into user-facing text:
// rule-based cleanup, per-application profiles, personal dictionary
// replacement, and optional LLM enhancement.
package postprocess

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/typelesshq/typeless-core/internal/config"
	"github.com/typelesshq/typeless-core/internal/enhance"
)

// Mode selects how aggressive the cleanup is.
type Mode string

const (
	ModeNone     Mode = "none"
	ModeBasic    Mode = "basic"
	ModeStandard Mode = "standard"
	ModeAdvanced Mode = "advanced"
)

// ParseMode maps a request parameter to a Mode, defaulting to standard.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "":
		return ModeStandard, true
	case "none", "basic", "standard", "advanced":
		return Mode(s), true
	}
	return "", false
}

// defaultFillers are dropped in standard mode and above.
var defaultFillers = []string{"um", "uh", "like", "you know", "嗯", "啊", "那个"}

// correctionCues mark self-corrections; the phrase before the cue is dropped
// back to the previous sentence boundary.
var correctionCues = []string{"no wait", "actually no", "i mean", "不对"}

const sentenceEnders = ".!?。！？\n"

// Stats reports what the processor changed.
type Stats struct {
	FillersRemoved     int    `json:"fillers_removed"`
	DuplicatesRemoved  int    `json:"duplicates_removed"`
	CorrectionsApplied int    `json:"corrections_applied"`
	DictReplacements   int    `json:"dict_replacements"`
	TotalChanges       int    `json:"total_changes"`
	Mode               string `json:"mode"`
	AIEnhanced         bool   `json:"ai_enhanced,omitempty"`
	AIProvider         string `json:"ai_provider,omitempty"`
}

// Result pairs the processed text with its statistics.
type Result struct {
	Original  string `json:"original"`
	Processed string `json:"processed"`
	Stats     Stats  `json:"stats"`
}

// Request describes one processing invocation. ParagraphHints are rune
// offsets into Text where the pipeline observed a long silence.
type Request struct {
	Text           string
	Mode           Mode
	Profile        Profile
	ParagraphHints []int
}

// Processor applies the cleanup pipeline. Safe for concurrent use; the
// dictionary store carries its own synchronization.
type Processor struct {
	fillers  []string
	dict     *Dictionary
	enhancer *enhance.Enhancer
	logger   *slog.Logger
}

// NewProcessor builds the processor. Extra fillers from config extend the
// default set; enhancer may be nil-provider (mode advanced then degrades to
// standard output).
func NewProcessor(cfg config.PostProcessConfig, dict *Dictionary, enhancer *enhance.Enhancer, logger *slog.Logger) *Processor {
	fillers := append([]string{}, defaultFillers...)
	for _, f := range cfg.Fillers {
		if f = strings.TrimSpace(f); f != "" {
			fillers = append(fillers, f)
		}
	}
	// Longest first so phrases win over their component words.
	sort.SliceStable(fillers, func(i, j int) bool {
		return len([]rune(fillers[i])) > len([]rune(fillers[j]))
	})
	return &Processor{
		fillers:  fillers,
		dict:     dict,
		enhancer: enhancer,
		logger:   logger.With(slog.String("component", "postprocess")),
	}
}

// Process runs the mode's transformation chain over req.Text.
func (p *Processor) Process(ctx context.Context, req Request) Result {
	stats := Stats{Mode: string(req.Mode)}
	if req.Mode == ModeNone || req.Text == "" {
		return Result{Original: req.Text, Processed: req.Text, Stats: stats}
	}

	text := req.Text
	profile := req.Profile

	if req.Mode == ModeStandard || req.Mode == ModeAdvanced {
		if profile.ParagraphBreaks && len(req.ParagraphHints) > 0 {
			text = insertParagraphBreaks(text, req.ParagraphHints)
		}
		var corrections int
		text, corrections = p.applyCorrections(text)
		stats.CorrectionsApplied = corrections

		if profile.DropFillers {
			var removed int
			text, removed = p.removeFillers(text)
			stats.FillersRemoved = removed
		}
	}

	var dups int
	text, dups = collapseDuplicates(text)
	stats.DuplicatesRemoved = dups
	text = normalizeWhitespace(text)
	if !profile.Verbatim {
		text = fixPunctuationSpacing(text)
		if profile.NormalizeCase {
			text = capitalizeSentences(text)
		}
		if profile.InsertPunctuation {
			text = ensureTerminalPunctuation(text)
		}
	}

	if req.Mode == ModeStandard || req.Mode == ModeAdvanced {
		if p.dict != nil {
			entries, err := p.dict.List(ctx)
			if err != nil {
				p.logger.Warn("dictionary unavailable", slog.String("error", err.Error()))
			} else {
				var replaced int
				text, replaced = Apply(text, entries)
				stats.DictReplacements = replaced
			}
		}
	}

	if req.Mode == ModeAdvanced && p.enhancer != nil {
		enhanced, ok := p.enhancer.Enhance(ctx, text, profile.Instruction())
		if ok {
			text = enhanced
			stats.AIEnhanced = true
			stats.AIProvider = p.enhancer.ProviderName()
		}
	}

	stats.TotalChanges = stats.FillersRemoved + stats.DuplicatesRemoved +
		stats.CorrectionsApplied + stats.DictReplacements
	return Result{Original: req.Text, Processed: strings.TrimSpace(text), Stats: stats}
}

// Dictionary exposes the store for the admin endpoints.
func (p *Processor) Dictionary() *Dictionary { return p.dict }

// removeFillers drops whole-word filler occurrences, longest phrase first.
func (p *Processor) removeFillers(text string) (string, int) {
	total := 0
	for _, filler := range p.fillers {
		var n int
		text, n = removePhrase(text, filler)
		total += n
	}
	return text, total
}

// removePhrase removes case-insensitive whole-word occurrences of phrase.
func removePhrase(text, phrase string) (string, int) {
	runes := []rune(text)
	target := []rune(strings.ToLower(phrase))
	if len(target) == 0 {
		return text, 0
	}
	var out []rune
	count := 0
	for i := 0; i < len(runes); {
		if i+len(target) <= len(runes) &&
			runesEqual(runes[i:i+len(target)], target, false) &&
			wordBoundary(runes, i, i+len(target)) {
			count++
			i += len(target)
			// Swallow one following space so removal does not double spacing.
			if i < len(runes) && runes[i] == ' ' {
				i++
			}
			continue
		}
		out = append(out, runes[i])
		i++
	}
	return string(out), count
}

// applyCorrections drops the phrase before each self-correction cue back to
// the previous sentence boundary, along with the cue itself.
func (p *Processor) applyCorrections(text string) (string, int) {
	count := 0
	for _, cue := range correctionCues {
		for iter := 0; iter < 16; iter++ {
			idx := indexWholeWordFold(text, cue)
			if idx < 0 {
				break
			}
			boundary := strings.LastIndexAny(text[:idx], sentenceEnders)
			head := ""
			if boundary >= 0 {
				_, size := utf8.DecodeRuneInString(text[boundary:])
				head = text[:boundary+size] + " "
			}
			tail := strings.TrimLeft(text[idx+len(cue):], " ")
			text = head + tail
			count++
		}
	}
	return text, count
}

// indexWholeWordFold finds the byte offset of the first case-insensitive
// whole-word occurrence of phrase, or -1.
func indexWholeWordFold(text, phrase string) int {
	lower := strings.ToLower(text)
	phrase = strings.ToLower(phrase)
	from := 0
	for {
		rel := strings.Index(lower[from:], phrase)
		if rel < 0 {
			return -1
		}
		idx := from + rel
		before, _ := lastRune(text[:idx])
		after, _ := firstRune(text[idx+len(phrase):])
		if !isWordRune(before) && !isWordRune(after) {
			return idx
		}
		from = idx + len(phrase)
	}
}

func lastRune(s string) (rune, bool) {
	if s == "" {
		return 0, false
	}
	runes := []rune(s)
	return runes[len(runes)-1], true
}

func firstRune(s string) (rune, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// collapseDuplicates removes immediate case-insensitive word repeats inside
// each paragraph.
func collapseDuplicates(text string) (string, int) {
	paragraphs := splitParagraphs(text)
	count := 0
	for pi, para := range paragraphs {
		words := strings.Fields(para)
		var kept []string
		prev := ""
		for _, w := range words {
			if prev != "" && strings.EqualFold(w, prev) {
				count++
				continue
			}
			kept = append(kept, w)
			prev = w
		}
		paragraphs[pi] = strings.Join(kept, " ")
	}
	return strings.Join(paragraphs, "\n\n"), count
}

// normalizeWhitespace collapses runs of spaces inside paragraphs while
// preserving paragraph breaks.
func normalizeWhitespace(text string) string {
	paragraphs := splitParagraphs(text)
	for i, para := range paragraphs {
		paragraphs[i] = strings.Join(strings.Fields(para), " ")
	}
	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

var paragraphSplit = regexp.MustCompile(`\n{2,}`)

func splitParagraphs(text string) []string {
	return paragraphSplit.Split(text, -1)
}

var (
	spaceBeforePunct = regexp.MustCompile(`\s+([,.!?;:，。！？；：])`)
	missingSpaceAfter = regexp.MustCompile(`([,!?;])([\p{L}])`)
)

// fixPunctuationSpacing removes stray spaces before punctuation and restores
// the space after clause punctuation when a letter follows.
func fixPunctuationSpacing(text string) string {
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = missingSpaceAfter.ReplaceAllString(text, "$1 $2")
	return text
}

// ensureTerminalPunctuation closes the final sentence when the text trails
// off without punctuation. CJK text gets the fullwidth stop.
func ensureTerminalPunctuation(text string) string {
	trimmed := strings.TrimRight(text, " \n")
	if trimmed == "" {
		return text
	}
	last, _ := lastRune(trimmed)
	if strings.ContainsRune(sentenceEnders, last) || strings.ContainsRune(",;:，；：", last) {
		return text
	}
	if unicode.Is(unicode.Han, last) {
		return trimmed + "。"
	}
	return trimmed + "."
}

// capitalizeSentences upcases the first letter of each sentence.
func capitalizeSentences(text string) string {
	runes := []rune(text)
	atStart := true
	for i, r := range runes {
		if atStart && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			atStart = false
			continue
		}
		if strings.ContainsRune(".!?。！？", r) {
			atStart = true
		} else if !unicode.IsSpace(r) {
			atStart = false
		}
	}
	return string(runes)
}

// insertParagraphBreaks inserts paragraph separators at the given rune
// offsets, snapped forward to the next word gap.
func insertParagraphBreaks(text string, offsets []int) string {
	if len(offsets) == 0 {
		return text
	}
	runes := []rune(text)
	marks := make(map[int]bool)
	for _, off := range offsets {
		if off <= 0 || off >= len(runes) {
			continue
		}
		for off < len(runes) && isWordRune(runes[off]) {
			off++
		}
		marks[off] = true
	}
	var out strings.Builder
	for i, r := range runes {
		if marks[i] {
			out.WriteString("\n\n")
			if r == ' ' {
				continue
			}
		}
		out.WriteRune(r)
	}
	return out.String()
}
