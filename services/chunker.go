package services

import (
	"fmt"
	"regexp"
	"strings"

	"family-coach-platform/models"
	"family-coach-platform/utils"

	"github.com/google/uuid"
)

var paragraphSplitRegex = regexp.MustCompile(`\n\s*\n`)

// Chunker segments a leaf section's text into passages within a fixed
// character-length band, preferring natural boundaries (paragraph,
// sentence, list item) over hard cuts. Passage order is source order.
type Chunker struct {
	minChars      int
	maxChars      int
	sentenceRegex *regexp.Regexp
	markerRegex   *regexp.Regexp
	listItemRegex *regexp.Regexp
}

// NewChunker creates a chunker with the given length band (defaults
// 600/800 when zero).
func NewChunker(minChars, maxChars int) *Chunker {
	if minChars <= 0 {
		minChars = 600
	}
	if maxChars <= minChars {
		maxChars = 800
	}
	return &Chunker{
		minChars:      minChars,
		maxChars:      maxChars,
		sentenceRegex: regexp.MustCompile(`[.!?…]+[\s]+`),
		markerRegex:   regexp.MustCompile(`\[[A-Z][A-Z0-9 ]*\]`),
		listItemRegex: regexp.MustCompile(`\n(?:[-•*]|\d+[.)])\s`),
	}
}

// ChunkSection chunks one leaf section into ordered passages. ChunkIndex
// is 0-based and contiguous; the embed text carries the ancestor-title
// breadcrumb so retrieval stays aware of structural context.
func (c *Chunker) ChunkSection(entry models.TocEntry, hierarchyPath, text string) []models.Passage {
	texts := c.ChunkText(text)
	if len(texts) == 0 {
		return nil
	}

	citation := fmt.Sprintf("%s, %s, pp. %d-%d", entry.SourceDocument, entry.Title, entry.StartPage, entry.EndPage)

	passages := make([]models.Passage, 0, len(texts))
	for i, t := range texts {
		passages = append(passages, models.Passage{
			PassageID:      uuid.NewString(),
			SectionID:      entry.ID,
			ChunkIndex:     i,
			Text:           t,
			EmbedText:      "[" + hierarchyPath + "] " + t,
			StartPage:      entry.StartPage,
			EndPage:        entry.EndPage,
			Citation:       citation,
			HierarchyPath:  hierarchyPath,
			SourceDocument: entry.SourceDocument,
		})
	}
	return passages
}

// ChunkText splits raw section text into passage texts. Empty input
// yields zero passages.
func (c *Chunker) ChunkText(text string) []string {
	text = utils.NormalizeText(text)
	if text == "" {
		return nil
	}

	paragraphs := c.splitParagraphs(text)

	var pieces []string
	var buf []string
	bufLen := 0

	flush := func() {
		if len(buf) > 0 {
			pieces = append(pieces, strings.TrimSpace(strings.Join(buf, "\n\n")))
			buf = nil
			bufLen = 0
		}
	}

	for _, para := range paragraphs {
		pLen := runeLen(para)

		// A single paragraph over the ceiling must be re-split on
		// sentence boundaries and packed the same way.
		if pLen > c.maxChars {
			var combined string
			if bufLen >= c.minChars {
				flush()
				combined = para
			} else if len(buf) > 0 {
				combined = strings.Join(buf, "\n\n") + "\n\n" + para
				buf = nil
				bufLen = 0
			} else {
				combined = para
			}
			sentencePieces := c.packSentences(combined)
			if n := len(sentencePieces); n > 0 {
				pieces = append(pieces, sentencePieces[:n-1]...)
				last := sentencePieces[n-1]
				buf = []string{last}
				bufLen = runeLen(last)
			}
			continue
		}

		joined := bufLen + pLen
		if len(buf) > 0 {
			joined += 2
		}

		if joined <= c.maxChars {
			buf = append(buf, para)
			bufLen = joined
			continue
		}

		if bufLen >= c.minChars {
			flush()
			buf = []string{para}
			bufLen = pLen
			continue
		}

		// Buffer still under the floor: re-pack the combined text at
		// sentence granularity instead of emitting a too-short passage.
		combined := strings.Join(buf, "\n\n") + "\n\n" + para
		buf = nil
		bufLen = 0
		sentencePieces := c.packSentences(combined)
		if n := len(sentencePieces); n > 0 {
			pieces = append(pieces, sentencePieces[:n-1]...)
			last := sentencePieces[n-1]
			buf = []string{last}
			bufLen = runeLen(last)
		}
	}
	flush()

	pieces = c.enforceLength(pieces)
	pieces = c.mergeShortTail(pieces)

	return pieces
}

// splitParagraphs splits on blank lines, then forces a boundary before
// each recognized inline marker (e.g. "[KEY POINT]").
func (c *Chunker) splitParagraphs(text string) []string {
	raw := paragraphSplitRegex.Split(text, -1)

	var out []string
	for _, para := range raw {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		out = append(out, c.splitAtMarkers(para)...)
	}
	return out
}

func (c *Chunker) splitAtMarkers(para string) []string {
	locs := c.markerRegex.FindAllStringIndex(para, -1)
	if len(locs) == 0 {
		return []string{para}
	}

	var parts []string
	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			if head := strings.TrimSpace(para[prev:loc[0]]); head != "" {
				parts = append(parts, head)
			}
			prev = loc[0]
		}
	}
	if tail := strings.TrimSpace(para[prev:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

// packSentences splits text into sentences and packs them greedily. A
// sentence that alone exceeds the ceiling is hard-cut as a last resort.
func (c *Chunker) packSentences(text string) []string {
	sentences := c.splitSentences(text)

	var out []string
	var buf strings.Builder
	bufLen := 0

	flush := func() {
		if bufLen > 0 {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
			bufLen = 0
		}
	}

	for _, s := range sentences {
		sLen := runeLen(s)

		if sLen > c.maxChars {
			flush()
			out = append(out, c.hardCut(s)...)
			continue
		}

		if bufLen+sLen > c.maxChars {
			flush()
		}
		buf.WriteString(s)
		bufLen += sLen
	}
	flush()

	return out
}

// splitSentences cuts after terminal punctuation, keeping the trailing
// whitespace with the preceding sentence so concatenation is lossless.
func (c *Chunker) splitSentences(text string) []string {
	locs := c.sentenceRegex.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sentences []string
	prev := 0
	for _, loc := range locs {
		sentences = append(sentences, text[prev:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		sentences = append(sentences, text[prev:])
	}
	return sentences
}

// hardCut slices text into ceiling-sized pieces at exact rune boundaries.
func (c *Chunker) hardCut(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var out []string
	for start := 0; start < len(runes); start += c.maxChars {
		end := start + c.maxChars
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// enforceLength guarantees the hard invariant that no passage exceeds the
// ceiling, re-splitting violators at the most natural available boundary:
// forced marker, then list item, then sentence punctuation, then
// whitespace, then a hard character cut.
func (c *Chunker) enforceLength(pieces []string) []string {
	var out []string
	for _, piece := range pieces {
		out = append(out, c.splitOversized(piece)...)
	}
	return out
}

func (c *Chunker) splitOversized(text string) []string {
	if runeLen(text) <= c.maxChars {
		return []string{text}
	}

	runes := []rune(text)
	window := string(runes[:c.maxChars])

	cut := -1
	if locs := c.markerRegex.FindAllStringIndex(window, -1); len(locs) > 0 {
		if last := locs[len(locs)-1]; last[0] > 0 {
			cut = last[0]
		}
	}
	if cut <= 0 {
		if locs := c.listItemRegex.FindAllStringIndex(window, -1); len(locs) > 0 {
			cut = locs[len(locs)-1][0] + 1 // keep the glyph with the item
		}
	}
	if cut <= 0 {
		if locs := c.sentenceRegex.FindAllStringIndex(window, -1); len(locs) > 0 {
			cut = locs[len(locs)-1][1]
		}
	}
	if cut <= 0 {
		if idx := strings.LastIndexAny(window, " \n\t"); idx > 0 {
			cut = idx + 1
		}
	}
	if cut <= 0 {
		cut = len(window)
	}

	head := strings.TrimSpace(window[:cut])
	rest := strings.TrimSpace(window[cut:] + string(runes[c.maxChars:]))

	if head == "" {
		return c.splitOversized(rest)
	}
	if rest == "" {
		return []string{head}
	}
	return append([]string{head}, c.splitOversized(rest)...)
}

// mergeShortTail folds a final passage shorter than half the floor into
// its predecessor when the merge stays within the ceiling.
func (c *Chunker) mergeShortTail(pieces []string) []string {
	n := len(pieces)
	if n < 2 {
		return pieces
	}

	last := pieces[n-1]
	prev := pieces[n-2]
	if runeLen(last) >= c.minChars/2 {
		return pieces
	}
	if runeLen(prev)+2+runeLen(last) > c.maxChars {
		return pieces
	}

	merged := prev + "\n\n" + last
	return append(pieces[:n-2], merged)
}

func runeLen(s string) int { return len([]rune(s)) }
