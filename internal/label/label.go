// Package label maps the activity timeline onto word-level transcription
// timestamps, producing the final source-labeled transcript.
package label

import (
	"strings"

	"github.com/xblabs/WhisperDog-sub003/internal/classify"
	"github.com/xblabs/WhisperDog-sub003/internal/transcribe"
)

// Word is a transcript word tagged with the source that spoke it.
type Word struct {
	Text    string         `json:"text"`
	StartMs int64          `json:"start_ms"`
	EndMs   int64          `json:"end_ms"`
	Source  classify.Label `json:"source"`
}

// Segment groups consecutive words from the same source.
type Segment struct {
	Source  classify.Label `json:"source"`
	StartMs int64          `json:"start_ms"`
	EndMs   int64          `json:"end_ms"`
	Text    string         `json:"text"`
}

// Transcript is the final labeled output: full text, per-word labels,
// and source-grouped segments.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Words    []Word    `json:"words"`
	Segments []Segment `json:"segments"`
}

// Label assigns each word the activity segment with the largest overlap
// of [startMs, endMs); ties go to the earlier segment. Words outside
// every segment keep the silence label. Pure lookup/merge: no network,
// no mutable state.
func Label(resp *transcribe.Response, segments []classify.Segment) *Transcript {
	if resp == nil || len(resp.Words) == 0 {
		text := ""
		if resp != nil {
			text = resp.Text
		}
		return &Transcript{Text: text, Words: []Word{}, Segments: []Segment{}}
	}

	words := make([]Word, len(resp.Words))
	for i, w := range resp.Words {
		startMs := int64(w.Start * 1000)
		endMs := int64(w.End * 1000)
		words[i] = Word{
			Text:    w.Word,
			StartMs: startMs,
			EndMs:   endMs,
			Source:  dominantSource(startMs, endMs, segments),
		}
	}

	return &Transcript{
		Text:     resp.Text,
		Language: resp.Language,
		Words:    words,
		Segments: buildSegments(words, resp.Text),
	}
}

// dominantSource picks the segment overlapping [startMs, endMs) the most.
func dominantSource(startMs, endMs int64, segments []classify.Segment) classify.Label {
	best := classify.LabelSilence
	var bestOverlap int64
	for _, s := range segments {
		lo := max64(startMs, s.StartMs)
		hi := min64(endMs, s.EndMs)
		if hi-lo > bestOverlap {
			bestOverlap = hi - lo
			best = s.Label
		}
		// Equal overlap keeps the earlier segment: segments are ordered.
	}
	return best
}

// mapWordPositions maps each word token to its byte offset in fullText
// using sequential case-insensitive forward scanning. Each word matches
// only once, advancing past previous matches so repeated words land on
// the right occurrence.
func mapWordPositions(words []Word, fullText string) []int {
	positions := make([]int, len(words))
	lower := strings.ToLower(fullText)
	searchFrom := 0

	for i, w := range words {
		wLower := strings.ToLower(strings.TrimSpace(w.Text))
		idx := strings.Index(lower[searchFrom:], wLower)
		if idx >= 0 {
			positions[i] = searchFrom + idx
			searchFrom = searchFrom + idx + len(wLower)
		} else {
			positions[i] = searchFrom
		}
	}
	return positions
}

// buildSegments groups consecutive words with the same source. When
// fullText is available, segment text is sliced from it so punctuation
// missing from word tokens is preserved.
func buildSegments(words []Word, fullText string) []Segment {
	if len(words) == 0 {
		return []Segment{}
	}
	if fullText == "" {
		return buildSegmentsFallback(words)
	}

	positions := mapWordPositions(words, fullText)

	type group struct {
		source   classify.Label
		startMs  int64
		endMs    int64
		firstIdx int
	}

	var groups []group
	g := group{source: words[0].Source, startMs: words[0].StartMs, endMs: words[0].EndMs}
	for i := 1; i < len(words); i++ {
		if words[i].Source == g.source {
			g.endMs = words[i].EndMs
		} else {
			groups = append(groups, g)
			g = group{source: words[i].Source, startMs: words[i].StartMs, endMs: words[i].EndMs, firstIdx: i}
		}
	}
	groups = append(groups, g)

	segments := make([]Segment, len(groups))
	for i, grp := range groups {
		textStart := positions[grp.firstIdx]
		textEnd := len(fullText)
		if i+1 < len(groups) {
			textEnd = positions[groups[i+1].firstIdx]
		}
		segments[i] = Segment{
			Source:  grp.source,
			StartMs: grp.startMs,
			EndMs:   grp.endMs,
			Text:    strings.TrimSpace(fullText[textStart:textEnd]),
		}
	}
	return segments
}

// buildSegmentsFallback joins word tokens with spaces when fullText is
// not available.
func buildSegmentsFallback(words []Word) []Segment {
	var segments []Segment
	cur := Segment{
		Source:  words[0].Source,
		StartMs: words[0].StartMs,
		EndMs:   words[0].EndMs,
		Text:    strings.TrimSpace(words[0].Text),
	}
	for _, w := range words[1:] {
		if w.Source == cur.Source {
			cur.EndMs = w.EndMs
			cur.Text += " " + strings.TrimSpace(w.Text)
		} else {
			segments = append(segments, cur)
			cur = Segment{Source: w.Source, StartMs: w.StartMs, EndMs: w.EndMs, Text: strings.TrimSpace(w.Text)}
		}
	}
	segments = append(segments, cur)
	return segments
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
