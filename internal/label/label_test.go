package label

import (
	"testing"

	"github.com/xblabs/WhisperDog-sub003/internal/classify"
	"github.com/xblabs/WhisperDog-sub003/internal/transcribe"
)

func segs(parts ...classify.Segment) []classify.Segment { return parts }

func TestLabel_WordSources(t *testing.T) {
	resp := &transcribe.Response{
		Text: "Hello there. How are you?",
		Words: []transcribe.Word{
			{Word: "Hello", Start: 0.1, End: 0.5},
			{Word: "there", Start: 0.6, End: 1.0},
			{Word: "How", Start: 2.1, End: 2.4},
			{Word: "are", Start: 2.5, End: 2.7},
			{Word: "you", Start: 2.8, End: 3.1},
		},
	}
	timeline := segs(
		classify.Segment{StartMs: 0, EndMs: 1500, Label: classify.LabelMic},
		classify.Segment{StartMs: 1500, EndMs: 2000, Label: classify.LabelSilence},
		classify.Segment{StartMs: 2000, EndMs: 3500, Label: classify.LabelSystem},
	)

	tr := Label(resp, timeline)
	if len(tr.Words) != 5 {
		t.Fatalf("words = %d, want 5", len(tr.Words))
	}
	wantSources := []classify.Label{
		classify.LabelMic, classify.LabelMic,
		classify.LabelSystem, classify.LabelSystem, classify.LabelSystem,
	}
	for i, want := range wantSources {
		if tr.Words[i].Source != want {
			t.Errorf("word %d (%q) source = %s, want %s", i, tr.Words[i].Text, tr.Words[i].Source, want)
		}
	}
	if tr.Words[0].StartMs != 100 || tr.Words[0].EndMs != 500 {
		t.Errorf("word 0 = [%d, %d]ms, want [100, 500]", tr.Words[0].StartMs, tr.Words[0].EndMs)
	}
}

func TestLabel_Segments(t *testing.T) {
	resp := &transcribe.Response{
		Text: "Hello there. How are you?",
		Words: []transcribe.Word{
			{Word: "Hello", Start: 0.1, End: 0.5},
			{Word: "there", Start: 0.6, End: 1.0},
			{Word: "How", Start: 2.1, End: 2.4},
			{Word: "are", Start: 2.5, End: 2.7},
			{Word: "you", Start: 2.8, End: 3.1},
		},
	}
	timeline := segs(
		classify.Segment{StartMs: 0, EndMs: 1500, Label: classify.LabelMic},
		classify.Segment{StartMs: 1500, EndMs: 3500, Label: classify.LabelSystem},
	)

	tr := Label(resp, timeline)
	if len(tr.Segments) != 2 {
		t.Fatalf("segments = %d, want 2: %+v", len(tr.Segments), tr.Segments)
	}
	if tr.Segments[0].Source != classify.LabelMic {
		t.Errorf("segment 0 source = %s, want mic", tr.Segments[0].Source)
	}
	// Punctuation lives in the full text, not the word tokens; segment
	// text must come out of the full text so it survives.
	if tr.Segments[0].Text != "Hello there." {
		t.Errorf("segment 0 text = %q, want %q", tr.Segments[0].Text, "Hello there.")
	}
	if tr.Segments[1].Text != "How are you?" {
		t.Errorf("segment 1 text = %q, want %q", tr.Segments[1].Text, "How are you?")
	}
	if tr.Segments[0].StartMs != 100 || tr.Segments[0].EndMs != 1000 {
		t.Errorf("segment 0 = [%d, %d]ms, want [100, 1000]", tr.Segments[0].StartMs, tr.Segments[0].EndMs)
	}
}

func TestLabel_DominantOverlapWins(t *testing.T) {
	// Word [900ms, 1200ms) overlaps mic by 100ms and system by 200ms.
	resp := &transcribe.Response{
		Text:  "straddle",
		Words: []transcribe.Word{{Word: "straddle", Start: 0.9, End: 1.2}},
	}
	timeline := segs(
		classify.Segment{StartMs: 0, EndMs: 1000, Label: classify.LabelMic},
		classify.Segment{StartMs: 1000, EndMs: 2000, Label: classify.LabelSystem},
	)

	tr := Label(resp, timeline)
	if tr.Words[0].Source != classify.LabelSystem {
		t.Errorf("source = %s, want system (larger overlap)", tr.Words[0].Source)
	}
}

func TestLabel_TieGoesToEarlierSegment(t *testing.T) {
	// Word [900ms, 1100ms) overlaps both segments by exactly 100ms.
	resp := &transcribe.Response{
		Text:  "even",
		Words: []transcribe.Word{{Word: "even", Start: 0.9, End: 1.1}},
	}
	timeline := segs(
		classify.Segment{StartMs: 0, EndMs: 1000, Label: classify.LabelMic},
		classify.Segment{StartMs: 1000, EndMs: 2000, Label: classify.LabelSystem},
	)

	tr := Label(resp, timeline)
	if tr.Words[0].Source != classify.LabelMic {
		t.Errorf("source = %s, want mic (earlier segment on tie)", tr.Words[0].Source)
	}
}

func TestLabel_WordOutsideTimelineIsSilence(t *testing.T) {
	resp := &transcribe.Response{
		Text:  "stray",
		Words: []transcribe.Word{{Word: "stray", Start: 9.0, End: 9.5}},
	}
	timeline := segs(classify.Segment{StartMs: 0, EndMs: 1000, Label: classify.LabelMic})

	tr := Label(resp, timeline)
	if tr.Words[0].Source != classify.LabelSilence {
		t.Errorf("source = %s, want silence", tr.Words[0].Source)
	}
}

func TestLabel_RepeatedWordsMapInOrder(t *testing.T) {
	resp := &transcribe.Response{
		Text: "yes yes no yes",
		Words: []transcribe.Word{
			{Word: "yes", Start: 0.0, End: 0.2},
			{Word: "yes", Start: 0.3, End: 0.5},
			{Word: "no", Start: 1.1, End: 1.3},
			{Word: "yes", Start: 1.4, End: 1.6},
		},
	}
	timeline := segs(
		classify.Segment{StartMs: 0, EndMs: 1000, Label: classify.LabelMic},
		classify.Segment{StartMs: 1000, EndMs: 2000, Label: classify.LabelSystem},
	)

	tr := Label(resp, timeline)
	if len(tr.Segments) != 2 {
		t.Fatalf("segments = %d, want 2: %+v", len(tr.Segments), tr.Segments)
	}
	if tr.Segments[0].Text != "yes yes" {
		t.Errorf("segment 0 text = %q, want %q", tr.Segments[0].Text, "yes yes")
	}
	if tr.Segments[1].Text != "no yes" {
		t.Errorf("segment 1 text = %q, want %q", tr.Segments[1].Text, "no yes")
	}
}

func TestLabel_EmptyResponse(t *testing.T) {
	t.Run("nil_response", func(t *testing.T) {
		tr := Label(nil, nil)
		if tr == nil || len(tr.Words) != 0 || len(tr.Segments) != 0 {
			t.Errorf("got %+v, want empty transcript", tr)
		}
	})

	t.Run("no_words", func(t *testing.T) {
		tr := Label(&transcribe.Response{Text: "text only"}, nil)
		if tr.Text != "text only" {
			t.Errorf("Text = %q, want preserved", tr.Text)
		}
		if len(tr.Words) != 0 || len(tr.Segments) != 0 {
			t.Errorf("words/segments = %d/%d, want 0/0", len(tr.Words), len(tr.Segments))
		}
	})
}

func TestLabel_FallbackWithoutFullText(t *testing.T) {
	resp := &transcribe.Response{
		Words: []transcribe.Word{
			{Word: "one", Start: 0.0, End: 0.3},
			{Word: "two", Start: 0.4, End: 0.7},
		},
	}
	timeline := segs(classify.Segment{StartMs: 0, EndMs: 1000, Label: classify.LabelMic})

	tr := Label(resp, timeline)
	if len(tr.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(tr.Segments))
	}
	if tr.Segments[0].Text != "one two" {
		t.Errorf("segment text = %q, want %q", tr.Segments[0].Text, "one two")
	}
}
