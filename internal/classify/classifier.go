// Package classify assigns an activity label to every fixed time slice of a
// dual-track recording by comparing per-window RMS amplitudes.
package classify

import (
	"github.com/xblabs/WhisperDog-sub003/internal/audio"
)

// Label identifies which source is active during a segment.
type Label string

const (
	LabelSilence Label = "silence"
	LabelMic     Label = "mic"
	LabelSystem  Label = "system"
	LabelBoth    Label = "both"
)

// Segment is a half-open labeled span [StartMs, EndMs). For a given
// recording the ordered segments exactly partition [0, totalDurationMs):
// no gaps, no overlaps.
type Segment struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
	Label   Label `json:"label"`
}

// DurationMs returns the segment length.
func (s Segment) DurationMs() int64 { return s.EndMs - s.StartMs }

// Options tune the classifier. Zero fields fall back to defaults.
type Options struct {
	IntervalMs        int64   // analysis window width, default 100
	ActivityThreshold float64 // RMS floor below which a window is inactive, default 0.005
	DominanceRatio    float64 // amplitude ratio at which one source explains both, default 3.0
}

const (
	defaultIntervalMs        = 100
	defaultActivityThreshold = 0.005
	defaultDominanceRatio    = 3.0

	// ratioEpsilon guards the division when the system track is flat zero.
	ratioEpsilon = 1e-4

	// absorbMaxMs is the longest BOTH run the post-pass will fold into
	// matching neighbors; longer runs are genuine simultaneous activity.
	absorbMaxMs = 500
)

func (o Options) withDefaults() Options {
	if o.IntervalMs <= 0 {
		o.IntervalMs = defaultIntervalMs
	}
	if o.ActivityThreshold <= 0 {
		o.ActivityThreshold = defaultActivityThreshold
	}
	if o.DominanceRatio <= 0 {
		o.DominanceRatio = defaultDominanceRatio
	}
	return o
}

// Classify partitions the shared timeline of mic and system into fixed
// windows and labels each one. system may be nil (single-track recording),
// in which case only mic/silence labels are produced. Never fails:
// degenerate input yields a degenerate but well-formed segment list.
func Classify(mic, system *audio.Track, opts Options) []Segment {
	opts = opts.withDefaults()

	totalMs := mic.DurationMs()
	if system != nil && system.DurationMs() > totalMs {
		totalMs = system.DurationMs()
	}
	if totalMs == 0 {
		return []Segment{}
	}

	var segments []Segment
	for startMs := int64(0); startMs < totalMs; startMs += opts.IntervalMs {
		endMs := startMs + opts.IntervalMs
		if endMs > totalMs {
			endMs = totalMs
		}
		label := classifyWindow(mic, system, startMs, endMs-startMs, opts)

		if n := len(segments); n > 0 && segments[n-1].Label == label {
			segments[n-1].EndMs = endMs
		} else {
			segments = append(segments, Segment{StartMs: startMs, EndMs: endMs, Label: label})
		}
	}

	return absorbShortBoth(segments)
}

// classifyWindow labels one window from the two RMS values.
func classifyWindow(mic, system *audio.Track, startMs, widthMs int64, opts Options) Label {
	micRMS := mic.RMSWindowMs(startMs, widthMs)
	var sysRMS float64
	if system != nil {
		sysRMS = system.RMSWindowMs(startMs, widthMs)
	}

	micActive := micRMS >= opts.ActivityThreshold
	sysActive := sysRMS >= opts.ActivityThreshold

	switch {
	case !micActive && !sysActive:
		return LabelSilence
	case micActive && !sysActive:
		return LabelMic
	case !micActive && sysActive:
		return LabelSystem
	}

	// Both active: one source may still dominate. Boundaries are inclusive.
	denom := sysRMS
	if denom < ratioEpsilon {
		denom = ratioEpsilon
	}
	ratio := micRMS / denom
	switch {
	case ratio >= opts.DominanceRatio:
		return LabelMic
	case ratio <= 1/opts.DominanceRatio:
		return LabelSystem
	default:
		return LabelBoth
	}
}

// absorbShortBoth folds BOTH segments shorter than absorbMaxMs into their
// neighbors when both neighbors carry the same mic/system label. Brief
// noise during one speaker's turn otherwise flickers the timeline. When
// the neighbors disagree the BOTH label is kept as-is.
func absorbShortBoth(segments []Segment) []Segment {
	changed := true
	for changed {
		changed = false
		for i, s := range segments {
			if s.Label != LabelBoth || s.DurationMs() >= absorbMaxMs {
				continue
			}
			if i == 0 || i == len(segments)-1 {
				continue
			}
			prev, next := segments[i-1], segments[i+1]
			if prev.Label != next.Label {
				continue
			}
			if prev.Label != LabelMic && prev.Label != LabelSystem {
				continue
			}
			segments[i].Label = prev.Label
			segments = mergeAdjacent(segments)
			changed = true
			break
		}
	}
	return segments
}

// mergeAdjacent coalesces runs of equal labels, preserving the partition.
func mergeAdjacent(segments []Segment) []Segment {
	if len(segments) == 0 {
		return segments
	}
	out := segments[:1]
	for _, s := range segments[1:] {
		if out[len(out)-1].Label == s.Label {
			out[len(out)-1].EndMs = s.EndMs
		} else {
			out = append(out, s)
		}
	}
	return out
}
