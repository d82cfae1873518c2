// Package silence shrinks a dual-track recording by removing only the
// spans where both tracks are silent, keeping them frame-aligned.
package silence

import (
	"github.com/xblabs/WhisperDog-sub003/internal/audio"
)

// Region is a half-open frame range [StartFrame, EndFrame) in the same
// frame numbering as its source track.
type Region struct {
	StartFrame int `json:"start_frame"`
	EndFrame   int `json:"end_frame"`
}

// Frames returns the region length in frames.
func (r Region) Frames() int { return r.EndFrame - r.StartFrame }

// Options tune silence detection and removal.
type Options struct {
	MicThreshold    float64 // RMS floor for the microphone track
	SystemThreshold float64 // RMS floor for the loopback track; 0 = half of mic
	MinSilenceMs    int64   // shortest common-silence span worth cutting, default 500
	WindowMs        int64   // detection window width, default 50
	SnapWindowMs    int64   // zero-crossing search radius around each cut, default 5
	DisableSnap     bool
}

const (
	defaultMinSilenceMs = 500
	defaultWindowMs     = 50
	defaultSnapWindowMs = 5
	defaultMicThreshold = 0.01
)

func (o Options) withDefaults() Options {
	if o.MicThreshold <= 0 {
		o.MicThreshold = defaultMicThreshold
	}
	if o.SystemThreshold <= 0 {
		// Loopback audio is digitally mixed and carries a lower noise
		// floor than a live microphone.
		o.SystemThreshold = o.MicThreshold / 2
	}
	if o.MinSilenceMs <= 0 {
		o.MinSilenceMs = defaultMinSilenceMs
	}
	if o.WindowMs <= 0 {
		o.WindowMs = defaultWindowMs
	}
	if o.SnapWindowMs <= 0 {
		o.SnapWindowMs = defaultSnapWindowMs
	}
	return o
}

// Result reports the outcome of an edit. When Processed is false the
// input tracks are returned untouched.
type Result struct {
	Mic            *audio.Track
	System         *audio.Track
	RegionsRemoved int
	MsRemoved      int64
	Processed      bool
	// Truncated notes that the inputs had unequal lengths and were
	// trimmed to the shorter before analysis.
	Truncated bool
}

// Edit removes every span where both tracks are silent for at least
// MinSilenceMs, cutting identical frame ranges from both so their frame
// counts stay equal. Removal is an optimization: any degenerate input
// returns Processed=false and the caller continues with the originals.
func Edit(mic, system *audio.Track, opts Options) *Result {
	unprocessed := &Result{Mic: mic, System: system}
	if mic == nil || system == nil {
		return unprocessed
	}
	if mic.SampleRate != system.SampleRate || mic.Channels != system.Channels {
		// Differing formats would break the shared frame numbering.
		return unprocessed
	}
	opts = opts.withDefaults()

	truncated := false
	if mic.Frames() != system.Frames() {
		n := mic.Frames()
		if system.Frames() < n {
			n = system.Frames()
		}
		mic = mic.Slice(0, n)
		system = system.Slice(0, n)
		truncated = true
	}
	if mic.Frames() == 0 {
		return unprocessed
	}

	minFrames := int(opts.MinSilenceMs * int64(mic.SampleRate) / 1000)

	micRegions := DetectRegions(mic, opts.MicThreshold, opts)
	sysRegions := DetectRegions(system, opts.SystemThreshold, opts)
	common := Intersect(micRegions, sysRegions, minFrames)
	if len(common) == 0 {
		unprocessed.Truncated = truncated
		return unprocessed
	}

	if !opts.DisableSnap {
		snapFrames := int(opts.SnapWindowMs * int64(mic.SampleRate) / 1000)
		for i := range common {
			common[i].StartFrame = snapToZeroCrossing(mic, common[i].StartFrame, snapFrames)
			common[i].EndFrame = snapToZeroCrossing(mic, common[i].EndFrame, snapFrames)
		}
		common = dropDegenerate(common, minFrames)
		if len(common) == 0 {
			unprocessed.Truncated = truncated
			return unprocessed
		}
	}

	editedMic := removeRegions(mic, common)
	editedSys := removeRegions(system, common)

	removedFrames := 0
	for _, r := range common {
		removedFrames += r.Frames()
	}

	return &Result{
		Mic:            editedMic,
		System:         editedSys,
		RegionsRemoved: len(common),
		MsRemoved:      int64(removedFrames) * 1000 / int64(mic.SampleRate),
		Processed:      true,
		Truncated:      truncated,
	}
}

// DetectRegions finds runs of consecutive sub-threshold RMS windows lasting
// at least MinSilenceMs, in frame coordinates. The track is scanned one
// window at a time so memory stays bounded regardless of track length.
func DetectRegions(t *audio.Track, threshold float64, opts Options) []Region {
	opts = opts.withDefaults()
	windowFrames := int(opts.WindowMs * int64(t.SampleRate) / 1000)
	if windowFrames <= 0 {
		return nil
	}
	minFrames := int(opts.MinSilenceMs * int64(t.SampleRate) / 1000)

	var regions []Region
	runStart := -1
	total := t.Frames()

	for start := 0; start < total; start += windowFrames {
		end := start + windowFrames
		if end > total {
			end = total
		}
		if t.RMS(start, end) < threshold {
			if runStart < 0 {
				runStart = start
			}
			continue
		}
		if runStart >= 0 && start-runStart >= minFrames {
			regions = append(regions, Region{StartFrame: runStart, EndFrame: start})
		}
		runStart = -1
	}
	if runStart >= 0 && total-runStart >= minFrames {
		regions = append(regions, Region{StartFrame: runStart, EndFrame: total})
	}
	return regions
}

// Intersect computes pairwise overlaps of two ordered region lists,
// keeping only overlaps of at least minFrames.
func Intersect(a, b []Region, minFrames int) []Region {
	var out []Region
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := a[i].StartFrame
		if b[j].StartFrame > start {
			start = b[j].StartFrame
		}
		end := a[i].EndFrame
		if b[j].EndFrame < end {
			end = b[j].EndFrame
		}
		if end-start >= minFrames {
			out = append(out, Region{StartFrame: start, EndFrame: end})
		}
		// Advance whichever region ends first.
		if a[i].EndFrame < b[j].EndFrame {
			i++
		} else {
			j++
		}
	}
	return out
}

// snapToZeroCrossing moves frame to the nearest sign change within
// windowFrames on either side, to keep cuts from clicking. The same
// snapped boundary is applied to both tracks so alignment holds; the
// microphone signal drives the search. Returns the original frame when
// no crossing is found.
func snapToZeroCrossing(t *audio.Track, frame, windowFrames int) int {
	at := func(f int) int16 {
		if f < 0 || f >= t.Frames() {
			return 0
		}
		return t.Samples[f*t.Channels]
	}
	isCrossing := func(f int) bool {
		prev, cur := at(f-1), at(f)
		return cur == 0 || (prev < 0) != (cur < 0)
	}
	if isCrossing(frame) {
		return frame
	}
	for d := 1; d <= windowFrames; d++ {
		if frame-d >= 0 && isCrossing(frame-d) {
			return frame - d
		}
		if frame+d <= t.Frames() && isCrossing(frame+d) {
			return frame + d
		}
	}
	return frame
}

// dropDegenerate removes regions that shrank below the minimum after
// boundary snapping, or inverted entirely.
func dropDegenerate(regions []Region, minFrames int) []Region {
	out := regions[:0]
	for _, r := range regions {
		if r.Frames() >= minFrames {
			out = append(out, r)
		}
	}
	return out
}

// removeRegions cuts the given frame ranges out of the track, processing
// regions in descending order so earlier offsets stay valid.
func removeRegions(t *audio.Track, regions []Region) *audio.Track {
	samples := make([]int16, len(t.Samples))
	copy(samples, t.Samples)

	for i := len(regions) - 1; i >= 0; i-- {
		r := regions[i]
		start := r.StartFrame * t.Channels
		end := r.EndFrame * t.Channels
		if start < 0 {
			start = 0
		}
		if end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			continue
		}
		samples = append(samples[:start], samples[end:]...)
	}
	return &audio.Track{
		Samples:    samples,
		SampleRate: t.SampleRate,
		Channels:   t.Channels,
		BitDepth:   t.BitDepth,
	}
}
