package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Track is an immutable PCM recording. Once built it is never mutated;
// editing operations return new tracks so ownership handoff between
// pipeline stages stays single-writer.
type Track struct {
	Samples    []int16
	SampleRate int
	Channels   int
	BitDepth   int
}

// NewTrack builds a track from raw little-endian 16-bit PCM bytes.
// Returns an error if the byte count does not divide into whole frames.
func NewTrack(pcm []byte, sampleRate, channels, bitDepth int) (*Track, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if bitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (only 16-bit PCM)", bitDepth)
	}
	bytesPerFrame := 2 * channels
	if len(pcm)%bytesPerFrame != 0 {
		return nil, fmt.Errorf("pcm length %d not frame-aligned (frame size %d)", len(pcm), bytesPerFrame)
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return &Track{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
	}, nil
}

// Frames returns the number of frames (samples per channel).
func (t *Track) Frames() int {
	if t == nil || t.Channels == 0 {
		return 0
	}
	return len(t.Samples) / t.Channels
}

// DurationMs returns the track duration in milliseconds.
func (t *Track) DurationMs() int64 {
	if t == nil || t.SampleRate == 0 {
		return 0
	}
	return int64(t.Frames()) * 1000 / int64(t.SampleRate)
}

// FrameAtMs converts a millisecond offset to a frame index.
func (t *Track) FrameAtMs(ms int64) int {
	return int(ms * int64(t.SampleRate) / 1000)
}

// Slice returns a new track covering frames [startFrame, endFrame).
// Bounds are clamped to the track.
func (t *Track) Slice(startFrame, endFrame int) *Track {
	if startFrame < 0 {
		startFrame = 0
	}
	if endFrame > t.Frames() {
		endFrame = t.Frames()
	}
	if startFrame >= endFrame {
		return &Track{SampleRate: t.SampleRate, Channels: t.Channels, BitDepth: t.BitDepth}
	}
	out := make([]int16, (endFrame-startFrame)*t.Channels)
	copy(out, t.Samples[startFrame*t.Channels:endFrame*t.Channels])
	return &Track{Samples: out, SampleRate: t.SampleRate, Channels: t.Channels, BitDepth: t.BitDepth}
}

// sample returns the normalized [-1, 1] value of frame f, channel c,
// or 0 when f is out of range. Out-of-range reads let callers treat a
// shorter track as silent past its end.
func (t *Track) sample(f, c int) float64 {
	if t == nil || f < 0 || f >= t.Frames() {
		return 0
	}
	return float64(t.Samples[f*t.Channels+c]) / 32768.0
}

// RMS computes the root-mean-square amplitude of frames
// [startFrame, endFrame) across all channels, on normalized samples.
// Windows that fall entirely outside the track yield 0.
func (t *Track) RMS(startFrame, endFrame int) float64 {
	if t == nil || startFrame >= endFrame {
		return 0
	}
	var sum float64
	n := 0
	for f := startFrame; f < endFrame; f++ {
		for c := 0; c < t.Channels; c++ {
			s := t.sample(f, c)
			sum += s * s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// RMSWindowMs computes RMS over the window starting at the given
// millisecond offset with the given width.
func (t *Track) RMSWindowMs(startMs, widthMs int64) float64 {
	start := t.FrameAtMs(startMs)
	end := t.FrameAtMs(startMs + widthMs)
	return t.RMS(start, end)
}
