package audio

import (
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the fixed RIFF/WAVE header size for canonical PCM files:
// 12-byte RIFF chunk + 24-byte fmt chunk + 8-byte data chunk header.
const wavHeaderSize = 44

const pcmFormatTag = 1

// EncodeWAV serializes a track as a canonical 44-byte-header PCM WAV file.
// The output is playable by any compliant decoder.
func EncodeWAV(t *Track) []byte {
	dataSize := len(t.Samples) * 2
	blockAlign := t.Channels * t.BitDepth / 8
	byteRate := t.SampleRate * blockAlign

	out := make([]byte, wavHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(out[22:24], uint16(t.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(t.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(t.BitDepth))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for i, s := range t.Samples {
		binary.LittleEndian.PutUint16(out[wavHeaderSize+i*2:], uint16(s))
	}
	return out
}

// DecodeWAV parses a canonical PCM WAV payload back into a track.
// Only 16-bit PCM is accepted; compressed or extensible formats are rejected.
func DecodeWAV(b []byte) (*Track, error) {
	if len(b) < wavHeaderSize {
		return nil, fmt.Errorf("wav too short: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE payload")
	}
	if string(b[12:16]) != "fmt " {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	format := binary.LittleEndian.Uint16(b[20:22])
	if format != pcmFormatTag {
		return nil, fmt.Errorf("unsupported format tag %d (PCM only)", format)
	}
	channels := int(binary.LittleEndian.Uint16(b[22:24]))
	sampleRate := int(binary.LittleEndian.Uint32(b[24:28]))
	bitDepth := int(binary.LittleEndian.Uint16(b[34:36]))
	if string(b[36:40]) != "data" {
		return nil, fmt.Errorf("missing data chunk")
	}
	dataSize := int(binary.LittleEndian.Uint32(b[40:44]))
	if dataSize > len(b)-wavHeaderSize {
		dataSize = len(b) - wavHeaderSize
	}
	return NewTrack(b[wavHeaderSize:wavHeaderSize+dataSize], sampleRate, channels, bitDepth)
}

// IsWAV reports whether the payload carries a RIFF/WAVE signature.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// MixdownMono merges two frame-aligned mono-or-multichannel tracks into a
// single mono track by averaging, clipping to int16 range. The shorter
// track is treated as silent past its end. Sample rates must match.
func MixdownMono(a, b *Track) (*Track, error) {
	if a == nil && b == nil {
		return nil, fmt.Errorf("no tracks to merge")
	}
	if a == nil {
		return toMono(b), nil
	}
	if b == nil {
		return toMono(a), nil
	}
	if a.SampleRate != b.SampleRate {
		return nil, fmt.Errorf("sample rate mismatch: %d vs %d", a.SampleRate, b.SampleRate)
	}

	frames := a.Frames()
	if b.Frames() > frames {
		frames = b.Frames()
	}
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		v := (frameMean(a, f) + frameMean(b, f)) / 2
		out[f] = clampInt16(v)
	}
	return &Track{Samples: out, SampleRate: a.SampleRate, Channels: 1, BitDepth: 16}, nil
}

// SplitStereo separates an interleaved stereo track into left and right
// mono tracks. Returns an error for non-stereo input.
func SplitStereo(t *Track) (left, right *Track, err error) {
	if t.Channels != 2 {
		return nil, nil, fmt.Errorf("expected 2 channels, got %d", t.Channels)
	}
	frames := t.Frames()
	l := make([]int16, frames)
	r := make([]int16, frames)
	for f := 0; f < frames; f++ {
		l[f] = t.Samples[f*2]
		r[f] = t.Samples[f*2+1]
	}
	left = &Track{Samples: l, SampleRate: t.SampleRate, Channels: 1, BitDepth: 16}
	right = &Track{Samples: r, SampleRate: t.SampleRate, Channels: 1, BitDepth: 16}
	return left, right, nil
}

// toMono averages channels down to one.
func toMono(t *Track) *Track {
	if t.Channels == 1 {
		return t
	}
	frames := t.Frames()
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		out[f] = clampInt16(frameMean(t, f))
	}
	return &Track{Samples: out, SampleRate: t.SampleRate, Channels: 1, BitDepth: 16}
}

// frameMean averages all channels of frame f, 0 past the end of the track.
func frameMean(t *Track, f int) int {
	if f >= t.Frames() {
		return 0
	}
	sum := 0
	for c := 0; c < t.Channels; c++ {
		sum += int(t.Samples[f*t.Channels+c])
	}
	return sum / t.Channels
}

func clampInt16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
