package transcribe

import (
	"fmt"

	"github.com/xblabs/WhisperDog-sub003/internal/audio"
)

// Limits bound what a single submission may carry.
type Limits struct {
	// HardMaxBytes is the service's hard cap; larger payloads are
	// rejected outright before any network call.
	HardMaxBytes int
	// SoftMaxBytes triggers chunking when exceeded.
	SoftMaxBytes int
	// ChunkSeconds is the duration of each chunk when splitting.
	ChunkSeconds int
}

const (
	defaultHardMaxBytes = 25 << 20
	defaultSoftMaxBytes = 20 << 20
	defaultChunkSeconds = 120
)

func (l Limits) withDefaults() Limits {
	if l.HardMaxBytes <= 0 {
		l.HardMaxBytes = defaultHardMaxBytes
	}
	if l.SoftMaxBytes <= 0 {
		l.SoftMaxBytes = defaultSoftMaxBytes
	}
	if l.ChunkSeconds <= 0 {
		l.ChunkSeconds = defaultChunkSeconds
	}
	return l
}

// Validate fails fast on payloads the service can never accept. Always a
// permanent failure and never reaches the network.
func Validate(payload []byte, limits Limits) *ClassifiedError {
	limits = limits.withDefaults()
	if len(payload) == 0 {
		return permanent("nothing to transcribe")
	}
	if !audio.IsWAV(payload) {
		return permanent("unsupported audio format (expected PCM WAV)")
	}
	if len(payload) > limits.HardMaxBytes {
		return permanent(fmt.Sprintf("recording too large to submit (%d MB, limit %d MB)",
			len(payload)>>20, limits.HardMaxBytes>>20))
	}
	return nil
}

// Chunk is one sequential slice of an oversized payload. StartSec offsets
// the chunk's word timestamps back onto the full recording's timeline.
type Chunk struct {
	Index    int
	StartSec float64
	Data     []byte
}

// Split cuts a WAV payload into sequential, non-overlapping chunks of at
// most ChunkSeconds each. Payloads at or under the soft threshold come
// back as a single chunk. Chunks must be transcribed and concatenated in
// index order.
func Split(payload []byte, limits Limits) ([]Chunk, error) {
	limits = limits.withDefaults()
	if len(payload) <= limits.SoftMaxBytes {
		return []Chunk{{Index: 0, StartSec: 0, Data: payload}}, nil
	}

	track, err := audio.DecodeWAV(payload)
	if err != nil {
		return nil, fmt.Errorf("decode for chunking: %w", err)
	}

	chunkFrames := limits.ChunkSeconds * track.SampleRate
	if chunkFrames <= 0 {
		return nil, fmt.Errorf("invalid chunk size")
	}

	var chunks []Chunk
	total := track.Frames()
	for start := 0; start < total; start += chunkFrames {
		end := start + chunkFrames
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			StartSec: float64(start) / float64(track.SampleRate),
			Data:     audio.EncodeWAV(track.Slice(start, end)),
		})
	}
	return chunks, nil
}
