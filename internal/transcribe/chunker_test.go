package transcribe

import (
	"testing"

	"github.com/xblabs/WhisperDog-sub003/internal/audio"
)

func wavPayload(seconds int, rate int) []byte {
	samples := make([]int16, seconds*rate)
	for i := range samples {
		samples[i] = int16(i % 4096)
	}
	return audio.EncodeWAV(&audio.Track{Samples: samples, SampleRate: rate, Channels: 1, BitDepth: 16})
}

func TestValidate(t *testing.T) {
	t.Run("empty_payload", func(t *testing.T) {
		cerr := Validate(nil, Limits{})
		if cerr == nil || cerr.Category != CategoryPermanent {
			t.Errorf("got %v, want permanent", cerr)
		}
	})

	t.Run("not_wav", func(t *testing.T) {
		cerr := Validate([]byte("ID3 mp3 junk and then some"), Limits{})
		if cerr == nil || cerr.Category != CategoryPermanent {
			t.Errorf("got %v, want permanent", cerr)
		}
	})

	t.Run("over_hard_cap", func(t *testing.T) {
		payload := wavPayload(1, 8000)
		cerr := Validate(payload, Limits{HardMaxBytes: 1024})
		if cerr == nil || cerr.Category != CategoryPermanent {
			t.Errorf("got %v, want permanent", cerr)
		}
	})

	t.Run("valid", func(t *testing.T) {
		if cerr := Validate(wavPayload(1, 8000), Limits{}); cerr != nil {
			t.Errorf("got %v, want nil", cerr)
		}
	})
}

func TestSplit(t *testing.T) {
	t.Run("under_soft_cap_single_chunk", func(t *testing.T) {
		payload := wavPayload(1, 8000)
		chunks, err := Split(payload, Limits{})
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("chunks = %d, want 1", len(chunks))
		}
		if chunks[0].StartSec != 0 {
			t.Errorf("StartSec = %f, want 0", chunks[0].StartSec)
		}
		if len(chunks[0].Data) != len(payload) {
			t.Errorf("single chunk must carry the payload unchanged")
		}
	})

	t.Run("oversized_split_by_duration", func(t *testing.T) {
		// 3.5s at 8kHz against 1s chunks: expect 4 chunks with the last one short.
		rate := 8000
		samples := make([]int16, rate*7/2)
		payload := audio.EncodeWAV(&audio.Track{Samples: samples, SampleRate: rate, Channels: 1, BitDepth: 16})

		chunks, err := Split(payload, Limits{SoftMaxBytes: 100, ChunkSeconds: 1})
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		if len(chunks) != 4 {
			t.Fatalf("chunks = %d, want 4", len(chunks))
		}
		wantStarts := []float64{0, 1, 2, 3}
		wantFrames := []int{rate, rate, rate, rate / 2}
		for i, c := range chunks {
			if c.Index != i {
				t.Errorf("chunk %d Index = %d", i, c.Index)
			}
			if c.StartSec != wantStarts[i] {
				t.Errorf("chunk %d StartSec = %f, want %f", i, c.StartSec, wantStarts[i])
			}
			tr, err := audio.DecodeWAV(c.Data)
			if err != nil {
				t.Fatalf("chunk %d not decodable: %v", i, err)
			}
			if tr.Frames() != wantFrames[i] {
				t.Errorf("chunk %d frames = %d, want %d", i, tr.Frames(), wantFrames[i])
			}
		}
	})

	t.Run("undecodable_oversized_payload", func(t *testing.T) {
		junk := make([]byte, 200)
		if _, err := Split(junk, Limits{SoftMaxBytes: 100}); err == nil {
			t.Error("expected decode error")
		}
	})
}
