// Package realtime streams voice turns through the OpenAI Realtime API:
// PCM16 frames in, PCM16 frames out, transcripts at the end.
package realtime

import (
	"encoding/base64"
	"encoding/binary"
)

const (
	// EngineRate is the sample rate the Realtime API requires.
	EngineRate = 24000

	// ChunkSamples is 20ms of audio at EngineRate, the append granularity.
	ChunkSamples = 480
)

// Frame is a run of mono PCM16 samples at the given rate.
type Frame struct {
	Rate    int
	Samples []int16
}

// Silence returns a frame of zero samples at EngineRate.
func Silence(durationMS int) Frame {
	n := EngineRate * durationMS / 1000
	return Frame{Rate: EngineRate, Samples: make([]int16, n)}
}

// Resample converts a frame to targetRate by linear interpolation. Frames
// already at the target rate come back unchanged.
func Resample(f Frame, targetRate int) Frame {
	if f.Rate == targetRate || f.Rate <= 0 || len(f.Samples) == 0 {
		return Frame{Rate: targetRate, Samples: f.Samples}
	}

	outLen := len(f.Samples) * targetRate / f.Rate
	if outLen < 1 {
		outLen = 1
	}
	out := make([]int16, outLen)
	step := float64(len(f.Samples)-1) / float64(outLen)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(f.Samples)-1 {
			out[i] = f.Samples[len(f.Samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(f.Samples[idx])
		b := float64(f.Samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return Frame{Rate: targetRate, Samples: out}
}

// Split cuts a frame into chunks of at most samplesPerChunk samples.
func Split(f Frame, samplesPerChunk int) []Frame {
	if samplesPerChunk < 1 || len(f.Samples) == 0 {
		return nil
	}
	chunks := make([]Frame, 0, (len(f.Samples)+samplesPerChunk-1)/samplesPerChunk)
	for start := 0; start < len(f.Samples); start += samplesPerChunk {
		end := start + samplesPerChunk
		if end > len(f.Samples) {
			end = len(f.Samples)
		}
		chunks = append(chunks, Frame{Rate: f.Rate, Samples: f.Samples[start:end]})
	}
	return chunks
}

// EncodePCM16 packs samples as little-endian PCM16 bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16 unpacks little-endian PCM16 bytes. A trailing odd byte is
// dropped.
func DecodePCM16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// encodeAudio renders samples as the base64 payload the API expects.
func encodeAudio(samples []int16) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// decodeAudio parses a base64 PCM16 payload from the API.
func decodeAudio(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return DecodePCM16(raw), nil
}
