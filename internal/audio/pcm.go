package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// TargetSampleRate is the rate the whole pipeline operates at. Enrollment
// and runtime identification must share this exact preprocessing or
// similarity scores are not comparable.
const TargetSampleRate = 16000

// Chunk is one inbound unit of session audio: 16 kHz mono samples plus the
// capture timestamp of its first sample. Cloud-labelled segments ride along
// when the upstream transcription source already diarized.
type Chunk struct {
	TimestampMs int64
	Samples     []int16
	Labelled    []LabelledSegment
}

// LabelledSegment is a cloud-diarized span attached to an inbound chunk.
type LabelledSegment struct {
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
}

// DurationMs reports the chunk length at the target rate.
func (c Chunk) DurationMs() int64 {
	return int64(len(c.Samples)) * 1000 / TargetSampleRate
}

// DecodePCM16LE converts little-endian 16-bit PCM bytes to samples.
// A trailing odd byte is dropped.
func DecodePCM16LE(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// EncodePCM16LE is the inverse of DecodePCM16LE.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

// Resample16kMono converts mono PCM at srcRate to 16 kHz by integer
// decimation. Only rates that are whole multiples of 16 kHz are accepted;
// clients are expected to capture at 16, 32 or 48 kHz.
func Resample16kMono(samples []int16, srcRate int) ([]int16, error) {
	if srcRate == TargetSampleRate {
		return samples, nil
	}
	if srcRate <= 0 || srcRate%TargetSampleRate != 0 {
		return nil, fmt.Errorf("unsupported sample rate %d (must be a multiple of %d)", srcRate, TargetSampleRate)
	}
	factor := srcRate / TargetSampleRate
	out := make([]int16, len(samples)/factor)
	for i := range out {
		out[i] = samples[i*factor]
	}
	return out, nil
}

// RMS returns the root mean square amplitude of the samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// WAV wraps 16 kHz mono PCM16LE samples in a minimal RIFF header for
// services that want a self-describing clip.
func WAV(samples []int16) []byte {
	data := EncodePCM16LE(samples)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(TargetSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(TargetSampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}
