package voicebridge

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zaf/g711"
)

// Pure audio conversion helpers. All functions are stateless and safe for
// concurrent use across sessions.

// Resample converts float samples from one rate to another using linear
// interpolation. Returns the input unchanged when the rates are equal.
func Resample(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen == 0 {
		return nil
	}
	out := make([]float64, outLen)
	for i := range out {
		pos := float64(i) / ratio
		lo := int(pos)
		if lo >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(lo)
		out[i] = samples[lo]*(1-frac) + samples[lo+1]*frac
	}
	return out
}

// FloatTo16BitPCM converts float samples in [-1, 1] to 16-bit little-endian
// PCM. Out-of-range samples are clamped, never wrapped.
func FloatTo16BitPCM(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(s * 32767))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// PCM16ToFloat converts 16-bit little-endian PCM bytes to float samples in
// [-1, 1]. An odd-length input is an input-validation error.
func PCM16ToFloat(pcm []byte) ([]float64, error) {
	if len(pcm)%2 != 0 {
		return nil, NewAudioError("pcm_to_float", fmt.Sprintf("PCM length %d is not a multiple of the sample width", len(pcm)), nil)
	}
	out := make([]float64, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		out[i] = float64(v) / 32767
	}
	return out, nil
}

// PCMToBase64 encodes PCM bytes using the standard base64 alphabet with no
// line wrapping.
func PCMToBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Base64ToPCM decodes standard-alphabet base64 into PCM bytes. Malformed
// base64 or a decoded length that is not a multiple of the 16-bit sample
// width is rejected, never silently truncated.
func Base64ToPCM(s string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, NewAudioError("base64_to_pcm", "malformed base64 audio", err)
	}
	if len(pcm)%2 != 0 {
		return nil, NewAudioError("base64_to_pcm", fmt.Sprintf("decoded PCM length %d is not a multiple of the sample width", len(pcm)), nil)
	}
	return pcm, nil
}

// WAVFromPCM16 wraps raw 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
// Output is deterministic: identical inputs produce identical bytes.
func WAVFromPCM16(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, NewAudioError("pcm_to_wav", fmt.Sprintf("invalid sample rate %d", sampleRate), nil)
	}
	if channels != 1 && channels != 2 {
		return nil, NewAudioError("pcm_to_wav", fmt.Sprintf("invalid channel count %d", channels), nil)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, NewAudioError("pcm_to_wav", fmt.Sprintf("PCM length %d is not a multiple of the frame size", len(pcm)), nil)
	}

	blockAlign := uint16(2 * channels)
	byteRate := uint32(sampleRate) * uint32(blockAlign)
	dataLen := uint32(len(pcm))
	out := make([]byte, 44+len(pcm))

	// RIFF header
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], 36+dataLen)
	copy(out[8:], []byte("WAVE"))

	// Format chunk
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:], 1)  // audio format (PCM)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], byteRate)
	binary.LittleEndian.PutUint16(out[32:], blockAlign)
	binary.LittleEndian.PutUint16(out[34:], 16) // bits per sample

	// Data chunk
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], dataLen)
	copy(out[44:], pcm)
	return out, nil
}

// ULawToPCM16 decodes G.711 µ-law bytes to 16-bit little-endian PCM.
func ULawToPCM16(in []byte) []byte {
	return g711.DecodeUlaw(in)
}

// ALawToPCM16 decodes G.711 A-law bytes to 16-bit little-endian PCM.
func ALawToPCM16(in []byte) []byte {
	return g711.DecodeAlaw(in)
}

// decodeUpstreamAudio converts a raw upstream audio delta to PCM16 according
// to the session's negotiated output format.
func decodeUpstreamAudio(raw []byte, format string) ([]byte, error) {
	switch format {
	case "", FormatPCM16:
		if len(raw)%2 != 0 {
			return nil, NewAudioError("decode_delta", fmt.Sprintf("PCM length %d is not a multiple of the sample width", len(raw)), nil)
		}
		return raw, nil
	case FormatG711ULaw:
		return ULawToPCM16(raw), nil
	case FormatG711ALaw:
		return ALawToPCM16(raw), nil
	default:
		return nil, NewAudioError("decode_delta", fmt.Sprintf("unsupported audio format %q", format), nil)
	}
}

// g711SampleRate is the rate G.711 audio is defined at, independent of the
// session capture rate.
const g711SampleRate = 8000

// outputSampleRate returns the PCM rate of decoded upstream audio for the
// given output format. G.711 deltas decode to 8 kHz PCM16, so WAV containers
// built from them must be stamped accordingly.
func outputSampleRate(format string, sessionRate int) int {
	switch format {
	case FormatG711ULaw, FormatG711ALaw:
		return g711SampleRate
	default:
		return sessionRate
	}
}

// PCM16BytesFor calculates the number of bytes needed for PCM16 audio of
// given duration. Formula: (milliseconds * sampleRate * 2 bytes) / 1000.
func PCM16BytesFor(ms int, sampleRate int) int { return (ms * sampleRate * 2) / 1000 }
