package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zaf/g711"
)

// Format identifies the encoding of incoming microphone audio.
type Format string

const (
	FormatLinear16 Format = "linear16"
	FormatULaw     Format = "mulaw"
	FormatALaw     Format = "alaw"
)

// ParseFormat validates a browser-supplied format string, defaulting empty
// input to linear16.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", string(FormatLinear16):
		return FormatLinear16, nil
	case string(FormatULaw):
		return FormatULaw, nil
	case string(FormatALaw):
		return FormatALaw, nil
	}
	return "", fmt.Errorf("unsupported audio format %q", s)
}

// ULawToPCM converts µ-law bytes to 16-bit little-endian PCM using ITU-T G.711.
func ULawToPCM(u []byte) []byte {
	return g711.DecodeUlaw(u)
}

// ALawToPCM converts A-law bytes to 16-bit little-endian PCM using ITU-T G.711.
func ALawToPCM(a []byte) []byte {
	return g711.DecodeAlaw(a)
}

// ToLinear16Mono normalizes one microphone frame to what the ASR stream
// expects: 16-bit little-endian PCM, single channel. G.711 input is always
// mono, so channel count only applies to linear16.
func ToLinear16Mono(frame []byte, format Format, channels int) ([]byte, error) {
	switch format {
	case FormatULaw:
		return ULawToPCM(frame), nil
	case FormatALaw:
		return ALawToPCM(frame), nil
	case FormatLinear16:
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}

	if err := ValidatePCM(frame, channels); err != nil {
		return nil, err
	}
	if channels == 2 {
		return StereoToMono(frame), nil
	}
	return frame, nil
}

// StereoToMono downmixes interleaved stereo PCM by averaging channels.
func StereoToMono(stereoPCM []byte) []byte {
	samples := len(stereoPCM) / 4
	mono := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		left := int16(binary.LittleEndian.Uint16(stereoPCM[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(stereoPCM[i*4+2 : i*4+4]))
		avg := (int(left) + int(right)) / 2
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(avg))
	}
	return mono
}

// ValidatePCM checks basic integrity of a 16-bit PCM buffer.
func ValidatePCM(pcm []byte, channels int) error {
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if len(pcm)%2 != 0 {
		return errors.New("PCM data must have even length (16-bit samples)")
	}
	if channels <= 0 || channels > 2 {
		return errors.New("only mono (1) or stereo (2) channels supported")
	}
	if len(pcm)%(2*channels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// DurationSeconds returns the playback duration of a PCM buffer.
func DurationSeconds(pcm []byte, channels, sampleRate int) (float64, error) {
	if err := ValidatePCM(pcm, channels); err != nil {
		return 0, err
	}
	if sampleRate <= 0 {
		return 0, errors.New("invalid sample rate")
	}
	frames := len(pcm) / 2 / channels
	return float64(frames) / float64(sampleRate), nil
}
