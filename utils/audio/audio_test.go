package audio

import (
	"encoding/binary"
	"testing"
)

func pcmFromSamples(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"", FormatLinear16, true},
		{"linear16", FormatLinear16, true},
		{"mulaw", FormatULaw, true},
		{"alaw", FormatALaw, true},
		{"opus", "", false},
	}
	for _, c := range cases {
		got, err := ParseFormat(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("ParseFormat(%q) = (%q, %v), want %q", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Fatalf("ParseFormat(%q) succeeded, want error", c.in)
		}
	}
}

func TestStereoToMonoAveragesChannels(t *testing.T) {
	stereo := pcmFromSamples(100, 300, -200, -400)
	mono := StereoToMono(stereo)

	if len(mono) != 4 {
		t.Fatalf("mono length = %d, want 4", len(mono))
	}
	first := int16(binary.LittleEndian.Uint16(mono[0:2]))
	second := int16(binary.LittleEndian.Uint16(mono[2:4]))
	if first != 200 {
		t.Fatalf("first sample = %d, want 200", first)
	}
	if second != -300 {
		t.Fatalf("second sample = %d, want -300", second)
	}
}

func TestToLinear16MonoPassthrough(t *testing.T) {
	pcm := pcmFromSamples(1, 2, 3, 4)
	out, err := ToLinear16Mono(pcm, FormatLinear16, 1)
	if err != nil {
		t.Fatalf("ToLinear16Mono: %v", err)
	}
	if &out[0] != &pcm[0] || len(out) != len(pcm) {
		t.Fatal("mono linear16 should pass through unmodified")
	}
}

func TestToLinear16MonoDownmixesStereo(t *testing.T) {
	stereo := pcmFromSamples(1000, 2000)
	out, err := ToLinear16Mono(stereo, FormatLinear16, 2)
	if err != nil {
		t.Fatalf("ToLinear16Mono: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("output length = %d, want 2", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out)); got != 1500 {
		t.Fatalf("downmixed sample = %d, want 1500", got)
	}
}

func TestToLinear16MonoDecodesG711(t *testing.T) {
	// 160 one-byte µ-law samples become 160 16-bit PCM samples.
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0xFF
	}
	out, err := ToLinear16Mono(frame, FormatULaw, 1)
	if err != nil {
		t.Fatalf("ToLinear16Mono mulaw: %v", err)
	}
	if len(out) != 320 {
		t.Fatalf("mulaw output length = %d, want 320", len(out))
	}

	out, err = ToLinear16Mono(frame, FormatALaw, 1)
	if err != nil {
		t.Fatalf("ToLinear16Mono alaw: %v", err)
	}
	if len(out) != 320 {
		t.Fatalf("alaw output length = %d, want 320", len(out))
	}
}

func TestValidatePCM(t *testing.T) {
	if err := ValidatePCM(nil, 1); err == nil {
		t.Fatal("empty PCM accepted")
	}
	if err := ValidatePCM([]byte{1, 2, 3}, 1); err == nil {
		t.Fatal("odd-length PCM accepted")
	}
	if err := ValidatePCM([]byte{1, 2}, 2); err == nil {
		t.Fatal("stereo with one frame of one channel accepted")
	}
	if err := ValidatePCM([]byte{1, 2, 3, 4}, 2); err != nil {
		t.Fatalf("valid stereo rejected: %v", err)
	}
	if err := ValidatePCM([]byte{1, 2}, 3); err == nil {
		t.Fatal("channel count 3 accepted")
	}
}

func TestDurationSeconds(t *testing.T) {
	// 16000 mono samples at 16kHz is one second.
	pcm := make([]byte, 32000)
	got, err := DurationSeconds(pcm, 1, 16000)
	if err != nil {
		t.Fatalf("DurationSeconds: %v", err)
	}
	if got != 1.0 {
		t.Fatalf("duration = %v, want 1.0", got)
	}

	if _, err := DurationSeconds(pcm, 1, 0); err == nil {
		t.Fatal("zero sample rate accepted")
	}
}
