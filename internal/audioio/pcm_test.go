package audioio

import (
	"bytes"
	"os"
	"testing"

	"github.com/typelesshq/typeless-core/internal/fault"
)

func TestFrameFromBytesRejectsOddLength(t *testing.T) {
	_, err := FrameFromBytes(make([]byte, 1001))
	if err == nil {
		t.Fatal("expected error for odd byte count")
	}
	if fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("expected InvalidInput, got %s", fault.KindOf(err))
	}
}

func TestFrameRoundTrip(t *testing.T) {
	raw := []byte{0x01, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	frame, err := FrameFromBytes(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int16{1, 32767, -32768}
	got := frame.Samples()
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if !bytes.Equal(frame.Bytes(), raw) {
		t.Fatal("bytes round trip mismatch")
	}
}

func TestConcatPreservesOrderAndLength(t *testing.T) {
	a := FrameFromSamples([]int16{1, 2})
	b := FrameFromSamples([]int16{3})
	c := FrameFromSamples(nil)
	joined := Concat([]Frame{a, b, c})
	if joined.Len() != 3 {
		t.Fatalf("expected 3 samples, got %d", joined.Len())
	}
	for i, want := range []int16{1, 2, 3} {
		if joined.Samples()[i] != want {
			t.Fatalf("sample %d: expected %d, got %d", i, want, joined.Samples()[i])
		}
	}
}

func TestRMSOfSilenceAndFullScale(t *testing.T) {
	if rms := RMS(make([]int16, 1600)); rms != 0 {
		t.Fatalf("expected zero rms for silence, got %v", rms)
	}
	loud := make([]int16, 1600)
	for i := range loud {
		loud[i] = 16384
	}
	rms := RMS(loud)
	if rms < 0.49 || rms > 0.51 {
		t.Fatalf("expected rms near 0.5, got %v", rms)
	}
}

func TestMixMonoAverages(t *testing.T) {
	stereo := []int16{100, 200, -100, 100}
	mono := MixMono(stereo, 2)
	if len(mono) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(mono))
	}
	if mono[0] != 150 || mono[1] != 0 {
		t.Fatalf("unexpected mixdown: %v", mono)
	}
}

func TestResampleHalvesLength(t *testing.T) {
	in := make([]int16, 32000)
	out := Resample(in, 32000, 16000)
	if len(out) != 16000 {
		t.Fatalf("expected 16000 samples, got %d", len(out))
	}
}

func TestWAVFileRoundTrip(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i % 128)
	}
	path, err := WriteTempWAV(t.TempDir(), samples, SampleRate)
	if err != nil {
		t.Fatalf("write temp wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if !IsRIFF(data) {
		t.Fatal("expected RIFF header on encoded wav")
	}
	decoded, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestIsRIFFRejectsRawPCM(t *testing.T) {
	if IsRIFF(make([]byte, 64)) {
		t.Fatal("zero buffer misdetected as RIFF")
	}
}

func TestAcceptedUpload(t *testing.T) {
	for _, name := range []string{"a.wav", "b.MP3", "c.m4a", "d.flac", "e.ogg", "f.aac"} {
		if !AcceptedUpload(name) {
			t.Fatalf("expected %s accepted", name)
		}
	}
	if AcceptedUpload("g.txt") {
		t.Fatal("txt should be rejected")
	}
}
