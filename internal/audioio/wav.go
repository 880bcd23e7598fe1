package audioio

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

// IsRIFF reports whether data starts with a RIFF/WAVE header. Used to sniff
// WAV containers on octet-stream endpoints that also accept raw PCM.
func IsRIFF(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	parser := riff.New(bytes.NewReader(data))
	if err := parser.ParseHeaders(); err != nil {
		return false
	}
	return parser.ID == riff.RiffID && parser.Format == riff.WavFormatID
}

// WriteWAVFile encodes mono 16-bit PCM into a WAV file at path.
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer.Data = data

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteTempWAV materializes samples as a temp WAV file and returns its path.
// The caller removes the file after use.
func WriteTempWAV(dir string, samples []int16, sampleRate int) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	file, err := os.CreateTemp(dir, "typeless_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp wav file: %w", err)
	}
	name := file.Name()
	file.Close()
	if err := WriteWAVFile(name, samples, sampleRate); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// DecodeWAV decodes a WAV container into canonical PCM: mono samples at the
// canonical rate, mixed down and resampled as needed.
func DecodeWAV(data []byte) ([]int16, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("wav file has no pcm data")
	}

	shift := 0
	if dec.BitDepth > 16 {
		shift = int(dec.BitDepth) - 16
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		s := v >> shift
		if dec.BitDepth == 8 {
			// 8-bit wav is unsigned
			s = (v - 128) << 8
		}
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		samples[i] = int16(s)
	}

	samples = MixMono(samples, buf.Format.NumChannels)
	samples = Resample(samples, buf.Format.SampleRate, SampleRate)
	return samples, nil
}
