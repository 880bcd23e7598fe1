package audioio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/typelesshq/typeless-core/internal/fault"
)

// acceptedExtensions lists upload formats decoded server-side.
var acceptedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
	".aac":  true,
}

// AcceptedUpload reports whether the filename carries a decodable extension.
func AcceptedUpload(filename string) bool {
	return acceptedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// DecodeUpload turns an uploaded audio file into canonical PCM. WAV is
// decoded in-process; compressed formats go through ffmpeg into a temp WAV
// that is removed after use.
func DecodeUpload(ctx context.Context, filename string, data []byte, tmpDir string) ([]int16, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !acceptedExtensions[ext] {
		return nil, fault.New(fault.InvalidInput, "unsupported audio format %q", ext)
	}
	if ext == ".wav" || IsRIFF(data) {
		samples, err := DecodeWAV(data)
		if err != nil {
			return nil, fault.Wrap(fault.InvalidInput, err, "decode wav upload")
		}
		return samples, nil
	}
	return decodeWithFFmpeg(ctx, ext, data, tmpDir)
}

func decodeWithFFmpeg(ctx context.Context, ext string, data []byte, tmpDir string) ([]int16, error) {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	in, err := os.CreateTemp(tmpDir, "typeless_in_*"+ext)
	if err != nil {
		return nil, fmt.Errorf("temp input file: %w", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, fmt.Errorf("write input file: %w", err)
	}
	in.Close()

	out := strings.TrimSuffix(in.Name(), ext) + "_16k.wav"
	defer os.Remove(out)

	// ffmpeg -y -i input -ac 1 -ar 16000 -f wav output
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", in.Name(),
		"-ac", "1", "-ar", strconv.Itoa(SampleRate),
		"-f", "wav",
		out,
	)
	if err := cmd.Run(); err != nil {
		return nil, fault.Wrap(fault.InvalidInput, err, "ffmpeg decode failed")
	}

	decoded, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}
	samples, err := DecodeWAV(decoded)
	if err != nil {
		return nil, fmt.Errorf("decode ffmpeg output: %w", err)
	}
	return samples, nil
}
