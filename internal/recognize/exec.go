package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/typelesshq/typeless-core/internal/audioio"
	"github.com/typelesshq/typeless-core/internal/config"
)

// execModel shells out to an external recognizer process per request. The
// audio is materialized as a temp WAV, the command prints a JSON result on
// stdout.
type execModel struct {
	cmd []string
	cfg config.RecognizerConfig
}

type execResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// NewExecModel parses the configured command line for later invocation.
func NewExecModel(cfg config.RecognizerConfig) (Model, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	return &execModel{cmd: args, cfg: cfg}, nil
}

func (m *execModel) Init(ctx context.Context) error {
	// Probe the binary so a missing model surfaces at boot, not mid-request.
	if _, err := exec.LookPath(m.cmd[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrModelInit, err)
	}
	if m.cfg.ModelPath != "" {
		if _, err := os.Stat(m.cfg.ModelPath); err != nil {
			return fmt.Errorf("%w: model path: %v", ErrModelInit, err)
		}
	}
	return nil
}

func (m *execModel) Reentrant() bool { return m.cfg.Reentrant }

func (m *execModel) Transcribe(ctx context.Context, samples []int16, language string) (Result, error) {
	wavPath, err := audioio.WriteTempWAV(m.cfg.TmpDir, samples, m.cfg.SampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrModelInference, err)
	}
	defer os.Remove(wavPath)

	args := append([]string{}, m.cmd[1:]...)
	args = append(args, "--audio", wavPath)
	if m.cfg.ModelPath != "" {
		args = append(args, "--model", m.cfg.ModelPath)
	}
	if language != "" && language != "auto" {
		args = append(args, "--language", language)
	}

	command := exec.CommandContext(ctx, m.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("%w: %v: %s", ErrModelInference, err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrModelInference, err)
	}
	return Result{
		Text:       resp.Text,
		Language:   resp.Language,
		Speaker:    resp.Speaker,
		Confidence: resp.Confidence,
		Words:      resp.Words,
	}, nil
}
