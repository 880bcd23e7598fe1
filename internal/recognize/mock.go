package recognize

import (
	"context"
	"fmt"

	"github.com/typelesshq/typeless-core/internal/audioio"
)

type mockModel struct{}

// NewMockModel returns a model that reports what it was fed instead of
// transcribing. Silence produces an empty transcript, matching a real
// model's behavior on empty input.
func NewMockModel() Model {
	return &mockModel{}
}

func (m *mockModel) Init(_ context.Context) error { return nil }

func (m *mockModel) Reentrant() bool { return true }

func (m *mockModel) Transcribe(_ context.Context, samples []int16, language string) (Result, error) {
	if audioio.RMS(samples) < 0.001 {
		return Result{Text: "", Language: language}, nil
	}
	return Result{
		Text:     fmt.Sprintf("[transcript %d samples]", len(samples)),
		Language: language,
	}, nil
}
