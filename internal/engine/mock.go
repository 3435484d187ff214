package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/indextts-gateway/internal/audio"
	"github.com/lexiqai/indextts-gateway/internal/core"
)

// Mock writes a short silent WAV for every request. It reports a few progress
// steps and honours an optional per-call delay, which makes it useful for
// exercising the queue without a model.
type Mock struct {
	SampleRate int
	Length     time.Duration
	Delay      time.Duration
}

// NewMock creates a mock engine producing silence at sampleRate
func NewMock(sampleRate int) *Mock {
	return &Mock{SampleRate: sampleRate, Length: 500 * time.Millisecond}
}

// Synthesize implements core.Engine
func (m *Mock) Synthesize(ctx context.Context, req core.SynthesisRequest, progress core.ProgressSink) error {
	if req.OutputPath == "" {
		return fmt.Errorf("mock engine: output path is required")
	}

	progress.Report(core.Progress{Value: 0.1, Desc: "text processing"})
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	progress.Report(core.Progress{Value: 0.5, Desc: "generating speech"})

	// Longer text yields longer silence so artifacts differ in size.
	length := m.Length + time.Duration(len([]rune(req.Text)))*10*time.Millisecond
	if err := audio.WriteSilence(req.OutputPath, m.SampleRate, length); err != nil {
		return err
	}

	progress.Report(core.Progress{Value: 1, Desc: "done"})
	return nil
}

// Health implements core.Engine
func (m *Mock) Health(context.Context) error { return nil }

// Close implements core.Engine
func (m *Mock) Close() error { return nil }
