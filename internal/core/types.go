// Package core defines the data model shared by the synthesis pipeline:
// requests, emotion directives, parameter bundles, artifacts and the engine
// contract.
package core

import (
	"context"
	"time"
)

// Mode selects which emotion-control strategy a request uses.
type Mode int

const (
	ModeMatchTimbre   Mode = iota // Emotion follows the timbre reference
	ModeEmotionAudio              // Separate emotion reference audio
	ModeEmotionVector             // Eight-way emotion vector
	ModeEmotionText               // Free-form emotion description
)

// EmotionVectorSize is the number of components in an emotion vector.
const EmotionVectorSize = 8

// MaxEmotionVectorSum is the largest accepted sum of an emotion vector.
const MaxEmotionVectorSum = 1.5

func (m Mode) String() string {
	switch m {
	case ModeMatchTimbre:
		return "match_timbre"
	case ModeEmotionAudio:
		return "emotion_audio"
	case ModeEmotionVector:
		return "emotion_vector"
	case ModeEmotionText:
		return "emotion_text"
	}
	return "unknown"
}

// Directive is the resolved emotion instruction for one request. Only the
// fields belonging to Mode are meaningful.
type Directive struct {
	Mode      Mode
	Reference string                     // EmotionAudio
	Weight    float64                    // MatchTimbre (always 1.0), EmotionAudio
	Vector    [EmotionVectorSize]float64 // EmotionVector
	Text      string                     // EmotionText
}

// ParameterBundle holds the decoding hyperparameters passed to the engine.
type ParameterBundle struct {
	DoSample          bool
	TopP              float64
	TopK              *int // nil disables top-k filtering
	Temperature       float64
	LengthPenalty     float64
	NumBeams          int
	RepetitionPenalty float64
	MaxMelTokens      int
}

// SynthesisRequest is the fully composed request handed to the engine.
type SynthesisRequest struct {
	ID                 string
	Text               string
	SpeakerReference   string
	Emotion            Directive
	SentenceChunkLimit int
	Params             ParameterBundle
	RandomizeSeed      bool
	OutputPath         string
}

// Artifact describes an audio file produced by a successful synthesis.
type Artifact struct {
	ID        string
	Path      string
	CreatedAt time.Time
}

// Progress is an advisory progress update from the engine. Value is in [0,1].
type Progress struct {
	Value float64
	Desc  string
}

// ProgressSink receives progress for a single call. Implementations must not
// block for long; the engine calls it from its own goroutine.
type ProgressSink func(Progress)

// Report forwards p to the sink when one is attached.
func (s ProgressSink) Report(p Progress) {
	if s != nil {
		s(p)
	}
}

// Engine is the contract of the opaque speech-synthesis model. Synthesize
// writes the result to req.OutputPath on success. Callers guarantee that at
// most one Synthesize call is in flight.
type Engine interface {
	Synthesize(ctx context.Context, req SynthesisRequest, progress ProgressSink) error
	Health(ctx context.Context) error
	Close() error
}
