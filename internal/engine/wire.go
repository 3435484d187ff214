// Package engine adapts the speech-synthesis model to core.Engine. The model
// runs out of process: behind a gRPC sidecar, as a subprocess speaking JSON
// lines, or as a mock that writes silence for development.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

// Payload is the request document sent to an out-of-process engine. Field
// names follow the model's own inference arguments.
type Payload struct {
	ID                string    `json:"id"`
	Text              string    `json:"text"`
	SpeakerPrompt     string    `json:"spk_audio_prompt"`
	OutputPath        string    `json:"output_path"`
	EmoMode           string    `json:"emo_mode"`
	EmoAudioPrompt    string    `json:"emo_audio_prompt,omitempty"`
	EmoAlpha          float64   `json:"emo_alpha"`
	EmoVector         []float64 `json:"emo_vector,omitempty"`
	UseEmoText        bool      `json:"use_emo_text"`
	EmoText           string    `json:"emo_text,omitempty"`
	UseRandom         bool      `json:"use_random"`
	MaxTokensSentence int       `json:"max_text_tokens_per_sentence"`
	DoSample          bool      `json:"do_sample"`
	TopP              float64   `json:"top_p"`
	TopK              *int      `json:"top_k"`
	Temperature       float64   `json:"temperature"`
	LengthPenalty     float64   `json:"length_penalty"`
	NumBeams          int       `json:"num_beams"`
	RepetitionPenalty float64   `json:"repetition_penalty"`
	MaxMelTokens      int       `json:"max_mel_tokens"`
}

// NewPayload flattens a composed request into the engine's wire shape.
func NewPayload(req core.SynthesisRequest) Payload {
	p := Payload{
		ID:                req.ID,
		Text:              req.Text,
		SpeakerPrompt:     req.SpeakerReference,
		OutputPath:        req.OutputPath,
		EmoMode:           req.Emotion.Mode.String(),
		EmoAlpha:          1.0,
		UseRandom:         req.RandomizeSeed,
		MaxTokensSentence: req.SentenceChunkLimit,
		DoSample:          req.Params.DoSample,
		TopP:              req.Params.TopP,
		TopK:              req.Params.TopK,
		Temperature:       req.Params.Temperature,
		LengthPenalty:     req.Params.LengthPenalty,
		NumBeams:          req.Params.NumBeams,
		RepetitionPenalty: req.Params.RepetitionPenalty,
		MaxMelTokens:      req.Params.MaxMelTokens,
	}

	switch req.Emotion.Mode {
	case core.ModeMatchTimbre:
		p.EmoAlpha = req.Emotion.Weight
	case core.ModeEmotionAudio:
		p.EmoAudioPrompt = req.Emotion.Reference
		p.EmoAlpha = req.Emotion.Weight
	case core.ModeEmotionVector:
		p.EmoVector = append([]float64(nil), req.Emotion.Vector[:]...)
	case core.ModeEmotionText:
		p.UseEmoText = true
		p.EmoText = req.Emotion.Text
	}
	return p
}

// Frame is one line of engine output: a progress update or the final
// completion marker.
type Frame struct {
	Progress *float64 `json:"progress,omitempty"`
	Desc     string   `json:"desc,omitempty"`
	Done     bool     `json:"done,omitempty"`
	Error    string   `json:"error,omitempty"`
}

var errNoCompletion = errors.New("engine exited without a completion frame")

// apply forwards a progress frame to the sink and reports whether the frame
// finished the job. A done frame with an error message fails the job.
func (f Frame) apply(progress core.ProgressSink) (bool, error) {
	if f.Progress != nil {
		progress.Report(core.Progress{Value: clamp01(*f.Progress), Desc: f.Desc})
	}
	if !f.Done {
		return false, nil
	}
	if f.Error != "" {
		return true, fmt.Errorf("engine reported failure: %s", f.Error)
	}
	return true, nil
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid engine frame: %w", err)
	}
	return f, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
