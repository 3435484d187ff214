// Package frontend decodes the flat, loosely typed request documents sent by
// the interactive session and the message bus into orchestrator inputs.
package frontend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/emotion"
	"github.com/lexiqai/indextts-gateway/internal/params"
)

// Field names shared by the flat request documents
const (
	FieldText      = "text"
	FieldSpeaker   = "speaker"
	FieldPrompt    = "prompt_audio"
	FieldMode      = "emo_mode"
	FieldEmotion   = "emotion"
	FieldEmoAudio  = "emo_audio"
	FieldEmoWeight = "emo_weight"
	FieldEmoText   = "emo_text"
	FieldRandom    = "emo_random"
)

var paramFields = []string{
	params.FieldDoSample,
	params.FieldTopP,
	params.FieldTopK,
	params.FieldTemperature,
	params.FieldLengthPenalty,
	params.FieldNumBeams,
	params.FieldRepetitionPenalty,
	params.FieldMaxMelTokens,
	params.FieldSentenceTokens,
}

// Fields is a decoded request document. Numbers are kept as json.Number so
// that coercion happens in one place.
type Fields map[string]any

// Decode parses a JSON object into Fields
func Decode(data []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return nil, core.InvalidInput("body", "request body must be a JSON object")
	}
	if f == nil {
		return nil, core.InvalidInput("body", "request body must be a JSON object")
	}
	return f, nil
}

// String returns the trimmed string under key. Numbers are formatted, other
// types read as empty.
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

// Type returns the message type of a session message
func (f Fields) Type() string {
	return f.String("type")
}

// Mode decodes emo_mode, also accepted as "mode"
func (f Fields) Mode() (core.Mode, error) {
	if v, ok := f[FieldMode]; ok {
		return emotion.ParseMode(v)
	}
	return emotion.ParseMode(f["mode"])
}

// Emotion collects the raw emotion fields. Vector components are read from
// vec1..vec8 or emo_vec_1..emo_vec_8. The reference is left for the caller
// to resolve.
func (f Fields) Emotion() (emotion.RawFields, error) {
	raw := emotion.RawFields{Text: f.String(FieldEmoText)}

	if v, ok := f[FieldEmoWeight]; ok && v != nil {
		w, err := params.Float(FieldEmoWeight, v)
		if err != nil {
			return emotion.RawFields{}, err
		}
		raw.Weight = &w
	}

	for i := range raw.Vector {
		for _, key := range []string{fmt.Sprintf("vec%d", i+1), fmt.Sprintf("emo_vec_%d", i+1)} {
			v, ok := f[key]
			if !ok || v == nil {
				continue
			}
			n, err := params.Float(key, v)
			if err != nil {
				return emotion.RawFields{}, err
			}
			raw.Vector[i] = n
			break
		}
	}
	return raw, nil
}

// Params returns the generation settings present in f
func (f Fields) Params() params.RawParams {
	raw := params.RawParams{}
	for _, key := range paramFields {
		if v, ok := f[key]; ok && v != nil {
			raw[key] = v
		}
	}
	return raw
}

// Bool reads a boolean flag; anything but true or "true" is false
func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}
