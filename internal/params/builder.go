// Package params coerces loosely typed generation settings into a
// core.ParameterBundle.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

// Field names accepted in RawParams.
const (
	FieldDoSample          = "do_sample"
	FieldTopP              = "top_p"
	FieldTopK              = "top_k"
	FieldTemperature       = "temperature"
	FieldLengthPenalty     = "length_penalty"
	FieldNumBeams          = "num_beams"
	FieldRepetitionPenalty = "repetition_penalty"
	FieldMaxMelTokens      = "max_mel_tokens"
	FieldSentenceTokens    = "max_text_tokens_per_sentence"
)

// DefaultSentenceTokens is the sentence chunk limit used when none is sent.
const DefaultSentenceTokens = 120

// RawParams is the untyped parameter set as decoded from JSON or form input.
type RawParams map[string]any

// Defaults returns the bundle used for fields the caller leaves out.
func Defaults() core.ParameterBundle {
	topK := 30
	return core.ParameterBundle{
		DoSample:          true,
		TopP:              0.8,
		TopK:              &topK,
		Temperature:       0.8,
		LengthPenalty:     0.0,
		NumBeams:          3,
		RepetitionPenalty: 10.0,
		MaxMelTokens:      1500,
	}
}

// Build coerces raw into a bundle. top_k <= 0 disables top-k filtering.
func Build(raw RawParams) (core.ParameterBundle, error) {
	b := Defaults()
	var err error

	if v, ok := raw[FieldDoSample]; ok {
		if b.DoSample, err = Bool(FieldDoSample, v); err != nil {
			return core.ParameterBundle{}, err
		}
	}
	floats := []struct {
		field string
		dst   *float64
	}{
		{FieldTopP, &b.TopP},
		{FieldTemperature, &b.Temperature},
		{FieldLengthPenalty, &b.LengthPenalty},
		{FieldRepetitionPenalty, &b.RepetitionPenalty},
	}
	for _, f := range floats {
		v, ok := raw[f.field]
		if !ok {
			continue
		}
		if *f.dst, err = Float(f.field, v); err != nil {
			return core.ParameterBundle{}, err
		}
	}

	if v, ok := raw[FieldTopK]; ok {
		k, err := Int(FieldTopK, v)
		if err != nil {
			return core.ParameterBundle{}, err
		}
		if k > 0 {
			b.TopK = &k
		} else {
			b.TopK = nil
		}
	}
	if v, ok := raw[FieldNumBeams]; ok {
		if b.NumBeams, err = Int(FieldNumBeams, v); err != nil {
			return core.ParameterBundle{}, err
		}
		if b.NumBeams < 1 {
			return core.ParameterBundle{}, core.BadParameter(FieldNumBeams, "must be at least 1")
		}
	}
	if v, ok := raw[FieldMaxMelTokens]; ok {
		if b.MaxMelTokens, err = Int(FieldMaxMelTokens, v); err != nil {
			return core.ParameterBundle{}, err
		}
		if b.MaxMelTokens < 1 {
			return core.ParameterBundle{}, core.BadParameter(FieldMaxMelTokens, "must be positive")
		}
	}
	return b, nil
}

// SentenceTokens reads the sentence chunk limit from raw, falling back to def.
func SentenceTokens(raw RawParams, def int) (int, error) {
	v, ok := raw[FieldSentenceTokens]
	if !ok || v == nil {
		return def, nil
	}
	n, err := Int(FieldSentenceTokens, v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, core.BadParameter(FieldSentenceTokens, "must be positive")
	}
	return n, nil
}

// Float coerces v into a finite float64.
func Float(field string, v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, notNumeric(field, v)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, notNumeric(field, v)
		}
		f = parsed
	default:
		return 0, notNumeric(field, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, core.BadParameter(field, "must be a finite number")
	}
	return f, nil
}

// Int coerces v into an int, truncating fractional values.
func Int(field string, v any) (int, error) {
	f, err := Float(field, v)
	if err != nil {
		return 0, err
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, core.BadParameter(field, "out of range")
	}
	return int(math.Trunc(f)), nil
}

// Bool coerces v into a bool. Numbers are true when non-zero.
func Bool(field string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, core.BadParameter(field, fmt.Sprintf("not a boolean: %q", b))
		}
		return parsed, nil
	}
	f, err := Float(field, v)
	if err != nil {
		return false, core.BadParameter(field, fmt.Sprintf("not a boolean: %v", v))
	}
	return f != 0, nil
}

func notNumeric(field string, v any) error {
	return core.BadParameter(field, fmt.Sprintf("not a number: %v", v))
}
