// Package emotion turns the flat, loosely-typed emotion inputs of the front
// ends into a validated core.Directive.
package emotion

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

// DefaultWeight applies to EmotionAudio when the caller sends no weight.
const DefaultWeight = 1.0

// RawFields carries every optional emotion field a caller may send. Only the
// fields of the selected mode are read.
type RawFields struct {
	Reference string
	Weight    *float64
	Vector    [core.EmotionVectorSize]float64
	Text      string
}

// Display labels of each mode, in index order.
var (
	labelsZH = [...]string{"与音色参考音频相同", "使用情感参考音频", "使用情感向量控制", "使用情感描述文本控制"}
	labelsEN = [...]string{
		"Same as the voice reference",
		"Use emotion reference audio",
		"Use emotion vectors",
		"Use text description to control emotion",
	}
)

// Labels returns the display label of every mode in index order.
func Labels() []string {
	return labelsZH[:]
}

func modeFromLabel(s string) (core.Mode, bool) {
	for i := range labelsZH {
		mode := core.Mode(i)
		if s == labelsZH[i] || strings.EqualFold(s, labelsEN[i]) || strings.EqualFold(s, mode.String()) {
			return mode, true
		}
	}
	return 0, false
}

// ParseMode decodes a mode given as an index, a numeric string, a canonical
// name or a UI label. A nil value selects MatchTimbre.
func ParseMode(v any) (core.Mode, error) {
	switch m := v.(type) {
	case nil:
		return core.ModeMatchTimbre, nil
	case core.Mode:
		return checkIndex(int64(m))
	case int:
		return checkIndex(int64(m))
	case int64:
		return checkIndex(m)
	case float64:
		if m != math.Trunc(m) {
			return 0, badMode(v)
		}
		return checkIndex(int64(m))
	case json.Number:
		i, err := m.Int64()
		if err != nil {
			return 0, badMode(v)
		}
		return checkIndex(i)
	case string:
		s := strings.TrimSpace(m)
		if s == "" {
			return core.ModeMatchTimbre, nil
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return checkIndex(i)
		}
		if mode, ok := modeFromLabel(s); ok {
			return mode, nil
		}
	}
	return 0, badMode(v)
}

func checkIndex(i int64) (core.Mode, error) {
	if i < int64(core.ModeMatchTimbre) || i > int64(core.ModeEmotionText) {
		return 0, badMode(i)
	}
	return core.Mode(i), nil
}

func badMode(v any) error {
	return core.BadParameter("emo_control_method", fmt.Sprintf("unknown emotion control mode %v", v))
}

// Resolve validates raw against mode and returns the normalized directive.
// Fields that belong to other modes are dropped.
func Resolve(mode core.Mode, raw RawFields) (core.Directive, error) {
	switch mode {
	case core.ModeMatchTimbre:
		return core.Directive{Mode: mode, Weight: 1.0}, nil

	case core.ModeEmotionAudio:
		if strings.TrimSpace(raw.Reference) == "" {
			return core.Directive{}, core.InvalidInput("emo_ref_path", "emotion reference audio is required")
		}
		weight := DefaultWeight
		if raw.Weight != nil {
			weight = *raw.Weight
		}
		if math.IsNaN(weight) || weight < 0 || weight > 1 {
			return core.Directive{}, core.BadParameter("emo_weight", "emotion weight must be within [0, 1]")
		}
		return core.Directive{Mode: mode, Reference: raw.Reference, Weight: weight}, nil

	case core.ModeEmotionVector:
		var sum float64
		for i, v := range raw.Vector {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return core.Directive{}, core.BadParameter(fmt.Sprintf("vec%d", i+1), "must be a finite number")
			}
			sum += v
		}
		if sum > core.MaxEmotionVectorSum {
			return core.Directive{}, core.EmotionVectorOverflow(sum)
		}
		return core.Directive{Mode: mode, Vector: raw.Vector}, nil

	case core.ModeEmotionText:
		return core.Directive{Mode: mode, Text: raw.Text}, nil
	}
	return core.Directive{}, badMode(int(mode))
}
