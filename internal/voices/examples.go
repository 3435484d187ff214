package voices

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultPromptAudio = "sample_prompt.wav"

// Example is one preset shown by the interactive session. Paths are resolved
// relative to the examples file.
type Example struct {
	PromptAudio  string     `json:"prompt_audio"`
	EmotionMode  int        `json:"emo_mode"`
	Text         string     `json:"text"`
	EmotionAudio string     `json:"emo_audio,omitempty"`
	Weight       float64    `json:"emo_weight"`
	EmotionText  string     `json:"emo_text"`
	Vector       [8]float64 `json:"emo_vec"`
}

type exampleLine struct {
	PromptAudio string   `json:"prompt_audio"`
	EmoMode     int      `json:"emo_mode"`
	Text        string   `json:"text"`
	EmoAudio    string   `json:"emo_audio"`
	EmoWeight   *float64 `json:"emo_weight"`
	EmoText     string   `json:"emo_text"`
	EmoVec1     float64  `json:"emo_vec_1"`
	EmoVec2     float64  `json:"emo_vec_2"`
	EmoVec3     float64  `json:"emo_vec_3"`
	EmoVec4     float64  `json:"emo_vec_4"`
	EmoVec5     float64  `json:"emo_vec_5"`
	EmoVec6     float64  `json:"emo_vec_6"`
	EmoVec7     float64  `json:"emo_vec_7"`
	EmoVec8     float64  `json:"emo_vec_8"`
}

// LoadExamples reads a JSON-lines example file. A missing file yields no
// examples; blank lines are skipped.
func LoadExamples(path string) ([]Example, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open examples file: %w", err)
	}
	defer f.Close()

	base := filepath.Dir(path)
	var examples []Example
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw exampleLine
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("examples line %d: %w", lineNo, err)
		}

		ex := Example{
			PromptAudio: filepath.Join(base, defaultPromptAudio),
			EmotionMode: raw.EmoMode,
			Text:        raw.Text,
			Weight:      1,
			EmotionText: raw.EmoText,
			Vector: [8]float64{
				raw.EmoVec1, raw.EmoVec2, raw.EmoVec3, raw.EmoVec4,
				raw.EmoVec5, raw.EmoVec6, raw.EmoVec7, raw.EmoVec8,
			},
		}
		if raw.PromptAudio != "" {
			ex.PromptAudio = filepath.Join(base, raw.PromptAudio)
		}
		if raw.EmoAudio != "" {
			ex.EmotionAudio = filepath.Join(base, raw.EmoAudio)
		}
		if raw.EmoWeight != nil {
			ex.Weight = *raw.EmoWeight
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read examples file: %w", err)
	}
	return examples, nil
}
