package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

func TestDecode_RejectsNonObjects(t *testing.T) {
	for _, body := range []string{"", "[1,2]", "null", "{bad"} {
		_, err := Decode([]byte(body))
		assert.ErrorIs(t, err, core.ErrInvalidInput, "body %q", body)
	}
}

func TestFields_EmotionAndParams(t *testing.T) {
	f, err := Decode([]byte(`{
		"type": "synthesize",
		"text": "  hello  ",
		"mode": "Use emotion vectors",
		"vec1": 0.4,
		"emo_vec_3": "0.2",
		"emo_weight": 0.7,
		"emo_text": "calm",
		"top_k": 0,
		"num_beams": 2,
		"unrelated": true,
		"emo_random": "true"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "synthesize", f.Type())
	assert.Equal(t, "hello", f.String(FieldText))
	assert.True(t, f.Bool(FieldRandom))

	mode, err := f.Mode()
	require.NoError(t, err)
	assert.Equal(t, core.ModeEmotionVector, mode)

	raw, err := f.Emotion()
	require.NoError(t, err)
	assert.Equal(t, 0.4, raw.Vector[0])
	assert.Equal(t, 0.2, raw.Vector[2])
	require.NotNil(t, raw.Weight)
	assert.Equal(t, 0.7, *raw.Weight)
	assert.Equal(t, "calm", raw.Text)

	p := f.Params()
	assert.Len(t, p, 2)
	assert.Contains(t, p, "top_k")
	assert.NotContains(t, p, "unrelated")
}

func TestFields_ModeDefaultsAndErrors(t *testing.T) {
	f, err := Decode([]byte(`{"text":"hi"}`))
	require.NoError(t, err)
	mode, err := f.Mode()
	require.NoError(t, err)
	assert.Equal(t, core.ModeMatchTimbre, mode)

	f, err = Decode([]byte(`{"emo_mode": 9}`))
	require.NoError(t, err)
	_, err = f.Mode()
	assert.ErrorIs(t, err, core.ErrValidation)

	f, err = Decode([]byte(`{"vec2": "lots"}`))
	require.NoError(t, err)
	_, err = f.Emotion()
	assert.ErrorIs(t, err, core.ErrValidation)
}
