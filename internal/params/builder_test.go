package params

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

func TestBuild_TopKNormalization(t *testing.T) {
	for _, k := range []any{0, -5, "0", float64(-1)} {
		b, err := Build(RawParams{FieldTopK: k})
		require.NoError(t, err)
		assert.Nil(t, b.TopK, "top_k=%v should disable filtering", k)
	}

	b, err := Build(RawParams{FieldTopK: 3})
	require.NoError(t, err)
	require.NotNil(t, b.TopK)
	assert.Equal(t, 3, *b.TopK)
}

func TestBuild_Defaults(t *testing.T) {
	b, err := Build(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), b)
}

func TestBuild_CoercesLooseTypes(t *testing.T) {
	b, err := Build(RawParams{
		FieldDoSample:          "false",
		FieldTopP:              json.Number("0.95"),
		FieldTemperature:       "1.1",
		FieldLengthPenalty:     -0.5,
		FieldNumBeams:          float64(5),
		FieldRepetitionPenalty: 8,
		FieldMaxMelTokens:      "1815",
	})
	require.NoError(t, err)

	assert.False(t, b.DoSample)
	assert.InDelta(t, 0.95, b.TopP, 1e-9)
	assert.InDelta(t, 1.1, b.Temperature, 1e-9)
	assert.InDelta(t, -0.5, b.LengthPenalty, 1e-9)
	assert.Equal(t, 5, b.NumBeams)
	assert.InDelta(t, 8.0, b.RepetitionPenalty, 1e-9)
	assert.Equal(t, 1815, b.MaxMelTokens)
}

func TestBuild_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		raw   RawParams
		field string
	}{
		{"non-numeric temperature", RawParams{FieldTemperature: "hot"}, FieldTemperature},
		{"infinite top_p", RawParams{FieldTopP: math.Inf(1)}, FieldTopP},
		{"NaN repetition penalty", RawParams{FieldRepetitionPenalty: math.NaN()}, FieldRepetitionPenalty},
		{"non-finite string", RawParams{FieldLengthPenalty: "NaN"}, FieldLengthPenalty},
		{"bool for number", RawParams{FieldMaxMelTokens: true}, FieldMaxMelTokens},
		{"zero beams", RawParams{FieldNumBeams: 0}, FieldNumBeams},
		{"bad do_sample", RawParams{FieldDoSample: "maybe"}, FieldDoSample},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.raw)
			require.ErrorIs(t, err, core.ErrValidation)

			var e *core.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, core.ConstraintBadParameter, e.Constraint)
			assert.Equal(t, tt.field, e.Field)
		})
	}
}

func TestSentenceTokens(t *testing.T) {
	n, err := SentenceTokens(nil, DefaultSentenceTokens)
	require.NoError(t, err)
	assert.Equal(t, DefaultSentenceTokens, n)

	n, err = SentenceTokens(RawParams{FieldSentenceTokens: "80"}, DefaultSentenceTokens)
	require.NoError(t, err)
	assert.Equal(t, 80, n)

	_, err = SentenceTokens(RawParams{FieldSentenceTokens: 0}, DefaultSentenceTokens)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestBool(t *testing.T) {
	v, err := Bool("x", 1)
	require.NoError(t, err)
	assert.True(t, v)

	v, err = Bool("x", float64(0))
	require.NoError(t, err)
	assert.False(t, v)
}
