package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

// writeScript creates a shell engine that saves its request next to itself
// and prints body on stdout.
func writeScript(t *testing.T, body string) (command, dir string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir = t.TempDir()
	script := filepath.Join(dir, "engine.sh")
	content := "#!/bin/sh\ncat > \"$(dirname \"$0\")/request.json\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return "sh '" + script + "'", dir
}

func TestExec_StreamsProgressAndSendsPayload(t *testing.T) {
	command, dir := writeScript(t, `echo '{"progress":0.25,"desc":"text processing"}'
echo ''
echo '{"progress":1.5,"desc":"vocoder"}'
echo '{"done":true}'`)

	e, err := NewExec(command)
	require.NoError(t, err)
	require.NoError(t, e.Health(context.Background()))

	var steps []core.Progress
	req := core.SynthesisRequest{
		ID:               "spk_1",
		Text:             "hello there",
		SpeakerReference: "voices/alice.wav",
		Emotion:          core.Directive{Mode: core.ModeEmotionText, Text: "excited"},
		OutputPath:       "outputs/spk_1.wav",
	}
	err = e.Synthesize(context.Background(), req, func(p core.Progress) { steps = append(steps, p) })
	require.NoError(t, err)

	require.Len(t, steps, 2)
	assert.Equal(t, core.Progress{Value: 0.25, Desc: "text processing"}, steps[0])
	assert.Equal(t, 1.0, steps[1].Value, "progress is clamped to [0,1]")

	data, err := os.ReadFile(filepath.Join(dir, "request.json"))
	require.NoError(t, err)
	var sent Payload
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, "hello there", sent.Text)
	assert.Equal(t, "voices/alice.wav", sent.SpeakerPrompt)
	assert.Equal(t, "emotion_text", sent.EmoMode)
	assert.True(t, sent.UseEmoText)
	assert.Equal(t, "excited", sent.EmoText)
}

func TestExec_Failures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"error frame", `echo '{"done":true,"error":"cuda out of memory"}'`, "cuda out of memory"},
		{"no completion", `echo '{"progress":0.5}'`, errNoCompletion.Error()},
		{"non-zero exit", `echo 'model crashed' >&2; exit 3`, "model crashed"},
		{"garbage output", `echo 'not json'`, "invalid engine frame"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			command, _ := writeScript(t, tt.body)
			e, err := NewExec(command)
			require.NoError(t, err)

			err = e.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi"}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExec_OversizedFrameDoesNotHang(t *testing.T) {
	if _, err := exec.LookPath("head"); err != nil {
		t.Skip("head not available")
	}
	// A frame larger than the scanner limit, then more output than a pipe
	// buffer holds.
	command, _ := writeScript(t, `head -c 2097152 /dev/zero | tr '\000' a
echo
head -c 8388608 /dev/zero | tr '\000' b`)
	e, err := NewExec(command)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		errc <- e.Synthesize(context.Background(), core.SynthesisRequest{Text: "hi"}, nil)
	}()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
	case <-time.After(10 * time.Second):
		t.Fatal("Synthesize did not return after an oversized frame")
	}
}

func TestNewExec_RejectsBadCommands(t *testing.T) {
	_, err := NewExec("")
	assert.Error(t, err)

	_, err = NewExec(`python "unterminated`)
	assert.Error(t, err)
}

func TestExec_HealthMissingBinary(t *testing.T) {
	e, err := NewExec("definitely-not-an-indextts-binary --serve")
	require.NoError(t, err)
	assert.Error(t, e.Health(context.Background()))
}
