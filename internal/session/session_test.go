package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/indextts-gateway/internal/artifacts"
	"github.com/lexiqai/indextts-gateway/internal/audio"
	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/engine"
	"github.com/lexiqai/indextts-gateway/internal/orchestrator"
	"github.com/lexiqai/indextts-gateway/internal/voices"
)

type blockingSynth struct {
	release chan struct{}
	err     error
	calls   chan orchestrator.Input
}

func (b *blockingSynth) Synthesize(ctx context.Context, in orchestrator.Input) (core.Artifact, error) {
	b.calls <- in
	select {
	case <-b.release:
	case <-ctx.Done():
		return core.Artifact{}, ctx.Err()
	}
	return core.Artifact{}, b.err
}

type env struct {
	voicesDir string
	examples  []voices.Example
	registry  *voices.Registry
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	voicesDir := filepath.Join(root, "voices")
	exDir := filepath.Join(root, "examples")
	for _, dir := range []string{filepath.Join(voicesDir, voices.EmotionDir), exDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	for _, name := range []string{"voices/alice.wav", "voices/emotion/sad.wav", "examples/voice_01.wav", "examples/emo_sad.wav"} {
		require.NoError(t, audio.WriteSilence(filepath.Join(root, name), 8000, 50*time.Millisecond))
	}
	casesFile := filepath.Join(exDir, "cases.jsonl")
	cases := `{"prompt_audio":"voice_01.wav","text":"Hello there","emo_mode":0}
{"prompt_audio":"voice_01.wav","text":"So sad","emo_mode":1,"emo_audio":"emo_sad.wav","emo_weight":0.65}
`
	require.NoError(t, os.WriteFile(casesFile, []byte(cases), 0o644))
	examples, err := voices.LoadExamples(casesFile)
	require.NoError(t, err)

	return &env{voicesDir: voicesDir, examples: examples, registry: voices.New(voicesDir)}
}

func (e *env) dial(t *testing.T, synth Synthesizer) *websocket.Conn {
	t.Helper()
	h := New(synth, e.registry, e.examples, "http://tts.local/", zerolog.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mockOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	o := orchestrator.New(engine.NewMock(8000), artifacts.NewAllocator(t.TempDir()), nil, orchestrator.Options{Logger: zerolog.Nop()})
	t.Cleanup(func() { o.Close() })
	return o
}

// next reads messages until one of the wanted type arrives
func next(t *testing.T, conn *websocket.Conn, want string) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestSession_Voices(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, mockOrchestrator(t))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "voices"}))
	msg := next(t, conn, "voices")

	require.Len(t, msg.Speakers, 1)
	assert.Equal(t, "alice", msg.Speakers[0].Name)
	require.Len(t, msg.Emotions, 1)
	assert.Equal(t, "sad", msg.Emotions[0].Name)
	assert.Len(t, msg.Modes, 4)
}

func TestSession_Examples(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, mockOrchestrator(t))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "examples"}))
	msg := next(t, conn, "examples")

	require.Len(t, msg.Examples, 2)
	assert.Equal(t, "voice_01.wav", msg.Examples[0].PromptAudio)
	assert.Equal(t, "emo_sad.wav", msg.Examples[1].EmotionAudio)
	assert.Equal(t, 0.65, msg.Examples[1].Weight)
	assert.NotContains(t, msg.Examples[1].EmotionAudio, string(filepath.Separator), "server paths stay private")
}

func TestSession_SynthesizeStreamsProgressAndResult(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, mockOrchestrator(t))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "synthesize",
		"speaker": "alice",
		"text":    "hello from the session",
		"mode":    "Use emotion reference audio",
		"emotion": "sad",
	}))

	progress := next(t, conn, "progress")
	require.NotNil(t, progress.Value)
	assert.NotEmpty(t, progress.Desc)

	result := next(t, conn, "result")
	assert.True(t, strings.HasPrefix(result.ArtifactID, "spk_"))
	assert.Equal(t, "http://tts.local/artifacts/"+result.ArtifactID+".wav", result.URL)
	assert.FileExists(t, result.Path)
}

func TestSession_SynthesizeFromExampleAudio(t *testing.T) {
	e := newEnv(t)
	synth := &blockingSynth{release: make(chan struct{}), calls: make(chan orchestrator.Input, 1)}
	close(synth.release)
	conn := e.dial(t, synth)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":         "synthesize",
		"prompt_audio": "voice_01.wav",
		"emo_audio":    "emo_sad.wav",
		"emo_mode":     1,
		"emo_weight":   0.65,
		"text":         "So sad",
		"top_k":        0,
	}))

	in := <-synth.calls
	assert.Equal(t, e.examples[0].PromptAudio, in.SpeakerReference)
	assert.Equal(t, core.ModeEmotionAudio, in.Mode)
	assert.Equal(t, e.examples[1].EmotionAudio, in.Emotion.Reference)
	require.NotNil(t, in.Emotion.Weight)
	assert.Equal(t, 0.65, *in.Emotion.Weight)
	assert.Contains(t, in.Params, "top_k")
}

func TestSession_ValidationIsAWarning(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, mockOrchestrator(t))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "synthesize",
		"speaker": "alice",
		"text":    "too much feeling",
		"mode":    2,
		"vec1":    0.9,
		"vec2":    0.9,
	}))
	msg := next(t, conn, "warning")
	assert.Equal(t, "emo_vec", msg.Field)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "synthesize", "speaker": "nobody", "text": "hi"}))
	msg = next(t, conn, "warning")
	assert.Equal(t, "speaker", msg.Field)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "synthesize", "prompt_audio": "/etc/passwd", "text": "hi"}))
	msg = next(t, conn, "warning")
	assert.Equal(t, "speaker", msg.Field)

	// The socket stays usable after warnings.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "voices"}))
	next(t, conn, "voices")
}

func TestSession_UnknownMessage(t *testing.T) {
	e := newEnv(t)
	conn := e.dial(t, mockOrchestrator(t))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	next(t, conn, "warning")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	msg := next(t, conn, "warning")
	assert.Contains(t, msg.Message, "dance")
}

func TestSession_OneSynthesisAtATime(t *testing.T) {
	e := newEnv(t)
	synth := &blockingSynth{release: make(chan struct{}), calls: make(chan orchestrator.Input, 2)}
	conn := e.dial(t, synth)

	request := map[string]any{"type": "synthesize", "speaker": "alice", "text": "first"}
	require.NoError(t, conn.WriteJSON(request))
	<-synth.calls

	require.NoError(t, conn.WriteJSON(request))
	msg := next(t, conn, "warning")
	assert.Contains(t, msg.Message, "already running")

	close(synth.release)
	next(t, conn, "result")
}

func TestSession_EngineFailureIsAnError(t *testing.T) {
	e := newEnv(t)
	synth := &blockingSynth{
		release: make(chan struct{}),
		calls:   make(chan orchestrator.Input, 1),
		err:     core.SynthesisEngineError(errors.New("cuda out of memory")),
	}
	close(synth.release)
	conn := e.dial(t, synth)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "synthesize", "speaker": "alice", "text": "hi"}))
	msg := next(t, conn, "error")
	assert.Contains(t, msg.Message, "cuda out of memory")
}

func TestSession_WriteFailureEndsSession(t *testing.T) {
	e := newEnv(t)
	h := New(mockOrchestrator(t), e.registry, e.examples, "", zerolog.Nop())

	ended := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := newSession(h, conn)
		// Writes now fail while the client keeps the socket open.
		if tcp, ok := conn.UnderlyingConn().(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		s.send(Message{Type: "warning", Message: "hello"})
		s.run()
		close(ended)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("session kept reading after its writer failed")
	}
}
