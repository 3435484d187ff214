package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/indextts-gateway/internal/httpapi"
)

func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /speakers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]httpapi.Speaker{{Name: "alice", VoiceID: "alice"}, {Name: "bob", VoiceID: "bob"}})
	})
	mux.HandleFunc("POST /{$}", func(w http.ResponseWriter, r *http.Request) {
		var body httpapi.SynthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Speaker != "alice" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"speaker not found"}`))
			return
		}
		if r.URL.Query().Get("speed") != "" {
			w.Header().Set("X-Speed-Applied", "false")
		}
		w.Header().Set("X-Artifact-ID", "abc")
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("RIFFdata"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		speakOutput, speakEmotion, speakSpeaker, speakSpeed = "", "", "", 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSpeakers(t *testing.T) {
	srv := fakeGateway(t)

	out, err := execute(t, "speakers", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")
}

func TestSpeak_WritesWAV(t *testing.T) {
	srv := fakeGateway(t)
	path := filepath.Join(t.TempDir(), "out.wav")

	out, err := execute(t, "speak", "hello", "world", "--server", srv.URL, "--speaker", "alice", "-o", path, "--speed", "1.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	assert.Contains(t, out, "speed was not applied")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "RIFFdata", string(data))
}

func TestSpeak_GatewayError(t *testing.T) {
	srv := fakeGateway(t)

	_, err := execute(t, "speak", "hello", "--server", srv.URL, "--speaker", "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speaker not found")
	assert.Contains(t, err.Error(), "404")
}

func TestArtifacts_EmptyLedger(t *testing.T) {
	out, err := execute(t, "artifacts", "--ledger", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "STATUS")
}
