// Package httpapi is the synchronous HTTP front end: one POST returns the
// finished WAV.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/indextts-gateway/internal/artifacts"
	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/emotion"
	"github.com/lexiqai/indextts-gateway/internal/observability"
	"github.com/lexiqai/indextts-gateway/internal/orchestrator"
	"github.com/lexiqai/indextts-gateway/internal/voices"
)

const (
	frontendName = "http"
	maxBodyBytes = 1 << 20
)

// Synthesizer is the orchestrator as seen by the adapters
type Synthesizer interface {
	Synthesize(ctx context.Context, in orchestrator.Input) (core.Artifact, error)
}

// SynthesizeRequest is the body of POST /
type SynthesizeRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
	Emotion string `json:"emotion,omitempty"`
	// Streaming is accepted for client compatibility; responses are always
	// the whole file.
	Streaming *float64 `json:"streaming,omitempty"`
}

// Speaker is one entry of GET /speakers
type Speaker struct {
	Name    string `json:"name"`
	VoiceID string `json:"voice_id"`
}

// Handler serves the synchronous API
type Handler struct {
	synth         Synthesizer
	speakers      *voices.Registry
	emotions      *voices.Registry
	alloc         *artifacts.Allocator
	emotionWeight float64
	log           zerolog.Logger
}

// New creates the handler. emotionWeight applies to every named emotion.
func New(synth Synthesizer, registry *voices.Registry, alloc *artifacts.Allocator, emotionWeight float64, log zerolog.Logger) *Handler {
	return &Handler{
		synth:         synth,
		speakers:      registry,
		emotions:      registry.Emotions(),
		alloc:         alloc,
		emotionWeight: emotionWeight,
		log:           log.With().Str("component", "httpapi").Logger(),
	}
}

// Register mounts the routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /{$}", h.HandleSynthesize)
	mux.HandleFunc("GET /speakers", h.HandleSpeakers)
	mux.HandleFunc("GET /artifacts/{file}", h.HandleArtifact)
}

// HandleSynthesize runs one synthesis and returns the WAV bytes
func (h *Handler) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = observability.NewRequestID()
	}
	log := h.log.With().Str("request_id", requestID).Logger()
	w.Header().Set("X-Request-ID", requestID)

	// speed is accepted for client compatibility but has no effect.
	if raw := r.URL.Query().Get("speed"); raw != "" {
		w.Header().Set("X-Speed-Applied", "false")
		if speed, err := strconv.ParseFloat(raw, 64); err == nil {
			log.Info().Float64("speed", speed).Msg("Speed requested, not applied")
		} else {
			log.Debug().Str("speed", raw).Msg("Ignoring non-numeric speed")
		}
	}

	var body SynthesizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.Text = strings.TrimSpace(body.Text)
	body.Speaker = strings.TrimSpace(body.Speaker)
	if body.Text == "" || body.Speaker == "" {
		writeError(w, http.StatusBadRequest, "text and speaker are required")
		return
	}

	speaker, err := h.speakers.Resolve(body.Speaker)
	if err != nil {
		h.fail(w, log, err)
		return
	}

	in := orchestrator.Input{
		Frontend:         frontendName,
		RequestID:        requestID,
		SpeakerReference: speaker,
		Text:             body.Text,
		Mode:             core.ModeMatchTimbre,
	}
	if name := voices.CleanName(body.Emotion); name != "" {
		ref, err := h.emotions.Resolve(name)
		if err != nil {
			h.fail(w, log, err)
			return
		}
		weight := h.emotionWeight
		in.Mode = core.ModeEmotionAudio
		in.Emotion = emotion.RawFields{Reference: ref, Weight: &weight}
	}

	log.Info().
		Str("speaker", body.Speaker).
		Str("emotion", body.Emotion).
		Int("text_len", len(body.Text)).
		Msg("Synthesis requested")

	art, err := h.synth.Synthesize(r.Context(), in)
	if err != nil {
		h.fail(w, log, err)
		return
	}

	f, err := os.Open(art.Path)
	if err != nil {
		h.fail(w, log, core.SynthesisEngineError(err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Artifact-ID", art.ID)
	http.ServeContent(w, r, art.ID+".wav", art.CreatedAt, f)
}

// HandleSpeakers lists the registered speakers
func (h *Handler) HandleSpeakers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.speakers.List()
	if err != nil {
		h.fail(w, h.log, err)
		return
	}
	out := make([]Speaker, 0, len(entries))
	for _, e := range entries {
		out = append(out, Speaker{Name: e.Name, VoiceID: e.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleArtifact serves a previously generated WAV by ID
func (h *Handler) HandleArtifact(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	id, ok := strings.CutSuffix(file, ".wav")
	if !ok {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	path, err := h.alloc.PathFor(id)
	if err != nil {
		h.fail(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func (h *Handler) fail(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := StatusFor(err)
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
		observability.RecordError(core.KindOf(err).String(), frontendName)
	}
	event.Err(err).Int("status", status).Msg("Request failed")
	writeError(w, status, err.Error())
}

// StatusFor maps pipeline errors to HTTP status codes
func StatusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindInvalidInput, core.KindValidation:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindResourceUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
