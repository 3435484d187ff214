// Package session is the interactive front end: a WebSocket over which a
// client picks voices, submits synthesis jobs and watches their progress.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/emotion"
	"github.com/lexiqai/indextts-gateway/internal/frontend"
	"github.com/lexiqai/indextts-gateway/internal/observability"
	"github.com/lexiqai/indextts-gateway/internal/orchestrator"
	"github.com/lexiqai/indextts-gateway/internal/voices"
)

const (
	frontendName = "session"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outboxSize     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checks belong to the reverse proxy in front of the service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Synthesizer is the orchestrator as seen by the session
type Synthesizer interface {
	Synthesize(ctx context.Context, in orchestrator.Input) (core.Artifact, error)
}

// Message is the envelope of every server message. Only the fields of the
// given Type are set.
type Message struct {
	Type       string          `json:"type"`
	Value      *float64        `json:"value,omitempty"`
	Desc       string          `json:"desc,omitempty"`
	Message    string          `json:"message,omitempty"`
	Field      string          `json:"field,omitempty"`
	ArtifactID string          `json:"artifact_id,omitempty"`
	URL        string          `json:"url,omitempty"`
	Path       string          `json:"path,omitempty"`
	Speakers   []voices.Entry  `json:"speakers,omitempty"`
	Emotions   []voices.Entry  `json:"emotions,omitempty"`
	Modes      []string        `json:"modes,omitempty"`
	Examples   []ExampleOption `json:"examples,omitempty"`
}

// ExampleOption is an example case as offered to the client. Audio is
// referenced by the names the client sends back in prompt_audio / emo_audio.
type ExampleOption struct {
	Index        int        `json:"index"`
	PromptAudio  string     `json:"prompt_audio"`
	EmotionMode  int        `json:"emo_mode"`
	Text         string     `json:"text"`
	EmotionAudio string     `json:"emo_audio,omitempty"`
	Weight       float64    `json:"emo_weight"`
	EmotionText  string     `json:"emo_text,omitempty"`
	Vector       [8]float64 `json:"emo_vec"`
}

// Handler upgrades connections and runs one session per socket
type Handler struct {
	synth         Synthesizer
	speakers      *voices.Registry
	emotions      *voices.Registry
	examples      []voices.Example
	publicBaseURL string
	log           zerolog.Logger
}

// New creates the session handler. examples may be empty.
func New(synth Synthesizer, registry *voices.Registry, examples []voices.Example, publicBaseURL string, log zerolog.Logger) *Handler {
	return &Handler{
		synth:         synth,
		speakers:      registry,
		emotions:      registry.Emotions(),
		examples:      examples,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		log:           log.With().Str("component", "session").Logger(),
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	s := newSession(h, conn)
	observability.SessionOpened()
	defer observability.SessionClosed()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("Session opened")
	s.run()
	s.log.Info().Msg("Session closed")
}

type session struct {
	h    *Handler
	conn *websocket.Conn
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	outbox chan Message
	busy   atomic.Bool
	jobs   sync.WaitGroup
}

func newSession(h *Handler, conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := observability.NewRequestID()
	return &session{
		h:      h,
		conn:   conn,
		log:    h.log.With().Str("session_id", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
		outbox: make(chan Message, outboxSize),
	}
}

// run blocks until the client goes away. Closing the socket abandons the
// wait for a running job; the engine call itself finishes on its own.
func (s *session) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop()
	s.cancel()
	s.jobs.Wait()
	<-writerDone
	s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		fields, err := frontend.Decode(data)
		if err != nil {
			s.send(Message{Type: "warning", Message: "messages must be JSON objects"})
			continue
		}

		switch fields.Type() {
		case "synthesize":
			s.startSynthesis(fields)
		case "voices":
			s.sendVoices()
		case "examples":
			s.send(Message{Type: "examples", Examples: s.h.exampleOptions()})
		default:
			s.send(Message{Type: "warning", Message: "unknown message type " + fields.Type()})
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write failed")
				s.abort()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.abort()
				return
			}
		case <-s.ctx.Done():
			s.drainOutbox()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// abort ends the session after a failed write. Closing the connection
// unblocks readLoop.
func (s *session) abort() {
	s.cancel()
	s.conn.Close()
}

// drainOutbox flushes queued messages on a best-effort basis
func (s *session) drainOutbox() {
	for {
		select {
		case msg := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// send queues msg unless the session is gone
func (s *session) send(msg Message) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	}
}

// sendProgress drops the update when the client is not keeping up
func (s *session) sendProgress(p core.Progress) {
	select {
	case s.outbox <- Message{Type: "progress", Value: &p.Value, Desc: p.Desc}:
	default:
	}
}

func (s *session) sendVoices() {
	speakers, err := s.h.speakers.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list speakers")
		s.send(Message{Type: "error", Message: "failed to list voices"})
		return
	}
	emotions, err := s.h.emotions.List()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list emotions")
		s.send(Message{Type: "error", Message: "failed to list voices"})
		return
	}
	s.send(Message{Type: "voices", Speakers: speakers, Emotions: emotions, Modes: emotion.Labels()})
}

func (s *session) startSynthesis(fields frontend.Fields) {
	if !s.busy.CompareAndSwap(false, true) {
		s.send(Message{Type: "warning", Message: "a synthesis is already running in this session"})
		return
	}

	in, err := s.h.input(fields)
	if err != nil {
		s.busy.Store(false)
		s.send(warning(err))
		return
	}
	in.Progress = s.sendProgress

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer s.busy.Store(false)
		s.synthesize(in)
	}()
}

func (s *session) synthesize(in orchestrator.Input) {
	log := s.log.With().Str("request_id", in.RequestID).Logger()
	art, err := s.h.synth.Synthesize(s.ctx, in)
	switch {
	case err == nil:
		log.Info().Str("artifact_id", art.ID).Msg("Session synthesis completed")
		s.send(Message{
			Type:       "result",
			ArtifactID: art.ID,
			URL:        s.h.publicBaseURL + "/artifacts/" + art.ID + ".wav",
			Path:       art.Path,
		})
	case errors.Is(err, context.Canceled):
		log.Info().Msg("Session went away before synthesis finished")
	case isUserError(err):
		s.send(warning(err))
	default:
		log.Error().Err(err).Msg("Session synthesis failed")
		s.send(Message{Type: "error", Message: err.Error()})
	}
}

// input resolves a synthesize message into an orchestrator input. Speakers
// and emotions are looked up by registry name or by the audio name of an
// example case; raw filesystem paths are never accepted.
func (h *Handler) input(f frontend.Fields) (orchestrator.Input, error) {
	in := orchestrator.Input{
		Frontend:      frontendName,
		RequestID:     observability.NewRequestID(),
		Text:          f.String(frontend.FieldText),
		RandomizeSeed: f.Bool(frontend.FieldRandom),
		Params:        f.Params(),
	}

	var err error
	if in.SpeakerReference, err = h.resolveAudio(h.speakers, f.String(frontend.FieldSpeaker), f.String(frontend.FieldPrompt), "speaker"); err != nil {
		return orchestrator.Input{}, err
	}
	if in.Mode, err = f.Mode(); err != nil {
		return orchestrator.Input{}, err
	}
	if in.Emotion, err = f.Emotion(); err != nil {
		return orchestrator.Input{}, err
	}
	if in.Mode == core.ModeEmotionAudio {
		name := voices.CleanName(f.String(frontend.FieldEmotion))
		if in.Emotion.Reference, err = h.resolveAudio(h.emotions, name, f.String(frontend.FieldEmoAudio), "emo_audio"); err != nil {
			return orchestrator.Input{}, err
		}
	}
	return in, nil
}

func (h *Handler) resolveAudio(reg *voices.Registry, name, exampleAudio, field string) (string, error) {
	if name != "" {
		return reg.Resolve(name)
	}
	if exampleAudio != "" {
		for _, ex := range h.examples {
			if exampleAudioName(ex.PromptAudio) == exampleAudio {
				return ex.PromptAudio, nil
			}
			if ex.EmotionAudio != "" && exampleAudioName(ex.EmotionAudio) == exampleAudio {
				return ex.EmotionAudio, nil
			}
		}
		return "", core.NotFound(field, exampleAudio)
	}
	// Left empty: the orchestrator reports the missing reference.
	return "", nil
}

func (h *Handler) exampleOptions() []ExampleOption {
	out := make([]ExampleOption, 0, len(h.examples))
	for i, ex := range h.examples {
		opt := ExampleOption{
			Index:       i,
			PromptAudio: exampleAudioName(ex.PromptAudio),
			EmotionMode: ex.EmotionMode,
			Text:        ex.Text,
			Weight:      ex.Weight,
			EmotionText: ex.EmotionText,
			Vector:      ex.Vector,
		}
		if ex.EmotionAudio != "" {
			opt.EmotionAudio = exampleAudioName(ex.EmotionAudio)
		}
		out = append(out, opt)
	}
	return out
}

func exampleAudioName(path string) string {
	i := strings.LastIndexAny(path, `/\`)
	return path[i+1:]
}

func isUserError(err error) bool {
	switch core.KindOf(err) {
	case core.KindInvalidInput, core.KindValidation, core.KindNotFound, core.KindResourceUnavailable:
		return true
	}
	return false
}

func warning(err error) Message {
	msg := Message{Type: "warning", Message: err.Error()}
	var e *core.Error
	if errors.As(err, &e) {
		msg.Field = e.Field
	}
	return msg
}
