package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/frontend"
	"github.com/lexiqai/indextts-gateway/internal/observability"
	"github.com/lexiqai/indextts-gateway/internal/orchestrator"
	"github.com/lexiqai/indextts-gateway/internal/voices"
)

const (
	frontendName = "bus"
	queueGroup   = "indextts"
)

// Synthesizer is the orchestrator as seen by the bus
type Synthesizer interface {
	Synthesize(ctx context.Context, in orchestrator.Input) (core.Artifact, error)
}

// Reply is published to the request's reply subject
type Reply struct {
	ArtifactID string `json:"artifact_id,omitempty"`
	Path       string `json:"path,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// Worker serves synthesis requests arriving on a subject. Messages are
// handled one at a time in delivery order.
type Worker struct {
	conn          *nats.Conn
	subject       string
	synth         Synthesizer
	speakers      *voices.Registry
	emotions      *voices.Registry
	emotionWeight float64
	store         nats.ObjectStore
	log           zerolog.Logger
}

// NewWorker creates a worker. store may be nil to skip uploads.
func NewWorker(conn *nats.Conn, subject string, synth Synthesizer, registry *voices.Registry, emotionWeight float64, store nats.ObjectStore, log zerolog.Logger) *Worker {
	return &Worker{
		conn:          conn,
		subject:       subject,
		synth:         synth,
		speakers:      registry,
		emotions:      registry.Emotions(),
		emotionWeight: emotionWeight,
		store:         store,
		log:           log.With().Str("component", "bus").Str("subject", subject).Logger(),
	}
}

// Start subscribes and returns once the server has registered the
// subscription
func (w *Worker) Start(ctx context.Context) (*nats.Subscription, error) {
	sub, err := w.conn.QueueSubscribe(w.subject, queueGroup, func(msg *nats.Msg) {
		w.handleMessage(ctx, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}
	if err := w.conn.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to flush subscription: %w", err)
	}
	w.log.Info().Msg("Listening for synthesis requests")
	return sub, nil
}

// Run serves until ctx is done, then drains the subscription
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *nats.Msg) {
	reply := w.process(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to marshal reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		w.log.Error().Err(err).Msg("Failed to publish reply")
	}
}

func (w *Worker) process(ctx context.Context, data []byte) Reply {
	in, err := w.input(data)
	if err != nil {
		w.log.Info().Err(err).Msg("Rejected bus request")
		return failure(err)
	}
	log := w.log.With().Str("request_id", in.RequestID).Logger()

	art, err := w.synth.Synthesize(ctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("Bus synthesis failed")
		return failure(err)
	}

	reply := Reply{ArtifactID: art.ID, Path: art.Path}
	if w.store != nil {
		key, err := w.upload(art)
		if err != nil {
			log.Error().Err(err).Msg("Failed to upload artifact")
			observability.RecordError("object_store", frontendName)
			reply.Error = err.Error()
			return reply
		}
		reply.ObjectKey = key
	}
	log.Info().Str("artifact_id", art.ID).Msg("Bus synthesis completed")
	return reply
}

// input decodes a request. It accepts the HTTP body fields plus the
// optional emo_* fields; a named emotion without a mode selects emotion
// reference audio at the configured weight.
func (w *Worker) input(data []byte) (orchestrator.Input, error) {
	f, err := frontend.Decode(data)
	if err != nil {
		return orchestrator.Input{}, err
	}

	in := orchestrator.Input{
		Frontend:      frontendName,
		RequestID:     f.String("request_id"),
		Text:          f.String(frontend.FieldText),
		RandomizeSeed: f.Bool(frontend.FieldRandom),
		Params:        f.Params(),
	}
	if in.RequestID == "" {
		in.RequestID = observability.NewRequestID()
	}
	if in.Text == "" {
		return orchestrator.Input{}, core.InvalidInput("text", "text is required")
	}
	speaker := f.String(frontend.FieldSpeaker)
	if speaker == "" {
		return orchestrator.Input{}, core.InvalidInput("speaker", "speaker is required")
	}
	if in.SpeakerReference, err = w.speakers.Resolve(speaker); err != nil {
		return orchestrator.Input{}, err
	}

	if in.Emotion, err = f.Emotion(); err != nil {
		return orchestrator.Input{}, err
	}
	name := voices.CleanName(f.String(frontend.FieldEmotion))
	if _, explicit := f[frontend.FieldMode]; explicit {
		if in.Mode, err = f.Mode(); err != nil {
			return orchestrator.Input{}, err
		}
	} else if name != "" {
		in.Mode = core.ModeEmotionAudio
		if in.Emotion.Weight == nil {
			weight := w.emotionWeight
			in.Emotion.Weight = &weight
		}
	}
	if in.Mode == core.ModeEmotionAudio && name != "" {
		if in.Emotion.Reference, err = w.emotions.Resolve(name); err != nil {
			return orchestrator.Input{}, err
		}
	}
	return in, nil
}

func (w *Worker) upload(art core.Artifact) (string, error) {
	f, err := os.Open(art.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := art.ID + ".wav"
	_, err = w.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "synthesized speech",
		Headers:     nats.Header{"Content-Type": []string{"audio/wav"}},
	}, f)
	if err != nil {
		return "", fmt.Errorf("failed to put object '%s': %w", key, err)
	}
	return key, nil
}

func failure(err error) Reply {
	r := Reply{Error: err.Error()}
	if kind := core.KindOf(err); kind != 0 {
		r.Kind = kind.String()
	}
	return r
}
