// Package orchestrator serializes synthesis requests onto the single engine.
// Every front end shares one Orchestrator; requests are validated on the
// caller's goroutine and then run one at a time, in arrival order, by a
// dedicated worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/indextts-gateway/internal/artifacts"
	"github.com/lexiqai/indextts-gateway/internal/audio"
	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/emotion"
	"github.com/lexiqai/indextts-gateway/internal/observability"
	"github.com/lexiqai/indextts-gateway/internal/params"
	"github.com/lexiqai/indextts-gateway/internal/voices"
)

// Options tunes the orchestrator
type Options struct {
	// QueueDepth bounds the number of waiting jobs; 0 means unbounded.
	QueueDepth int
	// DefaultSentenceTokens applies when a request carries no sentence limit.
	DefaultSentenceTokens int
	Logger                zerolog.Logger
}

// Input is one synthesis call as received from a front end
type Input struct {
	Frontend         string
	RequestID        string
	SpeakerReference string
	Text             string
	Mode             core.Mode
	Emotion          emotion.RawFields
	Params           params.RawParams
	RandomizeSeed    bool
	// Progress receives advisory updates for this call only. May be nil.
	Progress core.ProgressSink
}

type job struct {
	ctx      context.Context
	frontend string
	req      core.SynthesisRequest
	art      core.Artifact
	progress core.ProgressSink
	log      zerolog.Logger
	enqueued time.Time
	result   chan error
}

// Orchestrator owns the engine worker
type Orchestrator struct {
	engine core.Engine
	alloc  *artifacts.Allocator
	ledger *artifacts.Ledger
	opts   Options
	log    zerolog.Logger

	queue     *jobQueue
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts the worker. ledger may be nil.
func New(engine core.Engine, alloc *artifacts.Allocator, ledger *artifacts.Ledger, opts Options) *Orchestrator {
	if opts.DefaultSentenceTokens <= 0 {
		opts.DefaultSentenceTokens = params.DefaultSentenceTokens
	}
	o := &Orchestrator{
		engine: engine,
		alloc:  alloc,
		ledger: ledger,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "orchestrator").Logger(),
		queue:  newJobQueue(opts.QueueDepth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.worker()
	return o
}

// Synthesize validates in, waits for its turn on the engine and returns the
// produced artifact. Validation failures never reach the engine. If ctx ends
// while the job is still queued the job is skipped; once the engine has
// started, the call runs to completion and only the wait is abandoned.
func (o *Orchestrator) Synthesize(ctx context.Context, in Input) (art core.Artifact, err error) {
	if in.RequestID == "" {
		in.RequestID = observability.NewRequestID()
	}
	ctx, span := observability.Tracer().Start(ctx, "orchestrator.Synthesize",
		trace.WithAttributes(
			attribute.String("indextts.frontend", in.Frontend),
			attribute.String("indextts.mode", in.Mode.String()),
			attribute.String("indextts.request_id", in.RequestID),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := o.log.With().
		Str("request_id", in.RequestID).
		Str("frontend", in.Frontend).
		Str("mode", in.Mode.String()).
		Str("speaker", in.SpeakerReference).
		Logger()

	req, err := o.compose(in)
	if err != nil {
		log.Info().Err(err).Msg("Rejected synthesis request")
		observability.RecordSynthesis(in.Frontend, statusLabel(err))
		return core.Artifact{}, err
	}

	art = o.alloc.Allocate()
	req.ID = art.ID
	req.OutputPath = art.Path
	log = log.With().Str("artifact_id", art.ID).Logger()
	span.SetAttributes(attribute.String("indextts.artifact_id", art.ID))

	if lerr := o.ledger.Begin(ctx, artifacts.Record{
		ID:        art.ID,
		Path:      art.Path,
		Speaker:   req.SpeakerReference,
		Mode:      req.Emotion.Mode.String(),
		CreatedAt: art.CreatedAt,
	}); lerr != nil {
		log.Warn().Err(lerr).Msg("Failed to record artifact")
	}

	j := &job{
		ctx:      ctx,
		frontend: in.Frontend,
		req:      req,
		art:      art,
		progress: in.Progress,
		log:      log,
		enqueued: time.Now(),
		result:   make(chan error, 1),
	}
	observability.QueueEnter()
	if err := o.queue.push(j); err != nil {
		observability.QueueLeave()
		log.Warn().Err(err).Msg("Synthesis queue rejected request")
		o.complete(context.WithoutCancel(ctx), j, artifacts.StatusSkipped, err)
		observability.RecordSynthesis(in.Frontend, statusLabel(err))
		return core.Artifact{}, err
	}
	log.Debug().Int("waiting", o.queue.len()).Msg("Synthesis queued")

	select {
	case err := <-j.result:
		if err != nil {
			return core.Artifact{}, err
		}
		return art, nil
	case <-ctx.Done():
		log.Info().Err(ctx.Err()).Msg("Caller stopped waiting for synthesis")
		return core.Artifact{}, ctx.Err()
	}
}

// compose validates the caller's input and builds the engine request
func (o *Orchestrator) compose(in Input) (core.SynthesisRequest, error) {
	if strings.TrimSpace(in.Text) == "" {
		return core.SynthesisRequest{}, core.InvalidInput("text", "text is required")
	}
	if !voices.Exists(in.SpeakerReference) {
		return core.SynthesisRequest{}, core.InvalidInput("speaker", "speaker reference audio is required")
	}

	directive, err := emotion.Resolve(in.Mode, in.Emotion)
	if err != nil {
		return core.SynthesisRequest{}, err
	}
	if directive.Mode == core.ModeEmotionAudio && !voices.Exists(directive.Reference) {
		return core.SynthesisRequest{}, core.InvalidInput("emo_ref_path", "emotion reference audio does not exist")
	}

	bundle, err := params.Build(in.Params)
	if err != nil {
		return core.SynthesisRequest{}, err
	}
	chunk, err := params.SentenceTokens(in.Params, o.opts.DefaultSentenceTokens)
	if err != nil {
		return core.SynthesisRequest{}, err
	}

	return core.SynthesisRequest{
		Text:               in.Text,
		SpeakerReference:   in.SpeakerReference,
		Emotion:            directive,
		SentenceChunkLimit: chunk,
		Params:             bundle,
		RandomizeSeed:      in.RandomizeSeed,
	}, nil
}

func (o *Orchestrator) worker() {
	defer close(o.done)
	for {
		j, ok := o.queue.pop(o.stop)
		if !ok {
			return
		}
		observability.QueueLeave()
		observability.ObserveQueueWait(time.Since(j.enqueued))
		j.result <- o.run(j)
	}
}

// run executes one job on the engine and settles its artifact
func (o *Orchestrator) run(j *job) error {
	// The in-flight call is not tied to the caller's lifetime.
	ctx := context.WithoutCancel(j.ctx)

	if err := j.ctx.Err(); err != nil {
		j.log.Info().Msg("Skipping synthesis abandoned while queued")
		o.complete(ctx, j, artifacts.StatusSkipped, err)
		observability.RecordSynthesis(j.frontend, "cancelled")
		return err
	}

	ctx, span := observability.Tracer().Start(ctx, "engine.Synthesize")
	defer span.End()

	j.log.Info().Int("sentence_tokens", j.req.SentenceChunkLimit).Msg("Synthesis started")
	start := time.Now()
	err := o.invoke(ctx, j)
	elapsed := time.Since(start)
	observability.ObserveEngineLatency(elapsed)

	if err == nil {
		var info audio.WAVInfo
		if info, err = audio.InspectWAV(j.art.Path); err == nil {
			observability.RecordAudioBytes(info.Size)
		}
	}

	if err != nil {
		if rerr := o.alloc.Release(j.art); rerr != nil {
			j.log.Error().Err(rerr).Msg("Failed to remove partial artifact")
		}
		err = core.SynthesisEngineError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		j.log.Error().Err(err).Dur("elapsed", elapsed).Msg("Synthesis failed")
		o.complete(ctx, j, artifacts.StatusFailed, err)
		observability.RecordSynthesis(j.frontend, statusLabel(err))
		observability.RecordError("engine", "orchestrator")
		return err
	}

	j.log.Info().Dur("elapsed", elapsed).Str("path", j.art.Path).Msg("Synthesis completed")
	o.complete(ctx, j, artifacts.StatusSucceeded, nil)
	observability.RecordSynthesis(j.frontend, "success")
	return nil
}

// invoke calls the engine, turning a panic into an error so the worker
// always moves on to the next job
func (o *Orchestrator) invoke(ctx context.Context, j *job) (err error) {
	observability.EngineEnter()
	defer observability.EngineLeave()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return o.engine.Synthesize(ctx, j.req, j.progress)
}

func (o *Orchestrator) complete(ctx context.Context, j *job, status artifacts.Status, cause error) {
	if err := o.ledger.Complete(ctx, j.art.ID, status, cause); err != nil {
		j.log.Warn().Err(err).Msg("Failed to update artifact record")
	}
}

// Pending returns the number of jobs waiting for the engine
func (o *Orchestrator) Pending() int {
	return o.queue.len()
}

// Health reports whether the engine can take work
func (o *Orchestrator) Health(ctx context.Context) error {
	return o.engine.Health(ctx)
}

// Close stops accepting work, fails every waiting job and waits for the job
// in the engine to finish. The engine itself is left open.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		for _, j := range o.queue.close() {
			observability.QueueLeave()
			err := core.ResourceUnavailable("synthesis service is shutting down")
			o.complete(context.WithoutCancel(j.ctx), j, artifacts.StatusSkipped, err)
			j.result <- err
		}
		close(o.stop)
	})
	<-o.done
	return nil
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return core.KindOf(err).String()
}
