package engine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/indextts-gateway/internal/core"
	"github.com/lexiqai/indextts-gateway/internal/observability"
	"github.com/lexiqai/indextts-gateway/internal/resilience"
)

// Method names served by the model sidecar. Messages are
// google.protobuf.Struct documents carrying Payload and Frame.
const (
	ServiceName      = "indextts.v2.Engine"
	SynthesizeMethod = "/" + ServiceName + "/Synthesize"
	HealthMethod     = "/" + ServiceName + "/Health"
)

var synthesizeStream = &grpc.StreamDesc{StreamName: "Synthesize", ServerStreams: true}

// GRPCOptions configures the sidecar client
type GRPCOptions struct {
	Target      string
	TLS         bool
	DialTimeout time.Duration
	Breaker     *resilience.CircuitBreaker
	Retry       *resilience.RetryConfig
	DialOptions []grpc.DialOption
}

// GRPC talks to the model sidecar over gRPC
type GRPC struct {
	conn    *grpc.ClientConn
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	timeout time.Duration
	target  string
}

// NewGRPC creates a lazily connecting sidecar client
func NewGRPC(opts GRPCOptions) (*GRPC, error) {
	if opts.Target == "" {
		return nil, fmt.Errorf("engine target is required")
	}

	creds := insecure.NewCredentials()
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		// Synthesis streams can sit idle for a long time while the model runs.
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("engine", 5, 30*time.Second)
	}
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger := observability.GetLogger()
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Engine circuit breaker changed state")
	})

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GRPC{
		conn:    conn,
		breaker: breaker,
		retry:   opts.Retry,
		timeout: timeout,
		target:  opts.Target,
	}, nil
}

// WaitReady blocks until the sidecar answers a health probe, reconnecting
// with backoff. It gives up after the dial timeout.
func (g *GRPC) WaitReady(ctx context.Context, cfg *resilience.ReconnectConfig) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return resilience.Reconnect(ctx, g.target, cfg, g.Health)
}

// Synthesize implements core.Engine. The call is never retried: a failed
// synthesis may already have consumed model time and written partial output.
func (g *GRPC) Synthesize(ctx context.Context, req core.SynthesisRequest, progress core.ProgressSink) error {
	msg, err := toStruct(NewPayload(req))
	if err != nil {
		return err
	}

	err = g.breaker.Call(func() error {
		return g.stream(ctx, msg, progress)
	}, countsAgainstEngine)
	if err != nil && countsAgainstEngine(err) {
		observability.IncrementCircuitBreakerFailures(g.breaker.Name())
	}
	return err
}

func (g *GRPC) stream(ctx context.Context, msg *structpb.Struct, progress core.ProgressSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := g.conn.NewStream(ctx, synthesizeStream, SynthesizeMethod)
	if err != nil {
		return fmt.Errorf("open synthesize stream: %w", err)
	}
	if err := stream.SendMsg(msg); err != nil {
		return fmt.Errorf("send synthesize request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close synthesize request: %w", err)
	}

	for {
		var out structpb.Struct
		if err := stream.RecvMsg(&out); err != nil {
			if errors.Is(err, io.EOF) {
				return errNoCompletion
			}
			return fmt.Errorf("receive engine frame: %w", err)
		}
		frame, err := fromStruct(&out)
		if err != nil {
			return err
		}
		done, err := frame.apply(progress)
		if done || err != nil {
			return err
		}
	}
}

// Health probes the sidecar, retrying transient network failures
func (g *GRPC) Health(ctx context.Context) error {
	return resilience.Retry(ctx, g.retry, resilience.IsRetryableNetworkError, func(ctx context.Context) error {
		var out structpb.Struct
		if err := g.conn.Invoke(ctx, HealthMethod, &structpb.Struct{}, &out); err != nil {
			return fmt.Errorf("engine health: %w", err)
		}
		if ready, ok := out.GetFields()["ready"]; ok && !ready.GetBoolValue() {
			zerolog.Ctx(ctx).Debug().Str("target", g.target).Msg("Engine reports not ready")
			return resilience.NewRetryableError(errors.New("engine not ready"))
		}
		return nil
	})
}

// Close releases the connection
func (g *GRPC) Close() error {
	return g.conn.Close()
}

// countsAgainstEngine excludes caller cancellation from breaker accounting
func countsAgainstEngine(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, resilience.ErrCircuitOpen)
}

func toStruct(p Payload) (*structpb.Struct, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}
	return &s, nil
}

func fromStruct(s *structpb.Struct) (Frame, error) {
	data, err := protojson.Marshal(s)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid engine frame: %w", err)
	}
	return decodeFrame(data)
}
