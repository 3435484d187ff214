// Package bus exposes the orchestrator on a NATS subject and optionally
// publishes finished artifacts to a JetStream object store.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lexiqai/indextts-gateway/internal/resilience"
)

// Connect dials the NATS server at url, retrying with backoff until it
// answers or cfg runs out of attempts.
func Connect(ctx context.Context, url string, cfg *resilience.ReconnectConfig, log zerolog.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name("indextts-gateway"),
		nats.Timeout(5 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	}

	var conn *nats.Conn
	err := resilience.Reconnect(log.WithContext(ctx), url, cfg, func(context.Context) error {
		c, err := nats.Connect(url, options...)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().Str("url", url).Msg("Connected to NATS")
	return conn, nil
}

// OpenObjectStore creates the bucket if needed and binds to it
func OpenObjectStore(conn *nats.Conn, bucket string) (nats.ObjectStore, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Synthesized speech artifacts",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		// The bucket may exist with a different configuration.
		if existing, bindErr := js.ObjectStore(bucket); bindErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, err)
	}
	return store, nil
}
