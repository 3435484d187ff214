package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	cfg := &ReconnectConfig{MaxAttempts: 4, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond}

	attempts := 0
	err := Reconnect(context.Background(), "nats://localhost:4222", cfg, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected reconnect to succeed, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	cfg := &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1}
	cause := errors.New("no route to host")

	err := Reconnect(context.Background(), "engine", cfg, func(context.Context) error { return cause })
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected error to wrap last cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Errorf("Expected attempt count in error, got %v", err)
	}
}

func TestReconnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Reconnect(ctx, "engine", nil, func(context.Context) error {
		t.Fatal("connect should not run with a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
