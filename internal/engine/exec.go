package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

const (
	maxFrameBytes = 1024 * 1024
	waitDelay     = 5 * time.Second
)

// Exec runs the model as a subprocess per request. The request Payload is
// written to stdin as one JSON document; the process prints Frame lines on
// stdout and must end with a done frame.
type Exec struct {
	cmd []string
}

// NewExec parses command with shell quoting rules
func NewExec(command string) (*Exec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &Exec{cmd: args}, nil
}

// Synthesize implements core.Engine
func (e *Exec) Synthesize(ctx context.Context, req core.SynthesisRequest, progress core.ProgressSink) error {
	data, err := json.Marshal(NewPayload(req))
	if err != nil {
		return fmt.Errorf("encode engine request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	// Children of the engine may keep stderr open after it is killed.
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	done := false
	var frameErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || done {
			continue
		}
		frame, err := decodeFrame(line)
		if err != nil {
			frameErr = err
			break
		}
		done, frameErr = frame.apply(progress)
		if frameErr != nil {
			break
		}
	}
	scanErr := scanner.Err()
	// Nobody reads stdout past this point; a live process would block on it.
	if frameErr != nil || scanErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	switch {
	case frameErr != nil:
		return frameErr
	case scanErr != nil:
		return fmt.Errorf("read engine output: %w", scanErr)
	case waitErr != nil:
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("engine exited: %w: %s", waitErr, msg)
		}
		return fmt.Errorf("engine exited: %w", waitErr)
	case !done:
		return errNoCompletion
	}
	return nil
}

// Health checks that the engine binary can be located
func (e *Exec) Health(context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("engine command unavailable: %w", err)
	}
	return nil
}

// Close implements core.Engine
func (e *Exec) Close() error { return nil }
