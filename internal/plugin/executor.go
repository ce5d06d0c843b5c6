package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// waitDelay bounds how long Execute waits for output pipes after the
// plugin is killed.
const waitDelay = 200 * time.Millisecond

var (
	// ErrTimeout is returned when a plugin does not answer in time.
	ErrTimeout = errors.New("plugin timed out")
	// ErrFailed is returned when a plugin answers with success=false.
	ErrFailed = errors.New("plugin reported failure")
)

// Executor delivers pointer events to plugins, one process per event.
type Executor struct {
	timeout time.Duration
	log     logrus.FieldLogger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger used for per-call debug output.
func WithExecutorLogger(log logrus.FieldLogger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an Executor that bounds every call by timeout.
func NewExecutor(timeout time.Duration, opts ...ExecutorOption) *Executor {
	e := &Executor{timeout: timeout, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sends req to plugin on stdin and decodes its stdout. A response
// with success=false is returned together with an error wrapping ErrFailed.
func (e *Executor) Execute(ctx context.Context, plugin *Plugin, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, plugin.Executable)
	cmd.Dir = plugin.Path
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	killGroupOnCancel(cmd)

	started := time.Now()
	err = cmd.Run()
	log := e.log.WithFields(logrus.Fields{
		"plugin":  plugin.Manifest.Name,
		"event":   req.Event,
		"elapsed": time.Since(started),
	})

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s after %s: %w", plugin.Manifest.Name, e.timeout, ErrTimeout)
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("run %s: %w: %s", plugin.Manifest.Name, err, msg)
		}
		return nil, fmt.Errorf("run %s: %w", plugin.Manifest.Name, err)
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode response of %s: %w (stdout %q)", plugin.Manifest.Name, err, stdout.String())
	}
	if !resp.Success {
		log.WithField("error", resp.Error).Debug("plugin declined event")
		if resp.Error == "" {
			return &resp, fmt.Errorf("%s: %w", plugin.Manifest.Name, ErrFailed)
		}
		return &resp, fmt.Errorf("%s: %w: %s", plugin.Manifest.Name, ErrFailed, resp.Error)
	}

	log.Debug("plugin handled event")
	return &resp, nil
}
