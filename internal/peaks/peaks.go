// Package peaks runs signal peak detection in an external analysis process.
package peaks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid signal data")
	ErrProcessing   = errors.New("peak detection failed")
	ErrTimeout      = errors.New("peak detection timed out")
)

const (
	DefaultTimeout   = 60 * time.Second
	defaultMaxOutput = 32 << 20
	stderrTail       = 4 << 10
)

// DefaultCommand is the analysis script shipped alongside the service.
var DefaultCommand = []string{"python3", "scripts/find_peaks.py"}

// Signal is one channel of samples.
type Signal struct {
	Samples           []float64 `json:"signal"`
	SamplingFrequency float64   `json:"samplingFrequency"`
}

// Detector finds peaks in a batch of signals. The result is the detector's
// JSON document, passed through to clients as is.
type Detector interface {
	Detect(ctx context.Context, signals []Signal) (json.RawMessage, error)
}

// Validate checks that every signal carries samples and a positive sampling
// frequency.
func Validate(signals []Signal) error {
	if len(signals) == 0 {
		return fmt.Errorf("%w: at least one signal is required", ErrInvalidInput)
	}
	for i, s := range signals {
		if len(s.Samples) == 0 {
			return fmt.Errorf("%w: signal %d has no samples", ErrInvalidInput, i)
		}
		if !(s.SamplingFrequency > 0) || math.IsInf(s.SamplingFrequency, 0) {
			return fmt.Errorf("%w: signal %d has invalid samplingFrequency", ErrInvalidInput, i)
		}
	}
	return nil
}

// ProcessError carries the diagnostics of a failed run. It matches ErrProcessing.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("peak detection process failed (exit %d)", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ProcessError) Is(target error) bool { return target == ErrProcessing }

func (e *ProcessError) Unwrap() error { return e.Err }

// ProcessDetector spawns one process per call, writes {"signals":[...]} to
// its stdin and parses its stdout as a single JSON document.
type ProcessDetector struct {
	name      string
	args      []string
	dir       string
	timeout   time.Duration
	maxOutput int
}

type Option func(*ProcessDetector)

// WithDir sets the working directory of the process.
func WithDir(dir string) Option {
	return func(d *ProcessDetector) { d.dir = dir }
}

// WithMaxOutput caps the bytes read from stdout.
func WithMaxOutput(n int) Option {
	return func(d *ProcessDetector) {
		if n > 0 {
			d.maxOutput = n
		}
	}
}

func NewProcessDetector(command []string, timeout time.Duration, opts ...Option) (*ProcessDetector, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("peaks: command is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &ProcessDetector{
		name:      command[0],
		args:      append([]string(nil), command[1:]...),
		timeout:   timeout,
		maxOutput: defaultMaxOutput,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *ProcessDetector) Detect(ctx context.Context, signals []Signal) (json.RawMessage, error) {
	if err := Validate(signals); err != nil {
		return nil, err
	}
	input, err := json.Marshal(struct {
		Signals []Signal `json:"signals"`
	}{signals})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInvalidInput, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.name, d.args...)
	cmd.Dir = d.dir
	cmd.Stdin = bytes.NewReader(input)
	stdout := &cappedBuffer{limit: d.maxOutput}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runErr != nil {
		pe := &ProcessError{ExitCode: -1, Stderr: strings.TrimSpace(stderr.String()), Err: runErr}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			pe.ExitCode = exitErr.ExitCode()
		}
		return nil, pe
	}
	if stdout.overflow {
		return nil, &ProcessError{Err: fmt.Errorf("output exceeds %d bytes", d.maxOutput)}
	}
	return parseOutput(stdout.Bytes())
}

// parseOutput accepts exactly one JSON object or array.
func parseOutput(out []byte) (json.RawMessage, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 || (out[0] != '{' && out[0] != '[') {
		return nil, &ProcessError{Err: errors.New("output is not a JSON object or array")}
	}
	if !json.Valid(out) {
		return nil, &ProcessError{Err: errors.New("output is not valid JSON")}
	}
	return json.RawMessage(out), nil
}

type cappedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); len(p) > room {
		b.overflow = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

// tailBuffer keeps the last limit bytes written.
type tailBuffer struct {
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }
