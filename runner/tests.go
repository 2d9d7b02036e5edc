package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Spending more than this on captured output is almost certainly a runaway
// test process, so it's the cap when the config doesn't provide one.
var defaultOutputLimit int64 = 1 * units.MiB

// TestConfig contains the settings for a single test suite run
type TestConfig struct {
	// Command line used to launch the test suite, as an argv list
	Command []string
	// Zero means wait for the suite indefinitely
	Timeout time.Duration
	// Cap on captured stdout/stderr, in bytes
	OutputLimit int64
}

// Summary is the machine-readable result some test suites print as their
// final stdout line, e.g.:
//
//	{"status_code": 250, "message": "Message accepted for delivery"}
//
// It's optional: a suite that prints nothing parseable still reports its
// outcome through the exit code.
type Summary struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// Result describes a completed (or failed) test suite run
type Result struct {
	// Unique identifier for this run, used as the history key
	RunID string
	// Exit code of the test process. Negative if the process never ran
	// to completion.
	ExitCode int
	// Captured output, possibly truncated
	Stdout []byte
	Stderr []byte
	// Whether either stream hit the output limit
	Truncated bool
	// Wall-clock duration of the run
	Duration time.Duration
	// Parsed from the final stdout line when present, nil otherwise
	Summary *Summary
}

// RunTests executes the test suite and blocks until it finishes. A non-zero
// exit code is not an error here--it's reported through Result.ExitCode so
// the caller can apply its own failure policy. The returned error is
// reserved for runs that never completed: a command that couldn't start, a
// timeout, or a process killed by a signal.
func RunTests(ctx context.Context, c TestConfig) (Result, error) {
	res := Result{
		RunID:    uuid.NewString(),
		ExitCode: -1,
	}

	if len(c.Command) == 0 {
		return res, errors.New("no test command to run")
	}

	limit := c.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info().
		Str("runID", res.RunID).
		Strs("command", c.Command).
		Str("outputLimit", units.BytesSize(float64(limit))).
		Msg("running the test suite")

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	res.Truncated = stdout.truncated || stderr.truncated
	res.Summary = parseSummary(res.Stdout)

	if err == nil {
		res.ExitCode = 0
		return res, nil
	}

	// The context checks must come first: a timed-out or canceled process
	// also shows up as an ExitError after the context kills it.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("the test suite did not finish within %v: %w", c.Timeout, ctx.Err())
	}
	if ctx.Err() != nil {
		return res, fmt.Errorf("the test run was canceled: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code >= 0 {
			res.ExitCode = code
			return res, nil
		}
		return res, fmt.Errorf("the test process was terminated by a signal: %v", exitErr)
	}

	return res, fmt.Errorf("could not run the test suite: %v", err)
}

// parseSummary attempts to decode the last non-empty stdout line as a
// Summary. Returns nil if the line isn't one, since the format is optional.
func parseSummary(stdout []byte) *Summary {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	if len(lines) == 0 {
		return nil
	}

	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 || last[0] != '{' {
		return nil
	}

	var s Summary
	if err := json.Unmarshal(last, &s); err != nil {
		return nil
	}
	if s.StatusCode == 0 {
		return nil
	}
	return &s
}

// cappedBuffer collects child process output up to a limit, dropping the
// rest. We need a cap since the output gets held in memory and written to
// the run history.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

// Write implements io.Writer. It never returns an error, since a child
// process shouldn't fail just because we stopped collecting its output.
func (c *cappedBuffer) Write(p []byte) (int, error) {
	remaining := c.limit - int64(c.buf.Len())
	if remaining <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Bytes() []byte {
	return c.buf.Bytes()
}
