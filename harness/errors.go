package harness

import (
	"errors"
	"fmt"

	"github.com/smtptools/harness/runner"
)

// Exit codes for the harness binary. Each failure category gets its own
// code so CI systems and operators can tell a broken server apart from a
// broken test suite without reading logs.
const (
	// The test suite ran and exited zero
	ExitPass = 0
	// The test suite ran and exited non-zero
	ExitTestFailure = 1
	// The test suite could not be started, timed out, or was killed by
	// a signal
	ExitTestCrash = 2
	// The server process could not be started, or exited before
	// becoming ready
	ExitServerLaunch = 3
	// The server started but never became ready within the wait budget
	ExitReadinessTimeout = 4
	// A bad config file, bad flags, or an unexpected internal error
	ExitConfig = 5
)

// LaunchError means the server under test never got as far as listening:
// either the process couldn't be spawned or it exited during startup.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("couldn't launch the server: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ReadinessError means the server process stayed alive but its address
// never accepted a probe within the configured budget.
type ReadinessError struct {
	Err error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("the server never became ready: %v", e.Err)
}

func (e *ReadinessError) Unwrap() error {
	return e.Err
}

// TestFailure means the test suite ran to completion and reported failure
// through its exit code. Any non-zero code counts--the harness doesn't
// distinguish between them.
type TestFailure struct {
	Result runner.Result
}

func (e *TestFailure) Error() string {
	return fmt.Sprintf("the test suite failed with exit code %v", e.Result.ExitCode)
}

// TestCrash means the test suite never ran to completion, so its verdict
// is unknown. This is different from a failure: the tests may well have
// been passing when the process died.
type TestCrash struct {
	Result runner.Result
	Err    error
}

func (e *TestCrash) Error() string {
	return fmt.Sprintf("the test suite did not run to completion: %v", e.Err)
}

func (e *TestCrash) Unwrap() error {
	return e.Err
}

// ExitCode maps an error from Run to the harness's exit code taxonomy. A nil
// error maps to ExitPass; an unrecognized error maps to ExitConfig, since
// those only arise before the orchestration sequence starts.
func ExitCode(err error) int {
	if err == nil {
		return ExitPass
	}

	var tf *TestFailure
	if errors.As(err, &tf) {
		return ExitTestFailure
	}

	var tc *TestCrash
	if errors.As(err, &tc) {
		return ExitTestCrash
	}

	var le *LaunchError
	if errors.As(err, &le) {
		return ExitServerLaunch
	}

	var re *ReadinessError
	if errors.As(err, &re) {
		return ExitReadinessTimeout
	}

	return ExitConfig
}
