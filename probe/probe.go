package probe

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config contains the settings for a single readiness wait. All fields
// must be populated; userconfig applies the defaults.
type Config struct {
	// host:port to probe
	Address string
	// Total budget for the wait
	MaxWait time.Duration
	// Delay between attempts
	PollInterval time.Duration
	// Per-attempt connection timeout
	DialTimeout time.Duration
	// When true, a probe only succeeds once the server sends an SMTP
	// 220 greeting. Otherwise a completed TCP connection is enough.
	ExpectBanner bool
}

// TimeoutError indicates that the probe target never became ready within
// the wait budget. It is distinct from a test failure so callers can tell
// "the server never came up" apart from "the tests failed".
type TimeoutError struct {
	Address string
	// Time actually spent probing, which can fall slightly short of the
	// configured maximum
	Waited time.Duration
	// The error from the final attempt, for diagnostics
	LastErr error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"%v did not become ready within %v (last attempt: %v)",
		e.Address,
		e.Waited,
		e.LastErr,
	)
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Wait blocks until a probe attempt against c.Address succeeds, the wait
// budget runs out, or ctx is canceled. It returns a *TimeoutError when the
// budget runs out and ctx.Err() on cancellation, so callers can
// distinguish "never ready" from "told to stop waiting".
func Wait(ctx context.Context, c Config) error {
	start := time.Now()
	deadline := start.Add(c.MaxWait)

	var lastErr error
	var attempts int
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		err := attempt(c)
		if err == nil {
			log.Debug().
				Str("address", c.Address).
				Int("attempts", attempts).
				Msg("the server is ready")
			return nil
		}
		lastErr = err
		log.Debug().
			Str("address", c.Address).
			Int("attempt", attempts).
			Err(err).
			Msg("readiness probe attempt failed")

		if time.Now().Add(c.PollInterval).After(deadline) {
			// The probe may give up slightly early when another poll
			// interval doesn't fit in the budget, so report the time
			// actually spent rather than the configured maximum.
			return &TimeoutError{
				Address: c.Address,
				Waited:  time.Since(start),
				LastErr: lastErr,
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// attempt makes a single connection attempt. If c.ExpectBanner is set, it
// also reads the first reply line and requires a 220 code per RFC 5321.
func attempt(c Config) error {
	conn, err := net.DialTimeout("tcp", c.Address, c.DialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if !c.ExpectBanner {
		return nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.DialTimeout)); err != nil {
		return fmt.Errorf("can't set a read deadline on the probe connection: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("can't read the server greeting: %v", err)
	}

	if !strings.HasPrefix(line, "220") {
		return fmt.Errorf("expected a 220 greeting but got %q", strings.TrimSpace(line))
	}

	return nil
}
