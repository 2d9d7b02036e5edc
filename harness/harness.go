package harness

import (
	"context"
	"fmt"

	"github.com/smtptools/harness/history"
	"github.com/smtptools/harness/probe"
	"github.com/smtptools/harness/runner"
	"github.com/smtptools/harness/userconfig"

	"github.com/rs/zerolog/log"
)

// Outcome describes a run in which the test suite actually executed,
// whether or not it passed.
type Outcome struct {
	Result runner.Result
}

// Run executes one full harness cycle: launch the server, wait for it to
// become ready, run the test suite, record the result, and tear the server
// down. The server process is stopped on every return path, including
// cancellation of ctx.
//
// A nil error means the tests passed. All other outcomes surface as one of
// the typed errors in this package so main can pick an exit code.
func Run(ctx context.Context, config *userconfig.Meta) (*Outcome, error) {
	store := openStore(&config.History)
	defer func() {
		// Expired records only actually get removed during garbage
		// collection, so run it once per cycle before closing.
		if err := store.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("couldn't clean up the run history store")
		}
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("couldn't close the run history store")
		}
	}()

	srv := &runner.Server{
		Command:     config.Server.Command,
		GracePeriod: config.Server.GracePeriod,
	}

	if err := srv.Start(); err != nil {
		return nil, &LaunchError{Err: err}
	}
	defer srv.Stop()

	if err := waitForReady(ctx, srv, config); err != nil {
		return nil, err
	}

	res, runErr := runner.RunTests(ctx, runner.TestConfig{
		Command:     config.Tests.Command,
		Timeout:     config.Tests.Timeout,
		OutputLimit: config.Tests.OutputLimit,
	})

	outcome := &Outcome{Result: res}

	if runErr != nil {
		// An interrupted run isn't a verdict on the tests, so it
		// doesn't count as a crash. A configured test timeout uses its
		// own context and still lands in the crash branch.
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		record(store, res, "test-crash")
		return outcome, &TestCrash{Result: res, Err: runErr}
	}

	if res.ExitCode != 0 {
		record(store, res, "test-failure")
		return outcome, &TestFailure{Result: res}
	}

	record(store, res, "pass")
	log.Info().
		Str("runID", res.RunID).
		Dur("duration", res.Duration).
		Msg("the test suite passed")
	return outcome, nil
}

// waitForReady probes the server address while watching for the server
// process to die, so a crash during startup is reported as a launch
// problem rather than a readiness timeout.
func waitForReady(ctx context.Context, srv *runner.Server, config *userconfig.Meta) error {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-srv.Done():
			cancel()
		case <-probeCtx.Done():
		}
	}()

	err := probe.Wait(probeCtx, probe.Config{
		Address:      config.Server.Address,
		MaxWait:      config.Readiness.MaxWait,
		PollInterval: config.Readiness.PollInterval,
		DialTimeout:  config.Readiness.DialTimeout,
		ExpectBanner: config.Readiness.ExpectBanner,
	})
	if err == nil {
		return nil
	}

	// The probe can fail because the server died under it. Check that
	// before reporting anything about the probe itself.
	select {
	case <-srv.Done():
		return &LaunchError{
			Err: fmt.Errorf(
				"the server exited before becoming ready: %v",
				srv.ExitErr(),
			),
		}
	default:
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return &ReadinessError{Err: err}
}

// openStore picks the run-record store for this cycle. Recording is
// best-effort, so a store that fails to open downgrades to the no-op
// implementation rather than aborting the run. A variable so tests can
// substitute a fake store.
var openStore = func(conf *userconfig.History) history.RunStore {
	if conf.StorageDirPath == "" {
		return &history.NoOpStore{}
	}

	db, err := history.NewBadgerStore(&history.Config{
		StorageDirPath: conf.StorageDirPath,
		KeyTTLDuration: conf.KeyTTLDuration,
	})
	if err != nil {
		log.Warn().
			Str("storageDir", conf.StorageDirPath).
			Err(err).
			Msg("couldn't open the run history store; this run won't be recorded")
		return &history.NoOpStore{}
	}
	return db
}

// record saves the run outcome. Failures are logged, not returned: history
// is diagnostics, and a dead disk shouldn't change the harness verdict.
func record(store history.RunStore, res runner.Result, outcome string) {
	if err := store.Put(history.NewRecord(res, outcome)); err != nil {
		log.Warn().
			Str("runID", res.RunID).
			Err(err).
			Msg("couldn't record the run")
	}
}
