package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	units "github.com/docker/go-units"
	"github.com/rs/zerolog/log"
)

// Server manages the SMTP server under test as a child process. The process
// is scoped to the Server value: callers must arrange for Stop to run on
// every exit path so the child never outlives the harness.
type Server struct {
	// Command line used to launch the server, as an argv list
	Command []string
	// How long to wait after an interrupt before killing the process
	GracePeriod time.Duration

	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

// Start launches the server process without blocking and returns an error
// if the process could not be spawned at all. A process that starts and
// then crashes is reported through Done and ExitErr instead.
func (s *Server) Start() error {
	if len(s.Command) == 0 {
		return errors.New("no server command to run")
	}

	cmd := exec.Command(s.Command[0], s.Command[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("can't open a stdout pipe to the server: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("can't open a stderr pipe to the server: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start the server: %v", err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})

	log.Info().
		Strs("command", s.Command).
		Int("pid", cmd.Process.Pid).
		Msg("started the server process")

	go relayOutput("stdout", stdout)
	go relayOutput("stderr", stderr)

	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()

	return nil
}

// Done returns a channel that closes when the server process exits for any
// reason. Callers use this to catch a server that crashes before becoming
// ready, instead of letting the crash surface later as a confusing test
// failure.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// ExitErr returns the error from waiting on the server process. Only
// meaningful after Done has closed.
func (s *Server) ExitErr() error {
	return s.waitErr
}

// Stop terminates the server process: an interrupt first, then a kill if
// the process hasn't exited within the grace period. It's a no-op if the
// process never started or has already exited, so it's safe to defer
// unconditionally.
func (s *Server) Stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}

	select {
	case <-s.done:
		// Already gone; nothing to clean up.
		return
	default:
	}

	pid := s.cmd.Process.Pid

	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		log.Warn().
			Int("pid", pid).
			Err(err).
			Msg("can't interrupt the server process; killing it")
		s.kill(pid)
		return
	}

	select {
	case <-s.done:
		log.Info().Int("pid", pid).Msg("the server process exited after an interrupt")
	case <-time.After(s.GracePeriod):
		log.Warn().
			Int("pid", pid).
			Dur("gracePeriod", s.GracePeriod).
			Msg("the server process ignored the interrupt; killing it")
		s.kill(pid)
	}
}

func (s *Server) kill(pid int) {
	err := s.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		// We don't want to swallow this--log loudly so the operator can
		// chase down the rogue process manually.
		log.Error().
			Int("pid", pid).
			Err(err).
			Msg("could not kill the server process")
		return
	}
	<-s.done
}

// relayOutput forwards a child process stream into the log line by line so
// server output ends up interleaved with the harness's own diagnostics.
// The stream must be drained no matter what: a reader that stops leaves the
// child blocked on a full pipe, where it can't get as far as binding its
// port.
func relayOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), int(units.MiB))
	for sc.Scan() {
		log.Debug().
			Str("stream", stream).
			Msg(sc.Text())
	}
	if err := sc.Err(); err != nil {
		log.Warn().
			Str("stream", stream).
			Err(err).
			Msg("stopped logging server output; draining the rest")
		io.Copy(io.Discard, r)
	}
}
