package forwarder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/lora-bridge/internal/persistence"
)

// State is the lifecycle state of the forwarder process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

const (
	defaultRestartDelay    = 5 * time.Second
	defaultGracefulTimeout = 10 * time.Second
	defaultCheckInterval   = 10 * time.Second

	// maxHealthFailures consecutive watchdog failures kill the process.
	maxHealthFailures = 3

	// killWait bounds the wait for a killed process to exit.
	killWait = 5 * time.Second
)

// Config describes the forwarder process.
type Config struct {
	Binary string

	// Args may contain placeholders; see the package documentation.
	Args []string

	// Listen is the bridge's UDP listen address. It is translated into the
	// {server} placeholder.
	Listen string
	Radio  persistence.RadioSettings

	// Env is appended to the inherited environment after the LORA_* values.
	Env     []string
	WorkDir string

	RestartDelay       time.Duration
	MaxRestartAttempts int // 0 means unlimited
	GracefulTimeout    time.Duration

	// SilenceTimeout restarts the process when LastFrame is older than
	// this. 0 disables the watchdog.
	SilenceTimeout time.Duration
	CheckInterval  time.Duration
}

// FrameClock reports when the last radio frame arrived.
// *radio.UDPReceiver implements it.
type FrameClock interface {
	LastFrame() time.Time
}

// Logger defines the logging interface used by the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs and restarts the forwarder process.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	args   []string
	env    []string
	clock  FrameClock
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	state         State
	restarts      int
	lastError     error
	startedAt     time.Time
	stopRequested bool
	done          chan struct{}
}

// New creates a supervisor. clock may be nil, which disables the silence
// watchdog.
func New(cfg Config, clock FrameClock) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, ErrNoBinary
	}
	server, err := ServerAddress(cfg.Listen)
	if err != nil {
		return nil, err
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}

	env := append(os.Environ(), Environment(cfg.Radio, server)...)
	env = append(env, cfg.Env...)

	return &Supervisor{
		cfg:    cfg,
		args:   ExpandArgs(cfg.Args, cfg.Radio, server),
		env:    env,
		clock:  clock,
		logger: noopLogger{},
		state:  StateStopped,
	}, nil
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Args returns the expanded command-line arguments.
func (s *Supervisor) Args() []string {
	return append([]string(nil), s.args...)
}

// Start launches the process and the monitor goroutine. Cancelling ctx
// kills the process and ends supervision.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.stopRequested = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.launch(ctx); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.lastError = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.monitor(ctx)
	return nil
}

func (s *Supervisor) launch(ctx context.Context) error {
	s.logger.Info("starting packet forwarder", "binary", s.cfg.Binary, "args", s.args)

	cmd := exec.CommandContext(ctx, s.cfg.Binary, s.args...) //nolint:gosec // binary comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = s.env
	cmd.Dir = s.cfg.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting forwarder: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.startedAt = time.Now()
	if s.stopRequested {
		// Stop ran while the process was being started.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM) //nolint:errcheck // monitor observes the exit
	}
	s.mu.Unlock()

	go s.captureOutput("stdout", stdout)
	go s.captureOutput("stderr", stderr)

	s.logger.Info("packet forwarder started", "pid", cmd.Process.Pid)
	return nil
}

// captureOutput logs the process output line by line.
func (s *Supervisor) captureOutput(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("forwarder output", "stream", stream, "line", sc.Text())
	}
}

// silent reports ErrRadioSilent when neither a frame nor the process start
// happened within the silence timeout.
func (s *Supervisor) silent(now time.Time) error {
	if s.clock == nil || s.cfg.SilenceTimeout <= 0 {
		return nil
	}
	s.mu.RLock()
	last := s.startedAt
	s.mu.RUnlock()
	if f := s.clock.LastFrame(); f.After(last) {
		last = f
	}
	if now.Sub(last) > s.cfg.SilenceTimeout {
		return ErrRadioSilent
	}
	return nil
}

// wait blocks until the process exits, ctx ends, or the watchdog fails
// maxHealthFailures times in a row, in which case the process is killed.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if s.clock == nil || s.cfg.SilenceTimeout <= 0 {
		return <-exitCh
	}

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ctx.Done():
			return <-exitCh
		case now := <-ticker.C:
			if err := s.silent(now); err != nil {
				failures++
				s.logger.Warn("forwarder watchdog check failed", "error", err, "consecutive_failures", failures)
				if failures < maxHealthFailures {
					continue
				}
				s.logger.Error("radio silent, killing packet forwarder", "silence_timeout", s.cfg.SilenceTimeout)
				if cmd.Process != nil {
					_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // exit is awaited below
				}
				select {
				case <-exitCh:
					return ErrRadioSilent
				case <-time.After(killWait):
					return fmt.Errorf("%w: process did not exit after kill", ErrRadioSilent)
				}
			}
			failures = 0
		}
	}
}

// monitor restarts the process after unexpected exits.
func (s *Supervisor) monitor(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := s.wait(ctx, cmd)

		s.mu.Lock()
		stopping := s.stopRequested || ctx.Err() != nil
		if stopping {
			s.state = StateStopped
		} else {
			s.state = StateFailed
			s.lastError = err
		}
		s.mu.Unlock()

		if stopping {
			s.logger.Info("packet forwarder stopped")
			return
		}
		s.logger.Warn("packet forwarder exited unexpectedly", "error", err)

		if !s.restart(ctx) {
			return
		}
	}
}

// restart relaunches the process after the restart delay, retrying failed
// launches. It returns false when supervision should end.
func (s *Supervisor) restart(ctx context.Context) bool {
	for {
		s.mu.Lock()
		if s.cfg.MaxRestartAttempts > 0 && s.restarts >= s.cfg.MaxRestartAttempts {
			s.mu.Unlock()
			s.logger.Error("packet forwarder restart limit reached", "attempts", s.cfg.MaxRestartAttempts)
			return false
		}
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		s.logger.Info("restarting packet forwarder", "attempt", attempt, "delay", s.cfg.RestartDelay.String())
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return false
		case <-time.After(s.cfg.RestartDelay):
		}

		s.mu.RLock()
		stop := s.stopRequested
		s.mu.RUnlock()
		if stop {
			s.setState(StateStopped)
			return false
		}

		err := s.launch(ctx)
		if err == nil {
			return true
		}
		s.logger.Error("failed to restart packet forwarder", "error", err)
		s.mu.Lock()
		s.lastError = err
		s.mu.Unlock()
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stop terminates the process group, SIGTERM first and SIGKILL after the
// graceful timeout, and waits for the monitor to finish.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.stopRequested = true
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			s.logger.Warn("failed to signal packet forwarder", "error", err)
		}

		select {
		case <-done:
			return nil
		case <-time.After(s.cfg.GracefulTimeout):
			s.logger.Warn("packet forwarder ignored SIGTERM, killing", "timeout", s.cfg.GracefulTimeout.String())
		}

		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing packet forwarder: %w", err)
		}
	}

	<-done
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats describes the forwarder process.
type Stats struct {
	State         State  `json:"state"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Restarts      int    `json:"restarts"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the process state.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{State: s.state, Restarts: s.restarts}
	if s.state == StateRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}
