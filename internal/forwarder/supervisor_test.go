package forwarder

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock reports a fixed or current last-frame time.
type fakeClock struct {
	fresh atomic.Bool
}

func (c *fakeClock) LastFrame() time.Time {
	if c.fresh.Load() {
		return time.Now()
	}
	return time.Time{}
}

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func newSupervisor(t *testing.T, cfg Config, clock FrameClock) *Supervisor {
	t.Helper()
	if cfg.Listen == "" {
		cfg.Listen = ":1700"
	}
	s, err := New(cfg, clock)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Listen: ":1700"}, nil); !errors.Is(err, ErrNoBinary) {
		t.Errorf("New(no binary) error = %v, want ErrNoBinary", err)
	}
	if _, err := New(Config{Binary: "sh", Listen: "nope"}, nil); !errors.Is(err, ErrInvalidListen) {
		t.Errorf("New(bad listen) error = %v, want ErrInvalidListen", err)
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	s := newSupervisor(t, Config{
		Binary:          shell(t),
		Args:            []string{"-c", "sleep 30"},
		GracefulTimeout: 2 * time.Second,
	}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := s.Stats(); st.State != StateRunning || st.PID == 0 {
		t.Errorf("Stats() after Start = %+v", st)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st := s.Stats(); st.State != StateStopped || st.Restarts != 0 || st.PID != 0 {
		t.Errorf("Stats() after Stop = %+v", st)
	}
}

func TestSupervisor_StopBeforeStart(t *testing.T) {
	s := newSupervisor(t, Config{Binary: "sh"}, nil)
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() on idle supervisor error = %v", err)
	}
}

func TestSupervisor_StartFailure(t *testing.T) {
	s := newSupervisor(t, Config{Binary: filepath.Join(t.TempDir(), "missing")}, nil)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() with missing binary: error = nil")
	}
	if st := s.Stats(); st.State != StateFailed || st.LastError == "" {
		t.Errorf("Stats() = %+v, want failed with error", st)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSupervisor_PassesRadioSettings(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	s := newSupervisor(t, Config{
		Binary: shell(t),
		Args:   []string{"-c", `printf '%s %s %s' "$LORA_SF" "{server}" "$EXTRA" > "$OUT"; sleep 30`},
		Listen: "0.0.0.0:1700",
		Radio:  testRadio,
		Env:    []string{"OUT=" + out, "EXTRA=yes"},
	}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	var got string
	waitFor(t, "forwarder output", func() bool {
		b, err := os.ReadFile(out)
		got = string(b)
		return err == nil && strings.Count(got, " ") == 2
	})
	if want := "9 127.0.0.1:1700 yes"; got != want {
		t.Errorf("forwarder saw %q, want %q", got, want)
	}
}

func TestSupervisor_RestartLimit(t *testing.T) {
	s := newSupervisor(t, Config{
		Binary:             shell(t),
		Args:               []string{"-c", "exit 3"},
		RestartDelay:       time.Millisecond,
		MaxRestartAttempts: 2,
	}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not give up")
	}

	st := s.Stats()
	if st.State != StateFailed || st.Restarts != 2 {
		t.Errorf("Stats() = %+v, want failed after 2 restarts", st)
	}
	if !strings.Contains(st.LastError, "exit status 3") {
		t.Errorf("LastError = %q", st.LastError)
	}
}

func TestSupervisor_SilenceWatchdog(t *testing.T) {
	clock := &fakeClock{}
	s := newSupervisor(t, Config{
		Binary:             shell(t),
		Args:               []string{"-c", "sleep 30"},
		RestartDelay:       time.Millisecond,
		MaxRestartAttempts: 1,
		SilenceTimeout:     20 * time.Millisecond,
		CheckInterval:      5 * time.Millisecond,
	}, clock)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	waitFor(t, "watchdog restart", func() bool {
		st := s.Stats()
		return st.Restarts == 1 && st.LastError == ErrRadioSilent.Error()
	})
}

func TestSupervisor_FreshFramesKeepRunning(t *testing.T) {
	clock := &fakeClock{}
	clock.fresh.Store(true)
	s := newSupervisor(t, Config{
		Binary:         shell(t),
		Args:           []string{"-c", "sleep 30"},
		SilenceTimeout: 20 * time.Millisecond,
		CheckInterval:  5 * time.Millisecond,
	}, clock)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	time.Sleep(150 * time.Millisecond)
	if st := s.Stats(); st.State != StateRunning || st.Restarts != 0 {
		t.Errorf("Stats() = %+v, want running without restarts", st)
	}
}

func TestSupervisor_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSupervisor(t, Config{
		Binary: shell(t),
		Args:   []string{"-c", "sleep 30"},
	}, nil)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	waitFor(t, "stopped state", func() bool { return s.State() == StateStopped })
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
