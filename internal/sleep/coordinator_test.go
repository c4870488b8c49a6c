package sleep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nugget/hostreporter/internal/session"
)

// journal records the order of lock and session steps.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.steps)
}

type fakeMonitor struct {
	events chan Event
	j      *journal
}

func (m *fakeMonitor) Events(context.Context) (<-chan Event, error) { return m.events, nil }

func (m *fakeMonitor) Inhibit(context.Context) (io.Closer, error) {
	m.j.add("acquire")
	return lockFunc(func() error { m.j.add("release"); return nil }), nil
}

type lockFunc func() error

func (f lockFunc) Close() error { return f() }

// fakeSession starts, waits for its stop, then "publishes offline".
// Runs listed in fail return that error immediately instead. Runs listed
// in hold do not return until their channel is closed.
type fakeSession struct {
	j       *journal
	mu      sync.Mutex
	runs    int
	fail    map[int]error
	hold    map[int]chan struct{}
	started chan int
}

func (s *fakeSession) run(ctx context.Context, stop *session.Stop) error {
	s.mu.Lock()
	s.runs++
	n := s.runs
	err := s.fail[n]
	hold := s.hold[n]
	s.mu.Unlock()

	s.j.add("run")
	s.started <- n
	if err != nil {
		s.j.add("failed")
		return err
	}
	<-stop.Done()
	s.j.add("offline " + stop.Reason().String())
	if hold != nil {
		<-hold
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitStarted(t *testing.T, s *fakeSession, want int) {
	t.Helper()
	select {
	case n := <-s.started:
		if n != want {
			t.Fatalf("started run %d, want %d", n, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run %d did not start", want)
	}
}

func waitStep(t *testing.T, j *journal, step string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		count := 0
		for _, s := range j.snapshot() {
			if s == step {
				count++
			}
		}
		if count >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q #%d, steps = %v", step, n, j.snapshot())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestCoordinator_SleepThenWake(t *testing.T) {
	t.Parallel()
	j := &journal{}
	mon := &fakeMonitor{events: make(chan Event), j: j}
	sess := &fakeSession{j: j, started: make(chan int, 4)}
	c := NewCoordinator(mon, sess.run, quietLogger())

	terminate := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), terminate) }()

	waitStarted(t, sess, 1)
	mon.events <- PreparingSleep
	// logind only suspends, and so only wakes, after the lock is released.
	waitStep(t, j, "release", 1)
	mon.events <- WakingUp
	waitStarted(t, sess, 2)
	close(terminate)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not exit after terminate")
	}

	want := []string{
		"acquire", "run", "offline sleeping", "release",
		"acquire", "run", "offline shutting down", "release",
	}
	if got := j.snapshot(); !slices.Equal(got, want) {
		t.Errorf("steps = %v\nwant    %v", got, want)
	}
}

func TestCoordinator_WakeBeforeSessionStopped(t *testing.T) {
	t.Parallel()
	j := &journal{}
	mon := &fakeMonitor{events: make(chan Event), j: j}
	slowOffline := make(chan struct{})
	sess := &fakeSession{j: j, started: make(chan int, 4), hold: map[int]chan struct{}{1: slowOffline}}
	c := NewCoordinator(mon, sess.run, quietLogger())

	terminate := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), terminate) }()

	waitStarted(t, sess, 1)
	mon.events <- PreparingSleep
	waitStep(t, j, "offline sleeping", 1)
	// The host suspended and resumed before the first session finished.
	mon.events <- WakingUp
	close(slowOffline)

	waitStarted(t, sess, 2)
	close(terminate)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not exit after terminate")
	}
}

func TestCoordinator_FailedRunWaitsForWake(t *testing.T) {
	t.Parallel()
	j := &journal{}
	mon := &fakeMonitor{events: make(chan Event), j: j}
	boom := errors.New("connection lost")
	sess := &fakeSession{j: j, started: make(chan int, 4), fail: map[int]error{1: boom}}
	c := NewCoordinator(mon, sess.run, quietLogger())

	terminate := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), terminate) }()

	waitStarted(t, sess, 1)
	waitStep(t, j, "release", 1)
	// A wake without a preceding sleep does not restart the session.
	mon.events <- WakingUp
	mon.events <- PreparingSleep
	mon.events <- WakingUp
	waitStarted(t, sess, 2)
	close(terminate)

	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v, want nil after clean second run", err)
	}
}

func TestCoordinator_FailedRunThenTerminate(t *testing.T) {
	t.Parallel()
	j := &journal{}
	mon := &fakeMonitor{events: make(chan Event), j: j}
	boom := errors.New("subscribe refused")
	sess := &fakeSession{j: j, started: make(chan int, 4), fail: map[int]error{1: boom}}
	c := NewCoordinator(mon, sess.run, quietLogger())

	terminate := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), terminate) }()

	waitStarted(t, sess, 1)
	close(terminate)

	select {
	case err := <-errCh:
		if !errors.Is(err, boom) {
			t.Errorf("Run() error = %v, want %v", err, boom)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not exit")
	}
	if got := j.snapshot(); !slices.Equal(got, []string{"acquire", "run", "failed", "release"}) {
		t.Errorf("steps = %v", got)
	}
}

func TestNop(t *testing.T) {
	t.Parallel()
	var m Monitor = Nop{}
	events, err := m.Events(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-events:
		t.Errorf("Nop delivered %v", ev)
	default:
	}
	lock, err := m.Inhibit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestParseSignal(t *testing.T) {
	t.Parallel()
	name := logindManager + "." + prepareForSleep
	tests := []struct {
		name   string
		sig    *dbus.Signal
		want   Event
		wantOK bool
	}{
		{"sleep", &dbus.Signal{Name: name, Body: []any{true}}, PreparingSleep, true},
		{"wake", &dbus.Signal{Name: name, Body: []any{false}}, WakingUp, true},
		{"other member", &dbus.Signal{Name: logindManager + ".SessionNew", Body: []any{true}}, 0, false},
		{"bad body", &dbus.Signal{Name: name, Body: []any{"yes"}}, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSignal(tt.sig)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseSignal() = %v, %v, want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
