package tunnelkeeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

// fakeDialer records every call made through it, across all sessions it
// hands out, as a flat list of events such as "dial host1 #1" or
// "L host1 #1 *:8080 -> 127.0.0.1:80".
type fakeDialer struct {
	mu     sync.Mutex
	events []string
	dials  map[string]int

	// dialErr, if set, decides whether the n-th dial of a host fails.
	dialErr func(host string, n int) error
	// configure, if set, adjusts each new session before it is returned.
	configure func(s *fakeSession)
	// block makes dials to the named host wait for ctx.
	block map[string]bool

	sessions []*fakeSession
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dials: make(map[string]int),
		block: make(map[string]bool),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, t Target) (Session, error) {
	d.mu.Lock()
	d.dials[t.Host]++
	n := d.dials[t.Host]
	d.events = append(d.events, fmt.Sprintf("dial %s #%d", t.Host, n))
	block := d.block[t.Host]
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.dialErr != nil {
		if err := d.dialErr(t.Host, n); err != nil {
			return nil, fmt.Errorf("%w to [%s]: %w", ErrConnect, t, err)
		}
	}

	s := &fakeSession{dialer: d, name: fmt.Sprintf("%s #%d", t.Host, n), connected: true}
	if d.configure != nil {
		d.configure(s)
	}

	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

// Events returns the events recorded since the last call.
func (d *fakeDialer) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev := d.events
	d.events = nil
	return ev
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

type fakeSession struct {
	dialer *fakeDialer
	name   string

	mu            sync.Mutex
	connected     bool
	registered    int
	failForward   int // 1-based index of the forward registration to fail
	keepaliveErr  error
	disconnectErr error
	disconnected  bool
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) setConnected(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = v
}

func (s *fakeSession) isDisconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *fakeSession) SendKeepalive() error {
	s.dialer.record("keepalive %s", s.name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepaliveErr != nil {
		return fmt.Errorf("%w: %w", ErrKeepalive, s.keepaliveErr)
	}
	return nil
}

func (s *fakeSession) ForceDisconnect() error {
	s.dialer.record("disconnect %s", s.name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnected = true
	return s.disconnectErr
}

func (s *fakeSession) RegisterLocalForward(f Forward) error {
	return s.register(f)
}

func (s *fakeSession) RegisterRemoteForward(f Forward) error {
	return s.register(f)
}

func (s *fakeSession) register(f Forward) error {
	s.dialer.record("%s %s %s:%d -> %s", f.Direction, s.name, f.BindAddress, f.BindPort, f.TargetAddr())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered++
	if s.registered == s.failForward {
		return fmt.Errorf("%w [%s]: address already in use", ErrForward, f)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitAlarm waits until a goroutine has started waiting on clk.
func waitAlarm(t *testing.T, clk *testclock.Clock) {
	t.Helper()
	select {
	case <-clk.Alarms():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the supervisor to pause")
	}
}

// assertNoAlarm checks that nothing started waiting on clk for a little while.
func assertNoAlarm(t *testing.T, clk *testclock.Clock) {
	t.Helper()
	select {
	case <-clk.Alarms():
		t.Fatal("supervisor ran an iteration too early")
	case <-time.After(50 * time.Millisecond):
	}
}

func assertEvents(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events:\n got  %q\n want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q\n all: %q", i, got[i], want[i], got)
		}
	}
}
