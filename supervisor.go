package tunnelkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
)

// State of a supervisor's connection.
type State int

// Supervisor states
const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

// Supervisor keeps the SSH connection to one target alive and makes sure
// all of the target's forwards are registered on it. A Supervisor is driven
// by a single goroutine calling Run and shares nothing with other
// supervisors.
type Supervisor struct {
	target        Target
	dialer        Dialer
	clock         clock.Clock
	checkInterval time.Duration
	retryInterval time.Duration
	logger        *slog.Logger

	session Session
	lastErr error
}

// NewSupervisor creates a supervisor for t. The target is copied.
func NewSupervisor(t Target, opts ...Option) (*Supervisor, error) {
	c, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newSupervisor(t, c), nil
}

func newSupervisor(t Target, c Config) *Supervisor {
	return &Supervisor{
		target:        t.clone(),
		dialer:        c.Dialer,
		clock:         c.Clock,
		checkInterval: c.CheckInterval,
		retryInterval: c.RetryInterval,
		logger:        c.Logger.With("target", t.String()),
	}
}

// Target returns a copy of the supervised target.
func (s *Supervisor) Target() Target {
	return s.target.clone()
}

// Run checks the connection, reconnecting and re-registering forwards when
// needed, then pauses for the check interval, or the retry interval after a
// failure, and starts over. Failures never stop the loop. Run only returns
// when ctx is done; the error then wraps ErrInterrupted and the context's
// cause, and the connection has been torn down.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervising",
		"local_forwards", len(s.target.LocalForwards),
		"remote_forwards", len(s.target.RemoteForwards))

	for {
		pause := s.checkInterval

		err := s.check(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return s.stop(ctx)

		case err != nil:
			s.lastErr = err
			s.logFailure(err)
			pause = s.retryInterval
			s.logger.Info("trying to reconnect", "in", pause)

		case s.lastErr != nil:
			s.logger.Info("recovered", "previous_error", s.lastErr.Error())
			s.lastErr = nil
		}

		if err := s.sleep(ctx, pause); err != nil {
			return s.stop(ctx)
		}
	}
}

// check is one health check. A live session gets a keepalive, anything
// else leads to a full reconnect.
func (s *Supervisor) check(ctx context.Context) error {
	s.logger.Debug("checking connection", "state", s.state())

	if s.session != nil && s.session.IsConnected() {
		if err := s.session.SendKeepalive(); err != nil {
			s.discard()
			return err
		}
		return nil
	}
	return s.reconnect(ctx)
}

func (s *Supervisor) reconnect(ctx context.Context) error {
	if s.session != nil {
		s.logger.Debug("no connection, forcing disconnect")
		err := s.session.ForceDisconnect()
		s.session = nil
		if err != nil {
			return err
		}
	} else {
		s.logger.Debug("no connection")
	}

	s.logger.Info("connecting", "addr", s.target.Addr())
	session, err := s.dialer.Dial(ctx, s.target)
	if err != nil {
		return err
	}
	s.logger.Info("connected")

	if err := s.registerForwards(session); err != nil {
		// forwards registered so far die with the session
		if derr := session.ForceDisconnect(); derr != nil {
			s.logger.Debug("disconnect after failed forward", "error", derr)
		}
		return err
	}

	s.session = session
	return nil
}

// registerForwards registers local forwards, then remote forwards, each in
// declaration order, stopping at the first failure.
func (s *Supervisor) registerForwards(session Session) error {
	for _, f := range s.target.LocalForwards {
		s.logger.Info("forwarding", "forward", f.String())
		if err := session.RegisterLocalForward(f); err != nil {
			return err
		}
	}
	for _, f := range s.target.RemoteForwards {
		s.logger.Info("forwarding", "forward", f.String())
		if err := session.RegisterRemoteForward(f); err != nil {
			return err
		}
	}
	return nil
}

// discard drops the current session, disconnecting it on a best effort basis.
func (s *Supervisor) discard() {
	if s.session == nil {
		return
	}
	if err := s.session.ForceDisconnect(); err != nil {
		s.logger.Debug("disconnect", "error", err)
	}
	s.session = nil
}

func (s *Supervisor) stop(ctx context.Context) error {
	s.discard()
	cause := context.Cause(ctx)
	s.logger.Info("stopped", "cause", cause)
	return fmt.Errorf("%w [%s]: %w", ErrInterrupted, s.target, cause)
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) state() State {
	if s.session != nil {
		return Connected
	}
	return Disconnected
}

func (s *Supervisor) logFailure(err error) {
	attrs := []any{"error", err.Error()}
	if cause := rootCause(err); cause != nil {
		attrs = append(attrs, "cause", cause.Error())
	}
	s.logger.Error("connection failure", attrs...)
}

// rootCause follows the wrap chain of err to the innermost error. For
// errors wrapping several errors the last one is followed, since that is
// where fmt.Errorf("%w: %w", sentinel, cause) puts the cause. It returns nil
// if err wraps nothing.
func rootCause(err error) error {
	var cause error
	for {
		var next error
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			next = e.Unwrap()
		case interface{ Unwrap() []error }:
			if errs := e.Unwrap(); len(errs) > 0 {
				next = errs[len(errs)-1]
			}
		}
		if next == nil {
			return cause
		}
		cause = next
		err = next
	}
}
