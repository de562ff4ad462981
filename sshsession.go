package tunnelkeeper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/crypto/ssh"
)

const keepaliveRequest = "keepalive@openssh.com"

// sshSession is a Session on top of an *ssh.Client. It owns every listener
// and relayed connection created for its forwards.
type sshSession struct {
	client           *ssh.Client
	keepaliveTimeout time.Duration
	clock            clock.Clock
	logger           *slog.Logger

	// done is closed when the SSH connection has terminated.
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	listeners []net.Listener
	conns     map[*trackedConn]struct{}
}

func newSSHSession(client *ssh.Client, keepaliveTimeout time.Duration, clk clock.Clock, logger *slog.Logger) *sshSession {
	s := &sshSession{
		client:           client,
		keepaliveTimeout: keepaliveTimeout,
		clock:            clk,
		logger:           logger,
		done:             make(chan struct{}),
		conns:            make(map[*trackedConn]struct{}),
	}
	go func() {
		client.Wait()
		close(s.done)
	}()
	return s
}

func (s *sshSession) IsConnected() bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *sshSession) SendKeepalive() error {
	if !s.IsConnected() {
		return fmt.Errorf("%w: %w", ErrKeepalive, ErrNotConnected)
	}

	result := make(chan error, 1)
	go func() {
		_, _, err := s.client.SendRequest(keepaliveRequest, true, nil)
		result <- err
	}()

	var timeout <-chan time.Time
	if s.keepaliveTimeout > 0 {
		timer := s.clock.NewTimer(s.keepaliveTimeout)
		defer timer.Stop()
		timeout = timer.Chan()
	}

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrKeepalive, err)
		}
		return nil
	case <-timeout:
		// unblocks the pending request
		s.client.Close()
		return fmt.Errorf("%w: no reply within %v", ErrKeepalive, s.keepaliveTimeout)
	}
}

func (s *sshSession) RegisterLocalForward(f Forward) error {
	ln, err := net.Listen("tcp", f.BindAddr())
	if err != nil {
		return fmt.Errorf("%w [%s]: %w", ErrForward, f, err)
	}
	if !s.trackListener(ln) {
		ln.Close()
		return fmt.Errorf("%w [%s]: %w", ErrForward, f, ErrNotConnected)
	}

	go s.serveForward(ln, f, s.client.Dial)
	return nil
}

func (s *sshSession) RegisterRemoteForward(f Forward) error {
	ln, err := s.client.Listen("tcp", f.BindAddr())
	if err != nil {
		return fmt.Errorf("%w [%s]: %w", ErrForward, f, err)
	}
	if !s.trackListener(ln) {
		ln.Close()
		return fmt.Errorf("%w [%s]: %w", ErrForward, f, ErrNotConnected)
	}

	go s.serveForward(ln, f, net.Dial)
	return nil
}

// ForceDisconnect closes the client first so that nothing below can block
// on a dead connection, then the listeners and relayed connections.
func (s *sshSession) ForceDisconnect() error {
	s.mu.Lock()
	s.closed = true
	listeners := s.listeners
	conns := make([]*trackedConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.listeners = nil
	s.mu.Unlock()

	err := s.client.Close()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		err = nil
	}

	for _, ln := range listeners {
		// remote listeners fail to send cancel-tcpip-forward on a closed
		// client, which is fine
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrDisconnect, err)
	}
	return nil
}

func (s *sshSession) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners = append(s.listeners, ln)
	return true
}

// track wraps c so that ForceDisconnect closes it. If the session is
// already closed c is closed immediately and ok is false.
func (s *sshSession) track(c net.Conn) (*trackedConn, bool) {
	tc := &trackedConn{Conn: c, session: s}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close()
		return nil, false
	}
	s.conns[tc] = struct{}{}
	s.mu.Unlock()
	return tc, true
}

func (s *sshSession) untrack(c *trackedConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
