package tunnelkeeper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/juju/clock"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHDialer is the Dialer backed by golang.org/x/crypto/ssh. It holds no
// per-connection state and may be shared by all supervisors.
type SSHDialer struct {
	hostKeyCB        ssh.HostKeyCallback
	useAgent         bool
	dialTimeout      time.Duration
	keepaliveTimeout time.Duration
	clock            clock.Clock
	logger           *slog.Logger
}

// NewSSHDialer creates an SSHDialer. Only the host key, agent, timeout,
// clock and logger options are relevant.
func NewSSHDialer(opts ...Option) (*SSHDialer, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return nil, err
		}
	}
	return newSSHDialer(c)
}

func newSSHDialer(c Config) (*SSHDialer, error) {
	hostKeyCB := c.HostKeyCB
	if hostKeyCB == nil && c.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("%w [%s]: %w", ErrKnownHosts, c.KnownHostsPath, err)
		}
		hostKeyCB = cb
	}
	if hostKeyCB == nil {
		c.Logger.Warn("host key verification disabled, accepting any host key")
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}

	return &SSHDialer{
		hostKeyCB:        hostKeyCB,
		useAgent:         c.UseAgent,
		dialTimeout:      c.DialTimeout,
		keepaliveTimeout: c.KeepaliveTimeout,
		clock:            c.Clock,
		logger:           c.Logger,
	}, nil
}

// Dial connects to t using its private key and, if enabled, the SSH agent.
// Cancelling ctx aborts both the TCP connect and the SSH handshake.
func (d *SSHDialer) Dial(ctx context.Context, t Target) (Session, error) {
	auth, closeAgent, err := d.authMethods(t)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	config := &ssh.ClientConfig{
		User:            t.User,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCB,
	}

	addr := t.Addr()
	netDialer := net.Dialer{Timeout: d.dialTimeout}
	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w to [%s]: %w", ErrConnect, t, err)
	}

	if d.dialTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.dialTimeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		return nil, fmt.Errorf("%w to [%s]: %w", ErrConnect, t, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return newSSHSession(ssh.NewClient(ncc, chans, reqs), d.keepaliveTimeout, d.clock, d.logger.With("target", t.String())), nil
}

// authMethods loads the target's key and, if enabled, connects to the
// agent. The returned func releases the agent connection and must be
// called once the handshake is over.
func (d *SSHDialer) authMethods(t Target) ([]ssh.AuthMethod, func(), error) {
	b, err := os.ReadFile(t.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %q: %w", ErrKeyFile, t.PrivateKeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return nil, nil, fmt.Errorf("%w %q: %w", ErrKeyFile, t.PrivateKeyPath, err)
	}

	auth := []ssh.AuthMethod{ssh.PublicKeys(signer)}
	if !d.useAgent {
		return auth, func() {}, nil
	}

	agentConn, err := dialAgent()
	if err != nil {
		d.logger.Debug("not using SSH agent", "error", err)
		return auth, func() {}, nil
	}
	auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
	return auth, func() { agentConn.Close() }, nil
}

func dialAgent() (net.Conn, error) {
	authSockPath := os.Getenv("SSH_AUTH_SOCK")
	if authSockPath == "" {
		return nil, fmt.Errorf("%w: SSH_AUTH_SOCK not set", ErrAgentNotFound)
	}
	conn, err := net.Dial("unix", authSockPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAgentNotFound, err)
	}
	return conn, nil
}
