package tunnelkeeper

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/juju/clock"
	"golang.org/x/crypto/ssh"
)

// Defaults for the supervisor pacing.
const (
	DefaultCheckInterval    = 5 * time.Minute
	DefaultRetryInterval    = 3 * time.Minute
	DefaultKeepaliveTimeout = time.Minute
)

// Config contains the configuration shared by supervisors and the SSH dialer.
type Config struct {
	// Dialer opens SSH sessions. If nil an SSHDialer is built from the
	// remaining fields.
	Dialer Dialer
	Clock  clock.Clock

	// CheckInterval is the pause after a successful health check,
	// RetryInterval the pause after a failure.
	CheckInterval time.Duration
	RetryInterval time.Duration

	DialTimeout      time.Duration
	KeepaliveTimeout time.Duration
	UseAgent         bool
	KnownHostsPath   string
	HostKeyCB        ssh.HostKeyCallback // takes priority over KnownHostsPath
	Logger           *slog.Logger
}

// Option is a configuration option
type Option func(*Config) error

func defaultConfig() Config {
	return Config{
		Clock:            clock.WallClock,
		CheckInterval:    DefaultCheckInterval,
		RetryInterval:    DefaultRetryInterval,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: true,
		})).With("component", "tunnelkeeper"),
	}
}

// buildConfig applies opts on top of the defaults and fills in the SSH
// dialer if none was given.
func buildConfig(opts []Option) (Config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return Config{}, err
		}
	}

	if c.Dialer == nil {
		d, err := newSSHDialer(c)
		if err != nil {
			return Config{}, err
		}
		c.Dialer = d
	}
	return c, nil
}

// WithDialer replaces the SSH implementation used to open sessions.
func WithDialer(d Dialer) Option {
	return func(c *Config) error {
		if d == nil {
			return fmt.Errorf("%w: nil dialer", ErrInvalidOption)
		}
		c.Dialer = d
		return nil
	}
}

// WithClock sets the clock used for the pauses between health checks.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) error {
		if clk == nil {
			return fmt.Errorf("%w: nil clock", ErrInvalidOption)
		}
		c.Clock = clk
		return nil
	}
}

// WithCheckInterval sets the pause after a successful health check.
// Defaults to 5 minutes.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: check interval must be positive, got %v", ErrInvalidOption, d)
		}
		c.CheckInterval = d
		return nil
	}
}

// WithRetryInterval sets the pause after a failed health check or
// reconnect. Defaults to 3 minutes.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: retry interval must be positive, got %v", ErrInvalidOption, d)
		}
		c.RetryInterval = d
		return nil
	}
}

// WithDialTimeout bounds the TCP connect and SSH handshake.
// Use 0 to rely on the operating system. Default is 0.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("%w: negative dial timeout", ErrInvalidOption)
		}
		c.DialTimeout = d
		return nil
	}
}

// WithKeepaliveTimeout sets how long to wait for the reply to a keepalive
// request. Use 0 to wait indefinitely. Default is 1 minute.
func WithKeepaliveTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("%w: negative keepalive timeout", ErrInvalidOption)
		}
		c.KeepaliveTimeout = d
		return nil
	}
}

// WithAgent adds the agent's keys after each target's own key file. A
// missing or unreachable agent is logged at debug level and ignored.
func WithAgent() Option {
	return func(c *Config) error {
		c.UseAgent = true
		return nil
	}
}

// WithoutAgent undoes WithAgent; targets authenticate with their key file only.
func WithoutAgent() Option {
	return func(c *Config) error {
		c.UseAgent = false
		return nil
	}
}

// WithKnownHosts turns on host key checking, which is off by default: every
// host key is accepted unless a known_hosts file is given here. An empty path
// keeps the default. WithHostKeyCallback wins over this option.
func WithKnownHosts(path string) Option {
	return func(c *Config) error {
		c.KnownHostsPath = path
		return nil
	}
}

// WithHostKeyCallback hands host key decisions for every target to cb.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *Config) error {
		c.HostKeyCB = cb
		return nil
	}
}

// WithLogger replaces the default slog.Logger with a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidOption)
		}
		c.Logger = l
		return nil
	}
}
