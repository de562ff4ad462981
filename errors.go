package tunnelkeeper

import (
	"errors"
	"fmt"
)

// errors
var (
	ErrReadConfig    = errors.New("unable to read configuration")
	ErrInvalidPort   = errors.New("invalid port number")
	ErrInvalidTarget = errors.New("invalid target declaration")
	ErrKeyFile       = errors.New("unable to load private key")
	ErrKnownHosts    = errors.New("unable to load known_hosts")
	ErrConnect       = errors.New("unable to connect")
	ErrNotConnected  = errors.New("session not connected")
	ErrKeepalive     = errors.New("keepalive failed")
	ErrForward       = errors.New("unable to register forward")
	ErrDisconnect    = errors.New("error during disconnect")
	ErrInterrupted   = errors.New("supervisor interrupted")
	ErrInvalidOption = errors.New("invalid option")
	ErrAgentNotFound = errors.New("SSH agent not available")
)

// ParseError reports a fatal problem on a specific configuration line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d [%s]: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
