package tunnelkeeper

import "context"

// Dialer opens SSH sessions to targets. The supervisor never looks inside a
// Session; everything protocol related lives behind these two interfaces.
type Dialer interface {
	// Dial connects and authenticates to t. It must not register any of
	// the target's forwards.
	Dial(ctx context.Context, t Target) (Session, error)
}

// Session is one live SSH connection.
type Session interface {
	// IsConnected reports whether the underlying connection is still up.
	IsConnected() bool

	// SendKeepalive sends a protocol level keepalive and waits for the
	// reply.
	SendKeepalive() error

	// ForceDisconnect tears down the connection and every forward
	// registered on it. The session cannot be used afterwards.
	ForceDisconnect() error

	RegisterLocalForward(f Forward) error
	RegisterRemoteForward(f Forward) error
}
