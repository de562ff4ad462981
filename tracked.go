package tunnelkeeper

import (
	"net"
	"sync"
)

// trackedConn is one end of a relayed forward connection. It belongs to
// the session that accepted or dialed it and leaves the session's set the
// first time it is closed.
type trackedConn struct {
	net.Conn
	session *sshSession
	once    sync.Once
}

func (c *trackedConn) Close() error {
	err := net.ErrClosed
	c.once.Do(func() {
		err = c.Conn.Close()
		c.session.untrack(c)
	})
	return err
}

// closeWrite signals EOF to the peer while still reading, when the
// connection type allows it (TCP conns and SSH channels both do).
func (c *trackedConn) closeWrite() {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}
