package tunnelkeeper

import (
	"errors"
	"io"
	"net"
	"sync"
)

// serveForward accepts connections on ln and relays each of them to a
// connection opened by dial. It returns when ln is closed.
func (s *sshSession) serveForward(ln net.Listener, f Forward, dial func(network, addr string) (net.Conn, error)) {
	logger := s.logger.With("forward", f.String())
	for {
		in, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				logger.Debug("stopped accepting", "error", err)
			}
			return
		}

		go func() {
			out, err := dial("tcp", f.TargetAddr())
			if err != nil {
				logger.Warn("unable to reach forward target", "error", err)
				in.Close()
				return
			}

			a, ok := s.track(in)
			if !ok {
				out.Close()
				return
			}
			b, ok := s.track(out)
			if !ok {
				a.Close()
				return
			}
			relay(a, b)
		}()
	}
}

// relay copies data in both directions until both sides are done, then
// closes both connections.
func relay(a, b *trackedConn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(a, b)
		a.closeWrite()
	}()
	go func() {
		defer wg.Done()
		io.Copy(b, a)
		b.closeWrite()
	}()
	wg.Wait()
	a.Close()
	b.Close()
}
