package tunnelkeeper

import (
	"fmt"
	"net"
	"slices"
	"strconv"
)

// DefaultSSHPort is used when a target declaration has no port.
const DefaultSSHPort = 22

// Target is one SSH destination together with the forwards that should be
// kept open through it. Forwards are kept in the order they were declared.
type Target struct {
	Host           string
	Port           uint16
	User           string
	PrivateKeyPath string
	LocalForwards  []Forward
	RemoteForwards []Forward
}

// Addr returns host:port suitable for dialing.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// Forwards returns the local forwards followed by the remote forwards.
func (t Target) Forwards() []Forward {
	all := make([]Forward, 0, len(t.LocalForwards)+len(t.RemoteForwards))
	all = append(all, t.LocalForwards...)
	return append(all, t.RemoteForwards...)
}

// clone returns a copy that shares no backing arrays with t.
func (t Target) clone() Target {
	t.LocalForwards = slices.Clone(t.LocalForwards)
	t.RemoteForwards = slices.Clone(t.RemoteForwards)
	return t
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s:%d", t.User, t.Host, t.Port)
}
