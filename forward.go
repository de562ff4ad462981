package tunnelkeeper

import (
	"fmt"
	"net"
	"strconv"
)

// Direction tells whether a forward binds on the local side or on the
// remote side of the SSH connection.
type Direction int

// Forward directions
const (
	Local Direction = iota
	Remote
)

// AnyAddress is the bind address that means "all interfaces".
const AnyAddress = "*"

func (d Direction) String() string {
	switch d {
	case Local:
		return "L"
	case Remote:
		return "R"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Forward describes a single port forward rule. A Local forward listens on
// BindAddress:BindPort on this machine and connects to TargetHost:TargetPort
// from the remote end. A Remote forward listens on the remote end and
// connects to TargetHost:TargetPort from this machine.
type Forward struct {
	BindAddress string
	BindPort    uint16
	TargetHost  string
	TargetPort  uint16
	Direction   Direction
}

// NewForward returns a forward bound to all interfaces.
func NewForward(dir Direction, bindPort uint16, targetHost string, targetPort uint16) Forward {
	return Forward{
		BindAddress: AnyAddress,
		BindPort:    bindPort,
		TargetHost:  targetHost,
		TargetPort:  targetPort,
		Direction:   dir,
	}
}

// BindAddr returns the address to listen on. The wildcard address is
// translated to the unspecified IPv4 address, which both net.Listen and the
// remote end of a tcpip-forward request understand as all interfaces.
func (f Forward) BindAddr() string {
	host := f.BindAddress
	if host == "" || host == AnyAddress {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(int(f.BindPort)))
}

// TargetAddr returns TargetHost:TargetPort.
func (f Forward) TargetAddr() string {
	return net.JoinHostPort(f.TargetHost, strconv.Itoa(int(f.TargetPort)))
}

func (f Forward) String() string {
	bind := f.BindAddress
	if bind == "" {
		bind = AnyAddress
	}
	return fmt.Sprintf("%s %s:%d -> %s", f.Direction, bind, f.BindPort, f.TargetAddr())
}
