package session

import (
	"fmt"
	"net"
	"strings"
	"sync"
)

// Network is the link-layer association the broker session rides on.
type Network interface {
	Associate() error
	HardwareAddr() string
	Name() string
}

// HostNetwork treats association as the operating system's job and waits
// for an interface to be up with an address. The interface is the
// configured one, or the first non-loopback interface with a MAC.
type HostNetwork struct {
	name  string
	iface string

	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)

	mu sync.Mutex
	hw string
}

func NewHostNetwork(name, iface string) *HostNetwork {
	return &HostNetwork{
		name:       name,
		iface:      iface,
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

func (n *HostNetwork) Name() string { return n.name }

func (n *HostNetwork) Associate() error {
	ifaces, err := n.interfaces()
	if err != nil {
		return fmt.Errorf("%w: list interfaces: %w", ErrNetworkUnavailable, err)
	}
	for _, i := range ifaces {
		if n.iface != "" && i.Name != n.iface {
			continue
		}
		if n.iface == "" && (i.Flags&net.FlagLoopback != 0 || len(i.HardwareAddr) == 0) {
			continue
		}
		if i.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := n.addrs(i)
		if err != nil || len(addrs) == 0 {
			continue
		}
		n.mu.Lock()
		n.hw = strings.ToUpper(i.HardwareAddr.String())
		n.mu.Unlock()
		return nil
	}
	if n.iface != "" {
		return fmt.Errorf("%w: interface %s is not up", ErrNetworkUnavailable, n.iface)
	}
	return fmt.Errorf("%w: no interface is up", ErrNetworkUnavailable)
}

// HardwareAddr is empty until Associate succeeds.
func (n *HostNetwork) HardwareAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hw
}
