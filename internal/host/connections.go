package host

import (
	"context"
	"net/netip"
	"slices"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// Connection is a Home Assistant device connection tuple such as
// ["mac", "02:42:ac:11:00:02"].
type Connection [2]string

// InterfaceLister returns the host's network interfaces.
type InterfaceLister func(ctx context.Context) (psnet.InterfaceStatList, error)

// MACConnections lists the hardware addresses of interfaces that are up
// and carry at least one global unicast address.
func MACConnections(ctx context.Context, list InterfaceLister) ([]Connection, error) {
	if list == nil {
		list = psnet.InterfacesWithContext
	}
	ifaces, err := list(ctx)
	if err != nil {
		return nil, err
	}

	var conns []Connection
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" || !slices.Contains(iface.Flags, "up") {
			continue
		}
		if !hasGlobalAddr(iface.Addrs) {
			continue
		}
		conns = append(conns, Connection{"mac", iface.HardwareAddr})
	}
	return conns, nil
}

func hasGlobalAddr(addrs psnet.InterfaceAddrList) bool {
	for _, a := range addrs {
		prefix, err := netip.ParsePrefix(a.Addr)
		if err != nil {
			continue
		}
		if prefix.Addr().IsGlobalUnicast() {
			return true
		}
	}
	return false
}
