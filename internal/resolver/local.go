package resolver

import (
	"fmt"
	"net"
	"time"

	"ipwatch/internal/types"
	"ipwatch/internal/utils"
)

// probeDestination is a well-known public address used to select the
// outbound route. Dialing UDP binds a local address without sending any
// traffic; the destination does not have to be reachable.
const probeDestination = "8.8.8.8:53"

// ResolveLocal determines the machine's local network-facing address
// without contacting any external service. It fails only when the machine
// has no usable network interface.
func ResolveLocal() (*types.ResolvedAddress, error) {
	if addr, err := localFromRoute(); err == nil {
		return addr, nil
	}
	return localFromInterfaces()
}

// localFromRoute asks the kernel which source address it would pick for
// an outbound packet
func localFromRoute() (*types.ResolvedAddress, error) {
	conn, err := net.Dial("udp4", probeDestination)
	if err != nil {
		return nil, fmt.Errorf("failed to probe outbound route: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || udpAddr.IP == nil || udpAddr.IP.IsUnspecified() || udpAddr.IP.IsLoopback() {
		return nil, fmt.Errorf("no usable source address on outbound route")
	}

	return newLocalAddress(udpAddr.IP.String())
}

// localFromInterfaces scans interfaces for a unicast address, used when
// the machine has no default route
func localFromInterfaces() (*types.ResolvedAddress, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsUnspecified() || ipnet.IP.IsLinkLocalUnicast() {
				continue
			}
			return newLocalAddress(ipnet.IP.String())
		}
	}

	return nil, fmt.Errorf("no usable network interface found")
}

func newLocalAddress(value string) (*types.ResolvedAddress, error) {
	family, ok := utils.FamilyOf(value)
	if !ok {
		return nil, fmt.Errorf("invalid local address: %q", value)
	}
	return &types.ResolvedAddress{
		Value:      value,
		Family:     family,
		Source:     types.SourceLocal,
		ResolvedAt: time.Now(),
	}, nil
}
