package lanchat

import (
	"net"
	"strconv"
	"strings"

	"lanchat/internal/wire"
)

// localIP resolves the address the OS would use to reach the multicast
// group. No packets are sent: a connected UDP socket just picks the route.
func localIP() string {
	target := net.JoinHostPort(wire.MulticastGroup, strconv.Itoa(wire.UDPPort))
	if conn, err := net.Dial("udp4", target); err == nil {
		addr, ok := conn.LocalAddr().(*net.UDPAddr)
		_ = conn.Close()
		if ok && addr.IP != nil {
			if ip := addr.IP.String(); usableIP(ip) {
				return ip
			}
		}
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			if ip := ipNet.IP.String(); usableIP(ip) {
				return ip
			}
		}
	}
	return "127.0.0.1"
}

// usableIP reports whether ip is a non-loopback address peers can reach.
func usableIP(ip string) bool {
	return ip != "" && ip != "0.0.0.0" && !strings.HasPrefix(ip, "127.")
}
