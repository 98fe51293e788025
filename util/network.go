package util

import (
	"fmt"
	"net"
	"strconv"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ParseIPv4 returns the dotted-quad form of s, rejecting IPv6 and
// anything that is not a literal address.
func ParseIPv4(s string) (string, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("%q is not an IPv4 address", s)
	}
	return ip.To4().String(), nil
}

// UDPPortInUse reports whether some process already holds the given
// UDP port on the wildcard address.  A TFTP server that is up and
// listening makes the bind fail.
func UDPPortInUse(port int) bool {
	pc, err := net.ListenPacket("udp4", FormatAddr("0.0.0.0", port))
	if err != nil {
		return true
	}
	pc.Close()
	return false
}
