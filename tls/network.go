// Package tls issues the agent's HTTPS certificate from a local CA
// installed through truststore.
package tls

import (
	"net"
	"slices"
)

// GetLANIPs returns the IPv4 addresses of interfaces that are up,
// excluding loopback, sorted and without duplicates.
func GetLANIPs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := ipv4(addr); ip != "" {
				ips = append(ips, ip)
			}
		}
	}
	slices.Sort(ips)
	return slices.Compact(ips), nil
}

func ipv4(addr net.Addr) string {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip == nil || ip.IsLoopback() || ip.To4() == nil {
		return ""
	}
	return ip.String()
}

// GetAllHosts returns localhost, the loopback address and the LAN addresses.
// On error the loopback names are still returned.
func GetAllHosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	lanIPs, err := GetLANIPs()
	return append(hosts, lanIPs...), err
}
