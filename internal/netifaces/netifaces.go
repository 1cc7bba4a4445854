// Package netifaces resolves the local network interface a link endpoint binds to.
package netifaces

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrNoHardwareAddr is returned by Resolve for interfaces without a MAC address
// when non-ethernet interfaces are not allowed.
var ErrNoHardwareAddr = errors.New("interface has no hardware address")

// Interface holds the link-layer identity of a single interface.
type Interface struct {
	Name  string
	Index int
	MTU   int
	MAC   net.HardwareAddr
	Flags net.Flags
	// Addrs lists the IPv4 prefixes assigned to the interface, if any.
	Addrs []netip.Prefix
}

// Up reports whether the interface is administratively up.
func (i *Interface) Up() bool {
	return i.Flags&net.FlagUp != 0
}

// Multicast reports whether the interface supports multicast.
func (i *Interface) Multicast() bool {
	return i.Flags&net.FlagMulticast != 0
}

// lister is swapped in tests.
var lister = net.Interfaces

// Interfaces returns every interface on the host, including those without an
// IPv4 address: frames are relayed at the link layer.
func Interfaces() ([]Interface, error) {
	ifaces, err := lister()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	result := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		info := Interface{
			Name:  iface.Name,
			Index: iface.Index,
			MTU:   iface.MTU,
			MAC:   iface.HardwareAddr,
			Flags: iface.Flags,
		}
		if addrs, err := iface.Addrs(); err == nil {
			info.Addrs = ipv4Prefixes(addrs)
		}
		result = append(result, info)
	}
	return result, nil
}

func ipv4Prefixes(addrs []net.Addr) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		ones, bits := ipnet.Mask.Size()
		if bits == 128 {
			ones -= 96
		}
		ip, _ := netip.AddrFromSlice(ip4)
		prefixes = append(prefixes, netip.PrefixFrom(ip, ones))
	}
	return prefixes
}

// FindByName finds an interface by its OS name (e.g. "eth0").
func FindByName(name string) (*Interface, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return nil, err
	}
	for _, info := range ifaces {
		if info.Name == name {
			return &info, nil
		}
	}
	return nil, fmt.Errorf("interface %s not found", name)
}

// FindByIP finds the interface holding the given IPv4 address.
func FindByIP(ip netip.Addr) (*Interface, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return nil, err
	}
	for _, info := range ifaces {
		for _, p := range info.Addrs {
			if p.Addr() == ip {
				return &info, nil
			}
		}
	}
	return nil, fmt.Errorf("interface with IP %s not found", ip)
}

// FindByCIDR finds the first interface with an address inside the given block.
func FindByCIDR(cidr netip.Prefix) (*Interface, error) {
	ifaces, err := Interfaces()
	if err != nil {
		return nil, err
	}
	for _, info := range ifaces {
		for _, p := range info.Addrs {
			if cidr.Contains(p.Addr()) {
				return &info, nil
			}
		}
	}
	return nil, fmt.Errorf("no interface found in network %s", cidr)
}

// Resolve interprets name as an interface name, then as an IPv4 address, then
// as a CIDR block. Interfaces without a MAC are rejected unless allowNonEther.
func Resolve(name string, allowNonEther bool) (*Interface, error) {
	info, err := FindByName(name)
	if err != nil {
		if ip, perr := netip.ParseAddr(name); perr == nil && ip.Is4() {
			info, err = FindByIP(ip)
		} else if prefix, perr := netip.ParsePrefix(name); perr == nil && prefix.Addr().Is4() {
			info, err = FindByCIDR(prefix.Masked())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("interface %s does not exist: %w", name, err)
	}
	if len(info.MAC) == 0 && !allowNonEther {
		return nil, fmt.Errorf("%s: %w", info.Name, ErrNoHardwareAddr)
	}
	return info, nil
}
