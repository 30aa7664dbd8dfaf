package discovery

import (
	"net"
	"sort"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// DeriveSubnets partitions all devices by /24 address prefix and replaces the
// subnet list wholesale. Full recomputation after each pass is cheap and
// avoids incremental drift. Devices without a parseable IPv4 address are
// skipped.
func (g *GraphStore) DeriveSubnets() []models.NetworkSubnet {
	g.mu.Lock()
	defer g.mu.Unlock()

	members := make(map[string][]string)
	for id, d := range g.devices {
		cidr := subnetFor(d.IPAddress)
		if cidr == "" {
			continue
		}
		members[cidr] = append(members[cidr], id)
	}

	subnets := make([]models.NetworkSubnet, 0, len(members))
	for cidr, ids := range members {
		sort.Strings(ids)
		subnets = append(subnets, models.NetworkSubnet{
			CIDR:      cidr,
			Gateway:   gatewayCandidate(cidr),
			DeviceIDs: ids,
		})
	}
	sort.Slice(subnets, func(i, j int) bool { return subnets[i].CIDR < subnets[j].CIDR })

	g.subnets = subnets

	out := make([]models.NetworkSubnet, len(subnets))
	for i, s := range subnets {
		cp := s
		cp.DeviceIDs = append([]string(nil), s.DeviceIDs...)
		out[i] = cp
	}
	return out
}

// subnetFor returns the /24 CIDR containing the given IPv4 address, or ""
// when the address is missing or not IPv4.
func subnetFor(address string) string {
	ip := net.ParseIP(address)
	if ip == nil {
		return ""
	}
	v4 := ip.To4()
	if v4 == nil {
		return ""
	}
	network := net.IPNet{
		IP:   v4.Mask(net.CIDRMask(24, 32)),
		Mask: net.CIDRMask(24, 32),
	}
	return network.String()
}

// gatewayCandidate returns the lowest host address in the prefix
// (network address + 1), the conventional gateway position.
func gatewayCandidate(cidr string) string {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ""
	}
	ip := ipNet.IP.To4()
	if ip == nil {
		return ""
	}
	gw := make(net.IP, len(ip))
	copy(gw, ip)
	gw[len(gw)-1]++
	return gw.String()
}
