package models

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// DeviceRole is a capability role advertised by a device.
type DeviceRole string

const (
	RoleBridge     DeviceRole = "bridge"
	RoleRouter     DeviceRole = "router"
	RoleSwitch     DeviceRole = "switch"
	RoleWirelessAP DeviceRole = "wireless_ap"
	RolePhone      DeviceRole = "phone"
	RoleRepeater   DeviceRole = "repeater"
	RoleHost       DeviceRole = "host"
	RoleOther      DeviceRole = "other"
)

// InterfaceStatus is the operational state of a network interface.
type InterfaceStatus string

const (
	InterfaceUp      InterfaceStatus = "up"
	InterfaceDown    InterfaceStatus = "down"
	InterfaceUnknown InterfaceStatus = "unknown"
)

// NetworkInterface represents a port on a discovered device. Interfaces are
// owned by their device and removed with it.
type NetworkInterface struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	MediaType   string          `json:"media_type,omitempty"`
	SpeedMbps   int64           `json:"speed_mbps,omitempty"`
	Status      InterfaceStatus `json:"status"`
	MACAddress  string          `json:"mac_address,omitempty"`
	VLAN        int             `json:"vlan,omitempty"`
	IPAddress   string          `json:"ip_address,omitempty"`
}

// Position is a 2-D layout coordinate assigned by the layout engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NetworkDevice is a discovered node in the topology graph.
type NetworkDevice struct {
	ID         string             `json:"id" example:"dev-001a2b3c4d5e"`
	Hostname   string             `json:"hostname" example:"core-sw-01"`
	IPAddress  string             `json:"ip_address,omitempty" example:"10.0.0.1"`
	MACAddress string             `json:"mac_address,omitempty" example:"00:1a:2b:3c:4d:5e"`
	Vendor     string             `json:"vendor,omitempty" example:"Cisco"`
	Model      string             `json:"model,omitempty" example:"C9300-48T"`
	Firmware   string             `json:"firmware,omitempty" example:"17.9.4"`
	Roles      []DeviceRole       `json:"roles,omitempty"`
	Interfaces []NetworkInterface `json:"interfaces,omitempty"`
	Position   *Position          `json:"position,omitempty"`
	FirstSeen  time.Time          `json:"first_seen"`
	LastSeen   time.Time          `json:"last_seen"`
}

// HasRole reports whether the device advertises the given capability role.
func (d *NetworkDevice) HasRole(role DeviceRole) bool {
	for _, r := range d.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsEndHost reports whether the device advertises only end-host capabilities.
// Devices with no roles at all are not treated as end hosts; their role is
// simply unknown.
func (d *NetworkDevice) IsEndHost() bool {
	if len(d.Roles) == 0 {
		return false
	}
	for _, r := range d.Roles {
		if r != RoleHost && r != RoleOther {
			return false
		}
	}
	return true
}

// DeviceID derives a stable device identifier. Repeated discovery of the same
// hardware address always converges to the same id regardless of which
// neighbor reported it first. When no hardware address is known, a hash of
// the network address is used so unmanaged devices still dedupe by address.
func DeviceID(macAddress, ipAddress string) string {
	mac := strings.ToLower(strings.TrimSpace(macAddress))
	if mac != "" {
		mac = strings.Map(func(c rune) rune {
			if c == ':' || c == '.' || c == '-' {
				return -1
			}
			return c
		}, mac)
		if mac != "" {
			return "dev-" + mac
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(ipAddress))))
	return "dev-" + strconv.FormatUint(h.Sum64(), 16)
}
