package discovery

import (
	"time"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// CDP row column names produced by table fetchers.
const (
	cdpColDeviceID = "device_id"
	cdpColPortID   = "port_id"
	cdpColPlatform = "platform"
	cdpColCaps     = "caps"
	cdpColAddress  = "address"
)

// CDP capabilities bitmap constants (CISCO-CDP-MIB cdpCacheCapabilities).
const (
	CDPCapRouter      uint16 = 0x01
	CDPCapTransBridge uint16 = 0x02
	CDPCapSRBridge    uint16 = 0x04
	CDPCapHost        uint16 = 0x08
	CDPCapSwitch      uint16 = 0x10
	CDPCapIGMP        uint16 = 0x20
	CDPCapRepeater    uint16 = 0x40
)

// CDPDecoder normalizes CDP cache-table rows (device-ID keyed).
type CDPDecoder struct{}

func (CDPDecoder) Protocol() string { return ProtocolCDP }

func (CDPDecoder) Table() string { return "neighbors/cdp" }

// Decode converts CDP rows into neighbor records. Rows without a device id
// are malformed and skipped.
func (CDPDecoder) Decode(rows []Row) []models.NeighborInfo {
	now := time.Now().UTC()
	out := make([]models.NeighborInfo, 0, len(rows))

	for _, row := range rows {
		deviceID := row[cdpColDeviceID]
		if deviceID == "" {
			continue
		}

		var roles []models.DeviceRole
		if bits, ok := parseCapBits(row[cdpColCaps]); ok {
			roles = DecodeCDPCaps(bits)
		}

		out = append(out, models.NeighborInfo{
			Protocol:       ProtocolCDP,
			LocalPort:      row[colLocalPort],
			RemoteID:       deviceID,
			RemoteName:     deviceID,
			RemotePort:     row[cdpColPortID],
			RemotePortDesc: row[cdpColPlatform],
			RemoteAddress:  row[cdpColAddress],
			Roles:          roles,
			ObservedAt:     now,
		})
	}

	return out
}

// DecodeCDPCaps maps a CDP capability bitmap to device roles. The bit layout
// is CDP-specific; see DecodeLLDPCaps for the LLDP layout.
func DecodeCDPCaps(bits uint16) []models.DeviceRole {
	var roles []models.DeviceRole
	if bits&CDPCapRouter != 0 {
		roles = append(roles, models.RoleRouter)
	}
	if bits&(CDPCapTransBridge|CDPCapSRBridge) != 0 {
		roles = append(roles, models.RoleBridge)
	}
	if bits&CDPCapSwitch != 0 {
		roles = append(roles, models.RoleSwitch)
	}
	if bits&CDPCapHost != 0 {
		roles = append(roles, models.RoleHost)
	}
	if bits&CDPCapRepeater != 0 {
		roles = append(roles, models.RoleRepeater)
	}
	if bits&CDPCapIGMP != 0 {
		roles = append(roles, models.RoleOther)
	}
	return roles
}
