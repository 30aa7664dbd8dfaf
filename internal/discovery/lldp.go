package discovery

import (
	"time"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// LLDP row column names produced by table fetchers.
const (
	lldpColChassisID = "chassis_id"
	lldpColPortID    = "port_id"
	lldpColPortDesc  = "port_desc"
	lldpColSysName   = "sys_name"
	lldpColSysDesc   = "sys_desc"
	lldpColCaps      = "caps"
	lldpColMgmtAddr  = "mgmt_addr"
)

// LLDP capabilities bitmap constants (IEEE 802.1AB).
const (
	LLDPCapOther     uint16 = 0x01
	LLDPCapRepeater  uint16 = 0x02
	LLDPCapBridge    uint16 = 0x04
	LLDPCapWLANAP    uint16 = 0x08
	LLDPCapRouter    uint16 = 0x10
	LLDPCapTelephone uint16 = 0x20
	LLDPCapDOCSIS    uint16 = 0x40
	LLDPCapStation   uint16 = 0x80
)

// LLDPDecoder normalizes LLDP remote-table rows (chassis/port-ID keyed).
type LLDPDecoder struct{}

func (LLDPDecoder) Protocol() string { return ProtocolLLDP }

func (LLDPDecoder) Table() string { return "neighbors/lldp" }

// Decode converts LLDP rows into neighbor records. Rows without a chassis id
// are malformed and skipped. A missing remote system name falls back to the
// chassis id.
func (LLDPDecoder) Decode(rows []Row) []models.NeighborInfo {
	now := time.Now().UTC()
	out := make([]models.NeighborInfo, 0, len(rows))

	for _, row := range rows {
		chassisID := row[lldpColChassisID]
		if chassisID == "" {
			continue
		}

		name := row[lldpColSysName]
		if name == "" {
			name = chassisID
		}

		var roles []models.DeviceRole
		if bits, ok := parseCapBits(row[lldpColCaps]); ok {
			roles = DecodeLLDPCaps(bits)
		}

		out = append(out, models.NeighborInfo{
			Protocol:       ProtocolLLDP,
			LocalPort:      row[colLocalPort],
			RemoteID:       chassisID,
			RemoteName:     name,
			RemotePort:     row[lldpColPortID],
			RemotePortDesc: row[lldpColPortDesc],
			RemoteAddress:  row[lldpColMgmtAddr],
			Roles:          roles,
			ObservedAt:     now,
		})
	}

	return out
}

// DecodeLLDPCaps maps an IEEE 802.1AB capability bitmap to device roles.
// The LLDP and CDP bit layouts differ and must not be cross-applied.
func DecodeLLDPCaps(bits uint16) []models.DeviceRole {
	var roles []models.DeviceRole
	if bits&LLDPCapBridge != 0 {
		roles = append(roles, models.RoleBridge)
	}
	if bits&LLDPCapRouter != 0 {
		roles = append(roles, models.RoleRouter)
	}
	if bits&LLDPCapWLANAP != 0 {
		roles = append(roles, models.RoleWirelessAP)
	}
	if bits&LLDPCapTelephone != 0 {
		roles = append(roles, models.RolePhone)
	}
	if bits&LLDPCapRepeater != 0 {
		roles = append(roles, models.RoleRepeater)
	}
	if bits&LLDPCapStation != 0 {
		roles = append(roles, models.RoleHost)
	}
	if bits&(LLDPCapOther|LLDPCapDOCSIS) != 0 {
		roles = append(roles, models.RoleOther)
	}
	return roles
}
