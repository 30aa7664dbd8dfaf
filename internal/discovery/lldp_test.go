package discovery

import (
	"reflect"
	"testing"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

func TestDecodeLLDPCaps(t *testing.T) {
	tests := []struct {
		name string
		bits uint16
		want []models.DeviceRole
	}{
		{
			name: "bridge and router",
			bits: 0x14,
			want: []models.DeviceRole{models.RoleBridge, models.RoleRouter},
		},
		{
			name: "station only",
			bits: 0x80,
			want: []models.DeviceRole{models.RoleHost},
		},
		{
			name: "wlan access point",
			bits: 0x08,
			want: []models.DeviceRole{models.RoleWirelessAP},
		},
		{
			name: "telephone and bridge",
			bits: 0x24,
			want: []models.DeviceRole{models.RoleBridge, models.RolePhone},
		},
		{
			name: "other and docsis collapse",
			bits: 0x41,
			want: []models.DeviceRole{models.RoleOther},
		},
		{
			name: "no bits",
			bits: 0,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeLLDPCaps(tt.bits)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeLLDPCaps(%#x) = %v, want %v", tt.bits, got, tt.want)
			}
		})
	}
}

func TestLLDPDecode(t *testing.T) {
	dec := LLDPDecoder{}

	rows := []Row{
		{
			lldpColChassisID: "aa:bb:cc:dd:ee:01",
			lldpColSysName:   "core-sw1",
			lldpColPortID:    "Gi0/1",
			lldpColPortDesc:  "uplink",
			lldpColCaps:      "0x14",
			lldpColMgmtAddr:  "10.0.0.2",
			colLocalPort:     "4",
		},
		{
			// Missing chassis id: malformed, must be skipped.
			lldpColSysName: "ghost",
			lldpColPortID:  "Gi0/9",
		},
		{
			// No system name: chassis id stands in.
			lldpColChassisID: "aa:bb:cc:dd:ee:02",
			lldpColCaps:      "128",
		},
	}

	got := dec.Decode(rows)
	if len(got) != 2 {
		t.Fatalf("Decode returned %d neighbors, want 2", len(got))
	}

	first := got[0]
	if first.Protocol != ProtocolLLDP {
		t.Errorf("Protocol = %q, want %q", first.Protocol, ProtocolLLDP)
	}
	if first.RemoteID != "aa:bb:cc:dd:ee:01" {
		t.Errorf("RemoteID = %q", first.RemoteID)
	}
	if first.RemoteName != "core-sw1" {
		t.Errorf("RemoteName = %q", first.RemoteName)
	}
	if first.RemotePort != "Gi0/1" || first.RemotePortDesc != "uplink" {
		t.Errorf("port = %q/%q", first.RemotePort, first.RemotePortDesc)
	}
	if first.LocalPort != "4" {
		t.Errorf("LocalPort = %q, want 4", first.LocalPort)
	}
	if first.RemoteAddress != "10.0.0.2" {
		t.Errorf("RemoteAddress = %q", first.RemoteAddress)
	}
	wantRoles := []models.DeviceRole{models.RoleBridge, models.RoleRouter}
	if !reflect.DeepEqual(first.Roles, wantRoles) {
		t.Errorf("Roles = %v, want %v", first.Roles, wantRoles)
	}
	if first.ObservedAt.IsZero() {
		t.Error("ObservedAt is zero")
	}

	second := got[1]
	if second.RemoteName != "aa:bb:cc:dd:ee:02" {
		t.Errorf("fallback RemoteName = %q, want chassis id", second.RemoteName)
	}
	if !reflect.DeepEqual(second.Roles, []models.DeviceRole{models.RoleHost}) {
		t.Errorf("Roles = %v, want [host]", second.Roles)
	}
}

func TestLLDPDecodeEmpty(t *testing.T) {
	if got := (LLDPDecoder{}).Decode(nil); len(got) != 0 {
		t.Errorf("Decode(nil) = %v, want empty", got)
	}
}
