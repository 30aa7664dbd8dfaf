package models

import (
	"strings"
	"time"
)

// LinkMedia classifies the physical medium of a topology link.
type LinkMedia string

const (
	MediaEthernet LinkMedia = "ethernet"
	MediaFiber    LinkMedia = "fiber"
	MediaWireless LinkMedia = "wireless"
	MediaSerial   LinkMedia = "serial"
	MediaVirtual  LinkMedia = "virtual"
)

// LinkStatus is the current state of a topology link.
type LinkStatus string

const (
	LinkActive   LinkStatus = "active"
	LinkInactive LinkStatus = "inactive"
)

// NeighborInfo is one normalized adjacency fact produced by a protocol
// decoder. It is consumed immediately to update the graph and not retained.
type NeighborInfo struct {
	Protocol       string       `json:"protocol"`
	LocalPort      string       `json:"local_port,omitempty"`
	RemoteID       string       `json:"remote_id"`
	RemoteName     string       `json:"remote_name,omitempty"`
	RemotePort     string       `json:"remote_port,omitempty"`
	RemotePortDesc string       `json:"remote_port_desc,omitempty"`
	RemoteAddress  string       `json:"remote_address,omitempty"`
	Roles          []DeviceRole `json:"roles,omitempty"`
	ObservedAt     time.Time    `json:"observed_at"`
}

// LinkMetrics holds optional measured metrics for a link.
type LinkMetrics struct {
	UtilizationPct float64   `json:"utilization_pct"`
	LatencyMs      float64   `json:"latency_ms"`
	LossPct        float64   `json:"loss_pct"`
	Errors         int64     `json:"errors"`
	MeasuredAt     time.Time `json:"measured_at"`
}

// TopologyLink is an edge between two devices. A link exists only while both
// endpoint devices exist in the graph.
type TopologyLink struct {
	ID            string       `json:"id"`
	SourceID      string       `json:"source_id"`
	TargetID      string       `json:"target_id"`
	SourcePort    string       `json:"source_port,omitempty"`
	TargetPort    string       `json:"target_port,omitempty"`
	Protocol      string       `json:"protocol"`
	Media         LinkMedia    `json:"media"`
	BandwidthMbps int64        `json:"bandwidth_mbps,omitempty"`
	Status        LinkStatus   `json:"status"`
	DiscoveredAt  time.Time    `json:"discovered_at"`
	Metrics       *LinkMetrics `json:"metrics,omitempty"`
}

// LinkID computes the canonical link identifier from an endpoint pair. The
// pair is sorted so A-B and B-A collapse to the same id regardless of
// discovery order.
func LinkID(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "--" + b
}

// NetworkSubnet groups devices sharing an address prefix. Subnets are fully
// recomputed after each discovery pass.
type NetworkSubnet struct {
	CIDR      string   `json:"cidr" example:"10.0.0.0/24"`
	Gateway   string   `json:"gateway,omitempty" example:"10.0.0.1"`
	DeviceIDs []string `json:"device_ids"`
}

// GraphMeta carries bookkeeping about the last discovery pass.
type GraphMeta struct {
	StartedAt    time.Time     `json:"started_at"`
	DeviceCount  int           `json:"device_count"`
	LinkCount    int           `json:"link_count"`
	Protocols    []string      `json:"protocols,omitempty"`
	LastPassTime time.Duration `json:"last_pass_time"`
	Coverage     float64       `json:"coverage"`
}

// TopologyGraph is a point-in-time snapshot of the discovered topology. The
// graph store owns the live structure; consumers only ever see copies.
type TopologyGraph struct {
	Devices map[string]*NetworkDevice `json:"devices"`
	Links   map[string]*TopologyLink  `json:"links"`
	Subnets []NetworkSubnet           `json:"subnets,omitempty"`
	Meta    GraphMeta                 `json:"meta"`
}
