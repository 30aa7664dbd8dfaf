package discovery

import (
	"time"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// Event topics published by the discovery engine.
const (
	TopicDiscoveryStarted   = "topology.discovery.started"
	TopicDiscoveryProgress  = "topology.discovery.progress"
	TopicDiscoveryCompleted = "topology.discovery.completed"
	TopicDiscoveryError     = "topology.discovery.error"
	TopicDeviceDiscovered   = "topology.device.discovered"
	TopicDeviceRemoved      = "topology.device.removed"
	TopicLinkDiscovered     = "topology.link.discovered"
	TopicLinkRemoved        = "topology.link.removed"
)

// eventSource identifies this engine in published events.
const eventSource = "discovery"

// StartedEvent is the payload for TopicDiscoveryStarted.
type StartedEvent struct {
	PassID    string    `json:"pass_id"`
	Seeds     []string  `json:"seeds"`
	StartedAt time.Time `json:"started_at"`
}

// ProgressEvent is the payload for TopicDiscoveryProgress.
type ProgressEvent struct {
	PassID    string  `json:"pass_id"`
	Stage     string  `json:"stage"`
	Percent   float64 `json:"percent"`
	Hop       int     `json:"hop"`
	BatchSize int     `json:"batch_size"`
}

// CompletedEvent is the payload for TopicDiscoveryCompleted.
type CompletedEvent struct {
	PassID      string        `json:"pass_id"`
	DeviceCount int           `json:"device_count"`
	LinkCount   int           `json:"link_count"`
	Duration    time.Duration `json:"duration"`
	Coverage    float64       `json:"coverage"`
}

// ErrorEvent is the payload for TopicDiscoveryError.
type ErrorEvent struct {
	PassID string `json:"pass_id,omitempty"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// DeviceEvent is the payload for device discovered/removed topics.
type DeviceEvent struct {
	Device *models.NetworkDevice `json:"device"`
}

// LinkEvent is the payload for link discovered/removed topics.
type LinkEvent struct {
	Link *models.TopologyLink `json:"link"`
}
