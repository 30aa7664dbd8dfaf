package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danxiaonuo/toposcope/internal/event"
	"github.com/danxiaonuo/toposcope/pkg/models"
)

// GraphStore owns the live topology graph. All mutation is serialized behind
// a single mutex; readers only ever receive deep-copied snapshots, so no
// reader can observe a link before both its endpoint devices exist.
type GraphStore struct {
	mu      sync.RWMutex
	devices map[string]*models.NetworkDevice
	links   map[string]*models.TopologyLink
	subnets []models.NetworkSubnet
	meta    models.GraphMeta

	bus    *event.Bus
	logger *zap.Logger
	now    func() time.Time
}

// NewGraphStore creates an empty graph store. The bus may be nil when no
// observer is interested in mutation events.
func NewGraphStore(bus *event.Bus, logger *zap.Logger) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphStore{
		devices: make(map[string]*models.NetworkDevice),
		links:   make(map[string]*models.TopologyLink),
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// UpsertDevice inserts a device or merges it into the existing record with
// the same id. The discovery timestamp never regresses after first insert;
// last-seen always advances to the newer timestamp. Returns whether the
// device was newly created.
func (g *GraphStore) UpsertDevice(ctx context.Context, d *models.NetworkDevice) bool {
	g.mu.Lock()

	existing, ok := g.devices[d.ID]
	if !ok {
		stored := copyDevice(d)
		if stored.LastSeen.IsZero() {
			stored.LastSeen = g.now().UTC()
		}
		if stored.FirstSeen.IsZero() {
			stored.FirstSeen = stored.LastSeen
		}
		g.devices[d.ID] = stored
		published := copyDevice(stored)
		g.mu.Unlock()

		g.publish(ctx, TopicDeviceDiscovered, DeviceEvent{Device: published})
		return true
	}

	mergeDevice(existing, d, g.now().UTC())
	g.mu.Unlock()
	return false
}

// mergeDevice folds the newly probed record into the stored one. Non-empty
// fields win; empty probe fields never erase known data.
func mergeDevice(dst, src *models.NetworkDevice, now time.Time) {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}
	if src.IPAddress != "" {
		dst.IPAddress = src.IPAddress
	}
	if src.MACAddress != "" {
		dst.MACAddress = src.MACAddress
	}
	if src.Vendor != "" {
		dst.Vendor = src.Vendor
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Firmware != "" {
		dst.Firmware = src.Firmware
	}
	if len(src.Roles) > 0 {
		dst.Roles = append([]models.DeviceRole(nil), src.Roles...)
	}
	if len(src.Interfaces) > 0 {
		dst.Interfaces = append([]models.NetworkInterface(nil), src.Interfaces...)
	}

	seen := src.LastSeen
	if seen.IsZero() {
		seen = now
	}
	if seen.After(dst.LastSeen) {
		dst.LastSeen = seen
	}
}

// UpsertLink records an adjacency from the device with sourceID to the device
// with targetID, as reported by the given neighbor record. Both endpoints
// must already exist in the graph or the link is dropped; the canonical id
// collapses A-B and B-A into one record. Existing links keep their
// first-discovered metadata and only refresh status.
func (g *GraphStore) UpsertLink(ctx context.Context, sourceID, targetID string, n models.NeighborInfo) (*models.TopologyLink, bool) {
	if sourceID == targetID {
		return nil, false
	}

	g.mu.Lock()

	if _, ok := g.devices[sourceID]; !ok {
		g.mu.Unlock()
		g.logger.Debug("link dropped, source endpoint unknown", zap.String("source_id", sourceID))
		return nil, false
	}
	if _, ok := g.devices[targetID]; !ok {
		g.mu.Unlock()
		g.logger.Debug("link dropped, target endpoint unknown", zap.String("target_id", targetID))
		return nil, false
	}

	id := models.LinkID(sourceID, targetID)
	if existing, ok := g.links[id]; ok {
		existing.Status = models.LinkActive
		published := copyLink(existing)
		g.mu.Unlock()
		return published, false
	}

	media := classifyLinkMedia(n.RemotePortDesc, n.RemotePort)
	link := &models.TopologyLink{
		ID:            id,
		SourceID:      sourceID,
		TargetID:      targetID,
		SourcePort:    n.LocalPort,
		TargetPort:    n.RemotePort,
		Protocol:      n.Protocol,
		Media:         media,
		BandwidthMbps: estimateBandwidth(media),
		Status:        models.LinkActive,
		DiscoveredAt:  g.now().UTC(),
	}
	g.links[id] = link
	published := copyLink(link)
	g.mu.Unlock()

	g.publish(ctx, TopicLinkDiscovered, LinkEvent{Link: published})
	return published, true
}

// RemoveStale evicts every device whose last-seen timestamp is older than
// maxAge, then removes every link referencing a now-missing endpoint. The
// two-phase order guarantees no surviving link references a removed device.
func (g *GraphStore) RemoveStale(ctx context.Context, maxAge time.Duration) (devices, links int) {
	cutoff := g.now().UTC().Add(-maxAge)

	g.mu.Lock()

	var removedDevices []*models.NetworkDevice
	for id, d := range g.devices {
		if d.LastSeen.Before(cutoff) {
			removedDevices = append(removedDevices, d)
			delete(g.devices, id)
		}
	}

	var removedLinks []*models.TopologyLink
	for id, l := range g.links {
		_, srcOK := g.devices[l.SourceID]
		_, dstOK := g.devices[l.TargetID]
		if !srcOK || !dstOK {
			removedLinks = append(removedLinks, l)
			delete(g.links, id)
		}
	}
	g.mu.Unlock()

	for _, d := range removedDevices {
		g.publish(ctx, TopicDeviceRemoved, DeviceEvent{Device: copyDevice(d)})
	}
	for _, l := range removedLinks {
		g.publish(ctx, TopicLinkRemoved, LinkEvent{Link: copyLink(l)})
	}

	if len(removedDevices) > 0 || len(removedLinks) > 0 {
		g.logger.Info("stale entries removed",
			zap.Int("devices", len(removedDevices)),
			zap.Int("links", len(removedLinks)),
		)
	}

	return len(removedDevices), len(removedLinks)
}

// Restore replaces the graph contents with a previously persisted snapshot,
// typically at startup before the first discovery pass. Links referencing a
// device absent from the snapshot are dropped so the endpoint invariant holds
// for restored data too. No events are published; subscribers only see
// changes relative to the restored state.
func (g *GraphStore) Restore(snap models.TopologyGraph) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.devices = make(map[string]*models.NetworkDevice, len(snap.Devices))
	for id, d := range snap.Devices {
		g.devices[id] = copyDevice(d)
	}

	g.links = make(map[string]*models.TopologyLink, len(snap.Links))
	for id, l := range snap.Links {
		if _, ok := g.devices[l.SourceID]; !ok {
			continue
		}
		if _, ok := g.devices[l.TargetID]; !ok {
			continue
		}
		g.links[id] = copyLink(l)
	}

	g.subnets = make([]models.NetworkSubnet, 0, len(snap.Subnets))
	for _, s := range snap.Subnets {
		cp := s
		cp.DeviceIDs = append([]string(nil), s.DeviceIDs...)
		g.subnets = append(g.subnets, cp)
	}

	g.meta = snap.Meta
	g.meta.Protocols = append([]string(nil), snap.Meta.Protocols...)
	g.meta.DeviceCount = len(g.devices)
	g.meta.LinkCount = len(g.links)

	g.logger.Info("topology restored",
		zap.Int("devices", len(g.devices)),
		zap.Int("links", len(g.links)),
	)
}

// SetPositions stores layout coordinates for the given devices. Unknown ids
// are ignored; the layout may have been computed from an older snapshot.
func (g *GraphStore) SetPositions(positions map[string]models.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, pos := range positions {
		if d, ok := g.devices[id]; ok {
			p := pos
			d.Position = &p
		}
	}
}

// FinishPass records pass metadata. Device and link counts are recomputed
// from the live maps, never trusted from the caller.
func (g *GraphStore) FinishPass(startedAt time.Time, duration time.Duration, protocols []string, coverage float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.meta = models.GraphMeta{
		StartedAt:    startedAt,
		DeviceCount:  len(g.devices),
		LinkCount:    len(g.links),
		Protocols:    append([]string(nil), protocols...),
		LastPassTime: duration,
		Coverage:     coverage,
	}
}

// Counts returns the current device and link counts.
func (g *GraphStore) Counts() (devices, links int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.devices), len(g.links)
}

// Device returns a copy of the device with the given id.
func (g *GraphStore) Device(id string) (*models.NetworkDevice, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.devices[id]
	if !ok {
		return nil, false
	}
	return copyDevice(d), true
}

// Snapshot returns a consistent deep copy of the whole graph.
func (g *GraphStore) Snapshot() models.TopologyGraph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := models.TopologyGraph{
		Devices: make(map[string]*models.NetworkDevice, len(g.devices)),
		Links:   make(map[string]*models.TopologyLink, len(g.links)),
		Subnets: make([]models.NetworkSubnet, 0, len(g.subnets)),
		Meta:    g.meta,
	}
	snap.Meta.Protocols = append([]string(nil), g.meta.Protocols...)

	for id, d := range g.devices {
		snap.Devices[id] = copyDevice(d)
	}
	for id, l := range g.links {
		snap.Links[id] = copyLink(l)
	}
	for _, s := range g.subnets {
		cp := s
		cp.DeviceIDs = append([]string(nil), s.DeviceIDs...)
		snap.Subnets = append(snap.Subnets, cp)
	}
	return snap
}

func (g *GraphStore) publish(ctx context.Context, topic string, payload any) {
	if g.bus == nil {
		return
	}
	g.bus.PublishAsync(ctx, event.Event{
		Topic:     topic,
		Source:    eventSource,
		Timestamp: g.now().UTC(),
		Payload:   payload,
	})
}

func copyDevice(d *models.NetworkDevice) *models.NetworkDevice {
	cp := *d
	cp.Roles = append([]models.DeviceRole(nil), d.Roles...)
	cp.Interfaces = append([]models.NetworkInterface(nil), d.Interfaces...)
	if d.Position != nil {
		pos := *d.Position
		cp.Position = &pos
	}
	return &cp
}

func copyLink(l *models.TopologyLink) *models.TopologyLink {
	cp := *l
	if l.Metrics != nil {
		m := *l.Metrics
		cp.Metrics = &m
	}
	return &cp
}

// classifyLinkMedia infers the link medium from the remote port description
// and identifier.
func classifyLinkMedia(portDesc, portID string) models.LinkMedia {
	s := strings.ToLower(portDesc + " " + portID)
	switch {
	case strings.Contains(s, "fiber") || strings.Contains(s, "sfp") || strings.Contains(s, "xgig"):
		return models.MediaFiber
	case strings.Contains(s, "wlan") || strings.Contains(s, "wireless") || strings.Contains(s, "radio"):
		return models.MediaWireless
	case strings.Contains(s, "serial"):
		return models.MediaSerial
	case strings.Contains(s, "vlan") || strings.Contains(s, "tunnel") || strings.Contains(s, "virtual") || strings.Contains(s, "loopback"):
		return models.MediaVirtual
	default:
		return models.MediaEthernet
	}
}

// estimateBandwidth returns a nominal bandwidth for a link medium, used until
// measured metrics replace the estimate.
func estimateBandwidth(media models.LinkMedia) int64 {
	switch media {
	case models.MediaFiber:
		return 10000
	case models.MediaWireless:
		return 300
	case models.MediaSerial:
		return 2
	case models.MediaVirtual:
		return 0
	default:
		return 1000
	}
}

// sortedProtocols returns the protocol set as a sorted slice for stable
// metadata and events.
func sortedProtocols(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
