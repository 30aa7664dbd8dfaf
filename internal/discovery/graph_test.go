package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

func testClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestGraphUpsertDevice(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore(nil, nil)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = testClock(t0)

	d := &models.NetworkDevice{
		ID:        "dev-aabbccddee01",
		Hostname:  "core-sw1",
		IPAddress: "10.0.0.1",
	}

	if created := g.UpsertDevice(ctx, d); !created {
		t.Fatal("first upsert should create")
	}
	if created := g.UpsertDevice(ctx, d); created {
		t.Fatal("second upsert of the same device should merge, not create")
	}

	stored, ok := g.Device("dev-aabbccddee01")
	if !ok {
		t.Fatal("device not found after upsert")
	}
	if !stored.FirstSeen.Equal(t0) || !stored.LastSeen.Equal(t0) {
		t.Errorf("timestamps = %v/%v, want both %v", stored.FirstSeen, stored.LastSeen, t0)
	}

	// A later probe advances last-seen but never first-seen, and empty
	// fields never erase known data.
	t1 := t0.Add(time.Hour)
	g.now = testClock(t1)
	g.UpsertDevice(ctx, &models.NetworkDevice{
		ID:     "dev-aabbccddee01",
		Vendor: "Cisco",
	})

	stored, _ = g.Device("dev-aabbccddee01")
	if !stored.FirstSeen.Equal(t0) {
		t.Errorf("FirstSeen regressed to %v", stored.FirstSeen)
	}
	if !stored.LastSeen.Equal(t1) {
		t.Errorf("LastSeen = %v, want %v", stored.LastSeen, t1)
	}
	if stored.Hostname != "core-sw1" {
		t.Errorf("Hostname erased by merge: %q", stored.Hostname)
	}
	if stored.Vendor != "Cisco" {
		t.Errorf("Vendor = %q, want Cisco", stored.Vendor)
	}

	if devices, _ := g.Counts(); devices != 1 {
		t.Errorf("device count = %d, want 1", devices)
	}
}

func TestGraphUpsertLinkCanonical(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore(nil, nil)

	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-a"})
	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-b"})

	nb := models.NeighborInfo{Protocol: ProtocolLLDP, LocalPort: "Gi0/24", RemotePort: "Gi0/1"}

	l1, created := g.UpsertLink(ctx, "dev-a", "dev-b", nb)
	if !created || l1 == nil {
		t.Fatal("first link should be created")
	}
	if l1.SourcePort != "Gi0/24" || l1.TargetPort != "Gi0/1" {
		t.Errorf("ports = %q/%q, want Gi0/24/Gi0/1", l1.SourcePort, l1.TargetPort)
	}

	// Same adjacency reported from the other side maps onto the same record.
	l2, created := g.UpsertLink(ctx, "dev-b", "dev-a", nb)
	if created {
		t.Error("reverse direction should not create a second link")
	}
	if l2.ID != l1.ID {
		t.Errorf("link ids differ: %q vs %q", l1.ID, l2.ID)
	}

	if _, links := g.Counts(); links != 1 {
		t.Errorf("link count = %d, want 1", links)
	}
}

func TestGraphUpsertLinkRejections(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore(nil, nil)
	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-a"})

	tests := []struct {
		name   string
		source string
		target string
	}{
		{name: "self link", source: "dev-a", target: "dev-a"},
		{name: "unknown target", source: "dev-a", target: "dev-missing"},
		{name: "unknown source", source: "dev-missing", target: "dev-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if l, created := g.UpsertLink(ctx, tt.source, tt.target, models.NeighborInfo{}); l != nil || created {
				t.Errorf("UpsertLink(%q, %q) accepted, want rejection", tt.source, tt.target)
			}
		})
	}

	if _, links := g.Counts(); links != 0 {
		t.Errorf("link count = %d, want 0", links)
	}
}

func TestGraphRemoveStaleCascades(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore(nil, nil)

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	g.now = testClock(t0)

	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-old"})
	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-fresh"})
	g.UpsertLink(ctx, "dev-old", "dev-fresh", models.NeighborInfo{Protocol: ProtocolLLDP})

	// Refresh one device a day later; the other goes stale.
	t1 := t0.Add(24 * time.Hour)
	g.now = testClock(t1)
	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-fresh"})

	devices, links := g.RemoveStale(ctx, 12*time.Hour)
	if devices != 1 {
		t.Errorf("removed %d devices, want 1", devices)
	}
	if links != 1 {
		t.Errorf("removed %d links, want 1", links)
	}

	snap := g.Snapshot()
	if _, ok := snap.Devices["dev-old"]; ok {
		t.Error("stale device survived")
	}
	if _, ok := snap.Devices["dev-fresh"]; !ok {
		t.Error("fresh device evicted")
	}
	for id, l := range snap.Links {
		if _, ok := snap.Devices[l.SourceID]; !ok {
			t.Errorf("link %s references removed source %s", id, l.SourceID)
		}
		if _, ok := snap.Devices[l.TargetID]; !ok {
			t.Errorf("link %s references removed target %s", id, l.TargetID)
		}
	}
}

func TestGraphSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore(nil, nil)

	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-a", Hostname: "original"})
	snap := g.Snapshot()

	// Mutating the snapshot must not leak back into the store.
	snap.Devices["dev-a"].Hostname = "mutated"
	snap.Devices["dev-injected"] = &models.NetworkDevice{ID: "dev-injected"}

	stored, _ := g.Device("dev-a")
	if stored.Hostname != "original" {
		t.Errorf("snapshot mutation leaked: Hostname = %q", stored.Hostname)
	}
	if devices, _ := g.Counts(); devices != 1 {
		t.Errorf("device count = %d, want 1", devices)
	}
}

func TestGraphRestore(t *testing.T) {
	g := NewGraphStore(nil, nil)

	snap := models.TopologyGraph{
		Devices: map[string]*models.NetworkDevice{
			"dev-a": {ID: "dev-a", Hostname: "core-sw1"},
			"dev-b": {ID: "dev-b"},
		},
		Links: map[string]*models.TopologyLink{
			"dev-a--dev-b": {ID: "dev-a--dev-b", SourceID: "dev-a", TargetID: "dev-b"},
			// Dangling link from a corrupt snapshot: must be dropped.
			"dev-a--dev-gone": {ID: "dev-a--dev-gone", SourceID: "dev-a", TargetID: "dev-gone"},
		},
		Subnets: []models.NetworkSubnet{
			{CIDR: "10.0.0.0/24", Gateway: "10.0.0.1", DeviceIDs: []string{"dev-a", "dev-b"}},
		},
		Meta: models.GraphMeta{DeviceCount: 99, LinkCount: 99, Protocols: []string{"lldp"}},
	}

	g.Restore(snap)

	devices, links := g.Counts()
	if devices != 2 {
		t.Errorf("device count = %d, want 2", devices)
	}
	if links != 1 {
		t.Errorf("link count = %d, want 1 (dangling link dropped)", links)
	}

	restored := g.Snapshot()
	if restored.Devices["dev-a"].Hostname != "core-sw1" {
		t.Errorf("Hostname = %q", restored.Devices["dev-a"].Hostname)
	}
	if _, ok := restored.Links["dev-a--dev-gone"]; ok {
		t.Error("link with missing endpoint survived restore")
	}
	// Counts in metadata are recomputed, never trusted from the snapshot.
	if restored.Meta.DeviceCount != 2 || restored.Meta.LinkCount != 1 {
		t.Errorf("meta counts = %d/%d, want 2/1", restored.Meta.DeviceCount, restored.Meta.LinkCount)
	}
	if len(restored.Subnets) != 1 || restored.Subnets[0].CIDR != "10.0.0.0/24" {
		t.Errorf("subnets = %+v", restored.Subnets)
	}

	// Mutating the input after restore must not leak into the store.
	snap.Devices["dev-a"].Hostname = "mutated"
	stored, _ := g.Device("dev-a")
	if stored.Hostname != "core-sw1" {
		t.Errorf("restore aliased snapshot memory: Hostname = %q", stored.Hostname)
	}
}

func TestGraphRestoreThenDiscover(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore(nil, nil)

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	g.now = testClock(t0)

	g.Restore(models.TopologyGraph{
		Devices: map[string]*models.NetworkDevice{
			"dev-a": {ID: "dev-a", FirstSeen: t0.Add(-48 * time.Hour), LastSeen: t0.Add(-48 * time.Hour)},
		},
	})

	// A restored device behaves like any other: fresh probes merge into it
	// and the stale sweep can evict it.
	if created := g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-a", Vendor: "Cisco"}); created {
		t.Error("upsert after restore created a duplicate")
	}
	d, _ := g.Device("dev-a")
	if d.Vendor != "Cisco" || !d.LastSeen.Equal(t0) {
		t.Errorf("merge after restore: vendor %q, last seen %v", d.Vendor, d.LastSeen)
	}

	g.Restore(models.TopologyGraph{
		Devices: map[string]*models.NetworkDevice{
			"dev-old": {ID: "dev-old", LastSeen: t0.Add(-48 * time.Hour)},
		},
	})
	if removed, _ := g.RemoveStale(ctx, 24*time.Hour); removed != 1 {
		t.Errorf("stale sweep removed %d restored devices, want 1", removed)
	}
}

func TestGraphSetPositions(t *testing.T) {
	ctx := context.Background()
	g := NewGraphStore(nil, nil)
	g.UpsertDevice(ctx, &models.NetworkDevice{ID: "dev-a"})

	g.SetPositions(map[string]models.Position{
		"dev-a":       {X: 10, Y: 20},
		"dev-unknown": {X: 1, Y: 1},
	})

	d, _ := g.Device("dev-a")
	if d.Position == nil || d.Position.X != 10 || d.Position.Y != 20 {
		t.Errorf("Position = %+v, want {10 20}", d.Position)
	}
	if devices, _ := g.Counts(); devices != 1 {
		t.Error("positioning an unknown id must not create a device")
	}
}

func TestClassifyLinkMedia(t *testing.T) {
	tests := []struct {
		desc string
		port string
		want models.LinkMedia
	}{
		{desc: "SFP+ uplink", port: "Te1/0/1", want: models.MediaFiber},
		{desc: "wireless bridge", port: "wlan0", want: models.MediaWireless},
		{desc: "", port: "Serial0/0", want: models.MediaSerial},
		{desc: "tunnel to dc2", port: "Tun0", want: models.MediaVirtual},
		{desc: "access port", port: "Gi0/12", want: models.MediaEthernet},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			if got := classifyLinkMedia(tt.desc, tt.port); got != tt.want {
				t.Errorf("classifyLinkMedia(%q, %q) = %q, want %q", tt.desc, tt.port, got, tt.want)
			}
		})
	}
}
