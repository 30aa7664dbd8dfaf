package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danxiaonuo/toposcope/internal/event"
	"github.com/danxiaonuo/toposcope/pkg/models"
)

func engineConfig(seeds ...string) Config {
	cfg := DefaultConfig()
	cfg.Seeds = seeds
	cfg.ScanInterval = 0
	cfg.ProbeTimeout = time.Second
	cfg.ProbesPerSecond = 0
	cfg.AutoLayout = false
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, fetcher TableFetcher, bus *event.Bus) *Engine {
	t.Helper()
	prober := NewDeviceProber(cfg, fetcher, nil, nil)
	graph := NewGraphStore(bus, nil)
	engine, err := NewEngine(cfg, graph, prober, nil, bus, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !e.Running() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("engine still running after deadline")
}

// chainTables builds a line of devices sw1..swN at 10.0.0.1..N, each
// reporting the next as its single LLDP neighbor.
func chainTables(n int) map[string]map[string][]Row {
	out := make(map[string]map[string][]Row, n)
	for i := 1; i <= n; i++ {
		mac := fmt.Sprintf("aa:bb:cc:dd:ee:%02d", i)
		tables := map[string][]Row{
			TableIdentity: {{
				"name": fmt.Sprintf("sw%d", i),
				"mac":  mac,
				"caps": "0x14",
			}},
			TableInterfaces:  {},
			"neighbors/lldp": {},
			"neighbors/cdp":  {},
		}
		if i < n {
			tables["neighbors/lldp"] = []Row{{
				lldpColChassisID: fmt.Sprintf("aa:bb:cc:dd:ee:%02d", i+1),
				lldpColSysName:   fmt.Sprintf("sw%d", i+1),
				lldpColCaps:      "0x14",
				lldpColMgmtAddr:  fmt.Sprintf("10.0.0.%d", i+1),
			}}
		}
		out[fmt.Sprintf("10.0.0.%d", i)] = tables
	}
	return out
}

func TestEngineHopBound(t *testing.T) {
	cfg := engineConfig("10.0.0.1")
	cfg.MaxHops = 2

	fetcher := &fakeFetcher{tables: chainTables(5)}
	engine := newTestEngine(t, cfg, fetcher, nil)

	if err := engine.StartDiscovery(context.Background()); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	waitIdle(t, engine)

	// Two hops probe sw1 and sw2; sw3 enters as an unprobed stub, the rest
	// of the chain is never reached.
	devices, links := engine.Graph().Counts()
	if devices != 3 {
		t.Errorf("device count = %d, want 3", devices)
	}
	if links != 2 {
		t.Errorf("link count = %d, want 2", links)
	}

	snap := engine.Graph().Snapshot()
	if got := snap.Meta.Coverage; got <= 0 || got >= 1 {
		t.Errorf("coverage = %f, want partial (0, 1)", got)
	}
	if len(snap.Meta.Protocols) != 1 || snap.Meta.Protocols[0] != ProtocolLLDP {
		t.Errorf("protocols = %v, want [lldp]", snap.Meta.Protocols)
	}
}

func TestEngineFullCrawl(t *testing.T) {
	cfg := engineConfig("10.0.0.1")
	cfg.MaxHops = 10

	fetcher := &fakeFetcher{tables: chainTables(4)}
	engine := newTestEngine(t, cfg, fetcher, nil)

	if err := engine.StartDiscovery(context.Background()); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	waitIdle(t, engine)

	devices, links := engine.Graph().Counts()
	if devices != 4 {
		t.Errorf("device count = %d, want 4", devices)
	}
	if links != 3 {
		t.Errorf("link count = %d, want 3", links)
	}

	if got := engine.Graph().Snapshot().Meta.Coverage; got != 1 {
		t.Errorf("coverage = %f, want 1 for a fully crawled graph", got)
	}
}

func TestEnginePartialUnreachability(t *testing.T) {
	// One reachable seed reporting two neighbors that never answer. The
	// pass must complete with the stubs in place instead of failing.
	fetcher := &fakeFetcher{tables: map[string]map[string][]Row{
		"10.0.1.1": {
			TableIdentity: {{
				"name": "sw1",
				"mac":  "aa:bb:cc:dd:ee:01",
				"caps": "0x14",
			}},
			TableInterfaces: {},
			"neighbors/lldp": {
				{
					lldpColChassisID: "aa:bb:cc:dd:ee:02",
					lldpColSysName:   "dark-sw2",
					lldpColMgmtAddr:  "10.0.1.2",
				},
				{
					lldpColChassisID: "aa:bb:cc:dd:ee:03",
					lldpColSysName:   "dark-sw3",
					lldpColMgmtAddr:  "10.0.1.3",
				},
			},
			"neighbors/cdp": {},
		},
	}}

	bus := event.NewBus(nil)
	completed := make(chan CompletedEvent, 1)
	bus.Subscribe(TopicDiscoveryCompleted, func(ctx context.Context, e event.Event) {
		if ev, ok := e.Payload.(CompletedEvent); ok {
			completed <- ev
		}
	})

	engine := newTestEngine(t, engineConfig("10.0.1.1"), fetcher, bus)
	if err := engine.StartDiscovery(context.Background()); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	waitIdle(t, engine)

	devices, links := engine.Graph().Counts()
	if devices != 3 {
		t.Errorf("device count = %d, want seed plus two stubs", devices)
	}
	if links != 2 {
		t.Errorf("link count = %d, want 2", links)
	}

	select {
	case ev := <-completed:
		if ev.DeviceCount != 3 || ev.LinkCount != 2 {
			t.Errorf("completion event counts = %d/%d, want 3/2", ev.DeviceCount, ev.LinkCount)
		}
		if ev.Coverage >= 1 {
			t.Errorf("coverage = %f, want below 1 with unreachable neighbors", ev.Coverage)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion event")
	}
}

func TestEngineSkipsEndHosts(t *testing.T) {
	tables := map[string]map[string][]Row{
		"10.0.2.1": {
			TableIdentity: {{
				"name": "access-sw",
				"mac":  "aa:bb:cc:dd:ee:01",
				"caps": "0x04",
			}},
			TableInterfaces: {},
			"neighbors/lldp": {{
				lldpColChassisID: "aa:bb:cc:dd:ee:50",
				lldpColSysName:   "workstation",
				lldpColCaps:      "0x80",
			}},
			"neighbors/cdp": {},
		},
	}

	t.Run("excluded by default", func(t *testing.T) {
		engine := newTestEngine(t, engineConfig("10.0.2.1"), &fakeFetcher{tables: tables}, nil)
		if err := engine.StartDiscovery(context.Background()); err != nil {
			t.Fatalf("StartDiscovery: %v", err)
		}
		waitIdle(t, engine)

		devices, links := engine.Graph().Counts()
		if devices != 1 || links != 0 {
			t.Errorf("counts = %d/%d, want 1/0 with end hosts excluded", devices, links)
		}
	})

	t.Run("included when configured", func(t *testing.T) {
		cfg := engineConfig("10.0.2.1")
		cfg.IncludeEndHosts = true

		engine := newTestEngine(t, cfg, &fakeFetcher{tables: tables}, nil)
		if err := engine.StartDiscovery(context.Background()); err != nil {
			t.Fatalf("StartDiscovery: %v", err)
		}
		waitIdle(t, engine)

		devices, links := engine.Graph().Counts()
		if devices != 2 || links != 1 {
			t.Errorf("counts = %d/%d, want 2/1 with end hosts included", devices, links)
		}
	})
}

// blockingFetcher parks every fetch until released.
type blockingFetcher struct {
	release chan struct{}
}

func (f *blockingFetcher) FetchTable(ctx context.Context, address, table string) ([]Row, error) {
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return nil, fmt.Errorf("%w: %s", ErrUnreachable, address)
}

func TestEngineRejectsConcurrentStart(t *testing.T) {
	fetcher := &blockingFetcher{release: make(chan struct{})}
	engine := newTestEngine(t, engineConfig("10.0.3.1"), fetcher, nil)

	if err := engine.StartDiscovery(context.Background()); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}

	if err := engine.StartDiscovery(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second start = %v, want ErrAlreadyRunning", err)
	}

	close(fetcher.release)
	waitIdle(t, engine)

	// After the pass the engine is idle again and restartable.
	if err := engine.StartDiscovery(context.Background()); err != nil {
		t.Errorf("restart after idle: %v", err)
	}
	waitIdle(t, engine)
}

func TestEngineStopDiscovery(t *testing.T) {
	cfg := engineConfig("10.0.0.1")
	cfg.ScanInterval = time.Hour // stays Running between passes

	fetcher := &fakeFetcher{tables: chainTables(2)}
	engine := newTestEngine(t, cfg, fetcher, nil)

	if err := engine.StartDiscovery(context.Background()); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}

	// First pass finishes quickly; the engine then waits for the next tick.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d, _ := engine.Graph().Counts(); d > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !engine.Running() {
		t.Fatal("periodic engine should stay running between passes")
	}

	engine.StopDiscovery()
	if engine.Running() {
		t.Error("engine still running after StopDiscovery")
	}

	// Stop is idempotent.
	engine.StopDiscovery()
}

func TestNeighborDevice(t *testing.T) {
	tests := []struct {
		name     string
		neighbor models.NeighborInfo
		wantMAC  string
		wantHost string
	}{
		{
			name: "chassis id is a mac",
			neighbor: models.NeighborInfo{
				RemoteID:      "aa:bb:cc:dd:ee:02",
				RemoteName:    "sw2",
				RemoteAddress: "10.0.0.2",
			},
			wantMAC:  "aa:bb:cc:dd:ee:02",
			wantHost: "sw2",
		},
		{
			name: "opaque chassis id",
			neighbor: models.NeighborInfo{
				RemoteID: "edge-rtr1.example.net",
			},
			wantMAC:  "",
			wantHost: "edge-rtr1.example.net",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := neighborDevice(tt.neighbor)
			if d.MACAddress != tt.wantMAC {
				t.Errorf("MACAddress = %q, want %q", d.MACAddress, tt.wantMAC)
			}
			if d.Hostname != tt.wantHost {
				t.Errorf("Hostname = %q, want %q", d.Hostname, tt.wantHost)
			}
			if d.ID == "" {
				t.Error("stub device has empty id")
			}
		})
	}
}

func TestCoverageEstimate(t *testing.T) {
	tests := []struct {
		name      string
		probed    int
		attempted int
		queued    int
		want      float64
	}{
		{name: "nothing attempted", want: 0},
		{name: "all reached", probed: 4, attempted: 4, want: 1},
		{name: "half reached", probed: 1, attempted: 2, want: 0.5},
		{name: "queue left over", probed: 2, attempted: 2, queued: 2, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := coverageEstimate(tt.probed, tt.attempted, tt.queued); got != tt.want {
				t.Errorf("coverageEstimate(%d, %d, %d) = %f, want %f",
					tt.probed, tt.attempted, tt.queued, got, tt.want)
			}
		})
	}
}
