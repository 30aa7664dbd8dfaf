package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/danxiaonuo/toposcope/internal/event"
	"github.com/danxiaonuo/toposcope/pkg/models"
)

// SnapshotSink receives the serialized topology after each completed pass
// when persistence is enabled. Save failures are logged and reported through
// the bus, never propagated; the in-memory graph is already committed.
type SnapshotSink interface {
	Save(ctx context.Context, graph models.TopologyGraph) error
}

// Engine drives the hop-bounded breadth-first discovery crawl. It is the
// only writer to the graph store. State machine: Idle -> Running -> Idle;
// a second StartDiscovery while Running is rejected with ErrAlreadyRunning.
type Engine struct {
	cfg     Config
	graph   *GraphStore
	prober  *DeviceProber
	layout  *LayoutEngine
	bus     *event.Bus
	sink    SnapshotSink
	metrics *Metrics
	limiter *rate.Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine validates the configuration and assembles the orchestrator.
// The sink and metrics may be nil.
func NewEngine(
	cfg Config,
	graph *GraphStore,
	prober *DeviceProber,
	layout *LayoutEngine,
	bus *event.Bus,
	sink SnapshotSink,
	metrics *Metrics,
	logger *zap.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.ProbesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProbesPerSecond), cfg.Concurrency)
	}

	return &Engine{
		cfg:     cfg,
		graph:   graph,
		prober:  prober,
		layout:  layout,
		bus:     bus,
		sink:    sink,
		metrics: metrics,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Graph exposes the engine's graph store for the query service.
func (e *Engine) Graph() *GraphStore { return e.graph }

// Running reports whether a discovery run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartDiscovery transitions Idle -> Running and launches the crawl. With a
// positive scan interval the engine stays Running and re-runs passes until
// StopDiscovery; otherwise it returns to Idle after one pass.
func (e *Engine) StartDiscovery(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx, stopCh)
	return nil
}

// StopDiscovery cancels the pending re-scan timer and prevents further hops
// from starting. Probes already in flight finish and their results are still
// committed; cancellation is cooperative, not preemptive. Blocks until the
// run loop has exited.
func (e *Engine) StopDiscovery() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("discovery stopped")
}

func (e *Engine) setIdle() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, stopCh <-chan struct{}) {
	defer e.wg.Done()

	e.runPass(ctx, stopCh)

	if e.cfg.ScanInterval <= 0 {
		e.setIdle()
		return
	}

	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			e.setIdle()
			return
		case <-ticker.C:
			e.runPass(ctx, stopCh)
		}
	}
}

type probeResult struct {
	address   string
	device    *models.NetworkDevice
	neighbors []models.NeighborInfo
}

// runPass executes one full discovery pass: stale sweep, seeded hop-bounded
// crawl, subnet derivation, optional layout, metadata update, optional
// persistence, completion event.
func (e *Engine) runPass(ctx context.Context, stopCh <-chan struct{}) {
	passID := uuid.New().String()
	started := time.Now().UTC()

	e.logger.Info("discovery pass started",
		zap.String("pass_id", passID),
		zap.Strings("seeds", e.cfg.Seeds),
		zap.Int("max_hops", e.cfg.MaxHops),
	)
	e.publish(ctx, TopicDiscoveryStarted, StartedEvent{
		PassID:    passID,
		Seeds:     append([]string(nil), e.cfg.Seeds...),
		StartedAt: started,
	})

	// Sweep first so the crawl never evaluates reachability through devices
	// about to be evicted.
	e.graph.RemoveStale(ctx, e.cfg.StaleAfter)

	queue := append([]string(nil), e.cfg.Seeds...)
	discovered := make(map[string]bool)
	protocols := make(map[string]bool)
	probed := 0

	for hop := 0; hop < e.cfg.MaxHops && len(queue) > 0; hop++ {
		if stopRequested(stopCh) || ctx.Err() != nil {
			e.logger.Info("discovery pass interrupted",
				zap.String("pass_id", passID),
				zap.Int("hop", hop),
			)
			break
		}

		n := min(batchSize, len(queue))
		batch := queue[:n]
		queue = queue[n:]

		todo := make([]string, 0, n)
		for _, addr := range batch {
			if !discovered[addr] {
				discovered[addr] = true
				todo = append(todo, addr)
			}
		}
		if len(todo) == 0 {
			continue
		}

		e.publish(ctx, TopicDiscoveryProgress, ProgressEvent{
			PassID:    passID,
			Stage:     "probing",
			Percent:   100 * float64(hop) / float64(e.cfg.MaxHops),
			Hop:       hop,
			BatchSize: len(todo),
		})

		for _, r := range e.probeBatch(ctx, todo) {
			if r.device == nil {
				if e.metrics != nil {
					e.metrics.ProbeFailures.Inc()
				}
				continue
			}
			probed++

			if !e.cfg.IncludeEndHosts && r.device.IsEndHost() {
				continue
			}
			e.graph.UpsertDevice(ctx, r.device)

			for _, nb := range r.neighbors {
				protocols[nb.Protocol] = true

				remote := neighborDevice(nb)
				if !e.cfg.IncludeEndHosts && remote.IsEndHost() {
					continue
				}
				e.graph.UpsertDevice(ctx, remote)
				e.graph.UpsertLink(ctx, r.device.ID, remote.ID, nb)

				// A neighbor without a resolvable management address stays
				// in the graph as a stub but cannot be crawled further.
				if nb.RemoteAddress != "" && !discovered[nb.RemoteAddress] {
					queue = append(queue, nb.RemoteAddress)
				}
			}
		}
	}
	if len(queue) > 0 {
		// Hop budget spent with work remaining: stop expanding and report
		// current coverage.
		e.logger.Info("hop budget exhausted",
			zap.String("pass_id", passID),
			zap.Int("unvisited", len(queue)),
		)
	}

	e.publish(ctx, TopicDiscoveryProgress, ProgressEvent{
		PassID: passID, Stage: "subnets", Percent: 100,
	})
	e.graph.DeriveSubnets()

	if e.cfg.AutoLayout && e.layout != nil {
		e.publish(ctx, TopicDiscoveryProgress, ProgressEvent{
			PassID: passID, Stage: "layout", Percent: 100,
		})
		e.graph.SetPositions(e.layout.Compute(e.graph.Snapshot()))
	}

	duration := time.Since(started)
	coverage := coverageEstimate(probed, len(discovered), len(queue))
	e.graph.FinishPass(started, duration, sortedProtocols(protocols), coverage)

	deviceCount, linkCount := e.graph.Counts()
	if e.metrics != nil {
		e.metrics.PassesTotal.Inc()
		e.metrics.PassDuration.Observe(duration.Seconds())
		e.metrics.Devices.Set(float64(deviceCount))
		e.metrics.Links.Set(float64(linkCount))
	}

	if e.cfg.PersistResults && e.sink != nil {
		e.publish(ctx, TopicDiscoveryProgress, ProgressEvent{
			PassID: passID, Stage: "persist", Percent: 100,
		})
		if err := e.sink.Save(ctx, e.graph.Snapshot()); err != nil {
			e.logger.Error("snapshot persistence failed", zap.Error(err))
			e.publish(ctx, TopicDiscoveryError, ErrorEvent{
				PassID: passID,
				Stage:  "persist",
				Error:  err.Error(),
			})
		}
	}

	e.publish(ctx, TopicDiscoveryCompleted, CompletedEvent{
		PassID:      passID,
		DeviceCount: deviceCount,
		LinkCount:   linkCount,
		Duration:    duration,
		Coverage:    coverage,
	})
	e.logger.Info("discovery pass completed",
		zap.String("pass_id", passID),
		zap.Int("devices", deviceCount),
		zap.Int("links", linkCount),
		zap.Duration("duration", duration),
		zap.Float64("coverage", coverage),
	)
}

// probeBatch probes distinct addresses concurrently with no ordering
// guarantee between them. Results for unreachable devices carry a nil device.
func (e *Engine) probeBatch(ctx context.Context, addrs []string) []probeResult {
	results := make([]probeResult, len(addrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, addr := range addrs {
		g.Go(func() error {
			if e.limiter != nil {
				if err := e.limiter.Wait(gctx); err != nil {
					return nil
				}
			}
			if e.metrics != nil {
				e.metrics.ProbesTotal.Inc()
			}
			device, neighbors, err := e.prober.Probe(gctx, addr)
			if err != nil {
				e.logger.Warn("probe failed", zap.String("address", addr), zap.Error(err))
				return nil
			}
			results[i] = probeResult{address: addr, device: device, neighbors: neighbors}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// neighborDevice builds the stub device record for a reported neighbor. A
// chassis id that parses as a hardware address keys the stub the same way a
// direct probe of that device would.
func neighborDevice(n models.NeighborInfo) *models.NetworkDevice {
	mac := ""
	if _, err := net.ParseMAC(n.RemoteID); err == nil {
		mac = n.RemoteID
	}

	addr := n.RemoteAddress
	if mac == "" && addr == "" {
		addr = n.RemoteID
	}

	observed := n.ObservedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	name := n.RemoteName
	if name == "" {
		name = n.RemoteID
	}

	return &models.NetworkDevice{
		ID:         models.DeviceID(mac, addr),
		Hostname:   name,
		IPAddress:  n.RemoteAddress,
		MACAddress: mac,
		Roles:      append([]models.DeviceRole(nil), n.Roles...),
		FirstSeen:  observed,
		LastSeen:   observed,
	}
}

// coverageEstimate reports the fraction of addresses the crawl actually
// reached out of everything it saw, including work left in the queue when
// the hop budget ran out.
func coverageEstimate(probed, attempted, queued int) float64 {
	total := attempted + queued
	if total == 0 {
		return 0
	}
	return float64(probed) / float64(total)
}

func stopRequested(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

func (e *Engine) publish(ctx context.Context, topic string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.PublishAsync(ctx, event.Event{
		Topic:     topic,
		Source:    eventSource,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}
