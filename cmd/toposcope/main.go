package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/danxiaonuo/toposcope/internal/config"
	"github.com/danxiaonuo/toposcope/internal/discovery"
	"github.com/danxiaonuo/toposcope/internal/event"
	"github.com/danxiaonuo/toposcope/internal/store"
	"github.com/danxiaonuo/toposcope/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration (before logger, so log level/format can be configured).
	viperCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("toposcope starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	discoveryCfg, err := discovery.FromViper(viperCfg)
	if err != nil {
		logger.Fatal("invalid discovery configuration", zap.Error(err))
	}
	// Positional arguments override configured seed addresses.
	if args := flag.Args(); len(args) > 0 {
		discoveryCfg.Seeds = args
	}
	if len(discoveryCfg.Seeds) == 0 {
		logger.Fatal("no seed addresses; pass them as arguments or set discovery.seeds")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Snapshot persistence is optional; without it the graph lives only in
	// memory for the lifetime of the process.
	var sink discovery.SnapshotSink
	var snapshots *store.SnapshotStore
	if discoveryCfg.PersistResults {
		db, err := store.Open(viperCfg.GetString("database.path"))
		if err != nil {
			logger.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()

		if err := db.CheckVersion(ctx, version.Short()); err != nil {
			logger.Fatal("database version check failed", zap.Error(err))
		}
		if err := db.Migrate(ctx, "snapshot", store.Migrations()); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		snapshots = store.NewSnapshotStore(db.DB())
		sink = snapshots
		logger.Info("database initialized", zap.String("path", viperCfg.GetString("database.path")))

		if retain := viperCfg.GetDuration("database.snapshot_retention"); retain > 0 {
			if removed, err := snapshots.Prune(ctx, retain); err != nil {
				logger.Warn("snapshot prune failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info("old snapshots pruned", zap.Int64("removed", removed))
			}
		}
	}

	bus := event.NewBus(logger.Named("event"))
	unsubscribe := bus.SubscribeAll(logEvents(logger.Named("events")))
	defer unsubscribe()

	metrics := discovery.NewMetrics(prometheus.DefaultRegisterer)
	if addr := viperCfg.GetString("metrics.listen"); addr != "" {
		go serveMetrics(addr, logger)
	}

	snmpCfg := discovery.SNMPConfig{
		Community: viperCfg.GetString("snmp.community"),
		Port:      uint16(viperCfg.GetUint32("snmp.port")),
		Version:   viperCfg.GetString("snmp.version"),
		Timeout:   discoveryCfg.ProbeTimeout,
		Retries:   1,
	}
	fetcher := discovery.NewSNMPFetcher(snmpCfg, logger.Named("snmp"))
	pinger := discovery.NewICMPPinger(discoveryCfg.ProbeTimeout, logger.Named("icmp"))
	prober := discovery.NewDeviceProber(discoveryCfg, fetcher, pinger, logger.Named("prober"))

	graph := discovery.NewGraphStore(bus, logger.Named("graph"))
	if snapshots != nil {
		if snap, err := snapshots.Latest(ctx); err != nil {
			logger.Warn("snapshot restore failed", zap.Error(err))
		} else if snap != nil {
			graph.Restore(*snap)
		}
	}

	layout := discovery.NewLayoutEngine(time.Now().UnixNano(), logger.Named("layout"))

	engine, err := discovery.NewEngine(discoveryCfg, graph, prober, layout, bus, sink, metrics, logger.Named("engine"))
	if err != nil {
		logger.Fatal("failed to build discovery engine", zap.Error(err))
	}

	if err := engine.StartDiscovery(ctx); err != nil {
		logger.Fatal("failed to start discovery", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if discoveryCfg.ScanInterval <= 0 {
		waitForPass(engine, sigCh, logger)
	} else {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	engine.StopDiscovery()

	devices, links := graph.Counts()
	logger.Info("toposcope stopped",
		zap.Int("devices", devices),
		zap.Int("links", links),
	)
}

// waitForPass blocks until a single-shot discovery pass finishes or a signal
// arrives.
func waitForPass(engine *discovery.Engine, sigCh <-chan os.Signal, logger *zap.Logger) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			return
		case <-ticker.C:
			if !engine.Running() {
				return
			}
		}
	}
}

// logEvents mirrors bus traffic into the process log so a headless run still
// shows discovery progress.
func logEvents(logger *zap.Logger) event.Handler {
	return func(ctx context.Context, ev event.Event) {
		switch ev.Topic {
		case discovery.TopicDiscoveryError:
			logger.Warn("event", zap.String("topic", ev.Topic), zap.Any("payload", ev.Payload))
		case discovery.TopicDiscoveryProgress:
			logger.Debug("event", zap.String("topic", ev.Topic), zap.Any("payload", ev.Payload))
		default:
			logger.Info("event", zap.String("topic", ev.Topic), zap.Any("payload", ev.Payload))
		}
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics listener failed", zap.Error(err))
	}
}
