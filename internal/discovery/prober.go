package discovery

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// Table names every fetcher must serve in addition to the per-protocol
// neighbor tables.
const (
	// TableIdentity holds a single row describing the device itself:
	// name, mac, vendor, model, firmware, caps (802.1AB bit layout).
	TableIdentity = "identity"
	// TableInterfaces holds one row per port: id, name, desc, media,
	// speed_mbps, status, mac, vlan, ip.
	TableInterfaces = "interfaces"
)

// TableFetcher is the injected remote-query capability. Implementations fetch
// a named table of rows from the device at the given address. Failures
// surface as ErrUnreachable or ErrProbeTimeout, never a crash.
type TableFetcher interface {
	FetchTable(ctx context.Context, address, table string) ([]Row, error)
}

// Pinger is an optional reachability precheck run before the table fetches.
type Pinger interface {
	Reachable(ctx context.Context, address string) bool
}

// DeviceProber fetches a device's identity, interfaces, and neighbor tables.
// Unreachability is an expected outcome, not an error; a failing device never
// aborts the surrounding crawl.
type DeviceProber struct {
	fetcher  TableFetcher
	pinger   Pinger
	decoders []NeighborDecoder
	exclude  map[string]bool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDeviceProber creates a prober for the protocols enabled in cfg. The
// pinger may be nil to skip the reachability precheck. Config must already
// be validated; unknown protocols are silently dropped here.
func NewDeviceProber(cfg Config, fetcher TableFetcher, pinger Pinger, logger *zap.Logger) *DeviceProber {
	if logger == nil {
		logger = zap.NewNop()
	}

	var decs []NeighborDecoder
	for _, p := range cfg.Protocols {
		if d, ok := decoderFor(p); ok {
			decs = append(decs, d)
		}
	}

	exclude := make(map[string]bool, len(cfg.ExcludeInterfaces))
	for _, name := range cfg.ExcludeInterfaces {
		exclude[strings.ToLower(name)] = true
	}

	return &DeviceProber{
		fetcher:  fetcher,
		pinger:   pinger,
		decoders: decs,
		exclude:  exclude,
		timeout:  cfg.ProbeTimeout,
		logger:   logger,
	}
}

// Probe fetches the device at address. It returns (nil, nil, nil) when the
// device is unreachable or returns no identity; only programming errors
// propagate. Neighbor decode runs for every enabled protocol and the results
// are unioned.
func (p *DeviceProber) Probe(ctx context.Context, address string) (*models.NetworkDevice, []models.NeighborInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.pinger != nil && !p.pinger.Reachable(ctx, address) {
		p.logger.Debug("device failed reachability precheck", zap.String("address", address))
		return nil, nil, nil
	}

	identity, err := p.fetcher.FetchTable(ctx, address, TableIdentity)
	if err != nil {
		if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrProbeTimeout) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Debug("device unreachable", zap.String("address", address), zap.Error(err))
			return nil, nil, nil
		}
		p.logger.Warn("identity fetch failed", zap.String("address", address), zap.Error(err))
		return nil, nil, nil
	}
	if len(identity) == 0 {
		p.logger.Debug("device returned no identity", zap.String("address", address))
		return nil, nil, nil
	}

	device := p.deviceFromIdentity(address, identity[0])

	// Interface fetch failures are non-fatal; the device is still usable.
	if rows, ifErr := p.fetcher.FetchTable(ctx, address, TableInterfaces); ifErr != nil {
		p.logger.Debug("interface fetch failed", zap.String("address", address), zap.Error(ifErr))
	} else {
		device.Interfaces = p.interfacesFromRows(rows)
	}

	var neighbors []models.NeighborInfo
	for _, dec := range p.decoders {
		rows, nErr := p.fetcher.FetchTable(ctx, address, dec.Table())
		if nErr != nil {
			// Many devices speak only one of the enabled protocols.
			p.logger.Debug("neighbor table fetch failed",
				zap.String("address", address),
				zap.String("protocol", dec.Protocol()),
				zap.Error(nErr),
			)
			continue
		}
		neighbors = append(neighbors, dec.Decode(rows)...)
	}

	p.logger.Debug("device probed",
		zap.String("address", address),
		zap.String("device_id", device.ID),
		zap.Int("interfaces", len(device.Interfaces)),
		zap.Int("neighbors", len(neighbors)),
	)

	return device, neighbors, nil
}

func (p *DeviceProber) deviceFromIdentity(address string, row Row) *models.NetworkDevice {
	now := time.Now().UTC()

	var roles []models.DeviceRole
	if bits, ok := parseCapBits(row["caps"]); ok {
		roles = DecodeLLDPCaps(bits)
	}

	name := row["name"]
	if name == "" {
		name = address
	}

	return &models.NetworkDevice{
		ID:         models.DeviceID(row["mac"], address),
		Hostname:   name,
		IPAddress:  address,
		MACAddress: row["mac"],
		Vendor:     row["vendor"],
		Model:      row["model"],
		Firmware:   row["firmware"],
		Roles:      roles,
		FirstSeen:  now,
		LastSeen:   now,
	}
}

func (p *DeviceProber) interfacesFromRows(rows []Row) []models.NetworkInterface {
	out := make([]models.NetworkInterface, 0, len(rows))
	for _, row := range rows {
		name := row["name"]
		if name == "" {
			continue
		}
		if p.exclude[strings.ToLower(name)] {
			continue
		}

		status := models.InterfaceUnknown
		switch strings.ToLower(row["status"]) {
		case "up":
			status = models.InterfaceUp
		case "down":
			status = models.InterfaceDown
		}

		speed, _ := strconv.ParseInt(row["speed_mbps"], 10, 64)
		vlan, _ := strconv.Atoi(row["vlan"])

		out = append(out, models.NetworkInterface{
			ID:          row["id"],
			Name:        name,
			Description: row["desc"],
			MediaType:   row["media"],
			SpeedMbps:   speed,
			Status:      status,
			MACAddress:  row["mac"],
			VLAN:        vlan,
			IPAddress:   row["ip"],
		})
	}
	return out
}
