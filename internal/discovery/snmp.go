package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"
)

// System and IF-MIB OIDs used for the identity and interfaces tables.
const (
	oidSysDescr = "1.3.6.1.2.1.1.1.0"
	oidSysName  = "1.3.6.1.2.1.1.5.0"

	oidBridgeAddress = "1.3.6.1.2.1.17.1.1.0" // dot1dBaseBridgeAddress

	oidIfDescr      = "1.3.6.1.2.1.2.2.1.2"
	oidIfSpeed      = "1.3.6.1.2.1.2.2.1.5"
	oidIfPhysAddr   = "1.3.6.1.2.1.2.2.1.6"
	oidIfOperStatus = "1.3.6.1.2.1.2.2.1.8"
	oidIfAlias      = "1.3.6.1.2.1.31.1.1.1.18"
	oidIfHighSpeed  = "1.3.6.1.2.1.31.1.1.1.15"
)

// LLDP-MIB OIDs. lldpRemTable columns are indexed by
// timeMark.localPortNum.index.
const (
	oidLLDPLocCapEnabled = "1.0.8802.1.1.2.1.3.6.0"

	oidLLDPRemChassisID  = "1.0.8802.1.1.2.1.4.1.1.5"
	oidLLDPRemPortID     = "1.0.8802.1.1.2.1.4.1.1.7"
	oidLLDPRemPortDesc   = "1.0.8802.1.1.2.1.4.1.1.8"
	oidLLDPRemSysName    = "1.0.8802.1.1.2.1.4.1.1.9"
	oidLLDPRemCapEnabled = "1.0.8802.1.1.2.1.4.1.1.12"
	oidLLDPRemManAddr    = "1.0.8802.1.1.2.1.4.2.1.4"
)

// CISCO-CDP-MIB cdpCacheTable OIDs.
const (
	oidCDPCacheAddress  = "1.3.6.1.4.1.9.9.23.1.2.1.1.4"
	oidCDPCacheDeviceID = "1.3.6.1.4.1.9.9.23.1.2.1.1.6"
	oidCDPCachePort     = "1.3.6.1.4.1.9.9.23.1.2.1.1.7"
	oidCDPCachePlatform = "1.3.6.1.4.1.9.9.23.1.2.1.1.8"
	oidCDPCacheCaps     = "1.3.6.1.4.1.9.9.23.1.2.1.1.9"
)

// SNMPConfig holds the session parameters for the SNMP table fetcher.
type SNMPConfig struct {
	Community string        `mapstructure:"community"`
	Port      uint16        `mapstructure:"port"`
	Version   string        `mapstructure:"version"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
}

// DefaultSNMPConfig returns v2c defaults.
func DefaultSNMPConfig() SNMPConfig {
	return SNMPConfig{
		Community: "public",
		Port:      161,
		Version:   "2c",
		Timeout:   2 * time.Second,
		Retries:   1,
	}
}

// SNMPFetcher implements TableFetcher over SNMP, walking the standard MIBs
// into the engine's normalized row shape. One short-lived session is opened
// per fetch so a wedged device cannot pin a connection.
type SNMPFetcher struct {
	cfg    SNMPConfig
	logger *zap.Logger
}

// NewSNMPFetcher creates an SNMP-backed table fetcher.
func NewSNMPFetcher(cfg SNMPConfig, logger *zap.Logger) *SNMPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNMPFetcher{cfg: cfg, logger: logger}
}

// FetchTable fetches a named table from the device at address. Connectivity
// failures surface as ErrUnreachable so the prober treats them as expected.
func (f *SNMPFetcher) FetchTable(ctx context.Context, address, table string) ([]Row, error) {
	session, err := f.connect(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, address, err)
	}
	defer session.Conn.Close()

	switch table {
	case TableIdentity:
		return f.fetchIdentity(session)
	case TableInterfaces:
		return f.fetchInterfaces(session)
	case "neighbors/lldp":
		return f.fetchLLDPNeighbors(session)
	case "neighbors/cdp":
		return f.fetchCDPNeighbors(session)
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
}

func (f *SNMPFetcher) connect(ctx context.Context, address string) (*gosnmp.GoSNMP, error) {
	version := gosnmp.Version2c
	if f.cfg.Version == "1" {
		version = gosnmp.Version1
	}

	session := &gosnmp.GoSNMP{
		Target:    address,
		Port:      f.cfg.Port,
		Community: f.cfg.Community,
		Version:   version,
		Timeout:   f.cfg.Timeout,
		Retries:   f.cfg.Retries,
		Context:   ctx,
	}
	if err := session.Connect(); err != nil {
		return nil, err
	}
	return session, nil
}

// fetchIdentity reads system identity. A device that answers nothing at all
// is reported unreachable; the prober turns that into a skipped device.
func (f *SNMPFetcher) fetchIdentity(g *gosnmp.GoSNMP) ([]Row, error) {
	res, err := g.Get([]string{oidSysName, oidSysDescr, oidBridgeAddress, oidLLDPLocCapEnabled})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	row := Row{}
	for _, pdu := range res.Variables {
		name := strings.TrimPrefix(pdu.Name, ".")
		switch name {
		case oidSysName:
			row["name"] = pduString(pdu)
		case oidSysDescr:
			desc := pduString(pdu)
			row["vendor"] = vendorFromSysDescr(desc)
			row["model"] = modelFromSysDescr(desc)
			row["firmware"] = firmwareFromSysDescr(desc)
		case oidBridgeAddress:
			if mac := pduMAC(pdu); mac != "" {
				row["mac"] = mac
			}
		case oidLLDPLocCapEnabled:
			if bits := pduCapBitmap(pdu); bits != 0 {
				row["caps"] = "0x" + strconv.FormatUint(uint64(bits), 16)
			}
		}
	}

	if row["name"] == "" && row["mac"] == "" {
		return nil, nil // answered, but no usable identity
	}
	return []Row{row}, nil
}

func (f *SNMPFetcher) fetchInterfaces(g *gosnmp.GoSNMP) ([]Row, error) {
	descr := f.walkColumn(g, oidIfDescr)
	speed := f.walkColumn(g, oidIfSpeed)
	highSpeed := f.walkColumn(g, oidIfHighSpeed)
	oper := f.walkColumn(g, oidIfOperStatus)
	phys := f.walkColumn(g, oidIfPhysAddr)
	alias := f.walkColumn(g, oidIfAlias)

	rows := make([]Row, 0, len(descr))
	for index, name := range descr {
		row := Row{
			"id":   index,
			"name": name,
			"desc": alias[index],
			"mac":  phys[index],
		}

		// ifHighSpeed is already in Mbps; ifSpeed is bits per second.
		if hs := highSpeed[index]; hs != "" && hs != "0" {
			row["speed_mbps"] = hs
		} else if bps, convErr := strconv.ParseInt(speed[index], 10, 64); convErr == nil && bps > 0 {
			row["speed_mbps"] = strconv.FormatInt(bps/1_000_000, 10)
		}

		switch oper[index] {
		case "1":
			row["status"] = "up"
		case "2":
			row["status"] = "down"
		default:
			row["status"] = "unknown"
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// fetchLLDPNeighbors walks the lldpRemTable columns and groups PDUs by their
// 3-part index key. Devices without LLDP return empty, not an error.
func (f *SNMPFetcher) fetchLLDPNeighbors(g *gosnmp.GoSNMP) ([]Row, error) {
	columns := map[string]string{
		lldpColChassisID: oidLLDPRemChassisID,
		lldpColPortID:    oidLLDPRemPortID,
		lldpColPortDesc:  oidLLDPRemPortDesc,
		lldpColSysName:   oidLLDPRemSysName,
		lldpColCaps:      oidLLDPRemCapEnabled,
	}

	byIndex := make(map[string]Row)
	for col, baseOID := range columns {
		for index, value := range f.walkColumn(g, baseOID) {
			row, ok := byIndex[index]
			if !ok {
				row = Row{}
				byIndex[index] = row
			}
			row[col] = value
		}
	}

	// Management addresses live in a separate subtree whose OID index
	// embeds the address itself.
	pdus, err := g.BulkWalkAll(oidLLDPRemManAddr)
	if err == nil {
		for _, pdu := range pdus {
			index, addr := lldpManAddrFromOID(pdu.Name)
			if index == "" || addr == "" {
				continue
			}
			if row, ok := byIndex[index]; ok && row[lldpColMgmtAddr] == "" {
				row[lldpColMgmtAddr] = addr
			}
		}
	}

	rows := make([]Row, 0, len(byIndex))
	for index, row := range byIndex {
		row[colLocalPort] = lldpLocalPort(index)
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *SNMPFetcher) fetchCDPNeighbors(g *gosnmp.GoSNMP) ([]Row, error) {
	columns := map[string]string{
		cdpColDeviceID: oidCDPCacheDeviceID,
		cdpColPortID:   oidCDPCachePort,
		cdpColPlatform: oidCDPCachePlatform,
		cdpColCaps:     oidCDPCacheCaps,
		cdpColAddress:  oidCDPCacheAddress,
	}

	byIndex := make(map[string]Row)
	for col, baseOID := range columns {
		for index, value := range f.walkColumn(g, baseOID) {
			row, ok := byIndex[index]
			if !ok {
				row = Row{}
				byIndex[index] = row
			}
			row[col] = value
		}
	}

	rows := make([]Row, 0, len(byIndex))
	for index, row := range byIndex {
		row[colLocalPort] = cdpLocalPort(index)
		rows = append(rows, row)
	}
	return rows, nil
}

// lldpLocalPort extracts the localPortNum component of an lldpRemTable index
// (timeMark.localPortNum.index).
func lldpLocalPort(index string) string {
	parts := strings.Split(index, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// cdpLocalPort extracts the ifIndex component of a cdpCacheTable index
// (ifIndex.deviceIndex).
func cdpLocalPort(index string) string {
	parts := strings.Split(index, ".")
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}

// walkColumn bulk-walks one table column and returns value strings keyed by
// the OID index suffix. Walk errors mean the subtree is unsupported on this
// device and yield an empty map.
func (f *SNMPFetcher) walkColumn(g *gosnmp.GoSNMP, baseOID string) map[string]string {
	out := make(map[string]string)

	pdus, err := g.BulkWalkAll(baseOID)
	if err != nil {
		f.logger.Debug("SNMP walk returned no data",
			zap.String("oid", baseOID),
			zap.Error(err),
		)
		return out
	}

	prefix := "." + baseOID + "."
	for _, pdu := range pdus {
		name := pdu.Name
		if !strings.HasPrefix(name, ".") {
			name = "." + name
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		index := name[len(prefix):]

		switch {
		case baseOID == oidIfPhysAddr:
			out[index] = pduMAC(pdu)
		case baseOID == oidLLDPRemCapEnabled || baseOID == oidCDPCacheCaps:
			out[index] = "0x" + strconv.FormatUint(uint64(pduCapBitmap(pdu)), 16)
		case baseOID == oidCDPCacheAddress:
			out[index] = pduIP(pdu)
		case baseOID == oidLLDPRemChassisID:
			out[index] = pduChassisID(pdu)
		default:
			out[index] = pduString(pdu)
		}
	}
	return out
}

// lldpManAddrFromOID extracts the 3-part neighbor index and the IPv4 address
// encoded in an lldpRemManAddrTable OID:
// <base>.<timeMark>.<localPortNum>.<index>.<addrSubtype>.<addrLen>.<addr...>
func lldpManAddrFromOID(oid string) (index, address string) {
	if !strings.HasPrefix(oid, ".") {
		oid = "." + oid
	}
	prefix := "." + oidLLDPRemManAddr + "."
	if !strings.HasPrefix(oid, prefix) {
		return "", ""
	}

	parts := strings.Split(oid[len(prefix):], ".")
	// timeMark.localPort.index.subtype.len + 4 IPv4 octets.
	if len(parts) < 9 {
		return "", ""
	}

	index = strings.Join(parts[:3], ".")

	subtype, err := strconv.Atoi(parts[3])
	if err != nil || subtype != 1 { // 1 = IPv4
		return index, ""
	}
	addrLen, err := strconv.Atoi(parts[4])
	if err != nil || addrLen != 4 || 5+addrLen > len(parts) {
		return index, ""
	}

	octets := make([]byte, 4)
	for i := range 4 {
		v, parseErr := strconv.Atoi(parts[5+i])
		if parseErr != nil || v < 0 || v > 255 {
			return index, ""
		}
		octets[i] = byte(v)
	}
	return index, net.IP(octets).String()
}

// pduString extracts a printable string from a PDU value.
func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return strings.TrimSpace(string(v))
	case string:
		return strings.TrimSpace(v)
	default:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
}

// pduChassisID renders a chassis identifier; 6-byte binary values are
// formatted as MAC addresses, anything printable passes through.
func pduChassisID(pdu gosnmp.SnmpPDU) string {
	if b, ok := pdu.Value.([]byte); ok && len(b) == 6 && !isPrintableASCII(b) {
		return formatMAC(b)
	}
	return pduString(pdu)
}

// pduMAC formats a 6-byte octet string as a colon-separated MAC address.
func pduMAC(pdu gosnmp.SnmpPDU) string {
	b, ok := pdu.Value.([]byte)
	if !ok || len(b) != 6 {
		return ""
	}
	return formatMAC(b)
}

// pduIP renders a 4- or 16-byte octet string as an IP address.
func pduIP(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		if len(v) == 4 || len(v) == 16 {
			return net.IP(v).String()
		}
		if isPrintableASCII(v) {
			return string(v)
		}
		return ""
	case string:
		return v
	default:
		return ""
	}
}

// pduCapBitmap extracts a capability bitmap, typically a 2-byte octet string.
func pduCapBitmap(pdu gosnmp.SnmpPDU) uint16 {
	switch v := pdu.Value.(type) {
	case []byte:
		if len(v) >= 2 {
			return uint16(v[0])<<8 | uint16(v[1])
		}
		if len(v) == 1 {
			return uint16(v[0])
		}
		return 0
	case int:
		return uint16(v)
	case uint:
		return uint16(v)
	case uint32:
		return uint16(v)
	default:
		return 0
	}
}

func formatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, ":")
}

// isPrintableASCII returns true if all bytes are printable ASCII (0x20..0x7E).
func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return len(b) > 0
}

// vendorFromSysDescr takes the first word of sysDescr as a vendor hint.
func vendorFromSysDescr(desc string) string {
	fields := strings.Fields(desc)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// modelFromSysDescr takes the first word of the second comma-separated
// segment of sysDescr, which on most vendor strings names the platform
// (e.g. "Cisco IOS Software, C3560 Software, ..." yields "C3560").
func modelFromSysDescr(desc string) string {
	segments := strings.Split(desc, ",")
	if len(segments) < 2 {
		return ""
	}
	fields := strings.Fields(segments[1])
	if len(fields) == 0 || strings.EqualFold(fields[0], "version") {
		return ""
	}
	return fields[0]
}

// firmwareFromSysDescr looks for a "Version X" token pair in sysDescr.
func firmwareFromSysDescr(desc string) string {
	fields := strings.Fields(desc)
	for i, f := range fields {
		if strings.EqualFold(strings.TrimSuffix(f, ","), "version") && i+1 < len(fields) {
			return strings.TrimSuffix(fields[i+1], ",")
		}
	}
	return ""
}
