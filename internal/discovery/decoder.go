package discovery

import (
	"strconv"
	"strings"

	"github.com/danxiaonuo/toposcope/pkg/models"
)

// Protocol identifiers with registered decoders.
const (
	ProtocolLLDP = "lldp"
	ProtocolCDP  = "cdp"
)

// Row is one raw neighbor-table row as returned by a TableFetcher. Keys are
// protocol-specific column names; decoders tolerate missing optional columns.
type Row map[string]string

// colLocalPort names the local port identifier column shared by all neighbor
// tables. Fetchers derive it from the table index (ifIndex or localPortNum).
const colLocalPort = "local_port"

// NeighborDecoder normalizes raw protocol rows into NeighborInfo records.
// Decoders are pure: no shared state, no I/O. A malformed row is skipped,
// never fatal to the batch; deduplication is the graph store's job.
type NeighborDecoder interface {
	// Protocol returns the identifier this decoder handles.
	Protocol() string
	// Table returns the fetcher table name holding this protocol's neighbors.
	Table() string
	// Decode converts raw rows into normalized neighbor records.
	Decode(rows []Row) []models.NeighborInfo
}

// decoders is the strategy table keyed by protocol identifier. Protocol
// selection happens here once, not through string comparisons scattered
// through the prober.
var decoders = map[string]NeighborDecoder{
	ProtocolLLDP: LLDPDecoder{},
	ProtocolCDP:  CDPDecoder{},
}

func decoderFor(protocol string) (NeighborDecoder, bool) {
	d, ok := decoders[strings.ToLower(protocol)]
	return d, ok
}

// parseCapBits parses a capability bitfield that may arrive as a decimal or
// 0x-prefixed hex string.
func parseCapBits(s string) (uint16, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}
	base := 10
	if strings.HasPrefix(s, "0x") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
