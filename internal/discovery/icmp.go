package discovery

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// ICMPPinger implements the Pinger precheck with a single ICMP echo. Dead
// hosts are skipped before the slower SNMP table walks.
type ICMPPinger struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewICMPPinger creates a pinger with the given per-host timeout.
func NewICMPPinger(timeout time.Duration, logger *zap.Logger) *ICMPPinger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ICMPPinger{timeout: timeout, logger: logger}
}

// Reachable pings the address once and reports whether a reply arrived.
// Any setup or send error counts as unreachable.
func (p *ICMPPinger) Reachable(ctx context.Context, address string) bool {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		p.logger.Debug("failed to create pinger", zap.String("address", address), zap.Error(err))
		return false
	}

	pinger.Count = 1
	pinger.Timeout = p.timeout
	// Raw sockets are required on Windows; unprivileged UDP works elsewhere.
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			p.logger.Debug("ping failed", zap.String("address", address), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return false
	}

	return pinger.Statistics().PacketsRecv > 0
}
