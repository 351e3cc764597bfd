package security

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const torExitListURL = "https://check.torproject.org/torbulkexitlist"

// TorBlocklist checks client IPs against the current Tor exit-node list,
// fetched and cached by Prefetch/Run (a lookup never fetches), with an explicit
// allowlist carve-out for spec.md's `security.allow_tor_exits` config key.
type TorBlocklist struct {
	enabled   bool
	allowlist map[string]struct{}
	log       zerolog.Logger

	mu    sync.RWMutex
	exits map[string]struct{}
	done  bool
}

// NewTorBlocklist builds a TorBlocklist. allowlist entries are always
// treated as non-exit-node, even if they also appear on the fetched list.
func NewTorBlocklist(enabled bool, allowlist []string, log zerolog.Logger) *TorBlocklist {
	allowSet := make(map[string]struct{}, len(allowlist))
	for _, ip := range allowlist {
		allowSet[ip] = struct{}{}
	}
	return &TorBlocklist{enabled: enabled, allowlist: allowSet, log: log.With().Str("component", "tor_blocklist").Logger()}
}

// Prefetch loads the exit-node list in the background.
func (b *TorBlocklist) Prefetch(ctx context.Context) {
	if !b.enabled {
		return
	}
	lines, err := fetchLines(ctx, torExitListURL)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to prefetch tor exit node list")
		return
	}
	b.mu.Lock()
	b.exits = lines
	b.done = true
	b.mu.Unlock()
	b.log.Info().Int("exit_nodes", len(lines)).Msg("tor exit node list loaded")
}

// Run periodically refreshes the exit-node list until ctx is cancelled.
func (b *TorBlocklist) Run(ctx context.Context, interval time.Duration) {
	b.Prefetch(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Prefetch(ctx)
		}
	}
}

// IsTorExitNode reports whether ip is a known Tor exit node and not on the
// allowlist. A lookup before the list has loaded conservatively returns
// false rather than blocking every request during startup.
func (b *TorBlocklist) IsTorExitNode(ip string) bool {
	if !b.enabled {
		return false
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		ip = parsed.String()
	}
	if _, allowed := b.allowlist[ip]; allowed {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.done {
		return false
	}
	_, blocked := b.exits[ip]
	return blocked
}
