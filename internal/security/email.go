// Package security implements the pluggable abuse-prevention predicates
// spec.md's `security.*` config block gestures at: a disposable-email-domain
// blocklist and a Tor exit-node blocklist, both consulted during
// registration.
package security

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EmailBlocklist checks email domains against a list of known disposable
// email providers, fetched lazily and cached for the process lifetime.
// Grounded on the teacher's deleted disposable/blocklist.go lazy-fetch and
// double-checked-locking shape, adapted to satisfy
// auth.DisposableEmailChecker's synchronous IsDisposable(domain) bool and to
// carry an injected logger instead of the package-level zerolog singleton.
type EmailBlocklist struct {
	url     string
	enabled bool
	log     zerolog.Logger

	mu      sync.RWMutex
	domains map[string]struct{}
	loaded  bool
}

// NewEmailBlocklist creates a blocklist that fetches from url. If enabled is
// false, every lookup returns false without ever making a network request.
func NewEmailBlocklist(url string, enabled bool, log zerolog.Logger) *EmailBlocklist {
	return &EmailBlocklist{url: url, enabled: enabled, log: log.With().Str("component", "email_blocklist").Logger()}
}

// Prefetch loads the blocklist in the background so the first registration
// request does not pay the fetch latency. Errors are logged; IsBlocked will
// retry lazily on the next call.
func (b *EmailBlocklist) Prefetch(ctx context.Context) {
	if !b.enabled {
		return
	}
	domains, err := fetchLines(ctx, b.url)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to prefetch disposable email blocklist")
		return
	}
	b.mu.Lock()
	b.domains = domains
	b.loaded = true
	b.mu.Unlock()
	b.log.Info().Int("domains", len(domains)).Msg("disposable email blocklist loaded")
}

// Run periodically refreshes the blocklist until ctx is cancelled. It
// prefetches once immediately.
func (b *EmailBlocklist) Run(ctx context.Context, interval time.Duration) {
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

// IsBlocked reports whether domain is a known disposable-email provider,
// fetching and caching the list on first use if it has not been prefetched.
func (b *EmailBlocklist) IsBlocked(ctx context.Context, domain string) (bool, error) {
	if !b.enabled {
		return false, nil
	}

	b.mu.RLock()
	if b.loaded {
		_, blocked := b.domains[strings.ToLower(domain)]
		b.mu.RUnlock()
		return blocked, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		_, blocked := b.domains[strings.ToLower(domain)]
		return blocked, nil
	}

	domains, err := fetchLines(ctx, b.url)
	if err != nil {
		return false, fmt.Errorf("load disposable email blocklist: %w", err)
	}
	b.domains = domains
	b.loaded = true
	_, blocked := domains[strings.ToLower(domain)]
	return blocked, nil
}

// IsDisposable implements auth.DisposableEmailChecker. A fetch failure is
// treated as "not disposable" so registration never hard-fails on a
// third-party outage; the failure is logged.
func (b *EmailBlocklist) IsDisposable(domain string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	blocked, err := b.IsBlocked(ctx, domain)
	if err != nil {
		b.log.Warn().Err(err).Str("domain", domain).Msg("disposable email check failed, allowing")
		return false
	}
	return blocked
}

func fetchLines(ctx context.Context, url string) (map[string]struct{}, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create blocklist request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch blocklist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blocklist returned status %d", resp.StatusCode)
	}

	lines := make(map[string]struct{})
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read blocklist: %w", err)
	}
	return lines, nil
}
