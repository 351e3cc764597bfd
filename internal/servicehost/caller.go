package servicehost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Caller makes outbound calls to service hosts (e.g. pushing a resolved
// address or delivery receipt), with one circuit breaker per host so a
// single misbehaving integration can't stall calls to every other host.
// Grounded on the per-client gobreaker.CircuitBreaker the pack's
// RoseWrightdev-Video-Conferencing SFU client uses for its outbound gRPC
// calls, generalized from one breaker per process to one breaker per host.
type Caller struct {
	mu       sync.Mutex
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker
	client   *http.Client
	log      zerolog.Logger
}

// NewCaller builds a Caller using httpClient for the actual requests.
func NewCaller(httpClient *http.Client, log zerolog.Logger) *Caller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Caller{
		breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker),
		client:   httpClient,
		log:      log.With().Str("component", "servicehost_caller").Logger(),
	}
}

func (c *Caller) breakerFor(host Host) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host.ID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host.ID.String(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("host_id", name).Str("from", from.String()).Str("to", to.String()).Msg("service host circuit breaker state change")
		},
	})
	c.breakers[host.ID] = cb
	return cb
}

// Call POSTs body to host's URL joined with path, tripping host's circuit
// breaker on repeated failure. Returns gobreaker.ErrOpenState while the
// breaker is open, without attempting the request.
func (c *Caller) Call(ctx context.Context, host Host, path string, body []byte) ([]byte, error) {
	cb := c.breakerFor(host)
	result, err := cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, host.URL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call service host: %w", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read service host response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("service host %s responded %d", host.ID, resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
