// Package connectivity answers "can I reach the network right now"
// without ever stalling a caller for a full probe timeout on every ask.
//
// The answer is cached for a short TTL; past the TTL a single probe
// runs and concurrent callers wait for it and share its verdict.  The
// cache lock is never held across a probe.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober performs the actual reachability check.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber treats 200 or 204 from a known endpoint as online.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent
}

// Oracle is the cached reachability check.
type Oracle struct {
	prober  Prober
	ttl     time.Duration
	timeout time.Duration
	logger  *logrus.Logger

	mu        sync.Mutex
	available bool
	lastCheck time.Time

	probeMu sync.Mutex // serializes probes; never nested with mu

	now func() time.Time // test hook
}

// Config holds the parameters for New.
type Config struct {
	ProbeURL string
	TTL      time.Duration // cache lifetime, default 10s
	Timeout  time.Duration // per-probe bound, default 2s
}

func New(cfg Config, logger *logrus.Logger) *Oracle {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Oracle{
		prober:  &HTTPProber{URL: cfg.ProbeURL, Client: &http.Client{Timeout: cfg.Timeout}},
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// NewWithProber is used by tests and by callers with a custom probe.
func NewWithProber(p Prober, ttl, timeout time.Duration, logger *logrus.Logger) *Oracle {
	o := New(Config{TTL: ttl, Timeout: timeout}, logger)
	o.prober = p
	return o
}

// Available reports network reachability, probing at most once per TTL.
// Concurrent callers past the TTL wait for the one in-flight probe and
// share its result rather than each probing on their own.
func (o *Oracle) Available() bool {
	if v, ok := o.cached(); ok {
		return v
	}

	o.probeMu.Lock()
	defer o.probeMu.Unlock()

	// Another caller may have finished the probe while we waited.
	if v, ok := o.cached(); ok {
		return v
	}

	// Single bounded probe, outside the cache lock.
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	online := o.prober.Probe(ctx)

	o.mu.Lock()
	o.available = online
	o.lastCheck = o.now()
	o.mu.Unlock()

	if !online {
		o.logger.Debug("connectivity probe: offline")
	}
	return online
}

func (o *Oracle) cached() (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.now().Sub(o.lastCheck) < o.ttl {
		return o.available, true
	}
	return false, false
}

// Invalidate expires the cache so the next Available call probes.
func (o *Oracle) Invalidate() {
	o.mu.Lock()
	o.lastCheck = time.Time{}
	o.mu.Unlock()
}
