package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober feeds the authority's reachability into the monitor. It stands in for
// a platform connectivity signal: the monitor itself stays push-driven and any
// other source can call SetReachable instead.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
	log      *logrus.Entry
}

func NewProber(monitor *Monitor, url string, interval time.Duration, log *logrus.Entry) *Prober {
	return &Prober{
		monitor:  monitor,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
	}
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.log.WithError(err).Warn("failed to build probe request")
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.monitor.SetReachable(false)
		return
	}
	resp.Body.Close()
	p.monitor.SetReachable(resp.StatusCode < http.StatusInternalServerError)
}
