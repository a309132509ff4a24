package bgsync

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// Prober checks connectivity. A nil error means online.
type Prober func(ctx context.Context) error

// HTTPProbe returns a Prober that GETs url and expects a 2xx answer.
func HTTPProbe(client *http.Client, url string) Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Monitor probes connectivity and fires pending syncs when it comes back.
type Monitor struct {
	coordinator *Coordinator
	probe       Prober
	interval    time.Duration
	timeout     time.Duration
	logger      *log.Logger

	online atomic.Bool
}

// NewMonitor creates a monitor that probes every interval.
func NewMonitor(c *Coordinator, probe Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		coordinator: c,
		probe:       probe,
		interval:    interval,
		timeout:     5 * time.Second,
		logger:      c.logger,
	}
}

// Online reports the result of the last probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Run probes until ctx is done. Every offline to online transition fires
// all pending syncs once.
func (m *Monitor) Run(ctx context.Context) error {
	m.online.Store(m.check(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

// step runs one probe and handles the transition it reveals.
func (m *Monitor) step(ctx context.Context) {
	now := m.check(ctx)
	was := m.online.Swap(now)

	switch {
	case now && !was:
		m.logger.Println("Connectivity restored")
		if n := m.coordinator.FireAll(ctx); n > 0 {
			m.logger.Printf("Fired %d pending sync(s)", n)
		}
	case !now && was:
		m.logger.Println("Connectivity lost")
	}
}

func (m *Monitor) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.probe(ctx) == nil
}
