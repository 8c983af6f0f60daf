package client

import (
	"context"
	"time"
)

// Health of the broker and the gateway behind it, as seen by one poll.
type HealthStatus struct {
	BrokerUp  bool
	GatewayUp bool
}

// StatusPoller periodically probes the broker's health endpoints and
// reports the result to a callback. The ticker controls the frequency of
// probes. The done channel is used to stop ticking and clean up the
// goroutine.
type StatusPoller struct {
	api    *BrokerClient
	ticker *time.Ticker
	done   chan struct{}
	fn     func(status HealthStatus)
}

// NewStatusPoller creates a poller which probes every d duration. If d is
// 0, no ticking is performed and Poll must be called directly, which is
// useful for testing.
func NewStatusPoller(api *BrokerClient, d time.Duration) *StatusPoller {
	sp := &StatusPoller{
		api:  api,
		done: make(chan struct{}),
	}
	if d != 0 {
		sp.ticker = time.NewTicker(d)
	}
	return sp
}

// SetCallback sets the function called with each probe's result.
func (p *StatusPoller) SetCallback(fn func(status HealthStatus)) {
	p.fn = fn
}

// Poll probes both endpoints once and reports the result.
func (p *StatusPoller) Poll(ctx context.Context) HealthStatus {
	status := HealthStatus{
		BrokerUp:  p.api.Health(ctx) == nil,
		GatewayUp: p.api.BotHealth(ctx) == nil,
	}
	if p.fn != nil {
		p.fn(status)
	}
	return status
}

// Stop ticking.
func (p *StatusPoller) Stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
	close(p.done)
}

// Run blocks, probing on every tick until Stop is called or the context is
// cancelled.
func (p *StatusPoller) Run(ctx context.Context) {
	if p.ticker == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-p.ticker.C:
			p.Poll(ctx)
		}
	}
}
