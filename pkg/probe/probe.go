// Package probe checks sandbox gateway readiness after a start.
//
// Readiness is defined as "the gateway answers HTTP at all": a tiny POST to
// the chat completions path that gets any HTTP status back counts as ready,
// including 4xx. Only transport-level failures (connection refused while
// the process boots, timeouts) count as not ready.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/clawbowl/clawbowl/pkg/log"
)

const (
	// ColdTimeout bounds readiness waiting for a freshly created container
	ColdTimeout = 120 * time.Second

	// WarmTimeout bounds readiness waiting for a restarted container
	WarmTimeout = 30 * time.Second

	attemptTimeout = 3 * time.Second
	interval       = 2 * time.Second
)

var probeBody = []byte(`{"model":"openclaw","messages":[{"role":"user","content":"ping"}],"max_tokens":1}`)

// Prober waits for a sandbox gateway on loopback to start answering.
type Prober struct {
	client *http.Client
}

// New returns a prober with the per-attempt timeout applied.
func New() *Prober {
	return &Prober{client: &http.Client{Timeout: attemptTimeout}}
}

// Ready performs a single probe attempt against the port. Any HTTP
// response means ready.
func (p *Prober) Ready(ctx context.Context, port int, token string) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d/v1/chat/completions", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(probeBody))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// WaitReady polls every 2 seconds until the gateway responds or the budget
// elapses. A timeout is not an error: the sandbox usually finishes booting
// moments later and the client's first real request succeeds, so we log
// and hand control back.
func (p *Prober) WaitReady(ctx context.Context, port int, token string, budget time.Duration) bool {
	logger := log.WithComponent("probe")
	deadline := time.Now().Add(budget)

	for {
		if p.Ready(ctx, port, token) {
			return true
		}
		if time.Now().After(deadline) {
			logger.Warn().
				Int("port", port).
				Dur("budget", budget).
				Msg("Gateway not ready within budget, continuing anyway")
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}
