package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/metrics"
	"github.com/clawbowl/clawbowl/pkg/types"
	"github.com/clawbowl/clawbowl/pkg/workspace"
)

const (
	defaultModel = "zenmux/deepseek/deepseek-chat"

	connectTimeout = 30 * time.Second
	readTimeout    = 300 * time.Second

	attempts = 2
	backoff  = 3 * time.Second

	sessionKeyHeader = "x-openclaw-session-key"
	sessionKeyPrefix = "clawbowl-"

	doneSentinel = "[DONE]"
)

// Proxy forwards chat completion requests to per-user sandbox gateways
// and shapes the upstream SSE stream into typed deltas.
type Proxy struct {
	client *http.Client

	// overridable in tests
	backoff time.Duration
	now     func() time.Time
}

// NewProxy creates a proxy with production transport timeouts.
func NewProxy() *Proxy {
	return &Proxy{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: connectTimeout,
			},
		},
		backoff: backoff,
		now:     time.Now,
	}
}

// ChatStream forwards the request to the user's sandbox gateway and
// writes a shaped SSE stream to emit. Transport failures surface as a
// friendly content delta inside the stream, never as an error return;
// the only error returned is the client's own cancellation.
func (p *Proxy) ChatStream(ctx context.Context, sb *types.Sandbox, req *ChatRequest, emit Emitter) error {
	logger := log.WithUserID(sb.UserID)
	workspaceDir := filepath.Join(sb.DataPath, "workspace")
	inboundCount := len(req.Messages)

	materializeAttachments(req, workspaceDir)
	injectTemporalContext(req, p.now())
	p.pinSession(req, sb, true)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	before := workspace.Snapshot(workspaceDir)
	sh := newShaper(emit, p.now)

	var kind errorKind
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.send(ctx, sb, body)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			kind = classifyRequestErr(err)
			logger.Warn().Err(err).Int("attempt", attempt).
				Str("kind", string(kind)).Msg("Upstream request failed")
			if attempt < attempts {
				metrics.ProxyRetriesTotal.Inc()
				if !sleepCtx(ctx, p.backoff) {
					return ctx.Err()
				}
			}
			continue
		}

		_, err = p.consumeStream(ctx, resp.Body, sh)
		resp.Body.Close()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			kind = errRead
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Upstream stream broke")
			// Retrying after partial output would duplicate thinking
			// text on the client; only a stream that produced nothing
			// is safe to replay.
			if sh.chunks == 0 && attempt < attempts {
				metrics.ProxyRetriesTotal.Inc()
				if !sleepCtx(ctx, p.backoff) {
					return ctx.Err()
				}
				continue
			}
			break
		}

		sh.finalize(inboundCount)
		p.emitFileDeltas(before, workspaceDir, emit)
		metrics.ProxyRequestsTotal.WithLabelValues("ok").Inc()
		return emit.Done()
	}

	metrics.ProxyFriendlyErrors.WithLabelValues(string(kind)).Inc()
	metrics.ProxyRequestsTotal.WithLabelValues("friendly_error").Inc()
	if err := emit.Delta(Delta{Type: DeltaContent, Text: friendlyMessages[kind]}); err != nil {
		return err
	}
	return emit.Done()
}

// Chat forwards a non-streaming request. Exhausted retries return a
// synthetic completion carrying the friendly message instead of an error.
func (p *Proxy) Chat(ctx context.Context, sb *types.Sandbox, req *ChatRequest) (map[string]interface{}, error) {
	logger := log.WithUserID(sb.UserID)
	workspaceDir := filepath.Join(sb.DataPath, "workspace")

	materializeAttachments(req, workspaceDir)
	injectTemporalContext(req, p.now())
	p.pinSession(req, sb, false)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var kind errorKind
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.send(ctx, sb, body)
		if err == nil {
			var out map[string]interface{}
			decodeErr := json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
			if decodeErr == nil {
				metrics.ProxyRequestsTotal.WithLabelValues("ok").Inc()
				return out, nil
			}
			err = decodeErr
			kind = errRead
		} else {
			kind = classifyRequestErr(err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn().Err(err).Int("attempt", attempt).
			Str("kind", string(kind)).Msg("Upstream request failed")
		if attempt < attempts {
			metrics.ProxyRetriesTotal.Inc()
			if !sleepCtx(ctx, p.backoff) {
				return nil, ctx.Err()
			}
		}
	}

	metrics.ProxyFriendlyErrors.WithLabelValues(string(kind)).Inc()
	metrics.ProxyRequestsTotal.WithLabelValues("friendly_error").Inc()
	return map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": friendlyMessages[kind],
				},
				"finish_reason": "stop",
			},
		},
	}, nil
}

// pinSession binds the request to the user's single upstream session.
func (p *Proxy) pinSession(req *ChatRequest, sb *types.Sandbox, stream bool) {
	if req.Model == "" {
		req.Model = defaultModel
	}
	req.Stream = stream
	req.User = sb.UserID
}

func (p *Proxy) send(ctx context.Context, sb *types.Sandbox, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	url := fmt.Sprintf("http://127.0.0.1:%d/v1/chat/completions", sb.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sb.GatewayToken)
	req.Header.Set(sessionKeyHeader, sessionKeyPrefix+sb.UserID)

	resp, err := p.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		cancel()
		return nil, &upstreamStatusError{status: resp.StatusCode}
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// consumeStream feeds upstream SSE lines into the shaper until the
// terminal sentinel. Returns true when [DONE] was observed.
func (p *Proxy) consumeStream(ctx context.Context, body io.Reader, sh *shaper) (bool, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == doneSentinel {
			return true, nil
		}
		var chunk upstreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		sh.onChunk(&chunk)
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	// EOF without [DONE] still finalizes; the gateway was interrupted
	// after its last chunk.
	return false, nil
}

// emitFileDeltas diffs the workspace against the pre-stream snapshot and
// emits one file delta per new or changed path, before the sentinel.
func (p *Proxy) emitFileDeltas(before map[string]string, workspaceDir string, emit Emitter) {
	for _, f := range workspace.Diff(before, workspaceDir) {
		f := f
		if err := emit.Delta(Delta{Type: DeltaFile, File: &f}); err != nil {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// cancelReadCloser ties a request's timeout cancel to body close.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
