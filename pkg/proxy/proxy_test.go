package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbowl/clawbowl/pkg/types"
)

func newStreamProxy(t *testing.T) *Proxy {
	t.Helper()
	p := NewProxy()
	p.backoff = time.Millisecond
	return p
}

func testSandbox(t *testing.T, port int) *types.Sandbox {
	t.Helper()
	dataPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataPath, "workspace"), 0o755))
	return &types.Sandbox{
		ID:           "sb-1",
		UserID:       "user-1",
		Port:         port,
		GatewayToken: "tok-abc",
		DataPath:     dataPath,
	}
}

// sseUpstream runs a fake gateway whose handler writes raw SSE lines.
func sseUpstream(t *testing.T, handler http.HandlerFunc) int {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().(*net.TCPAddr).Port
}

func writeSSE(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, line := range lines {
		fmt.Fprintf(w, "data: %s\n\n", line)
	}
}

// closedPort returns a loopback port with nothing listening.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestChatStreamHappyPath(t *testing.T) {
	var gotAuth, gotSession string
	var gotBody ChatRequest
	port := sseUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get(sessionKeyHeader)
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Error(err)
		}
		writeSSE(w,
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":" world"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			doneSentinel,
		)
	})

	sb := testSandbox(t, port)
	emit := &testEmitter{}
	req := decodeRequest(t, `{"messages": [{"role": "user", "content": "hi"}]}`)

	require.NoError(t, newStreamProxy(t).ChatStream(context.Background(), sb, req, emit))

	assert.Equal(t, "Bearer tok-abc", gotAuth)
	assert.Equal(t, "clawbowl-user-1", gotSession)
	assert.True(t, gotBody.Stream)
	assert.Equal(t, "user-1", gotBody.User)
	assert.Equal(t, defaultModel, gotBody.Model)
	require.NotEmpty(t, gotBody.Messages)
	assert.Equal(t, "system", gotBody.Messages[0].Role)

	contents := emit.ofType(DeltaContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "Hello world", contents[0].Text)
	assert.True(t, emit.done)
}

func TestChatStreamConnectRefusedFriendly(t *testing.T) {
	sb := testSandbox(t, closedPort(t))
	emit := &testEmitter{}
	req := decodeRequest(t, `{"messages": [{"role": "user", "content": "hi"}]}`)

	require.NoError(t, newStreamProxy(t).ChatStream(context.Background(), sb, req, emit))

	require.Len(t, emit.deltas, 1)
	assert.Equal(t, DeltaContent, emit.deltas[0].Type)
	assert.Equal(t, "网络连接异常，正在重试...", emit.deltas[0].Text)
	assert.True(t, emit.done)
}

func TestChatStreamServerErrorFriendly(t *testing.T) {
	var calls atomic.Int32
	port := sseUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	sb := testSandbox(t, port)
	emit := &testEmitter{}
	req := decodeRequest(t, `{"messages": [{"role": "user", "content": "hi"}]}`)

	require.NoError(t, newStreamProxy(t).ChatStream(context.Background(), sb, req, emit))

	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, emit.deltas, 1)
	assert.Equal(t, "AI 服务暂时繁忙，请稍后再试", emit.deltas[0].Text)
	assert.True(t, emit.done)
}

func TestChatStreamEmptyFiltered(t *testing.T) {
	port := sseUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, doneSentinel)
	})

	sb := testSandbox(t, port)
	emit := &testEmitter{}
	req := decodeRequest(t, `{"messages": [
		{"role": "user", "content": "1"}, {"role": "assistant", "content": "2"},
		{"role": "user", "content": "3"}, {"role": "assistant", "content": "4"},
		{"role": "user", "content": "5"}
	]}`)

	require.NoError(t, newStreamProxy(t).ChatStream(context.Background(), sb, req, emit))

	contents := emit.ofType(DeltaContent)
	require.Len(t, contents, 1)
	assert.Equal(t, filteredMessage, contents[0].Text)
	assert.True(t, contents[0].Filtered)
}

func TestChatStreamFileDeltas(t *testing.T) {
	var workspaceDir string
	port := sseUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		// Simulate the agent writing an artifact during the stream.
		if err := os.WriteFile(filepath.Join(workspaceDir, "report.md"), []byte("# done"), 0o644); err != nil {
			t.Error(err)
		}
		writeSSE(w,
			`{"choices":[{"delta":{"content":"wrote it"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			doneSentinel,
		)
	})

	sb := testSandbox(t, port)
	workspaceDir = filepath.Join(sb.DataPath, "workspace")
	emit := &testEmitter{}
	req := decodeRequest(t, `{"messages": [{"role": "user", "content": "write a report"}]}`)

	require.NoError(t, newStreamProxy(t).ChatStream(context.Background(), sb, req, emit))

	files := emit.ofType(DeltaFile)
	require.Len(t, files, 1)
	require.NotNil(t, files[0].File)
	assert.Equal(t, "report.md", files[0].File.Name)
	assert.Equal(t, "report.md", files[0].File.Path)
	assert.Equal(t, int64(6), files[0].File.Size)

	// File deltas precede the sentinel; the emitter records done last.
	assert.True(t, emit.done)
	assert.Equal(t, DeltaFile, emit.deltas[len(emit.deltas)-1].Type)
}

func TestChatStreamClientCancel(t *testing.T) {
	port := sseUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"choices":[{"delta":{"content":"partial"}}]}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})

	sb := testSandbox(t, port)
	emit := &testEmitter{}
	req := decodeRequest(t, `{"messages": [{"role": "user", "content": "hi"}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := newStreamProxy(t).ChatStream(ctx, sb, req, emit)
	assert.ErrorIs(t, err, context.Canceled)
	// No fabricated content after the abort.
	assert.Empty(t, emit.ofType(DeltaContent))
	assert.False(t, emit.done)
}

func TestChatNonStreamingFallback(t *testing.T) {
	sb := testSandbox(t, closedPort(t))
	req := decodeRequest(t, `{"messages": [{"role": "user", "content": "hi"}]}`)

	out, err := newStreamProxy(t).Chat(context.Background(), sb, req)
	require.NoError(t, err)

	choices := out["choices"].([]interface{})
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	assert.Equal(t, "网络连接异常，正在重试...", msg["content"])
}
