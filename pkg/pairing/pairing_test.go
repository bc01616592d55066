package pairing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbowl/clawbowl/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func readJSON(t *testing.T, path string) map[string]map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestApproveOncePromotesPending(t *testing.T) {
	dir := t.TempDir()
	pendingPath := filepath.Join(dir, "pending.json")
	pairedPath := filepath.Join(dir, "paired.json")

	writeJSON(t, pendingPath, map[string]interface{}{
		"req-1": map[string]interface{}{"deviceId": "dev-abc", "ts": 1724400000},
		"req-2": map[string]interface{}{}, // no deviceId, keyed by request id
	})

	n, err := ApproveOnce(pendingPath, pairedPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	paired := readJSON(t, pairedPath)
	require.Contains(t, paired, "dev-abc")
	assert.Equal(t, true, paired["dev-abc"]["approved"])
	assert.Equal(t, float64(1724400000), paired["dev-abc"]["pairedAt"])
	require.Contains(t, paired, "req-2")
	assert.Equal(t, float64(0), paired["req-2"]["pairedAt"])

	// Pending reset to empty object.
	pending := readJSON(t, pendingPath)
	assert.Empty(t, pending)
}

func TestApproveOnceMergesExistingPaired(t *testing.T) {
	dir := t.TempDir()
	pendingPath := filepath.Join(dir, "pending.json")
	pairedPath := filepath.Join(dir, "paired.json")

	writeJSON(t, pairedPath, map[string]interface{}{
		"dev-old": map[string]interface{}{"approved": true},
	})
	writeJSON(t, pendingPath, map[string]interface{}{
		"req-1": map[string]interface{}{"deviceId": "dev-new"},
	})

	n, err := ApproveOnce(pendingPath, pairedPath)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	paired := readJSON(t, pairedPath)
	assert.Contains(t, paired, "dev-old")
	assert.Contains(t, paired, "dev-new")
}

func TestApproveOnceEmptyPending(t *testing.T) {
	dir := t.TempDir()
	pendingPath := filepath.Join(dir, "pending.json")
	pairedPath := filepath.Join(dir, "paired.json")
	writeJSON(t, pendingPath, map[string]interface{}{})

	n, err := ApproveOnce(pendingPath, pairedPath)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, pairedPath)
}

func TestApproveOnceMissingPending(t *testing.T) {
	dir := t.TempDir()
	n, err := ApproveOnce(filepath.Join(dir, "pending.json"), filepath.Join(dir, "paired.json"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApproveOnceMalformedPending(t *testing.T) {
	dir := t.TempDir()
	pendingPath := filepath.Join(dir, "pending.json")
	require.NoError(t, os.WriteFile(pendingPath, []byte("{broken"), 0o644))

	_, err := ApproveOnce(pendingPath, filepath.Join(dir, "paired.json"))
	assert.Error(t, err)
}

func TestAutoApproveStopsAfterSuccess(t *testing.T) {
	configDir := t.TempDir()
	pendingPath := filepath.Join(configDir, "devices", "pending.json")
	writeJSON(t, pendingPath, map[string]interface{}{
		"req-1": map[string]interface{}{"deviceId": "dev-1"},
	})

	a := &Approver{Retries: 5, Interval: 10 * time.Millisecond}
	start := time.Now()
	a.AutoApprove(context.Background(), configDir)

	// Finished on the first tick, not all five.
	assert.Less(t, time.Since(start), 40*time.Millisecond)

	paired := readJSON(t, filepath.Join(configDir, "devices", "paired.json"))
	assert.Contains(t, paired, "dev-1")
}

func TestAutoApproveRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &Approver{Retries: 3, Interval: time.Hour}
	done := make(chan struct{})
	go func() {
		a.AutoApprove(ctx, t.TempDir())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AutoApprove did not return on canceled context")
	}
}
