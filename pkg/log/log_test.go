package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initJSON(level Level) *bytes.Buffer {
	buf := &bytes.Buffer{}
	Init(Config{Level: level, JSONOutput: true, Output: buf})
	return buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestWithComponentChainsDirectly(t *testing.T) {
	buf := initJSON(DebugLevel)

	WithComponent("probe").Info().Int("port", 19001).Msg("Gateway ready")

	entry := lastEntry(t, buf)
	assert.Equal(t, "probe", entry["component"])
	assert.Equal(t, float64(19001), entry["port"])
	assert.Equal(t, "Gateway ready", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestWithUserIDField(t *testing.T) {
	buf := initJSON(DebugLevel)

	WithUserID("user-1").Warn().Msg("Touch failed")

	entry := lastEntry(t, buf)
	assert.Equal(t, "user-1", entry["user_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestWithSandboxField(t *testing.T) {
	buf := initJSON(DebugLevel)

	WithSandbox("sb-1").Error().Msg("Container unhealthy")

	entry := lastEntry(t, buf)
	assert.Equal(t, "sb-1", entry["sandbox_id"])
	assert.Equal(t, "error", entry["level"])
}

func TestLevelFiltering(t *testing.T) {
	buf := initJSON(ErrorLevel)

	WithComponent("reaper").Debug().Msg("suppressed")
	WithComponent("reaper").Info().Msg("suppressed")
	assert.Zero(t, buf.Len())

	WithComponent("reaper").Error().Msg("emitted")
	assert.Equal(t, "emitted", lastEntry(t, buf)["message"])
}
