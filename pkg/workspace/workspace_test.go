package workspace

import (
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

func testContext() Context {
	return Context{
		UserName:     "alice",
		UserLanguage: "中文",
		UserTimezone: "Asia/Shanghai",
		AgentName:    "Claw",
		CreationDate: "2026-08-24",
		TavilyAPIKey: "tv-key",
	}
}

func writeTemplate(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestInitRendersTemplates(t *testing.T) {
	tmplDir := t.TempDir()
	writeTemplate(t, tmplDir, "AGENT.md.tmpl", "Hello {{USER_NAME}}, I am {{AGENT_NAME}}. Since {{CREATION_DATE}}.")
	writeTemplate(t, tmplDir, "notes/README.md", "static file")

	wsDir := filepath.Join(t.TempDir(), "workspace")
	cfgDir := filepath.Join(t.TempDir(), "config")
	require.NoError(t, Init(tmplDir, wsDir, cfgDir, testContext()))

	rendered, err := os.ReadFile(filepath.Join(wsDir, "AGENT.md"))
	require.NoError(t, err)
	assert.Equal(t, "Hello alice, I am Claw. Since 2026-08-24.", string(rendered))

	static, err := os.ReadFile(filepath.Join(wsDir, "notes", "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "static file", string(static))

	// Required directories exist.
	assert.DirExists(t, filepath.Join(wsDir, "memory"))
	assert.DirExists(t, filepath.Join(wsDir, "media", "inbound"))

	// Cron jobs file seeded.
	jobs, err := os.ReadFile(filepath.Join(cfgDir, "cron", "jobs.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": 1, "jobs": []}`, string(jobs))
}

func TestInitIsIdempotent(t *testing.T) {
	tmplDir := t.TempDir()
	writeTemplate(t, tmplDir, "AGENT.md.tmpl", "v1 {{USER_NAME}}")

	wsDir := filepath.Join(t.TempDir(), "workspace")
	cfgDir := filepath.Join(t.TempDir(), "config")
	require.NoError(t, Init(tmplDir, wsDir, cfgDir, testContext()))

	// User edits their file; cron file gets a job.
	edited := filepath.Join(wsDir, "AGENT.md")
	require.NoError(t, os.WriteFile(edited, []byte("user edits"), 0o644))
	jobsFile := filepath.Join(cfgDir, "cron", "jobs.json")
	require.NoError(t, os.WriteFile(jobsFile, []byte(`{"version":1,"jobs":[{"name":"daily"}]}`), 0o644))

	require.NoError(t, Init(tmplDir, wsDir, cfgDir, testContext()))

	data, err := os.ReadFile(edited)
	require.NoError(t, err)
	assert.Equal(t, "user edits", string(data))

	jobs, err := os.ReadFile(jobsFile)
	require.NoError(t, err)
	assert.Contains(t, string(jobs), "daily")
}

func TestInitMissingTemplateDir(t *testing.T) {
	wsDir := filepath.Join(t.TempDir(), "workspace")
	cfgDir := filepath.Join(t.TempDir(), "config")
	require.NoError(t, Init(filepath.Join(t.TempDir(), "nope"), wsDir, cfgDir, testContext()))
	assert.DirExists(t, filepath.Join(wsDir, "memory"))
}

func TestSnapshotPrunes(t *testing.T) {
	dir := t.TempDir()
	mk := func(rel string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	mk("report.md")
	mk("media/outbound/chart.png")
	mk("media/inbound/photo.jpg")   // pruned path
	mk(".openclaw/state.json")      // pruned dot dir
	mk("node_modules/pkg/index.js") // pruned name
	mk("_scratch/tmp.txt")          // underscore prefix
	mk("memory/2026-08-24.md")      // pruned name
	mk(".hidden")                   // dot file

	snap := Snapshot(dir)
	assert.Contains(t, snap, "report.md")
	assert.Contains(t, snap, "media/outbound/chart.png")
	assert.NotContains(t, snap, "media/inbound/photo.jpg")
	assert.NotContains(t, snap, ".openclaw/state.json")
	assert.NotContains(t, snap, "node_modules/pkg/index.js")
	assert.NotContains(t, snap, "_scratch/tmp.txt")
	assert.NotContains(t, snap, "memory/2026-08-24.md")
	assert.NotContains(t, snap, ".hidden")
}

func TestDiffDetectsNewAndChangedFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.txt")
	require.NoError(t, os.WriteFile(existing, []byte("before"), 0o644))

	before := Snapshot(dir)

	// New file.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "media", "outbound"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "media", "outbound", "result.xlsx"), []byte("data"), 0o644))

	// Changed file: different size guarantees a signature change even on
	// filesystems with coarse mtime resolution.
	require.NoError(t, os.WriteFile(existing, []byte("after, longer"), 0o644))
	require.NoError(t, os.Chtimes(existing, time.Now(), time.Now().Add(time.Second)))

	files := Diff(before, dir)
	require.Len(t, files, 2)

	byPath := map[string]NewFile{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	assert.Contains(t, byPath, "media/outbound/result.xlsx")
	assert.Equal(t, "result.xlsx", byPath["media/outbound/result.xlsx"].Name)
	assert.Equal(t, "xlsx", byPath["media/outbound/result.xlsx"].Type)
	assert.Equal(t, int64(4), byPath["media/outbound/result.xlsx"].Size)
	assert.Contains(t, byPath, "old.txt")
}

func TestDiffNoChanges(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stable.txt"), []byte("x"), 0o644))
	before := Snapshot(dir)
	assert.Empty(t, Diff(before, dir))
}

func TestHasEnabledCronJobs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{name: "no file", content: "", want: false},
		{name: "empty jobs", content: `{"version":1,"jobs":[]}`, want: false},
		{name: "enabled job", content: `{"version":1,"jobs":[{"name":"daily","enabled":true}]}`, want: true},
		{name: "enabled defaults true", content: `{"version":1,"jobs":[{"name":"daily"}]}`, want: true},
		{name: "all disabled", content: `{"version":1,"jobs":[{"name":"daily","enabled":false}]}`, want: false},
		{name: "mixed", content: `{"version":1,"jobs":[{"enabled":false},{"name":"weekly"}]}`, want: true},
		{name: "malformed", content: `{"version":`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgDir := t.TempDir()
			if tt.content != "" {
				require.NoError(t, os.MkdirAll(filepath.Join(cfgDir, "cron"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "cron", "jobs.json"), []byte(tt.content), 0o644))
			}
			assert.Equal(t, tt.want, HasEnabledCronJobs(cfgDir))
		})
	}
}
