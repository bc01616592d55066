// Package workspace materializes and inspects per-user sandbox workspaces.
//
// Initialization renders a template tree (the agent's "birth pack") into a
// new user's workspace directory. Files already present are never
// overwritten, so re-running init on an existing user is a no-op. The
// snapshot/diff half supports the streaming proxy: a cheap (size, mtime)
// walk before an agent turn, diffed after it, reveals files the agent
// produced.
package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clawbowl/clawbowl/pkg/log"
)

// TemplateSuffix marks template files that get placeholder substitution.
// Everything else in the template tree is copied verbatim.
const TemplateSuffix = ".tmpl"

// Context carries the values substituted into workspace templates.
type Context struct {
	UserName     string
	UserLanguage string
	UserTimezone string
	AgentName    string
	CreationDate string
	TavilyAPIKey string
}

// DefaultContext returns the template context for a new user.
func DefaultContext(userName, tavilyKey string) Context {
	return Context{
		UserName:     userName,
		UserLanguage: "中文",
		UserTimezone: "Asia/Shanghai",
		AgentName:    "Claw",
		CreationDate: time.Now().UTC().Format("2006-01-02"),
		TavilyAPIKey: tavilyKey,
	}
}

func (c Context) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{{USER_NAME}}", c.UserName,
		"{{USER_LANGUAGE}}", c.UserLanguage,
		"{{USER_TIMEZONE}}", c.UserTimezone,
		"{{AGENT_NAME}}", c.AgentName,
		"{{CREATION_DATE}}", c.CreationDate,
		"{{TAVILY_API_KEY}}", c.TavilyAPIKey,
	)
}

// Init renders the template tree into workspaceDir and seeds the cron jobs
// file under configDir. Existing files are left alone. A missing template
// directory is logged and skipped so dev setups without templates still
// get a usable workspace.
func Init(templateDir, workspaceDir, configDir string, ctx Context) error {
	logger := log.WithComponent("workspace")

	if info, err := os.Stat(templateDir); err != nil || !info.IsDir() {
		logger.Warn().Str("template_dir", templateDir).Msg("Workspace template dir not found, skipping")
	} else {
		replacer := ctx.replacer()
		err := filepath.WalkDir(templateDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			rel, err := filepath.Rel(templateDir, path)
			if err != nil {
				return err
			}

			dest := filepath.Join(workspaceDir, rel)
			render := strings.HasSuffix(rel, TemplateSuffix)
			if render {
				dest = strings.TrimSuffix(dest, TemplateSuffix)
			}

			if _, err := os.Stat(dest); err == nil {
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}

			if render {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				return os.WriteFile(dest, []byte(replacer.Replace(string(data))), 0o644)
			}
			return copyFile(path, dest)
		})
		if err != nil {
			return fmt.Errorf("render workspace templates: %w", err)
		}
	}

	if err := seedCronJobs(configDir); err != nil {
		return err
	}

	for _, dir := range []string{
		filepath.Join(workspaceDir, "memory"),
		filepath.Join(workspaceDir, "media", "inbound"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace dir: %w", err)
		}
	}

	logger.Info().Str("user", ctx.UserName).Msg("Initialized workspace")
	return nil
}

func seedCronJobs(configDir string) error {
	cronDir := filepath.Join(configDir, "cron")
	if err := os.MkdirAll(cronDir, 0o755); err != nil {
		return fmt.Errorf("create cron dir: %w", err)
	}
	jobsFile := filepath.Join(cronDir, "jobs.json")
	if _, err := os.Stat(jobsFile); err == nil {
		return nil
	}
	return os.WriteFile(jobsFile, []byte("{\"version\": 1, \"jobs\": []}\n"), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// FixPermissions makes the agents session tree world-readable so the
// proxy's host-side tooling can inspect it. Best-effort; errors are logged
// and swallowed.
func FixPermissions(configDir string) {
	agentsDir := filepath.Join(configDir, "agents")
	err := filepath.WalkDir(agentsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(path, 0o755)
		} else {
			_ = os.Chmod(path, 0o644)
		}
		return nil
	})
	if err != nil {
		log.WithComponent("workspace").Debug().Err(err).Msg("Permission fixup walk failed")
	}
}

// prunedNames never descend during snapshot walks. Heavy or noisy trees
// (interpreter envs, VCS metadata, the agent's own state) would swamp the
// diff with irrelevant churn.
var prunedNames = map[string]struct{}{
	"media/inbound": {},
	".openclaw":     {},
	".git":          {},
	"__pycache__":   {},
	"memory":        {},
	"skills":        {},
	"excel_env":     {},
	"venv":          {},
	"env":           {},
	".venv":         {},
	"node_modules":  {},
	"lib":           {},
}

func pruned(rel, name string) bool {
	if _, ok := prunedNames[rel]; ok {
		return true
	}
	if _, ok := prunedNames[name]; ok {
		return true
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}

// Snapshot records every file under dir as relative path → "size:mtime".
// The encoded value makes change detection a plain string compare.
func Snapshot(dir string) map[string]string {
	snap := make(map[string]string)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if pruned(rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if pruned(rel, d.Name()) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		snap[rel] = strconv.FormatInt(info.Size(), 10) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
		return nil
	})
	return snap
}

// NewFile describes a workspace file that appeared or changed during a turn.
type NewFile struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Diff re-snapshots dir and returns files whose (size, mtime) is new or
// changed relative to before, sorted by path via the walk order.
func Diff(before map[string]string, dir string) []NewFile {
	after := Snapshot(dir)
	var files []NewFile
	for rel, sig := range after {
		if prev, ok := before[rel]; ok && prev == sig {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(rel), ".")
		files = append(files, NewFile{
			Name: filepath.Base(rel),
			Path: rel,
			Size: info.Size(),
			Type: ext,
		})
	}
	return files
}

// CronJobs is the sandbox scheduler's job file read model. The orchestrator
// only reads it; the agent inside the container owns writes.
type CronJobs struct {
	Version int       `json:"version"`
	Jobs    []CronJob `json:"jobs"`
}

// CronJob is one scheduled entry. Enabled defaults to true when absent.
type CronJob struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// IsEnabled reports whether the job is active. A missing enabled field
// means enabled.
func (j CronJob) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// HasEnabledCronJobs reports whether configDir/cron/jobs.json contains at
// least one enabled job. Read errors and malformed files count as no jobs.
func HasEnabledCronJobs(configDir string) bool {
	data, err := os.ReadFile(filepath.Join(configDir, "cron", "jobs.json"))
	if err != nil {
		return false
	}
	var jobs CronJobs
	if err := json.Unmarshal(data, &jobs); err != nil {
		return false
	}
	for _, j := range jobs.Jobs {
		if j.IsEnabled() {
			return true
		}
	}
	return false
}
