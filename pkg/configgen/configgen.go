// Package configgen materializes per-sandbox openclaw.json files from
// tier-keyed templates. Placeholders are literal markers replaced as plain
// strings; anything unrecognized passes through untouched so template
// authors can use the same syntax for container-side tooling.
package configgen

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clawbowl/clawbowl/pkg/tier"
)

// ConfigFileName is the config file consumed by the sandboxed agent
const ConfigFileName = "openclaw.json"

// Generator renders sandbox configs from the template directory.
type Generator struct {
	TemplateDir  string
	ZenmuxAPIKey string
}

// GenerateToken returns 24 random bytes hex-encoded (48 chars). Used for
// both gateway and hooks tokens.
func GenerateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (g *Generator) templatePath(name string) string {
	return filepath.Join(g.TemplateDir, fmt.Sprintf("openclaw-template-%s.json", name))
}

func (g *Generator) loadTemplate(name string) (string, error) {
	data, err := os.ReadFile(g.templatePath(name))
	if err == nil {
		return string(data), nil
	}
	if name != "free" {
		// Unknown tier templates fall back to free.
		data, ferr := os.ReadFile(g.templatePath("free"))
		if ferr == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("load template %s: %w", name, err)
}

// Render substitutes the template placeholders and validates the result is
// well-formed JSON. hooksToken may be empty, in which case a fresh one is
// generated; passing the previous token preserves container-side hook
// registrations across config re-syncs.
func (g *Generator) Render(profile tier.Profile, gatewayToken, hooksToken string) (map[string]interface{}, error) {
	raw, err := g.loadTemplate(profile.Template)
	if err != nil {
		return nil, err
	}

	if hooksToken == "" {
		hooksToken, err = GenerateToken()
		if err != nil {
			return nil, err
		}
	}

	replacer := strings.NewReplacer(
		"{{ ZENMUX_API_KEY }}", g.ZenmuxAPIKey,
		"{{ MAX_TOKENS }}", strconv.Itoa(profile.MaxTokens),
		"{{ PRIMARY_MODEL }}", profile.PrimaryModel,
		"{{ GATEWAY_TOKEN }}", gatewayToken,
		"{{ HOOKS_TOKEN }}", hooksToken,
	)
	rendered := replacer.Replace(raw)

	var cfg map[string]interface{}
	if err := json.Unmarshal([]byte(rendered), &cfg); err != nil {
		return nil, fmt.Errorf("rendered config for tier %s is not valid JSON: %w", profile.Template, err)
	}
	return cfg, nil
}

// Write renders the config and writes it to destDir/openclaw.json,
// creating destDir if needed. Returns the config file path.
func (g *Generator) Write(profile tier.Profile, gatewayToken, hooksToken, destDir string) (string, error) {
	cfg, err := g.Render(profile, gatewayToken, hooksToken)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(destDir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}

// ReadHooksToken extracts hooks.token from an existing sandbox config.
// Returns empty string when the file is missing, unreadable, or malformed;
// the caller then mints a fresh token.
func ReadHooksToken(configDir string) string {
	data, err := os.ReadFile(filepath.Join(configDir, ConfigFileName))
	if err != nil {
		return ""
	}
	var cfg struct {
		Hooks struct {
			Token string `json:"token"`
		} `json:"hooks"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return cfg.Hooks.Token
}
