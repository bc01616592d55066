// Package tier exposes per-subscription resource profiles consumed by the
// config materializer and the instance manager. A single free profile exists
// today; the lookup keeps call sites stable when paid tiers land.
package tier

import "github.com/clawbowl/clawbowl/pkg/config"

// Profile describes the resources and model settings of one subscription tier.
type Profile struct {
	Name            string
	Template        string
	PrimaryModel    string
	MaxTokens       int
	ContainerMemory string
	ContainerCPUs   float64
}

// Lookup resolves a tier name to its profile. Unknown names fall back to the
// free tier. Container limits come from the orchestrator config so operators
// can tune them without a rebuild.
func Lookup(name string, cfg *config.Config) Profile {
	p := Profile{
		Name:            "free",
		Template:        "free",
		PrimaryModel:    "zenmux/deepseek/deepseek-chat",
		MaxTokens:       4096,
		ContainerMemory: cfg.ContainerMemory,
		ContainerCPUs:   cfg.ContainerCPUs,
	}
	if name != "" {
		p.Name = name
	}
	return p
}
