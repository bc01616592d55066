// Package pairing auto-approves sandbox gateway device pairing requests.
//
// The gateway client inside a fresh sandbox writes a pairing request to
// devices/pending.json on first start and refuses tool traffic until it is
// approved. Nobody is around to click approve, so the orchestrator polls
// the file briefly after each start and promotes every pending entry.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clawbowl/clawbowl/pkg/log"
)

const (
	defaultRetries  = 5
	defaultInterval = 3 * time.Second
)

// Approver polls a sandbox config dir for pending pairing requests.
type Approver struct {
	Retries  int
	Interval time.Duration
}

// NewApprover returns an approver with the default retry schedule.
func NewApprover() *Approver {
	return &Approver{Retries: defaultRetries, Interval: defaultInterval}
}

// AutoApprove polls devices/pending.json up to Retries times, Interval
// apart. Each pending entry is marked approved and moved to paired.json
// keyed by its deviceId; pending.json is reset to {}. A pairing request
// that never appears is logged and not an error: some gateway versions
// pair lazily.
func (a *Approver) AutoApprove(ctx context.Context, configDir string) {
	logger := log.WithComponent("pairing")

	devicesDir := filepath.Join(configDir, "devices")
	pendingPath := filepath.Join(devicesDir, "pending.json")
	pairedPath := filepath.Join(devicesDir, "paired.json")

	for attempt := 0; attempt < a.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.Interval):
		}

		n, err := ApproveOnce(pendingPath, pairedPath)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Pairing approval attempt failed")
			continue
		}
		if n > 0 {
			logger.Info().Int("count", n).Msg("Auto-approved gateway device pairings")
			return
		}
	}

	logger.Warn().Str("config_dir", configDir).Msg("No pairing request appeared")
}

// ApproveOnce promotes all entries currently in pendingPath to pairedPath
// and returns how many were approved. An absent or empty pending file is
// not an error and approves nothing.
func ApproveOnce(pendingPath, pairedPath string) (int, error) {
	data, err := os.ReadFile(pendingPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pending: %w", err)
	}

	var pending map[string]map[string]interface{}
	if err := json.Unmarshal(data, &pending); err != nil {
		return 0, fmt.Errorf("parse pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	paired := map[string]map[string]interface{}{}
	if pd, err := os.ReadFile(pairedPath); err == nil {
		if err := json.Unmarshal(pd, &paired); err != nil {
			return 0, fmt.Errorf("parse paired: %w", err)
		}
	}

	for reqID, device := range pending {
		device["approved"] = true
		if ts, ok := device["ts"]; ok {
			device["pairedAt"] = ts
		} else {
			device["pairedAt"] = 0
		}
		key := reqID
		if id, ok := device["deviceId"].(string); ok && id != "" {
			key = id
		}
		paired[key] = device
	}

	out, err := json.MarshalIndent(paired, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(pairedPath, out, 0o644); err != nil {
		return 0, fmt.Errorf("write paired: %w", err)
	}
	if err := os.WriteFile(pendingPath, []byte("{}"), 0o644); err != nil {
		return 0, fmt.Errorf("reset pending: %w", err)
	}
	return len(pending), nil
}
