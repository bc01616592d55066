// Package alerts watches sandbox alert journals and forwards entries to
// the push channel.
//
// Each sandbox may append JSON lines to workspace/.alerts.jsonl (cron
// results, reminders). The monitor tails every running sandbox's journal
// on a fixed interval, tracking a per-user byte offset in memory.
// Truncation below the offset is a rotation signal: the offset resets and
// the remaining lines are redelivered. Within a process lifetime each line
// dispatches at most once; across restarts delivery is at-least-once,
// acceptable because pushes are informational.
package alerts

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/metrics"
	"github.com/clawbowl/clawbowl/pkg/push"
	"github.com/clawbowl/clawbowl/pkg/storage"
	"github.com/clawbowl/clawbowl/pkg/types"
)

const pollInterval = 60 * time.Second

// Monitor tails alert journals for all running sandboxes.
type Monitor struct {
	store  storage.Store
	sender push.Sender

	mu      sync.Mutex
	offsets map[string]int64 // user_id -> consumed byte offset

	stopCh chan struct{}
}

// NewMonitor creates an alert monitor.
func NewMonitor(store storage.Store, sender push.Sender) *Monitor {
	return &Monitor{
		store:   store,
		sender:  sender,
		offsets: make(map[string]int64),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the polling loop
func (m *Monitor) Start() {
	log.WithComponent("alerts").Info().Dur("interval", pollInterval).Msg("Alert monitor started")
	go m.run()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.ProcessOnce(context.Background()); err != nil {
				log.WithComponent("alerts").Error().Err(err).Msg("Alert pass failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// ProcessOnce performs one pass over all running sandboxes.
func (m *Monitor) ProcessOnce(ctx context.Context) error {
	running, err := m.store.ListSandboxesByState(types.SandboxStateRunning)
	if err != nil {
		return err
	}

	logger := log.WithComponent("alerts")
	for _, sb := range running {
		path := filepath.Join(sb.DataPath, "workspace", ".alerts.jsonl")
		alerts := m.readNew(path, sb.UserID)

		for _, alert := range alerts {
			title := alert.Title
			if title == "" {
				title = "ClawBowl Alert"
			}
			alertType := "cron"
			if t, ok := alert.Data["type"].(string); ok && t != "" {
				alertType = t
			}

			sent, err := m.sender.Send(ctx, sb.UserID, title, alert.Body, map[string]interface{}{
				"alert_type": alertType,
			})
			if err != nil {
				// Offset already advanced; a flaky push must not
				// replay the whole journal.
				metrics.AlertDispatchFailures.Inc()
				logger.Error().Err(err).Str("title", title).Msg("Failed to send push for alert")
				continue
			}
			metrics.AlertsDispatched.Inc()
			logger.Info().Int("devices", sent).Str("user_id", sb.UserID).Str("title", title).Msg("Alert push sent")
		}
	}
	return nil
}

// readNew reads journal lines appended since the user's offset. Only JSON
// objects carrying a title are accepted; everything else is skipped.
func (m *Monitor) readNew(path, userID string) []types.Alert {
	logger := log.WithComponent("alerts")

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	m.mu.Lock()
	offset := m.offsets[userID]
	m.mu.Unlock()

	size := info.Size()
	if size <= offset {
		if size < offset {
			// Truncated or rotated; reread from the top.
			offset = 0
		} else {
			return nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to open alerts journal")
		return nil
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to seek alerts journal")
		return nil
	}

	var alerts []types.Alert
	consumed := offset
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1 // trailing newline
		if len(line) == 0 {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(line, &raw); err != nil {
			logger.Debug().Str("user_id", userID).Msg("Skipping invalid JSON alert line")
			continue
		}
		title, ok := raw["title"].(string)
		if !ok {
			continue
		}
		body, _ := raw["body"].(string)
		alerts = append(alerts, types.Alert{Title: title, Body: body, Data: raw})
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to read alerts journal")
	}
	if consumed > size {
		consumed = size
	}

	m.mu.Lock()
	m.offsets[userID] = consumed
	m.mu.Unlock()

	return alerts
}
