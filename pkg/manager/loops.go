package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/metrics"
	"github.com/clawbowl/clawbowl/pkg/runtime"
	"github.com/clawbowl/clawbowl/pkg/types"
	"github.com/clawbowl/clawbowl/pkg/workspace"
)

const (
	reaperInterval = 300 * time.Second
	healthInterval = 60 * time.Second
)

// IdleReaper stops sandboxes idle past the configured timeout. Sandboxes
// with at least one enabled cron job are never reaped: a stopped container
// cannot fire its schedules.
type IdleReaper struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewIdleReaper creates an idle reaper bound to the manager.
func NewIdleReaper(m *Manager) *IdleReaper {
	return &IdleReaper{manager: m, stopCh: make(chan struct{})}
}

// Start begins the reaping loop
func (r *IdleReaper) Start() {
	go r.run()
}

// Stop stops the reaper
func (r *IdleReaper) Stop() {
	close(r.stopCh)
}

func (r *IdleReaper) run() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := r.manager.StopIdle(context.Background()); err != nil {
				log.WithComponent("reaper").Error().Err(err).Msg("Idle reap cycle failed")
			} else if n > 0 {
				log.WithComponent("reaper").Info().Int("stopped", n).Msg("Stopped idle sandboxes")
			}
		case <-r.stopCh:
			return
		}
	}
}

// StopIdle performs one reaping pass and returns how many sandboxes it
// stopped. Per-sandbox failures are logged and skipped so one wedged
// container cannot stall the pass.
func (m *Manager) StopIdle(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.cfg.IdleTimeout)
	running, err := m.store.ListSandboxesByState(types.SandboxStateRunning)
	if err != nil {
		return 0, err
	}

	logger := log.WithComponent("reaper")
	stopped := 0
	for _, sb := range running {
		if !sb.LastActiveAt.Before(cutoff) {
			continue
		}
		if workspace.HasEnabledCronJobs(sb.ConfigPath) {
			logger.Debug().Str("container", sb.ContainerName).Msg("Skipping idle stop, has cron jobs")
			continue
		}

		lock := m.userLock(sb.UserID)
		lock.Lock()
		// Re-read under the lock: the sandbox may have been touched or
		// stopped while we scanned.
		cur, err := m.store.GetSandbox(sb.ID)
		if err != nil || cur.State != types.SandboxStateRunning || !cur.LastActiveAt.Before(cutoff) {
			lock.Unlock()
			continue
		}
		if err := m.stopContainer(ctx, cur); err != nil {
			logger.Error().Err(err).Str("container", cur.ContainerName).Msg("Failed to stop idle sandbox")
			lock.Unlock()
			continue
		}
		cur.State = types.SandboxStateStopped
		if err := m.store.UpdateSandbox(cur); err != nil {
			logger.Error().Err(err).Str("container", cur.ContainerName).Msg("Failed to mark sandbox stopped")
			lock.Unlock()
			continue
		}
		lock.Unlock()

		metrics.SandboxesReaped.Inc()
		stopped++
		logger.Info().Str("container", cur.ContainerName).Int("port", cur.Port).Msg("Stopped idle sandbox")
	}

	m.updateStateGauges()
	return stopped, nil
}

// HealthReconciler verifies that catalog rows marked running still have a
// live container, demoting dead ones to the error state. It never
// auto-heals; the next EnsureRunning for that user performs the restart.
type HealthReconciler struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewHealthReconciler creates a health reconciler bound to the manager.
func NewHealthReconciler(m *Manager) *HealthReconciler {
	return &HealthReconciler{manager: m, stopCh: make(chan struct{})}
}

// Start begins the health check loop
func (h *HealthReconciler) Start() {
	go h.run()
}

// Stop stops the reconciler
func (h *HealthReconciler) Stop() {
	close(h.stopCh)
}

func (h *HealthReconciler) run() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.manager.HealthCheckAll(context.Background()); err != nil {
				log.WithComponent("health").Error().Err(err).Msg("Health check cycle failed")
			}
		case <-h.stopCh:
			return
		}
	}
}

// HealthCheckAll performs one health pass over running sandboxes.
// Inspections run on a small worker pool; engine calls can block for
// seconds each when the daemon is under load.
func (m *Manager) HealthCheckAll(ctx context.Context) error {
	running, err := m.store.ListSandboxesByState(types.SandboxStateRunning)
	if err != nil {
		return err
	}

	logger := log.WithComponent("health")
	m.reapOrphanedCreations(logger)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sb := range running {
		sb := sb
		g.Go(func() error {
			status, err := m.rt.Inspect(ctx, containerRef(sb))
			if err != nil {
				// Engine unreachable; leave states alone rather than
				// declaring every sandbox dead.
				logger.Warn().Err(err).Str("container", sb.ContainerName).Msg("Health inspect failed")
				return nil
			}
			if status == runtime.StatusRunning {
				return nil
			}

			lock := m.userLock(sb.UserID)
			lock.Lock()
			defer lock.Unlock()
			cur, gerr := m.store.GetSandbox(sb.ID)
			if gerr == nil && cur.State == types.SandboxStateRunning {
				cur.State = types.SandboxStateError
				if uerr := m.store.UpdateSandbox(cur); uerr != nil {
					logger.Error().Err(uerr).Str("container", cur.ContainerName).Msg("Failed to mark sandbox unhealthy")
				} else {
					logger.Warn().
						Str("container", cur.ContainerName).
						Str("status", string(status)).
						Msg("Sandbox container unhealthy, marked error")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	m.updateStateGauges()
	return nil
}

// reapOrphanedCreations demotes rows stuck in the creating state. A live
// creation holds its user lock across the whole sequence, so any creating
// row whose lock is free was abandoned by a partial failure.
func (m *Manager) reapOrphanedCreations(logger *zerolog.Logger) {
	creating, err := m.store.ListSandboxesByState(types.SandboxStateCreating)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list creating sandboxes")
		return
	}

	for _, sb := range creating {
		lock := m.userLock(sb.UserID)
		if !lock.TryLock() {
			// Creation in flight; check again next pass.
			continue
		}
		cur, gerr := m.store.GetSandbox(sb.ID)
		if gerr == nil && cur.State == types.SandboxStateCreating {
			cur.State = types.SandboxStateError
			if uerr := m.store.UpdateSandbox(cur); uerr != nil {
				logger.Error().Err(uerr).Str("container", cur.ContainerName).Msg("Failed to mark orphaned creation")
			} else {
				logger.Warn().
					Str("container", cur.ContainerName).
					Msg("Orphaned creating sandbox, marked error")
			}
		}
		lock.Unlock()
	}
}

func (m *Manager) updateStateGauges() {
	all, err := m.store.ListSandboxes()
	if err != nil {
		return
	}
	counts := map[types.SandboxState]int{}
	for _, sb := range all {
		counts[sb.State]++
	}
	for _, state := range []types.SandboxState{
		types.SandboxStateCreating,
		types.SandboxStateRunning,
		types.SandboxStateStopped,
		types.SandboxStateError,
	} {
		metrics.SandboxesTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
