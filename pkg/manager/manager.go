package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawbowl/clawbowl/pkg/config"
	"github.com/clawbowl/clawbowl/pkg/configgen"
	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/metrics"
	"github.com/clawbowl/clawbowl/pkg/pairing"
	"github.com/clawbowl/clawbowl/pkg/ports"
	"github.com/clawbowl/clawbowl/pkg/probe"
	"github.com/clawbowl/clawbowl/pkg/runtime"
	"github.com/clawbowl/clawbowl/pkg/storage"
	"github.com/clawbowl/clawbowl/pkg/tier"
	"github.com/clawbowl/clawbowl/pkg/types"
	"github.com/clawbowl/clawbowl/pkg/workspace"
)

const (
	// ContainerPort is the gateway port inside every sandbox container
	ContainerPort = 18789

	stopGrace = 10 * time.Second

	// portAllocRetries bounds the optimistic allocate-insert loop when
	// concurrent creations race for the same port.
	portAllocRetries = 5
)

// Manager owns the sandbox lifecycle state machine. All state transitions
// for a user happen under that user's mutex, held across the entire
// ensure/start/restart sequence.
type Manager struct {
	cfg       *config.Config
	store     storage.Store
	rt        runtime.Runtime
	gen       *configgen.Generator
	prober    *probe.Prober
	approver  *pairing.Approver
	allocator *ports.Allocator

	// Probe budgets; overridable for tests.
	coldBudget time.Duration
	warmBudget time.Duration

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewManager wires the lifecycle dependencies together.
func NewManager(cfg *config.Config, store storage.Store, rt runtime.Runtime) (*Manager, error) {
	allocator, err := ports.NewAllocator(cfg.PortRangeStart, cfg.PortRangeEnd)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:   cfg,
		store: store,
		rt:    rt,
		gen: &configgen.Generator{
			TemplateDir:  cfg.TemplateDir,
			ZenmuxAPIKey: cfg.ZenmuxAPIKey,
		},
		prober:     probe.New(),
		approver:   pairing.NewApprover(),
		allocator:  allocator,
		coldBudget: probe.ColdTimeout,
		warmBudget: probe.WarmTimeout,
		userLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// userLock returns the mutex serializing lifecycle operations for one user,
// creating it on first use. Locks are never removed; the per-user footprint
// is one mutex.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.userLocks[userID] = l
	}
	return l
}

// ContainerName derives the deterministic container name for a user.
func ContainerName(userID string) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "clawbowl-" + short
}

// SessionKey is the per-user session identity pinned onto every chat
// request reaching the sandbox gateway.
func SessionKey(userID string) string {
	return "clawbowl-" + userID
}

// EnsureRunning makes sure the user's sandbox is running, creating or
// reviving it as needed, and touches last_active_at. Idempotent; concurrent
// calls for the same user serialize on the user mutex.
func (m *Manager) EnsureRunning(ctx context.Context, userID, tierName string) (*types.Sandbox, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sb, err := m.store.GetSandboxByUser(userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		sb, err = m.createSandbox(ctx, userID, tierName)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		switch sb.State {
		case types.SandboxStateStopped, types.SandboxStateCreating:
			if sb, err = m.startSandbox(ctx, sb); err != nil {
				return nil, err
			}
		case types.SandboxStateError:
			if sb, err = m.restartSandbox(ctx, sb); err != nil {
				return nil, err
			}
		case types.SandboxStateRunning:
			status, ierr := m.rt.Inspect(ctx, containerRef(sb))
			if ierr != nil {
				return nil, ierr
			}
			if status != runtime.StatusRunning {
				if sb, err = m.startSandbox(ctx, sb); err != nil {
					return nil, err
				}
			}
		}
	}

	sb.LastActiveAt = time.Now().UTC()
	if err := m.store.UpdateSandbox(sb); err != nil {
		return nil, err
	}

	workspace.FixPermissions(sb.ConfigPath)
	return sb, nil
}

// Get returns the user's sandbox record, or storage.ErrNotFound.
func (m *Manager) Get(userID string) (*types.Sandbox, error) {
	return m.store.GetSandboxByUser(userID)
}

// Touch advances last_active_at after a client-facing success.
func (m *Manager) Touch(userID string) {
	sb, err := m.store.GetSandboxByUser(userID)
	if err != nil {
		return
	}
	sb.LastActiveAt = time.Now().UTC()
	if err := m.store.UpdateSandbox(sb); err != nil {
		log.WithUserID(userID).Warn().Err(err).Msg("Failed to touch last_active_at")
	}
}

// Restart force-restarts the user's sandbox, creating it if absent.
func (m *Manager) Restart(ctx context.Context, userID, tierName string) (*types.Sandbox, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sb, err := m.store.GetSandboxByUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return m.createSandbox(ctx, userID, tierName)
	}
	if err != nil {
		return nil, err
	}
	return m.restartSandbox(ctx, sb)
}

// Stop stops the user's sandbox and marks it stopped.
func (m *Manager) Stop(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sb, err := m.store.GetSandboxByUser(userID)
	if err != nil {
		return err
	}
	if err := m.stopContainer(ctx, sb); err != nil {
		return err
	}
	sb.State = types.SandboxStateStopped
	return m.store.UpdateSandbox(sb)
}

// Destroy removes the container and the catalog record completely,
// releasing the port. A missing record is not an error.
func (m *Manager) Destroy(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	sb, err := m.store.GetSandboxByUser(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.rt.Remove(ctx, containerRef(sb), true); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return err
	}
	return m.store.DeleteSandbox(sb.ID)
}

// containerRef prefers the engine ID but falls back to the deterministic
// name for rows that never got a container (creation died early).
func containerRef(sb *types.Sandbox) string {
	if sb.ContainerID != "" {
		return sb.ContainerID
	}
	return sb.ContainerName
}

// createSandbox provisions a fresh sandbox: catalog row first (reserving
// the port and name transactionally), then filesystem, then container.
// Caller holds the user lock.
func (m *Manager) createSandbox(ctx context.Context, userID, tierName string) (*types.Sandbox, error) {
	logger := log.WithUserID(userID)
	started := time.Now()

	gatewayToken, err := configgen.GenerateToken()
	if err != nil {
		return nil, err
	}

	dataPath := filepath.Join(m.cfg.DataDir, userID)
	configDir := filepath.Join(dataPath, "config")
	workspaceDir := filepath.Join(dataPath, "workspace")

	sb := &types.Sandbox{
		ID:            uuid.NewString(),
		UserID:        userID,
		Tier:          tierName,
		ContainerName: ContainerName(userID),
		State:         types.SandboxStateCreating,
		GatewayToken:  gatewayToken,
		ConfigPath:    configDir,
		DataPath:      dataPath,
		CreatedAt:     time.Now().UTC(),
		LastActiveAt:  time.Now().UTC(),
	}

	// Optimistic port reservation: the catalog's port index arbitrates
	// races between concurrent creations.
	if err := m.reservePort(sb); err != nil {
		return nil, err
	}

	profile := tier.Lookup(tierName, m.cfg)

	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	if _, err := m.gen.Write(profile, gatewayToken, "", configDir); err != nil {
		return nil, err
	}
	if err := workspace.Init(
		filepath.Join(m.cfg.TemplateDir, "workspace"),
		workspaceDir, configDir,
		workspace.DefaultContext(userID, m.cfg.TavilyAPIKey),
	); err != nil {
		return nil, err
	}

	spec, err := m.runSpec(sb, profile)
	if err != nil {
		return nil, err
	}
	containerID, err := m.rt.Run(ctx, spec)
	if err != nil {
		// Record only; the next EnsureRunning retries via the error path.
		sb.State = types.SandboxStateError
		if uerr := m.store.UpdateSandbox(sb); uerr != nil {
			logger.Error().Err(uerr).Str("container", sb.ContainerName).Msg("Failed to mark failed creation")
		}
		return nil, err
	}

	sb.ContainerID = containerID
	sb.State = types.SandboxStateRunning
	if err := m.store.UpdateSandbox(sb); err != nil {
		return nil, err
	}

	if !m.prober.WaitReady(ctx, sb.Port, gatewayToken, m.coldBudget) {
		metrics.ProbeTimeouts.Inc()
	}
	m.approver.AutoApprove(ctx, configDir)
	workspace.FixPermissions(configDir)

	metrics.SandboxesCreated.Inc()
	metrics.SandboxStartDuration.Observe(time.Since(started).Seconds())
	logger.Info().
		Str("container", sb.ContainerName).
		Int("port", sb.Port).
		Msg("Created sandbox")
	return sb, nil
}

func (m *Manager) reservePort(sb *types.Sandbox) error {
	for attempt := 0; attempt < portAllocRetries; attempt++ {
		used, err := m.store.UsedPorts()
		if err != nil {
			return err
		}
		port, err := m.allocator.Allocate(used)
		if err != nil {
			return err
		}
		sb.Port = port
		err = m.store.CreateSandbox(sb)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrPortInUse) {
			continue
		}
		return err
	}
	return fmt.Errorf("port reservation kept colliding after %d attempts", portAllocRetries)
}

// syncConfig re-renders openclaw.json from the latest template before a
// start or restart, preserving the container-side hooks token so existing
// hook registrations survive.
func (m *Manager) syncConfig(sb *types.Sandbox) error {
	hooksToken := configgen.ReadHooksToken(sb.ConfigPath)
	profile := tier.Lookup(sb.Tier, m.cfg)
	_, err := m.gen.Write(profile, sb.GatewayToken, hooksToken, sb.ConfigPath)
	if err != nil {
		return err
	}
	log.WithSandbox(sb.ID).Info().
		Bool("hooks_token_preserved", hooksToken != "").
		Msg("Synced sandbox config from template")
	return nil
}

// startSandbox revives a stopped container. A container removed behind our
// back means the catalog row is stale: delete it and recreate from scratch.
func (m *Manager) startSandbox(ctx context.Context, sb *types.Sandbox) (*types.Sandbox, error) {
	if err := m.syncConfig(sb); err != nil {
		return nil, err
	}
	if err := m.rt.Start(ctx, containerRef(sb)); err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return m.recreate(ctx, sb)
		}
		return nil, err
	}
	sb.State = types.SandboxStateRunning
	if err := m.store.UpdateSandbox(sb); err != nil {
		return nil, err
	}
	if !m.prober.WaitReady(ctx, sb.Port, sb.GatewayToken, m.warmBudget) {
		metrics.ProbeTimeouts.Inc()
	}
	log.WithSandbox(sb.ID).Info().Str("container", sb.ContainerName).Msg("Started sandbox")
	return sb, nil
}

func (m *Manager) restartSandbox(ctx context.Context, sb *types.Sandbox) (*types.Sandbox, error) {
	if err := m.syncConfig(sb); err != nil {
		return nil, err
	}
	if err := m.rt.Restart(ctx, containerRef(sb), stopGrace); err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return m.recreate(ctx, sb)
		}
		return nil, err
	}
	sb.State = types.SandboxStateRunning
	if err := m.store.UpdateSandbox(sb); err != nil {
		return nil, err
	}
	if !m.prober.WaitReady(ctx, sb.Port, sb.GatewayToken, m.warmBudget) {
		metrics.ProbeTimeouts.Inc()
	}
	log.WithSandbox(sb.ID).Info().Str("container", sb.ContainerName).Msg("Restarted sandbox")
	return sb, nil
}

func (m *Manager) recreate(ctx context.Context, sb *types.Sandbox) (*types.Sandbox, error) {
	log.WithSandbox(sb.ID).Warn().
		Str("container", sb.ContainerName).
		Msg("Container vanished, recreating sandbox")
	if err := m.store.DeleteSandbox(sb.ID); err != nil {
		return nil, err
	}
	return m.createSandbox(ctx, sb.UserID, sb.Tier)
}

func (m *Manager) stopContainer(ctx context.Context, sb *types.Sandbox) error {
	err := m.rt.Stop(ctx, containerRef(sb), stopGrace)
	if err != nil && !errors.Is(err, runtime.ErrNotFound) {
		return err
	}
	return nil
}

func (m *Manager) runSpec(sb *types.Sandbox, profile tier.Profile) (runtime.RunSpec, error) {
	memBytes, err := config.ParseMemory(profile.ContainerMemory)
	if err != nil {
		return runtime.RunSpec{}, err
	}
	workspaceDir := filepath.Join(sb.DataPath, "workspace")
	return runtime.RunSpec{
		Name:  sb.ContainerName,
		Image: m.cfg.Image,
		Ports: map[int]int{ContainerPort: sb.Port},
		Mounts: []runtime.Mount{
			{Source: m.cfg.HostModulesPath, Target: "/usr/lib/node_modules/openclaw", ReadOnly: true},
			{Source: sb.ConfigPath, Target: "/data/config"},
			{Source: workspaceDir, Target: "/data/workspace"},
		},
		Env: []string{
			fmt.Sprintf("NODE_OPTIONS=--max-old-space-size=%d", m.cfg.NodeMaxOldSpace),
			"OPENCLAW_STATE_DIR=/data/config",
		},
		MemoryBytes:   memBytes,
		CPUQuota:      profile.ContainerCPUs,
		RestartPolicy: "unless-stopped",
		Init:          true,
		Labels: map[string]string{
			"clawbowl.user_id":    sb.UserID,
			"clawbowl.sandbox_id": sb.ID,
			"clawbowl.managed":    "true",
		},
	}, nil
}
