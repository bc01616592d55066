/*
Package manager implements the sandbox lifecycle state machine.

Every user owns at most one sandbox: a catalog record plus a container.
The manager is the only writer of sandbox state and serializes all
transitions for a user under a per-user mutex held across the entire
operation, including the readiness wait.

# State Machine

	           ┌─────────── ensure ───────────┐
	           ▼                               │
	(absent) ──create──▶ creating ──▶ running ──▶ stopped
	           ▲                        │  ▲        │
	           │                 health │  └─start──┘
	           │                        ▼
	           └──── recreate ◀──── error

EnsureRunning dispatches on the current state:

  - absent: full creation (port + token reservation, config render,
    workspace init, container run, readiness probe, pairing approval)
  - stopped/creating: config re-sync then container start
  - error: config re-sync then container restart
  - running: verify the container is actually alive; revive if not

A container that vanished from the engine (runtime.ErrNotFound on start
or restart) invalidates the catalog row: the row is deleted and creation
re-enters from scratch, which also releases and reacquires the port.

# Background Loops

IdleReaper (5 min tick) stops running sandboxes whose last_active_at is
older than the idle timeout, skipping any sandbox whose cron jobs file
has an enabled entry. HealthReconciler (1 min tick) demotes running rows
with dead containers to the error state and never auto-heals; the next
EnsureRunning for that user performs the restart. Both follow the
Start/Stop + stopCh loop convention used across the codebase.

# Config Re-Sync

Before every start and restart, openclaw.json is re-rendered from the
current template so template-side changes reach existing users. The
container-side hooks token is read back first and carried over; losing
it would orphan hook registrations inside the sandbox.
*/
package manager
