/*
Package storage provides the persistent sandbox catalog for ClawBowl.

The storage package wraps BoltDB to persist one record per user sandbox plus
registered device push tokens. The catalog is the single source of truth for
which ports, container names, and users are taken; all uniqueness guarantees
in the orchestrator bottom out here.

# Architecture

	┌──────────────────── CATALOG ────────────────────┐
	│                                                   │
	│  sandboxes       id → Sandbox (JSON)             │
	│  device_tokens   user/token → DeviceToken (JSON) │
	│                                                   │
	│  idx_user        user_id → sandbox id            │
	│  idx_port        port → sandbox id               │
	│  idx_name        container name → sandbox id     │
	└───────────────────────────────────────────────────┘

Records are stored as JSON values keyed by ID. The three index buckets give
O(log n) lookups and, more importantly, make uniqueness transactional:
CreateSandbox checks and writes all three indexes inside the same bolt
write transaction as the record itself, so two concurrent creates for the
same user (or port, or name) cannot both succeed.

# Error Semantics

  - ErrNotFound: record does not exist
  - ErrUserHasSandbox: user already owns a sandbox
  - ErrPortInUse: port is reserved by another record (including one still
    in the creating state)
  - ErrNameInUse: container name collision

Callers allocate ports optimistically and retry on ErrPortInUse; the index
bucket is the arbiter, not the allocator.

# Usage

	store, err := storage.NewBoltStore("/var/lib/clawbowl/clawbowl.db")
	if err != nil {
		return err
	}
	defer store.Close()

	sb := &types.Sandbox{ID: uuid.NewString(), UserID: userID, Port: port, ...}
	if err := store.CreateSandbox(sb); err != nil {
		// retry with another port on ErrPortInUse
	}

BoltDB uses a single-writer model; write transactions serialize, reads run
concurrently via MVCC. The file is safe for a single process only.
*/
package storage
