/*
Package runtime abstracts the container engine behind a small lifecycle
interface used by the instance manager.

The Runtime interface covers exactly the operations sandbox management
needs: run, start, stop, restart, remove, inspect. The Docker
implementation talks to the local daemon via the engine API with version
negotiation, publishes gateway ports on 127.0.0.1 only, and applies the
per-tier memory and CPU limits.

Engine failures are normalized into two sentinel errors:

  - ErrNotFound: the referenced container does not exist. The manager
    treats this as a catalog/engine divergence and recreates.
  - ErrUnavailable: the daemon itself is unreachable. Surfaced to clients
    as a 503 rather than triggering recreation.

Inspect never returns ErrNotFound; a missing container reports
StatusNotFound with a nil error so reconciliation loops can branch on
status without unwrapping.

Tests inject a fake Runtime; nothing in this repository requires a live
daemon to test against.
*/
package runtime
