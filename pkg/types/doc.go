/*
Package types defines the shared data structures used across ClawBowl.

The types package holds the sandbox catalog record and its lifecycle states,
device token registrations, warmup results, and alert payloads. Keeping these
in a leaf package avoids import cycles between the storage, manager, and API
layers.

# Sandbox Lifecycle

A Sandbox moves through four states:

	creating → running → stopped
	              ↓
	            error

  - creating: catalog row inserted, port and token reserved, container not yet up
  - running: container started and presumed serving
  - stopped: container stopped by the idle reaper or an explicit stop
  - error: health reconciler observed the container dead while marked running

State transitions are owned exclusively by pkg/manager; other packages treat
the state field as read-only.
*/
package types
