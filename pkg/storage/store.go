package storage

import (
	"errors"

	"github.com/clawbowl/clawbowl/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrPortInUse is returned when a sandbox insert would reuse a reserved port
	ErrPortInUse = errors.New("port already in use")

	// ErrNameInUse is returned when a sandbox insert would reuse a container name
	ErrNameInUse = errors.New("container name already in use")

	// ErrUserHasSandbox is returned when a user already owns a sandbox record
	ErrUserHasSandbox = errors.New("user already has a sandbox")
)

// Store defines the interface for the sandbox catalog.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Sandboxes
	CreateSandbox(sb *types.Sandbox) error
	GetSandbox(id string) (*types.Sandbox, error)
	GetSandboxByUser(userID string) (*types.Sandbox, error)
	ListSandboxes() ([]*types.Sandbox, error)
	ListSandboxesByState(state types.SandboxState) ([]*types.Sandbox, error)
	UsedPorts() ([]int, error)
	UpdateSandbox(sb *types.Sandbox) error
	DeleteSandbox(id string) error

	// Device push tokens
	PutDeviceToken(tok *types.DeviceToken) error
	ListDeviceTokens(userID string) ([]*types.DeviceToken, error)
	DeleteDeviceToken(userID, token string) error

	// Utility
	Close() error
}
