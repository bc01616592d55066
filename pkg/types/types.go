package types

import (
	"time"
)

// Sandbox represents one user's agent container and its catalog record.
// Exactly one sandbox exists per user at any time.
type Sandbox struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	Tier          string       `json:"tier"`
	ContainerID   string       `json:"container_id,omitempty"`
	ContainerName string       `json:"container_name"`
	Port          int          `json:"port"`
	State         SandboxState `json:"state"`
	GatewayToken  string       `json:"gateway_token"`
	ConfigPath    string       `json:"config_path"`
	DataPath      string       `json:"data_path"`
	CreatedAt     time.Time    `json:"created_at"`
	LastActiveAt  time.Time    `json:"last_active_at"`
}

// SandboxState represents the lifecycle state of a sandbox record
type SandboxState string

const (
	SandboxStateCreating SandboxState = "creating"
	SandboxStateRunning  SandboxState = "running"
	SandboxStateStopped  SandboxState = "stopped"
	SandboxStateError    SandboxState = "error"
)

// DeviceToken is a registered push token for a user
type DeviceToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

// WarmupResult is returned to a client after a successful warmup: the
// connection coordinates plus the device identity it should use against
// the sandbox gateway.
type WarmupResult struct {
	Status           string `json:"status"`
	GatewayURL       string `json:"gateway_url"`
	GatewayWSURL     string `json:"gateway_ws_url"`
	GatewayToken     string `json:"gateway_token"`
	SessionKey       string `json:"session_key"`
	DeviceID         string `json:"device_id"`
	DevicePublicKey  string `json:"device_public_key"`
	DevicePrivateKey string `json:"device_private_key"`
}

// Alert is one notification parsed from a sandbox alert stream
type Alert struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data,omitempty"`
}
