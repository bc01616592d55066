// Package warmup prepares a user's sandbox for a direct client
// connection: it runs the full ensure-running sequence and returns the
// gateway coordinates plus a provisioned device identity, letting the
// client open a WebSocket to the sandbox gateway without proxying every
// message through the orchestrator.
package warmup

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clawbowl/clawbowl/pkg/config"
	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/manager"
	"github.com/clawbowl/clawbowl/pkg/types"
)

const (
	clientID    = "openclaw-ios"
	keyFileName = "ios_device.key"
)

var deviceScopes = []string{
	"operator.admin", "operator.approvals", "operator.pairing",
	"operator.read", "operator.write",
}

// Service issues warmup handles.
type Service struct {
	mgr  *manager.Manager
	host string
}

// NewService creates a warmup service. host is the public hostname
// clients use for the gateway WebSocket.
func NewService(mgr *manager.Manager, cfg *config.Config) *Service {
	return &Service{mgr: mgr, host: cfg.GatewayPublicHost}
}

// Warmup ensures the user's sandbox is running and returns the handle.
// Device provisioning is best-effort: a handle without a device identity
// is still usable through the proxy path.
func (s *Service) Warmup(ctx context.Context, userID, tier string) (*types.WarmupResult, error) {
	sb, err := s.mgr.EnsureRunning(ctx, userID, tier)
	if err != nil {
		return nil, err
	}

	result := &types.WarmupResult{
		Status:       "warm",
		GatewayURL:   fmt.Sprintf("/gw/%d", sb.Port),
		GatewayWSURL: fmt.Sprintf("wss://%s/gw/%d/", s.host, sb.Port),
		GatewayToken: sb.GatewayToken,
		SessionKey:   manager.SessionKey(userID),
	}

	dev, err := ensureDevice(filepath.Join(sb.DataPath, "config"))
	if err != nil {
		log.WithUserID(userID).Warn().Err(err).Msg("Device provisioning failed")
		return result, nil
	}
	result.DeviceID = dev.id
	result.DevicePublicKey = dev.publicKey
	result.DevicePrivateKey = dev.privateKey
	return result, nil
}

type device struct {
	id         string
	publicKey  string
	privateKey string
}

// ensureDevice returns the client's paired device identity, creating it
// on first use. Reuse requires both the paired.json entry and the
// on-disk private key; if either is missing a fresh keypair is
// provisioned. The device id is the SHA-256 of the raw public key.
func ensureDevice(configDir string) (*device, error) {
	devicesDir := filepath.Join(configDir, "devices")
	pairedPath := filepath.Join(devicesDir, "paired.json")
	keyPath := filepath.Join(devicesDir, keyFileName)

	paired := map[string]map[string]interface{}{}
	if data, err := os.ReadFile(pairedPath); err == nil {
		_ = json.Unmarshal(data, &paired)
	}

	for devID, entry := range paired {
		if entry["clientId"] != clientID {
			continue
		}
		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			continue
		}
		pub, _ := entry["publicKey"].(string)
		return &device{
			id:         devID,
			publicKey:  pub,
			privateKey: strings.TrimSpace(string(keyData)),
		}, nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	pubB64 := base64.RawURLEncoding.EncodeToString(pub)
	privB64 := base64.RawURLEncoding.EncodeToString(priv.Seed())
	sum := sha256.Sum256(pub)
	deviceID := hex.EncodeToString(sum[:])

	ts := time.Now().UnixMilli()
	paired[deviceID] = map[string]interface{}{
		"requestId":  "ios-provisioned",
		"deviceId":   deviceID,
		"publicKey":  pubB64,
		"platform":   "ios",
		"clientId":   clientID,
		"clientMode": "cli",
		"role":       "operator",
		"roles":      []string{"operator"},
		"scopes":     deviceScopes,
		"silent":     false,
		"isRepair":   false,
		"ts":         ts,
		"approved":   true,
		"pairedAt":   ts,
		"tokens": map[string]interface{}{
			"operator": map[string]interface{}{
				"token":       "",
				"role":        "operator",
				"scopes":      deviceScopes,
				"createdAtMs": ts,
				"rotatedAtMs": ts,
			},
		},
	}

	if err := os.MkdirAll(devicesDir, 0o755); err != nil {
		return nil, err
	}
	pairedData, err := json.MarshalIndent(paired, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(pairedPath, pairedData, 0o644); err != nil {
		return nil, fmt.Errorf("write paired devices: %w", err)
	}
	if err := writeAtomic(keyPath, []byte(privB64), 0o644); err != nil {
		return nil, fmt.Errorf("write device key: %w", err)
	}

	log.WithComponent("warmup").Info().Str("device_id", deviceID[:16]).Msg("Provisioned client device")
	return &device{id: deviceID, publicKey: pubB64, privateKey: privB64}, nil
}

// writeAtomic writes via a temp file and rename so a crashed warmup
// never leaves a half-written pairing file.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
