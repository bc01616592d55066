package push

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clawbowl/clawbowl/pkg/config"
	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/storage"
)

const (
	apnsProd    = "https://api.push.apple.com"
	apnsSandbox = "https://api.sandbox.push.apple.com"

	// Provider tokens live an hour; refresh a little early.
	providerTokenLifetime = 3500 * time.Second

	apnsTimeout = 10 * time.Second
)

// APNsSender sends alert pushes through Apple's push service. Device
// tokens come from the catalog store.
type APNsSender struct {
	store    storage.Store
	teamID   string
	keyID    string
	topic    string
	host     string
	signKey  *ecdsa.PrivateKey
	client   *http.Client

	mu          sync.Mutex
	token       string
	tokenIssued time.Time
}

// NewAPNsSender loads the .p8 signing key and returns a sender. Returns an
// error if any credential is missing; callers fall back to NopSender.
func NewAPNsSender(cfg *config.Config, store storage.Store) (*APNsSender, error) {
	if cfg.APNsKeyPath == "" || cfg.APNsKeyID == "" || cfg.APNsTeamID == "" {
		return nil, fmt.Errorf("apns credentials not configured")
	}

	pem, err := os.ReadFile(cfg.APNsKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read apns key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse apns key: %w", err)
	}

	host := apnsProd
	if cfg.APNsUseSandbox {
		host = apnsSandbox
	}

	return &APNsSender{
		store:   store,
		teamID:  cfg.APNsTeamID,
		keyID:   cfg.APNsKeyID,
		topic:   cfg.APNsBundleID,
		host:    host,
		signKey: key,
		client:  &http.Client{Timeout: apnsTimeout},
	}, nil
}

// providerToken returns a cached ES256 provider JWT, minting a new one
// when the cached token nears Apple's one-hour limit.
func (s *APNsSender) providerToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.token != "" && now.Sub(s.tokenIssued) < providerTokenLifetime {
		return s.token, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("sign provider token: %w", err)
	}
	s.token = signed
	s.tokenIssued = now
	return signed, nil
}

// Send pushes to every registered device of the user. Per-device failures
// are logged and skipped; the returned count is successful sends.
func (s *APNsSender) Send(ctx context.Context, userID, title, body string, data map[string]interface{}) (int, error) {
	tokens, err := s.store.ListDeviceTokens(userID)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, dt := range tokens {
		if err := s.sendOne(ctx, dt.Token, title, body, data); err != nil {
			log.WithComponent("push").Warn().
				Err(err).
				Str("device", truncToken(dt.Token)).
				Msg("APNs send failed")
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *APNsSender) sendOne(ctx context.Context, deviceToken, title, body string, data map[string]interface{}) error {
	token, err := s.providerToken()
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"aps": map[string]interface{}{
			"alert": map[string]string{"title": title, "body": body},
			"sound": "default",
		},
	}
	for k, v := range data {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/3/device/%s", s.host, deviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("authorization", "bearer "+token)
	req.Header.Set("apns-topic", s.topic)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")
	req.Header.Set("content-type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("apns status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func truncToken(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:8] + "..." + token[len(token)-4:]
}
