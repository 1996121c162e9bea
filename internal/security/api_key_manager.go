/*
API key management for the control surface: generation, persistence,
validation, and revocation of long-lived keys used by scripts and the
admin CLI where short-lived JWTs are inconvenient.

Keys are stored as a JSON document on disk; the raw key is returned
exactly once at creation.
*/
package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

// APIKey is one stored key with its metadata.
type APIKey struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Role        Role      `json:"role"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastUsed    time.Time `json:"last_used"`
	UsageCount  int64     `json:"usage_count"`
	Revoked     bool      `json:"revoked"`
}

// Expired reports whether the key is past its expiry.
func (k *APIKey) Expired() bool {
	return !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt)
}

type keyFile struct {
	Keys map[string]*APIKey `json:"keys"`
}

// APIKeyManager owns the key store.
type APIKeyManager struct {
	cfg    *config.APIKeyManagementConfig
	logger *logging.Logger

	mu   sync.Mutex
	keys map[string]*APIKey // id -> key
	path string
}

// NewAPIKeyManager opens (or creates) the key store at the configured
// path.
func NewAPIKeyManager(cfg *config.APIKeyManagementConfig, logger *logging.Logger) (*APIKeyManager, error) {
	m := &APIKeyManager{cfg: cfg, logger: logger, keys: map[string]*APIKey{}, path: cfg.StoragePath}
	if m.path == "" {
		return m, nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("corrupt key store %s: %w", m.path, err)
	}
	if kf.Keys != nil {
		m.keys = kf.Keys
	}
	return m, nil
}

// Generate mints a new key with the given role and lifetime; zero ttl
// means non-expiring.
func (m *APIKeyManager) Generate(role Role, description string, ttl time.Duration) (*APIKey, error) {
	if !ValidRoles[string(role)] {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	length := m.cfg.KeyLength
	if length <= 0 {
		length = 32
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	prefix := m.cfg.KeyPrefix
	if prefix == "" {
		prefix = "hmx_"
	}
	key := &APIKey{
		ID:          uuid.New().String(),
		Key:         prefix + base64.RawURLEncoding.EncodeToString(raw),
		Role:        role,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if ttl > 0 {
		key.ExpiresAt = key.CreatedAt.Add(ttl)
	}

	m.mu.Lock()
	m.keys[key.ID] = key
	err := m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.logger.WithFields(logging.Fields{"key_id": key.ID, "role": string(role)}).Info("api key generated")
	return key, nil
}

// Validate looks a raw key up and returns its role; revoked, expired,
// and unknown keys fail.
func (m *APIKeyManager) Validate(rawKey string) (Role, error) {
	rawKey = strings.TrimSpace(rawKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Key != rawKey {
			continue
		}
		if k.Revoked {
			return "", fmt.Errorf("key revoked")
		}
		if k.Expired() {
			return "", fmt.Errorf("key expired")
		}
		k.LastUsed = time.Now()
		k.UsageCount++
		return k.Role, nil
	}
	return "", fmt.Errorf("unknown key")
}

// Revoke marks a key unusable by id.
func (m *APIKeyManager) Revoke(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return fmt.Errorf("unknown key id %q", id)
	}
	k.Revoked = true
	return m.persistLocked()
}

// List returns metadata for every key with the raw secret redacted.
func (m *APIKeyManager) List() []APIKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		cp := *k
		cp.Key = redact(cp.Key)
		out = append(out, cp)
	}
	return out
}

func redact(key string) string {
	if len(key) <= 8 {
		return "********"
	}
	return key[:8] + "..."
}

func (m *APIKeyManager) persistLocked() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(keyFile{Keys: m.keys}, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
