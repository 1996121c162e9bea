package security

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerarecorder/hdmi-mixer-go/internal/config"
	"github.com/camerarecorder/hdmi-mixer-go/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.GetLogger("security-test")
}

func TestRoleSatisfies(t *testing.T) {
	assert.True(t, RoleAdmin.Satisfies(RoleOperator))
	assert.True(t, RoleOperator.Satisfies(RoleViewer))
	assert.False(t, RoleViewer.Satisfies(RoleOperator))
	assert.False(t, Role("bogus").Satisfies(RoleViewer))
}

func TestPermissionCheckerTable(t *testing.T) {
	pc := NewPermissionChecker()
	assert.NoError(t, pc.Check(RoleViewer, "get_status"))
	assert.Error(t, pc.Check(RoleViewer, "record_start"))
	assert.NoError(t, pc.Check(RoleOperator, "apply_scene"))
	assert.Error(t, pc.Check(RoleOperator, "delete_scene"))
	assert.NoError(t, pc.Check(RoleAdmin, "delete_scene"))
	assert.Error(t, pc.Check(RoleAdmin, "not_an_op"))
}

func TestJWTGenerateValidateRoundTrip(t *testing.T) {
	h, err := NewJWTHandler("test-secret-key", testLogger())
	require.NoError(t, err)

	token, err := h.GenerateToken("operator1", "operator", 1)
	require.NoError(t, err)

	claims, err := h.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator1", claims.UserID)
	assert.Equal(t, "operator", claims.Role)
}

func TestJWTRejectsGarbage(t *testing.T) {
	h, err := NewJWTHandler("test-secret-key", testLogger())
	require.NoError(t, err)
	_, err = h.ValidateToken("not.a.token")
	assert.Error(t, err)
}

func TestRateLimiterThrottles(t *testing.T) {
	rl := NewRateLimiter(map[string]RateLimitConfig{
		"mutate": {Requests: 2, Window: time.Minute},
	}, testLogger())

	assert.NoError(t, rl.Allow("mutate", "client1"))
	assert.NoError(t, rl.Allow("mutate", "client1"))
	assert.Error(t, rl.Allow("mutate", "client1"))
	// other clients have their own bucket
	assert.NoError(t, rl.Allow("mutate", "client2"))
	// unknown classes pass
	assert.NoError(t, rl.Allow("other", "client1"))
}

func TestAPIKeyLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.APIKeyManagementConfig{StoragePath: dir + "/keys.json", KeyPrefix: "hmx_", KeyLength: 32}
	m, err := NewAPIKeyManager(cfg, testLogger())
	require.NoError(t, err)

	k, err := m.Generate(RoleOperator, "ci runner", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, k.Key, "hmx_")

	role, err := m.Validate(k.Key)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, role)

	// survives reopen
	m2, err := NewAPIKeyManager(cfg, testLogger())
	require.NoError(t, err)
	role, err = m2.Validate(k.Key)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, role)

	require.NoError(t, m2.Revoke(k.ID))
	_, err = m2.Validate(k.Key)
	assert.Error(t, err)

	list := m2.List()
	require.Len(t, list, 1)
	assert.NotEqual(t, k.Key, list[0].Key, "listed keys must be redacted")
}

func TestAPIKeyRejectsInvalidRole(t *testing.T) {
	m, err := NewAPIKeyManager(&config.APIKeyManagementConfig{}, testLogger())
	require.NoError(t, err)
	_, err = m.Generate(Role("superuser"), "", 0)
	assert.Error(t, err)
}

func TestAuditLoggerWritesJSONL(t *testing.T) {
	path := t.TempDir() + "/audit.jsonl"
	al, err := NewAuditLogger(path, testLogger())
	require.NoError(t, err)

	al.RecordAuth("operator1", true, "jwt")
	al.RecordCommand("operator1", "apply_scene", "quad", nil)
	al.RecordRateLimited("operator1", "apply_scene")
	require.NoError(t, al.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[1], `"op":"apply_scene"`)
}
