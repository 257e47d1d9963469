package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_INT_BAD="abc" is not a valid integer`, err.Error())
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "fast")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_FLOAT_BAD="fast" is not a valid number`, err.Error())
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	require.Error(t, err)
	assert.Equal(t, `TEST_BOOL_BAD="maybe" is not a valid boolean`, err.Error())
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v)
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	require.Error(t, err)
	assert.Equal(t, `TEST_DUR_BAD="five-seconds" is not a valid duration`, err.Error())
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("TASKLEDGER_PORT", "abc")
	_, err := Load()
	require.Error(t, err)
	// Error should mention the variable name and value.
	assert.Contains(t, err.Error(), "TASKLEDGER_PORT")
	assert.Contains(t, err.Error(), "abc")
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("TASKLEDGER_PORT", "abc")
	t.Setenv("TASKLEDGER_RATE_LIMIT_BURST", "xyz")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASKLEDGER_PORT")
	assert.Contains(t, err.Error(), "TASKLEDGER_RATE_LIMIT_BURST")
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "auto", cfg.StageBackend)
	assert.Equal(t, "auto", cfg.EmbeddingProvider)
	assert.Equal(t, 3, cfg.StageAttempts)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	t.Setenv("TASKLEDGER_STAGE_BACKEND", "claude")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASKLEDGER_STAGE_BACKEND")
}

func TestValidateRejectsZeroRPS(t *testing.T) {
	t.Setenv("TASKLEDGER_RATE_LIMIT_RPS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TASKLEDGER_RATE_LIMIT_RPS")

	// Disabled limiting skips the RPS check.
	t.Setenv("TASKLEDGER_RATE_LIMIT_ENABLED", "false")
	_, err = Load()
	require.NoError(t, err)
}
