package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvManagerTypedGetters(t *testing.T) {
	em := NewEnvManager("test-key", "BTTEST_")
	t.Setenv("BTTEST_PORT", "8081")
	t.Setenv("BTTEST_DEBUG", "true")
	t.Setenv("BTTEST_TIMEOUT", "15s")
	t.Setenv("BTTEST_BROKEN_INT", "abc")

	assert.Equal(t, 8081, em.GetInt("port", 1))
	assert.Equal(t, 1, em.GetInt("broken_int", 1))
	assert.True(t, em.GetBool("debug", false))
	assert.Equal(t, 15*time.Second, em.GetDuration("timeout", time.Second))
	assert.Equal(t, "fallback", em.GetString("missing", "fallback"))
}

func TestEnvManagerEncryptRoundTrip(t *testing.T) {
	em := NewEnvManager("test-key", "BTTEST_")

	encrypted, err := em.Encrypt("s3cret")
	require.NoError(t, err)
	assert.Contains(t, encrypted, "ENC:")

	plain, err := em.Resolve(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	unchanged, err := em.Resolve("not-encrypted")
	require.NoError(t, err)
	assert.Equal(t, "not-encrypted", unchanged)
}

func TestEnvManagerEncryptedVariable(t *testing.T) {
	em := NewEnvManager("test-key", "BTTEST_")
	t.Setenv("BTTEST_API_KEY", "")
	require.NoError(t, em.SetEncryptedString("api_key", "abc123"))

	assert.Equal(t, "abc123", em.GetEncryptedString("api_key", ""))
	assert.Equal(t, "", NewEnvManager("other-key", "BTTEST_").GetEncryptedString("missing", "ENC:@@@"))
}

func TestValidateRequired(t *testing.T) {
	em := NewEnvManager("k", "BTTEST_")
	t.Setenv("BTTEST_PRESENT", "1")

	assert.NoError(t, em.ValidateRequired([]string{"present"}))
	err := em.ValidateRequired([]string{"present", "absent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BTTEST_ABSENT")
}
