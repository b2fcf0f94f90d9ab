package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8443, cfg.Transport.Port)
	assert.Equal(t, KeyAlgorithmRSA, cfg.Identity.KeyAlgorithm)
	assert.Equal(t, 2048, cfg.Identity.KeySize)
	assert.Equal(t, 1, cfg.Storage.ReplicaCount)
	assert.NoError(t, Validate(cfg))
}

func TestValidate_RejectsBadKeySize(t *testing.T) {
	cfg := Default()
	cfg.Identity.KeySize = 1234
	assert.Error(t, Validate(cfg))
}

func TestValidate_RejectsBadAlgorithm(t *testing.T) {
	cfg := Default()
	cfg.Identity.KeyAlgorithm = "DSA"
	assert.Error(t, Validate(cfg))
}

func TestLoadSaveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bey.yaml")

	cfg := Default()
	cfg.Environment = "production"
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "production", loaded.Environment)
	assert.Equal(t, cfg.Transport.Port, loaded.Transport.Port)
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("BEY_TEST_VAR", "resolved")
	defer os.Unsetenv("BEY_TEST_VAR")

	out := SubstituteEnvVars("value=${BEY_TEST_VAR}")
	assert.Equal(t, "value=resolved", out)

	out = SubstituteEnvVars("value=${BEY_MISSING_VAR:fallback}")
	assert.Equal(t, "value=fallback", out)
}
