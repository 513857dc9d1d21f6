// Package testutil gates tests that need external services.
package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips the test in -short runs.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// SkipIfCI skips the test when a CI environment is detected.
func SkipIfCI(t *testing.T) {
	t.Helper()
	if os.Getenv("CI") != "" {
		t.Skip("skipping test in CI environment")
	}
}

// RequireIntegration skips the test unless integration runs are opted
// in. Local full runs execute it; CI needs INTEGRATION_TESTS=1.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("INTEGRATION_TESTS") == "" && os.Getenv("CI") != "" {
		t.Skip("skipping integration test (set INTEGRATION_TESTS=1 to run)")
	}
}

// RequireEnv returns the value of key, skipping the test when unset.
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}
