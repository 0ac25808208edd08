// Package testutil holds helpers for integration tests that need a real
// database. Tests call LoadTestEnv before db.InitFromEnv and skip
// themselves when no connection string is available.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
)

// LoadTestEnv points DATABASE_URL at the test database. A DATABASE_URL
// already present in the environment (CI) wins; otherwise the nearest
// .env.test file is read and its TEST_DATABASE_URL value is promoted.
// Returns the resulting DATABASE_URL, empty when nothing was found.
func LoadTestEnv(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	path := locateTestEnv()
	if path == "" {
		return ""
	}

	values, err := godotenv.Read(path)
	if err != nil {
		t.Logf("Failed to read %s: %v", path, err)
		return ""
	}

	url := values["TEST_DATABASE_URL"]
	if url == "" {
		return ""
	}

	t.Setenv("DATABASE_URL", url)
	t.Logf("DATABASE_URL set from %s", path)
	return url
}

// locateTestEnv walks up from the working directory looking for .env.test,
// since go test runs each package in its own directory.
func locateTestEnv() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for i := 0; i < 6; i++ {
		candidate := filepath.Join(dir, ".env.test")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
	return ""
}
