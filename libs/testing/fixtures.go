package testing

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// LoadFixture reads a file from this package's fixtures/ directory. The
// path is anchored to this source file, not the working directory, so
// tests in any package resolve the same fixture set (recorded feed
// frames).
func LoadFixture(t *testing.T, name string) []byte {
	t.Helper()
	_, self, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("LoadFixture: cannot resolve source path")
	}
	path := filepath.Join(filepath.Dir(self), "fixtures", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("LoadFixture %s: %v", name, err)
	}
	return raw
}
