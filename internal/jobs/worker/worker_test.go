package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeKeepsFailureDiagnosticButClearsOtherFiles(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "failure.json"), []byte(`{"kind":"Internal","message":"boom"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "front_layer_0_albedo.png"), []byte("partial"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "scratch"), 0o755))

	p := &Pool{}
	p.purge(dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failure.json", entries[0].Name())

	b, err := os.ReadFile(filepath.Join(dir, "failure.json"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "boom")
}

func TestPurgeOnMissingDirectoryIsNoOp(t *testing.T) {
	p := &Pool{}
	p.purge(filepath.Join(t.TempDir(), "does-not-exist"))
}
