package minimize

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSources(t *testing.T, dir string, sources map[string]string) []string {
	t.Helper()
	var paths []string
	for name, src := range sources {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func TestByAPIPairs(t *testing.T) {
	in := t.TempDir()
	paths := writeSources(t, in, map[string]string{
		"id_000001.cc": "void f() { a(); b(); }",
		"id_000002.cc": "void f() { a(); b(); c(); }",
		"id_000003.cc": "void f() { b(); c(); }",
		"id_000004.cc": "void f() { c(); a(); }",
		"id_000005.cc": "void f() { only(); }",
	})
	out := filepath.Join(t.TempDir(), "minimized")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "stale.cc"), []byte("x"), 0o644))

	res, err := ByAPIPairs(context.Background(), paths, out)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(in, "id_000002.cc"),
		filepath.Join(in, "id_000004.cc"),
	}, res.Retained)
	assert.Equal(t, 3, res.Covered)
	assert.Len(t, res.Removed, 3)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"id_000002.cc", "id_000004.cc"}, names)

	for _, p := range paths {
		assert.FileExists(t, p, "inputs are not modified")
	}
}

func TestByAPIPairs_RejectsSharedBaseNames(t *testing.T) {
	first := writeSources(t, t.TempDir(), map[string]string{"id_000001.cc": "void f() { a(); b(); }"})
	second := writeSources(t, t.TempDir(), map[string]string{"id_000001.cc": "void f() { c(); d(); }"})
	out := filepath.Join(t.TempDir(), "minimized")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "kept.cc"), []byte("x"), 0o644))

	_, err := ByAPIPairs(context.Background(), append(first, second...), out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id_000001.cc")
	assert.FileExists(t, filepath.Join(out, "kept.cc"), "output is left alone on rejection")
}

func TestByAPIPairs_Empty(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")

	res, err := ByAPIPairs(context.Background(), nil, out)
	require.NoError(t, err)

	assert.Zero(t, res.Input)
	assert.Empty(t, res.Retained)
	assert.DirExists(t, out)
}
