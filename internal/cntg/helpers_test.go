package cntg

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testEntry = "test_zlib_api_sequence"

// writePrograms writes one program per body into a fresh directory and
// returns their paths in order.
func writePrograms(t *testing.T, bodies ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(bodies))
	for i, body := range bodies {
		p := filepath.Join(dir, fmt.Sprintf("id_%06d.cc", i))
		src := fmt.Sprintf("int %s() {\n    %s\n    return 66;\n}\n", testEntry, body)
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
		paths[i] = p
	}
	return paths
}

func newFuser(root string, batch int) *Fuser {
	return &Fuser{
		Layout:         Layout{Root: root},
		BatchSize:      batch,
		Entry:          testEntry,
		LibraryHeaders: []string{"zlib.h"},
	}
}
