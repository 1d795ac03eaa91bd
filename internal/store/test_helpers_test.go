package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSession = "0190f5c2-7a00-7000-8000-000000000001"

// createTestStore creates a new store in a temp dir with one session.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.WriteSession(context.Background(), Session{
		ID:        testSession,
		Mode:      "api-combination",
		Target:    "zlib",
		StartedAt: time.Unix(1700000000, 0),
	}))
	return s
}

func ptr(v float64) *float64 { return &v }
