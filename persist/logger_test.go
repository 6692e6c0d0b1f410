package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "test.log")

	l, err := NewLogger(logPath)
	require.NoError(t, err)

	l.Println("hello from the test")
	l.Critical("a recoverable sanity-check failure")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	contents := string(data)
	require.Contains(t, contents, "STARTUP")
	require.Contains(t, contents, "hello from the test")
	require.Contains(t, contents, "a recoverable sanity-check failure")
	require.Contains(t, contents, "SHUTDOWN")
}
