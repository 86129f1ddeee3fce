package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRotatingLogWriter checks that writes before initialization are
// discarded and later writes reach the log file.
func TestRotatingLogWriter(t *testing.T) {
	t.Parallel()

	w := NewRotatingLogWriter()
	n, err := w.Write([]byte("dropped\n"))
	require.NoError(t, err)
	require.Equal(t, 8, n)

	logFile := filepath.Join(t.TempDir(), "logs", "invoicerd.log")
	cfg := DefaultLogConfig().File
	cfg.Compressor = Zstd
	require.NoError(t, w.InitLogRotator(cfg, logFile))

	_, err = w.Write([]byte("kept\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Equal(t, "kept\n", string(content))

	cfg.Compressor = "lz4"
	require.Error(t, NewRotatingLogWriter().InitLogRotator(cfg, logFile))
}
