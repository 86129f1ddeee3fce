package build

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/require"
)

func newTestManager(buf *bytes.Buffer) *SubLoggerManager {
	m := NewSubLoggerManager(btclog.NewDefaultHandler(
		buf, btclog.WithNoTimestamp(),
	))
	for _, subsystem := range []string{"RELY", "STLM"} {
		m.RegisterSubLogger(subsystem, m.GenSubLogger(subsystem, nil))
	}

	return m
}

// TestParseAndSetDebugLevels checks the global and per subsystem forms of
// the debug level string.
func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	m := newTestManager(&buf)
	require.Equal(t, []string{"RELY", "STLM"}, m.SupportedSubsystems())

	require.NoError(t, ParseAndSetDebugLevels("debug,STLM=error", m))
	loggers := m.SubLoggers()
	require.Equal(t, btclog.LevelDebug, loggers["RELY"].Level())
	require.Equal(t, btclog.LevelError, loggers["STLM"].Level())

	loggers["RELY"].Debugf("connected to %s", "wss://relay")
	loggers["STLM"].Infof("dropped")
	require.True(t, strings.Contains(buf.String(), "RELY: connected"))
	require.False(t, strings.Contains(buf.String(), "dropped"))

	for _, bad := range []string{
		"loud", "RELY=loud", "NOPE=info", "RELY", "RELY=info=x",
	} {
		require.Error(t, ParseAndSetDebugLevels(bad, m), bad)
	}
}

// TestShutdownLogger checks that a critical line requests shutdown.
func TestShutdownLogger(t *testing.T) {
	t.Parallel()

	var (
		buf       bytes.Buffer
		shutdowns int
	)
	m := NewSubLoggerManager(btclog.NewDefaultHandler(&buf))
	logger := m.GenSubLogger("BOTR", func() { shutdowns++ })

	logger.Criticalf("journal unwritable: %v", "disk full")
	require.Equal(t, 1, shutdowns)
	require.True(t, strings.Contains(buf.String(), "journal unwritable"))
}

// TestDefaultLogHandlers checks that disabled loggers get no handler.
func TestDefaultLogHandlers(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()
	require.NoError(t, cfg.Validate())
	require.Len(t, NewDefaultLogHandlers(cfg, NewRotatingLogWriter()), 2)

	cfg.File.Disable = true
	require.Len(t, NewDefaultLogHandlers(cfg, NewRotatingLogWriter()), 1)

	cfg.File.Compressor = "lz4"
	require.Error(t, cfg.Validate())
}

// TestStyledConsole checks that the styled console colors the level tag.
func TestStyledConsole(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig().Console
	cfg.NoTimestamps = true
	cfg.Style = true

	var buf bytes.Buffer
	logger := btclog.NewSLogger(btclog.NewDefaultHandler(
		&buf, cfg.HandlerOptions()...,
	))
	logger.Errorf("relay down")
	logger.Infof("relay up")

	out := buf.String()
	require.Contains(t, out, "\033[31m[ERR]\033[0m")
	require.Contains(t, out, "\033[32m[INF]\033[0m")
	require.Contains(t, out, "relay down")

	cfg.Style = false
	buf.Reset()
	logger = btclog.NewSLogger(btclog.NewDefaultHandler(
		&buf, cfg.HandlerOptions()...,
	))
	logger.Errorf("relay down")
	require.NotContains(t, buf.String(), "\033[")
}
