package invoicer

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/signal"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()

	keys, err := nostr.GenerateKeys()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.InvoicerDir = t.TempDir()
	cfg.PrivateKey = keys.PrivateKeyHex()
	cfg.Lnd.MacaroonPath = "/tmp/invoice.macaroon"
	cfg.Relays = []string{"wss://relay.one\nwss://relay.two\n"}

	return cfg
}

// TestValidateConfig checks path handling, relay splitting and key
// decoding.
func TestValidateConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	clean, err := ValidateConfig(cfg)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(cfg.InvoicerDir, defaultDataDirname),
		clean.DataDir)
	require.Equal(t, filepath.Join(cfg.InvoicerDir, defaultLogDirname),
		clean.LogDir)
	require.DirExists(t, clean.DataDir)
	require.Equal(t, []string{"wss://relay.one", "wss://relay.two"},
		clean.Relays)
	require.Equal(t, &chaincfg.MainNetParams, clean.NetParams())
	require.Equal(t, cfg.PrivateKey, clean.Keys().PrivateKeyHex())
}

// TestValidateConfigErrors checks that incomplete or invalid settings are
// rejected.
func TestValidateConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "no private key",
			mutate: func(c *Config) { c.PrivateKey = "" },
		},
		{
			name:   "bad private key",
			mutate: func(c *Config) { c.PrivateKey = "zz" },
		},
		{
			name:   "no macaroon",
			mutate: func(c *Config) { c.Lnd.MacaroonPath = "" },
		},
		{
			name:   "no relays",
			mutate: func(c *Config) { c.Relays = []string{"\n"} },
		},
		{
			name:   "bad admin",
			mutate: func(c *Config) { c.Admins = []string{"abc"} },
		},
		{
			name: "bad courier hub",
			mutate: func(c *Config) {
				c.Settlement.CourierHubPubKey = "abc"
			},
		},
		{
			name:   "negative fee",
			mutate: func(c *Config) { c.Settlement.ServiceFee = -1 },
		},
		{
			name:   "upload key without app",
			mutate: func(c *Config) { c.Uploads.APIKey = "sk_live" },
		},
		{
			name:   "unknown network",
			mutate: func(c *Config) { c.Network = "litecoin" },
		},
		{
			name: "unknown compressor",
			mutate: func(c *Config) {
				c.Logging.File.Compressor = "lz4"
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig(t)
			test.mutate(&cfg)

			_, err := ValidateConfig(cfg)
			require.Error(t, err)
		})
	}
}

func TestSplitRelays(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"wss://a", "wss://b", "wss://c"},
		splitRelays([]string{"wss://a,wss://b\r\n", "", " wss://c "}))
	require.Empty(t, splitRelays(nil))
}

// TestInitLogging checks that the debug level string reaches the
// subsystem loggers and that the log file is created.
func TestInitLogging(t *testing.T) {
	cfg := validConfig(t)
	clean, err := ValidateConfig(cfg)
	require.NoError(t, err)
	clean.Logging.Console.Disable = true
	clean.DebugLevel = "debug,RELY=trace"

	writer, err := initLogging(clean, signal.Interceptor{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, writer.Close()) })

	invcLog.Infof("hello")
	require.FileExists(t, filepath.Join(clean.LogDir, defaultLogFilename))

	clean.DebugLevel = "NOPE=debug"
	_, err = initLogging(clean, signal.Interceptor{})
	require.Error(t, err)
}
