package invoicer

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/fuentelabs/invoicer/bot"
	"github.com/fuentelabs/invoicer/build"
	"github.com/fuentelabs/invoicer/lndclient"
	"github.com/fuentelabs/invoicer/monitoring"
	"github.com/fuentelabs/invoicer/nostr"
	"github.com/fuentelabs/invoicer/settlement"
	"github.com/fuentelabs/invoicer/uploads"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "invoicer.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "invoicerd.log"
	defaultLogLevel       = "info"
	defaultNetwork        = "mainnet"

	defaultLndAddress = "localhost:8080"

	defaultHealthInterval = time.Minute
	defaultHealthTimeout  = 10 * time.Second
	defaultHealthBackoff  = 30 * time.Second
	defaultHealthAttempts = 3
)

var (
	// DefaultInvoicerDir is the default directory where the daemon keeps
	// its config, data and logs.
	DefaultInvoicerDir = btcutil.AppDataDir("invoicer", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(
		DefaultInvoicerDir, defaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultInvoicerDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultInvoicerDir, defaultLogDirname)

	// networks maps the accepted network names to their params.
	networks = map[string]*chaincfg.Params{
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
		"simnet":  &chaincfg.SimNetParams,
	}

	errMissingOption = errors.New("missing required option")
)

// LndConfig holds the payment node connection options.
//
//nolint:lll
type LndConfig struct {
	Address        string         `long:"address" env:"LND_ADDRESS" description:"host:port of the node's REST listener"`
	MacaroonPath   string         `long:"macaroonpath" env:"LND_MACAROON" description:"Path of the macaroon used to authenticate with the node"`
	TLSCertPath    string         `long:"tlscertpath" env:"LND_TLSCERT" description:"Path of the node's TLS certificate"`
	MaxIdlePings   int            `long:"maxidlepings" description:"Keepalive pings an invoice stream may deliver without data before it is considered dead (0 to disable)"`
	PaymentTimeout time.Duration  `long:"paymenttimeout" description:"Router timeout for merchant payouts"`
	FeeLimit       btcutil.Amount `long:"feelimit" description:"Routing fee limit of merchant payouts in satoshis"`
}

// SettlementConfig holds the escrow options.
//
//nolint:lll
type SettlementConfig struct {
	NetworkFee       btcutil.Amount `long:"networkfee" description:"Satoshis added to every escrow to cover routing"`
	ServiceFee       btcutil.Amount `long:"servicefee" description:"Satoshis added to every escrow as the platform fee"`
	MaxReconnects    int            `long:"maxreconnects" description:"Invoice stream resubscriptions before an escrow is abandoned"`
	CourierHubPubKey string         `long:"courierhub" description:"Hex pubkey receiving orders ready for delivery that no courier claimed yet"`
}

// UploadsConfig holds the upload presign options. Presigning is disabled if
// no API key is set.
//
//nolint:lll
type UploadsConfig struct {
	APIKey   string        `long:"apikey" env:"UT_API_KEY" description:"Upload service API key"`
	AppID    string        `long:"appid" env:"UT_APP_ID" description:"Upload service app id"`
	Region   string        `long:"region" description:"Upload service ingest region"`
	Interval time.Duration `long:"interval" description:"Refill interval of the per user presign allowance"`
	Burst    int           `long:"burst" description:"Presign requests a user may send at once"`
}

// HealthCheckConfig holds the payment node liveness check options.
//
//nolint:lll
type HealthCheckConfig struct {
	Interval time.Duration `long:"interval" description:"How often the node is checked"`
	Timeout  time.Duration `long:"timeout" description:"Timeout of a single check"`
	Backoff  time.Duration `long:"backoff" description:"Delay between failed attempts"`
	Attempts int           `long:"attempts" description:"Failed attempts before the daemon shuts down (0 to disable)"`
}

// StatusConfig holds the status server options.
//
//nolint:lll
type StatusConfig struct {
	Disable bool   `long:"disable" description:"Do not serve metrics and order status"`
	Listen  string `long:"listen" description:"host:port of the status server"`
}

// Config is the configuration of the daemon.
//
//nolint:lll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	InvoicerDir string `long:"invoicerdir" description:"The base directory that contains the config file, data and logs"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"The directory to store the order journal in"`
	LogDir      string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	Network string `long:"network" description:"The bitcoin network merchant invoices must be issued for" choice:"mainnet" choice:"testnet" choice:"signet" choice:"regtest" choice:"simnet"`

	PrivateKey string   `long:"privatekey" env:"INVOICER_PRIVATE_KEY" description:"Hex private key of the platform identity"`
	Relays     []string `long:"relay" env:"RELAY_URLS" env-delim:"\n" description:"ws:// or wss:// relay to connect to; may be given multiple times"`
	TorSocks   string   `long:"torsocks" description:"host:port of a SOCKS proxy (tor) to reach the relays through"`
	Admins     []string `long:"admin" description:"Hex pubkey bootstrapping the admin whitelist; may be given multiple times"`

	Lnd         *LndConfig         `group:"lnd" namespace:"lnd"`
	Settlement  *SettlementConfig  `group:"settlement" namespace:"settlement"`
	Uploads     *UploadsConfig     `group:"uploads" namespace:"uploads"`
	HealthCheck *HealthCheckConfig `group:"healthcheck" namespace:"healthcheck"`
	Status      *StatusConfig      `group:"status" namespace:"status"`

	Logging *build.LogConfig `group:"logging" namespace:"logging"`

	// keys is the platform identity decoded from PrivateKey.
	keys *nostr.Keys

	// netParams are the params of Network.
	netParams *chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		InvoicerDir: DefaultInvoicerDir,
		ConfigFile:  DefaultConfigFile,
		DataDir:     defaultDataDir,
		LogDir:      defaultLogDir,
		DebugLevel:  defaultLogLevel,
		Network:     defaultNetwork,
		Lnd: &LndConfig{
			Address:        defaultLndAddress,
			PaymentTimeout: lndclient.DefaultPaymentTimeout,
			FeeLimit:       lndclient.DefaultFeeLimit,
		},
		Settlement: &SettlementConfig{
			MaxReconnects: settlement.DefaultMaxReconnects,
		},
		Uploads: &UploadsConfig{
			Region:   uploads.DefaultRegion,
			Interval: bot.DefaultPresignInterval,
			Burst:    bot.DefaultPresignBurst,
		},
		HealthCheck: &HealthCheckConfig{
			Interval: defaultHealthInterval,
			Timeout:  defaultHealthTimeout,
			Backoff:  defaultHealthBackoff,
			Attempts: defaultHealthAttempts,
		},
		Status: &StatusConfig{
			Listen: monitoring.DefaultListen,
		},
		Logging: build.DefaultLogConfig(),
	}
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig() (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.FullVersion())
		os.Exit(0)
	}

	// A custom base directory moves the default config file into it.
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	baseDir := CleanAndExpandPath(preCfg.InvoicerDir)
	if baseDir != DefaultInvoicerDir && configFilePath == DefaultConfigFile {
		configFilePath = filepath.Join(baseDir, defaultConfigFilename)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		invcLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane, normalizes all
// paths and decodes the platform key. The cleaned up config is returned on
// success.
func ValidateConfig(cfg Config) (*Config, error) {
	// A custom base directory moves the data and logs into it.
	baseDir := CleanAndExpandPath(cfg.InvoicerDir)
	if baseDir != DefaultInvoicerDir {
		if cfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(baseDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(baseDir, defaultLogDirname)
		}
	}

	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	cfg.Lnd.MacaroonPath = CleanAndExpandPath(cfg.Lnd.MacaroonPath)
	cfg.Lnd.TLSCertPath = CleanAndExpandPath(cfg.Lnd.TLSCertPath)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	switch {
	case cfg.PrivateKey == "":
		return nil, fmt.Errorf("%w: privatekey (INVOICER_PRIVATE_KEY)",
			errMissingOption)

	case cfg.Lnd.Address == "":
		return nil, fmt.Errorf("%w: lnd.address (LND_ADDRESS)",
			errMissingOption)

	case cfg.Lnd.MacaroonPath == "":
		return nil, fmt.Errorf("%w: lnd.macaroonpath (LND_MACAROON)",
			errMissingOption)
	}

	keys, err := nostr.ParseKeys(strings.TrimSpace(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid privatekey: %w", err)
	}
	cfg.keys = keys

	params, ok := networks[cfg.Network]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", cfg.Network)
	}
	cfg.netParams = params

	cfg.Relays = splitRelays(cfg.Relays)
	if len(cfg.Relays) == 0 {
		return nil, fmt.Errorf("%w: relay (RELAY_URLS)",
			errMissingOption)
	}

	for _, admin := range cfg.Admins {
		if !nostr.ValidPubKey(admin) {
			return nil, fmt.Errorf("invalid admin pubkey %q", admin)
		}
	}
	hub := cfg.Settlement.CourierHubPubKey
	if hub != "" && !nostr.ValidPubKey(hub) {
		return nil, fmt.Errorf("invalid courier hub pubkey %q", hub)
	}

	if cfg.Settlement.NetworkFee < 0 || cfg.Settlement.ServiceFee < 0 {
		return nil, errors.New("settlement fees must be non-negative")
	}

	if cfg.Uploads.APIKey != "" && cfg.Uploads.AppID == "" {
		return nil, fmt.Errorf("%w: uploads.appid (UT_APP_ID)",
			errMissingOption)
	}

	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Keys returns the platform identity.
func (c *Config) Keys() *nostr.Keys {
	return c.keys
}

// NetParams returns the params of the configured network.
func (c *Config) NetParams() *chaincfg.Params {
	return c.netParams
}

// splitRelays flattens relay entries holding several newline or comma
// separated URLs and drops empty ones.
func splitRelays(entries []string) []string {
	var relays []string
	for _, entry := range entries {
		fields := strings.FieldsFunc(entry, func(r rune) bool {
			return r == '\n' || r == ',' || r == ' ' || r == '\r'
		})
		relays = append(relays, fields...)
	}

	return relays
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
