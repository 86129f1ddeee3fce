package build

import (
	"fmt"
	"strings"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

const (
	callSiteOff   = "off"
	callSiteShort = "short"
	callSiteLong  = "long"

	defaultLogCompressor = Gzip

	// DefaultMaxLogFiles is the default maximum number of log files to
	// keep.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the default maximum log file size in MB.
	DefaultMaxLogFileSize = 20
)

// LogConfig holds logging configuration options.
//
//nolint:lll
type LogConfig struct {
	Console *ConsoleLoggerConfig `group:"console" namespace:"console" description:"The logger writing to stdout."`
	File    *FileLoggerConfig    `group:"file" namespace:"file" description:"The logger writing to the daemon's log file."`
}

// Validate validates the LogConfig struct values.
func (c *LogConfig) Validate() error {
	if !SupportedLogCompressor(c.File.Compressor) {
		return fmt.Errorf("invalid log compressor: %v",
			c.File.Compressor)
	}

	return nil
}

// LoggerConfig holds options for a particular logger.
//
//nolint:lll
type LoggerConfig struct {
	Disable      bool   `long:"disable" description:"Disable this logger."`
	NoTimestamps bool   `long:"no-timestamps" description:"Omit timestamps from log lines."`
	CallSite     string `long:"call-site" description:"Include the call-site of each log line." choice:"off" choice:"short" choice:"long"`
}

// ConsoleLoggerConfig extends LoggerConfig with console specific options.
//
//nolint:lll
type ConsoleLoggerConfig struct {
	LoggerConfig
	Style bool `long:"style" description:"If set, the output will be styled with color and fonts"`
}

// DefaultLogConfig returns the default logging config options.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Console: &ConsoleLoggerConfig{
			LoggerConfig: LoggerConfig{
				CallSite: callSiteOff,
			},
		},
		File: &FileLoggerConfig{
			Compressor:     defaultLogCompressor,
			MaxLogFiles:    DefaultMaxLogFiles,
			MaxLogFileSize: DefaultMaxLogFileSize,
			LoggerConfig: LoggerConfig{
				CallSite: callSiteOff,
			},
		},
	}
}

// HandlerOptions returns the set of btclog.HandlerOptions that the state of the
// config struct translates to.
func (cfg *LoggerConfig) HandlerOptions() []btclog.HandlerOption {
	opts := []btclog.HandlerOption{
		// The default skip depth used by the logging library is 6 but
		// since we wrap the logging handlers with another level of
		// abstraction with the handlerSet, we increase the skip depth
		// to 7 here.
		btclog.WithCallSiteSkipDepth(7),
	}

	if cfg.NoTimestamps {
		opts = append(opts, btclog.WithNoTimestamp())
	}

	switch cfg.CallSite {
	case callSiteShort:
		opts = append(opts, btclog.WithCallerFlags(btclog.Lshortfile))
	case callSiteLong:
		opts = append(opts, btclog.WithCallerFlags(btclog.Llongfile))
	}

	return opts
}

// HandlerOptions returns the console handler options, including the styled
// output if requested.
func (cfg *ConsoleLoggerConfig) HandlerOptions() []btclog.HandlerOption {
	opts := cfg.LoggerConfig.HandlerOptions()
	if cfg.Style {
		opts = append(opts,
			btclog.WithStyledLevel(styledLevel),
			btclog.WithStyledCallSite(styledCallSite),
			btclog.WithStyledKeys(func(key string) string {
				return styleString(key, styleFaint)
			}),
		)
	}

	return opts
}

// ansiStyle is an SGR parameter of an ANSI escape sequence.
type ansiStyle string

const (
	styleBold    ansiStyle = "1"
	styleFaint   ansiStyle = "2"
	styleRed     ansiStyle = "31"
	styleGreen   ansiStyle = "32"
	styleYellow  ansiStyle = "33"
	styleBlue    ansiStyle = "34"
	styleMagenta ansiStyle = "35"

	ansiReset = "\033[0m"
)

// styleString wraps s in the escape sequence of the given styles.
func styleString(s string, styles ...ansiStyle) string {
	if len(styles) == 0 {
		return s
	}

	params := make([]string, len(styles))
	for i, style := range styles {
		params[i] = string(style)
	}

	return "\033[" + strings.Join(params, ";") + "m" + s + ansiReset
}

// styledLevel renders the level tag of a log line in the level's color.
func styledLevel(level btclogv1.Level) string {
	tag := fmt.Sprintf("[%s]", level)

	switch level {
	case btclog.LevelTrace:
		return styleString(tag, styleFaint)
	case btclog.LevelDebug:
		return styleString(tag, styleBlue)
	case btclog.LevelInfo:
		return styleString(tag, styleGreen)
	case btclog.LevelWarn:
		return styleString(tag, styleYellow)
	case btclog.LevelError:
		return styleString(tag, styleRed)
	case btclog.LevelCritical:
		return styleString(tag, styleBold, styleMagenta)
	default:
		return tag
	}
}

// styledCallSite renders the call site of a log line faint.
func styledCallSite(file string, line int) string {
	return styleString(fmt.Sprintf("%s:%d", file, line), styleFaint)
}

// FileLoggerConfig extends LoggerConfig with specific log file options.
//
//nolint:lll
type FileLoggerConfig struct {
	LoggerConfig
	Compressor     string `long:"compressor" description:"Compression algorithm to use when rotating logs." choice:"gzip" choice:"zstd"`
	MaxLogFiles    int    `long:"max-files" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"max-file-size" description:"Maximum logfile size in MB"`
}

const (
	// Gzip is the default compressor.
	Gzip = "gzip"

	// Zstd is a modern compressor that compresses better than Gzip, in less
	// time.
	Zstd = "zstd"
)

// logCompressors maps the identifier for each supported compression algorithm
// to the extension used for the compressed log files.
var logCompressors = map[string]string{
	Gzip: "gz",
	Zstd: "zst",
}

// SupportedLogCompressor returns whether or not logCompressor is a supported
// compression algorithm for log files.
func SupportedLogCompressor(logCompressor string) bool {
	_, ok := logCompressors[logCompressor]

	return ok
}
