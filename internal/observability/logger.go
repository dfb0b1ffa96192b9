// Package observability holds the process-wide loggers and telemetry system.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is the human-facing logger for commands.
	CLILogger *logging.Logger

	// ServerLogger is the structured logger installed by serve.
	ServerLogger *logging.Logger

	// Environment is stamped on structured server logs.
	Environment = "production"

	fallbackOnce   sync.Once
	fallbackLogger *logging.Logger
)

// ServerLogOptions selects how serve logs.
type ServerLogOptions struct {
	Level string
	// Profile is SIMPLE for console lines; anything else logs JSON.
	Profile   string
	Namespace string
}

// Logger returns the server logger when serving, else the CLI logger, else a
// lazily built CLI logger. Library code logs through it so it never needs a
// nil check.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	if CLILogger != nil {
		return CLILogger
	}
	fallbackOnce.Do(func() {
		fallbackLogger = mustLogger(logging.NewCLI("threadgate"))
	})
	return fallbackLogger
}

// InitCLILogger installs CLILogger; verbose lowers it to DEBUG.
func InitCLILogger(service string, verbose bool) {
	logger := mustLogger(logging.NewCLI(service))
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger installs ServerLogger.
func InitServerLogger(service string, opts ServerLogOptions) {
	ServerLogger = mustLogger(logging.New(serverLoggerConfig(service, opts)))
}

func serverLoggerConfig(service string, opts ServerLogOptions) *logging.LoggerConfig {
	cfg := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: normalizeLevel(opts.Level),
		Service:      service,
		Environment:  Environment,
		Sinks: []logging.SinkConfig{{
			Type:    "console",
			Format:  "json",
			Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
		}},
	}
	if strings.EqualFold(strings.TrimSpace(opts.Profile), "simple") {
		cfg.Profile = logging.ProfileSimple
		cfg.Sinks[0].Format = "console"
		return cfg
	}

	cfg.EnableCaller = true
	cfg.EnableStacktrace = true
	cfg.Middleware = []logging.MiddlewareConfig{{
		Name:    "correlation",
		Enabled: true,
		Order:   100,
		Config:  map[string]any{},
	}}
	if opts.Namespace != "" {
		cfg.StaticFields = map[string]any{"namespace": opts.Namespace}
	}
	return cfg
}

// normalizeLevel maps config spellings onto gofulmen severities. Unknown
// values log at INFO.
func normalizeLevel(level string) string {
	switch l := strings.ToUpper(strings.TrimSpace(level)); l {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
		return l
	case "WARNING":
		return "WARN"
	}
	return "INFO"
}

// mustLogger exits with CONFIG_INVALID when a logger cannot be built; there is
// nothing to report the failure through but stderr.
func mustLogger(logger *logging.Logger, err error) *logging.Logger {
	if err == nil {
		return logger
	}
	code := foundry.ExitConfigInvalid
	fmt.Fprintf(os.Stderr, "FATAL: logger initialization: %v\n", err)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
	return nil
}
