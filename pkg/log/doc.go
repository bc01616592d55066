/*
Package log provides structured logging for ClawBowl using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all ClawBowl packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithUserID: Add user ID context
  - WithSandbox: Add sandbox ID context

# Usage

Initializing the Logger:

	import "github.com/clawbowl/clawbowl/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Orchestrator initialized")
	log.Warn("High sandbox churn detected")
	log.Error("Failed to connect to Docker daemon")

Structured Logging:

	log.Logger.Info().
		Str("user_id", "u-123").
		Int("port", 19001).
		Msg("Sandbox started")

Component Loggers:

	mgrLog := log.WithComponent("manager")
	mgrLog.Info().Msg("Starting idle reaper")
	mgrLog.Debug().Str("sandbox_id", "sb-123").Msg("Probing readiness")

# Integration Points

This package integrates with:

  - pkg/manager: Logs sandbox lifecycle transitions
  - pkg/proxy: Logs upstream retries and stream shaping
  - pkg/alerts: Logs alert parsing and dispatch
  - pkg/runtime: Logs Docker engine operations
  - pkg/api: Logs API requests and errors

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (user ID, sandbox ID)

Don't:
  - Log secrets (gateway tokens, API keys, device private keys)
  - Use Debug level in production
  - Log per-delta in the streaming hot path
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
