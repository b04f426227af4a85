// Package logging provides structured logging for the NAX client and tools.
//
// It wraps a process-wide zap logger with convenience functions. Engine
// packages take no logger parameter; they log through this package so a
// CLI can stay silent by default and turn on output with NAX_LOG_LEVEL.
//
// # Log Levels
//
//   - Debug: frame payloads, heartbeats, late command echoes
//   - Info: connection events, state transitions
//   - Warn: malformed frames, dropped updates, reconnect attempts
//   - Error: fatal session errors
//
// # Usage
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
//	logging.LogConnection("192.168.1.50", "login_ok")
//	logging.Warn("Dropped update",
//	    zap.String("path", "/Device/ZoneOutputs/Zones/Zone01/ZoneAudio/Volume"),
//	    zap.Error(err),
//	)
//
// Output is console-encoded on stderr so stdout stays clean for command
// output such as `naxctl get`.
package logging
