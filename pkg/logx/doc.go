// Package logx configures notifyd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Loggers "live" across config reloads (Service.Apply swaps sinks)
//
// The zero value of Logger is a safe no-op, so components can log without
// nil checks.
package logx
