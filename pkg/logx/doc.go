// Package logx is studysched's structured logging.
//
// logx.Logger wraps zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Levels and sinks swappable at runtime through Service.Apply
package logx
