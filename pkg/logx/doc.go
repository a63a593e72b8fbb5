// Package logx configures taskbell's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional diagnostics sink (min-level + rate limiting) so warnings about
//     dropped payloads or failed clears can be surfaced without user popups
package logx
