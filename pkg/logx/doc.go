// Package logx provides the process-wide structured logger.
//
// It wraps zerolog behind a small Logger value type so components can hold a
// logger without caring about sink configuration. The Service owns sinks
// (console, file) and can re-apply config at runtime; Logger values created
// from it stay live across Apply calls.
package logx
