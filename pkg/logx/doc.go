// Package logx wraps zerolog behind a small field-based Logger.
//
// A Service owns the sinks (console and an optional JSON file) and can swap
// level and outputs at runtime through Apply, so loggers derived with With
// keep working across config reloads.
package logx
