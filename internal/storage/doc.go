// Package storage persists scheduled jobs, their runs, analysis sessions and
// sidecar item metadata.
//
// Every repository owns one SQLite database; Registry maps repository ids to
// their open stores. All timestamps are written as UTC.
package storage
