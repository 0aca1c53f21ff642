// Package testutil provides shared test helpers for keyward packages.
//
// [LogRecorder] is an slog.Handler that keeps every record so tests can
// assert on the diagnostics a component emitted without touching the
// process-wide logger.
package testutil
