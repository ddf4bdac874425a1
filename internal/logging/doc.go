// Package logging provides structured, file-based logging with rotation
// for the engine. Logs are JSON records written through log/slog to a
// rotating file under ~/.vaultd/logs/, optionally tee'd to stderr.
package logging
