// Package logs provides file tailing with stable byte offsets.
//
// It streams log files with bounded memory usage, supports negative offsets
// for "tail last N lines" reads, and blocks for new data in follow mode. The
// IPC log endpoint is built on it, which is what `kioskctl logs --follow`
// polls. Callers supply context deadlines so follow-mode waits end cleanly.
package logs
