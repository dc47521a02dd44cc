package preflight

import (
	"context"

	"kiosk/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the startup checks for the given config: every directory
// the daemon writes to, plus the configured player binary. Broker
// reachability is deliberately not part of this set; the command channel
// retries the broker on its own and must not block startup.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	_ = ctx

	results := []Result{
		CheckDirectoryAccess("Media root", cfg.MediaRoot()),
		CheckDirectoryAccess("Staging directory", cfg.StagingDir()),
		CheckDirectoryAccess("State directory", cfg.System.StateDir),
		CheckDirectoryAccess("Log directory", cfg.System.LogPath),
	}
	if cfg.VideoPath() != cfg.MediaRoot() {
		results = append(results, CheckDirectoryAccess("Video path", cfg.VideoPath()))
	}
	results = append(results, CheckBinary("Player binary", cfg.Player.Binary))
	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
