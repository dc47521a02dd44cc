package ipc

import (
	"kiosk/internal/api"
	"kiosk/internal/playback"
	"kiosk/internal/reporter"
)

// Task mirrors the HTTP API task DTO for IPC callers.
type Task = api.Task

// Asset mirrors the HTTP API asset DTO for IPC callers.
type Asset = api.Asset

// TaskCounts mirrors the HTTP API task tally for IPC callers.
type TaskCounts = api.TaskCounts

// PlayerStatus is the rotation snapshot exactly as the scheduler reports it.
type PlayerStatus = playback.Status

// StateReport is the full device report the reporter publishes to the broker.
type StateReport = reporter.StateReport

// StatusRequest fetches the daemon runtime summary.
type StatusRequest struct{}

// StatusResponse is the daemon runtime summary.
type StatusResponse struct {
	Running         bool         `json:"running"`
	PID             int          `json:"pid"`
	UptimeSec       int64        `json:"uptime_sec"`
	BrokerConnected bool         `json:"broker_connected"`
	Player          PlayerStatus `json:"player"`
	Tasks           TaskCounts   `json:"tasks"`
	AssetCount      int          `json:"asset_count"`
	DatabasePath    string       `json:"database_path"`
	LockPath        string       `json:"lock_path"`
	LogPath         string       `json:"log_path"`
}

// QueueRequest fetches the playback rotation.
type QueueRequest struct{}

// QueueResponse carries the rotation snapshot including items.
type QueueResponse struct {
	Queue PlayerStatus `json:"queue"`
}

// TasksRequest lists distribution tasks. All includes terminal tasks.
type TasksRequest struct {
	All bool `json:"all"`
}

// TasksResponse contains the task listing.
type TasksResponse struct {
	Tasks []Task `json:"tasks"`
}

// AssetsRequest lists the media catalog.
type AssetsRequest struct{}

// AssetsResponse contains the catalog entries.
type AssetsResponse struct {
	Assets []Asset `json:"assets"`
}

// ControlRequest applies a playback command. Action uses the wire command
// names (play, pause, stop, setVolume, setLoop); a play may carry a Ref
// naming an asset id or a file under the video root.
type ControlRequest struct {
	Action string `json:"action"`
	Ref    string `json:"ref,omitempty"`
	Volume int    `json:"volume,omitempty"`
	Loop   bool   `json:"loop,omitempty"`
}

// ControlResponse reports the command outcome.
type ControlResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DistributeRequest submits a local distribution task. ExpireAt accepts
// RFC 3339 or epoch seconds; empty means no deadline.
type DistributeRequest struct {
	ID       string `json:"id,omitempty"`
	URI      string `json:"uri"`
	Checksum string `json:"checksum,omitempty"`
	DestName string `json:"dest_name,omitempty"`
	Priority int    `json:"priority,omitempty"`
	ExpireAt string `json:"expire_at,omitempty"`
	Extract  *bool  `json:"extract,omitempty"`
}

// DistributeResponse reports the accepted task. Created is false when the id
// was already known; a completed re-submission carries its final path.
type DistributeResponse struct {
	TaskID    string `json:"task_id"`
	Created   bool   `json:"created"`
	Status    string `json:"status"`
	FinalPath string `json:"final_path,omitempty"`
}

// RemoveAssetRequest deletes a catalog asset by id.
type RemoveAssetRequest struct {
	ID string `json:"id"`
}

// RemoveAssetResponse reports whether deletion waits for playback to move on.
type RemoveAssetResponse struct {
	Deferred bool `json:"deferred"`
}

// ReportRequest builds a full state report on demand.
type ReportRequest struct{}

// ReportResponse carries the report the broker would receive.
type ReportResponse struct {
	Report StateReport `json:"report"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
