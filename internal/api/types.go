package api

import "kiosk/internal/playback"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Task describes a distribution task in a transport-friendly format.
type Task struct {
	ID           string `json:"id"`
	URI          string `json:"uri"`
	DestName     string `json:"destName"`
	Status       string `json:"status"`
	Priority     int    `json:"priority"`
	RetryCount   int    `json:"retryCount"`
	BytesFetched int64  `json:"bytesFetched,omitempty"`
	FinalPath    string `json:"finalPath,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ExpireAt     string `json:"expireAt,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// Asset describes a registered media file in a transport-friendly format.
type Asset struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	Title     string `json:"title"`
	SizeBytes int64  `json:"sizeBytes"`
	Checksum  string `json:"checksum,omitempty"`
	AddedAt   string `json:"addedAt,omitempty"`
}

// TaskCounts aggregates stored tasks by outcome bucket.
type TaskCounts struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	InFlight  int `json:"inFlight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
// The player section reuses the scheduler's snapshot, which is already a
// wire shape.
type DaemonStatus struct {
	Running         bool            `json:"running"`
	PID             int             `json:"pid"`
	UptimeSec       int64           `json:"uptimeSec"`
	BrokerConnected bool            `json:"brokerConnected"`
	Player          playback.Status `json:"player"`
	Tasks           TaskCounts      `json:"tasks"`
	AssetCount      int             `json:"assetCount"`
	DatabasePath    string          `json:"databasePath"`
	LockFilePath    string          `json:"lockFilePath"`
}

// TaskListResponse wraps a collection of tasks for API responses.
type TaskListResponse struct {
	Tasks []Task `json:"tasks"`
}

// AssetListResponse wraps the media catalog for API responses.
type AssetListResponse struct {
	Assets []Asset `json:"assets"`
}

// HealthResponse is the liveness payload served at /api/health.
type HealthResponse struct {
	Status string     `json:"status"`
	Tasks  TaskCounts `json:"tasks"`
}
