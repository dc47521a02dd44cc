package api

import (
	"kiosk/internal/distribute"
	"kiosk/internal/store"
)

// FromTask converts a stored task to its API representation.
func FromTask(task *store.Task) Task {
	if task == nil {
		return Task{}
	}
	dto := Task{
		ID:           task.ID,
		URI:          task.URI,
		DestName:     task.DestName,
		Status:       string(task.Status),
		Priority:     task.Priority,
		RetryCount:   task.RetryCount,
		FinalPath:    task.FinalPath,
		ErrorMessage: task.ErrorMessage,
	}
	if task.ExpireAt != nil {
		dto.ExpireAt = task.ExpireAt.UTC().Format(dateTimeFormat)
	}
	if !task.CreatedAt.IsZero() {
		dto.CreatedAt = task.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !task.UpdatedAt.IsZero() {
		dto.UpdatedAt = task.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromTasks converts a slice of stored tasks into API DTOs.
func FromTasks(tasks []*store.Task) []Task {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// FromTaskView converts a pending task plus its live byte progress.
func FromTaskView(view distribute.TaskView) Task {
	dto := FromTask(view.Task)
	dto.BytesFetched = view.BytesFetched
	return dto
}

// FromTaskViews converts a pipeline snapshot into API DTOs.
func FromTaskViews(views []distribute.TaskView) []Task {
	if len(views) == 0 {
		return nil
	}
	out := make([]Task, 0, len(views))
	for _, view := range views {
		out = append(out, FromTaskView(view))
	}
	return out
}

// FromAsset converts a registered asset to its API representation.
func FromAsset(asset *store.Asset) Asset {
	if asset == nil {
		return Asset{}
	}
	dto := Asset{
		ID:        asset.ID,
		Path:      asset.Path,
		Title:     asset.Title,
		SizeBytes: asset.SizeBytes,
		Checksum:  asset.Checksum,
	}
	if !asset.AddedAt.IsZero() {
		dto.AddedAt = asset.AddedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromAssets converts the media catalog into API DTOs.
func FromAssets(assets []*store.Asset) []Asset {
	if len(assets) == 0 {
		return nil
	}
	out := make([]Asset, 0, len(assets))
	for _, asset := range assets {
		out = append(out, FromAsset(asset))
	}
	return out
}

// FromHealth converts task health counts to the API payload.
func FromHealth(health store.HealthSummary) TaskCounts {
	return TaskCounts{
		Total:     health.Total,
		Queued:    health.Queued,
		InFlight:  health.InFlight,
		Completed: health.Completed,
		Failed:    health.Failed,
		Expired:   health.Expired,
	}
}
