package store

import (
	"database/sql"
	"errors"
	"time"
)

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id            string
		uri           string
		checksum      sql.NullString
		destName      string
		priority      int
		expireRaw     sql.NullString
		extract       sql.NullInt64
		statusStr     string
		retryCount    int
		nextAttempt   sql.NullString
		errorMessage  sql.NullString
		finalPath     sql.NullString
		correlationID sql.NullString
		archived      sql.NullInt64
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&uri,
		&checksum,
		&destName,
		&priority,
		&expireRaw,
		&extract,
		&statusStr,
		&retryCount,
		&nextAttempt,
		&errorMessage,
		&finalPath,
		&correlationID,
		&archived,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:            id,
		URI:           uri,
		Checksum:      checksum.String,
		DestName:      destName,
		Priority:      priority,
		Status:        Status(statusStr),
		RetryCount:    retryCount,
		ErrorMessage:  errorMessage.String,
		FinalPath:     finalPath.String,
		CorrelationID: correlationID.String,
	}
	if extract.Valid {
		task.Extract = extract.Int64 != 0
	}
	if archived.Valid {
		task.Archived = archived.Int64 != 0
	}

	if expireRaw.Valid {
		if expireAt, err := parseTimeString(expireRaw.String); err == nil {
			task.ExpireAt = &expireAt
		}
	}
	if nextAttempt.Valid {
		if attemptAt, err := parseTimeString(nextAttempt.String); err == nil {
			task.NextAttemptAt = &attemptAt
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	return task, nil
}

func scanAsset(scanner interface{ Scan(dest ...any) error }) (*Asset, error) {
	var (
		id           string
		path         string
		checksum     sql.NullString
		sizeBytes    sql.NullInt64
		title        string
		addedRaw     sql.NullString
		sourceTaskID sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&path,
		&checksum,
		&sizeBytes,
		&title,
		&addedRaw,
		&sourceTaskID,
	); err != nil {
		return nil, err
	}

	asset := &Asset{
		ID:           id,
		Path:         path,
		Checksum:     checksum.String,
		SizeBytes:    sizeBytes.Int64,
		Title:        title,
		SourceTaskID: sourceTaskID.String,
	}
	if added, err := parseTimeString(addedRaw.String); err == nil {
		asset.AddedAt = added
	}
	return asset, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
