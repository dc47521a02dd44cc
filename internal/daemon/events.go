package daemon

import (
	"context"
	"fmt"
	"time"

	"kiosk/internal/command"
	"kiosk/internal/logging"
	"kiosk/internal/playback"
	"kiosk/internal/store"
)

const eventTimeout = 10 * time.Second

// eventContext bounds pipeline event handling. Events arrive on worker
// goroutines and may fire mid-shutdown, so the context is detached from the
// run context rather than canceled with it.
func eventContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), eventTimeout)
}

// TaskCompleted feeds the verified assets into the rotation and delivers
// the terminal ack.
func (d *Daemon) TaskCompleted(task *store.Task, assets []*store.Asset) {
	ctx, cancel := eventContext()
	defer cancel()

	for _, asset := range assets {
		item := playback.Item{AssetID: asset.ID, Path: asset.Path, Title: asset.Title}
		if err := d.scheduler.Enqueue(ctx, item); err != nil {
			d.logger.Warn("enqueue completed asset",
				logging.String(logging.FieldAssetID, asset.ID),
				logging.Error(err))
		}
	}
	d.finishTask(ctx, task)
}

// TaskFailed records the fault for the next state report and delivers the
// terminal nack.
func (d *Daemon) TaskFailed(task *store.Task, err error) {
	ctx, cancel := eventContext()
	defer cancel()

	d.errlog.Record("distribute", fmt.Sprintf("task %s failed: %v", task.ID, err))
	d.finishTask(ctx, task)
}

// TaskExpired records the expiry and delivers the terminal nack.
func (d *Daemon) TaskExpired(task *store.Task) {
	ctx, cancel := eventContext()
	defer cancel()

	d.errlog.Record("distribute", fmt.Sprintf("task %s expired before completion", task.ID))
	d.finishTask(ctx, task)
}

// finishTask publishes the terminal ack when one is owed, then archives the
// task so reports and redelivery stop carrying it. With the broker down the
// task stays unarchived and the next Start retries delivery.
func (d *Daemon) finishTask(ctx context.Context, task *store.Task) {
	if task.CorrelationID != "" {
		if err := d.channel.PublishAck(terminalAck(task)); err != nil {
			d.logger.Debug("terminal ack not delivered",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(err))
			return
		}
	}
	if err := d.st.Archive(ctx, task.ID); err != nil {
		d.logger.Warn("archive task",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}
}

// redeliverAcks retries terminal acks that never reached the broker before
// the last shutdown.
func (d *Daemon) redeliverAcks(ctx context.Context) {
	tasks, err := d.st.UnarchivedTerminal(ctx)
	if err != nil {
		d.logger.Warn("list unacknowledged tasks", logging.Error(err))
		return
	}
	for _, task := range tasks {
		d.finishTask(ctx, task)
	}
}

// terminalAck renders a finished task as its acknowledgment payload.
func terminalAck(task *store.Task) command.Ack {
	ack := command.Ack{
		CorrelationID: task.CorrelationID,
		Cmd:           string(command.Distribute),
		TaskID:        task.ID,
	}
	switch task.Status {
	case store.StatusCompleted:
		ack.Status = command.AckOK
		ack.Path = task.FinalPath
	case store.StatusExpired:
		ack.Status = command.AckError
		ack.Detail = "expired before completion"
	default:
		ack.Status = command.AckError
		ack.Detail = task.ErrorMessage
	}
	return ack
}
