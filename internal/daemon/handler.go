package daemon

import (
	"context"

	"kiosk/internal/command"
	"kiosk/internal/logging"
	"kiosk/internal/store"
)

// HandleCommand routes one validated command. Mutating commands return an
// ack describing the immediate outcome; distribute acks are provisional,
// with the terminal ack following from the pipeline event. Query publishes
// a full state report instead of an ack.
func (d *Daemon) HandleCommand(ctx context.Context, cmd command.Command) *command.Ack {
	switch cmd.Name {
	case command.Query:
		if err := d.reporter.PublishReport(ctx); err != nil {
			d.logger.Debug("query report publish failed", logging.Error(err))
		}
		return nil
	case command.Play:
		return d.ackFor(cmd, d.scheduler.Play(ctx, ""))
	case command.Pause:
		return d.ackFor(cmd, d.scheduler.Pause(ctx))
	case command.Stop:
		return d.ackFor(cmd, d.scheduler.StopPlayback(ctx))
	case command.SetVolume:
		return d.ackFor(cmd, d.scheduler.SetVolume(ctx, cmd.Volume))
	case command.SetLoop:
		return d.ackFor(cmd, d.scheduler.SetLoop(ctx, cmd.Loop))
	case command.Distribute:
		return d.handleDistribute(ctx, cmd)
	default:
		ack := command.NewErrorAck(cmd, "unsupported command")
		return &ack
	}
}

// handleDistribute accepts the task into the pipeline. A re-delivered id
// acks against the stored task: completed tasks answer with their final
// path immediately, anything still moving acks as accepted.
func (d *Daemon) handleDistribute(ctx context.Context, cmd command.Command) *command.Ack {
	task, created, err := d.manager.Submit(ctx, cmd.Task, cmd.CorrelationID)
	if err != nil {
		ack := command.NewErrorAck(cmd, err.Error())
		return &ack
	}

	ack := command.NewAck(cmd)
	ack.TaskID = task.ID
	if !created {
		ack.Detail = "task already known"
		if task.Status == store.StatusCompleted && task.FinalPath != "" {
			ack.Path = task.FinalPath
		}
	}
	return &ack
}

func (d *Daemon) ackFor(cmd command.Command, err error) *command.Ack {
	if err != nil {
		ack := command.NewErrorAck(cmd, err.Error())
		return &ack
	}
	ack := command.NewAck(cmd)
	return &ack
}
