package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-intake/core"
)

// ErrUnknownJob marks a message whose job ID has no handler. The worker
// dead-letters these rather than retrying.
var ErrUnknownJob = errors.New("jobs: unknown job id")

type WorkerConfig struct {
	Dequeuer   core.JobDequeuer
	Dispatcher *Dispatcher
	Hook       core.JobWorkerHook
	Logger     core.Logger
	RetryDelay time.Duration
	Now        func() time.Time
}

// Worker drains the job queue one delivery at a time. Failed handlers
// nack with requeue; messages with no handler are dead-lettered.
type Worker struct {
	dequeuer   core.JobDequeuer
	dispatcher *Dispatcher
	hook       core.JobWorkerHook
	logger     core.Logger
	retryDelay time.Duration
	now        func() time.Time
}

func NewWorker(cfg WorkerConfig) *Worker {
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{
		dequeuer:   cfg.Dequeuer,
		dispatcher: cfg.Dispatcher,
		hook:       cfg.Hook,
		logger:     glog.Ensure(cfg.Logger),
		retryDelay: retryDelay,
		now:        now,
	}
}

// Run processes deliveries until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.dispatcher == nil {
		return fmt.Errorf("jobs: worker is not configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// RunOnce dequeues and handles a single delivery. Handler failures are
// absorbed into the nack path; only transport errors are returned.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.dispatcher == nil {
		return fmt.Errorf("jobs: worker is not configured")
	}

	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	msg := delivery.Message()

	started := w.now()
	w.emitStart(ctx, msg, started)

	handleErr := w.dispatcher.Handle(ctx, msg)
	duration := w.now().Sub(started)

	if handleErr == nil {
		if err := delivery.Ack(ctx); err != nil {
			return err
		}
		w.emitSuccess(ctx, msg, started, duration)
		return nil
	}

	opts := core.JobNackOptions{
		Delay:   w.retryDelay,
		Requeue: true,
		Reason:  handleErr.Error(),
	}
	if errors.Is(handleErr, ErrUnknownJob) {
		opts.Requeue = false
		opts.DeadLetter = true
		opts.Delay = 0
	}

	jobID := ""
	if msg != nil {
		jobID = msg.JobID
	}
	w.logger.Error("job handler failed",
		"job_id", jobID,
		"dead_letter", opts.DeadLetter,
		"error", handleErr,
	)
	if err := delivery.Nack(ctx, opts); err != nil {
		return err
	}
	w.emitFailure(ctx, msg, started, duration, handleErr)
	return nil
}

func (w *Worker) emitStart(ctx context.Context, msg *core.JobExecutionMessage, started time.Time) {
	if w.hook == nil {
		return
	}
	w.hook.OnStart(ctx, core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: started})
}

func (w *Worker) emitSuccess(ctx context.Context, msg *core.JobExecutionMessage, started time.Time, duration time.Duration) {
	if w.hook == nil {
		return
	}
	w.hook.OnSuccess(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   1,
		StartedAt: started,
		Duration:  duration,
	})
}

func (w *Worker) emitFailure(ctx context.Context, msg *core.JobExecutionMessage, started time.Time, duration time.Duration, err error) {
	if w.hook == nil {
		return
	}
	w.hook.OnFailure(ctx, core.JobWorkerEvent{
		Message:   msg,
		Attempt:   1,
		StartedAt: started,
		Duration:  duration,
		Err:       err,
	})
}
