package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"newsletter-backend/email"
	"newsletter-backend/metrics"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

// ExecutionOutcome reports what one TryExecuteTask call did.
type ExecutionOutcome int

const (
	TaskCompleted ExecutionOutcome = iota
	EmptyQueue
)

func (o ExecutionOutcome) String() string {
	switch o {
	case TaskCompleted:
		return "task_completed"
	case EmptyQueue:
		return "empty_queue"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Config struct {
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	EmptyQueueWait time.Duration
	ErrorWait      time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		BackoffBase:    time.Second,
		BackoffMax:     time.Hour,
		EmptyQueueWait: 10 * time.Second,
		ErrorWait:      time.Second,
	}
}

type Worker struct {
	queue  Queue
	sender email.Sender
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func NewWorker(queue Queue, sender email.Sender, cfg Config, log *zap.Logger) *Worker {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		sender: sender,
		cfg:    cfg,
		log:    log.Named("delivery"),
		now:    time.Now,
	}
}

// Run executes tasks until ctx is cancelled. Failed iterations are logged and
// retried after ErrorWait; an empty queue is polled again after EmptyQueueWait.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("delivery worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info("delivery worker stopped")
			return nil
		}

		outcome, err := w.TryExecuteTask(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() == nil {
				w.log.Error("delivery iteration failed", zap.Error(err))
			}
			wait = w.cfg.ErrorWait
		case outcome == EmptyQueue:
			wait = w.cfg.EmptyQueueWait
		}

		if wait > 0 {
			if err := sleepWithContext(ctx, wait); err != nil {
				w.log.Info("delivery worker stopped")
				return nil
			}
		}
	}
}

// TryExecuteTask claims at most one due task and settles it: deleted when the
// send succeeds, rescheduled on failure, or moved to the failure table once the
// retry budget is spent. An error means the claim was released untouched.
func (w *Worker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	claim, err := w.queue.Dequeue(ctx)
	if err != nil {
		return TaskCompleted, err
	}
	if claim == nil {
		return EmptyQueue, nil
	}
	defer claim.Release()

	task := claim.Task()
	issue := claim.Issue()
	log := w.log.With(
		zap.String("issue_id", task.NewsletterIssueId),
		zap.String("subscriber_email", task.SubscriberEmail),
		zap.Int("n_retries", task.NRetries))

	if err := validate.Var(task.SubscriberEmail, "required,email"); err != nil {
		log.Error("skipping a subscriber with an invalid stored email")
		if err := claim.DeadLetter(ctx, "invalid subscriber email: "+err.Error()); err != nil {
			return TaskCompleted, fmt.Errorf("dead-letter invalid subscriber: %w", err)
		}
		metrics.DeliveryTasks.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
		return TaskCompleted, nil
	}

	sendErr := w.sender.Send(ctx, email.Message{
		To:      task.SubscriberEmail,
		Subject: issue.Title,
		HTML:    issue.HtmlContent,
		Text:    issue.TextContent,
	})
	if sendErr == nil {
		if err := claim.Ack(ctx); err != nil {
			return TaskCompleted, fmt.Errorf("delete delivered task: %w", err)
		}
		metrics.DeliveryTasks.WithLabelValues(metrics.OutcomeSent).Inc()
		return TaskCompleted, nil
	}

	if errors.Is(sendErr, context.Canceled) && ctx.Err() != nil {
		return TaskCompleted, sendErr
	}

	if task.NRetries+1 >= w.cfg.MaxRetries {
		log.Error("giving up on newsletter delivery", zap.Error(sendErr))
		if err := claim.DeadLetter(ctx, sendErr.Error()); err != nil {
			return TaskCompleted, fmt.Errorf("dead-letter delivery task: %w", err)
		}
		metrics.DeliveryTasks.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
		return TaskCompleted, nil
	}

	delay := EqualJitter(ExponentialBackoff(w.cfg.BackoffBase, w.cfg.BackoffMax, task.NRetries))
	log.Warn("newsletter delivery failed, rescheduling", zap.Error(sendErr), zap.Duration("retry_in", delay))
	if err := claim.Retry(ctx, w.now().Add(delay)); err != nil {
		return TaskCompleted, fmt.Errorf("reschedule delivery task: %w", err)
	}
	metrics.DeliveryTasks.WithLabelValues(metrics.OutcomeRetried).Inc()
	return TaskCompleted, nil
}
