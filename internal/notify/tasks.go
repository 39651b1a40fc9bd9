package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/obs"
)

// TypeEventEmail is the asynq task type carrying one domain event to email.
const TypeEventEmail = "email:event"

// Enqueuer is the subset of *asynq.Client used to publish tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewEventEmailTask wraps event in an email task.
func NewEventEmailTask(event events.Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return asynq.NewTask(TypeEventEmail, payload), nil
}

// QueueNotifier hands events to the worker through asynq instead of sending inline.
type QueueNotifier struct {
	Client       Enqueuer
	Queue        string
	MaxRetry     int
	Timeout      time.Duration
	TopicToggles map[string]bool
}

// Notify implements events.Notifier. The event id doubles as task id so an
// event is enqueued at most once.
func (q QueueNotifier) Notify(ctx context.Context, event events.Event) error {
	if q.Client == nil || !topicEnabled(q.TopicToggles, event.Topic) {
		return nil
	}
	task, err := NewEventEmailTask(event)
	if err != nil {
		obs.IncEmailDispatch("queued", "invalid")
		return err
	}
	opts := []asynq.Option{asynq.TaskID(event.ID.String())}
	if q.Queue != "" {
		opts = append(opts, asynq.Queue(q.Queue))
	}
	if q.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(q.MaxRetry))
	}
	if q.Timeout > 0 {
		opts = append(opts, asynq.Timeout(q.Timeout))
	}
	if _, err := q.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			obs.IncEmailDispatch("queued", "duplicate")
			return nil
		}
		obs.IncEmailDispatch("queued", "error")
		return fmt.Errorf("enqueue email: %w", err)
	}
	obs.IncEmailDispatch("queued", "ok")
	return nil
}

// EmailWorker processes email tasks on the asynq server.
type EmailWorker struct {
	Notifier EmailNotifier
}

// ProcessTask implements asynq.Handler. Undecodable payloads are not retried.
func (w EmailWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var event events.Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("decode email task: %v: %w", err, asynq.SkipRetry)
	}
	n := w.Notifier
	if n.Mode == "" {
		n.Mode = "worker"
	}
	return n.Notify(ctx, event)
}

// Register mounts the worker's handlers on mux.
func (w EmailWorker) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeEventEmail, w)
}
