/*
Package jobqueue runs large notification fan-outs (an assignment posted to a
whole course, a live session announced to every enrolled student) as River
jobs on the PostgreSQL database the store already uses. Each recipient is
its own job, so one failing recipient is retried on its own and never holds
up the rest.
*/
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/pelusa-v/pelusa-live/internal/notification"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

const (
	QueueNotifications = "notifications"

	defaultWorkers     = 10
	defaultMaxAttempts = 5
	jobTimeout         = 30 * time.Second
)

// NotifyArgs is one recipient of a fan-out.
type NotifyArgs struct {
	notification.Request
}

// Kind returns the job kind for River
func (NotifyArgs) Kind() string { return "notification_fanout" }

func (NotifyArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotifications, MaxAttempts: defaultMaxAttempts}
}

// Creator is satisfied by *notification.Service.
type Creator interface {
	Create(ctx context.Context, req notification.Request) (*store.Notification, error)
}

// NotifyWorker creates and pushes one notification.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	creator Creator
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	_, err := w.creator.Create(ctx, job.Args.Request)
	if errors.Is(err, notification.ErrInvalidRequest) {
		// retrying cannot fix a malformed request
		return river.JobCancel(err)
	}
	return err
}

func (w *NotifyWorker) Timeout(*river.Job[NotifyArgs]) time.Duration { return jobTimeout }

// Config tunes the queue.
type Config struct {
	Workers int
}

// Queue manages the River client.
type Queue struct {
	client *river.Client[pgx.Tx]
	logger *slog.Logger
}

// Migrate applies River's own schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("migrate river: %w", err)
	}
	return nil
}

// New creates a queue whose workers call creator.
func New(pool *pgxpool.Pool, creator Creator, cfg Config, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	workers := river.NewWorkers()
	river.AddWorker(workers, &NotifyWorker{creator: creator})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueNotifications: {MaxWorkers: cfg.Workers},
		},
		Workers: workers,
		Logger:  logger.With("component", "jobqueue"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	return &Queue{client: client, logger: logger.With("component", "jobqueue")}, nil
}

func (q *Queue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// EnqueueNotifications inserts one job per request in a single round trip.
func (q *Queue) EnqueueNotifications(ctx context.Context, reqs []notification.Request) error {
	params := insertParams(reqs)
	if len(params) == 0 {
		return nil
	}
	if _, err := q.client.InsertMany(ctx, params); err != nil {
		return fmt.Errorf("failed to queue notification fan-out: %w", err)
	}
	q.logger.Info("queued notification fan-out", "count", len(params))
	return nil
}

func insertParams(reqs []notification.Request) []river.InsertManyParams {
	params := make([]river.InsertManyParams, 0, len(reqs))
	for _, r := range reqs {
		params = append(params, river.InsertManyParams{Args: NotifyArgs{Request: r}})
	}
	return params
}
