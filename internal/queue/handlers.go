package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/promptlib/internal/logging"
)

// HandlersRegistry maps task types to handlers. Every task runs with a
// task-scoped logger in its context and is logged on completion.
type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry(logger *slog.Logger) *HandlersRegistry {
	mux := asynq.NewServeMux()
	mux.Use(logTasks(logger))
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func logTasks(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			log := logger.With("task_type", t.Type())
			if id, ok := asynq.GetTaskID(ctx); ok {
				log = log.With("task_id", id)
			}

			err := next.ProcessTask(logging.WithLogger(ctx, log), t)
			if err != nil {
				log.Warn("task failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
				return err
			}
			log.Info("task done", "duration_ms", time.Since(start).Milliseconds())
			return nil
		})
	}
}
