// Package jobs defines River Queue job types for async processing.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/pkg/logger"
)

// QueueNotifications is the queue completion notifications run on.
const QueueNotifications = "notifications"

// ProjectCompletedArgs carries what the notification needs, so the worker
// does not read the store.
type ProjectCompletedArgs struct {
	ProjectID   string      `json:"project_id"`
	ProjectName string      `json:"project_name"`
	ActorID     string      `json:"actor_id"`
	ActorName   string      `json:"actor_name"`
	ActorRole   domain.Role `json:"actor_role"`
}

// Kind returns the job kind identifier for project completion.
func (ProjectCompletedArgs) Kind() string { return "project_completed" }

// InsertOpts allows one completion job per project within an hour.
func (ProjectCompletedArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueNotifications,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Hour,
		},
	}
}

// CompletionTrigger is the notification entry point the worker runs.
type CompletionTrigger interface {
	OnProjectCompleted(ctx context.Context, projectID, projectName string, actor domain.Identity) error
}

// ProjectCompletedWorker sends the PROJECT_COMPLETED notification.
type ProjectCompletedWorker struct {
	river.WorkerDefaults[ProjectCompletedArgs]
	triggers CompletionTrigger
}

// NewProjectCompletedWorker creates a new ProjectCompletedWorker.
func NewProjectCompletedWorker(triggers CompletionTrigger) *ProjectCompletedWorker {
	return &ProjectCompletedWorker{triggers: triggers}
}

// Timeout bounds one delivery attempt.
func (w *ProjectCompletedWorker) Timeout(*river.Job[ProjectCompletedArgs]) time.Duration {
	return 30 * time.Second
}

// Work delivers the notification. A failure is retried by River.
func (w *ProjectCompletedWorker) Work(ctx context.Context, job *river.Job[ProjectCompletedArgs]) error {
	if w == nil || w.triggers == nil {
		return fmt.Errorf("project completed worker is not initialized")
	}
	args := job.Args

	logger.Info("Processing project completion",
		zap.String("project_id", args.ProjectID),
		zap.Int64("attempt", int64(job.Attempt)),
	)

	actor := domain.Identity{UserID: args.ActorID, Username: args.ActorName, Role: args.ActorRole}
	if err := w.triggers.OnProjectCompleted(ctx, args.ProjectID, args.ProjectName, actor); err != nil {
		return fmt.Errorf("notify completion of %s: %w", args.ProjectID, err)
	}
	return nil
}

// JobInserter is the part of *river.Client the notifier needs.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverNotifier enqueues a ProjectCompletedArgs job for every completion so
// delivery survives a restart.
type RiverNotifier struct {
	client JobInserter
}

// NewRiverNotifier creates a queue-backed completion notifier.
func NewRiverNotifier(client JobInserter) *RiverNotifier {
	return &RiverNotifier{client: client}
}

// NotifyProjectCompleted implements usecase.CompletionNotifier.
func (n *RiverNotifier) NotifyProjectCompleted(ctx context.Context, project *domain.Project, actor domain.Identity) error {
	res, err := n.client.Insert(ctx, ProjectCompletedArgs{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		ActorID:     actor.UserID,
		ActorName:   actor.Username,
		ActorRole:   actor.Role,
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueue completion job for %s: %w", project.ID, err)
	}
	if res != nil && res.UniqueSkippedAsDuplicate {
		logger.Debug("Completion job already enqueued", zap.String("project_id", project.ID))
	}
	return nil
}
