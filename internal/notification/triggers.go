package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/pkg/worker"
)

// Triggers turns domain events into notifications.
type Triggers struct {
	sender Sender
	// completionRoles receive PROJECT_COMPLETED.
	completionRoles []domain.Role
}

// NewTriggers creates a new trigger set.
func NewTriggers(sender Sender, completionRoles []domain.Role) *Triggers {
	return &Triggers{sender: sender, completionRoles: completionRoles}
}

// ProjectCompleted builds the PROJECT_COMPLETED notification.
func ProjectCompleted(projectID, projectName, actorName string) Params {
	return Params{
		Kind:     KindProjectCompleted,
		Title:    "Project completed",
		Message:  fmt.Sprintf("%s was marked complete by %s", projectName, actorName),
		EntityID: projectID,
	}
}

// OnProjectCompleted notifies the completion roles and the actor's own
// connections.
func (t *Triggers) OnProjectCompleted(ctx context.Context, projectID, projectName string, actor domain.Identity) error {
	params := ProjectCompleted(projectID, projectName, actor.Username)
	if err := t.sender.SendToRoles(ctx, t.completionRoles, params); err != nil {
		logger.Error("failed to send PROJECT_COMPLETED notifications",
			zap.String("project_id", projectID),
			zap.Int("role_count", len(t.completionRoles)),
			zap.Error(err),
		)
		return err
	}
	if actor.UserID == "" {
		return nil
	}
	return t.sender.Send(ctx, actor.UserID, params)
}

// AsyncNotifier runs completion triggers on the General pool so the status
// update returns without waiting for delivery. It serves deployments without
// the job queue.
type AsyncNotifier struct {
	pools    *worker.Pools
	triggers *Triggers
}

// NewAsyncNotifier creates a pool-backed completion notifier.
func NewAsyncNotifier(pools *worker.Pools, triggers *Triggers) *AsyncNotifier {
	return &AsyncNotifier{pools: pools, triggers: triggers}
}

// NotifyProjectCompleted implements usecase.CompletionNotifier.
func (n *AsyncNotifier) NotifyProjectCompleted(_ context.Context, project *domain.Project, actor domain.Identity) error {
	id, name := project.ID, project.Name
	return n.pools.SubmitDetached(func(ctx context.Context) {
		_ = n.triggers.OnProjectCompleted(ctx, id, name, actor)
	})
}
