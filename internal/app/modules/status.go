package modules

import (
	"context"

	"github.com/riverqueue/river"

	"fabtrack.io/tracker/internal/api/handlers"
	"fabtrack.io/tracker/internal/jobs"
	"fabtrack.io/tracker/internal/notification"
	"fabtrack.io/tracker/internal/service"
	"fabtrack.io/tracker/internal/usecase"
)

// StatusModule owns the project and status update use cases.
type StatusModule struct {
	projects *usecase.ProjectUseCase
	status   *usecase.UpdateStatusUseCase
}

// NewStatusModule wires the use cases. It must run after InitRiver so
// completions go through the job queue when one exists.
func NewStatusModule(infra *Infrastructure, rt *RealtimeModule) *StatusModule {
	var notifier usecase.CompletionNotifier
	if infra.RiverClient != nil {
		notifier = jobs.NewRiverNotifier(infra.RiverClient)
	} else {
		notifier = notification.NewAsyncNotifier(infra.Pools, rt.Triggers())
	}

	store := infra.Store
	validator := service.NewTransitionValidator(infra.Policy.Vocabulary)
	return &StatusModule{
		projects: usecase.NewProjectUseCase(store.Projects, store.Statuses, rt.Hub()),
		status: usecase.NewUpdateStatusUseCase(store.Projects, store.Statuses, validator, infra.Policy, rt.Hub()).
			WithLocker(infra.Locker()).
			WithCompletionNotifier(notifier),
	}
}

// Name implements Module.
func (m *StatusModule) Name() string { return "status" }

// Projects returns the project use case.
func (m *StatusModule) Projects() *usecase.ProjectUseCase { return m.projects }

// Status returns the status update use case.
func (m *StatusModule) Status() *usecase.UpdateStatusUseCase { return m.status }

// ContributeServerDeps implements Module.
func (m *StatusModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Projects = m.projects
	deps.Status = m.status
}

// RegisterWorkers implements Module.
func (m *StatusModule) RegisterWorkers(*river.Workers) {}

// Shutdown implements Module.
func (m *StatusModule) Shutdown(context.Context) error { return nil }
