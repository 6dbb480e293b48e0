// Package main seeds demo projects and statuses into the Postgres store.
//
// Seeding is idempotent: projects that already exist are left untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/config"
	"fabtrack.io/tracker/internal/domain"
	"fabtrack.io/tracker/internal/infrastructure"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
	"fabtrack.io/tracker/internal/pkg/logger"
	"fabtrack.io/tracker/internal/repository"
	"fabtrack.io/tracker/internal/repository/postgres"
	"fabtrack.io/tracker/internal/service"
	"fabtrack.io/tracker/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Store.Driver != config.StorePostgres {
		return fmt.Errorf("seeding needs store.driver=%s, got %q", config.StorePostgres, cfg.Store.Driver)
	}
	policy, err := service.LoadPolicy(cfg.Status.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	ctx := context.Background()
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db.Pool); err != nil {
		return err
	}

	logger.Info("Starting data seeding...")
	created, err := seed(ctx, postgres.NewStore(db.Pool), policy)
	if err != nil {
		return err
	}
	logger.Info("Data seeding completed successfully", zap.Int("projects_created", created))
	return nil
}

var seedActor = domain.Identity{UserID: "seed", Username: "seed", Role: domain.RoleAdmin}

type demoProject struct {
	ID      string
	Name    string
	Updates []usecase.BatchItem
}

func demoProjects() []demoProject {
	return []demoProject{
		{ID: "demo-riverside", Name: "Riverside Tower"},
		{
			ID: "demo-harbor", Name: "Harbor Warehouse",
			Updates: []usecase.BatchItem{
				{Category: domain.CategoryOrder, Value: "Ordered - (M.S)"},
			},
		},
		{
			ID: "demo-canyon", Name: "Canyon Bridge",
			Updates: []usecase.BatchItem{
				{Category: domain.CategoryOrder, Value: "Ordered - (L.S)"},
				{Category: domain.CategoryPickup, Value: "Picked (W.H)"},
			},
		},
		{
			ID: "demo-summit", Name: "Summit Plaza",
			Updates: []usecase.BatchItem{
				{Category: domain.CategoryOrder, Value: "Ordered - (O.S)"},
				{Category: domain.CategoryPickup, Value: "Picked (A.P)"},
				{Category: domain.CategoryDelivery, Proposal: service.Proposal{
					Primary: "Delivered",
					Delivery: &domain.DeliveryDetails{
						Time: "2026-03-02T10:00:00Z", Address: "1 Summit Way",
						PurchaseOrder: "PO-1042", DeliveredBy: "Northline Freight",
					},
				}},
				{Category: domain.CategoryCheck, Value: "(C.B)"},
			},
		},
	}
}

type noopBroadcaster struct{}

func (noopBroadcaster) PublishStatusUpdate(domain.StatusUpdatedData) {}
func (noopBroadcaster) PublishEntityUpdate(domain.ProjectUpdatedData) {}
func (noopBroadcaster) PublishEntityCreated(domain.EntityRefData) {}

// seed creates the demo projects that do not exist yet and applies their
// updates through the status use case, so every value is validated.
func seed(ctx context.Context, store *repository.Store, policy *service.Policy) (int, error) {
	projects := usecase.NewProjectUseCase(store.Projects, store.Statuses, noopBroadcaster{})
	status := usecase.NewUpdateStatusUseCase(store.Projects, store.Statuses,
		service.NewTransitionValidator(policy.Vocabulary), policy, noopBroadcaster{})

	created := 0
	for _, demo := range demoProjects() {
		_, err := projects.Create(ctx, usecase.CreateProjectInput{ID: demo.ID, Name: demo.Name, Actor: seedActor})
		if errors.Is(err, apperrors.ErrConflict) {
			logger.Info("Project already seeded", zap.String("project_id", demo.ID))
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create %s: %w", demo.ID, err)
		}
		created++

		if len(demo.Updates) == 0 {
			continue
		}
		items := make([]usecase.BatchItem, len(demo.Updates))
		for i, item := range demo.Updates {
			item.ProjectID = demo.ID
			item.Reason = "seed"
			items[i] = item
		}
		if _, err := status.ExecuteBatch(ctx, seedActor, items); err != nil {
			return created, fmt.Errorf("seed statuses of %s: %w", demo.ID, err)
		}
	}
	return created, nil
}
