// Package jobs runs background maintenance next to the HTTP server.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"architect-studio/middleware"
	"architect-studio/sections/models"
	"architect-studio/workflow"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every five minutes
const DefaultSchedule = "@every 5m"

const staleMessage = "generation timed out"

// Store is the slice of the store the sweeper needs
type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListStaleModels(ctx context.Context, statuses []workflow.ModelStatus, cutoff time.Time) ([]models.Model, error)
	ListStalePlanning(ctx context.Context, statuses []workflow.PlanningStatus, cutoff time.Time) ([]models.PlanningAnalysis, error)
	ExpireModel(ctx context.Context, id uuid.UUID, from, to workflow.ModelStatus, message string) error
	AdvancePlanning(ctx context.Context, id uuid.UUID, from, to workflow.PlanningStatus, fields map[string]any) error
	RefundGeneration(ctx context.Context, userID uuid.UUID) error
}

// Sweeper settles generations whose request died before it could record an
// outcome. Provider stages are only orphaned while no task id was saved;
// once a task exists, status polls settle it.
type Sweeper struct {
	store      Store
	metrics    *middleware.Metrics
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *slog.Logger

	Now func() time.Time
}

func NewSweeper(store Store, metrics *middleware.Metrics, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		metrics:    metrics,
		staleAfter: staleAfter,
		cron:       cron.New(),
		logger:     slog.With("job", "Sweeper"),
		Now:        time.Now,
	}
}

// Start schedules the sweep. Overlapping runs are skipped.
func (s *Sweeper) Start(schedule string) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Sweep failed", "error", err)
		}
	}))
	if _, err := s.cron.AddJob(schedule, job); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("Sweeper started", "schedule", schedule, "stale_after", s.staleAfter)
	return nil
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep settles every stale row once and reports how many it moved
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.staleAfter)

	modelCount, modelErr := s.sweepModels(ctx, cutoff)
	planningCount, planningErr := s.sweepPlanning(ctx, cutoff)

	s.metrics.RecordSweep("model", modelCount)
	s.metrics.RecordSweep("planning", planningCount)
	if n := modelCount + planningCount; n > 0 {
		s.logger.Info("Swept stale generations", "models", modelCount, "planning", planningCount)
	}
	return modelCount + planningCount, errors.Join(modelErr, planningErr)
}

func (s *Sweeper) sweepModels(ctx context.Context, cutoff time.Time) (int, error) {
	statuses := []workflow.ModelStatus{workflow.ModelGeneratingIsometric, workflow.ModelGenerating3D, workflow.ModelRetexturing}
	stale, err := s.store.ListStaleModels(ctx, statuses, cutoff)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range stale {
		if hasProviderTask(&m) {
			continue
		}
		to := workflow.ModelFailed
		if m.Status == workflow.ModelRetexturing {
			// the retexture allowance was never spent
			to = workflow.ModelCompleted
		}
		err := s.store.ExpireModel(ctx, m.ID, m.Status, to, staleMessage)
		if err != nil {
			// the request finished after all
			if !errors.Is(err, workflow.ErrPreconditionFailed) {
				s.logger.Warn("Failed to fail stale model", "model_id", m.ID, "error", err)
			}
			continue
		}
		n++
		project, err := s.store.GetProject(ctx, m.ProjectID)
		if err != nil {
			s.logger.Warn("Failed to refund stale model", "model_id", m.ID, "error", err)
			continue
		}
		s.refund(ctx, project.UserID)
	}
	return n, nil
}

func hasProviderTask(m *models.Model) bool {
	switch m.Status {
	case workflow.ModelGenerating3D:
		return m.MeshyTaskID != ""
	case workflow.ModelRetexturing:
		return m.RetextureTaskID != ""
	}
	return false
}

func (s *Sweeper) sweepPlanning(ctx context.Context, cutoff time.Time) (int, error) {
	statuses := []workflow.PlanningStatus{workflow.PlanningAnalyzing, workflow.PlanningSearching, workflow.PlanningGenerating}
	stale, err := s.store.ListStalePlanning(ctx, statuses, cutoff)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range stale {
		to, refund := sweepTarget(&p)
		fields := map[string]any{"error_message": staleMessage}
		switch to {
		case workflow.PlanningAwaitingSelection:
			fields["selected_modification"] = ""
		case workflow.PlanningOptionsReady:
			fields["selected_option_tier"] = ""
		}
		err := s.store.AdvancePlanning(ctx, p.ID, p.Status, to, fields)
		if err != nil {
			if !errors.Is(err, workflow.ErrPreconditionFailed) {
				s.logger.Warn("Failed to settle stale planning analysis", "planning_id", p.ID, "error", err)
			}
			continue
		}
		n++
		if refund {
			s.refund(ctx, p.UserID)
		}
	}
	return n, nil
}

// sweepTarget picks where a stuck analysis goes. A visualisation in flight
// returns to its selection so the user can pick again; anything else failed
// the analysis itself and gives the generation back.
func sweepTarget(p *models.PlanningAnalysis) (workflow.PlanningStatus, bool) {
	if p.Status == workflow.PlanningGenerating {
		switch {
		case p.SelectedModification != "":
			return workflow.PlanningAwaitingSelection, false
		case p.SelectedOptionTier != "":
			return workflow.PlanningOptionsReady, false
		}
	}
	return workflow.PlanningFailed, true
}

func (s *Sweeper) refund(ctx context.Context, userID uuid.UUID) {
	if err := s.store.RefundGeneration(ctx, userID); err != nil {
		s.logger.Warn("Failed to refund generation", "user_id", userID, "error", err)
	}
}
