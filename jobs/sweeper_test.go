package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"architect-studio/db/dbtest"
	"architect-studio/middleware"
	"architect-studio/sections/models"
	"architect-studio/workflow"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const freeLimit = 3

type fixture struct {
	store   *dbtest.Memory
	sweeper *Sweeper
	metrics *middleware.Metrics
	userID  uuid.UUID
	project *models.Project
	old     time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := dbtest.NewMemory()
	metrics := middleware.NewMetrics()
	f := &fixture{
		store:   store,
		metrics: metrics,
		sweeper: NewSweeper(store, metrics, 15*time.Minute),
		userID:  uuid.New(),
		old:     time.Now().Add(-time.Hour),
	}
	f.project = &models.Project{UserID: f.userID, Name: "House"}
	require.NoError(t, store.CreateProject(context.Background(), f.project))
	return f
}

func (f *fixture) model(t *testing.T, m models.Model, stale bool) *models.Model {
	t.Helper()
	m.ProjectID = f.project.ID
	m.OriginalURL = "https://blob.test/plan.png"
	require.NoError(t, f.store.CreateModel(context.Background(), &m))
	if stale {
		f.store.Touch(m.ID, f.old)
	}
	return &m
}

func (f *fixture) planning(t *testing.T, p models.PlanningAnalysis) *models.PlanningAnalysis {
	t.Helper()
	p.UserID = f.userID
	p.PropertyImageURL = "https://blob.test/house.png"
	require.NoError(t, f.store.CreatePlanning(context.Background(), &p))
	f.store.Touch(p.ID, f.old)
	return &p
}

func (f *fixture) consume(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.store.ConsumeGeneration(context.Background(), f.userID, freeLimit))
	}
}

func (f *fixture) used(t *testing.T) int {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), f.userID, freeLimit)
	require.NoError(t, err)
	return sub.GenerationsUsed
}

func TestSweepFailsStaleIsometric(t *testing.T) {
	f := setup(t)
	f.consume(t, 2)
	stale := f.model(t, models.Model{Status: workflow.ModelGeneratingIsometric}, true)
	fresh := f.model(t, models.Model{Status: workflow.ModelGeneratingIsometric}, false)
	polled := f.model(t, models.Model{Status: workflow.ModelGenerating3D, MeshyTaskID: "mesh-task-1"}, true)

	n, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ctx := context.Background()
	got, _ := f.store.GetModel(ctx, stale.ID)
	assert.Equal(t, workflow.ModelFailed, got.Status)
	assert.Equal(t, staleMessage, got.ErrorMessage)

	got, _ = f.store.GetModel(ctx, fresh.ID)
	assert.Equal(t, workflow.ModelGeneratingIsometric, got.Status)
	got, _ = f.store.GetModel(ctx, polled.ID)
	assert.Equal(t, workflow.ModelGenerating3D, got.Status)

	assert.Equal(t, 1, f.used(t))
}

func TestSweepSettlesProviderStagesWithoutTask(t *testing.T) {
	f := setup(t)
	f.consume(t, 3)
	ctx := context.Background()

	orphaned3D := f.model(t, models.Model{Status: workflow.ModelGenerating3D, IsometricURL: "https://blob.test/iso.png"}, true)
	orphanedRetexture := f.model(t, models.Model{Status: workflow.ModelRetexturing, Model3DURL: "https://blob.test/model.glb"}, true)
	running := f.model(t, models.Model{Status: workflow.ModelRetexturing, RetextureTaskID: "retexture-task-1", RetextureUsed: true}, true)

	n, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := f.store.GetModel(ctx, orphaned3D.ID)
	assert.Equal(t, workflow.ModelFailed, got.Status)
	assert.Equal(t, staleMessage, got.ErrorMessage)

	got, _ = f.store.GetModel(ctx, orphanedRetexture.ID)
	assert.Equal(t, workflow.ModelCompleted, got.Status)
	assert.False(t, got.RetextureUsed)

	got, _ = f.store.GetModel(ctx, running.ID)
	assert.Equal(t, workflow.ModelRetexturing, got.Status)

	assert.Equal(t, 1, f.used(t))
}

func TestExpireLosesToSavedTask(t *testing.T) {
	f := setup(t)
	m := f.model(t, models.Model{Status: workflow.ModelGenerating3D}, true)
	require.NoError(t, f.store.SetMeshTask(context.Background(), m.ID, "mesh-task-9"))

	err := f.store.ExpireModel(context.Background(), m.ID, workflow.ModelGenerating3D, workflow.ModelFailed, staleMessage)
	assert.ErrorIs(t, err, workflow.ErrPreconditionFailed)
}

func TestSweepPlanning(t *testing.T) {
	f := setup(t)
	f.consume(t, 1)
	ctx := context.Background()

	analyzing := f.planning(t, models.PlanningAnalysis{WorkflowMode: workflow.ModeModify, Status: workflow.PlanningAnalyzing})
	visualizing := f.planning(t, models.PlanningAnalysis{WorkflowMode: workflow.ModeModify, Status: workflow.PlanningGenerating, SelectedModification: "loft"})
	tier := f.planning(t, models.PlanningAnalysis{WorkflowMode: workflow.ModeExtend, Status: workflow.PlanningGenerating, SelectedOptionTier: "basic"})
	done := f.planning(t, models.PlanningAnalysis{WorkflowMode: workflow.ModeModify, Status: workflow.PlanningCompleted})

	n, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	get := func(id uuid.UUID) workflow.PlanningStatus {
		p, err := f.store.GetPlanning(ctx, id, f.userID)
		require.NoError(t, err)
		return p.Status
	}
	assert.Equal(t, workflow.PlanningFailed, get(analyzing.ID))
	assert.Equal(t, workflow.PlanningAwaitingSelection, get(visualizing.ID))
	assert.Equal(t, workflow.PlanningOptionsReady, get(tier.ID))
	assert.Equal(t, workflow.PlanningCompleted, get(done.ID))

	reverted, err := f.store.GetPlanning(ctx, visualizing.ID, f.userID)
	require.NoError(t, err)
	assert.Empty(t, reverted.SelectedModification)
	reverted, err = f.store.GetPlanning(ctx, tier.ID, f.userID)
	require.NoError(t, err)
	assert.Empty(t, reverted.SelectedOptionTier)

	// only the failed analysis gives its generation back
	assert.Equal(t, 0, f.used(t))

	w := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `architect_studio_sweeper_recovered_total{entity="planning"} 3`)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := setup(t)
	f.model(t, models.Model{Status: workflow.ModelGeneratingIsometric}, true)

	n, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := setup(t)
	assert.Error(t, f.sweeper.Start("every now and then"))

	require.NoError(t, f.sweeper.Start(DefaultSchedule))
	f.sweeper.Stop()
}
