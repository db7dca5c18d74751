package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"architect-studio/common"
	"architect-studio/workflow"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := Open(postgres.New(postgres.Config{Conn: sqlDB}), false)
	require.NoError(t, err)
	return db, mock
}

var (
	updateModels       = regexp.QuoteMeta(`UPDATE "models" SET`)
	updatePlanning     = regexp.QuoteMeta(`UPDATE "planning_analyses" SET`)
	updateSubscription = regexp.QuoteMeta(`UPDATE "user_subscriptions" SET`)
	insertSubscription = regexp.QuoteMeta(`INSERT INTO user_subscriptions`)
)

func TestAdvanceModel(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("applies when status matches", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updateModels + `.*WHERE id = \$\d+ AND status = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := db.AdvanceModel(ctx, id, workflow.ModelUploaded, workflow.ModelGeneratingIsometric, nil)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("precondition failed when another writer won", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updateModels).WillReturnResult(sqlmock.NewResult(0, 0))

		err := db.AdvanceModel(ctx, id, workflow.ModelUploaded, workflow.ModelGeneratingIsometric, nil)
		assert.ErrorIs(t, err, workflow.ErrPreconditionFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("illegal transition never reaches the store", func(t *testing.T) {
		db, mock := newMockDB(t)

		err := db.AdvanceModel(ctx, id, workflow.ModelUploaded, workflow.ModelCompleted, nil)
		assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClaimRetexture(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("claims an unused completed model and drops any earlier task", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updateModels + `.*"retexture_task_id"=\$\d+.*retexture_used = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, db.ClaimRetexture(ctx, id, "oak floors"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses once spent", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updateModels).WillReturnResult(sqlmock.NewResult(0, 0))

		err := db.ClaimRetexture(ctx, id, "oak floors")
		assert.ErrorIs(t, err, workflow.ErrPreconditionFailed)
	})
}

func TestMarkRetextureUsed(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(updateModels + `.*"retexture_used"=\$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, db.MarkRetextureUsed(context.Background(), uuid.New(), "task-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetMeshTask(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	db, mock := newMockDB(t)
	mock.ExpectExec(updateModels + `.*"meshy_task_id"=\$\d+.*WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateModels).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.SetMeshTask(ctx, id, "task-1"))
	assert.ErrorIs(t, db.SetMeshTask(ctx, id, "task-2"), workflow.ErrPreconditionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireModel(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("provider stages require a missing task id", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updateModels + `.*WHERE id = \$\d+ AND status = \$\d+ AND meshy_task_id = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(updateModels + `.*WHERE id = \$\d+ AND status = \$\d+ AND retexture_task_id = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, db.ExpireModel(ctx, id, workflow.ModelGenerating3D, workflow.ModelFailed, "timed out"))
		err := db.ExpireModel(ctx, id, workflow.ModelRetexturing, workflow.ModelCompleted, "timed out")
		assert.ErrorIs(t, err, workflow.ErrPreconditionFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("isometric has no task guard", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updateModels + `.*WHERE id = \$\d+ AND status = \$\d+$`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, db.ExpireModel(ctx, id, workflow.ModelGeneratingIsometric, workflow.ModelFailed, "timed out"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("illegal transitions never reach the database", func(t *testing.T) {
		db, mock := newMockDB(t)
		err := db.ExpireModel(ctx, id, workflow.ModelRetexturing, workflow.ModelFailed, "timed out")
		assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSelectOptionTier(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("guards on mode and status", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updatePlanning + `.*WHERE id = \$\d+ AND status = \$\d+ AND workflow_mode = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, db.SelectOptionTier(ctx, id, "premium"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no options ready", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(updatePlanning).WillReturnResult(sqlmock.NewResult(0, 0))

		err := db.SelectOptionTier(ctx, id, "premium")
		assert.ErrorIs(t, err, workflow.ErrPreconditionFailed)
	})
}

func TestAdvancePlanning(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(updatePlanning).WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.AdvancePlanning(context.Background(), uuid.New(), workflow.PlanningPending, workflow.PlanningAnalyzing, nil)
	assert.ErrorIs(t, err, workflow.ErrPreconditionFailed)

	err = db.AdvancePlanning(context.Background(), uuid.New(), workflow.PlanningCompleted, workflow.PlanningAnalyzing, nil)
	assert.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeGeneration(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("increments while allowance remains", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(insertSubscription + `.*ON CONFLICT \(user_id\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(updateSubscription + `.*current_period_end < \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(updateSubscription + `.*generations_used \+ 1.*generations_used < generations_limit`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, db.ConsumeGeneration(ctx, userID, 3))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("quota exceeded when nothing matched", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(insertSubscription).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(updateSubscription).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(updateSubscription).WillReturnResult(sqlmock.NewResult(0, 0))

		err := db.ConsumeGeneration(ctx, userID, 3)
		assert.ErrorIs(t, err, common.ErrQuotaExceeded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRefundGeneration(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(updateSubscription + `.*generations_used - 1.*generations_used > 0`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, db.RefundGeneration(context.Background(), uuid.New()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlanningNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "planning_analyses" WHERE id = $1 AND user_id = $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := db.GetPlanning(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingPeriod(t *testing.T) {
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC), BillingPeriod(start))
}
