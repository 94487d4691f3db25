package repository

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"finsys/internal/database"
	"finsys/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func TestPayoutRequestRepository_CreateAndFind(t *testing.T) {
	repo := NewPayoutRequestRepository(newTestDB(t))
	ctx := context.Background()

	req := &models.PayoutRequest{UserID: 7, Amount: 40, Reason: "event prize"}
	require.NoError(t, repo.Create(ctx, req))
	assert.NotZero(t, req.ID)
	assert.Equal(t, models.PayoutStatusPending, req.Status)

	t.Run("FindPendingByUser", func(t *testing.T) {
		found, err := repo.FindPendingByUser(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, req.ID, found.ID)

		none, err := repo.FindPendingByUser(ctx, 8)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("Duplicate pending is rejected by the index", func(t *testing.T) {
		err := repo.Create(ctx, &models.PayoutRequest{UserID: 7, Amount: 5, Reason: "again"})
		require.Error(t, err)
		assert.True(t, models.IsCode(err, models.CodeDuplicatePending))
	})

	t.Run("GetByID not found", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 9999)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}

func TestPayoutRequestRepository_UpdateStatus(t *testing.T) {
	repo := NewPayoutRequestRepository(newTestDB(t))
	ctx := context.Background()

	req := &models.PayoutRequest{UserID: 1, Amount: 10, Reason: "r"}
	require.NoError(t, repo.Create(ctx, req))

	require.NoError(t, repo.UpdateStatus(ctx, req.ID, StatusUpdate{
		Status:     models.PayoutStatusApproved,
		ApproverID: i64Ptr(99),
	}))

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusApproved, got.Status)
	require.NotNil(t, got.ApproverID)
	assert.Equal(t, int64(99), *got.ApproverID)

	err = repo.UpdateStatus(ctx, req.ID, StatusUpdate{Status: models.PayoutStatusRejected, RejectionReason: strPtr("late")})
	assert.True(t, models.IsCode(err, models.CodeAlreadyApproved))

	err = repo.UpdateStatus(ctx, req.ID, StatusUpdate{Status: models.PayoutStatusPending})
	assert.True(t, models.IsCode(err, models.CodeValidation))

	err = repo.UpdateStatus(ctx, 4242, StatusUpdate{Status: models.PayoutStatusRejected})
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	// A settled request frees the pending slot for the same user.
	require.NoError(t, repo.Create(ctx, &models.PayoutRequest{UserID: 1, Amount: 3, Reason: "next"}))
}

func TestPayoutRequestRepository_Transition(t *testing.T) {
	repo := NewPayoutRequestRepository(newTestDB(t))
	ctx := context.Background()

	req := &models.PayoutRequest{UserID: 3, Amount: 20, Reason: "r"}
	require.NoError(t, repo.Create(ctx, req))

	t.Run("callback error leaves row pending", func(t *testing.T) {
		_, err := repo.Transition(ctx, req.ID, func(context.Context, *models.PayoutRequest) (*StatusUpdate, error) {
			return nil, models.NewTransportError(assert.AnError)
		})
		assert.True(t, models.IsCode(err, models.CodeTransportFailure))

		got, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusPending, got.Status)
	})

	t.Run("concurrent approvals run the callback's side effect once", func(t *testing.T) {
		var mu sync.Mutex
		paid := 0
		fn := func(_ context.Context, r *models.PayoutRequest) (*StatusUpdate, error) {
			if r.Status == models.PayoutStatusApproved {
				return nil, models.NewAlreadyApprovedError(r.ID)
			}
			mu.Lock()
			paid++
			mu.Unlock()
			return &StatusUpdate{Status: models.PayoutStatusApproved, ApproverID: i64Ptr(5)}, nil
		}

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.Transition(ctx, req.ID, fn)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, paid)
		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, models.IsCode(err, models.CodeAlreadyApproved))
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("missing request", func(t *testing.T) {
		_, err := repo.Transition(ctx, 777, func(context.Context, *models.PayoutRequest) (*StatusUpdate, error) {
			t.Fatal("callback must not run for a missing row")
			return nil, nil
		})
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}

func TestPayoutRequestRepository_Listing(t *testing.T) {
	db := newTestDB(t)
	repo := NewPayoutRequestRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-48 * time.Hour)
	rows := []models.PayoutRequest{
		{UserID: 1, Amount: 1, Reason: "a", Status: models.PayoutStatusApproved, CreatedAt: base.Add(3 * time.Hour)},
		{UserID: 2, Amount: 2, Reason: "b", Status: models.PayoutStatusPending, CreatedAt: base},
		{UserID: 1, Amount: 3, Reason: "c", Status: models.PayoutStatusRejected, CreatedAt: base.Add(5 * time.Hour)},
		{UserID: 3, Amount: 4, Reason: "d", Status: models.PayoutStatusPending, CreatedAt: time.Now()},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	all, err := repo.ListAll(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []int64{3, 2, 1, 1}, []int64{all[0].UserID, all[1].UserID, all[2].UserID, all[3].UserID})
	assert.Equal(t, int64(3), all[2].Amount)

	page, err := repo.ListAll(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].UserID)

	mine, err := repo.ListByUser(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, int64(3), mine[0].Amount)

	stale, err := repo.ListStalePending(ctx, time.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, int64(2), stale[0].UserID)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		offset, limit       int
		wantOffset, wantLim int
	}{
		{-5, 0, 0, DefaultListLimit},
		{10, 20, 10, 20},
		{0, 1000, 0, MaxListLimit},
	}
	for _, tt := range tests {
		o, l := normalizePage(tt.offset, tt.limit)
		assert.Equal(t, tt.wantOffset, o)
		assert.Equal(t, tt.wantLim, l)
	}
}

func TestUpdateStatus_PostgresGuard(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = sqlDB.Close() }()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo := NewPayoutRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payout_requests" SET`) + `.*` + regexp.QuoteMeta(`WHERE (id = $5 AND status = $6)`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id","status" FROM "payout_requests" WHERE "payout_requests"."id" = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(12, "rejected"))

	err = repo.UpdateStatus(context.Background(), 12, StatusUpdate{Status: models.PayoutStatusApproved})
	assert.True(t, models.IsCode(err, models.CodeRequestNotPending))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.False(t, isUniqueViolation(assert.AnError))
}
