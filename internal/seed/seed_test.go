package seed

import (
	"testing"

	"finsys/internal/database"
	"finsys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestBuild_RespectsInvariants(t *testing.T) {
	s := NewSeeder(nil, Options{Requests: 40, MaxAmount: 50, Seed: 7})
	reqs := s.Build()
	require.Len(t, reqs, 40)

	users := map[int64]bool{}
	for _, r := range reqs {
		assert.False(t, users[r.UserID], "one request per user")
		users[r.UserID] = true
		assert.Positive(t, r.UserID)
		assert.GreaterOrEqual(t, r.Amount, int64(1))
		assert.LessOrEqual(t, r.Amount, int64(50))
		assert.NotEmpty(t, r.Reason)

		switch r.Status {
		case models.PayoutStatusPending:
			assert.Nil(t, r.ApproverID)
		case models.PayoutStatusApproved:
			assert.NotNil(t, r.ApproverID)
			assert.Nil(t, r.RejectionReason)
		case models.PayoutStatusRejected:
			assert.NotNil(t, r.RejectionReason)
		default:
			t.Fatalf("unexpected status %q", r.Status)
		}
	}
}

func TestBuild_Reproducible(t *testing.T) {
	a := NewSeeder(nil, Options{Requests: 5, Seed: 42}).Build()
	b := NewSeeder(nil, Options{Requests: 5, Seed: 42}).Build()
	for i := range a {
		assert.Equal(t, a[i].UserID, b[i].UserID)
		assert.Equal(t, a[i].Amount, b[i].Amount)
	}
}

func TestRunAndClear(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	s := NewSeeder(db, Options{Requests: 12, Seed: 3})
	reqs, err := s.Run()
	require.NoError(t, err)
	assert.Len(t, reqs, 12)

	var count int64
	require.NoError(t, db.Model(&models.PayoutRequest{}).Count(&count).Error)
	assert.Equal(t, int64(12), count)

	require.NoError(t, s.ClearAll())
	require.NoError(t, db.Model(&models.PayoutRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}
