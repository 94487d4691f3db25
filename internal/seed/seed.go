// Package seed creates demo payout requests for local development.
package seed

import (
	"fmt"
	"time"

	"finsys/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configures the demo data set.
type Options struct {
	// Requests is the number of requests to create, one user each.
	Requests int
	// MaxAmount bounds generated amounts (inclusive).
	MaxAmount int64
	// MaxDays spreads created_at over this many days in the past.
	MaxDays int
	// Seed makes the output reproducible when non-zero.
	Seed int64
}

var reasons = []string{
	"Tournament prize",
	"Event host payment",
	"Build commission",
	"Bug bounty",
	"Moderation stipend",
	"Giveaway winner",
}

// Seeder writes demo data through a gorm DB.
type Seeder struct {
	db    *gorm.DB
	faker *gofakeit.Faker
	opts  Options
}

// NewSeeder returns a Seeder with defaults filled in.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.Requests <= 0 {
		opts.Requests = 25
	}
	if opts.MaxAmount <= 0 {
		opts.MaxAmount = 100
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 14
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{db: db, faker: gofakeit.New(seed), opts: opts}
}

// Build returns requests without persisting them. Roughly a third are
// already settled; the rest are pending, one per user.
func (s *Seeder) Build() []models.PayoutRequest {
	out := make([]models.PayoutRequest, 0, s.opts.Requests)
	userIDs := make(map[int64]bool, s.opts.Requests)
	for len(out) < s.opts.Requests {
		userID := s.faker.Int64()%1_000_000_000 + 1
		if userID <= 0 || userIDs[userID] {
			continue
		}
		userIDs[userID] = true

		created := time.Now().Add(-time.Duration(s.faker.Number(0, s.opts.MaxDays*24*60)) * time.Minute)
		req := models.PayoutRequest{
			UserID:    userID,
			Amount:    int64(s.faker.Number(1, int(s.opts.MaxAmount))),
			Reason:    fmt.Sprintf("%s: %s", s.faker.RandomString(reasons), s.faker.HipsterSentence(4)),
			Status:    models.PayoutStatusPending,
			CreatedAt: created,
			UpdatedAt: created,
		}

		switch s.faker.Number(0, 2) {
		case 1:
			approver := int64(s.faker.Number(1, 1000))
			req.Status = models.PayoutStatusApproved
			req.ApproverID = &approver
		case 2:
			approver := int64(s.faker.Number(1, 1000))
			reason := s.faker.Sentence(6)
			req.Status = models.PayoutStatusRejected
			req.ApproverID = &approver
			req.RejectionReason = &reason
		}
		out = append(out, req)
	}
	return out
}

// Run inserts the demo requests in one batch.
func (s *Seeder) Run() ([]models.PayoutRequest, error) {
	reqs := s.Build()
	if err := s.db.CreateInBatches(&reqs, 100).Error; err != nil {
		return nil, fmt.Errorf("seed payout requests: %w", err)
	}
	return reqs, nil
}

// ClearAll removes every payout request. Development only.
func (s *Seeder) ClearAll() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.PayoutRequest{}).Error
}
