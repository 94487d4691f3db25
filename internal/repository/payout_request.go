// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"finsys/internal/models"
	"finsys/internal/observability"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultListLimit applies when a caller passes no limit.
	DefaultListLimit = 50
	// MaxListLimit caps a single page.
	MaxListLimit = 100
)

// StatusUpdate is the change applied when a request leaves pending.
type StatusUpdate struct {
	Status          models.PayoutStatus
	RejectionReason *string
	ApproverID      *int64
}

// TransitionFunc decides, with the row locked, what update to apply. Returning
// an error aborts the transaction and leaves the row untouched.
type TransitionFunc func(ctx context.Context, req *models.PayoutRequest) (*StatusUpdate, error)

// PayoutRequestRepository defines the interface for payout request data operations
type PayoutRequestRepository interface {
	Create(ctx context.Context, req *models.PayoutRequest) error
	FindPendingByUser(ctx context.Context, userID int64) (*models.PayoutRequest, error)
	GetByID(ctx context.Context, id uint) (*models.PayoutRequest, error)
	UpdateStatus(ctx context.Context, id uint, update StatusUpdate) error
	Transition(ctx context.Context, id uint, fn TransitionFunc) (*models.PayoutRequest, error)
	ListAll(ctx context.Context, offset, limit int) ([]models.PayoutRequest, error)
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.PayoutRequest, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PayoutRequest, error)
}

// payoutRequestRepository implements PayoutRequestRepository
type payoutRequestRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPayoutRequestRepository creates a new payout request repository
func NewPayoutRequestRepository(db *gorm.DB) PayoutRequestRepository {
	return &payoutRequestRepository{
		db:  db,
		log: observability.NewRepoLogger(models.PayoutRequest{}.TableName()),
	}
}

func (r *payoutRequestRepository) Create(ctx context.Context, req *models.PayoutRequest) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Create", req.TableName())
	defer span.End()

	req.Status = models.PayoutStatusPending
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		if isUniqueViolation(err) {
			return models.NewDuplicatePendingError(req.UserID)
		}
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"request_id": req.ID,
		"user_id":    req.UserID,
		"amount":     req.Amount,
	})
	return nil
}

func (r *payoutRequestRepository) FindPendingByUser(ctx context.Context, userID int64) (*models.PayoutRequest, error) {
	var req models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.PayoutStatusPending).
		First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

func (r *payoutRequestRepository) GetByID(ctx context.Context, id uint) (*models.PayoutRequest, error) {
	var req models.PayoutRequest
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Payout request", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &req, nil
}

// UpdateStatus moves a pending request to update.Status. The WHERE clause
// carries the pending guard, so a concurrent writer cannot be overwritten.
func (r *payoutRequestRepository) UpdateStatus(ctx context.Context, id uint, update StatusUpdate) error {
	return r.updateStatus(ctx, r.db, id, update)
}

func (r *payoutRequestRepository) updateStatus(ctx context.Context, db *gorm.DB, id uint, update StatusUpdate) error {
	if update.Status == models.PayoutStatusPending || !update.Status.Valid() {
		return models.NewValidationError("status must be approved or rejected")
	}

	res := db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, models.PayoutStatusPending).
		Updates(map[string]interface{}{
			"status":              update.Status,
			"rejection_reason":    update.RejectionReason,
			"approved_by_user_id": update.ApproverID,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update_status")
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return r.notPendingError(ctx, db, id)
	}

	r.log.LogUpdate(ctx, map[string]interface{}{
		"request_id": id,
		"status":     update.Status,
	})
	return nil
}

// notPendingError explains why a guarded update touched no rows.
func (r *payoutRequestRepository) notPendingError(ctx context.Context, db *gorm.DB, id uint) error {
	var current models.PayoutRequest
	if err := db.WithContext(ctx).Select("id", "status").First(&current, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Payout request", id)
		}
		return models.NewInternalError(err)
	}
	if current.Status == models.PayoutStatusApproved {
		return models.NewAlreadyApprovedError(id)
	}
	return models.NewRequestNotPendingError(id, current.Status)
}

// Transition runs fn and the resulting guarded update in one transaction with
// the row locked (SELECT ... FOR UPDATE on PostgreSQL), so concurrent
// transitions of the same request run one after the other.
func (r *payoutRequestRepository) Transition(ctx context.Context, id uint, fn TransitionFunc) (*models.PayoutRequest, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Transition", models.PayoutRequest{}.TableName())
	defer span.End()

	var result models.PayoutRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var req models.PayoutRequest
		if err := q.First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("Payout request", id)
			}
			return models.NewInternalError(err)
		}

		update, err := fn(ctx, &req)
		if err != nil {
			return err
		}
		if update == nil {
			result = req
			return nil
		}

		if err := r.updateStatus(ctx, tx, id, *update); err != nil {
			return err
		}
		return tx.First(&result, id).Error
	})
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		// fn errors pass through untouched; only commit failures land here.
		r.log.LogError(ctx, err, "transition")
		return nil, models.NewInternalError(err)
	}
	return &result, nil
}

func (r *payoutRequestRepository) ListAll(ctx context.Context, offset, limit int) ([]models.PayoutRequest, error) {
	offset, limit = normalizePage(offset, limit)
	var reqs []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Order(clause.Expr{SQL: "CASE WHEN status = ? THEN 0 ELSE 1 END", Vars: []interface{}{models.PayoutStatusPending}}).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&reqs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return reqs, nil
}

func (r *payoutRequestRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]models.PayoutRequest, error) {
	offset, limit = normalizePage(offset, limit)
	var reqs []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&reqs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return reqs, nil
}

func (r *payoutRequestRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PayoutRequest, error) {
	_, limit = normalizePage(0, limit)
	var reqs []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PayoutStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&reqs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return reqs, nil
}

func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return offset, limit
}

// isUniqueViolation recognises the one-pending-per-user index firing, across
// the translated GORM error, raw pgx errors and SQLite.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
