// Package service holds the payout request lifecycle.
package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"finsys/internal/featureflags"
	"finsys/internal/models"
	"finsys/internal/notifications"
	"finsys/internal/observability"
	"finsys/internal/payout"
	"finsys/internal/repository"
)

// Blacklist reports users who may never be paid.
type Blacklist interface {
	IsBlacklisted(userID int64) bool
}

// PermissionResolver resolves what a user may do.
type PermissionResolver interface {
	Resolve(ctx context.Context, userID int64) (models.Permissions, error)
}

// FlagSource evaluates feature flags.
type FlagSource interface {
	Enabled(name string, userID int64) bool
}

// Deps are the collaborators of a PayoutService. Notifier and Flags are optional.
type Deps struct {
	Repo          repository.PayoutRequestRepository
	Blacklist     Blacklist
	Authz         PermissionResolver
	Executor      payout.Executor
	Notifier      notifications.Notifier
	Flags         FlagSource
	MaxAmount     int64
	NotifyTimeout time.Duration
}

// PayoutService creates, lists and settles payout requests.
type PayoutService struct {
	repo          repository.PayoutRequestRepository
	blacklist     Blacklist
	authz         PermissionResolver
	executor      payout.Executor
	notifier      notifications.Notifier
	flags         FlagSource
	maxAmount     int64
	notifyTimeout time.Duration

	// dispatch runs post-commit side effects. Tests replace it to run inline.
	dispatch func(task func())
}

// NewPayoutService returns a new PayoutService.
func NewPayoutService(deps Deps) *PayoutService {
	if deps.NotifyTimeout <= 0 {
		deps.NotifyTimeout = 10 * time.Second
	}
	return &PayoutService{
		repo:          deps.Repo,
		blacklist:     deps.Blacklist,
		authz:         deps.Authz,
		executor:      deps.Executor,
		notifier:      deps.Notifier,
		flags:         deps.Flags,
		maxAmount:     deps.MaxAmount,
		notifyTimeout: deps.NotifyTimeout,
		dispatch:      goDetached,
	}
}

func goDetached(task func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				observability.GlobalLogger.Error("panic in detached task",
					"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			}
		}()
		task()
	}()
}

// CreateRequestInput is a new payout request.
type CreateRequestInput struct {
	UserID int64
	Amount int64
	Reason string
}

// CreateRequest files a pending request. Checks run in a fixed order:
// blacklist, existing pending request, amount cap.
func (s *PayoutService) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.PayoutRequest, error) {
	reason := strings.TrimSpace(in.Reason)
	switch {
	case in.UserID <= 0:
		return nil, models.NewValidationError("userId must be positive")
	case in.Amount <= 0:
		return nil, models.NewValidationError("amount must be positive")
	case reason == "":
		return nil, models.NewValidationError("reason is required")
	}

	if s.blacklist.IsBlacklisted(in.UserID) {
		return nil, models.NewBlacklistedError(in.UserID)
	}

	existing, err := s.repo.FindPendingByUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, models.NewDuplicatePendingError(in.UserID)
	}

	if in.Amount > s.maxAmount {
		return nil, models.NewAmountExceedsCapError(in.Amount, s.maxAmount)
	}

	req := &models.PayoutRequest{
		UserID: in.UserID,
		Amount: in.Amount,
		Reason: reason,
		Status: models.PayoutStatusPending,
	}
	// The pending index still guards a concurrent create that passed the check above.
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	return req, nil
}

// TransitionInput settles one request.
type TransitionInput struct {
	RequestID       uint
	Status          models.PayoutStatus
	RejectionReason *string
	ApproverID      *int64
}

// TransitionRequest moves a pending request to approved or rejected.
//
// Approval sends the payout first and records it only if the transfer
// succeeded; on any protocol error the request stays pending. The row is
// locked for the whole exchange, so a concurrent approval of the same request
// waits and then fails with AlreadyApproved.
func (s *PayoutService) TransitionRequest(ctx context.Context, in TransitionInput) (*models.PayoutRequest, error) {
	if in.Status != models.PayoutStatusApproved && in.Status != models.PayoutStatusRejected {
		return nil, models.NewValidationError("status must be approved or rejected")
	}

	var (
		sent      *payout.Receipt
		recipient int64
		amount    int64
	)
	// The store runs detached from ctx: once money has moved the commit must
	// still be attempted. ctx keeps governing the protocol.
	updated, err := s.repo.Transition(context.WithoutCancel(ctx), in.RequestID,
		func(_ context.Context, req *models.PayoutRequest) (*repository.StatusUpdate, error) {
			switch req.Status {
			case models.PayoutStatusApproved:
				return nil, models.NewAlreadyApprovedError(req.ID)
			case models.PayoutStatusRejected:
				return nil, models.NewRequestNotPendingError(req.ID, req.Status)
			}
			if s.blacklist.IsBlacklisted(req.UserID) {
				return nil, models.NewBlacklistedError(req.UserID)
			}

			update := &repository.StatusUpdate{Status: in.Status, ApproverID: in.ApproverID}
			if in.Status == models.PayoutStatusRejected {
				update.RejectionReason = in.RejectionReason
				return update, nil
			}

			if !s.payoutsEnabled() {
				return nil, models.NewPayoutsPausedError()
			}
			recipient, amount = req.UserID, req.Amount
			receipt, err := s.executor.Execute(ctx, req.UserID, req.Amount)
			if err != nil {
				return nil, err
			}
			sent = receipt
			return update, nil
		})
	if err != nil {
		if sent != nil {
			observability.UnreconciledPayouts.Inc()
			observability.LogReconciliationRequired(ctx, in.RequestID, recipient, amount, err)
			return nil, models.NewUnreconciledError(in.RequestID, err)
		}
		return nil, err
	}

	observability.RequestTransitions.WithLabelValues(string(updated.Status)).Inc()
	s.notify(ctx, updated)
	return updated, nil
}

func (s *PayoutService) payoutsEnabled() bool {
	if s.flags == nil {
		return true
	}
	return s.flags.Enabled(featureflags.PayoutExecution, 0)
}

// notify hands the committed change to the notifier on a detached task. The
// caller's result never depends on delivery.
func (s *PayoutService) notify(ctx context.Context, req *models.PayoutRequest) {
	if s.notifier == nil {
		return
	}
	change := models.StatusChange{
		RequestID:  req.ID,
		UserID:     req.UserID,
		Amount:     req.Amount,
		Status:     req.Status,
		OccurredAt: time.Now().UTC(),
	}
	if req.RejectionReason != nil {
		change.RejectionReason = *req.RejectionReason
	}

	detached := context.WithoutCancel(ctx)
	notifier, timeout := s.notifier, s.notifyTimeout
	s.dispatch(func() {
		nctx, cancel := context.WithTimeout(detached, timeout)
		defer cancel()

		fields := map[string]interface{}{"request_id": change.RequestID, "status": change.Status}
		observability.LogAsyncOperationStart(nctx, "notify_status_change", fields)
		if err := notifier.Notify(nctx, change); err != nil {
			observability.NotificationFailures.WithLabelValues(notifier.Name()).Inc()
			observability.LogAsyncOperationError(nctx, "notify_status_change", err, fields)
			return
		}
		observability.LogAsyncOperationEnd(nctx, "notify_status_change", fields)
	})
}

// ListInput selects a page of requests, optionally for one user.
type ListInput struct {
	UserID *int64
	Offset int
	Limit  int
}

// ListRequests returns one user's requests newest first, after checking they
// may view them, or all requests with pending ones first.
func (s *PayoutService) ListRequests(ctx context.Context, in ListInput) ([]models.PayoutRequest, error) {
	if in.UserID == nil {
		return s.repo.ListAll(ctx, in.Offset, in.Limit)
	}

	perms, err := s.authz.Resolve(ctx, *in.UserID)
	if err != nil {
		return nil, err
	}
	if !perms.CanView {
		return nil, models.NewForbiddenError("You must be a member of an approved group to view payout requests")
	}
	return s.repo.ListByUser(ctx, *in.UserID, in.Offset, in.Limit)
}

// ResolvePermissions returns what userID may do.
func (s *PayoutService) ResolvePermissions(ctx context.Context, userID int64) (models.Permissions, error) {
	if userID <= 0 {
		return models.NoPermissions, models.NewValidationError("userId must be positive")
	}
	return s.authz.Resolve(ctx, userID)
}
